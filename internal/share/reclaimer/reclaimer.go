package reclaimer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/lk2023060901/fileshare-backend/internal/pkg/errors"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/workerpool"
	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
)

// Reclaimer periodically removes shares that have been expired or
// exhausted for longer than the grace window. The grace keeps the
// serve-then-delete promise: a download that exhausts a share is
// never raced by the sweep that removes it.
type Reclaimer struct {
	records  biz.RecordRepo
	store    biz.ArtifactStore
	quota    *biz.QuotaAccountant
	pool     *workerpool.Pool
	logger   *zap.Logger
	interval time.Duration
	grace    time.Duration

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

func New(records biz.RecordRepo, store biz.ArtifactStore, quota *biz.QuotaAccountant, pool *workerpool.Pool, interval, grace time.Duration, logger *zap.Logger) *Reclaimer {
	if interval <= 0 {
		interval = time.Hour
	}
	if grace <= 0 {
		grace = interval
	}
	return &Reclaimer{
		records:  records,
		store:    store,
		quota:    quota,
		pool:     pool,
		logger:   logger,
		interval: interval,
		grace:    grace,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. One pass runs immediately so a
// restart does not postpone overdue reclamation by a full interval.
func (r *Reclaimer) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Info("reclaimer started",
			zap.Duration("interval", r.interval),
			zap.Duration("grace", r.grace))
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		r.Sweep(context.Background())
		for {
			select {
			case <-ticker.C:
				r.Sweep(context.Background())
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for in-flight reclamations.
func (r *Reclaimer) Stop() {
	r.stopped.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Sweep runs a single reclamation pass and returns how many records
// were fully removed.
func (r *Reclaimer) Sweep(ctx context.Context) int {
	candidates, err := r.records.ListReclaimable(ctx, time.Now(), r.grace)
	if err != nil {
		r.logger.Error("reclaim listing failed", zap.Error(err))
		return 0
	}
	if len(candidates) == 0 {
		return 0
	}

	var (
		mu      sync.Mutex
		removed int
		wg      sync.WaitGroup
	)
	for _, record := range candidates {
		record := record
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if r.reclaimOne(ctx, record.Code) {
				mu.Lock()
				removed++
				mu.Unlock()
			}
		}
		if r.pool == nil || r.pool.Submit(task) != nil {
			task()
		}
	}
	wg.Wait()
	if removed > 0 {
		r.logger.Info("reclaim pass finished",
			zap.Int("candidates", len(candidates)),
			zap.Int("removed", removed))
	}
	return removed
}

// reclaimOne tears down a single share. The tombstone mutation runs
// under the ledger's per-record exclusivity, so overlapping sweep
// passes converge: blob deletion is idempotent, the row removal
// reports a winner, and only the winner releases the quota.
func (r *Reclaimer) reclaimOne(ctx context.Context, code string) bool {
	record, err := r.records.Mutate(ctx, code, func(rec *biz.Record) error {
		if rec.Status != biz.StatusDeleted && rec.StatusAt(time.Now().Add(-r.grace)) == biz.StatusActive {
			// Still inside the grace window, or revived via setexpiry.
			return biz.ErrConflict
		}
		rec.Status = biz.StatusDeleted
		return nil
	})
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrShareNotFound) && !apperrors.Is(err, apperrors.ErrShareConflict) {
			r.logger.Error("reclaim tombstone failed", zap.String("code", code), zap.Error(err))
		}
		return false
	}

	if err := r.store.Delete(ctx, record.BlobKeys()...); err != nil {
		// Leave the tombstone in place; the next pass retries the bytes.
		r.logger.Error("reclaim blob delete failed", zap.String("code", code), zap.Error(err))
		return false
	}
	removed, err := r.records.Remove(ctx, code)
	if err != nil {
		r.logger.Error("reclaim record delete failed", zap.String("code", code), zap.Error(err))
		return false
	}
	if !removed {
		return false
	}
	r.quota.Release(ctx, record.OwnerID, record.TotalSize)
	r.logger.Info("share reclaimed",
		zap.String("code", code),
		zap.String("owner_id", record.OwnerID),
		zap.Int64("bytes", record.TotalSize))
	return true
}
