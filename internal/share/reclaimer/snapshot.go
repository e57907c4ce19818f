package reclaimer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
)

const snapshotPrefix = "ledger-"

// Snapshotter periodically dumps the full ledger to a JSON file and
// prunes old dumps, keeping only the newest ones. Snapshots are for
// operator recovery; nothing reads them at runtime.
type Snapshotter struct {
	records  biz.RecordRepo
	fs       afero.Fs
	dir      string
	interval time.Duration
	keep     int
	logger   *zap.Logger

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

type snapshot struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Records     []*biz.Record `json:"records"`
}

func NewSnapshotter(records biz.RecordRepo, fs afero.Fs, dir string, interval time.Duration, keep int, logger *zap.Logger) *Snapshotter {
	if interval <= 0 {
		interval = time.Hour
	}
	if keep <= 0 {
		keep = 10
	}
	return &Snapshotter{
		records:  records,
		fs:       fs,
		dir:      dir,
		interval: interval,
		keep:     keep,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (s *Snapshotter) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Snapshot(context.Background()); err != nil {
					s.logger.Error("ledger snapshot failed", zap.Error(err))
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Snapshotter) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Snapshot writes one dump and prunes beyond the retention count.
func (s *Snapshotter) Snapshot(ctx context.Context) error {
	records, err := s.records.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}
	data, err := json.MarshalIndent(snapshot{GeneratedAt: time.Now().UTC(), Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	name := filepath.Join(s.dir, fmt.Sprintf("%s%s.json", snapshotPrefix, time.Now().UTC().Format("20060102T150405")))
	if err := afero.WriteFile(s.fs, name, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.logger.Info("ledger snapshot written",
		zap.String("file", name),
		zap.Int("records", len(records)))
	return s.prune()
}

// prune deletes the oldest snapshots beyond the retention count. File
// names embed a sortable timestamp, so lexical order is age order.
func (s *Snapshotter) prune() error {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return fmt.Errorf("read snapshot dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > len(snapshotPrefix) && e.Name()[:len(snapshotPrefix)] == snapshotPrefix {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.keep {
		return nil
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-s.keep] {
		if err := s.fs.Remove(filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn("snapshot prune failed", zap.String("file", name), zap.Error(err))
		}
	}
	return nil
}
