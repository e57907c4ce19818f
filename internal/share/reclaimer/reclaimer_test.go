package reclaimer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
)

// ledgerStub is the minimal in-memory biz.RecordRepo the sweep needs.
type ledgerStub struct {
	mu      sync.Mutex
	records map[string]*biz.Record
}

func newLedgerStub() *ledgerStub {
	return &ledgerStub{records: make(map[string]*biz.Record)}
}

func (s *ledgerStub) put(r *biz.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Code] = r
}

func (s *ledgerStub) Create(ctx context.Context, r *biz.Record) error { s.put(r); return nil }

func (s *ledgerStub) GetByCode(ctx context.Context, code string) (*biz.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[code]
	if !ok || r.Status == biz.StatusDeleted {
		return nil, biz.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *ledgerStub) ListByOwner(ctx context.Context, ownerID string) ([]*biz.Record, error) {
	return nil, nil
}

func (s *ledgerStub) ListAll(ctx context.Context) ([]*biz.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*biz.Record
	for _, r := range s.records {
		if r.Status != biz.StatusDeleted {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *ledgerStub) ListReclaimable(ctx context.Context, now time.Time, grace time.Duration) ([]*biz.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-grace)
	var out []*biz.Record
	for _, r := range s.records {
		expired := r.ExpiresAt != nil && !r.ExpiresAt.After(cutoff)
		exhausted := r.ExhaustedAt != nil && !r.ExhaustedAt.After(cutoff)
		if r.Status == biz.StatusDeleted || expired || exhausted {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *ledgerStub) Mutate(ctx context.Context, code string, fn func(*biz.Record) error) (*biz.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[code]
	if !ok {
		return nil, biz.ErrNotFound
	}
	working := *r
	if err := fn(&working); err != nil {
		return nil, err
	}
	s.records[code] = &working
	c := working
	return &c, nil
}

func (s *ledgerStub) Remove(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[code]
	delete(s.records, code)
	return ok, nil
}

func (s *ledgerStub) Stats(ctx context.Context) (*biz.LedgerStats, error) {
	return &biz.LedgerStats{}, nil
}

func (s *ledgerStub) Search(ctx context.Context, ownerID, query string, page, pageSize int) ([]*biz.Record, int64, error) {
	return nil, 0, nil
}

// storeStub counts deletions so tests can assert idempotence.
type storeStub struct {
	mu      sync.Mutex
	objects map[string]bool
}

func newStoreStub() *storeStub {
	return &storeStub{objects: make(map[string]bool)}
}

func (s *storeStub) Write(ctx context.Context, key string, r io.Reader, contentType string, limit int64) (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = true
	return 0, "", nil
}

func (s *storeStub) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (s *storeStub) Stat(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.objects[key] {
		return 0, fmt.Errorf("object %s not found", key)
	}
	return 1, nil
}

func (s *storeStub) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.objects, key)
	}
	return nil
}

func (s *storeStub) ListKeys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.objects {
		keys = append(keys, key)
	}
	return keys, nil
}

// usageStub records releases for assertions.
type usageStub struct {
	mu       sync.Mutex
	released map[string]int64
	calls    int
}

func newUsageStub() *usageStub {
	return &usageStub{released: make(map[string]int64)}
}

func (u *usageStub) Reserve(ctx context.Context, ownerID string, size, ceiling int64) error {
	return nil
}
func (u *usageStub) Commit(ctx context.Context, ownerID string, size int64) error { return nil }
func (u *usageStub) CancelReservation(ctx context.Context, ownerID string, size int64) error {
	return nil
}

func (u *usageStub) Release(ctx context.Context, ownerID string, size int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.released[ownerID] += size
	u.calls++
	return nil
}

func (u *usageStub) UsageOf(ctx context.Context, ownerID string) (*biz.OwnerUsage, error) {
	return &biz.OwnerUsage{OwnerID: ownerID}, nil
}

type reclaimEnv struct {
	ledger *ledgerStub
	store  *storeStub
	usage  *usageStub
	r      *Reclaimer
}

func newReclaimEnv(t *testing.T, grace time.Duration) *reclaimEnv {
	t.Helper()
	env := &reclaimEnv{
		ledger: newLedgerStub(),
		store:  newStoreStub(),
		usage:  newUsageStub(),
	}
	quota := biz.NewQuotaAccountant(env.usage, 0, zap.NewNop())
	env.r = New(env.ledger, env.store, quota, nil, time.Hour, grace, zap.NewNop())
	return env
}

func (e *reclaimEnv) addExpired(code, owner string, age time.Duration) {
	expires := time.Now().Add(-age)
	e.store.objects["blobs/"+code] = true
	e.ledger.put(&biz.Record{
		Code:      code,
		OwnerID:   owner,
		Blobs:     []biz.Blob{{Key: "blobs/" + code}},
		TotalSize: 100,
		Status:    biz.StatusActive,
		ExpiresAt: &expires,
	})
}

func TestSweepRemovesExpiredPastGrace(t *testing.T) {
	env := newReclaimEnv(t, time.Minute)
	env.addExpired("OLDSHARE", "alice", time.Hour)

	removed := env.r.Sweep(context.Background())
	assert.Equal(t, 1, removed)

	_, err := env.ledger.GetByCode(context.Background(), "OLDSHARE")
	assert.ErrorIs(t, err, biz.ErrNotFound)
	keys, _ := env.store.ListKeys(context.Background())
	assert.Empty(t, keys)
	assert.Equal(t, int64(100), env.usage.released["alice"])
}

func TestSweepHonorsGraceWindow(t *testing.T) {
	env := newReclaimEnv(t, time.Hour)
	// Expired ten seconds ago: terminal but inside the grace window.
	env.addExpired("FRESHEXP", "alice", 10*time.Second)

	removed := env.r.Sweep(context.Background())
	assert.Zero(t, removed)

	record, err := env.ledger.GetByCode(context.Background(), "FRESHEXP")
	require.NoError(t, err)
	assert.Equal(t, biz.StatusActive, record.Status)
}

func TestSweepRemovesExhaustedPastGrace(t *testing.T) {
	env := newReclaimEnv(t, time.Minute)
	exhausted := time.Now().Add(-time.Hour)
	max := int64(1)
	env.store.objects["blobs/USED"] = true
	env.ledger.put(&biz.Record{
		Code:          "USEDCODE",
		OwnerID:       "bob",
		Blobs:         []biz.Blob{{Key: "blobs/USED"}},
		TotalSize:     42,
		Status:        biz.StatusExhausted,
		MaxDownloads:  &max,
		DownloadCount: 1,
		ExhaustedAt:   &exhausted,
	})

	removed := env.r.Sweep(context.Background())
	assert.Equal(t, 1, removed)
	assert.Equal(t, int64(42), env.usage.released["bob"])
}

func TestOverlappingSweepsReleaseQuotaOnce(t *testing.T) {
	env := newReclaimEnv(t, time.Minute)
	env.addExpired("RACECODE", "alice", time.Hour)

	var wg sync.WaitGroup
	total := 0
	var mu sync.Mutex
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := env.r.Sweep(context.Background())
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, total)
	assert.Equal(t, 1, env.usage.calls)
	assert.Equal(t, int64(100), env.usage.released["alice"])
}

func TestSweepFinishesInterruptedReclaim(t *testing.T) {
	env := newReclaimEnv(t, time.Minute)
	// A tombstone left behind by a crash after marking but before the
	// row removal.
	env.store.objects["blobs/HALF"] = true
	env.ledger.put(&biz.Record{
		Code:      "HALFDONE",
		OwnerID:   "carol",
		Blobs:     []biz.Blob{{Key: "blobs/HALF"}},
		TotalSize: 7,
		Status:    biz.StatusDeleted,
	})

	removed := env.r.Sweep(context.Background())
	assert.Equal(t, 1, removed)
	keys, _ := env.store.ListKeys(context.Background())
	assert.Empty(t, keys)
	assert.Equal(t, int64(7), env.usage.released["carol"])
}

func TestSweepSkipsRevivedShare(t *testing.T) {
	env := newReclaimEnv(t, time.Minute)
	env.addExpired("REVIVED1", "alice", time.Hour)

	// The owner extends the share before the sweep reaches it.
	future := time.Now().Add(time.Hour)
	_, err := env.ledger.Mutate(context.Background(), "REVIVED1", func(r *biz.Record) error {
		r.ExpiresAt = &future
		return nil
	})
	require.NoError(t, err)

	removed := env.r.Sweep(context.Background())
	assert.Zero(t, removed)
	_, err = env.ledger.GetByCode(context.Background(), "REVIVED1")
	assert.NoError(t, err)
}
