package biz

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// memRecordRepo is an in-memory RecordRepo. A single mutex serializes
// every mutation, which satisfies the per-record exclusivity contract.
type memRecordRepo struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{records: make(map[string]*Record)}
}

func cloneRecord(r *Record) *Record {
	c := *r
	c.Blobs = append([]Blob(nil), r.Blobs...)
	if r.MaxDownloads != nil {
		v := *r.MaxDownloads
		c.MaxDownloads = &v
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	if r.ExhaustedAt != nil {
		t := *r.ExhaustedAt
		c.ExhaustedAt = &t
	}
	return &c
}

func (m *memRecordRepo) Create(ctx context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.Code]; ok {
		return ErrConflict
	}
	m.records[record.Code] = cloneRecord(record)
	return nil
}

func (m *memRecordRepo) GetByCode(ctx context.Context, code string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[code]
	if !ok || r.Status == StatusDeleted {
		return nil, ErrNotFound
	}
	return cloneRecord(r), nil
}

func (m *memRecordRepo) ListByOwner(ctx context.Context, ownerID string) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.records {
		if r.OwnerID == ownerID && r.Status != StatusDeleted {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func (m *memRecordRepo) ListAll(ctx context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.records {
		if r.Status != StatusDeleted {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func (m *memRecordRepo) Search(ctx context.Context, ownerID, query string, page, pageSize int) ([]*Record, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	needle := strings.ToLower(query)
	matches := func(r *Record) bool {
		if strings.Contains(strings.ToLower(r.Description), needle) {
			return true
		}
		for _, b := range r.Blobs {
			if strings.Contains(strings.ToLower(b.FileName), needle) {
				return true
			}
		}
		return false
	}
	var out []*Record
	for _, r := range m.records {
		if r.Status == StatusDeleted {
			continue
		}
		if ownerID != "" && r.OwnerID != ownerID {
			continue
		}
		if matches(r) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	start := (page - 1) * pageSize
	if start >= len(out) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (m *memRecordRepo) ListReclaimable(ctx context.Context, now time.Time, grace time.Duration) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-grace)
	var out []*Record
	for _, r := range m.records {
		switch {
		case r.Status == StatusDeleted:
			out = append(out, cloneRecord(r))
		case r.ExpiresAt != nil && !r.ExpiresAt.After(cutoff):
			out = append(out, cloneRecord(r))
		case r.ExhaustedAt != nil && !r.ExhaustedAt.After(cutoff):
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func (m *memRecordRepo) Mutate(ctx context.Context, code string, fn func(*Record) error) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[code]
	if !ok {
		return nil, ErrNotFound
	}
	working := cloneRecord(r)
	if err := fn(working); err != nil {
		return nil, err
	}
	m.records[code] = working
	return cloneRecord(working), nil
}

func (m *memRecordRepo) Remove(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[code]
	delete(m.records, code)
	return ok, nil
}

func (m *memRecordRepo) Stats(ctx context.Context) (*LedgerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &LedgerStats{}
	for _, r := range m.records {
		if r.Status == StatusDeleted {
			continue
		}
		stats.LiveShares++
		stats.LiveBytes += r.TotalSize
		stats.LiveDownloads += r.DownloadCount
	}
	return stats, nil
}

// memUsageRepo is an in-memory UsageRepo with per-call locking.
type memUsageRepo struct {
	mu    sync.Mutex
	usage map[string]*OwnerUsage
}

func newMemUsageRepo() *memUsageRepo {
	return &memUsageRepo{usage: make(map[string]*OwnerUsage)}
}

func (m *memUsageRepo) row(ownerID string) *OwnerUsage {
	u, ok := m.usage[ownerID]
	if !ok {
		u = &OwnerUsage{OwnerID: ownerID}
		m.usage[ownerID] = u
	}
	return u
}

func (m *memUsageRepo) Reserve(ctx context.Context, ownerID string, size, ceiling int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.row(ownerID)
	if ceiling > 0 && u.UsedBytes+u.ReservedBytes+size > ceiling {
		return ErrQuotaExceeded
	}
	u.ReservedBytes += size
	return nil
}

func (m *memUsageRepo) Commit(ctx context.Context, ownerID string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.row(ownerID)
	u.ReservedBytes -= size
	if u.ReservedBytes < 0 {
		u.ReservedBytes = 0
	}
	u.UsedBytes += size
	return nil
}

func (m *memUsageRepo) CancelReservation(ctx context.Context, ownerID string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.row(ownerID)
	u.ReservedBytes -= size
	if u.ReservedBytes < 0 {
		u.ReservedBytes = 0
	}
	return nil
}

func (m *memUsageRepo) Release(ctx context.Context, ownerID string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.row(ownerID)
	u.UsedBytes -= size
	if u.UsedBytes < 0 {
		u.UsedBytes = 0
	}
	return nil
}

func (m *memUsageRepo) UsageOf(ctx context.Context, ownerID string) (*OwnerUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := *m.row(ownerID)
	return &u, nil
}

// memStore is an in-memory ArtifactStore.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Write(ctx context.Context, key string, r io.Reader, contentType string, limit int64) (int64, string, error) {
	var buf bytes.Buffer
	var n int64
	var err error
	if limit > 0 {
		n, err = io.Copy(&buf, io.LimitReader(r, limit+1))
		if err == nil && n > limit {
			return 0, "", ErrTooLarge
		}
	} else {
		n, err = io.Copy(&buf, r)
	}
	if err != nil {
		return 0, "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	m.mu.Lock()
	m.objects[key] = buf.Bytes()
	m.mu.Unlock()
	return n, hex.EncodeToString(sum[:]), nil
}

func (m *memStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Stat(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return 0, fmt.Errorf("object %s not found", key)
	}
	return int64(len(data)), nil
}

func (m *memStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, key)
	}
	return nil
}

func (m *memStore) ListKeys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	return keys, nil
}
