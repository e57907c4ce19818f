package biz

import (
	"context"
	"time"
)

// Record lifecycle states. Status is a cached view derived from the
// timestamps and counters on the record; StatusAt is the source of
// truth and must be consulted before acting on a record.
const (
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusExhausted = "exhausted"
	StatusDeleted   = "deleted"
)

// Blob describes one stored file inside a share.
type Blob struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	FileName    string `json:"file_name"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"content_type"`
}

// Record is the ledger entry for one share, addressed by its code.
type Record struct {
	Code          string
	OwnerID       string
	Description   string
	Blobs         []Blob
	TotalSize     int64
	PasswordHash  string // bcrypt hash, empty when the share is open
	MaxDownloads  *int64 // nil means unlimited
	DownloadCount int64
	Status        string
	CreatedAt     time.Time
	ExpiresAt     *time.Time // nil means the share never expires
	ExhaustedAt   *time.Time
	UpdatedAt     time.Time
}

// StatusAt recomputes the record state at the given instant.
// Expiry takes precedence over exhaustion.
func (r *Record) StatusAt(now time.Time) string {
	if r.Status == StatusDeleted {
		return StatusDeleted
	}
	if r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
		return StatusExpired
	}
	if r.MaxDownloads != nil && r.DownloadCount >= *r.MaxDownloads {
		return StatusExhausted
	}
	return StatusActive
}

// Remaining reports how many downloads are left, or nil for unlimited.
func (r *Record) Remaining() *int64 {
	if r.MaxDownloads == nil {
		return nil
	}
	n := *r.MaxDownloads - r.DownloadCount
	if n < 0 {
		n = 0
	}
	return &n
}

// HasPassword reports whether access requires a password.
func (r *Record) HasPassword() bool {
	return r.PasswordHash != ""
}

// BlobKeys returns the storage keys of every blob in the record.
func (r *Record) BlobKeys() []string {
	keys := make([]string, 0, len(r.Blobs))
	for _, b := range r.Blobs {
		keys = append(keys, b.Key)
	}
	return keys
}

// LedgerStats aggregates live ledger state plus lifetime counters.
type LedgerStats struct {
	LiveShares     int64
	LiveBytes      int64
	LiveDownloads  int64
	TotalUploads   int64
	TotalDownloads int64
}

// RecordRepo is the persistence contract for the share ledger.
type RecordRepo interface {
	Create(ctx context.Context, record *Record) error
	// GetByCode returns ErrNotFound for unknown or tombstoned codes.
	GetByCode(ctx context.Context, code string) (*Record, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Record, error)
	ListAll(ctx context.Context) ([]*Record, error)
	// Search matches query as a substring of file names or descriptions,
	// newest first. Empty ownerID searches every owner; total counts all
	// matches beyond the returned page.
	Search(ctx context.Context, ownerID, query string, page, pageSize int) ([]*Record, int64, error)
	// ListReclaimable returns records whose terminal state is older than
	// the grace window, plus tombstones left by an interrupted reclaim.
	ListReclaimable(ctx context.Context, now time.Time, grace time.Duration) ([]*Record, error)
	// Mutate loads the record under exclusive ownership, applies fn and
	// persists the result. When fn returns an error nothing is written.
	// No two mutations of the same code ever interleave.
	Mutate(ctx context.Context, code string, fn func(*Record) error) (*Record, error)
	// Remove hard-deletes the row and reports whether it existed. At most
	// one caller observes true for a given code.
	Remove(ctx context.Context, code string) (bool, error)
	Stats(ctx context.Context) (*LedgerStats, error)
}
