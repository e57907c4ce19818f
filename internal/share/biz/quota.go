package biz

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AnonymousOwner buckets uploads that arrive without an owner identity
// so they still count against a shared quota.
const AnonymousOwner = "anonymous"

// OwnerUsage is the accounting row for one owner.
type OwnerUsage struct {
	OwnerID       string
	UsedBytes     int64
	ReservedBytes int64
	UpdatedAt     time.Time
}

// UsageRepo is the persistence contract for quota accounting. Every
// method serializes per owner so concurrent reservations can never
// jointly exceed the ceiling.
type UsageRepo interface {
	// Reserve holds size bytes against the ceiling or returns
	// ErrQuotaExceeded without changing anything.
	Reserve(ctx context.Context, ownerID string, size, ceiling int64) error
	// Commit converts a prior reservation into used bytes.
	Commit(ctx context.Context, ownerID string, size int64) error
	// CancelReservation drops a reservation after a failed upload.
	CancelReservation(ctx context.Context, ownerID string, size int64) error
	// Release returns used bytes after a share is deleted.
	Release(ctx context.Context, ownerID string, size int64) error
	UsageOf(ctx context.Context, ownerID string) (*OwnerUsage, error)
}

// QuotaAccountant enforces the per-owner storage ceiling.
type QuotaAccountant struct {
	repo    UsageRepo
	ceiling int64
	logger  *zap.Logger
}

func NewQuotaAccountant(repo UsageRepo, ceiling int64, logger *zap.Logger) *QuotaAccountant {
	return &QuotaAccountant{repo: repo, ceiling: ceiling, logger: logger}
}

// NormalizeOwner maps an empty identity to the anonymous bucket.
func NormalizeOwner(ownerID string) string {
	if ownerID == "" {
		return AnonymousOwner
	}
	return ownerID
}

// Ceiling returns the configured per-owner byte limit.
func (q *QuotaAccountant) Ceiling() int64 {
	return q.ceiling
}

func (q *QuotaAccountant) Reserve(ctx context.Context, ownerID string, size int64) error {
	return q.repo.Reserve(ctx, NormalizeOwner(ownerID), size, q.ceiling)
}

func (q *QuotaAccountant) Commit(ctx context.Context, ownerID string, size int64) error {
	return q.repo.Commit(ctx, NormalizeOwner(ownerID), size)
}

func (q *QuotaAccountant) CancelReservation(ctx context.Context, ownerID string, size int64) error {
	return q.repo.CancelReservation(ctx, NormalizeOwner(ownerID), size)
}

// Release is called on the reclamation path. Failures are logged and
// swallowed so a broken usage row cannot block byte reclamation;
// the reconcile tool repairs drift from raw ledger state.
func (q *QuotaAccountant) Release(ctx context.Context, ownerID string, size int64) {
	if err := q.repo.Release(ctx, NormalizeOwner(ownerID), size); err != nil {
		q.logger.Warn("quota release failed",
			zap.String("owner_id", ownerID),
			zap.Int64("size", size),
			zap.Error(err))
	}
}

func (q *QuotaAccountant) UsageOf(ctx context.Context, ownerID string) (*OwnerUsage, error) {
	return q.repo.UsageOf(ctx, NormalizeOwner(ownerID))
}
