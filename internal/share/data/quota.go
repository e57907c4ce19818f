package data

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lk2023060901/fileshare-backend/internal/pkg/database"
	apperrors "github.com/lk2023060901/fileshare-backend/internal/pkg/errors"
	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
)

// OwnerUsagePO represents the database model
type OwnerUsagePO struct {
	OwnerID       string    `gorm:"size:64;primarykey"`
	UsedBytes     int64     `gorm:"not null;default:0"`
	ReservedBytes int64     `gorm:"not null;default:0"`
	UpdatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OwnerUsagePO) TableName() string {
	return "owner_usage"
}

func (po *OwnerUsagePO) toDomain() *biz.OwnerUsage {
	return &biz.OwnerUsage{
		OwnerID:       po.OwnerID,
		UsedBytes:     po.UsedBytes,
		ReservedBytes: po.ReservedBytes,
		UpdatedAt:     po.UpdatedAt,
	}
}

// UsageRepo implements biz.UsageRepo on PostgreSQL. Every mutation
// locks the owner's row, so concurrent reservations for one owner
// are applied one at a time against the ceiling.
type UsageRepo struct {
	db *database.DB
}

func NewUsageRepo(db *database.DB) biz.UsageRepo {
	return &UsageRepo{db: db}
}

// lockRow ensures the owner row exists and returns it locked for the
// remainder of the transaction.
func (r *UsageRepo) lockRow(tx *gorm.DB, ownerID string) (*OwnerUsagePO, error) {
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&OwnerUsagePO{OwnerID: ownerID, UpdatedAt: time.Now()}).Error
	if err != nil && !database.IsDuplicateKeyError(err) {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "init owner usage row")
	}
	var po OwnerUsagePO
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ?", ownerID).
		First(&po).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "lock owner usage row")
	}
	return &po, nil
}

func (r *UsageRepo) Reserve(ctx context.Context, ownerID string, size, ceiling int64) error {
	return r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		po, err := r.lockRow(tx, ownerID)
		if err != nil {
			return err
		}
		if ceiling > 0 && po.UsedBytes+po.ReservedBytes+size > ceiling {
			return apperrors.New(apperrors.ErrShareQuotaExceeded,
				fmt.Sprintf("%d of %d bytes in use", po.UsedBytes+po.ReservedBytes, ceiling))
		}
		po.ReservedBytes += size
		po.UpdatedAt = time.Now()
		return tx.Save(po).Error
	})
}

func (r *UsageRepo) Commit(ctx context.Context, ownerID string, size int64) error {
	return r.adjust(ctx, ownerID, size, -size)
}

func (r *UsageRepo) CancelReservation(ctx context.Context, ownerID string, size int64) error {
	return r.adjust(ctx, ownerID, 0, -size)
}

func (r *UsageRepo) Release(ctx context.Context, ownerID string, size int64) error {
	return r.adjust(ctx, ownerID, -size, 0)
}

// adjust applies deltas to the owner row, clamping at zero so repair
// runs and duplicate releases cannot drive the counters negative.
func (r *UsageRepo) adjust(ctx context.Context, ownerID string, usedDelta, reservedDelta int64) error {
	return r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		po, err := r.lockRow(tx, ownerID)
		if err != nil {
			return err
		}
		po.UsedBytes += usedDelta
		if po.UsedBytes < 0 {
			po.UsedBytes = 0
		}
		po.ReservedBytes += reservedDelta
		if po.ReservedBytes < 0 {
			po.ReservedBytes = 0
		}
		po.UpdatedAt = time.Now()
		return tx.Save(po).Error
	})
}

func (r *UsageRepo) UsageOf(ctx context.Context, ownerID string) (*biz.OwnerUsage, error) {
	var po OwnerUsagePO
	err := r.db.GetDB().WithContext(ctx).
		Where("owner_id = ?", ownerID).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return &biz.OwnerUsage{OwnerID: ownerID}, nil
		}
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "load owner usage")
	}
	return po.toDomain(), nil
}
