package data

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lk2023060901/fileshare-backend/internal/pkg/database"
	apperrors "github.com/lk2023060901/fileshare-backend/internal/pkg/errors"
	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
)

// BlobsJSON stores the blob manifest as a JSONB column so the ledger
// stays a single table keyed by code.
type BlobsJSON []biz.Blob

func (j *BlobsJSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j BlobsJSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// RecordPO represents the database model
type RecordPO struct {
	Code        string    `gorm:"size:16;primarykey"`
	OwnerID     string    `gorm:"size:64;not null;index:idx_records_owner"`
	Description string    `gorm:"size:500"`
	Blobs       BlobsJSON `gorm:"type:jsonb;not null"`
	TotalSize   int64     `gorm:"not null"`

	PasswordHash  string `gorm:"size:255"`
	MaxDownloads  *int64
	DownloadCount int64  `gorm:"not null;default:0"`
	Status        string `gorm:"size:16;not null;default:'active';index:idx_records_status"`

	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ExpiresAt   *time.Time
	ExhaustedAt *time.Time
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (RecordPO) TableName() string {
	return "share_records"
}

func (po *RecordPO) toDomain() *biz.Record {
	return &biz.Record{
		Code:          po.Code,
		OwnerID:       po.OwnerID,
		Description:   po.Description,
		Blobs:         po.Blobs,
		TotalSize:     po.TotalSize,
		PasswordHash:  po.PasswordHash,
		MaxDownloads:  po.MaxDownloads,
		DownloadCount: po.DownloadCount,
		Status:        po.Status,
		CreatedAt:     po.CreatedAt,
		ExpiresAt:     po.ExpiresAt,
		ExhaustedAt:   po.ExhaustedAt,
		UpdatedAt:     po.UpdatedAt,
	}
}

func recordToPO(r *biz.Record) *RecordPO {
	return &RecordPO{
		Code:          r.Code,
		OwnerID:       r.OwnerID,
		Description:   r.Description,
		Blobs:         r.Blobs,
		TotalSize:     r.TotalSize,
		PasswordHash:  r.PasswordHash,
		MaxDownloads:  r.MaxDownloads,
		DownloadCount: r.DownloadCount,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
		ExhaustedAt:   r.ExhaustedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// likeEscaper neutralizes LIKE metacharacters so the search query is
// always a literal substring.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// RecordRepo implements biz.RecordRepo on PostgreSQL.
type RecordRepo struct {
	db *database.DB
}

func NewRecordRepo(db *database.DB) biz.RecordRepo {
	return &RecordRepo{db: db}
}

func (r *RecordRepo) Create(ctx context.Context, record *biz.Record) error {
	err := r.db.GetDB().WithContext(ctx).Create(recordToPO(record)).Error
	if err != nil {
		if database.IsDuplicateKeyError(err) {
			return apperrors.Wrap(err, apperrors.ErrShareConflict, "share code already exists")
		}
		return apperrors.Wrap(err, apperrors.ErrInternalServer, "create share record")
	}
	return nil
}

func (r *RecordRepo) GetByCode(ctx context.Context, code string) (*biz.Record, error) {
	var po RecordPO
	err := r.db.GetDB().WithContext(ctx).
		Where("code = ? AND status <> ?", code, biz.StatusDeleted).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrNotFound
		}
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "load share record")
	}
	return po.toDomain(), nil
}

func (r *RecordRepo) ListByOwner(ctx context.Context, ownerID string) ([]*biz.Record, error) {
	var pos []RecordPO
	err := r.db.GetDB().WithContext(ctx).
		Where("owner_id = ? AND status <> ?", ownerID, biz.StatusDeleted).
		Order("created_at DESC").
		Find(&pos).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "list shares by owner")
	}
	return toDomainList(pos), nil
}

func (r *RecordRepo) ListAll(ctx context.Context) ([]*biz.Record, error) {
	var pos []RecordPO
	err := r.db.GetDB().WithContext(ctx).
		Where("status <> ?", biz.StatusDeleted).
		Order("created_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "list share records")
	}
	return toDomainList(pos), nil
}

// Search matches the query as a substring of any file name or the
// description, newest first. An empty ownerID searches every owner.
func (r *RecordRepo) Search(ctx context.Context, ownerID, query string, page, pageSize int) ([]*biz.Record, int64, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	q := r.db.GetDB().
		Model(&RecordPO{}).
		Scopes(
			database.WhereIf(ownerID != "", "owner_id = ?", ownerID),
			database.OrderBy("created_at", true),
		).
		Where("status <> ?", biz.StatusDeleted).
		Where("description ILIKE ? OR EXISTS (SELECT 1 FROM jsonb_array_elements(blobs) AS b WHERE b->>'file_name' ILIKE ?)", pattern, pattern)

	var pos []RecordPO
	result, err := database.FindWithPagination(ctx, q, &pos, page, pageSize)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrInternalServer, "search share records")
	}
	return toDomainList(pos), result.Total, nil
}

// ListReclaimable returns records whose terminal state is older than
// the grace window, plus tombstones from interrupted reclaims.
func (r *RecordRepo) ListReclaimable(ctx context.Context, now time.Time, grace time.Duration) ([]*biz.Record, error) {
	cutoff := now.Add(-grace)
	var pos []RecordPO
	err := r.db.GetDB().WithContext(ctx).
		Where("status = ?", biz.StatusDeleted).
		Or("expires_at IS NOT NULL AND expires_at <= ?", cutoff).
		Or("exhausted_at IS NOT NULL AND exhausted_at <= ?", cutoff).
		Find(&pos).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "list reclaimable records")
	}
	return toDomainList(pos), nil
}

// mutateRetries bounds how often a mutation is replayed after a
// serialization failure or deadlock.
const mutateRetries = 3

// Mutate serializes all writers of one code on its row lock. The
// closure sees the committed state and either its whole result is
// written or, when it errors, nothing is. Serialization conflicts
// replay the whole closure against fresh state.
func (r *RecordRepo) Mutate(ctx context.Context, code string, fn func(*biz.Record) error) (*biz.Record, error) {
	var result *biz.Record
	err := r.db.TransactionWithRetry(ctx, mutateRetries, func(ctx context.Context, tx *gorm.DB) error {
		var po RecordPO
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ?", code).
			First(&po).Error
		if err != nil {
			if database.IsRecordNotFoundError(err) {
				return biz.ErrNotFound
			}
			return apperrors.Wrap(err, apperrors.ErrInternalServer, "lock share record")
		}
		record := po.toDomain()
		if err := fn(record); err != nil {
			return err
		}
		if err := tx.Save(recordToPO(record)).Error; err != nil {
			return apperrors.Wrap(err, apperrors.ErrInternalServer, "save share record")
		}
		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *RecordRepo) Remove(ctx context.Context, code string) (bool, error) {
	res := r.db.GetDB().WithContext(ctx).
		Where("code = ?", code).
		Delete(&RecordPO{})
	if res.Error != nil {
		return false, apperrors.Wrap(res.Error, apperrors.ErrInternalServer, "delete share record")
	}
	return res.RowsAffected > 0, nil
}

func (r *RecordRepo) Stats(ctx context.Context) (*biz.LedgerStats, error) {
	var row struct {
		Shares    int64
		Bytes     int64
		Downloads int64
	}
	err := r.db.GetDB().WithContext(ctx).
		Model(&RecordPO{}).
		Select("COUNT(*) AS shares, COALESCE(SUM(total_size), 0) AS bytes, COALESCE(SUM(download_count), 0) AS downloads").
		Where("status <> ?", biz.StatusDeleted).
		Scan(&row).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternalServer, "aggregate ledger stats")
	}
	return &biz.LedgerStats{
		LiveShares:    row.Shares,
		LiveBytes:     row.Bytes,
		LiveDownloads: row.Downloads,
	}, nil
}

func toDomainList(pos []RecordPO) []*biz.Record {
	records := make([]*biz.Record, 0, len(pos))
	for i := range pos {
		records = append(records, pos[i].toDomain())
	}
	return records
}
