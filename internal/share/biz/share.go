package biz

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/lk2023060901/fileshare-backend/internal/pkg/errors"
)

// Lifetime counter names tracked alongside the ledger.
const (
	CounterUploads   = "uploads"
	CounterDownloads = "downloads"
)

// StatCounter tracks monotonic lifetime counters that survive record
// deletion, which aggregate queries over live rows cannot provide.
type StatCounter interface {
	Incr(ctx context.Context, name string, delta int64) error
	Value(ctx context.Context, name string) (int64, error)
}

// Limits bounds what a single submission may contain.
type Limits struct {
	MaxFileSize   int64
	MaxBundleSize int64
	// AllowedTypes is a lowercase extension whitelist without dots.
	// Empty means every type is accepted.
	AllowedTypes        []string
	DefaultTTL          time.Duration
	DefaultMaxDownloads int64 // 0 means unlimited
	CodeLength          int
}

// Upload is one incoming file. Size must be declared up front so the
// quota can be reserved before any bytes are accepted; the store
// enforces it as a hard ceiling during the write.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// SubmitOptions carries the per-share knobs of a submission.
type SubmitOptions struct {
	Description  string
	Password     string
	TTL          *time.Duration // nil applies the default, 0 disables expiry
	MaxDownloads *int64         // nil applies the default, 0 means unlimited
	OneTime      bool
}

// Actor identifies who is performing a management operation.
type Actor struct {
	ID    string
	Admin bool
}

// AccessGrant is a successful download: an open payload stream plus
// the metadata needed to serve it. The ledger state was committed
// before the stream was opened, so an interrupted transfer still
// counts as a download.
type AccessGrant struct {
	Record      *Record
	Content     io.ReadCloser
	FileName    string
	ContentType string
	Size        int64 // -1 when streaming an archive of unknown length
	Exhausted   bool
}

// ShareUseCase implements the share lifecycle on top of the ledger,
// the artifact store and the quota accountant.
type ShareUseCase struct {
	records  RecordRepo
	store    ArtifactStore
	quota    *QuotaAccountant
	counters StatCounter
	limits   Limits
	logger   *zap.Logger
	now      func() time.Time
}

func NewShareUseCase(records RecordRepo, store ArtifactStore, quota *QuotaAccountant, counters StatCounter, limits Limits, logger *zap.Logger) *ShareUseCase {
	if limits.CodeLength <= 0 {
		limits.CodeLength = DefaultCodeLength
	}
	return &ShareUseCase{
		records:  records,
		store:    store,
		quota:    quota,
		counters: counters,
		limits:   limits,
		logger:   logger,
		now:      time.Now,
	}
}

// Submit validates, stores and registers a new share, returning the
// created record. On any failure after bytes were written the partial
// blobs are removed and the reservation is cancelled, so a failed
// submission leaves no trace.
func (uc *ShareUseCase) Submit(ctx context.Context, ownerID string, uploads []*Upload, opts SubmitOptions) (*Record, error) {
	if len(uploads) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "no files in submission")
	}
	ownerID = NormalizeOwner(ownerID)

	var declared int64
	for _, up := range uploads {
		if up.FileName == "" {
			return nil, apperrors.New(apperrors.ErrInvalidParams, "file name is required")
		}
		if !uc.typeAllowed(up.FileName) {
			return nil, apperrors.New(apperrors.ErrShareInvalidType, fmt.Sprintf("extension of %q is not accepted", up.FileName))
		}
		if up.Size <= 0 {
			return nil, apperrors.New(apperrors.ErrInvalidParams, fmt.Sprintf("missing size for %q", up.FileName))
		}
		if uc.limits.MaxFileSize > 0 && up.Size > uc.limits.MaxFileSize {
			return nil, ErrTooLarge
		}
		declared += up.Size
	}
	if uc.limits.MaxBundleSize > 0 && declared > uc.limits.MaxBundleSize {
		return nil, ErrTooLarge
	}

	if err := uc.quota.Reserve(ctx, ownerID, declared); err != nil {
		return nil, err
	}

	record, err := uc.storeAndRegister(ctx, ownerID, uploads, declared, opts)
	if err != nil {
		if cerr := uc.quota.CancelReservation(ctx, ownerID, declared); cerr != nil {
			uc.logger.Warn("reservation cleanup failed", zap.String("owner_id", ownerID), zap.Error(cerr))
		}
		return nil, err
	}
	if err := uc.quota.Commit(ctx, ownerID, declared); err != nil {
		uc.logger.Warn("quota commit failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
	uc.count(ctx, CounterUploads, int64(len(uploads)))

	uc.logger.Info("share created",
		zap.String("code", record.Code),
		zap.String("owner_id", ownerID),
		zap.Int("files", len(record.Blobs)),
		zap.Int64("bytes", record.TotalSize))
	return record, nil
}

func (uc *ShareUseCase) storeAndRegister(ctx context.Context, ownerID string, uploads []*Upload, declared int64, opts SubmitOptions) (*Record, error) {
	blobs := make([]Blob, 0, len(uploads))
	cleanup := func() {
		keys := make([]string, 0, len(blobs))
		for _, b := range blobs {
			keys = append(keys, b.Key)
		}
		if len(keys) == 0 {
			return
		}
		if err := uc.store.Delete(context.WithoutCancel(ctx), keys...); err != nil {
			uc.logger.Warn("orphan blob cleanup failed", zap.Strings("keys", keys), zap.Error(err))
		}
	}

	for _, up := range uploads {
		key := "blobs/" + uuid.NewString()
		written, sum, err := uc.store.Write(ctx, key, up.Content, up.ContentType, up.Size)
		if err != nil {
			cleanup()
			return nil, err
		}
		if written != up.Size {
			// The payload was shorter than declared; the quota hold no
			// longer matches reality, so reject rather than under-account.
			blobs = append(blobs, Blob{Key: key})
			cleanup()
			return nil, apperrors.New(apperrors.ErrBadRequest,
				fmt.Sprintf("%q declared %d bytes but sent %d", up.FileName, up.Size, written))
		}
		blobs = append(blobs, Blob{
			ID:          uuid.NewString(),
			Key:         key,
			FileName:    up.FileName,
			Size:        written,
			SHA256:      sum,
			ContentType: up.ContentType,
		})
	}

	record, err := uc.buildRecord(ownerID, blobs, declared, opts)
	if err != nil {
		cleanup()
		return nil, err
	}

	// Regenerate on code collision instead of failing the upload.
	for attempt := 0; ; attempt++ {
		err = uc.records.Create(ctx, record)
		if err == nil {
			return record, nil
		}
		if !apperrors.Is(err, apperrors.ErrShareConflict) || attempt >= 2 {
			cleanup()
			return nil, err
		}
		code, cerr := NewCode(uc.limits.CodeLength)
		if cerr != nil {
			cleanup()
			return nil, cerr
		}
		record.Code = code
	}
}

func (uc *ShareUseCase) buildRecord(ownerID string, blobs []Blob, total int64, opts SubmitOptions) (*Record, error) {
	code, err := NewCode(uc.limits.CodeLength)
	if err != nil {
		return nil, err
	}
	now := uc.now()

	record := &Record{
		Code:        code,
		OwnerID:     ownerID,
		Description: opts.Description,
		Blobs:       blobs,
		TotalSize:   total,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if opts.Password != "" {
		hash, err := HashPassword(opts.Password)
		if err != nil {
			return nil, err
		}
		record.PasswordHash = hash
	}

	ttl := uc.limits.DefaultTTL
	if opts.TTL != nil {
		ttl = *opts.TTL
	}
	if ttl < 0 {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "ttl must not be negative")
	}
	if ttl > 0 {
		t := now.Add(ttl)
		record.ExpiresAt = &t
	}

	maxDownloads := uc.limits.DefaultMaxDownloads
	if opts.MaxDownloads != nil {
		maxDownloads = *opts.MaxDownloads
	}
	if opts.OneTime {
		maxDownloads = 1
	}
	if maxDownloads < 0 {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "max downloads must not be negative")
	}
	if maxDownloads > 0 {
		record.MaxDownloads = &maxDownloads
	}
	return record, nil
}

// Access resolves a code, enforces the access policy, consumes one
// download slot and opens the payload stream. The counter commits
// before any bytes flow; streaming happens outside all ledger locks.
func (uc *ShareUseCase) Access(ctx context.Context, code, password string) (*AccessGrant, error) {
	code = NormalizeCode(code)
	record, err := uc.records.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := uc.verifyBlobs(ctx, record); err != nil {
		return nil, err
	}

	var exhausted bool
	record, err = uc.records.Mutate(ctx, code, func(r *Record) error {
		var gerr error
		exhausted, gerr = Grant(r, password, uc.now())
		return gerr
	})
	if err != nil {
		return nil, err
	}
	uc.count(ctx, CounterDownloads, 1)

	grant := &AccessGrant{Record: record, Exhausted: exhausted}
	if len(record.Blobs) == 1 {
		blob := record.Blobs[0]
		rc, err := uc.store.Open(ctx, blob.Key)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrShareStorageLost)
		}
		grant.Content = rc
		grant.FileName = blob.FileName
		grant.ContentType = blob.ContentType
		grant.Size = blob.Size
		return grant, nil
	}

	pr, pw := io.Pipe()
	blobs := record.Blobs
	go func() {
		pw.CloseWithError(WriteBundle(ctx, uc.store, blobs, pw))
	}()
	grant.Content = pr
	grant.FileName = record.Code + ".zip"
	grant.ContentType = "application/zip"
	grant.Size = -1
	return grant, nil
}

// verifyBlobs confirms the payload still exists before touching the
// counter. A record whose bytes are gone is scrubbed from the ledger
// so the code stops resolving, and the caller sees a storage error
// rather than a silent 404.
func (uc *ShareUseCase) verifyBlobs(ctx context.Context, record *Record) error {
	for _, blob := range record.Blobs {
		if _, err := uc.store.Stat(ctx, blob.Key); err != nil {
			uc.logger.Error("share payload missing, scrubbing record",
				zap.String("code", record.Code),
				zap.String("key", blob.Key),
				zap.Error(err))
			uc.scrub(ctx, record)
			return apperrors.Wrap(err, apperrors.ErrShareStorageLost)
		}
	}
	return nil
}

// scrub removes a record whose payload is gone, together with any
// surviving blobs and its quota charge.
func (uc *ShareUseCase) scrub(ctx context.Context, record *Record) {
	if err := uc.store.Delete(ctx, record.BlobKeys()...); err != nil {
		uc.logger.Warn("scrub blob delete failed", zap.String("code", record.Code), zap.Error(err))
	}
	removed, err := uc.records.Remove(ctx, record.Code)
	if err != nil {
		uc.logger.Warn("scrub record delete failed", zap.String("code", record.Code), zap.Error(err))
		return
	}
	if removed {
		uc.quota.Release(ctx, record.OwnerID, record.TotalSize)
	}
}

// Describe returns the record for metadata display without consuming
// a download slot. The returned status reflects the current instant
// even when the stored cache is stale.
func (uc *ShareUseCase) Describe(ctx context.Context, code string) (*Record, error) {
	record, err := uc.records.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	record.Status = record.StatusAt(uc.now())
	return record, nil
}

// SetExpiry rewrites the expiry deadline relative to now. A zero ttl
// removes the deadline. Works on expired shares too, which un-expires
// them; this mirrors how share owners expect "extend" to behave.
func (uc *ShareUseCase) SetExpiry(ctx context.Context, actor Actor, code string, ttl time.Duration) (*Record, error) {
	if ttl < 0 {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "ttl must not be negative")
	}
	return uc.manage(ctx, actor, code, func(r *Record) error {
		if ttl == 0 {
			r.ExpiresAt = nil
			return nil
		}
		t := uc.now().Add(ttl)
		r.ExpiresAt = &t
		return nil
	})
}

// SetLimit rewrites the download ceiling. Zero means unlimited. A new
// ceiling at or below the current count leaves the share exhausted.
func (uc *ShareUseCase) SetLimit(ctx context.Context, actor Actor, code string, maxDownloads int64) (*Record, error) {
	if maxDownloads < 0 {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "max downloads must not be negative")
	}
	return uc.manage(ctx, actor, code, func(r *Record) error {
		if maxDownloads == 0 {
			r.MaxDownloads = nil
			r.ExhaustedAt = nil
			if r.Status == StatusExhausted {
				r.Status = StatusActive
			}
			return nil
		}
		r.MaxDownloads = &maxDownloads
		if r.DownloadCount >= maxDownloads {
			r.Status = StatusExhausted
			if r.ExhaustedAt == nil {
				t := uc.now()
				r.ExhaustedAt = &t
			}
		} else {
			r.ExhaustedAt = nil
			if r.Status == StatusExhausted {
				r.Status = StatusActive
			}
		}
		return nil
	})
}

func (uc *ShareUseCase) manage(ctx context.Context, actor Actor, code string, fn func(*Record) error) (*Record, error) {
	code = NormalizeCode(code)
	record, err := uc.records.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, record); err != nil {
		return nil, err
	}
	return uc.records.Mutate(ctx, code, func(r *Record) error {
		// Re-check under the lock; ownership could have raced a scrub.
		if err := authorize(actor, r); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		r.UpdatedAt = uc.now()
		return nil
	})
}

func authorize(actor Actor, record *Record) error {
	if actor.Admin {
		return nil
	}
	if actor.ID != "" && actor.ID == record.OwnerID {
		return nil
	}
	return ErrForbidden
}

// Delete removes a share on request from its owner or an admin. Bytes
// go first, then the ledger row, then the quota charge, the same order
// the reclaimer uses, so a crash mid-delete leaves at worst a row the
// next access scrubs.
func (uc *ShareUseCase) Delete(ctx context.Context, actor Actor, code string) error {
	code = NormalizeCode(code)
	record, err := uc.records.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if err := authorize(actor, record); err != nil {
		return err
	}
	if err := uc.store.Delete(ctx, record.BlobKeys()...); err != nil {
		return apperrors.Wrap(err, apperrors.ErrShareStorageLost)
	}
	removed, err := uc.records.Remove(ctx, code)
	if err != nil {
		return err
	}
	if removed {
		uc.quota.Release(ctx, record.OwnerID, record.TotalSize)
		uc.logger.Info("share deleted",
			zap.String("code", code),
			zap.String("actor", actor.ID),
			zap.Bool("admin", actor.Admin))
	}
	return nil
}

// ListByOwner returns the owner's shares with recomputed statuses.
func (uc *ShareUseCase) ListByOwner(ctx context.Context, ownerID string) ([]*Record, error) {
	records, err := uc.records.ListByOwner(ctx, NormalizeOwner(ownerID))
	if err != nil {
		return nil, err
	}
	now := uc.now()
	for _, r := range records {
		r.Status = r.StatusAt(now)
	}
	return records, nil
}

// Search finds shares whose file names or description contain the
// query, across all owners or scoped to one. Matching is by substring,
// the same contract lookups by code never offer.
func (uc *ShareUseCase) Search(ctx context.Context, ownerID, query string, page, pageSize int) ([]*Record, int64, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, 0, apperrors.New(apperrors.ErrInvalidParams, "search query is required")
	}
	if ownerID != "" {
		ownerID = NormalizeOwner(ownerID)
	}
	records, total, err := uc.records.Search(ctx, ownerID, query, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	now := uc.now()
	for _, r := range records {
		r.Status = r.StatusAt(now)
	}
	return records, total, nil
}

// QuotaOf reports an owner's current accounting row and the ceiling.
func (uc *ShareUseCase) QuotaOf(ctx context.Context, ownerID string) (*OwnerUsage, int64, error) {
	usage, err := uc.quota.UsageOf(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}
	return usage, uc.quota.Ceiling(), nil
}

// Stats merges live ledger aggregates with the lifetime counters.
func (uc *ShareUseCase) Stats(ctx context.Context) (*LedgerStats, error) {
	stats, err := uc.records.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if uc.counters != nil {
		if v, err := uc.counters.Value(ctx, CounterUploads); err == nil {
			stats.TotalUploads = v
		}
		if v, err := uc.counters.Value(ctx, CounterDownloads); err == nil {
			stats.TotalDownloads = v
		}
	}
	return stats, nil
}

func (uc *ShareUseCase) typeAllowed(fileName string) bool {
	if len(uc.limits.AllowedTypes) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	for _, allowed := range uc.limits.AllowedTypes {
		if allowed == "*" || ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func (uc *ShareUseCase) count(ctx context.Context, name string, delta int64) {
	if uc.counters == nil {
		return
	}
	if err := uc.counters.Incr(ctx, name, delta); err != nil {
		uc.logger.Warn("counter update failed", zap.String("counter", name), zap.Error(err))
	}
}
