package service

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
)

type BlobResponse struct {
	FileName    string `json:"file_name"`
	Size        int64  `json:"size"`
	SizeHuman   string `json:"size_human"`
	SHA256      string `json:"sha256"`
	ContentType string `json:"content_type"`
}

type ShareResponse struct {
	Code          string         `json:"code"`
	OwnerID       string         `json:"owner_id"`
	Description   string         `json:"description,omitempty"`
	Files         []BlobResponse `json:"files"`
	TotalSize     int64          `json:"total_size"`
	TotalHuman    string         `json:"total_size_human"`
	Protected     bool           `json:"protected"`
	Status        string         `json:"status"`
	DownloadCount int64          `json:"download_count"`
	MaxDownloads  *int64         `json:"max_downloads,omitempty"`
	Remaining     *int64         `json:"remaining_downloads,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
}

func toShareResponse(r *biz.Record) *ShareResponse {
	files := make([]BlobResponse, 0, len(r.Blobs))
	for _, b := range r.Blobs {
		files = append(files, BlobResponse{
			FileName:    b.FileName,
			Size:        b.Size,
			SizeHuman:   humanize.IBytes(uint64(b.Size)),
			SHA256:      b.SHA256,
			ContentType: b.ContentType,
		})
	}
	return &ShareResponse{
		Code:          r.Code,
		OwnerID:       r.OwnerID,
		Description:   r.Description,
		Files:         files,
		TotalSize:     r.TotalSize,
		TotalHuman:    humanize.IBytes(uint64(r.TotalSize)),
		Protected:     r.HasPassword(),
		Status:        r.Status,
		DownloadCount: r.DownloadCount,
		MaxDownloads:  r.MaxDownloads,
		Remaining:     r.Remaining(),
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
}

type SetExpiryRequest struct {
	// TTLSeconds counts from now; zero removes the deadline.
	TTLSeconds int64 `json:"ttl_seconds"`
}

type SetLimitRequest struct {
	// MaxDownloads zero means unlimited.
	MaxDownloads int64 `json:"max_downloads"`
}

type QuotaResponse struct {
	OwnerID       string `json:"owner_id"`
	UsedBytes     int64  `json:"used_bytes"`
	UsedHuman     string `json:"used_human"`
	ReservedBytes int64  `json:"reserved_bytes"`
	Unlimited     bool   `json:"unlimited"`
	// Ceiling and remaining are absent when the quota is unlimited.
	CeilingBytes   *int64 `json:"ceiling_bytes,omitempty"`
	CeilingHuman   string `json:"ceiling_human,omitempty"`
	RemainingBytes *int64 `json:"remaining_bytes,omitempty"`
}

func toQuotaResponse(u *biz.OwnerUsage, ceiling int64) *QuotaResponse {
	resp := &QuotaResponse{
		OwnerID:       u.OwnerID,
		UsedBytes:     u.UsedBytes,
		UsedHuman:     humanize.IBytes(uint64(u.UsedBytes)),
		ReservedBytes: u.ReservedBytes,
	}
	if ceiling <= 0 {
		resp.Unlimited = true
		return resp
	}
	remaining := ceiling - u.UsedBytes - u.ReservedBytes
	if remaining < 0 {
		remaining = 0
	}
	resp.CeilingBytes = &ceiling
	resp.CeilingHuman = humanize.IBytes(uint64(ceiling))
	resp.RemainingBytes = &remaining
	return resp
}

type StatsResponse struct {
	LiveShares     int64  `json:"live_shares"`
	LiveBytes      int64  `json:"live_bytes"`
	LiveBytesHuman string `json:"live_bytes_human"`
	LiveDownloads  int64  `json:"live_downloads"`
	TotalUploads   int64  `json:"total_uploads"`
	TotalDownloads int64  `json:"total_downloads"`
}

func toStatsResponse(s *biz.LedgerStats) *StatsResponse {
	return &StatsResponse{
		LiveShares:     s.LiveShares,
		LiveBytes:      s.LiveBytes,
		LiveBytesHuman: humanize.IBytes(uint64(s.LiveBytes)),
		LiveDownloads:  s.LiveDownloads,
		TotalUploads:   s.TotalUploads,
		TotalDownloads: s.TotalDownloads,
	}
}
