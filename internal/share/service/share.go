package service

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/lk2023060901/fileshare-backend/internal/pkg/errors"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/ratelimit"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/response"
	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
)

// Sniff at most this many leading bytes when the client omits a
// content type.
const sniffLimit = 3072

func init() {
	mimetype.SetLimit(sniffLimit)
}

// Sweeper runs one reclamation pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// SnapshotTaker dumps the ledger to disk on demand.
type SnapshotTaker interface {
	Snapshot(ctx context.Context) error
}

type ShareService struct {
	uc          *biz.ShareUseCase
	limiter     *ratelimit.Limiter
	sweeper     Sweeper
	snapshotter SnapshotTaker
	logger      *zap.Logger
}

func NewShareService(uc *biz.ShareUseCase, limiter *ratelimit.Limiter, sweeper Sweeper, snapshotter SnapshotTaker, logger *zap.Logger) *ShareService {
	return &ShareService{uc: uc, limiter: limiter, sweeper: sweeper, snapshotter: snapshotter, logger: logger}
}

// RegisterRoutes mounts the share API under the given group.
func (s *ShareService) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/shares", s.CreateShare)
	rg.GET("/shares", s.SearchShares)
	rg.GET("/shares/:code", s.DownloadShare)
	rg.GET("/shares/:code/info", s.DescribeShare)
	rg.PATCH("/shares/:code/expiry", s.SetExpiry)
	rg.PATCH("/shares/:code/limit", s.SetLimit)
	rg.DELETE("/shares/:code", s.DeleteShare)
	rg.GET("/owners/:owner/shares", s.ListOwnerShares)
	rg.GET("/owners/:owner/quota", s.OwnerQuota)
	rg.GET("/stats", s.Stats)
	rg.POST("/admin/sweep", s.TriggerSweep)
	rg.POST("/admin/snapshot", s.TriggerSnapshot)
}

// actor reads the caller identity from headers. There is no account
// system; identity headers are filled in by the fronting proxy.
func actor(c *gin.Context) biz.Actor {
	return biz.Actor{
		ID:    c.GetHeader("X-Owner-ID"),
		Admin: c.GetHeader("X-Admin") == "true",
	}
}

func sharePassword(c *gin.Context) string {
	if pw := c.GetHeader("X-Share-Password"); pw != "" {
		return pw
	}
	return c.Query("password")
}

func (s *ShareService) CreateShare(c *gin.Context) {
	who := actor(c)
	ownerID := biz.NormalizeOwner(who.ID)

	if s.limiter != nil {
		ok, err := s.limiter.Allow(c.Request.Context(), "submit:"+ownerID)
		if err != nil {
			s.logger.Warn("rate limiter unavailable", zap.Error(err))
		} else if !ok {
			response.HandleError(c, biz.ErrRateLimited)
			return
		}
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrBadRequest, "expected multipart form upload")
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		response.ErrorWithCode(c, apperrors.ErrBadRequest, "no files in submission")
		return
	}

	opts, err := submitOptions(c)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	uploads, closeAll, err := openUploads(headers)
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrBadRequest, err.Error())
		return
	}
	defer closeAll()

	record, err := s.uc.Submit(c.Request.Context(), ownerID, uploads, opts)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, toShareResponse(record))
}

func submitOptions(c *gin.Context) (biz.SubmitOptions, error) {
	opts := biz.SubmitOptions{
		Description: c.PostForm("description"),
		Password:    c.PostForm("password"),
		OneTime:     c.PostForm("one_time") == "true",
	}
	if raw := c.PostForm("ttl_seconds"); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return opts, apperrors.New(apperrors.ErrInvalidParams, "ttl_seconds must be an integer")
		}
		ttl := time.Duration(secs) * time.Second
		opts.TTL = &ttl
	}
	if raw := c.PostForm("max_downloads"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return opts, apperrors.New(apperrors.ErrInvalidParams, "max_downloads must be an integer")
		}
		opts.MaxDownloads = &n
	}
	return opts, nil
}

// openUploads turns multipart file headers into upload streams,
// sniffing a content type when the client did not send one.
func openUploads(headers []*multipart.FileHeader) ([]*biz.Upload, func(), error) {
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	uploads := make([]*biz.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open %q: %w", fh.Filename, err)
		}
		files = append(files, f)

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			if mt, err := mimetype.DetectReader(f); err == nil {
				contentType = mt.String()
			}
			if _, err := f.Seek(0, 0); err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("rewind %q: %w", fh.Filename, err)
			}
		}

		uploads = append(uploads, &biz.Upload{
			FileName:    fh.Filename,
			ContentType: contentType,
			Size:        fh.Size,
			Content:     f,
		})
	}
	return uploads, closeAll, nil
}

func (s *ShareService) DownloadShare(c *gin.Context) {
	grant, err := s.uc.Access(c.Request.Context(), c.Param("code"), sharePassword(c))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	defer grant.Content.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", grant.FileName))
	c.Header("X-Share-Code", grant.Record.Code)
	if grant.Size >= 0 {
		c.DataFromReader(http.StatusOK, grant.Size, grant.ContentType, grant.Content, nil)
		return
	}
	c.Header("Content-Type", grant.ContentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, grant.Content); err != nil {
		// Headers are gone; all we can do is log the broken transfer.
		s.logger.Warn("bundle stream aborted",
			zap.String("code", grant.Record.Code),
			zap.Error(err))
	}
}

func (s *ShareService) DescribeShare(c *gin.Context) {
	record, err := s.uc.Describe(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toShareResponse(record))
}

func (s *ShareService) SetExpiry(c *gin.Context) {
	var req SetExpiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrBadRequest, err.Error())
		return
	}
	record, err := s.uc.SetExpiry(c.Request.Context(), actor(c), c.Param("code"),
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toShareResponse(record))
}

func (s *ShareService) SetLimit(c *gin.Context) {
	var req SetLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrBadRequest, err.Error())
		return
	}
	record, err := s.uc.SetLimit(c.Request.Context(), actor(c), c.Param("code"), req.MaxDownloads)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toShareResponse(record))
}

func (s *ShareService) DeleteShare(c *gin.Context) {
	if err := s.uc.Delete(c.Request.Context(), actor(c), c.Param("code")); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

func (s *ShareService) ListOwnerShares(c *gin.Context) {
	who := actor(c)
	owner := c.Param("owner")
	if !who.Admin && biz.NormalizeOwner(who.ID) != biz.NormalizeOwner(owner) {
		response.HandleError(c, biz.ErrForbidden)
		return
	}
	records, err := s.uc.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*ShareResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toShareResponse(r))
	}
	response.Success(c, gin.H{"shares": out})
}

func (s *ShareService) OwnerQuota(c *gin.Context) {
	who := actor(c)
	owner := c.Param("owner")
	if !who.Admin && biz.NormalizeOwner(who.ID) != biz.NormalizeOwner(owner) {
		response.HandleError(c, biz.ErrForbidden)
		return
	}
	usage, ceiling, err := s.uc.QuotaOf(c.Request.Context(), owner)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toQuotaResponse(usage, ceiling))
}

func (s *ShareService) Stats(c *gin.Context) {
	stats, err := s.uc.Stats(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toStatsResponse(stats))
}

// SearchShares matches a substring against file names and descriptions.
// Anyone may search; codes are the only credential a share has until a
// password gate is hit on download.
func (s *ShareService) SearchShares(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, "query parameter q is required")
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	records, total, err := s.uc.Search(c.Request.Context(), c.Query("owner"), query, page, pageSize)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*ShareResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toShareResponse(r))
	}
	response.Success(c, gin.H{"shares": out, "total": total, "page": page, "page_size": pageSize})
}

func (s *ShareService) TriggerSweep(c *gin.Context) {
	if !actor(c).Admin {
		response.HandleError(c, biz.ErrForbidden)
		return
	}
	response.Success(c, gin.H{"reclaimed": s.sweeper.Sweep(c.Request.Context())})
}

func (s *ShareService) TriggerSnapshot(c *gin.Context) {
	if !actor(c).Admin {
		response.HandleError(c, biz.ErrForbidden)
		return
	}
	if err := s.snapshotter.Snapshot(c.Request.Context()); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}
