package biz

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/lk2023060901/fileshare-backend/internal/pkg/errors"
)

type shareEnv struct {
	uc    *ShareUseCase
	repo  *memRecordRepo
	usage *memUsageRepo
	store *memStore
	clock time.Time
}

func newShareEnv(t *testing.T, limits Limits) *shareEnv {
	t.Helper()
	env := &shareEnv{
		repo:  newMemRecordRepo(),
		usage: newMemUsageRepo(),
		store: newMemStore(),
		clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	quota := NewQuotaAccountant(env.usage, 1<<20, zap.NewNop())
	env.uc = NewShareUseCase(env.repo, env.store, quota, nil, limits, zap.NewNop())
	env.uc.now = func() time.Time { return env.clock }
	return env
}

func (e *shareEnv) advance(d time.Duration) {
	e.clock = e.clock.Add(d)
}

func upload(name, content string) *Upload {
	return &Upload{
		FileName:    name,
		ContentType: "text/plain",
		Size:        int64(len(content)),
		Content:     strings.NewReader(content),
	}
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestSubmitAndAccessRoundTrip(t *testing.T) {
	env := newShareEnv(t, Limits{})
	content := "hello fileshare"

	record, err := env.uc.Submit(context.Background(), "alice", []*Upload{upload("hello.txt", content)}, SubmitOptions{})
	require.NoError(t, err)
	assert.Len(t, record.Code, DefaultCodeLength)
	assert.Equal(t, "alice", record.OwnerID)
	require.Len(t, record.Blobs, 1)

	wantSum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(wantSum[:]), record.Blobs[0].SHA256)

	grant, err := env.uc.Access(context.Background(), record.Code, "")
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", grant.FileName)
	assert.Equal(t, int64(len(content)), grant.Size)
	assert.Equal(t, content, string(readAll(t, grant.Content)))

	got, err := env.uc.Describe(context.Background(), record.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.DownloadCount)
}

func TestAccessCodeIsCaseInsensitive(t *testing.T) {
	env := newShareEnv(t, Limits{})
	record, err := env.uc.Submit(context.Background(), "alice", []*Upload{upload("a.txt", "x")}, SubmitOptions{})
	require.NoError(t, err)

	grant, err := env.uc.Access(context.Background(), strings.ToLower(record.Code), "")
	require.NoError(t, err)
	grant.Content.Close()
}

func TestAccessUnknownCode(t *testing.T) {
	env := newShareEnv(t, Limits{})
	_, err := env.uc.Access(context.Background(), "NOSUCHCD", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWrongPasswordConsumesNothing(t *testing.T) {
	env := newShareEnv(t, Limits{})
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "x")}, SubmitOptions{Password: "secret"})
	require.NoError(t, err)

	_, err = env.uc.Access(context.Background(), record.Code, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)

	got, err := env.uc.Describe(context.Background(), record.Code)
	require.NoError(t, err)
	assert.Zero(t, got.DownloadCount)

	grant, err := env.uc.Access(context.Background(), record.Code, "secret")
	require.NoError(t, err)
	grant.Content.Close()
}

func TestOneTimeShareServesThenExhausts(t *testing.T) {
	env := newShareEnv(t, Limits{})
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "once")}, SubmitOptions{OneTime: true})
	require.NoError(t, err)

	grant, err := env.uc.Access(context.Background(), record.Code, "")
	require.NoError(t, err)
	assert.True(t, grant.Exhausted)
	// The exhausting download still delivers its payload.
	assert.Equal(t, "once", string(readAll(t, grant.Content)))

	_, err = env.uc.Access(context.Background(), record.Code, "")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestExpiryDeniesAfterDeadline(t *testing.T) {
	env := newShareEnv(t, Limits{})
	ttl := time.Second
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "x")}, SubmitOptions{TTL: &ttl})
	require.NoError(t, err)

	grant, err := env.uc.Access(context.Background(), record.Code, "")
	require.NoError(t, err)
	grant.Content.Close()

	env.advance(2 * time.Second)
	_, err = env.uc.Access(context.Background(), record.Code, "")
	assert.ErrorIs(t, err, ErrExpired)

	got, err := env.uc.Describe(context.Background(), record.Code)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestSetExpiryRevivesExpiredShare(t *testing.T) {
	env := newShareEnv(t, Limits{})
	ttl := time.Second
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "x")}, SubmitOptions{TTL: &ttl})
	require.NoError(t, err)

	env.advance(time.Minute)
	_, err = env.uc.Access(context.Background(), record.Code, "")
	require.ErrorIs(t, err, ErrExpired)

	_, err = env.uc.SetExpiry(context.Background(), Actor{ID: "alice"}, record.Code, time.Hour)
	require.NoError(t, err)

	grant, err := env.uc.Access(context.Background(), record.Code, "")
	require.NoError(t, err)
	grant.Content.Close()
}

func TestSetExpiryZeroRemovesDeadline(t *testing.T) {
	env := newShareEnv(t, Limits{})
	ttl := time.Second
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "x")}, SubmitOptions{TTL: &ttl})
	require.NoError(t, err)

	got, err := env.uc.SetExpiry(context.Background(), Actor{ID: "alice"}, record.Code, 0)
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)
}

func TestSetLimitEnforcedExactly(t *testing.T) {
	env := newShareEnv(t, Limits{})
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "x")}, SubmitOptions{})
	require.NoError(t, err)

	_, err = env.uc.SetLimit(context.Background(), Actor{ID: "alice"}, record.Code, 2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		grant, err := env.uc.Access(context.Background(), record.Code, "")
		require.NoError(t, err)
		grant.Content.Close()
	}
	_, err = env.uc.Access(context.Background(), record.Code, "")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSetLimitBelowCountExhausts(t *testing.T) {
	env := newShareEnv(t, Limits{})
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "x")}, SubmitOptions{})
	require.NoError(t, err)

	grant, err := env.uc.Access(context.Background(), record.Code, "")
	require.NoError(t, err)
	grant.Content.Close()

	got, err := env.uc.SetLimit(context.Background(), Actor{ID: "alice"}, record.Code, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, got.Status)

	_, err = env.uc.Access(context.Background(), record.Code, "")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestManagementRequiresOwnerOrAdmin(t *testing.T) {
	env := newShareEnv(t, Limits{})
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "x")}, SubmitOptions{})
	require.NoError(t, err)

	_, err = env.uc.SetLimit(context.Background(), Actor{ID: "mallory"}, record.Code, 1)
	assert.ErrorIs(t, err, ErrForbidden)
	err = env.uc.Delete(context.Background(), Actor{ID: "mallory"}, record.Code)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.uc.SetLimit(context.Background(), Actor{ID: "root", Admin: true}, record.Code, 5)
	assert.NoError(t, err)
	err = env.uc.Delete(context.Background(), Actor{ID: "root", Admin: true}, record.Code)
	assert.NoError(t, err)
}

func TestDeleteReleasesQuotaAndBlobs(t *testing.T) {
	env := newShareEnv(t, Limits{})
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "payload")}, SubmitOptions{})
	require.NoError(t, err)

	usage, _, err := env.uc.QuotaOf(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), usage.UsedBytes)

	require.NoError(t, env.uc.Delete(context.Background(), Actor{ID: "alice"}, record.Code))

	usage, _, err = env.uc.QuotaOf(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, usage.UsedBytes)

	keys, err := env.store.ListKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = env.uc.Access(context.Background(), record.Code, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQuotaCeilingBlocksSubmission(t *testing.T) {
	env := newShareEnv(t, Limits{})
	big := strings.Repeat("a", 1<<19) // half the 1 MiB test ceiling

	_, err := env.uc.Submit(context.Background(), "alice", []*Upload{upload("1.bin", big)}, SubmitOptions{})
	require.NoError(t, err)
	_, err = env.uc.Submit(context.Background(), "alice", []*Upload{upload("2.bin", big)}, SubmitOptions{})
	require.NoError(t, err)

	// The ceiling is now exactly full.
	_, err = env.uc.Submit(context.Background(), "alice", []*Upload{upload("3.bin", "x")}, SubmitOptions{})
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Other owners are unaffected.
	_, err = env.uc.Submit(context.Background(), "bob", []*Upload{upload("b.txt", "x")}, SubmitOptions{})
	assert.NoError(t, err)
}

func TestConcurrentSubmissionsRespectCeiling(t *testing.T) {
	env := newShareEnv(t, Limits{})
	chunk := strings.Repeat("a", 1<<18) // ceiling fits exactly 4

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.uc.Submit(context.Background(), "alice",
				[]*Upload{upload("c.bin", chunk)}, SubmitOptions{})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrQuotaExceeded)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, accepted)

	usage, _, err := env.uc.QuotaOf(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(4<<18), usage.UsedBytes)
	assert.Zero(t, usage.ReservedBytes)
}

func TestConcurrentAccessNeverOvershootsLimit(t *testing.T) {
	env := newShareEnv(t, Limits{})
	max := int64(5)
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "x")}, SubmitOptions{MaxDownloads: &max})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	served := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			grant, err := env.uc.Access(context.Background(), record.Code, "")
			if err == nil {
				grant.Content.Close()
				mu.Lock()
				served++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, served)

	got, err := env.uc.Describe(context.Background(), record.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.DownloadCount)
}

func TestFileTooLargeRejected(t *testing.T) {
	env := newShareEnv(t, Limits{MaxFileSize: 4})
	_, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("big.bin", "12345")}, SubmitOptions{})
	assert.ErrorIs(t, err, ErrTooLarge)

	// Nothing was stored or charged.
	keys, kerr := env.store.ListKeys(context.Background())
	require.NoError(t, kerr)
	assert.Empty(t, keys)
	usage, _, uerr := env.uc.QuotaOf(context.Background(), "alice")
	require.NoError(t, uerr)
	assert.Zero(t, usage.UsedBytes)
	assert.Zero(t, usage.ReservedBytes)
}

func TestExtensionWhitelist(t *testing.T) {
	env := newShareEnv(t, Limits{AllowedTypes: []string{"txt", "png"}})

	_, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("notes.TXT", "ok")}, SubmitOptions{})
	assert.NoError(t, err)

	_, err = env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("tool.exe", "no")}, SubmitOptions{})
	assert.True(t, apperrors.Is(err, apperrors.ErrShareInvalidType))
}

func TestAnonymousOwnerBucket(t *testing.T) {
	env := newShareEnv(t, Limits{})
	record, err := env.uc.Submit(context.Background(), "", []*Upload{upload("a.txt", "xy")}, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, AnonymousOwner, record.OwnerID)

	usage, _, err := env.uc.QuotaOf(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage.UsedBytes)
}

func TestMultiFileAccessStreamsArchive(t *testing.T) {
	env := newShareEnv(t, Limits{})
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("b.txt", "bbb"), upload("a.txt", "aaa")}, SubmitOptions{})
	require.NoError(t, err)

	grant, err := env.uc.Access(context.Background(), record.Code, "")
	require.NoError(t, err)
	assert.Equal(t, "application/zip", grant.ContentType)
	assert.Equal(t, record.Code+".zip", grant.FileName)
	assert.Equal(t, int64(-1), grant.Size)

	data := readAll(t, grant.Content)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))
}

func TestMissingPayloadScrubsRecord(t *testing.T) {
	env := newShareEnv(t, Limits{})
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "data")}, SubmitOptions{})
	require.NoError(t, err)

	// Lose the bytes behind the ledger's back.
	require.NoError(t, env.store.Delete(context.Background(), record.Blobs[0].Key))

	_, err = env.uc.Access(context.Background(), record.Code, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrShareStorageLost))

	// The record is gone and the quota charge was returned.
	_, err = env.uc.Access(context.Background(), record.Code, "")
	assert.ErrorIs(t, err, ErrNotFound)
	usage, _, err := env.uc.QuotaOf(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, usage.UsedBytes)
}

func TestStats(t *testing.T) {
	env := newShareEnv(t, Limits{})
	record, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("a.txt", "1234")}, SubmitOptions{})
	require.NoError(t, err)
	grant, err := env.uc.Access(context.Background(), record.Code, "")
	require.NoError(t, err)
	grant.Content.Close()

	stats, err := env.uc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.LiveShares)
	assert.Equal(t, int64(4), stats.LiveBytes)
	assert.Equal(t, int64(1), stats.LiveDownloads)
}

func TestSearchMatchesNamesAndDescriptions(t *testing.T) {
	env := newShareEnv(t, Limits{})
	_, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("Quarterly-Report.pdf", "numbers")}, SubmitOptions{})
	require.NoError(t, err)
	_, err = env.uc.Submit(context.Background(), "bob",
		[]*Upload{upload("IMG_0001.jpg", "pixels")}, SubmitOptions{Description: "holiday photos"})
	require.NoError(t, err)

	records, total, err := env.uc.Search(context.Background(), "", "report", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].OwnerID)

	records, total, err = env.uc.Search(context.Background(), "", "holiday", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Equal(t, "bob", records[0].OwnerID)

	_, total, err = env.uc.Search(context.Background(), "", "nothing-here", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)

	_, _, err = env.uc.Search(context.Background(), "", "   ", 1, 10)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParams))
}

func TestSearchScopesToOwner(t *testing.T) {
	env := newShareEnv(t, Limits{})
	for _, owner := range []string{"alice", "bob"} {
		_, err := env.uc.Submit(context.Background(), owner,
			[]*Upload{upload("notes.txt", owner)}, SubmitOptions{})
		require.NoError(t, err)
	}

	records, total, err := env.uc.Search(context.Background(), "alice", "notes", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].OwnerID)

	_, total, err = env.uc.Search(context.Background(), "", "notes", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestSearchPaginatesNewestFirst(t *testing.T) {
	env := newShareEnv(t, Limits{})
	var codes []string
	for i := 0; i < 3; i++ {
		record, err := env.uc.Submit(context.Background(), "alice",
			[]*Upload{upload("log.txt", strings.Repeat("x", i+1))}, SubmitOptions{})
		require.NoError(t, err)
		codes = append(codes, record.Code)
		env.advance(time.Minute)
	}

	records, total, err := env.uc.Search(context.Background(), "alice", "log", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, records, 2)
	assert.Equal(t, codes[2], records[0].Code)
	assert.Equal(t, codes[1], records[1].Code)

	records, _, err = env.uc.Search(context.Background(), "alice", "log", 2, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, codes[0], records[0].Code)
}

func TestSearchRecomputesStatus(t *testing.T) {
	env := newShareEnv(t, Limits{})
	ttl := time.Second
	_, err := env.uc.Submit(context.Background(), "alice",
		[]*Upload{upload("fleeting.txt", "x")}, SubmitOptions{TTL: &ttl})
	require.NoError(t, err)
	env.advance(2 * time.Second)

	records, _, err := env.uc.Search(context.Background(), "alice", "fleeting", 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusExpired, records[0].Status)
}
