package biz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedRecord(t *testing.T, password string) *Record {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	return &Record{Code: "TESTCODE", Status: StatusActive, PasswordHash: hash}
}

func TestCheckAccessOpenShare(t *testing.T) {
	r := &Record{Code: "TESTCODE", Status: StatusActive}
	assert.NoError(t, CheckAccess(r, "", time.Now()))
	// Extra credentials on an open share are ignored.
	assert.NoError(t, CheckAccess(r, "whatever", time.Now()))
}

func TestCheckAccessPassword(t *testing.T) {
	r := protectedRecord(t, "secret")
	now := time.Now()

	assert.ErrorIs(t, CheckAccess(r, "wrong", now), ErrWrongPassword)
	assert.ErrorIs(t, CheckAccess(r, "", now), ErrWrongPassword)
	assert.NoError(t, CheckAccess(r, "secret", now))
}

func TestCheckAccessExpiryBeatsEverything(t *testing.T) {
	r := protectedRecord(t, "secret")
	past := time.Now().Add(-time.Minute)
	r.ExpiresAt = &past
	max := int64(1)
	r.MaxDownloads = &max
	r.DownloadCount = 1

	// Expired and exhausted and wrong password: expiry wins, even with
	// the right password.
	assert.ErrorIs(t, CheckAccess(r, "secret", time.Now()), ErrExpired)
	assert.ErrorIs(t, CheckAccess(r, "wrong", time.Now()), ErrExpired)
}

func TestCheckAccessExhaustionBeatsPassword(t *testing.T) {
	r := protectedRecord(t, "secret")
	max := int64(2)
	r.MaxDownloads = &max
	r.DownloadCount = 2

	assert.ErrorIs(t, CheckAccess(r, "wrong", time.Now()), ErrExhausted)
	assert.ErrorIs(t, CheckAccess(r, "secret", time.Now()), ErrExhausted)
}

func TestGrantIncrementsCounter(t *testing.T) {
	r := &Record{Code: "TESTCODE", Status: StatusActive}
	now := time.Now()

	exhausted, err := Grant(r, "", now)
	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, int64(1), r.DownloadCount)
	assert.Nil(t, r.ExhaustedAt)
}

func TestGrantFinalSlotMarksExhausted(t *testing.T) {
	max := int64(2)
	r := &Record{Code: "TESTCODE", Status: StatusActive, MaxDownloads: &max, DownloadCount: 1}
	now := time.Now()

	exhausted, err := Grant(r, "", now)
	require.NoError(t, err)
	assert.True(t, exhausted)
	assert.Equal(t, StatusExhausted, r.Status)
	require.NotNil(t, r.ExhaustedAt)
	assert.Equal(t, now, *r.ExhaustedAt)

	// The next attempt is denied and mutates nothing.
	_, err = Grant(r, "", now)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, int64(2), r.DownloadCount)
}

func TestGrantDeniedLeavesCounterUntouched(t *testing.T) {
	r := protectedRecord(t, "secret")

	_, err := Grant(r, "wrong", time.Now())
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.Zero(t, r.DownloadCount)
}

func TestStatusAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)
	one := int64(1)

	tests := []struct {
		name   string
		record Record
		want   string
	}{
		{"active no limits", Record{Status: StatusActive}, StatusActive},
		{"before deadline", Record{Status: StatusActive, ExpiresAt: &future}, StatusActive},
		{"past deadline", Record{Status: StatusActive, ExpiresAt: &past}, StatusExpired},
		{"counter at limit", Record{Status: StatusActive, MaxDownloads: &one, DownloadCount: 1}, StatusExhausted},
		{"expired and exhausted", Record{Status: StatusActive, ExpiresAt: &past, MaxDownloads: &one, DownloadCount: 1}, StatusExpired},
		{"stale exhausted cache", Record{Status: StatusExhausted, MaxDownloads: &one, DownloadCount: 0}, StatusActive},
		{"tombstone", Record{Status: StatusDeleted}, StatusDeleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.StatusAt(now))
		})
	}
}
