package biz

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// CheckAccess evaluates an access attempt against the record without
// mutating anything. Denial precedence is fixed: expiry beats
// exhaustion beats password, so a caller probing an expired share
// always learns "expired" regardless of credentials or counters.
func CheckAccess(record *Record, password string, now time.Time) error {
	switch record.StatusAt(now) {
	case StatusDeleted:
		return ErrNotFound
	case StatusExpired:
		return ErrExpired
	case StatusExhausted:
		return ErrExhausted
	}
	if record.HasPassword() {
		if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
			return ErrWrongPassword
		}
	}
	return nil
}

// Grant consumes one download slot after CheckAccess passes. It must
// run inside the ledger's mutate exclusivity so the counter can never
// overshoot the limit. Returns true when this grant took the final
// slot; the record is then marked exhausted but the caller still
// serves the bytes before reclamation picks it up.
func Grant(record *Record, password string, now time.Time) (bool, error) {
	if err := CheckAccess(record, password, now); err != nil {
		return false, err
	}
	record.DownloadCount++
	record.UpdatedAt = now
	if record.MaxDownloads != nil && record.DownloadCount >= *record.MaxDownloads {
		record.Status = StatusExhausted
		t := now
		record.ExhaustedAt = &t
		return true, nil
	}
	return false, nil
}

// HashPassword derives the stored credential for a protected share.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
