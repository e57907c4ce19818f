package biz

import (
	apperrors "github.com/lk2023060901/fileshare-backend/internal/pkg/errors"
)

// Typed outcomes for policy and validation failures. Handlers translate
// these into distinct user-visible messages; they are never collapsed
// into a generic "invalid code" response.
var (
	ErrNotFound           = apperrors.New(apperrors.ErrShareNotFound)
	ErrExpired            = apperrors.New(apperrors.ErrShareExpired)
	ErrExhausted          = apperrors.New(apperrors.ErrShareExhausted)
	ErrWrongPassword      = apperrors.New(apperrors.ErrShareWrongPassword)
	ErrQuotaExceeded      = apperrors.New(apperrors.ErrShareQuotaExceeded)
	ErrTooLarge           = apperrors.New(apperrors.ErrShareTooLarge)
	ErrInvalidType        = apperrors.New(apperrors.ErrShareInvalidType)
	ErrForbidden          = apperrors.New(apperrors.ErrShareForbidden)
	ErrConflict           = apperrors.New(apperrors.ErrShareConflict)
	ErrStorageUnavailable = apperrors.New(apperrors.ErrShareStorageLost)
	ErrRateLimited        = apperrors.New(apperrors.ErrOwnerRateLimited)
)
