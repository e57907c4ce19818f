package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrUnauthorized    = 1003
	ErrForbidden       = 1004
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// Share errors (2000-2999)
	ErrShareNotFound      = 2000
	ErrShareExpired       = 2001
	ErrShareExhausted     = 2002
	ErrShareWrongPassword = 2003
	ErrShareQuotaExceeded = 2004
	ErrShareTooLarge      = 2005
	ErrShareInvalidType   = 2006
	ErrShareForbidden     = 2007
	ErrShareConflict      = 2008
	ErrShareStorageLost   = 2009

	// Owner errors (3000-3999)
	ErrOwnerNotFound    = 3000
	ErrOwnerRateLimited = 3001
)

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	// Common errors
	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrUnauthorized:    {ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	ErrForbidden:       {ErrForbidden, http.StatusForbidden, "Forbidden"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},

	// Share errors
	ErrShareNotFound:      {ErrShareNotFound, http.StatusNotFound, "Share code not found"},
	ErrShareExpired:       {ErrShareExpired, http.StatusGone, "Share has expired"},
	ErrShareExhausted:     {ErrShareExhausted, http.StatusGone, "Share download limit reached"},
	ErrShareWrongPassword: {ErrShareWrongPassword, http.StatusUnauthorized, "Wrong share password"},
	ErrShareQuotaExceeded: {ErrShareQuotaExceeded, http.StatusForbidden, "Storage quota exceeded"},
	ErrShareTooLarge:      {ErrShareTooLarge, http.StatusBadRequest, "File size exceeds limit"},
	ErrShareInvalidType:   {ErrShareInvalidType, http.StatusBadRequest, "Unsupported file type"},
	ErrShareForbidden:     {ErrShareForbidden, http.StatusForbidden, "Only the owner or an admin may manage this share"},
	ErrShareConflict:      {ErrShareConflict, http.StatusConflict, "Share was modified concurrently"},
	ErrShareStorageLost:   {ErrShareStorageLost, http.StatusServiceUnavailable, "Backing storage for this share is unavailable"},

	// Owner errors
	ErrOwnerNotFound:    {ErrOwnerNotFound, http.StatusNotFound, "Owner not found"},
	ErrOwnerRateLimited: {ErrOwnerRateLimited, http.StatusTooManyRequests, "Upload rate limit reached, try again in a minute"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// IsSuccess checks if the code represents success
func IsSuccess(code int) bool {
	return code == Success
}

// IsClientError checks if the code represents a client error (4xx)
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// IsServerError checks if the code represents a server error (5xx)
func IsServerError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 500
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
