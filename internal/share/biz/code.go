package biz

import (
	"crypto/rand"
	"strings"
)

// Share codes use an unambiguous uppercase alphabet. Lookups are
// case-insensitive: NormalizeCode is applied before every read.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength matches the length users are accustomed to typing.
const DefaultCodeLength = 8

// NewCode generates a random share code of the given length.
func NewCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// NormalizeCode folds user input to the canonical stored form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
