// Package shortcode derives short codes from URLs by truncating their MD5 digest.
package shortcode

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	// Length is the number of hex characters in a short code.
	Length = 7
	// MaxAttempts bounds the number of salted rehashes on collision.
	MaxAttempts = 10
)

// ErrMaxAttemptsExceeded is returned when every candidate code was taken.
var ErrMaxAttemptsExceeded = errors.New("maximum attempts exceeded for generating short code")

// ExistsFunc reports whether a short code is already in use.
type ExistsFunc func(code string) bool

// Hash returns the first Length lowercase hex characters of the MD5 digest of s.
func Hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:Length]
}

// Generate returns Hash(url) unless that code is taken, in which case the URL
// is rehashed together with the current time until a free code is found.
// The timestamp is offset by the attempt number so a frozen clock still
// yields distinct candidates.
func Generate(url string, exists ExistsFunc, now func() time.Time) (string, error) {
	const op = "shortcode.Generate"

	code := Hash(url)
	if !exists(code) {
		return code, nil
	}

	for i := 1; i <= MaxAttempts; i++ {
		code = Hash(fmt.Sprintf("%s%d", url, now().UnixNano()+int64(i)))
		if !exists(code) {
			return code, nil
		}
	}

	return "", fmt.Errorf("%s: %w", op, ErrMaxAttemptsExceeded)
}
