// Package entity defines the entities and errors used in the application.
// It includes the URL struct, which represents a shortened URL, along with its
// access statistics, and the errors shared between the storage and business
// layers.
package entity

import (
	"errors"
	"time"
)

// ErrNotPersisted is returned by durable repositories when a mutation was applied
// in memory but the snapshot could not be written to disk.
var ErrNotPersisted = errors.New("change applied in memory but not persisted")

// URL represents a shortened URL.
type URL struct {
	ShortCode   string    // ShortCode is the generated code used to shorten the original URL.
	OriginalURL string    // OriginalURL is the full URL that the short code resolves to.
	URLStats              // URLStats contains statistics about the URL.
	CreatedAt   time.Time // CreatedAt is the timestamp when the URL was created.
}

// URLStats contains statistics related to a shortened URL.
type URLStats struct {
	AccessCount    int64      // AccessCount is the number of times the shortened URL has been accessed.
	LastAccessedAt *time.Time // LastAccessedAt is nil until the URL is resolved for the first time.
}

// Clone returns a deep copy of u, safe to hand out of a repository lock.
func (u *URL) Clone() *URL {
	c := *u
	if u.LastAccessedAt != nil {
		t := *u.LastAccessedAt
		c.LastAccessedAt = &t
	}
	return &c
}
