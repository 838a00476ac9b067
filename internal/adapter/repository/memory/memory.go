// Package memory implements the URL repository as a set of in-process maps.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vadimbarashkov/shortlink/internal/clock"
	"github.com/vadimbarashkov/shortlink/internal/entity"
)

// URLRepository keeps URL records in memory. Every index is updated under the
// same lock, so a record is either present in all of them or in none.
// Records returned to callers are copies.
type URLRepository struct {
	mu      sync.RWMutex
	clock   clock.Clock
	logger  *slog.Logger
	records map[string]*entity.URL
	order   []string            // short codes in insertion order
	byURL   map[string][]string // original url -> short codes, oldest first
}

// Option configures a URLRepository.
type Option func(*URLRepository)

// WithClock sets the time source used for CreatedAt and LastAccessedAt.
func WithClock(c clock.Clock) Option {
	return func(r *URLRepository) {
		r.clock = c
	}
}

// WithLogger sets the logger. By default logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(r *URLRepository) {
		r.logger = l
	}
}

func NewURLRepository(opts ...Option) *URLRepository {
	r := &URLRepository{
		clock:   clock.Real,
		logger:  slog.New(slog.DiscardHandler),
		records: make(map[string]*entity.URL),
		byURL:   make(map[string][]string),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Save stores originalURL under shortCode with fresh statistics, replacing any
// record already stored under that code.
func (r *URLRepository) Save(_ context.Context, shortCode, originalURL string) (*entity.URL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[shortCode]; ok {
		r.logger.Warn("overwriting existing short code", slog.String("short_code", shortCode))
		r.removeLocked(shortCode)
	}

	return r.insertLocked(shortCode, originalURL).Clone(), nil
}

// SaveIfAbsent stores originalURL under shortCode only if the code is free.
// The boolean reports whether the record was created.
func (r *URLRepository) SaveIfAbsent(_ context.Context, shortCode, originalURL string) (*entity.URL, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[shortCode]; ok {
		return nil, false, nil
	}

	return r.insertLocked(shortCode, originalURL).Clone(), true, nil
}

func (r *URLRepository) Get(_ context.Context, shortCode string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	url, ok := r.records[shortCode]
	if !ok {
		return "", false
	}

	return url.OriginalURL, true
}

// FindByURL returns the oldest record pointing at originalURL.
func (r *URLRepository) FindByURL(_ context.Context, originalURL string) (*entity.URL, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := r.byURL[originalURL]
	if len(codes) == 0 {
		return nil, false
	}

	return r.records[codes[0]].Clone(), true
}

// RecordAccess bumps the access counter and the last access time of shortCode.
// Unknown codes are ignored.
func (r *URLRepository) RecordAccess(_ context.Context, shortCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if url, ok := r.records[shortCode]; ok {
		r.touchLocked(url)
	}

	return nil
}

// RetrieveAndRecordAccess looks up shortCode and records the access in one step.
func (r *URLRepository) RetrieveAndRecordAccess(_ context.Context, shortCode string) (*entity.URL, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	url, ok := r.records[shortCode]
	if !ok {
		return nil, false, nil
	}

	r.touchLocked(url)

	return url.Clone(), true, nil
}

func (r *URLRepository) GetStats(_ context.Context, shortCode string) (*entity.URL, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	url, ok := r.records[shortCode]
	if !ok {
		return nil, false
	}

	return url.Clone(), true
}

// List returns up to limit records starting at offset skip, in insertion
// order, together with the total number of records.
func (r *URLRepository) List(_ context.Context, skip, limit int) ([]*entity.URL, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := len(r.order)
	urls := make([]*entity.URL, 0)

	if skip < 0 || limit <= 0 || skip >= total {
		return urls, total
	}

	end := min(skip+limit, total)
	for _, code := range r.order[skip:end] {
		urls = append(urls, r.records[code].Clone())
	}

	return urls, total
}

func (r *URLRepository) Count(_ context.Context) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

// Update replaces the original URL of shortCode, keeping its statistics.
func (r *URLRepository) Update(_ context.Context, shortCode, originalURL string) (*entity.URL, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	url, ok := r.records[shortCode]
	if !ok {
		return nil, false, nil
	}

	r.unindexURLLocked(url.OriginalURL, shortCode)
	url.OriginalURL = originalURL
	r.byURL[originalURL] = append(r.byURL[originalURL], shortCode)

	return url.Clone(), true, nil
}

// Delete removes shortCode from every index.
func (r *URLRepository) Delete(_ context.Context, shortCode string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[shortCode]; !ok {
		return false, nil
	}

	r.removeLocked(shortCode)

	return true, nil
}

// HealthCheck verifies that the indexes agree with each other.
func (r *URLRepository) HealthCheck(_ context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) != len(r.records) {
		r.logger.Error("inconsistent indexes",
			slog.Int("records", len(r.records)),
			slog.Int("order", len(r.order)))
		return false
	}

	indexed := 0
	for _, codes := range r.byURL {
		indexed += len(codes)
	}

	if indexed != len(r.records) {
		r.logger.Error("inconsistent reverse index",
			slog.Int("records", len(r.records)),
			slog.Int("indexed", indexed))
		return false
	}

	return true
}

// Snapshot returns copies of every record in insertion order.
func (r *URLRepository) Snapshot() []*entity.URL {
	r.mu.RLock()
	defer r.mu.RUnlock()

	urls := make([]*entity.URL, 0, len(r.order))
	for _, code := range r.order {
		urls = append(urls, r.records[code].Clone())
	}

	return urls
}

// Restore replaces the repository content with urls, keeping their order and
// statistics. Later entries win on duplicate short codes.
func (r *URLRepository) Restore(urls []*entity.URL) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]*entity.URL, len(urls))
	r.order = make([]string, 0, len(urls))
	r.byURL = make(map[string][]string, len(urls))

	for _, url := range urls {
		if _, ok := r.records[url.ShortCode]; ok {
			r.removeLocked(url.ShortCode)
		}

		r.records[url.ShortCode] = url.Clone()
		r.order = append(r.order, url.ShortCode)
		r.byURL[url.OriginalURL] = append(r.byURL[url.OriginalURL], url.ShortCode)
	}
}

func (r *URLRepository) insertLocked(shortCode, originalURL string) *entity.URL {
	url := &entity.URL{
		ShortCode:   shortCode,
		OriginalURL: originalURL,
		CreatedAt:   r.clock.Now(),
	}

	r.records[shortCode] = url
	r.order = append(r.order, shortCode)
	r.byURL[originalURL] = append(r.byURL[originalURL], shortCode)

	return url
}

func (r *URLRepository) touchLocked(url *entity.URL) {
	now := r.clock.Now()
	url.AccessCount++
	url.LastAccessedAt = &now
}

func (r *URLRepository) removeLocked(shortCode string) {
	url := r.records[shortCode]
	delete(r.records, shortCode)
	r.unindexURLLocked(url.OriginalURL, shortCode)

	for i, code := range r.order {
		if code == shortCode {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *URLRepository) unindexURLLocked(originalURL, shortCode string) {
	codes := r.byURL[originalURL]
	for i, code := range codes {
		if code == shortCode {
			codes = append(codes[:i], codes[i+1:]...)
			break
		}
	}

	if len(codes) == 0 {
		delete(r.byURL, originalURL)
		return
	}

	r.byURL[originalURL] = codes
}
