// Package file implements a URL repository that keeps its records in memory and
// rewrites a JSON snapshot of them on every change.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vadimbarashkov/shortlink/internal/adapter/repository/memory"
	"github.com/vadimbarashkov/shortlink/internal/clock"
	"github.com/vadimbarashkov/shortlink/internal/entity"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const probeFileName = ".healthcheck"

// document is the on-disk layout of the snapshot.
type document struct {
	URLs  map[string]string    `json:"urls"`
	Stats map[string]statsJSON `json:"stats"`
}

type statsJSON struct {
	AccessCount  int64      `json:"access_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed *time.Time `json:"last_accessed"`
}

// URLRepository is an in-memory repository backed by a JSON file.
// Reads are served from memory. Each mutation is applied in memory and then
// the whole snapshot is rewritten; if the write fails the mutation stays in
// memory and the method returns an error wrapping entity.ErrNotPersisted.
type URLRepository struct {
	mu     sync.Mutex // serializes mutations with their snapshot writes
	path   string
	mem    *memory.URLRepository
	logger *slog.Logger
}

// Option configures a URLRepository.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// NewURLRepository loads the snapshot stored at path. A missing file yields an
// empty repository; the parent directory is created if needed.
func NewURLRepository(path string, opts ...Option) (*URLRepository, error) {
	const op = "adapter.repository.file.NewURLRepository"

	o := options{
		clock:  clock.Real,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%s: failed to create data directory: %w", op, err)
	}

	urls, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	mem := memory.NewURLRepository(memory.WithClock(o.clock), memory.WithLogger(o.logger))
	mem.Restore(urls)

	o.logger.Info("url repository loaded", slog.String("path", path), slog.Int("urls", len(urls)))

	return &URLRepository{
		path:   path,
		mem:    mem,
		logger: o.logger,
	}, nil
}

func (r *URLRepository) Save(ctx context.Context, shortCode, originalURL string) (*entity.URL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	url, err := r.mem.Save(ctx, shortCode, originalURL)
	if err != nil {
		return nil, err
	}

	return url, r.persist()
}

func (r *URLRepository) SaveIfAbsent(ctx context.Context, shortCode, originalURL string) (*entity.URL, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	url, saved, err := r.mem.SaveIfAbsent(ctx, shortCode, originalURL)
	if err != nil || !saved {
		return url, saved, err
	}

	return url, true, r.persist()
}

func (r *URLRepository) Get(ctx context.Context, shortCode string) (string, bool) {
	return r.mem.Get(ctx, shortCode)
}

func (r *URLRepository) FindByURL(ctx context.Context, originalURL string) (*entity.URL, bool) {
	return r.mem.FindByURL(ctx, originalURL)
}

func (r *URLRepository) RecordAccess(ctx context.Context, shortCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mem.Get(ctx, shortCode); !ok {
		return nil
	}

	if err := r.mem.RecordAccess(ctx, shortCode); err != nil {
		return err
	}

	return r.persist()
}

func (r *URLRepository) RetrieveAndRecordAccess(ctx context.Context, shortCode string) (*entity.URL, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	url, ok, err := r.mem.RetrieveAndRecordAccess(ctx, shortCode)
	if err != nil || !ok {
		return url, ok, err
	}

	return url, true, r.persist()
}

func (r *URLRepository) GetStats(ctx context.Context, shortCode string) (*entity.URL, bool) {
	return r.mem.GetStats(ctx, shortCode)
}

func (r *URLRepository) List(ctx context.Context, skip, limit int) ([]*entity.URL, int) {
	return r.mem.List(ctx, skip, limit)
}

func (r *URLRepository) Count(ctx context.Context) int {
	return r.mem.Count(ctx)
}

func (r *URLRepository) Update(ctx context.Context, shortCode, originalURL string) (*entity.URL, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	url, ok, err := r.mem.Update(ctx, shortCode, originalURL)
	if err != nil || !ok {
		return url, ok, err
	}

	return url, true, r.persist()
}

func (r *URLRepository) Delete(ctx context.Context, shortCode string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok, err := r.mem.Delete(ctx, shortCode)
	if err != nil || !ok {
		return ok, err
	}

	return true, r.persist()
}

// HealthCheck checks the in-memory indexes and round-trips a random token
// through a probe file in the data directory.
func (r *URLRepository) HealthCheck(ctx context.Context) bool {
	const op = "adapter.repository.file.URLRepository.HealthCheck"

	if !r.mem.HealthCheck(ctx) {
		return false
	}

	token, err := gonanoid.New()
	if err != nil {
		r.logger.Error("failed to generate probe token", slog.String("op", op), slog.Any("err", err))
		return false
	}

	probe, err := os.CreateTemp(filepath.Dir(r.path), probeFileName+".*")
	if err != nil {
		r.logger.Error("failed to create probe file", slog.String("op", op), slog.Any("err", err))
		return false
	}
	defer os.Remove(probe.Name())

	_, err = probe.WriteString(token)
	if closeErr := probe.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		r.logger.Error("failed to write probe file", slog.String("op", op), slog.Any("err", err))
		return false
	}

	data, err := os.ReadFile(probe.Name())
	if err != nil {
		r.logger.Error("failed to read probe file", slog.String("op", op), slog.Any("err", err))
		return false
	}

	return string(data) == token
}

// persist must be called with r.mu held.
func (r *URLRepository) persist() error {
	const op = "adapter.repository.file.URLRepository.persist"

	if err := write(r.path, r.mem.Snapshot()); err != nil {
		r.logger.Error("failed to persist urls", slog.String("op", op), slog.Any("err", err))
		return fmt.Errorf("%s: %w: %w", op, entity.ErrNotPersisted, err)
	}

	return nil
}

func load(path string) ([]*entity.URL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	urls := make([]*entity.URL, 0, len(doc.URLs))
	for code, original := range doc.URLs {
		st := doc.Stats[code]
		urls = append(urls, &entity.URL{
			ShortCode:   code,
			OriginalURL: original,
			URLStats: entity.URLStats{
				AccessCount:    st.AccessCount,
				LastAccessedAt: st.LastAccessed,
			},
			CreatedAt: st.CreatedAt,
		})
	}

	sort.Slice(urls, func(i, j int) bool {
		if !urls[i].CreatedAt.Equal(urls[j].CreatedAt) {
			return urls[i].CreatedAt.Before(urls[j].CreatedAt)
		}
		return urls[i].ShortCode < urls[j].ShortCode
	})

	return urls, nil
}

func write(path string, urls []*entity.URL) error {
	doc := document{
		URLs:  make(map[string]string, len(urls)),
		Stats: make(map[string]statsJSON, len(urls)),
	}

	for _, u := range urls {
		doc.URLs[u.ShortCode] = u.OriginalURL
		doc.Stats[u.ShortCode] = statsJSON{
			AccessCount:  u.AccessCount,
			CreatedAt:    u.CreatedAt,
			LastAccessed: u.LastAccessedAt,
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	return nil
}
