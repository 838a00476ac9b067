package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vadimbarashkov/shortlink/internal/clock"
	"github.com/vadimbarashkov/shortlink/internal/entity"
	"github.com/vadimbarashkov/shortlink/pkg/shortcode"

	"golang.org/x/sync/singleflight"
)

var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating short code")

type urlRepository interface {
	SaveIfAbsent(ctx context.Context, shortCode, originalURL string) (*entity.URL, bool, error)
	Get(ctx context.Context, shortCode string) (string, bool)
	FindByURL(ctx context.Context, originalURL string) (*entity.URL, bool)
	RetrieveAndRecordAccess(ctx context.Context, shortCode string) (*entity.URL, bool, error)
	GetStats(ctx context.Context, shortCode string) (*entity.URL, bool)
	List(ctx context.Context, skip, limit int) ([]*entity.URL, int)
	Count(ctx context.Context) int
	Update(ctx context.Context, shortCode, originalURL string) (*entity.URL, bool, error)
	Delete(ctx context.Context, shortCode string) (bool, error)
	HealthCheck(ctx context.Context) bool
}

type URLUseCase struct {
	urlRepo urlRepository
	clock   clock.Clock
	logger  *slog.Logger
	flights singleflight.Group
}

type Option func(*URLUseCase)

func WithClock(c clock.Clock) Option {
	return func(uc *URLUseCase) {
		uc.clock = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(uc *URLUseCase) {
		uc.logger = l
	}
}

func NewURLUseCase(urlRepo urlRepository, opts ...Option) *URLUseCase {
	uc := &URLUseCase{
		urlRepo: urlRepo,
		clock:   clock.Real,
		logger:  slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// ShortenURL returns the record of originalURL, creating it when the URL has
// not been shortened yet. Concurrent calls for the same URL share one result.
func (uc *URLUseCase) ShortenURL(ctx context.Context, originalURL string) (*entity.URL, error) {
	v, err, _ := uc.flights.Do(originalURL, func() (any, error) {
		return uc.shorten(ctx, originalURL)
	})
	if err != nil {
		return nil, err
	}

	return v.(*entity.URL).Clone(), nil
}

func (uc *URLUseCase) shorten(ctx context.Context, originalURL string) (*entity.URL, error) {
	const op = "usecase.URLUseCase.ShortenURL"
	const maxRetries = 5

	if url, ok := uc.urlRepo.FindByURL(ctx, originalURL); ok {
		uc.logger.Debug("url already shortened", slog.String("short_code", url.ShortCode))
		return url, nil
	}

	exists := func(code string) bool {
		_, ok := uc.urlRepo.Get(ctx, code)
		return ok
	}

	for range maxRetries {
		shortCode, err := shortcode.Generate(originalURL, exists, uc.clock.Now)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to generate short code: %w", op, err)
		}

		url, saved, err := uc.urlRepo.SaveIfAbsent(ctx, shortCode, originalURL)
		if err := uc.checkPersisted(op, shortCode, err); err != nil {
			return nil, fmt.Errorf("%s: failed to shorten url: %w", op, err)
		}

		if !saved {
			uc.logger.Debug("short code taken concurrently", slog.String("short_code", shortCode))
			continue
		}

		uc.logger.Info("url shortened",
			slog.String("short_code", url.ShortCode),
			slog.String("original_url", url.OriginalURL))

		return url, nil
	}

	return nil, fmt.Errorf("%s: %w", op, ErrMaxRetriesExceeded)
}

// ResolveShortCode returns the record of shortCode and records the access.
func (uc *URLUseCase) ResolveShortCode(ctx context.Context, shortCode string) (*entity.URL, bool, error) {
	const op = "usecase.URLUseCase.ResolveShortCode"

	url, ok, err := uc.urlRepo.RetrieveAndRecordAccess(ctx, shortCode)
	if err := uc.checkPersisted(op, shortCode, err); err != nil {
		return nil, false, fmt.Errorf("%s: failed to resolve short code: %w", op, err)
	}

	if !ok {
		uc.logger.Debug("short code not found", slog.String("short_code", shortCode))
	}

	return url, ok, nil
}

func (uc *URLUseCase) GetURLStats(ctx context.Context, shortCode string) (*entity.URL, bool) {
	return uc.urlRepo.GetStats(ctx, shortCode)
}

func (uc *URLUseCase) ListURLs(ctx context.Context, skip, limit int) ([]*entity.URL, int) {
	return uc.urlRepo.List(ctx, skip, limit)
}

func (uc *URLUseCase) CountURLs(ctx context.Context) int {
	return uc.urlRepo.Count(ctx)
}

func (uc *URLUseCase) ModifyURL(ctx context.Context, shortCode, originalURL string) (*entity.URL, bool, error) {
	const op = "usecase.URLUseCase.ModifyURL"

	url, ok, err := uc.urlRepo.Update(ctx, shortCode, originalURL)
	if err := uc.checkPersisted(op, shortCode, err); err != nil {
		return nil, false, fmt.Errorf("%s: failed to modify url: %w", op, err)
	}

	if ok {
		uc.logger.Info("url modified",
			slog.String("short_code", shortCode),
			slog.String("original_url", originalURL))
	}

	return url, ok, nil
}

func (uc *URLUseCase) DeactivateURL(ctx context.Context, shortCode string) (bool, error) {
	const op = "usecase.URLUseCase.DeactivateURL"

	ok, err := uc.urlRepo.Delete(ctx, shortCode)
	if err := uc.checkPersisted(op, shortCode, err); err != nil {
		return false, fmt.Errorf("%s: failed to deactivate url: %w", op, err)
	}

	if ok {
		uc.logger.Info("url deactivated", slog.String("short_code", shortCode))
	}

	return ok, nil
}

func (uc *URLUseCase) HealthCheck(ctx context.Context) bool {
	ok := uc.urlRepo.HealthCheck(ctx)
	if !ok {
		uc.logger.Error("storage health check failed")
	}

	return ok
}

// checkPersisted drops errors that only report a failed snapshot write: the
// change is live in memory, so the operation counts as done.
func (uc *URLUseCase) checkPersisted(op, shortCode string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, entity.ErrNotPersisted) {
		uc.logger.Warn("change not persisted",
			slog.String("op", op),
			slog.String("short_code", shortCode),
			slog.Any("err", err))
		return nil
	}

	return err
}
