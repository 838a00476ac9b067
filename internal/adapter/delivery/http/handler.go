package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/vadimbarashkov/shortlink/internal/entity"
	"github.com/vadimbarashkov/shortlink/pkg/response"
)

type urlUseCase interface {
	ShortenURL(ctx context.Context, originalURL string) (*entity.URL, error)
	ResolveShortCode(ctx context.Context, shortCode string) (*entity.URL, bool, error)
	GetURLStats(ctx context.Context, shortCode string) (*entity.URL, bool)
	ListURLs(ctx context.Context, skip, limit int) ([]*entity.URL, int)
	ModifyURL(ctx context.Context, shortCode, originalURL string) (*entity.URL, bool, error)
	DeactivateURL(ctx context.Context, shortCode string) (bool, error)
	HealthCheck(ctx context.Context) bool
}

type urlChecker interface {
	ValidateURL(rawURL string) bool
	SanitizeURL(rawURL string) string
}

var errURLNotAllowed = response.ValidationError{Field: "url", Message: "url is not allowed"}

type urlHandler struct {
	useCase  urlUseCase
	checker  urlChecker
	metrics  metricsRecorder
	validate *validator.Validate
}

func newURLHandler(useCase urlUseCase, checker urlChecker, metrics metricsRecorder, validate *validator.Validate) *urlHandler {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &urlHandler{
		useCase:  useCase,
		checker:  checker,
		metrics:  metrics,
		validate: validate,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, healthyResponse)
}

func (h *urlHandler) healthCheck(w http.ResponseWriter, r *http.Request) {
	if !h.useCase.HealthCheck(r.Context()) {
		response.Unavailable(w, r)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, healthyResponse)
}

func (h *urlHandler) redirect(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	url, ok, err := h.useCase.ResolveShortCode(r.Context(), shortCode)
	if err != nil {
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))
		response.Internal(w, r)
		return
	}

	h.metrics.Redirect(ok)

	if !ok {
		response.NotFound(w, r)
		return
	}

	http.Redirect(w, r, url.OriginalURL, http.StatusTemporaryRedirect)
}

func (h *urlHandler) shortenURL(w http.ResponseWriter, r *http.Request) {
	originalURL, ok := h.decodeURL(w, r)
	if !ok {
		return
	}

	url, err := h.useCase.ShortenURL(r.Context(), originalURL)
	if err != nil {
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))
		response.Internal(w, r)
		return
	}

	h.metrics.URLShortened()

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toURLResponse(url))
}

func (h *urlHandler) listURLs(w http.ResponseWriter, r *http.Request) {
	query, errs := parseListQuery(r)
	if len(errs) > 0 {
		response.ValidationFailed(w, r, errs...)
		return
	}

	if err := h.validate.Struct(query); err != nil {
		response.ValidationFailed(w, r, response.ValidationErrors(err)...)
		return
	}

	urls, total := h.useCase.ListURLs(r.Context(), query.Skip, query.Limit)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toURLListResponse(urls, total))
}

func (h *urlHandler) getURLStats(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	url, ok := h.useCase.GetURLStats(r.Context(), shortCode)
	if !ok {
		response.NotFound(w, r)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toURLStatsResponse(url))
}

func (h *urlHandler) modifyURL(w http.ResponseWriter, r *http.Request) {
	originalURL, ok := h.decodeURL(w, r)
	if !ok {
		return
	}

	shortCode := chi.URLParam(r, "shortCode")

	url, ok, err := h.useCase.ModifyURL(r.Context(), shortCode, originalURL)
	if err != nil {
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))
		response.Internal(w, r)
		return
	}

	if !ok {
		response.NotFound(w, r)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toURLResponse(url))
}

func (h *urlHandler) deactivateURL(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	ok, err := h.useCase.DeactivateURL(r.Context(), shortCode)
	if err != nil {
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))
		response.Internal(w, r)
		return
	}

	if !ok {
		response.NotFound(w, r)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, urlDeletedResponse)
}

// decodeURL reads a urlRequest, sanitizes the URL and checks it against the
// guard rules. On failure the error response is already written.
func (h *urlHandler) decodeURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req urlRequest

	if err := render.DecodeJSON(r.Body, &req); err != nil {
		var maxBytesErr *http.MaxBytesError

		switch {
		case errors.Is(err, io.EOF):
			response.EmptyRequestBody(w, r)
		case errors.As(err, &maxBytesErr):
			response.RequestTooLarge(w, r)
		default:
			response.InvalidRequestBody(w, r)
		}

		return "", false
	}

	if err := h.validate.Struct(req); err != nil {
		response.ValidationFailed(w, r, response.ValidationErrors(err)...)
		return "", false
	}

	// An explicit scheme is checked as given, so "ftp://host" is rejected
	// instead of becoming "https://ftp://host".
	raw := strings.TrimSpace(req.URL)
	originalURL := h.checker.SanitizeURL(raw)
	if (hasScheme(raw) && !h.checker.ValidateURL(raw)) || !h.checker.ValidateURL(originalURL) {
		httplog.LogEntrySetField(r.Context(), "rejected_url", slog.StringValue(originalURL))
		response.ValidationFailed(w, r, errURLNotAllowed)
		return "", false
	}

	return originalURL, true
}

// hasScheme reports whether rawURL starts with a "scheme://" prefix. A "://"
// further in, as in a nested redirect parameter, does not count.
func hasScheme(rawURL string) bool {
	i := strings.Index(rawURL, "://")
	if i <= 0 {
		return false
	}

	for j, c := range rawURL[:i] {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case j > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}

	return true
}

func parseListQuery(r *http.Request) (listQuery, []response.ValidationError) {
	query := listQuery{Skip: defaultSkip, Limit: defaultLimit}
	var errs []response.ValidationError

	params := r.URL.Query()

	if v := params.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, response.ValidationError{Field: "skip", Message: "must be an integer"})
		}
		query.Skip = n
	}

	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, response.ValidationError{Field: "limit", Message: "must be an integer"})
		}
		query.Limit = n
	}

	return query, errs
}
