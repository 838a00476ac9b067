package http

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vadimbarashkov/shortlink/pkg/response"
)

type admissionGuard interface {
	CheckRateLimit(ip string) bool
	RecordFailure(ip string)
	RetryAfter(ip string) time.Duration
}

type metricsRecorder interface {
	URLShortened()
	Redirect(hit bool)
	Admission(admitted bool)
	Failure()
	ObserveRequest(method, route string, status int, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) URLShortened() {}
func (noopMetrics) Redirect(bool) {}
func (noopMetrics) Admission(bool) {}
func (noopMetrics) Failure() {}
func (noopMetrics) ObserveRequest(string, string, int, time.Duration) {}

// securityMiddleware admits requests through the guard rate limiter and reports every
// response with a status of 400 or above as a failure of the client.
func securityMiddleware(guard admissionGuard, metrics metricsRecorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if !guard.CheckRateLimit(ip) {
				metrics.Admission(false)
				logger.Warn("request denied", slog.String("ip", ip), slog.String("path", r.URL.Path))

				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(guard.RetryAfter(ip))))
				response.RateLimited(w, r)
				return
			}

			metrics.Admission(true)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if ww.Status() >= http.StatusBadRequest {
				guard.RecordFailure(ip)
				metrics.Failure()
			}
		})
	}
}

// retryAfterSeconds rounds d up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int {
	return max(int((d+time.Second-1)/time.Second), 1)
}

// instrument records the latency of every request under its route pattern.
func instrument(metrics metricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			metrics.ObserveRequest(r.Method, route, status, time.Since(start))
		})
	}
}

// clientIP returns the host part of RemoteAddr, which middleware.RealIP may
// already have replaced with a forwarded address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
