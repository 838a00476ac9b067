package recoverer

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/vadimbarashkov/shortlink/pkg/middleware"
	"github.com/vadimbarashkov/shortlink/pkg/response"
)

// New returns a middleware that turns a panic in next into a 500 JSON response.
// http.ErrAbortHandler is re-raised so the server can abort the connection.
func New(logger *slog.Logger) middleware.Middleware {
	const op = "middleware.recoverer.New"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error(
					"something went wrong, panic occurred",
					slog.Group(op,
						slog.Any("err", rec),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("stack", string(debug.Stack())),
					),
				)

				response.Internal(w, r)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
