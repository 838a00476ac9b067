package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vadimbarashkov/shortlink/internal/adapter/repository/file"
	"github.com/vadimbarashkov/shortlink/internal/adapter/repository/memory"
	"github.com/vadimbarashkov/shortlink/internal/config"
	"github.com/vadimbarashkov/shortlink/internal/metrics"
	"github.com/vadimbarashkov/shortlink/internal/security"
	"github.com/vadimbarashkov/shortlink/internal/usecase"

	delivery "github.com/vadimbarashkov/shortlink/internal/adapter/delivery/http"
)

const (
	serviceName     = "shortlink"
	swaggerFile     = "./docs/swagger.yml"
	shutdownTimeout = 10 * time.Second
)

func Run(ctx context.Context, cfg *config.Config) error {
	const op = "app.Run"

	logs, err := newLoggers(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer logs.Close()

	logger := logs.api

	urlUseCase, err := newURLUseCase(cfg, logs.storage)
	if err != nil {
		return fmt.Errorf("%s: failed to init storage: %w", op, err)
	}

	guard := security.NewGuard(guardConfig(cfg.Security), security.WithLogger(logs.security))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics.RegisterGauges(reg,
		func() int { return urlUseCase.CountURLs(context.Background()) },
		guard.TrackedClients,
	)

	router := delivery.NewRouter(logger, urlUseCase, guard, delivery.RouterConfig{
		MaxRequestSize: cfg.Security.MaxRequestSize,
		Metrics:        metrics.New(reg),
		MetricsHandler: metrics.Handler(reg),
		SwaggerFile:    swaggerFile,
	})

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        router,
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", server.Addr), slog.String("env", cfg.Env))

		var err error

		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: server error occurred: %w", op, err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: failed to shutdown server: %w", op, err)
		}

		return nil
	})

	if interval := cfg.Security.SweepInterval; interval > 0 {
		g.Go(func() error {
			runSweeper(ctx, guard, interval, logs.security)
			return nil
		})
	}

	return g.Wait()
}

// loggers holds one logger per component. The api logger also carries the
// request log.
type loggers struct {
	api      *httplog.Logger
	security *slog.Logger
	storage  *slog.Logger
	files    []io.Closer
}

func newLoggers(cfg *config.Config) (*loggers, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	l := &loggers{}
	l.api = l.newLogger(cfg, level, "api")
	l.security = l.newLogger(cfg, level, "security").Logger
	l.storage = l.newLogger(cfg, level, "storage").Logger

	return l, nil
}

func (l *loggers) newLogger(cfg *config.Config, level slog.Level, component string) *httplog.Logger {
	var w io.Writer = os.Stdout

	if cfg.Log.Dir != "" {
		out := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Log.Dir, component+".log"),
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}
		l.files = append(l.files, out)
		w = io.MultiWriter(os.Stdout, out)
	}

	return httplog.NewLogger(serviceName, httplog.Options{
		Writer:   w,
		JSON:     cfg.Env == config.EnvProd,
		LogLevel: level,
		Concise:  cfg.Env != config.EnvProd,
		Tags: map[string]string{
			"env":       cfg.Env,
			"component": component,
		},
	})
}

func (l *loggers) Close() error {
	var errs []error
	for _, f := range l.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

func newURLUseCase(cfg *config.Config, logger *slog.Logger) (*usecase.URLUseCase, error) {
	switch cfg.Storage.Type {
	case config.StorageFile:
		repo, err := file.NewURLRepository(cfg.Storage.Path, file.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return usecase.NewURLUseCase(repo, usecase.WithLogger(logger)), nil
	default:
		repo := memory.NewURLRepository(memory.WithLogger(logger))
		return usecase.NewURLUseCase(repo, usecase.WithLogger(logger)), nil
	}
}

func guardConfig(s config.Security) security.Config {
	return security.Config{
		RateLimitRequests: s.RateLimitRequests,
		RateLimitPeriod:   s.RateLimitPeriod,
		MaxURLLength:      s.MaxURLLength,
		IPBlockDuration:   s.IPBlockDuration,
		MaxFailedRequests: s.MaxFailedRequests,
		AllowedSchemes:    s.AllowedSchemes,
		BlockedDomains:    s.BlockedDomains,
	}
}

// runSweeper evicts stale guard state every interval until ctx is done.
func runSweeper(ctx context.Context, guard *security.Guard, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := guard.Sweep()
			if res.Total() > 0 {
				logger.Debug("guard state swept",
					slog.Int("blocks", res.Blocks),
					slog.Int("windows", res.Windows),
					slog.Int("failures", res.Failures),
					slog.Int("tracked_clients", guard.TrackedClients()))
			}
		}
	}
}
