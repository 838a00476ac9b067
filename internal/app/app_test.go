package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadimbarashkov/shortlink/internal/config"
	"github.com/vadimbarashkov/shortlink/internal/security"
)

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Log.Level = "error"
	cfg.HTTPServer.Port = freePort(t)

	return cfg
}

func TestRun(t *testing.T) {
	for _, storage := range []string{config.StorageMemory, config.StorageFile} {
		t.Run(storage, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Storage.Type = storage
			cfg.Storage.Path = filepath.Join(t.TempDir(), "urls.json")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				errCh <- Run(ctx, cfg)
			}()

			url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", cfg.HTTPServer.Port)

			assert.EventuallyWithT(t, func(c *assert.CollectT) {
				resp, err := http.Get(url)
				if !assert.NoError(c, err) {
					return
				}
				defer resp.Body.Close()
				io.Copy(io.Discard, resp.Body)

				assert.Equal(c, http.StatusOK, resp.StatusCode)
			}, 5*time.Second, 50*time.Millisecond)

			cancel()

			select {
			case err := <-errCh:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("server did not stop")
			}
		})
	}
}

func TestRun_CorruptSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = config.StorageFile
	cfg.Storage.Path = filepath.Join(t.TempDir(), "urls.json")

	require.NoError(t, os.WriteFile(cfg.Storage.Path, []byte("{broken"), 0o644))

	err := Run(context.Background(), cfg)

	assert.ErrorContains(t, err, "failed to init storage")
}

func TestNewLoggers(t *testing.T) {
	t.Run("stdout only", func(t *testing.T) {
		cfg := testConfig(t)

		logs, err := newLoggers(cfg)
		require.NoError(t, err)

		assert.Empty(t, logs.files)
		assert.NoError(t, logs.Close())
	})

	t.Run("component files", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Log.Dir = filepath.Join(t.TempDir(), "logs")

		logs, err := newLoggers(cfg)
		require.NoError(t, err)

		logs.api.Error("api message")
		logs.security.Error("security message")
		logs.storage.Error("storage message")
		require.NoError(t, logs.Close())

		for _, component := range []string{"api", "security", "storage"} {
			data, err := os.ReadFile(filepath.Join(cfg.Log.Dir, component+".log"))
			require.NoError(t, err)
			assert.Contains(t, string(data), component+" message")
		}
	})
}

func TestRunSweeper(t *testing.T) {
	guard := security.NewGuard(security.Config{
		RateLimitRequests: 10,
		RateLimitPeriod:   time.Millisecond,
		IPBlockDuration:   time.Millisecond,
		MaxFailedRequests: 10,
	})
	guard.CheckRateLimit("192.0.2.1")
	guard.BlockIP("192.0.2.2")
	require.Equal(t, 2, guard.TrackedClients())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		runSweeper(ctx, guard, 5*time.Millisecond, slog.New(slog.DiscardHandler))
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return guard.TrackedClients() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
