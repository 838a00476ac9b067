package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("non-existent config file", func(t *testing.T) {
		cfg, err := Load("invalid/path/to/config.yml")

		assert.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Nil(t, cfg)
	})

	t.Run("empty path", func(t *testing.T) {
		cfg, err := Load("")

		require.NoError(t, err)

		var wantCfg Config
		setDefaults(&wantCfg)

		assert.Equal(t, wantCfg, *cfg)
	})

	t.Run("empty config file", func(t *testing.T) {
		f := createTempFile(t, nil)
		cfg, err := Load(f.Name())

		require.NoError(t, err)
		assert.Equal(t, EnvDev, cfg.Env)
	})

	t.Run("invalid config file", func(t *testing.T) {
		data := `http_server:
  port: not number
  cert_file: ./crts/example.pem
  key_file: ./crts/example-key.pem`

		f := createTempFile(t, []byte(data))
		cfg, err := Load(f.Name())

		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("invalid values", func(t *testing.T) {
		data := `env: test
log:
  dir: ./logs
  max_size_mb: 0
storage:
  type: redis
security:
  rate_limit_requests: 0`

		f := createTempFile(t, []byte(data))
		cfg, err := Load(f.Name())

		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.ErrorContains(t, err, `unknown env "test"`)
		assert.ErrorContains(t, err, `unknown storage type "redis"`)
		assert.ErrorContains(t, err, "security.rate_limit_requests must be positive")
		assert.ErrorContains(t, err, "log.max_size_mb must be positive")
	})

	t.Run("success", func(t *testing.T) {
		data := `env: prod
log:
  level: warn
  dir: /var/log/shortlink
  max_backups: 3
http_server:
  cert_file: ./crts/example.pem
  key_file: ./crts/example-key.pem
storage:
  type: file
  path: /var/lib/shortlink/urls.json
security:
  rate_limit_requests: 3
  rate_limit_period: 60s
  blocked_domains: [localhost, 127.0.0.1, internal.example.com]
  sweep_interval: 0s`

		f := createTempFile(t, []byte(data))
		cfg, err := Load(f.Name())

		require.NoError(t, err)

		var wantCfg Config
		setDefaults(&wantCfg)

		wantCfg.Env = EnvProd
		wantCfg.Log.Level = "warn"
	wantCfg.Log.Dir = "/var/log/shortlink"
	wantCfg.Log.MaxBackups = 3
		wantCfg.HTTPServer.CertFile = "./crts/example.pem"
		wantCfg.HTTPServer.KeyFile = "./crts/example-key.pem"
		wantCfg.Storage.Type = StorageFile
		wantCfg.Storage.Path = "/var/lib/shortlink/urls.json"
		wantCfg.Security.RateLimitRequests = 3
		wantCfg.Security.RateLimitPeriod = time.Minute
		wantCfg.Security.BlockedDomains = []string{"localhost", "127.0.0.1", "internal.example.com"}
		wantCfg.Security.SweepInterval = 0

		assert.Equal(t, wantCfg, *cfg)
	})
}

func TestHTTPServer_Addr(t *testing.T) {
	s := HTTPServer{Port: 9090}

	assert.Equal(t, ":9090", s.Addr())
}

func createTempFile(t testing.TB, data []byte) *os.File {
	t.Helper()

	f, err := os.CreateTemp("", "config.yml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	t.Cleanup(func() {
		f.Close()
		os.Remove(f.Name())
	})

	if _, err := f.Write(data); err != nil {
		t.Fatalf("Failed to write to file: %v", err)
	}

	return f
}
