package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

const (
	StorageMemory = "memory"
	StorageFile   = "file"
)

type Config struct {
	Env        string `yaml:"env"`
	Log        `yaml:"log"`
	HTTPServer `yaml:"http_server"`
	Storage    `yaml:"storage"`
	Security   `yaml:"security"`
}

// Log configures the loggers. When Dir is set every component also writes to
// its own rotating file in Dir.
type Log struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

var defaultLog = Log{
	Level:      "info",
	MaxSizeMB:  10,
	MaxBackups: 5,
}

type HTTPServer struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	CertFile       string        `yaml:"cert_file"`
	KeyFile        string        `yaml:"key_file"`
}

var defaultHTTPServer = HTTPServer{
	Port:           8080,
	ReadTimeout:    5 * time.Second,
	WriteTimeout:   10 * time.Second,
	IdleTimeout:    time.Minute,
	MaxHeaderBytes: 1 << 20,
}

func (s *HTTPServer) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type Storage struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

var defaultStorage = Storage{
	Type: StorageMemory,
	Path: "./data/urls.json",
}

type Security struct {
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitPeriod   time.Duration `yaml:"rate_limit_period"`
	MaxURLLength      int           `yaml:"max_url_length"`
	MaxRequestSize    int64         `yaml:"max_request_size"`
	IPBlockDuration   time.Duration `yaml:"ip_block_duration"`
	MaxFailedRequests int           `yaml:"max_failed_requests"`
	AllowedSchemes    []string      `yaml:"allowed_schemes"`
	BlockedDomains    []string      `yaml:"blocked_domains"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

func defaultSecurity() Security {
	return Security{
		RateLimitRequests: 100,
		RateLimitPeriod:   time.Hour,
		MaxURLLength:      2048,
		MaxRequestSize:    1 << 20,
		IPBlockDuration:   time.Hour,
		MaxFailedRequests: 100,
		AllowedSchemes:    []string{"http", "https"},
		BlockedDomains:    []string{"localhost", "127.0.0.1"},
		SweepInterval:     10 * time.Minute,
	}
}

// Load reads the YAML config at path on top of the defaults. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	var cfg Config
	setDefaults(&cfg)

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to open config file: %w", op, err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: failed to decode config file: %w", op, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}

	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]string{EnvDev, EnvStage, EnvProd}, c.Env) {
		errs = append(errs, fmt.Errorf("unknown env %q", c.Env))
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	if c.Log.Dir != "" {
		if c.Log.MaxSizeMB <= 0 {
			errs = append(errs, errors.New("log.max_size_mb must be positive"))
		}
		if c.Log.MaxBackups < 0 {
			errs = append(errs, errors.New("log.max_backups must not be negative"))
		}
	}

	if c.HTTPServer.Port <= 0 || c.HTTPServer.Port > 65535 {
		errs = append(errs, fmt.Errorf("http_server.port %d out of range", c.HTTPServer.Port))
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for file storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}

	s := c.Security
	if s.RateLimitRequests <= 0 {
		errs = append(errs, errors.New("security.rate_limit_requests must be positive"))
	}
	if s.RateLimitPeriod <= 0 {
		errs = append(errs, errors.New("security.rate_limit_period must be positive"))
	}
	if s.MaxURLLength <= 0 {
		errs = append(errs, errors.New("security.max_url_length must be positive"))
	}
	if s.MaxRequestSize <= 0 {
		errs = append(errs, errors.New("security.max_request_size must be positive"))
	}
	if s.IPBlockDuration <= 0 {
		errs = append(errs, errors.New("security.ip_block_duration must be positive"))
	}
	if s.MaxFailedRequests <= 0 {
		errs = append(errs, errors.New("security.max_failed_requests must be positive"))
	}
	if len(s.AllowedSchemes) == 0 {
		errs = append(errs, errors.New("security.allowed_schemes must not be empty"))
	}
	if s.SweepInterval < 0 {
		errs = append(errs, errors.New("security.sweep_interval must not be negative"))
	}

	return errors.Join(errs...)
}

func setDefaults(cfg *Config) {
	cfg.Env = EnvDev
	cfg.Log = defaultLog
	cfg.HTTPServer = defaultHTTPServer
	cfg.Storage = defaultStorage
	cfg.Security = defaultSecurity()
}
