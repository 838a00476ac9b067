// Package security implements per-client admission control and URL checks.
//
// A Guard tracks three pieces of state for every client IP: a sliding window
// of recent request instants, an optional block with an expiry time and a
// counter of failed requests. Expired blocks are evicted lazily on the next
// check; the remaining state is evicted by Sweep.
package security

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vadimbarashkov/shortlink/internal/clock"
)

// Config holds the Guard limits.
type Config struct {
	RateLimitRequests int
	RateLimitPeriod   time.Duration
	MaxURLLength      int
	IPBlockDuration   time.Duration
	MaxFailedRequests int
	AllowedSchemes    []string
	BlockedDomains    []string
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		RateLimitRequests: 100,
		RateLimitPeriod:   time.Hour,
		MaxURLLength:      2048,
		IPBlockDuration:   time.Hour,
		MaxFailedRequests: 100,
		AllowedSchemes:    []string{"http", "https"},
		BlockedDomains:    []string{"localhost", "127.0.0.1"},
	}
}

type failureCounter struct {
	count int
	last  time.Time
}

// SweepResult reports how many entries Sweep evicted.
type SweepResult struct {
	Blocks   int
	Windows  int
	Failures int
}

// Total returns the number of evicted entries.
func (r SweepResult) Total() int {
	return r.Blocks + r.Windows + r.Failures
}

type Guard struct {
	mu     sync.Mutex
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	allowedSchemes map[string]struct{}
	blockedDomains map[string]struct{}

	windows  map[string][]time.Time
	blocks   map[string]time.Time
	failures map[string]*failureCounter
}

// Option configures a Guard.
type Option func(*Guard)

func WithClock(c clock.Clock) Option {
	return func(g *Guard) {
		g.clock = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = l
	}
}

func NewGuard(cfg Config, opts ...Option) *Guard {
	g := &Guard{
		cfg:            cfg,
		clock:          clock.Real,
		logger:         slog.New(slog.DiscardHandler),
		allowedSchemes: toSet(cfg.AllowedSchemes),
		blockedDomains: toSet(cfg.BlockedDomains),
		windows:        make(map[string][]time.Time),
		blocks:         make(map[string]time.Time),
		failures:       make(map[string]*failureCounter),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// IsBlocked reports whether ip is currently blocked. An expired block is
// removed together with the rate window of ip.
func (g *Guard) IsBlocked(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.isBlockedLocked(ip, g.clock.Now())
}

// CheckRateLimit records a request from ip and reports whether it may proceed.
// A request that pushes the window over the limit blocks ip.
func (g *Guard) CheckRateLimit(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	g.pruneLocked(ip, now)

	if g.isBlockedLocked(ip, now) {
		return false
	}

	window := append(g.windows[ip], now)
	g.windows[ip] = window

	if len(window) > g.cfg.RateLimitRequests {
		g.logger.Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.Int("requests", len(window)),
			slog.Duration("period", g.cfg.RateLimitPeriod))
		g.blockLocked(ip, now)
		return false
	}

	return true
}

// BlockIP blocks ip for the configured duration, replacing any earlier block.
func (g *Guard) BlockIP(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.blockLocked(ip, g.clock.Now())
}

// RecordFailure counts a failed request from ip and blocks it once the
// configured maximum is reached.
func (g *Guard) RecordFailure(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()

	fc, ok := g.failures[ip]
	if !ok {
		fc = &failureCounter{}
		g.failures[ip] = fc
	}
	fc.count++
	fc.last = now

	if fc.count >= g.cfg.MaxFailedRequests {
		g.logger.Warn("too many failed requests",
			slog.String("ip", ip),
			slog.Int("failures", fc.count))
		g.blockLocked(ip, now)
	}
}

// ClearFailures resets the failure counter of ip.
func (g *Guard) ClearFailures(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.failures, ip)
}

// ValidateURL reports whether rawURL may be shortened.
func (g *Guard) ValidateURL(rawURL string) bool {
	if len(rawURL) > g.cfg.MaxURLLength {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		g.logger.Debug("invalid url", slog.String("url", rawURL), slog.Any("err", err))
		return false
	}

	if _, ok := g.allowedSchemes[strings.ToLower(u.Scheme)]; !ok {
		return false
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return false
	}

	_, blocked := g.blockedDomains[host]
	return !blocked
}

// SanitizeURL trims rawURL and adds the https scheme when no http(s) scheme is
// present.
func (g *Guard) SanitizeURL(rawURL string) string {
	s := strings.TrimSpace(rawURL)

	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return s
	}

	return "https://" + s
}

// Sweep evicts expired blocks, stale rate windows and failure counters of
// unblocked clients that have not failed within the rate-limit period.
func (g *Guard) Sweep() SweepResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	var res SweepResult

	for ip, until := range g.blocks {
		if !now.Before(until) {
			delete(g.blocks, ip)
			delete(g.windows, ip)
			res.Blocks++
		}
	}

	for ip := range g.windows {
		if len(g.pruneLocked(ip, now)) == 0 {
			delete(g.windows, ip)
			res.Windows++
		}
	}

	for ip, fc := range g.failures {
		if _, blocked := g.blocks[ip]; blocked {
			continue
		}
		if now.Sub(fc.last) >= g.cfg.RateLimitPeriod {
			delete(g.failures, ip)
			res.Failures++
		}
	}

	return res
}

// TrackedClients returns the number of distinct IPs the Guard holds state for.
func (g *Guard) TrackedClients() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	ips := make(map[string]struct{}, len(g.windows))
	for ip := range g.windows {
		ips[ip] = struct{}{}
	}
	for ip := range g.blocks {
		ips[ip] = struct{}{}
	}
	for ip := range g.failures {
		ips[ip] = struct{}{}
	}

	return len(ips)
}

// RetryAfter returns how long ip stays blocked, or zero when it is not
// blocked.
func (g *Guard) RetryAfter(ip string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if !g.isBlockedLocked(ip, now) {
		return 0
	}

	return g.blocks[ip].Sub(now)
}

func (g *Guard) isBlockedLocked(ip string, now time.Time) bool {
	until, ok := g.blocks[ip]
	if !ok {
		return false
	}

	if now.Before(until) {
		return true
	}

	delete(g.blocks, ip)
	delete(g.windows, ip)
	g.logger.Info("ip unblocked", slog.String("ip", ip))

	return false
}

func (g *Guard) blockLocked(ip string, now time.Time) {
	until := now.Add(g.cfg.IPBlockDuration)
	g.blocks[ip] = until
	g.logger.Warn("ip blocked", slog.String("ip", ip), slog.Time("until", until))
}

// pruneLocked drops the instants of ip that fell out of the window.
func (g *Guard) pruneLocked(ip string, now time.Time) []time.Time {
	window := g.windows[ip]

	i := 0
	for i < len(window) && now.Sub(window[i]) >= g.cfg.RateLimitPeriod {
		i++
	}

	if i > 0 {
		window = window[i:]
		g.windows[ip] = window
	}

	return window
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}
