package security

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vadimbarashkov/shortlink/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIP = "203.0.113.7"

var startTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func setupGuard(t *testing.T, modify func(*Config)) (*Guard, *clock.Fake) {
	t.Helper()

	cfg := DefaultConfig()
	if modify != nil {
		modify(&cfg)
	}

	clk := clock.NewFake(startTime)

	return NewGuard(cfg, WithClock(clk)), clk
}

func smallLimits(cfg *Config) {
	cfg.RateLimitRequests = 3
	cfg.RateLimitPeriod = 60 * time.Second
	cfg.IPBlockDuration = 5 * time.Minute
	cfg.MaxFailedRequests = 3
}

func TestGuard_CheckRateLimit(t *testing.T) {
	g, clk := setupGuard(t, smallLimits)

	for i := range 3 {
		assert.True(t, g.CheckRateLimit(testIP), "request %d", i+1)
		clk.Advance(time.Second)
	}

	assert.False(t, g.CheckRateLimit(testIP))
	assert.True(t, g.IsBlocked(testIP))

	// The window has slid past every request, the block still holds.
	clk.Advance(2 * time.Minute)
	assert.False(t, g.CheckRateLimit(testIP))
	assert.True(t, g.IsBlocked(testIP))

	assert.True(t, g.CheckRateLimit("198.51.100.1"))
}

func TestGuard_WindowSlides(t *testing.T) {
	g, clk := setupGuard(t, smallLimits)

	for range 3 {
		require.True(t, g.CheckRateLimit(testIP))
	}

	clk.Advance(60 * time.Second)

	assert.True(t, g.CheckRateLimit(testIP))
	assert.False(t, g.IsBlocked(testIP))
}

func TestGuard_BlockExpiry(t *testing.T) {
	g, clk := setupGuard(t, smallLimits)

	for range 4 {
		g.CheckRateLimit(testIP)
	}
	require.True(t, g.IsBlocked(testIP))

	clk.Advance(5*time.Minute - time.Nanosecond)
	assert.True(t, g.IsBlocked(testIP))

	clk.Advance(time.Nanosecond)

	// Rate counting starts over after the lazy unblock.
	for i := range 3 {
		assert.True(t, g.CheckRateLimit(testIP), "request %d", i+1)
	}
	assert.False(t, g.CheckRateLimit(testIP))
}

func TestGuard_BlockIPOverwrites(t *testing.T) {
	g, clk := setupGuard(t, smallLimits)

	g.BlockIP(testIP)
	clk.Advance(4 * time.Minute)
	g.BlockIP(testIP)
	clk.Advance(4 * time.Minute)

	assert.True(t, g.IsBlocked(testIP))

	clk.Advance(time.Minute)
	assert.False(t, g.IsBlocked(testIP))
}

func TestGuard_RetryAfter(t *testing.T) {
	g, clk := setupGuard(t, smallLimits)

	assert.Zero(t, g.RetryAfter(testIP))

	g.BlockIP(testIP)
	assert.Equal(t, 5*time.Minute, g.RetryAfter(testIP))

	clk.Advance(3*time.Minute + 30*time.Second)
	assert.Equal(t, 90*time.Second, g.RetryAfter(testIP))

	clk.Advance(90 * time.Second)
	assert.Zero(t, g.RetryAfter(testIP))
	assert.False(t, g.IsBlocked(testIP))
}

func TestGuard_RecordFailure(t *testing.T) {
	g, _ := setupGuard(t, smallLimits)

	g.RecordFailure(testIP)
	g.RecordFailure(testIP)
	assert.False(t, g.IsBlocked(testIP))

	g.RecordFailure(testIP)
	assert.True(t, g.IsBlocked(testIP))
	assert.False(t, g.CheckRateLimit(testIP))
}

func TestGuard_ClearFailures(t *testing.T) {
	g, _ := setupGuard(t, smallLimits)

	g.RecordFailure(testIP)
	g.RecordFailure(testIP)
	g.ClearFailures(testIP)
	g.RecordFailure(testIP)

	assert.False(t, g.IsBlocked(testIP))
}

func TestGuard_ValidateURL(t *testing.T) {
	g, _ := setupGuard(t, nil)

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "https", url: "https://a.com", want: true},
		{name: "http with path", url: "http://example.com/a/b?c=d", want: true},
		{name: "uppercase scheme", url: "HTTPS://example.com", want: true},
		{name: "scheme not allowed", url: "ftp://example.com", want: false},
		{name: "blocked domain", url: "http://localhost", want: false},
		{name: "blocked domain with port", url: "http://localhost:8080/admin", want: false},
		{name: "blocked domain mixed case", url: "http://LocalHost", want: false},
		{name: "blocked ip", url: "https://127.0.0.1/", want: false},
		{name: "blocked domain with trailing dot", url: "http://localhost./", want: false},
		{name: "blocked domain with trailing dot and port", url: "http://LOCALHOST.:8080", want: false},
		{name: "fully qualified host", url: "https://example.com./", want: true},
		{name: "root dot host", url: "https://./", want: false},
		{name: "missing host", url: "https://", want: false},
		{name: "no scheme", url: "example.com", want: false},
		{name: "unparsable", url: "http://[::1", want: false},
		{name: "too long", url: "https://example.com/" + strings.Repeat("a", 2048), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.ValidateURL(tt.url))
		})
	}
}

func TestGuard_SanitizeURL(t *testing.T) {
	g, _ := setupGuard(t, nil)

	tests := []struct {
		in   string
		want string
	}{
		{in: "  example.com ", want: "https://example.com"},
		{in: "http://example.com", want: "http://example.com"},
		{in: "\thttps://example.com/path\n", want: "https://example.com/path"},
		{in: "ftp://example.com", want: "https://ftp://example.com"},
		{in: "", want: "https://"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, g.SanitizeURL(tt.in))
		})
	}
}

func TestGuard_Sweep(t *testing.T) {
	g, clk := setupGuard(t, smallLimits)

	const (
		blockedIP = "192.0.2.1"
		activeIP  = "192.0.2.2"
		failedIP  = "192.0.2.3"
	)

	g.BlockIP(blockedIP)
	g.RecordFailure(failedIP)
	require.True(t, g.CheckRateLimit(activeIP))
	require.True(t, g.CheckRateLimit(failedIP))
	assert.Equal(t, 3, g.TrackedClients())

	clk.Advance(30 * time.Second)
	require.True(t, g.CheckRateLimit(activeIP))

	assert.Equal(t, SweepResult{}, g.Sweep())

	clk.Advance(45 * time.Second)
	res := g.Sweep()

	assert.Equal(t, SweepResult{Windows: 1, Failures: 1}, res)
	assert.Equal(t, 2, g.TrackedClients())

	clk.Advance(5 * time.Minute)
	res = g.Sweep()

	assert.Equal(t, SweepResult{Blocks: 1, Windows: 1}, res)
	assert.Equal(t, 2, res.Total())
	assert.Equal(t, 0, g.TrackedClients())
}

func TestGuard_SweepKeepsFailuresOfBlockedIP(t *testing.T) {
	g, clk := setupGuard(t, smallLimits)

	for range 3 {
		g.RecordFailure(testIP)
	}
	require.True(t, g.IsBlocked(testIP))

	clk.Advance(2 * time.Minute)
	res := g.Sweep()

	assert.Equal(t, 0, res.Failures)
	assert.Equal(t, 1, g.TrackedClients())
}

func TestGuard_ConcurrentRateLimit(t *testing.T) {
	g, _ := setupGuard(t, func(cfg *Config) {
		cfg.RateLimitRequests = 50
	})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.CheckRateLimit(testIP) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, admitted)
	assert.True(t, g.IsBlocked(testIP))
}
