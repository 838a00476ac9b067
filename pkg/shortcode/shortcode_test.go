package shortcode

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codeRe = regexp.MustCompile(`^[0-9a-f]{7}$`)

func fixedNow() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestHash(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		// md5("https://example.com") = c984d06aafbecf6bc55569f964148ea3
		{"example", "https://example.com", "c984d06"},
		// md5("") = d41d8cd98f00b204e9800998ecf8427e
		{"empty", "", "d41d8cd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Hash(tt.input)

			assert.Equal(t, tt.want, got)
			assert.Regexp(t, codeRe, got)
		})
	}
}

func TestGenerate(t *testing.T) {
	t.Run("no collision is deterministic", func(t *testing.T) {
		never := func(string) bool { return false }

		first, err := Generate("https://example.com", never, fixedNow)
		require.NoError(t, err)

		second, err := Generate("https://example.com", never, fixedNow)
		require.NoError(t, err)

		assert.Equal(t, Hash("https://example.com"), first)
		assert.Equal(t, first, second)
	})

	t.Run("collision is retried with a salted hash", func(t *testing.T) {
		taken := map[string]bool{Hash("https://example.com"): true}
		var checked []string

		code, err := Generate("https://example.com", func(c string) bool {
			checked = append(checked, c)
			return taken[c]
		}, fixedNow)

		require.NoError(t, err)
		assert.Regexp(t, codeRe, code)
		assert.NotEqual(t, Hash("https://example.com"), code)
		assert.Len(t, checked, 2)
	})

	t.Run("frozen clock still progresses", func(t *testing.T) {
		seen := map[string]bool{}
		calls := 0

		code, err := Generate("https://example.com", func(c string) bool {
			calls++
			if calls <= 3 {
				seen[c] = true
				return true
			}
			return false
		}, fixedNow)

		require.NoError(t, err)
		assert.Len(t, seen, 3)
		assert.False(t, seen[code])
	})

	t.Run("maximum attempts exceeded", func(t *testing.T) {
		always := func(string) bool { return true }

		code, err := Generate("https://example.com", always, fixedNow)

		assert.ErrorIs(t, err, ErrMaxAttemptsExceeded)
		assert.Empty(t, code)
	})
}
