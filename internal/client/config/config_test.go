package config

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Empty(t, c.BackendDSN)
	assert.Equal(t, "feedcache.db", c.CacheDSN)
	assert.Equal(t, 5*time.Minute, c.StaleAfter)
	assert.Equal(t, 20, c.FeedPageSize)
	assert.Equal(t, 50, c.NotificationPageSize)
	assert.Equal(t, 10*time.Second, c.FetchTimeout)
}

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })
	os.Args = append([]string{"testbin"}, args...)
}

func Test_parseJson(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"backend_dsn":      "postgres://feed@db/feed",
		"fetch_timeout":    "3s",
		"stale_after":      60000000000,
		"feed_page_size":   10,
		"promoted_authors": []string{"u-staff"},
		"s3_bucket":        "media",
		"cache_key":        "pass",
	})

	t.Run("overlays set fields only", func(t *testing.T) {
		withArgs(t, "-config", path)
		var cfg Config
		cfg.LoadDefaults()
		parseJson(&cfg)

		assert.Equal(t, "postgres://feed@db/feed", cfg.BackendDSN)
		assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
		assert.Equal(t, time.Minute, cfg.StaleAfter)
		assert.Equal(t, 10, cfg.FeedPageSize)
		assert.Equal(t, 50, cfg.NotificationPageSize)
		assert.Equal(t, []string{"u-staff"}, cfg.PromotedAuthors)
		assert.Equal(t, "media", cfg.S3Bucket)
		assert.Equal(t, "us-east-1", cfg.S3Region)
		assert.Equal(t, "pass", cfg.CacheKey)
	})

	t.Run("no config flag leaves cfg alone", func(t *testing.T) {
		withArgs(t)
		cfg := Config{BackendDSN: "keep"}
		parseJson(&cfg)
		assert.Equal(t, "keep", cfg.BackendDSN)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ nope`), 0o600))
		withArgs(t, "-c", bad)
		require.Panics(t, func() { parseJson(&Config{}) })
	})
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expected    Config
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"-d", "postgres://x", "-s", "", "-e", "pass", "-t", "tok", "-k", "sec", "-m", ":9102",
				"-l", "debug", "-p", "u1, u2,", "-timeout", "2s", "-c", "ignored.json"},
			expected: Config{BackendDSN: "postgres://x", CacheKey: "pass", AccessToken: "tok", TokenSecret: "sec",
				MetricsAddr: ":9102", LogLevel: "debug", PromotedAuthors: []string{"u1", "u2"},
				FetchTimeout: 2 * time.Second},
		},
		{name: "bad duration", args: []string{"-timeout", "soon"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
			withArgs(t, tt.args...)

			cfg := &Config{}
			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(cfg) })
				return
			}
			require.NotPanics(t, func() { parseFlags(cfg) })
			assert.Empty(t, cmp.Diff(&tt.expected, cfg))
		})
	}
}

func TestLoadConfig_FlagsOverrideJSON(t *testing.T) {
	path := writeTempJSON(t, map[string]any{"backend_dsn": "from-json", "log_level": "warn"})
	withArgs(t, "-c", path, "-d", "from-flag")

	cfg := LoadConfig()
	assert.Equal(t, "from-flag", cfg.BackendDSN)
	assert.Equal(t, "warn", cfg.LogLevel)
}
