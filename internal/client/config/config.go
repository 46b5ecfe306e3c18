package config

import (
	"time"

	"github.com/syntaxdrive/ulink-sub002/internal/common"
)

// Config holds runtime settings of the feed client.
type Config struct {
	// BackendDSN is a Postgres connection string. Empty runs the client
	// against the in-memory demo backend.
	BackendDSN string
	// CacheDSN is the SQLite database used for warm-start snapshots. Empty
	// disables snapshots.
	CacheDSN string
	// CacheKey, when set, encrypts snapshot payloads at rest.
	CacheKey string

	AccessToken string
	TokenSecret string

	FetchTimeout         time.Duration
	StaleAfter           time.Duration
	FeedPageSize         int
	NotificationPageSize int
	PromotedAuthors      []string

	MetricsAddr string
	LogLevel    string

	S3Region    string
	S3Bucket    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.CacheDSN = "feedcache.db"
	c.FetchTimeout = 10 * time.Second
	c.StaleAfter = common.DefaultStaleAfter
	c.FeedPageSize = common.FeedPageSize
	c.NotificationPageSize = common.NotificationPageSize
	c.LogLevel = "info"
	c.S3Region = "us-east-1"
}

// LoadConfig applies defaults, then the JSON file, then flags. Later sources
// take precedence.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
