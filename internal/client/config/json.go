package config

import (
	"encoding/json"
	"os"

	"github.com/syntaxdrive/ulink-sub002/internal/flagx"
	"github.com/syntaxdrive/ulink-sub002/internal/timex"
)

// JsonConfig is the file form of Config. Durations use timex.Duration so
// they can be written as "10s" or as integer nanoseconds. Zero values leave
// the corresponding Config field unchanged.
type JsonConfig struct {
	BackendDSN           string         `json:"backend_dsn"`
	CacheDSN             string         `json:"cache_dsn"`
	CacheKey             string         `json:"cache_key"`
	AccessToken          string         `json:"access_token"`
	TokenSecret          string         `json:"token_secret"`
	FetchTimeout         timex.Duration `json:"fetch_timeout"`
	StaleAfter           timex.Duration `json:"stale_after"`
	FeedPageSize         int            `json:"feed_page_size"`
	NotificationPageSize int            `json:"notification_page_size"`
	PromotedAuthors      []string       `json:"promoted_authors"`
	MetricsAddr          string         `json:"metrics_addr"`
	LogLevel             string         `json:"log_level"`
	S3Region             string         `json:"s3_region"`
	S3Bucket             string         `json:"s3_bucket"`
	S3Endpoint           string         `json:"s3_endpoint"`
	S3AccessKey          string         `json:"s3_access_key"`
	S3SecretKey          string         `json:"s3_secret_key"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJson overlays cfg with the file named by -c or -config. It panics
// when the file cannot be read or decoded.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.BackendDSN, jc.BackendDSN)
	setString(&cfg.CacheDSN, jc.CacheDSN)
	setString(&cfg.CacheKey, jc.CacheKey)
	setString(&cfg.AccessToken, jc.AccessToken)
	setString(&cfg.TokenSecret, jc.TokenSecret)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)

	if jc.FetchTimeout.Duration > 0 {
		cfg.FetchTimeout = jc.FetchTimeout.Duration
	}
	if jc.StaleAfter.Duration > 0 {
		cfg.StaleAfter = jc.StaleAfter.Duration
	}
	if jc.FeedPageSize > 0 {
		cfg.FeedPageSize = jc.FeedPageSize
	}
	if jc.NotificationPageSize > 0 {
		cfg.NotificationPageSize = jc.NotificationPageSize
	}
	if jc.PromotedAuthors != nil {
		cfg.PromotedAuthors = jc.PromotedAuthors
	}
}
