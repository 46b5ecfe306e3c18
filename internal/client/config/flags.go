package config

import (
	"flag"
	"os"
	"strings"

	"github.com/syntaxdrive/ulink-sub002/internal/flagx"
)

var knownFlags = []string{"-d", "-s", "-e", "-t", "-k", "-m", "-l", "-p", "-timeout"}

// parseFlags overlays cfg with command-line flags. Only the flags listed in
// knownFlags are parsed; everything else on the command line is left to
// other components.
//
//	-d string     backend Postgres DSN (empty = in-memory demo backend)
//	-s string     SQLite snapshot cache path (empty = no snapshots)
//	-e string     passphrase encrypting the snapshot cache
//	-t string     access token
//	-k string     token signing secret
//	-m string     metrics listen address
//	-l string     log level
//	-p string     comma-separated promoted author ids
//	-timeout dur  per-call backend timeout
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.BackendDSN, "d", cfg.BackendDSN, "backend Postgres DSN")
	fs.StringVar(&cfg.CacheDSN, "s", cfg.CacheDSN, "snapshot cache path")
	fs.StringVar(&cfg.CacheKey, "e", cfg.CacheKey, "snapshot cache passphrase")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "access token")
	fs.StringVar(&cfg.TokenSecret, "k", cfg.TokenSecret, "token signing secret")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	promoted := fs.String("p", strings.Join(cfg.PromotedAuthors, ","), "comma-separated promoted author ids")
	fs.DurationVar(&cfg.FetchTimeout, "timeout", cfg.FetchTimeout, "backend call timeout")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PromotedAuthors = nil
	for _, id := range strings.Split(*promoted, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.PromotedAuthors = append(cfg.PromotedAuthors, id)
		}
	}
}
