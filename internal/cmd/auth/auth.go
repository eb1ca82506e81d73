// Package auth wires flags and environment into the auth server.
package auth

import (
	"context"
	"flag"
	"fmt"

	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/config"
	server "github.com/TortugaPower/bookplayer-api-sub000/internal/services/auth/app"
)

// Config holds auth command configuration.
type Config struct {
	Addr          string
	SessionSecret string
}

// ParseConfig parses flags into a Config. Environment values provide the
// defaults; flags override.
func ParseConfig(fs *flag.FlagSet, args []string, lookup config.EnvLookup) (Config, error) {
	cfg := Config{
		Addr:          config.EnvOrDefault(lookup, []string{"BOOKPLAYER_AUTH_ADDR"}, "localhost:8080"),
		SessionSecret: config.EnvOrDefault(lookup, []string{"BOOKPLAYER_SESSION_SECRET"}, ""),
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The auth HTTP server address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.SessionSecret == "" {
		return Config{}, fmt.Errorf("BOOKPLAYER_SESSION_SECRET is required")
	}
	return cfg, nil
}

// Run starts the auth server.
func Run(ctx context.Context, cfg Config) error {
	return server.Run(ctx, cfg.Addr, cfg.SessionSecret)
}
