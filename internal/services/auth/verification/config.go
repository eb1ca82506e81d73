package verification

import (
	"time"

	"github.com/TortugaPower/bookplayer-api-sub000/internal/platform/config"
)

// Config controls code issuance and verification token minting.
type Config struct {
	// TokenSecret signs verification tokens. Required in production; an
	// empty value is rejected by the command entrypoint.
	TokenSecret string `env:"BOOKPLAYER_VERIFICATION_SECRET"`

	// CodeTTL is how long an emailed code stays redeemable.
	CodeTTL time.Duration `env:"BOOKPLAYER_VERIFICATION_CODE_TTL" envDefault:"5m"`

	// TokenTTL is the lifetime of a minted verification token.
	TokenTTL time.Duration `env:"BOOKPLAYER_VERIFICATION_TOKEN_TTL" envDefault:"15m"`

	// MaxAttempts is the per-code guess budget.
	MaxAttempts int `env:"BOOKPLAYER_VERIFICATION_MAX_ATTEMPTS" envDefault:"5"`

	// MaxCodesPerWindow caps issuance per address inside RateWindow.
	MaxCodesPerWindow int           `env:"BOOKPLAYER_VERIFICATION_MAX_CODES" envDefault:"3"`
	RateWindow        time.Duration `env:"BOOKPLAYER_VERIFICATION_RATE_WINDOW" envDefault:"1h"`
}

// LoadConfigFromEnv returns verification configuration with defaults.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
