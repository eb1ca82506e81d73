package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// ChallengeType describes the ceremony a stored challenge belongs to.
type ChallengeType string

const (
	ChallengeTypeRegistration   ChallengeType = "registration"
	ChallengeTypeAuthentication ChallengeType = "authentication"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName   string        `env:"BOOKPLAYER_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"BookPlayer"`
	RPID            string        `env:"BOOKPLAYER_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins       []string      `env:"BOOKPLAYER_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL    time.Duration `env:"BOOKPLAYER_WEBAUTHN_CHALLENGE_TTL"   envDefault:"300s"`
	CeremonyTimeout time.Duration `env:"BOOKPLAYER_WEBAUTHN_TIMEOUT"         envDefault:"60s"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName:   "BookPlayer",
			RPID:            "localhost",
			RPOrigins:       []string{"http://localhost:8080"},
			ChallengeTTL:    300 * time.Second,
			CeremonyTimeout: 60 * time.Second,
		}
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	return cfg
}
