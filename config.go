package auth

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultAccessTokenTTL   = 30 * time.Minute
	DefaultRefreshTokenTTL  = 24 * time.Hour
	DefaultMaxLoginAttempts = 3
	DefaultLockoutDuration  = 15 * time.Minute
	DefaultMinPasswordLen   = 12
	DefaultSessionTimeout   = 60
	DefaultBcryptCost       = 12
	DefaultCookieName       = "session_token"
	DefaultTokenLookup      = "header:Authorization,cookie:session_token"

	minSigningKeyLength = 32
)

// Config holds every tunable of the auth core. It is built once at start
// up and passed explicitly to the components that need it.
type Config struct {
	SigningKey      string        `env:"AUTH_SIGNING_KEY"`
	Issuer          string        `env:"AUTH_ISSUER"`
	Audience        []string      `env:"AUTH_AUDIENCE" envSeparator:","`
	AccessTokenTTL  time.Duration `env:"AUTH_ACCESS_TOKEN_TTL" envDefault:"30m"`
	RefreshTokenTTL time.Duration `env:"AUTH_REFRESH_TOKEN_TTL" envDefault:"24h"`

	MaxLoginAttempts int           `env:"AUTH_MAX_LOGIN_ATTEMPTS" envDefault:"3"`
	LockoutDuration  time.Duration `env:"AUTH_LOCKOUT_DURATION" envDefault:"15m"`

	MinPasswordLength     int `env:"AUTH_MIN_PASSWORD_LENGTH" envDefault:"12"`
	SessionTimeoutMinutes int `env:"AUTH_SESSION_TIMEOUT_MINUTES" envDefault:"60"`
	BcryptCost            int `env:"AUTH_BCRYPT_COST" envDefault:"12"`

	CookieName   string `env:"AUTH_COOKIE_NAME" envDefault:"session_token"`
	CookieSecure bool   `env:"AUTH_COOKIE_SECURE" envDefault:"true"`
	TokenLookup  string `env:"AUTH_TOKEN_LOOKUP" envDefault:"header:Authorization,cookie:session_token"`
	AuditAccess  bool   `env:"AUTH_AUDIT_ACCESS" envDefault:"true"`

	// TrustProxy honours X-Forwarded-For and X-Real-IP for the client address
	TrustProxy bool `env:"AUTH_TRUST_PROXY" envDefault:"false"`
}

// DefaultConfig returns a configuration with every default applied. The
// signing key still has to be provided.
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:        DefaultAccessTokenTTL,
		RefreshTokenTTL:       DefaultRefreshTokenTTL,
		MaxLoginAttempts:      DefaultMaxLoginAttempts,
		LockoutDuration:       DefaultLockoutDuration,
		MinPasswordLength:     DefaultMinPasswordLen,
		SessionTimeoutMinutes: DefaultSessionTimeout,
		BcryptCost:            DefaultBcryptCost,
		CookieName:            DefaultCookieName,
		CookieSecure:          true,
		TokenLookup:           DefaultTokenLookup,
		AuditAccess:           true,
	}
}

// LoadConfigFromEnv parses the AUTH_* environment and validates the result
func LoadConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse auth configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration, start up should abort on error
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.SigningKey, validation.Required, validation.Length(minSigningKeyLength, 0)),
		validation.Field(&c.AccessTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RefreshTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxLoginAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.LockoutDuration, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MinPasswordLength, validation.Required, validation.Min(8)),
		validation.Field(&c.SessionTimeoutMinutes, validation.Required, validation.Min(1)),
		validation.Field(&c.BcryptCost, validation.Required, validation.Min(4), validation.Max(31)),
		validation.Field(&c.CookieName, validation.Required),
		validation.Field(&c.TokenLookup, validation.Required, validation.By(validateTokenLookup)),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid auth configuration")
	}
	return nil
}

// SessionTimeout returns the idle timeout as a duration
func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

func validateTokenLookup(value any) error {
	lookup, _ := value.(string)
	if _, err := parseTokenLookup(lookup); err != nil {
		return err
	}
	return nil
}

func parseTokenLookup(lookup string) ([][2]string, error) {
	var out [][2]string
	for _, part := range strings.Split(lookup, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 || kv[1] == "" {
			return nil, goerrors.New("lookup entries must look like source:name", goerrors.CategoryValidation)
		}
		source := strings.TrimSpace(kv[0])
		switch source {
		case "header", "cookie":
		default:
			return nil, goerrors.New("unsupported lookup source "+source, goerrors.CategoryValidation)
		}
		out = append(out, [2]string{source, strings.TrimSpace(kv[1])})
	}
	if len(out) == 0 {
		return nil, goerrors.New("at least one lookup entry is required", goerrors.CategoryValidation)
	}
	return out, nil
}
