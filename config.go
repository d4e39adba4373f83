package rowauth

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Options is the environment backed configuration of the bridge
type Options struct {
	DatabaseURL      string        `env:"DATABASE_URL"`
	// RootDatabaseURL connects as a role that can reach app_private. Session
	// lookups and the identity procedures run on this pool.
	RootDatabaseURL  string        `env:"ROOT_DATABASE_URL"`
	SigningKey       string        `env:"JWT_SECRET"`
	Issuer           string        `env:"ROOT_URL"`
	VisitorRole      string        `env:"DATABASE_VISITOR"`
	SessionClaim     string        `env:"SESSION_CLAIM" envDefault:"jwt.claims.session_id"`
	SessionStaleness time.Duration `env:"SESSION_STALENESS" envDefault:"15s"`
	SessionMaxIdle   time.Duration `env:"SESSION_MAX_IDLE" envDefault:"720h"`
	TokenTTL         time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	TokenLookup      string        `env:"TOKEN_LOOKUP" envDefault:"header:Authorization"`
	AuthScheme       string        `env:"AUTH_SCHEME" envDefault:"Bearer"`
	HTTPAddr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	DebugSQL         bool          `env:"DEBUG_SQL" envDefault:"false"`
}

var _ Config = Options{}

// LoadOptions reads Options from the process environment
func LoadOptions() (Options, error) {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return Options{}, fmt.Errorf("parse env: %w", err)
	}
	return opts, nil
}

// Validate reports missing settings. A missing signing key or visitor role
// would otherwise only surface on the first request.
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.DatabaseURL, validation.Required),
		validation.Field(&o.RootDatabaseURL, validation.Required),
		validation.Field(&o.SigningKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&o.Issuer, validation.Required, is.URL),
		validation.Field(&o.VisitorRole, validation.Required),
		validation.Field(&o.SessionStaleness, validation.Min(DefaultSessionStaleness)),
		validation.Field(&o.TokenTTL, validation.Min(time.Duration(0))),
	)
}

func (o Options) GetSigningKey() string {
	return o.SigningKey
}

func (o Options) GetIssuer() string {
	return o.Issuer
}

func (o Options) GetVisitorRole() string {
	return o.VisitorRole
}

func (o Options) GetSessionClaim() string {
	return o.SessionClaim
}

func (o Options) GetSessionStaleness() time.Duration {
	return o.SessionStaleness
}

func (o Options) GetTokenTTL() time.Duration {
	return o.TokenTTL
}

func (o Options) GetTokenLookup() string {
	return o.TokenLookup
}

func (o Options) GetAuthScheme() string {
	return o.AuthScheme
}
