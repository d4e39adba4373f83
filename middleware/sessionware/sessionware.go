package sessionware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-router"
	rowauth "github.com/goliatone/go-rowauth"
)

var (
	defaultTokenLookup = "header:" + router.HeaderAuthorization

	// ErrTokenMissingOrMalformed is returned by extractors that find no credential
	ErrTokenMissingOrMalformed = errors.New("missing or malformed token")
)

// ContextBuilder resolves a raw bearer credential into a request context
type ContextBuilder interface {
	Build(ctx context.Context, rawToken string) (*rowauth.RequestContext, error)
}

type Config struct {
	Filter       func(router.Context) bool
	ErrorHandler router.ErrorHandler
	Builder      ContextBuilder
	Logger       rowauth.Logger
	// ContextKey is the locals key holding the request context
	ContextKey  string
	TokenLookup string
	AuthScheme  string
	// CookieName, when set, mirrors issued tokens into a cookie and
	// expires it on logout.
	CookieName string
	CookieTTL  time.Duration
	// CookieSecure marks the cookie as HTTPS only
	CookieSecure bool
}

// New returns a middleware that opens one role impersonating transaction
// per request. The transaction commits when the handler chain returns nil
// and rolls back when it returns an error; the connection is released on
// every path. Handlers report failures by returning errors, which reach
// the ErrorHandler after the rollback.
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	extractors := GetExtractors(cfg.TokenLookup, cfg.AuthScheme)

	return func(next router.HandlerFunc) router.HandlerFunc {
		if next == nil {
			next = func(ctx router.Context) error {
				return ctx.Next()
			}
		}

		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			raw, _ := ExtractRawToken(ctx, extractors)

			rc, err := cfg.Builder.Build(ctx.Context(), raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			finished := false
			defer func() {
				if r := recover(); r != nil {
					if !finished {
						_ = rc.Finish(fmt.Errorf("panic: %v", r))
					}
					panic(r)
				}
			}()

			ctx.Locals(cfg.ContextKey, rc)
			ctx.SetContext(rowauth.WithRequestContext(ctx.Context(), rc))

			err = next(ctx)
			finishErr := rc.Finish(err)
			finished = true

			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if finishErr != nil {
				cfg.Logger.Error("request transaction failed to commit", "path", ctx.Path(), "error", finishErr)
				return cfg.ErrorHandler(ctx, finishErr)
			}

			cfg.writeCookie(ctx, rc)
			return nil
		}
	}
}

// FromLocals returns the request context stored by the middleware
func FromLocals(ctx router.Context, key string) (*rowauth.RequestContext, bool) {
	if key == "" {
		key = "rowauth"
	}
	rc, ok := ctx.Locals(key).(*rowauth.RequestContext)
	return rc, ok && rc != nil
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Builder == nil {
		panic("ROWAUTH: session middleware configuration: Builder is required.")
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = rowauth.RenderError
	}

	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "rowauth"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.CookieTTL <= 0 {
		cfg.CookieTTL = 24 * time.Hour
	}

	return cfg
}

func (cfg Config) writeCookie(ctx router.Context, rc *rowauth.RequestContext) {
	if cfg.CookieName == "" {
		return
	}

	if rc.CredentialCleared() {
		ctx.Cookie(&router.Cookie{
			Name:     cfg.CookieName,
			Value:    "",
			Path:     "/",
			Expires:  time.Now().Add(-24 * time.Hour),
			HTTPOnly: true,
			Secure:   cfg.CookieSecure,
			SameSite: "Lax",
		})
		return
	}

	if token := rc.IssuedToken(); token != "" {
		ctx.Cookie(&router.Cookie{
			Name:     cfg.CookieName,
			Value:    token,
			Path:     "/",
			Expires:  time.Now().Add(cfg.CookieTTL),
			HTTPOnly: true,
			Secure:   cfg.CookieSecure,
			SameSite: "Lax",
		})
	}
}

// ExtractRawToken returns the first credential found by extractors
func ExtractRawToken(ctx router.Context, extractors []TokenExtractor) (string, error) {
	var raw string
	err := ErrTokenMissingOrMalformed

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

// GetExtractors parses a lookup such as "header:Authorization,cookie:jwt,query:token"
func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 && authSchemes[0] != "" {
		authScheme = authSchemes[0]
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

type TokenExtractor func(ctx router.Context) (string, error)

// tokenFromHeader extracts the credential from a header carrying authScheme.
func tokenFromHeader(header string, authScheme string) TokenExtractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(ctx router.Context) (string, error) {
		a := ctx.GetString(header, "")
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissingOrMalformed
	}
}

// tokenFromQuery extracts the credential from the query string.
func tokenFromQuery(param string) TokenExtractor {
	return func(ctx router.Context) (string, error) {
		token := ctx.Query(param, "")
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

// tokenFromCookie extracts the credential from the named cookie.
func tokenFromCookie(name string) TokenExtractor {
	return func(ctx router.Context) (string, error) {
		token := ctx.Cookies(name)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
