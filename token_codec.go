package rowauth

import (
	"fmt"
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenCodec signs and verifies the bearer credentials handed out by Login
// and Register. Verification never returns an error: a bad credential is
// simply treated as absent.
type TokenCodec struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	leeway     time.Duration
	logger     Logger
	now        func() time.Time
}

// TokenCodecOption customizes a TokenCodec
type TokenCodecOption func(*TokenCodec)

// WithCodecClock replaces the time source used for iat, exp and validation
func WithCodecClock(now func() time.Time) TokenCodecOption {
	return func(tc *TokenCodec) {
		if now != nil {
			tc.now = now
		}
	}
}

// WithCodecLeeway allows for clock skew when validating exp and iat
func WithCodecLeeway(leeway time.Duration) TokenCodecOption {
	return func(tc *TokenCodec) {
		tc.leeway = leeway
	}
}

// NewTokenCodec creates a codec. A zero ttl issues tokens without expiry.
func NewTokenCodec(signingKey []byte, issuer string, ttl time.Duration, logger Logger, opts ...TokenCodecOption) *TokenCodec {
	tc := &TokenCodec{
		signingKey: signingKey,
		issuer:     issuer,
		ttl:        ttl,
		logger:     normalizeLogger(logger),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(tc)
		}
	}
	return tc
}

// Issuer returns the default issuer stamped on signed tokens
func (tc *TokenCodec) Issuer() string {
	return tc.issuer
}

// Sign produces an HS256 compact token for claims. issuer overrides the
// codec default when not empty.
func (tc *TokenCodec) Sign(claims map[string]any, issuer string) (string, error) {
	if len(tc.signingKey) == 0 {
		return "", ErrSigningKeyMissing
	}

	payload := jwt.MapClaims{}
	maps.Copy(payload, claims)

	if issuer == "" {
		issuer = tc.issuer
	}
	if issuer != "" {
		payload["iss"] = issuer
	}

	now := tc.now()
	payload["iat"] = now.Unix()
	if tc.ttl > 0 {
		payload["exp"] = now.Add(tc.ttl).Unix()
	}
	if jti, ok := payload["jti"].(string); !ok || jti == "" {
		payload["jti"] = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString(tc.signingKey)
	if err != nil {
		return "", &Failure{Kind: KindSigning, Message: "failed to sign token", Cause: err}
	}

	return signed, nil
}

// Verify checks signature, issuer and expiry. ok is false for any
// credential that is malformed, tampered, expired or signed with another key.
func (tc *TokenCodec) Verify(raw string) (claims *SessionClaims, ok bool) {
	if raw == "" || len(tc.signingKey) == 0 {
		return nil, false
	}

	defer func() {
		if r := recover(); r != nil {
			tc.logger.Warn("token verification panicked", "panic", fmt.Sprint(r))
			claims, ok = nil, false
		}
	}()

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tc.now),
		jwt.WithIssuedAt(),
	}
	if tc.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(tc.issuer))
	}
	if tc.leeway > 0 {
		parserOptions = append(parserOptions, jwt.WithLeeway(tc.leeway))
	}

	token, err := jwt.ParseWithClaims(raw, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, isHMAC := t.Method.(*jwt.SigningMethodHMAC); !isHMAC {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tc.signingKey, nil
	}, parserOptions...)
	if err != nil {
		tc.logger.Debug("bearer credential rejected", "error", err)
		return nil, false
	}

	parsed, isSession := token.Claims.(*SessionClaims)
	if !isSession || !token.Valid {
		return nil, false
	}

	return parsed, true
}
