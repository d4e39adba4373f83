package rowauth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims is the decoded payload of a verified bearer credential.
// Only the session identifier matters to the bridge, the rest is kept so
// callers can inspect issuer and expiry.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id,omitempty"`
}

// SessionUUID returns the session identifier when it parses as a UUID.
func (c *SessionClaims) SessionUUID() *uuid.UUID {
	if c == nil {
		return nil
	}
	return uuidOrNull(c.SessionID)
}

// uuidOrNull turns any malformed, empty or missing value into nil.
func uuidOrNull(value any) *uuid.UUID {
	var raw string
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case uuid.UUID:
		if v == uuid.Nil {
			return nil
		}
		return &v
	case *uuid.UUID:
		if v == nil || *v == uuid.Nil {
			return nil
		}
		id := *v
		return &id
	default:
		return nil
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return nil
	}
	return &id
}

// sessionClaimValue renders a session id for the transaction setting.
// The unauthenticated value is the empty string.
func sessionClaimValue(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
