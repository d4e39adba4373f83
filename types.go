package rowauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Logger takes a message followed by key/value pairs
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds bridge options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetVisitorRole() string
	GetSessionClaim() string
	GetSessionStaleness() time.Duration
	GetTokenTTL() time.Duration
	GetTokenLookup() string
	GetAuthScheme() string
}

// IdentityView is the projection of an identity row honoring the
// caller's field selection.
type IdentityView map[string]any

// ID returns the identity id if it was part of the projection.
func (v IdentityView) ID() string {
	if v == nil {
		return ""
	}
	switch id := v["id"].(type) {
	case string:
		return id
	case []byte:
		return string(id)
	case uuid.UUID:
		return id.String()
	case fmt.Stringer:
		return id.String()
	}
	return ""
}

// ProjectionCriteria selects which identity row to project and which
// columns to include.
type ProjectionCriteria struct {
	UserID      *uuid.UUID
	CurrentUser bool
	Fields      []string
}

// IdentityProjector resolves an identity row through the query executor
// after a mutation changed the transaction state.
type IdentityProjector interface {
	ProjectIdentity(ctx context.Context, db bun.IDB, criteria ProjectionCriteria) (IdentityView, error)
}

// IdentityProjectorFunc adapts a function into an IdentityProjector.
type IdentityProjectorFunc func(ctx context.Context, db bun.IDB, criteria ProjectionCriteria) (IdentityView, error)

// ProjectIdentity satisfies the IdentityProjector interface.
func (f IdentityProjectorFunc) ProjectIdentity(ctx context.Context, db bun.IDB, criteria ProjectionCriteria) (IdentityView, error) {
	return f(ctx, db, criteria)
}

// Procedures are the atomic datastore calls behind the identity mutations.
// Every call must work inside an open transaction with the visitor role set.
type Procedures interface {
	// CreateIdentityAndSession returns nil when the datastore created no identity.
	CreateIdentityAndSession(ctx context.Context, db bun.IDB, username, email, password string) (*Registration, error)
	// Authenticate returns nil when the credentials do not match.
	Authenticate(ctx context.Context, db bun.IDB, username, password string) (*Session, error)
	EndSession(ctx context.Context, db bun.IDB) error
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] ROWAUTH " + line(msg, args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] ROWAUTH " + line(msg, args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] ROWAUTH " + line(msg, args))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] ROWAUTH " + line(msg, args))
}

func line(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}
	b.WriteByte('\n')
	return b.String()
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
