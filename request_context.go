package rowauth

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const refreshSavepoint = "rowauth_session_refresh"

// RequestContext is what the query executor sees for one request: the
// resolved session, the live transaction and the credential capabilities.
type RequestContext struct {
	scope  *Scope
	codec  *TokenCodec
	issuer string

	mu        sync.Mutex
	loggedOut bool
	issued    string
}

// SessionID returns the session bound to the transaction, nil when unauthenticated
func (rc *RequestContext) SessionID() *uuid.UUID {
	return rc.scope.SessionID()
}

// Authenticated reports whether a session is bound to the transaction
func (rc *RequestContext) Authenticated() bool {
	return rc.SessionID() != nil
}

// Tx returns the request transaction
func (rc *RequestContext) Tx() bun.IDB {
	return rc.scope.Tx()
}

// Scope returns the underlying transaction scope
func (rc *RequestContext) Scope() *Scope {
	return rc.scope
}

// Login signs claims with the fixed issuer and remembers the token so the
// transport can hand it back to the caller.
func (rc *RequestContext) Login(_ context.Context, claims map[string]any) (string, error) {
	token, err := rc.codec.Sign(claims, rc.issuer)
	if err != nil {
		return "", err
	}

	rc.mu.Lock()
	rc.issued = token
	rc.loggedOut = false
	rc.mu.Unlock()

	return token, nil
}

// Logout only flags the credential as cleared. Session rows are removed by
// the logout mutation.
func (rc *RequestContext) Logout(context.Context) error {
	rc.mu.Lock()
	rc.loggedOut = true
	rc.issued = ""
	rc.mu.Unlock()
	return nil
}

// CredentialCleared reports whether Logout was called during the request
func (rc *RequestContext) CredentialCleared() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.loggedOut
}

// IssuedToken returns the token minted during the request, if any
func (rc *RequestContext) IssuedToken() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.issued
}

// Authenticate binds sessionID to the rest of the transaction
func (rc *RequestContext) Authenticate(ctx context.Context, sessionID *uuid.UUID) error {
	return rc.scope.SetSessionClaim(ctx, sessionID)
}

// Finish commits or rolls back the request transaction and releases its connection
func (rc *RequestContext) Finish(err error) error {
	return rc.scope.Finish(err)
}

// ContextBuilder resolves a bearer credential into a RequestContext.
type ContextBuilder struct {
	codec      *TokenCodec
	store      *SessionStore
	scopes     *TxScope
	issuer     string
	privileged bun.IDB
	logger     Logger
}

// ContextBuilderOption customizes a ContextBuilder
type ContextBuilderOption func(*ContextBuilder)

// WithBuilderLogger sets the builder logger
func WithBuilderLogger(logger Logger) ContextBuilderOption {
	return func(b *ContextBuilder) {
		b.logger = normalizeLogger(logger)
	}
}

// WithSessionDB resolves and refreshes sessions on db before the request
// transaction is opened, for deployments where the visitor role cannot
// read the session table.
func WithSessionDB(db bun.IDB) ContextBuilderOption {
	return func(b *ContextBuilder) {
		b.privileged = db
	}
}

// NewContextBuilder creates a builder. issuer is stamped on every token minted through Login.
func NewContextBuilder(codec *TokenCodec, store *SessionStore, scopes *TxScope, issuer string, opts ...ContextBuilderOption) *ContextBuilder {
	b := &ContextBuilder{
		codec:  codec,
		store:  store,
		scopes: scopes,
		issuer: issuer,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build opens the request transaction for rawToken. A missing, invalid or
// revoked credential yields an unauthenticated context; only failing to
// open the transaction returns an error.
func (b *ContextBuilder) Build(ctx context.Context, rawToken string) (*RequestContext, error) {
	sessionID := b.resolveToken(rawToken)

	if sessionID != nil && b.privileged != nil {
		if alive, _ := b.touchSession(ctx, b.privileged, *sessionID); !alive {
			sessionID = nil
		}
	}

	scope, err := b.scopes.Open(ctx, sessionID)
	if err != nil {
		b.logger.Error("failed to open request transaction", "error", err)
		return nil, err
	}

	rc := &RequestContext{
		scope:  scope,
		codec:  b.codec,
		issuer: b.issuer,
	}

	if sessionID != nil && b.privileged == nil {
		b.refreshInScope(ctx, rc, *sessionID)
	}

	return rc, nil
}

func (b *ContextBuilder) resolveToken(rawToken string) *uuid.UUID {
	if rawToken == "" {
		return nil
	}
	claims, ok := b.codec.Verify(rawToken)
	if !ok {
		return nil
	}
	return claims.SessionUUID()
}

// refreshInScope runs the session check inside a savepoint so a failure
// does not poison the request transaction.
func (b *ContextBuilder) refreshInScope(ctx context.Context, rc *RequestContext, id uuid.UUID) {
	tx := rc.Tx()

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+refreshSavepoint); err != nil {
		b.logger.Warn("session refresh skipped", "session_id", id.String(), "error", err)
		b.downgrade(ctx, rc)
		return
	}

	alive, clean := b.touchSession(ctx, tx, id)

	stmt := "RELEASE SAVEPOINT " + refreshSavepoint
	if !clean {
		stmt = "ROLLBACK TO SAVEPOINT " + refreshSavepoint
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		b.logger.Warn("session savepoint cleanup failed", "session_id", id.String(), "error", err)
	}

	if !alive {
		b.downgrade(ctx, rc)
	}
}

// touchSession reports whether id refers to a live session, refreshing it
// when stale. clean is false when a statement failed.
func (b *ContextBuilder) touchSession(ctx context.Context, db bun.IDB, id uuid.UUID) (alive bool, clean bool) {
	session, err := b.store.Lookup(ctx, db, id)
	if err != nil {
		b.logger.Warn("session lookup failed", "session_id", id.String(), "error", err)
		return false, false
	}
	if session == nil {
		b.logger.Debug("session not found, continuing unauthenticated", "session_id", id.String())
		return false, true
	}

	if _, err := b.store.RefreshIfStale(ctx, db, id); err != nil {
		b.logger.Warn("session refresh failed", "session_id", id.String(), "error", err)
		return true, false
	}
	return true, true
}

func (b *ContextBuilder) downgrade(ctx context.Context, rc *RequestContext) {
	if err := rc.Authenticate(ctx, nil); err != nil {
		b.logger.Warn("failed to clear session claim", "error", err)
	}
}
