package rowauth

import (
	"github.com/uptrace/bun"
)

// Bridge holds the long lived services of the auth bridge. It is built
// once at startup and shared by every request.
type Bridge struct {
	Codec     *TokenCodec
	Sessions  *SessionStore
	Scopes    *TxScope
	Builder   *ContextBuilder
	Mutations *Mutations
	Manager   SessionManager

	logger     Logger
	activity   ActivitySink
	projector  IdentityProjector
	procedures Procedures
	privileged bun.IDB
}

// BridgeOption customizes a Bridge
type BridgeOption func(*Bridge)

// WithLogger sets the logger shared by all bridge services
func WithLogger(logger Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = normalizeLogger(logger)
	}
}

// WithActivitySink records identity mutation events
func WithActivitySink(sink ActivitySink) BridgeOption {
	return func(b *Bridge) {
		b.activity = normalizeActivitySink(sink)
	}
}

// WithProjector replaces the default users table projector
func WithProjector(projector IdentityProjector) BridgeOption {
	return func(b *Bridge) {
		if projector != nil {
			b.projector = projector
		}
	}
}

// WithProcedures replaces the default Postgres procedures
func WithProcedures(procedures Procedures) BridgeOption {
	return func(b *Bridge) {
		if procedures != nil {
			b.procedures = procedures
		}
	}
}

// WithBridgePrivilegedDB uses db for session refresh and for the register
// and login procedures, for datastores where the visitor role cannot
// reach the private schema.
func WithBridgePrivilegedDB(db bun.IDB) BridgeOption {
	return func(b *Bridge) {
		b.privileged = db
	}
}

// NewBridge wires the bridge services from cfg. The signing key and the
// visitor role are checked here so misconfiguration fails at startup.
func NewBridge(db *bun.DB, cfg Config, opts ...BridgeOption) (*Bridge, error) {
	b := &Bridge{
		logger:     defLogger{},
		activity:   noopActivitySink{},
		projector:  NewUserProjector(),
		procedures: PostgresProcedures{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	if cfg.GetSigningKey() == "" {
		return nil, ErrSigningKeyMissing
	}
	if cfg.GetVisitorRole() == "" {
		return nil, ErrVisitorRoleMissing
	}

	b.Codec = NewTokenCodec([]byte(cfg.GetSigningKey()), cfg.GetIssuer(), cfg.GetTokenTTL(), b.logger)
	b.Sessions = NewSessionStore(db, cfg.GetSessionStaleness(), WithSessionLogger(b.logger))
	b.Scopes = NewTxScope(db, cfg.GetVisitorRole(), cfg.GetSessionClaim(), b.logger)

	builderOpts := []ContextBuilderOption{WithBuilderLogger(b.logger)}
	mutationOpts := []MutationsOption{
		WithMutationsLogger(b.logger),
		WithMutationsActivitySink(b.activity),
	}
	if b.privileged != nil {
		builderOpts = append(builderOpts, WithSessionDB(b.privileged))
		mutationOpts = append(mutationOpts, WithPrivilegedDB(b.privileged))
	}

	b.Builder = NewContextBuilder(b.Codec, b.Sessions, b.Scopes, cfg.GetIssuer(), builderOpts...)
	b.Mutations = NewMutations(b.procedures, b.projector, mutationOpts...)
	b.Manager = NewSessionManager(db, b.Sessions)

	return b, nil
}

// Logger returns the bridge logger
func (b *Bridge) Logger() Logger {
	return b.logger
}
