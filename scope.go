package rowauth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultSessionClaim is the transaction setting row policies read the session id from
const DefaultSessionClaim = "jwt.claims.session_id"

const (
	setRoleSQL  = "SELECT set_config('role', ?, true)"
	setClaimSQL = "SELECT set_config(?, ?, true)"
)

// TxScope opens one role impersonating transaction per request.
type TxScope struct {
	db     *bun.DB
	role   string
	claim  string
	logger Logger
}

// NewTxScope creates a scope factory. An empty claim uses DefaultSessionClaim.
func NewTxScope(db *bun.DB, role, claim string, logger Logger) *TxScope {
	if claim == "" {
		claim = DefaultSessionClaim
	}
	return &TxScope{
		db:     db,
		role:   role,
		claim:  claim,
		logger: normalizeLogger(logger),
	}
}

// Open acquires a connection, begins a transaction and sets the visitor
// role followed by the session claim. Nothing else runs in the transaction
// before these two statements.
func (ts *TxScope) Open(ctx context.Context, sessionID *uuid.UUID) (*Scope, error) {
	if ts.role == "" {
		return nil, ErrVisitorRoleMissing
	}

	conn, err := ts.db.Conn(ctx)
	if err != nil {
		return nil, transactionFailure("acquire connection", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, transactionFailure("begin transaction", err)
	}

	scope := &Scope{
		conn:   conn,
		tx:     tx,
		claim:  ts.claim,
		logger: ts.logger,
	}

	if _, err := tx.ExecContext(ctx, setRoleSQL, ts.role); err != nil {
		scope.abort()
		return nil, transactionFailure("set role", err)
	}

	if err := scope.SetSessionClaim(ctx, sessionID); err != nil {
		scope.abort()
		return nil, err
	}

	return scope, nil
}

// Run opens a scope, calls fn and finishes the scope with fn's error.
// A panic in fn rolls back and releases before being re-raised.
func (ts *TxScope) Run(ctx context.Context, sessionID *uuid.UUID, fn func(ctx context.Context, scope *Scope) error) (err error) {
	scope, err := ts.Open(ctx, sessionID)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = scope.Finish(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	err = fn(ctx, scope)
	if finishErr := scope.Finish(err); finishErr != nil && err == nil {
		err = finishErr
	}
	return err
}

// Scope is one live transaction running under the visitor role.
type Scope struct {
	conn      bun.Conn
	tx        bun.Tx
	claim     string
	sessionID *uuid.UUID
	logger    Logger

	mu       sync.Mutex
	finished bool
}

// Tx returns the transaction handle for queries in this request
func (s *Scope) Tx() bun.IDB {
	return s.tx
}

// SessionID returns the session id currently set on the transaction
func (s *Scope) SessionID() *uuid.UUID {
	return s.sessionID
}

// SetSessionClaim sets the transaction local session claim. nil clears it.
func (s *Scope) SetSessionClaim(ctx context.Context, sessionID *uuid.UUID) error {
	if _, err := s.tx.ExecContext(ctx, setClaimSQL, s.claim, sessionClaimValue(sessionID)); err != nil {
		return transactionFailure("set session claim", err)
	}
	s.sessionID = sessionID
	return nil
}

// Finish commits when err is nil and rolls back otherwise. The connection
// is always returned to the pool. Calling Finish more than once is a no-op.
func (s *Scope) Finish(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return nil
	}
	s.finished = true

	defer func() {
		if closeErr := s.conn.Close(); closeErr != nil && !errors.Is(closeErr, context.Canceled) {
			s.logger.Warn("failed to release connection", "error", closeErr)
		}
	}()

	if err != nil {
		if rbErr := s.tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr, "cause", err)
		}
		return nil
	}

	if commitErr := s.tx.Commit(); commitErr != nil {
		return transactionFailure("commit", commitErr)
	}

	return nil
}

// Finished reports whether the scope was committed or rolled back
func (s *Scope) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Scope) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	_ = s.tx.Rollback()
	_ = s.conn.Close()
}
