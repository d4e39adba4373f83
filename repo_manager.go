package rowauth

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// SessionManager runs session maintenance outside of a request, on a
// connection that is not impersonating the visitor role.
type SessionManager interface {
	repository.Validator
	repository.TransactionManager
	Sessions() *SessionStore
	PurgeIdle(ctx context.Context, maxIdle time.Duration) (int64, error)
}

type mngr struct {
	db       *bun.DB
	sessions *SessionStore
}

// NewSessionManager creates a SessionManager over db
func NewSessionManager(db *bun.DB, sessions *SessionStore) SessionManager {
	return &mngr{
		db:       db,
		sessions: sessions,
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("session manager database should be initialized")
	}

	if m.sessions == nil {
		return errors.New("session manager store should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Sessions() *SessionStore {
	return m.sessions
}

// PurgeIdle deletes idle sessions in a single transaction
func (m mngr) PurgeIdle(ctx context.Context, maxIdle time.Duration) (int64, error) {
	var purged int64
	err := m.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		n, err := m.sessions.PurgeIdle(ctx, tx, maxIdle)
		purged = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}
