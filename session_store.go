package rowauth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultSessionStaleness is the minimum interval between two last_active writes
const DefaultSessionStaleness = 15 * time.Second

// SessionStore reads and writes session rows through the caller's
// transaction handle.
type SessionStore struct {
	repo      repository.Repository[*Session]
	staleness time.Duration
	now       func() time.Time
	logger    Logger
}

// SessionStoreOption customizes a SessionStore
type SessionStoreOption func(*SessionStore)

// WithSessionClock sets the time source used for refresh and purge cutoffs
func WithSessionClock(now func() time.Time) SessionStoreOption {
	return func(s *SessionStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionLogger sets the store logger
func WithSessionLogger(logger Logger) SessionStoreOption {
	return func(s *SessionStore) {
		s.logger = normalizeLogger(logger)
	}
}

// NewSessionStore creates a store. A staleness of zero uses DefaultSessionStaleness.
func NewSessionStore(db *bun.DB, staleness time.Duration, opts ...SessionStoreOption) *SessionStore {
	if staleness <= 0 {
		staleness = DefaultSessionStaleness
	}

	store := &SessionStore{
		repo: repository.NewRepository[*Session](db, repository.ModelHandlers[*Session]{
			NewRecord: func() *Session { return &Session{} },
			GetID: func(s *Session) uuid.UUID {
				if s == nil {
					return uuid.Nil
				}
				return s.ID
			},
			SetID: func(s *Session, id uuid.UUID) {
				if s != nil {
					s.ID = id
				}
			},
		}),
		staleness: staleness,
		now:       time.Now,
		logger:    defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store
}

// Staleness returns the refresh window
func (s *SessionStore) Staleness() time.Duration {
	return s.staleness
}

// RefreshIfStale bumps last_active when it is older than the staleness
// window. Missing sessions are left alone. refreshed reports whether a row
// was written.
func (s *SessionStore) RefreshIfStale(ctx context.Context, db bun.IDB, id uuid.UUID) (refreshed bool, err error) {
	now := s.now()
	res, err := db.NewUpdate().
		Model((*Session)(nil)).
		Set("last_active = ?", now).
		Where("uuid = ?", id).
		Where("last_active < ?", now.Add(-s.staleness)).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// Create inserts a session for userID and returns it with a fresh id
func (s *SessionStore) Create(ctx context.Context, db bun.IDB, userID uuid.UUID) (*Session, error) {
	now := s.now()
	record := &Session{
		ID:         uuid.New(),
		UserID:     &userID,
		CreatedAt:  now,
		LastActive: now,
	}
	return s.repo.CreateTx(ctx, db, record)
}

// Lookup returns the session for id, or nil when it does not exist
func (s *SessionStore) Lookup(ctx context.Context, db bun.IDB, id uuid.UUID) (*Session, error) {
	record := &Session{}
	err := db.NewSelect().
		Model(record).
		Where("uuid = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// Destroy deletes the session. Deleting a missing session is not an error.
func (s *SessionStore) Destroy(ctx context.Context, db bun.IDB, id uuid.UUID) error {
	_, err := db.NewDelete().
		Model((*Session)(nil)).
		Where("uuid = ?", id).
		Exec(ctx)
	return err
}

// PurgeIdle deletes sessions idle for longer than maxIdle and returns how
// many rows were removed. Nothing purges sessions implicitly.
func (s *SessionStore) PurgeIdle(ctx context.Context, db bun.IDB, maxIdle time.Duration) (int64, error) {
	if maxIdle <= 0 {
		return 0, &Failure{Kind: KindTransaction, Message: "max idle must be positive"}
	}

	res, err := db.NewDelete().
		Model((*Session)(nil)).
		Where("last_active < ?", s.now().Add(-maxIdle)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	s.logger.Info("purged idle sessions", "count", n, "max_idle", maxIdle.String())
	return n, nil
}
