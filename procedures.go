package rowauth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

const (
	createIdentityAndSessionSQL = `WITH new_user AS (
	SELECT users.* FROM app_private.really_create_user(
		username => ?,
		email => ?,
		password => ?
	) users
	WHERE NOT (users IS NULL)
), new_session AS (
	INSERT INTO app_private.sessions (user_id)
	SELECT id FROM new_user
	RETURNING *
)
SELECT new_user.id AS user_id, new_session.uuid AS session_id
FROM new_user, new_session`

	authenticateSQL = `SELECT sessions.* FROM app_private.login(?, ?) sessions WHERE NOT (sessions IS NULL)`

	endSessionSQL = `SELECT app_public.logout()`
)

// PostgresProcedures calls the stored procedures that own identities and sessions.
type PostgresProcedures struct{}

var _ Procedures = PostgresProcedures{}

// CreateIdentityAndSession creates the user and its first session in one
// statement. A nil result means the procedure produced no identity.
func (PostgresProcedures) CreateIdentityAndSession(ctx context.Context, db bun.IDB, username, email, password string) (*Registration, error) {
	reg := &Registration{}
	if err := db.NewRaw(createIdentityAndSessionSQL, username, email, password).Scan(ctx, reg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return reg, nil
}

// Authenticate validates credentials and returns the new session, or nil
// when they do not match.
func (PostgresProcedures) Authenticate(ctx context.Context, db bun.IDB, username, password string) (*Session, error) {
	session := &Session{}
	if err := db.NewRaw(authenticateSQL, username, password).Scan(ctx, session); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// EndSession deletes the session bound to the current transaction
func (PostgresProcedures) EndSession(ctx context.Context, db bun.IDB) error {
	_, err := db.ExecContext(ctx, endSessionSQL)
	return err
}
