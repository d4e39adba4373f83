package rowauth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	rowauth "github.com/goliatone/go-rowauth"
)

func newBuilder(db *bun.DB, clock *testClock, opts ...rowauth.ContextBuilderOption) (*rowauth.ContextBuilder, *rowauth.TokenCodec) {
	logger := &recordingLogger{}
	codec := newCodec(clock)
	store := rowauth.NewSessionStore(db, 15*time.Second,
		rowauth.WithSessionClock(clock.Now),
		rowauth.WithSessionLogger(logger),
	)
	scopes := rowauth.NewTxScope(db, testRole, "", logger)
	opts = append([]rowauth.ContextBuilderOption{rowauth.WithBuilderLogger(logger)}, opts...)
	return rowauth.NewContextBuilder(codec, store, scopes, testIssuer, opts...), codec
}

func sessionToken(t *testing.T, codec *rowauth.TokenCodec, id uuid.UUID) string {
	t.Helper()
	token, err := codec.Sign(map[string]any{"session_id": id.String()}, "")
	require.NoError(t, err)
	return token
}

func sessionRows(id uuid.UUID, lastActive time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"uuid", "user_id", "created_at", "last_active"}).
		AddRow(id.String(), uuid.NewString(), lastActive, lastActive)
}

func TestContextBuilder_Unauthenticated(t *testing.T) {
	clock := newTestClock()

	tests := []struct {
		name  string
		token func(codec *rowauth.TokenCodec) string
	}{
		{name: "no credential", token: func(*rowauth.TokenCodec) string { return "" }},
		{name: "malformed credential", token: func(*rowauth.TokenCodec) string { return "garbage.token.value" }},
		{name: "session id is not a uuid", token: func(codec *rowauth.TokenCodec) string {
			token, _ := codec.Sign(map[string]any{"session_id": "42"}, "")
			return token
		}},
		{name: "no session id", token: func(codec *rowauth.TokenCodec) string {
			token, _ := codec.Sign(map[string]any{"sub": "someone"}, "")
			return token
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, sqldb, mock := newMockDB(t)
			builder, codec := newBuilder(db, clock)

			expectOpen(mock, nil)
			mock.ExpectCommit()

			rc, err := builder.Build(context.Background(), tt.token(codec))
			require.NoError(t, err)
			assert.Nil(t, rc.SessionID())
			assert.False(t, rc.Authenticated())

			require.NoError(t, rc.Finish(nil))
			assert.Equal(t, 0, sqldb.Stats().InUse)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestContextBuilder_AuthenticatedRefreshesSession(t *testing.T) {
	clock := newTestClock()
	db, sqldb, mock := newMockDB(t)
	builder, codec := newBuilder(db, clock)
	sessionID := uuid.New()

	expectOpen(mock, &sessionID)
	mock.ExpectExec(quoted("SAVEPOINT rowauth_session_refresh")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(quoted(`FROM "app_private"."sessions"`)).
		WillReturnRows(sessionRows(sessionID, clock.Now().Add(-time.Minute)))
	mock.ExpectExec(quoted(`UPDATE "app_private"."sessions"`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(quoted("RELEASE SAVEPOINT rowauth_session_refresh")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	rc, err := builder.Build(context.Background(), sessionToken(t, codec, sessionID))
	require.NoError(t, err)
	require.NotNil(t, rc.SessionID())
	assert.Equal(t, sessionID, *rc.SessionID())
	assert.True(t, rc.Authenticated())

	require.NoError(t, rc.Finish(nil))
	assert.Equal(t, 0, sqldb.Stats().InUse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContextBuilder_RevokedSessionDowngrades(t *testing.T) {
	clock := newTestClock()
	db, sqldb, mock := newMockDB(t)
	builder, codec := newBuilder(db, clock)
	sessionID := uuid.New()

	expectOpen(mock, &sessionID)
	mock.ExpectExec(quoted("SAVEPOINT rowauth_session_refresh")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(quoted(`FROM "app_private"."sessions"`)).
		WillReturnRows(sqlmock.NewRows([]string{"uuid", "user_id", "created_at", "last_active"}))
	mock.ExpectExec(quoted("RELEASE SAVEPOINT rowauth_session_refresh")).WillReturnResult(sqlmock.NewResult(0, 0))
	expectClaim(mock, nil)
	mock.ExpectCommit()

	rc, err := builder.Build(context.Background(), sessionToken(t, codec, sessionID))
	require.NoError(t, err)
	assert.Nil(t, rc.SessionID())
	assert.False(t, rc.Authenticated())

	require.NoError(t, rc.Finish(nil))
	assert.Equal(t, 0, sqldb.Stats().InUse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContextBuilder_LookupFailureDowngrades(t *testing.T) {
	clock := newTestClock()
	db, sqldb, mock := newMockDB(t)
	builder, codec := newBuilder(db, clock)
	sessionID := uuid.New()

	expectOpen(mock, &sessionID)
	mock.ExpectExec(quoted("SAVEPOINT rowauth_session_refresh")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(quoted(`FROM "app_private"."sessions"`)).WillReturnError(errors.New("statement timeout"))
	mock.ExpectExec(quoted("ROLLBACK TO SAVEPOINT rowauth_session_refresh")).WillReturnResult(sqlmock.NewResult(0, 0))
	expectClaim(mock, nil)
	mock.ExpectCommit()

	rc, err := builder.Build(context.Background(), sessionToken(t, codec, sessionID))
	require.NoError(t, err)
	assert.Nil(t, rc.SessionID())

	require.NoError(t, rc.Finish(nil))
	assert.Equal(t, 0, sqldb.Stats().InUse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContextBuilder_RefreshFailureKeepsSession(t *testing.T) {
	clock := newTestClock()
	db, _, mock := newMockDB(t)
	builder, codec := newBuilder(db, clock)
	sessionID := uuid.New()

	expectOpen(mock, &sessionID)
	mock.ExpectExec(quoted("SAVEPOINT rowauth_session_refresh")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(quoted(`FROM "app_private"."sessions"`)).
		WillReturnRows(sessionRows(sessionID, clock.Now().Add(-time.Minute)))
	mock.ExpectExec(quoted(`UPDATE "app_private"."sessions"`)).WillReturnError(errors.New("lock timeout"))
	mock.ExpectExec(quoted("ROLLBACK TO SAVEPOINT rowauth_session_refresh")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	rc, err := builder.Build(context.Background(), sessionToken(t, codec, sessionID))
	require.NoError(t, err)
	require.NotNil(t, rc.SessionID())
	assert.Equal(t, sessionID, *rc.SessionID())

	require.NoError(t, rc.Finish(nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContextBuilder_OpenFailureIsReturned(t *testing.T) {
	clock := newTestClock()
	db, sqldb, mock := newMockDB(t)
	builder, _ := newBuilder(db, clock)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	rc, err := builder.Build(context.Background(), "")
	assert.Nil(t, rc)
	failure, ok := rowauth.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, rowauth.KindTransaction, failure.Kind)
	assert.Equal(t, 0, sqldb.Stats().InUse)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContextBuilder_PrivilegedSessionDB(t *testing.T) {
	clock := newTestClock()
	db, _, mock := newMockDB(t)
	privileged, _, privMock := newMockDB(t)
	builder, codec := newBuilder(db, clock, rowauth.WithSessionDB(privileged))

	live := uuid.New()
	gone := uuid.New()

	t.Run("live session is resolved before the transaction opens", func(t *testing.T) {
		privMock.ExpectQuery(quoted(`FROM "app_private"."sessions"`)).
			WillReturnRows(sessionRows(live, clock.Now()))
		privMock.ExpectExec(quoted(`UPDATE "app_private"."sessions"`)).WillReturnResult(sqlmock.NewResult(0, 0))
		expectOpen(mock, &live)
		mock.ExpectCommit()

		rc, err := builder.Build(context.Background(), sessionToken(t, codec, live))
		require.NoError(t, err)
		require.NotNil(t, rc.SessionID())
		assert.Equal(t, live, *rc.SessionID())
		require.NoError(t, rc.Finish(nil))
	})

	t.Run("missing session opens unauthenticated", func(t *testing.T) {
		privMock.ExpectQuery(quoted(`FROM "app_private"."sessions"`)).
			WillReturnRows(sqlmock.NewRows([]string{"uuid"}))
		expectOpen(mock, nil)
		mock.ExpectCommit()

		rc, err := builder.Build(context.Background(), sessionToken(t, codec, gone))
		require.NoError(t, err)
		assert.Nil(t, rc.SessionID())
		require.NoError(t, rc.Finish(nil))
	})

	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, privMock.ExpectationsWereMet())
}

func TestRequestContext_LoginLogout(t *testing.T) {
	clock := newTestClock()
	db, _, mock := newMockDB(t)
	builder, codec := newBuilder(db, clock)

	expectOpen(mock, nil)
	mock.ExpectCommit()

	rc, err := builder.Build(context.Background(), "")
	require.NoError(t, err)

	sessionID := uuid.New()
	token, err := rc.Login(context.Background(), map[string]any{"session_id": sessionID.String()})
	require.NoError(t, err)
	assert.Equal(t, token, rc.IssuedToken())
	assert.False(t, rc.CredentialCleared())

	claims, ok := codec.Verify(token)
	require.True(t, ok)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, sessionID, *claims.SessionUUID())

	require.NoError(t, rc.Logout(context.Background()))
	assert.True(t, rc.CredentialCleared())
	assert.Empty(t, rc.IssuedToken())

	ctx := rowauth.WithRequestContext(context.Background(), rc)
	found, ok := rowauth.RequestContextFrom(ctx)
	require.True(t, ok)
	assert.Same(t, rc, found)
	assert.Empty(t, rowauth.SessionIDFrom(ctx))

	_, ok = rowauth.RequestContextFrom(context.Background())
	assert.False(t, ok)

	require.NoError(t, rc.Finish(nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
