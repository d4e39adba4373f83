package rowauth_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rowauth "github.com/goliatone/go-rowauth"
)

func TestUserProjector_ByID(t *testing.T) {
	db, _, mock := newMockDB(t)
	projector := rowauth.NewUserProjector()
	userID := uuid.New()

	mock.ExpectQuery(`SELECT usr\."id", usr\."username" FROM "app_public"\."users" AS usr WHERE \(usr\.id = '` + userID.String() + `'\) LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).AddRow([]byte(userID.String()), []byte("alice")))

	view, err := projector.ProjectIdentity(context.Background(), db, rowauth.ProjectionCriteria{
		UserID: &userID,
		Fields: []string{"id", "username", "password_hash", "username"},
	})
	require.NoError(t, err)
	assert.Equal(t, userID.String(), view.ID())
	assert.Equal(t, "alice", view["username"])
	assert.NotContains(t, view, "password_hash")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserProjector_CurrentUser(t *testing.T) {
	db, _, mock := newMockDB(t)
	projector := rowauth.NewUserProjector(
		rowauth.WithProjectorTable("app_public.people"),
		rowauth.WithProjectorFields("id", "name"),
	)

	mock.ExpectQuery(`SELECT usr\."id", usr\."name" FROM "app_public"\."people" AS usr WHERE \(usr\.id = app_public\.current_user_id\(\)\) LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	view, err := projector.ProjectIdentity(context.Background(), db, rowauth.ProjectionCriteria{CurrentUser: true})
	require.NoError(t, err)
	assert.Nil(t, view)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserProjector_NothingToProject(t *testing.T) {
	db, _, mock := newMockDB(t)
	projector := rowauth.NewUserProjector()

	view, err := projector.ProjectIdentity(context.Background(), db, rowauth.ProjectionCriteria{})
	require.NoError(t, err)
	assert.Nil(t, view)
	require.NoError(t, mock.ExpectationsWereMet())
}
