package rowauth_test

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"

	rowauth "github.com/goliatone/go-rowauth"
)

type MockProcedures struct {
	mock.Mock
}

func (m *MockProcedures) CreateIdentityAndSession(ctx context.Context, db bun.IDB, username, email, password string) (*rowauth.Registration, error) {
	args := m.Called(ctx, db, username, email, password)
	reg, _ := args.Get(0).(*rowauth.Registration)
	return reg, args.Error(1)
}

func (m *MockProcedures) Authenticate(ctx context.Context, db bun.IDB, username, password string) (*rowauth.Session, error) {
	args := m.Called(ctx, db, username, password)
	session, _ := args.Get(0).(*rowauth.Session)
	return session, args.Error(1)
}

func (m *MockProcedures) EndSession(ctx context.Context, db bun.IDB) error {
	args := m.Called(ctx, db)
	return args.Error(0)
}

type MockProjector struct {
	mock.Mock
}

func (m *MockProjector) ProjectIdentity(ctx context.Context, db bun.IDB, criteria rowauth.ProjectionCriteria) (rowauth.IdentityView, error) {
	args := m.Called(ctx, db, criteria)
	view, _ := args.Get(0).(rowauth.IdentityView)
	return view, args.Error(1)
}

type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event rowauth.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
