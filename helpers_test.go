package rowauth_test

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	rowauth "github.com/goliatone/go-rowauth"

	_ "modernc.org/sqlite"
)

const (
	testSigningKey = "test-signing-key-0123456789"
	testIssuer     = "https://rowauth.test"
	testRole       = "app_visitor"
)

type logEntry struct {
	Level string
	Msg   string
	Args  []any
}

// recordingLogger keeps every entry for assertions
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{Level: level, Msg: msg, Args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

func (l *recordingLogger) dump() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprint(l.entries)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newMockDB returns a Postgres flavoured bun.DB backed by sqlmock.
// Statements are matched as regular expressions, in order.
func newMockDB(t *testing.T) (*bun.DB, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, sqldb, mock
}

// newSQLiteDB returns an in memory SQLite database with the private
// schema attached and the sessions table created.
func newSQLiteDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	_, err = db.Exec("ATTACH DATABASE ':memory:' AS app_private")
	require.NoError(t, err)

	_, err = db.NewCreateTable().Model((*rowauth.Session)(nil)).Exec(context.Background())
	require.NoError(t, err)

	return db
}

func quoted(query string) string {
	return regexp.QuoteMeta(query)
}

func expectRole(mock sqlmock.Sqlmock) {
	mock.ExpectExec(quoted(fmt.Sprintf("SELECT set_config('role', '%s', true)", testRole))).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectClaim(mock sqlmock.Sqlmock, id *uuid.UUID) {
	value := ""
	if id != nil {
		value = id.String()
	}
	mock.ExpectExec(quoted(fmt.Sprintf("SELECT set_config('%s', '%s', true)", rowauth.DefaultSessionClaim, value))).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// expectOpen registers the statements every request transaction starts with
func expectOpen(mock sqlmock.Sqlmock, id *uuid.UUID) {
	mock.ExpectBegin()
	expectRole(mock)
	expectClaim(mock, id)
}

func newCodec(clock *testClock) *rowauth.TokenCodec {
	opts := []rowauth.TokenCodecOption{}
	if clock != nil {
		opts = append(opts, rowauth.WithCodecClock(clock.Now))
	}
	return rowauth.NewTokenCodec([]byte(testSigningKey), testIssuer, time.Hour, &recordingLogger{}, opts...)
}
