package rowauth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Session is a server side session row. The datastore owns these rows;
// the bridge reads and refreshes them but never caches them across requests.
type Session struct {
	bun.BaseModel `bun:"table:app_private.sessions,alias:sess"`
	ID            uuid.UUID  `bun:"uuid,pk,type:uuid" json:"uuid"`
	UserID        *uuid.UUID `bun:"user_id,type:uuid" json:"user_id,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	LastActive    time.Time  `bun:"last_active,nullzero,notnull,default:current_timestamp" json:"last_active"`
}

// Registration is the row returned by the create identity procedure
type Registration struct {
	UserID    uuid.UUID  `bun:"user_id" json:"user_id"`
	SessionID *uuid.UUID `bun:"session_id" json:"session_id,omitempty"`
}
