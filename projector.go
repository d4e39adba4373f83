package rowauth

import (
	"context"
	"slices"

	"github.com/uptrace/bun"
)

// DefaultIdentityFields are projected when the caller selects nothing
var DefaultIdentityFields = []string{"id", "username", "name", "avatar_url", "is_admin", "is_verified", "created_at", "updated_at"}

// UserProjector reads identity rows from the public users table under the
// request transaction, so row policies decide what is visible.
type UserProjector struct {
	table    string
	allowed  []string
	defaults []string
}

// UserProjectorOption customizes a UserProjector
type UserProjectorOption func(*UserProjector)

// WithProjectorTable sets the table identities are read from
func WithProjectorTable(table string) UserProjectorOption {
	return func(p *UserProjector) {
		if table != "" {
			p.table = table
		}
	}
}

// WithProjectorFields sets the selectable columns. The first call also
// becomes the default selection.
func WithProjectorFields(fields ...string) UserProjectorOption {
	return func(p *UserProjector) {
		if len(fields) == 0 {
			return
		}
		p.allowed = slices.Clone(fields)
		p.defaults = slices.Clone(fields)
	}
}

// NewUserProjector creates a projector over app_public.users
func NewUserProjector(opts ...UserProjectorOption) *UserProjector {
	p := &UserProjector{
		table:    "app_public.users",
		allowed:  slices.Clone(DefaultIdentityFields),
		defaults: slices.Clone(DefaultIdentityFields),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

var _ IdentityProjector = (*UserProjector)(nil)

// ProjectIdentity selects the requested columns of one identity. Unknown
// columns are ignored. A row hidden by policy yields a nil view.
func (p *UserProjector) ProjectIdentity(ctx context.Context, db bun.IDB, criteria ProjectionCriteria) (IdentityView, error) {
	if criteria.UserID == nil && !criteria.CurrentUser {
		return nil, nil
	}

	fields := p.columns(criteria.Fields)

	q := db.NewSelect().TableExpr("? AS usr", bun.Ident(p.table))
	for _, field := range fields {
		q = q.ColumnExpr("usr.?", bun.Ident(field))
	}

	if criteria.UserID != nil {
		q = q.Where("usr.id = ?", *criteria.UserID)
	} else {
		q = q.Where("usr.id = app_public.current_user_id()")
	}

	rows, err := q.Limit(1).Rows(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	// Scanning into *any clones driver owned bytes while the row is current.
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	view := make(IdentityView, len(columns))
	for i, column := range columns {
		v := values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		view[column] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return view, nil
}

func (p *UserProjector) columns(requested []string) []string {
	if len(requested) == 0 {
		return p.defaults
	}

	out := make([]string, 0, len(requested))
	for _, f := range requested {
		if slices.Contains(p.allowed, f) && !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return p.defaults
	}
	return out
}
