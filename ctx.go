package rowauth

import (
	"context"
)

var requestCtxKey = &contextKey{"rowauth-request"}

type contextKey struct {
	name string
}

// WithRequestContext stores the per request auth context
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestCtxKey, rc)
}

// RequestContextFrom finds the per request auth context.
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(requestCtxKey).(*RequestContext)
	return rc, ok && rc != nil
}

// SessionIDFrom returns the resolved session id, empty when unauthenticated
func SessionIDFrom(ctx context.Context) string {
	rc, ok := RequestContextFrom(ctx)
	if !ok || rc.SessionID() == nil {
		return ""
	}
	return rc.SessionID().String()
}
