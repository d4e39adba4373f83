// Package routertest provides a router.Context backed by plain maps for
// handler and middleware tests.
package routertest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/goliatone/go-router"
)

// Context overrides the request and response methods the rowauth handlers
// use. Anything else falls through to the embedded mock, so an unexpected
// call fails the test.
type Context struct {
	*router.MockContext

	ReqCtx      context.Context
	ReqMethod   string
	ReqPath     string
	ReqHeaders  map[string]string
	ReqQuery    map[string]string
	ReqCookies  map[string]string
	ReqBody     []byte
	LocalValues map[any]any

	RespStatus  int
	RespPayload any
	RespCookies []*router.Cookie
	NextCalls   int
}

func New(method, path string) *Context {
	return &Context{
		MockContext: router.NewMockContext(),
		ReqCtx:      context.Background(),
		ReqMethod:   method,
		ReqPath:     path,
		ReqHeaders:  map[string]string{},
		ReqQuery:    map[string]string{},
		ReqCookies:  map[string]string{},
		LocalValues: map[any]any{},
		RespStatus:  http.StatusOK,
	}
}

// WithBody sets a raw JSON request body
func (c *Context) WithBody(body string) *Context {
	c.ReqBody = []byte(body)
	return c
}

func (c *Context) Context() context.Context {
	return c.ReqCtx
}

func (c *Context) SetContext(ctx context.Context) {
	c.ReqCtx = ctx
}

func (c *Context) Method() string {
	return c.ReqMethod
}

func (c *Context) Path() string {
	return c.ReqPath
}

func (c *Context) Locals(key any, value ...any) any {
	if len(value) > 0 {
		c.LocalValues[key] = value[0]
		return value[0]
	}
	return c.LocalValues[key]
}

func (c *Context) GetString(key string, def string) string {
	if v, ok := c.ReqHeaders[key]; ok {
		return v
	}
	return def
}

func (c *Context) Query(key string, defaultValue ...string) string {
	if v, ok := c.ReqQuery[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *Context) Cookies(key string, defaultValue ...string) string {
	if v, ok := c.ReqCookies[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *Context) Cookie(cookie *router.Cookie) {
	c.RespCookies = append(c.RespCookies, cookie)
}

func (c *Context) Bind(v any) error {
	return json.Unmarshal(c.ReqBody, v)
}

func (c *Context) Status(code int) router.Context {
	c.RespStatus = code
	return c
}

func (c *Context) JSON(code int, v any) error {
	c.RespStatus = code
	c.RespPayload = v
	return nil
}

func (c *Context) SendString(s string) error {
	c.RespPayload = s
	return nil
}

func (c *Context) Next() error {
	c.NextCalls++
	return nil
}

// WrittenCookie returns the last cookie named name written by the handler
func (c *Context) WrittenCookie(name string) *router.Cookie {
	for i := len(c.RespCookies) - 1; i >= 0; i-- {
		if c.RespCookies[i].Name == name {
			return c.RespCookies[i]
		}
	}
	return nil
}

// JSONBody round trips the written payload so tests see what a client
// would decode.
func (c *Context) JSONBody() (map[string]any, error) {
	raw, err := json.Marshal(c.RespPayload)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
