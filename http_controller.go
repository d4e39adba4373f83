package rowauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
)

type AuthControllerRoutes struct {
	Register string
	Login    string
	Logout   string
	Me       string
}

type AuthController struct {
	Debug     bool
	Logger    Logger
	Mutations *Mutations
	Routes    *AuthControllerRoutes
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Logger = normalizeLogger(logger)
		return ac
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

func NewAuthController(mutations *Mutations, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:    defLogger{},
		Mutations: mutations,
		Routes: &AuthControllerRoutes{
			Register: "/register",
			Login:    "/login",
			Logout:   "/logout",
			Me:       "/me",
		},
	}

	for _, opt := range opts {
		if opt != nil {
			c = opt(c)
		}
	}

	return c
}

// RegisterAuthRoutes mounts the identity mutations on app. The session
// middleware must run before these handlers.
func RegisterAuthRoutes[T any](app router.Router[T], mutations *Mutations, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(mutations, opts...)

	app.Post(controller.Routes.Register, controller.RegisterPost).
		SetName("register.post")
	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("login.post")
	app.Post(controller.Routes.Logout, controller.LogoutPost).
		SetName("logout.post")
	app.Get(controller.Routes.Me, controller.MeGet).
		SetName("me.get")

	return controller
}

func (a *AuthController) RegisterPost(ctx router.Context) error {
	rc, ok := RequestContextFrom(ctx.Context())
	if !ok {
		return ErrNoRequestContext
	}

	var payload RegisterInput
	if err := ctx.Bind(&payload); err != nil {
		return invalidInput(KindRegistrationFailed, errors.New("malformed request body"))
	}
	payload.Fields = requestedFields(ctx, payload.Fields)

	res, err := a.Mutations.Register(ctx.Context(), rc, payload)
	if err != nil {
		a.debug("register failed", "username", payload.Username, "error", err)
		return err
	}

	return ctx.JSON(http.StatusCreated, res)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	rc, ok := RequestContextFrom(ctx.Context())
	if !ok {
		return ErrNoRequestContext
	}

	var payload LoginInput
	if err := ctx.Bind(&payload); err != nil {
		return invalidInput(KindLoginFailed, errors.New("malformed request body"))
	}
	payload.Fields = requestedFields(ctx, payload.Fields)

	res, err := a.Mutations.Login(ctx.Context(), rc, payload)
	if err != nil {
		a.debug("login failed", "username", payload.Username, "error", err)
		return err
	}

	return ctx.JSON(router.StatusOK, res)
}

func (a *AuthController) LogoutPost(ctx router.Context) error {
	rc, ok := RequestContextFrom(ctx.Context())
	if !ok {
		return ErrNoRequestContext
	}

	res, err := a.Mutations.Logout(ctx.Context(), rc)
	if err != nil {
		return err
	}

	return ctx.JSON(router.StatusOK, res)
}

func (a *AuthController) MeGet(ctx router.Context) error {
	rc, ok := RequestContextFrom(ctx.Context())
	if !ok {
		return ErrNoRequestContext
	}

	identity, err := a.Mutations.Current(ctx.Context(), rc, requestedFields(ctx, nil))
	if err != nil {
		return err
	}

	return ctx.JSON(router.StatusOK, map[string]any{"user": identity})
}

func (a *AuthController) debug(msg string, args ...any) {
	if a.Debug {
		a.Logger.Debug(msg, args...)
	}
}

func requestedFields(ctx router.Context, fields []string) []string {
	raw := ctx.Query("fields", "")
	if raw == "" {
		return fields
	}
	out := make([]string, 0)
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// RenderError writes err as a sanitized JSON error response. It has the
// shape of a router.ErrorHandler.
func RenderError(ctx router.Context, err error) error {
	status, body := errorEnvelope(err)
	return ctx.JSON(status, body)
}

// RouteErrorHandler renders handler errors and logs server side failures
func RouteErrorHandler(logger Logger) router.ErrorHandler {
	logger = normalizeLogger(logger)
	return func(ctx router.Context, err error) error {
		status, body := errorEnvelope(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				"method", ctx.Method(),
				"path", ctx.Path(),
				"error", err,
			)
		}
		return ctx.JSON(status, body)
	}
}

// ErrorHandler is the fiber app fallback for errors raised outside the
// session middleware, such as unknown routes.
func ErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = normalizeLogger(logger)
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(fiber.Map{
				"error": fiber.Map{"message": fiberErr.Message, "code": fiberErr.Code},
			})
		}

		status, body := errorEnvelope(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"error", err,
			)
		}
		return c.Status(status).JSON(body)
	}
}

func errorEnvelope(err error) (int, map[string]any) {
	richErr := ToRichError(err)
	status := richErr.Code
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}

	body := map[string]any{
		"message":  richErr.Message,
		"category": fmt.Sprint(richErr.Category),
		"code":     status,
	}
	if richErr.TextCode != "" {
		body["text_code"] = richErr.TextCode
	}

	return status, map[string]any{"error": body}
}
