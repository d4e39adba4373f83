package rowauth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/uptrace/bun"
)

// RegisterInput is the payload of the register mutation
type RegisterInput struct {
	Username string   `json:"username" form:"username"`
	Email    string   `json:"email" form:"email"`
	Password string   `json:"password" form:"password"`
	Fields   []string `json:"fields,omitempty" form:"fields"`
}

// Validate checks the shape of the input. Password strength is the
// datastore's call.
func (r RegisterInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(2, 64)),
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required),
	)
}

// LoginInput is the payload of the login mutation
type LoginInput struct {
	Username string   `json:"username" form:"username"`
	Password string   `json:"password" form:"password"`
	Fields   []string `json:"fields,omitempty" form:"fields"`
}

// Validate checks the shape of the input
func (r LoginInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// MutationResult is returned by register and login
type MutationResult struct {
	Identity IdentityView `json:"user"`
	Token    string       `json:"token,omitempty"`
}

// LogoutResult is returned by logout
type LogoutResult struct {
	Success bool `json:"success"`
}

// Mutations implements register, login and logout on top of a request
// context. Each call runs inside the request transaction.
type Mutations struct {
	procedures        Procedures
	projector         IdentityProjector
	registerSanitizer *Sanitizer
	loginSanitizer    *Sanitizer
	activity          ActivitySink
	privileged        bun.IDB
	logger            Logger
	now               func() time.Time
}

// MutationsOption customizes Mutations
type MutationsOption func(*Mutations)

// WithMutationsLogger sets the logger used by the handlers and sanitizers
func WithMutationsLogger(logger Logger) MutationsOption {
	return func(m *Mutations) {
		m.logger = normalizeLogger(logger)
	}
}

// WithMutationsActivitySink records register, login and logout outcomes
func WithMutationsActivitySink(sink ActivitySink) MutationsOption {
	return func(m *Mutations) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithPrivilegedDB runs the register and login procedures on a privileged
// handle instead of the request transaction. The session claim is still
// set on the request transaction.
func WithPrivilegedDB(db bun.IDB) MutationsOption {
	return func(m *Mutations) {
		m.privileged = db
	}
}

// WithMutationsClock sets the clock used to stamp activity events
func WithMutationsClock(now func() time.Time) MutationsOption {
	return func(m *Mutations) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMutations creates the identity mutation handlers
func NewMutations(procedures Procedures, projector IdentityProjector, opts ...MutationsOption) *Mutations {
	m := &Mutations{
		procedures: procedures,
		projector:  projector,
		activity:   noopActivitySink{},
		logger:     defLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.registerSanitizer = NewRegisterSanitizer(m.logger)
	m.loginSanitizer = NewLoginSanitizer(m.logger)
	return m
}

// Register creates an identity with its first session, binds the session
// to the transaction and returns the projected identity with a new token.
func (m *Mutations) Register(ctx context.Context, rc *RequestContext, in RegisterInput) (*MutationResult, error) {
	if rc == nil {
		return nil, ErrNoRequestContext
	}

	if err := in.Validate(); err != nil {
		failure := invalidInput(KindRegistrationFailed, err)
		m.record(ctx, ActivityEvent{EventType: ActivityEventRegisterFailure, Username: in.Username, Code: failure.Code})
		return nil, failure
	}

	reg, err := m.procedures.CreateIdentityAndSession(ctx, m.procedureDB(rc), in.Username, in.Email, in.Password)
	if err != nil {
		failure := m.registerSanitizer.Sanitize(err)
		m.record(ctx, ActivityEvent{EventType: ActivityEventRegisterFailure, Username: in.Username, Code: failure.Code})
		return nil, failure
	}

	if reg == nil {
		m.record(ctx, ActivityEvent{EventType: ActivityEventRegisterFailure, Username: in.Username, Code: CodeRegistrationFailed})
		return nil, &Failure{
			Kind:           KindRegistrationFailed,
			Code:           CodeRegistrationFailed,
			SafeToDisclose: true,
			Message:        "Registration failed",
		}
	}

	result := &MutationResult{}

	if reg.SessionID != nil {
		if err := rc.Authenticate(ctx, reg.SessionID); err != nil {
			return nil, err
		}

		token, err := rc.Login(ctx, map[string]any{"session_id": reg.SessionID.String()})
		if err != nil {
			return nil, err
		}
		result.Token = token
	}

	userID := reg.UserID
	identity, err := m.projector.ProjectIdentity(ctx, rc.Tx(), ProjectionCriteria{
		UserID: &userID,
		Fields: in.Fields,
	})
	if err != nil {
		return nil, transactionFailure("project identity", err)
	}
	result.Identity = identity

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventRegisterSuccess,
		UserID:    userID.String(),
		SessionID: sessionClaimValue(reg.SessionID),
		Username:  in.Username,
	})

	return result, nil
}

// Login authenticates the credentials, binds the new session and returns
// the projected identity with a new token. Unknown users and wrong
// passwords produce the same failure.
func (m *Mutations) Login(ctx context.Context, rc *RequestContext, in LoginInput) (*MutationResult, error) {
	if rc == nil {
		return nil, ErrNoRequestContext
	}

	if err := in.Validate(); err != nil {
		failure := invalidInput(KindLoginFailed, err)
		m.record(ctx, ActivityEvent{EventType: ActivityEventLoginFailure, Username: in.Username, Code: failure.Code})
		return nil, failure
	}

	session, err := m.procedures.Authenticate(ctx, m.procedureDB(rc), in.Username, in.Password)
	if err != nil {
		failure := m.loginSanitizer.Sanitize(err)
		m.record(ctx, ActivityEvent{EventType: ActivityEventLoginFailure, Username: in.Username, Code: failure.Code})
		return nil, failure
	}

	if session == nil {
		failure := *ErrInvalidCredentials
		m.record(ctx, ActivityEvent{EventType: ActivityEventLoginFailure, Username: in.Username, Code: failure.Code})
		return nil, &failure
	}

	sessionID := session.ID
	if err := rc.Authenticate(ctx, &sessionID); err != nil {
		return nil, err
	}

	token, err := rc.Login(ctx, map[string]any{"session_id": sessionID.String()})
	if err != nil {
		return nil, err
	}

	identity, err := m.projector.ProjectIdentity(ctx, rc.Tx(), ProjectionCriteria{
		CurrentUser: true,
		Fields:      in.Fields,
	})
	if err != nil {
		return nil, transactionFailure("project identity", err)
	}

	event := ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		SessionID: sessionID.String(),
		Username:  in.Username,
	}
	if session.UserID != nil {
		event.UserID = session.UserID.String()
	}
	m.record(ctx, event)

	return &MutationResult{Identity: identity, Token: token}, nil
}

// Logout ends the current session and tells the transport to drop the
// credential. Logging out without a session succeeds.
func (m *Mutations) Logout(ctx context.Context, rc *RequestContext) (*LogoutResult, error) {
	if rc == nil {
		return nil, ErrNoRequestContext
	}

	sessionID := sessionClaimValue(rc.SessionID())

	if err := m.procedures.EndSession(ctx, rc.Tx()); err != nil {
		m.logger.Error("logout procedure failed", "session_id", sessionID, "error", err)
		return nil, transactionFailure("end session", err)
	}

	if err := rc.Logout(ctx); err != nil {
		return nil, err
	}

	m.record(ctx, ActivityEvent{EventType: ActivityEventLogout, SessionID: sessionID})

	return &LogoutResult{Success: true}, nil
}

// Current projects the identity bound to the request, nil when unauthenticated
func (m *Mutations) Current(ctx context.Context, rc *RequestContext, fields []string) (IdentityView, error) {
	if rc == nil {
		return nil, ErrNoRequestContext
	}
	if !rc.Authenticated() {
		return nil, nil
	}
	identity, err := m.projector.ProjectIdentity(ctx, rc.Tx(), ProjectionCriteria{
		CurrentUser: true,
		Fields:      fields,
	})
	if err != nil {
		return nil, transactionFailure("project identity", err)
	}
	return identity, nil
}

func (m *Mutations) procedureDB(rc *RequestContext) bun.IDB {
	if m.privileged != nil {
		return m.privileged
	}
	return rc.Tx()
}

func (m *Mutations) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}
	if err := m.activity.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink failed", "event", string(event.EventType), "error", err)
	}
}

func invalidInput(kind FailureKind, err error) *Failure {
	return &Failure{
		Kind:           kind,
		Code:           CodeInvalidInput,
		SafeToDisclose: true,
		Message:        err.Error(),
		Cause:          err,
	}
}
