package rowauth

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/lib/pq"
)

// FailureKind tags a failure so callers branch on data, not on types.
type FailureKind string

const (
	KindInvalidCredential  FailureKind = "invalid_credential"
	KindRegistrationFailed FailureKind = "registration_failed"
	KindInvalidCredentials FailureKind = "invalid_credentials"
	KindLoginFailed        FailureKind = "login_failed"
	KindSessionNotFound    FailureKind = "session_not_found"
	KindTransaction        FailureKind = "transaction_failure"
	KindSigning            FailureKind = "signing_error"
)

// Datastore and validation codes understood by the sanitizer.
const (
	CodeWeakPassword          = "WEAKP"
	CodeAccountLocked         = "LOCKD"
	CodeUnverifiedToken       = "UMTKN"
	CodeInvalidInput          = "INVLD"
	CodeBadCredentials        = "CREDS"
	CodeRegistrationFailed    = "FFFFF"
	CodeUniqueViolation       = "23505"
	CodeForeignKeyViolation   = "23503"
	CodeInsufficientPrivilege = "42501"
)

// Failure is the error value moved between the datastore, the mutation
// handlers and the sanitizer.
type Failure struct {
	Kind           FailureKind
	Code           string
	SafeToDisclose bool
	Message        string
	Cause          error
}

func (f *Failure) Error() string {
	if f == nil {
		return "rowauth failure"
	}
	msg := f.Message
	if msg == "" {
		msg = string(f.Kind)
	}
	if f.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, f.Code)
	}
	if f.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, f.Cause)
	}
	return msg
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Cause
}

// Is matches copies of a failure so sentinels work with errors.Is.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok || f == nil || t == nil {
		return false
	}
	return f.Kind == t.Kind && f.Code == t.Code && f.Message == t.Message
}

// Public returns the message that may be shown to an external caller.
func (f *Failure) Public() string {
	if f == nil {
		return ""
	}
	if f.SafeToDisclose && f.Message != "" {
		return f.Message
	}
	switch f.Kind {
	case KindRegistrationFailed:
		return "Registration failed"
	case KindLoginFailed, KindInvalidCredentials:
		return "Login failed"
	default:
		return "An unexpected error occurred"
	}
}

// ErrSigningKeyMissing is returned by the token codec when no key is configured
var ErrSigningKeyMissing = &Failure{Kind: KindSigning, Message: "signing key is not configured"}

// ErrVisitorRoleMissing is returned when a transaction scope has no role to impersonate
var ErrVisitorRoleMissing = &Failure{Kind: KindTransaction, Message: "visitor role is not configured"}

// ErrInvalidCredentials is the single message for unknown users and wrong passwords
var ErrInvalidCredentials = &Failure{
	Kind:           KindInvalidCredentials,
	Code:           CodeBadCredentials,
	SafeToDisclose: true,
	Message:        "Incorrect username/password",
}

// ErrNoRequestContext means the transport did not install a request context
var ErrNoRequestContext = &Failure{Kind: KindTransaction, Message: "request context missing"}

// AsFailure extracts a Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) && f != nil {
		return f, true
	}
	return nil, false
}

// DatastoreCode extracts the short error code and message carried by err.
// Postgres errors report their SQLSTATE, which includes custom codes
// raised by stored procedures.
func DatastoreCode(err error) (code string, message string) {
	if err == nil {
		return "", ""
	}

	if f, ok := AsFailure(err); ok && f.Code != "" {
		return f.Code, f.Message
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr != nil {
		return string(pqErr.Code), pqErr.Message
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil && richErr.TextCode != "" {
		return richErr.TextCode, richErr.Message
	}

	return "", err.Error()
}

func transactionFailure(op string, err error) *Failure {
	return &Failure{
		Kind:    KindTransaction,
		Message: op + " failed",
		Cause:   err,
	}
}

// ToRichError converts a failure into the error shape rendered by the transport.
// Only disclosable text reaches the message; the code is always kept.
func ToRichError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		return richErr
	}

	f, ok := AsFailure(err)
	if !ok {
		return goerrors.New("An unexpected error occurred", goerrors.CategoryInternal).
			WithCode(goerrors.CodeInternal)
	}

	var out *goerrors.Error
	switch {
	case f.Code == CodeInvalidInput:
		out = goerrors.New(f.Public(), goerrors.CategoryValidation).WithCode(goerrors.CodeBadRequest)
	default:
		out = richErrorForKind(f)
	}

	if f.Code != "" {
		out = out.WithTextCode(f.Code)
	}

	return out.WithMetadata(map[string]any{
		"kind": string(f.Kind),
	})
}

func richErrorForKind(f *Failure) *goerrors.Error {
	var out *goerrors.Error
	switch f.Kind {
	case KindRegistrationFailed:
		out = goerrors.New(f.Public(), goerrors.CategoryValidation).WithCode(goerrors.CodeBadRequest)
		if f.Code == CodeUniqueViolation {
			out = goerrors.New(f.Public(), goerrors.CategoryConflict).WithCode(goerrors.CodeConflict)
		}
	case KindInvalidCredentials, KindLoginFailed, KindInvalidCredential:
		out = goerrors.New(f.Public(), goerrors.CategoryAuth).WithCode(goerrors.CodeUnauthorized)
	case KindSessionNotFound:
		out = goerrors.New(f.Public(), goerrors.CategoryNotFound).WithCode(goerrors.CodeNotFound)
	default:
		out = goerrors.New(f.Public(), goerrors.CategoryInternal).WithCode(goerrors.CodeInternal)
	}
	return out
}
