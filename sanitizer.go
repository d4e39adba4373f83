package rowauth

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// Messages used in place of codes that carry their own replacement text.
// Override codes never echo the datastore message.
var defaultMessageOverrides = map[string]string{
	CodeUniqueViolation:       "Conflict occurred -- this value is already in use",
	CodeForeignKeyViolation:   "Invalid reference -- the referenced record does not exist",
	CodeInsufficientPrivilege: "Permission denied",
}

// Sanitizer decides which datastore codes are disclosed verbatim.
// Unknown codes are unsafe.
type Sanitizer struct {
	operation FailureKind
	generic   string
	allowed   map[string]string
	logger    Logger
}

// NewSanitizer creates a sanitizer for kind. allowed maps a code to an
// optional replacement message; an empty message keeps the datastore text.
func NewSanitizer(kind FailureKind, generic string, allowed map[string]string, logger Logger) *Sanitizer {
	list := make(map[string]string, len(allowed))
	for code, msg := range allowed {
		list[code] = msg
	}
	return &Sanitizer{
		operation: kind,
		generic:   generic,
		allowed:   list,
		logger:    normalizeLogger(logger),
	}
}

// NewRegisterSanitizer allow-lists the codes registration may disclose
func NewRegisterSanitizer(logger Logger) *Sanitizer {
	allowed := map[string]string{
		CodeWeakPassword:    "",
		CodeAccountLocked:   "",
		CodeUnverifiedToken: "",
		CodeInvalidInput:    "",
	}
	for code, msg := range defaultMessageOverrides {
		allowed[code] = msg
	}
	return NewSanitizer(KindRegistrationFailed, "Registration failed", allowed, logger)
}

// NewLoginSanitizer allow-lists the codes login may disclose
func NewLoginSanitizer(logger Logger) *Sanitizer {
	return NewSanitizer(KindLoginFailed, "Login failed", map[string]string{
		CodeAccountLocked:  "",
		CodeBadCredentials: ErrInvalidCredentials.Message,
		CodeInvalidInput:   "",
	}, logger)
}

// Allowed reports whether code may be shown to a caller
func (s *Sanitizer) Allowed(code string) bool {
	_, ok := s.allowed[code]
	return ok
}

// Sanitize turns err into a failure that is safe to return to an external
// caller. Errors without a code are infrastructure failures and become
// KindTransaction.
func (s *Sanitizer) Sanitize(err error) *Failure {
	if err == nil {
		return nil
	}

	code, message := DatastoreCode(err)

	if code == "" {
		s.logger.Error("unexpected datastore failure",
			"operation", string(s.operation),
			"error", err,
		)
		return &Failure{
			Kind:    KindTransaction,
			Message: "An unexpected error occurred",
			Cause:   err,
		}
	}

	kind := s.operation
	if code == CodeBadCredentials {
		kind = KindInvalidCredentials
	}

	if override, ok := s.allowed[code]; ok {
		if override != "" {
			message = override
		}
		if message == "" {
			message = s.generic
		}
		return &Failure{
			Kind:           kind,
			Code:           code,
			SafeToDisclose: true,
			Message:        message,
			Cause:          err,
		}
	}

	s.logger.Error("unrecognised datastore error code",
		"operation", string(s.operation),
		"code", code,
		"error", err,
		"details", print.MaybePrettyJSON(failureDetails(err)),
	)

	return &Failure{
		Kind:    s.operation,
		Code:    code,
		Message: s.generic,
		Cause:   err,
	}
}

// Render sanitizes err and converts it to the transport error shape
func (s *Sanitizer) Render(err error) *goerrors.Error {
	return ToRichError(s.Sanitize(err))
}

func failureDetails(err error) map[string]any {
	details := map[string]any{"message": err.Error()}

	var richErr *goerrors.Error
	if errors.As(err, &richErr) && richErr != nil {
		details["category"] = richErr.Category
		details["metadata"] = richErr.Metadata
	}

	if pqCode, pqMessage := DatastoreCode(err); pqCode != "" {
		details["code"] = pqCode
		details["datastore_message"] = pqMessage
	}

	return details
}
