// Package apperr holds the application-layer error taxonomy shared by the
// session, rides, and workspace services.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

// Kinds. Match them with errors.Is; *Error unwraps to its Kind.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrDomainRejected  = errors.New("email domain rejected")
	ErrRemoteRead      = errors.New("remote read failed")
	ErrRemoteWrite     = errors.New("remote write failed")
	ErrTimeout         = errors.New("timed out")
	ErrValidation      = errors.New("validation failed")
	ErrPrecondition    = errors.New("precondition failed")
)

// Error is an application-layer error that can be mapped to an HTTP response.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any

	// Kind is one of the package sentinels.
	Kind error
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func Unauthenticated(msg string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: "UNAUTHENTICATED", Message: msg, Kind: ErrUnauthenticated}
}

func DomainRejected(email string) *Error {
	return &Error{
		Status:  http.StatusForbidden,
		Code:    "EMAIL_DOMAIN_REJECTED",
		Message: "Please sign in with a college email address",
		Details: map[string]any{"email": email},
		Kind:    ErrDomainRejected,
	}
}

func Validation(msg string, details map[string]any) *Error {
	return &Error{Status: http.StatusUnprocessableEntity, Code: "VALIDATION_ERROR", Message: msg, Details: details, Kind: ErrValidation}
}

func Precondition(code, msg string) *Error {
	return &Error{Status: http.StatusConflict, Code: code, Message: msg, Kind: ErrPrecondition}
}

// RemoteRead classifies a failed store read. Deadline overruns become ErrTimeout.
func RemoteRead(msg string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Status: http.StatusGatewayTimeout, Code: "TIMEOUT", Message: msg, Kind: ErrTimeout, Err: err}
	}
	return &Error{Status: http.StatusBadGateway, Code: "REMOTE_READ_FAILED", Message: msg, Kind: ErrRemoteRead, Err: err}
}

func RemoteWrite(msg string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Status: http.StatusGatewayTimeout, Code: "TIMEOUT", Message: msg, Kind: ErrTimeout, Err: err}
	}
	return &Error{Status: http.StatusBadGateway, Code: "REMOTE_WRITE_FAILED", Message: msg, Kind: ErrRemoteWrite, Err: err}
}
