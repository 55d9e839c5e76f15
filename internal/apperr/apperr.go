package apperr

import (
	"context"
	"errors"
	"fmt"

	"github.com/valyala/fasthttp"
)

type Kind string

const (
	KindUnauthorized        Kind = "Unauthorized"
	KindForbidden           Kind = "Forbidden"
	KindFileTooLarge        Kind = "FileTooLarge"
	KindQuotaExceeded       Kind = "QuotaExceeded"
	KindNotFound            Kind = "NotFound"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindBadRequest          Kind = "BadRequest"
	KindInternal            Kind = "Internal"
)

// Error is the caller-visible failure type. Status overrides the default
// HTTP status for the kind, which is how relayed upstream codes travel.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func BadRequest(message string) *Error {
	return New(KindBadRequest, message)
}

func Upstream(err error, status int, message string) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: message, Status: status, Err: err}
}

// FromUpstream classifies a failed call to storage or identity: timeouts
// become 504, everything else 502.
func FromUpstream(err error, message string) *Error {
	status := fasthttp.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, fasthttp.ErrTimeout) {
		status = fasthttp.StatusGatewayTimeout
	}
	return Upstream(err, status, message)
}

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Status > 0 {
		return appErr.Status
	}
	return statusForKind(KindOf(err))
}

func statusForKind(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return fasthttp.StatusUnauthorized
	case KindForbidden:
		return fasthttp.StatusForbidden
	case KindFileTooLarge:
		return fasthttp.StatusRequestEntityTooLarge
	case KindQuotaExceeded:
		return fasthttp.StatusConflict
	case KindNotFound:
		return fasthttp.StatusNotFound
	case KindUpstreamUnavailable:
		return fasthttp.StatusBadGateway
	case KindBadRequest:
		return fasthttp.StatusBadRequest
	default:
		return fasthttp.StatusInternalServerError
	}
}

// PublicMessage is the message safe to show to callers. Internal errors
// never leak their cause.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return "internal server error"
}
