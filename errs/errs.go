// Package errs defines the error taxonomy shared by the finance services.
// Controllers map kinds to HTTP statuses; only Concurrency errors are safe
// to retry without changing the request.
package errs

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindStateConflict
	KindConcurrency
	KindNotFound
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...interface{}) *Error {
	return New(KindValidation, code, format, args...)
}

func Conflict(code, format string, args ...interface{}) *Error {
	return New(KindStateConflict, code, format, args...)
}

func Concurrency(code, format string, args ...interface{}) *Error {
	return New(KindConcurrency, code, format, args...)
}

func NotFound(code, format string, args ...interface{}) *Error {
	return New(KindNotFound, code, format, args...)
}

// KindOf returns the kind of err, or KindUnknown for non-domain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the machine-readable code of err, or "" for non-domain errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the caller may resubmit the same request.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConcurrency
}

// HTTPStatus maps a domain error to the status code controllers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return fiber.StatusBadRequest
	case KindStateConflict, KindConcurrency:
		return fiber.StatusConflict
	case KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}
