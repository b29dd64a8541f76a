package models

import (
	"errors"
	"net/http"
)

// Code is the machine-readable error class in an API error body.
type Code string

const (
	CodeNotFound     Code = "NOT_FOUND"
	CodeBadRequest   Code = "BAD_REQUEST"
	CodeInternal     Code = "INTERNAL"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeConflict     Code = "CONFLICT"
	CodeUnavailable  Code = "UNAVAILABLE"
)

// AppError is an error the API reports to its client. Status picks the HTTP
// status; the engine or store error behind it, if any, is kept as the cause
// and never serialized.
type AppError struct {
	Code    Code   `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`

	cause error
}

func (e *AppError) Error() string { return e.Message }

func (e *AppError) Unwrap() error { return e.cause }

func class(code Code, status int) func(string) *AppError {
	return func(msg string) *AppError {
		return &AppError{Code: code, Message: msg, Status: status}
	}
}

// Error constructors.
var (
	ErrNotFound     = class(CodeNotFound, http.StatusNotFound)
	ErrBadRequest   = class(CodeBadRequest, http.StatusBadRequest)
	ErrInternal     = class(CodeInternal, http.StatusInternalServerError)
	ErrUnauthorized = class(CodeUnauthorized, http.StatusUnauthorized)
	ErrConflict     = class(CodeConflict, http.StatusConflict)
	ErrUnavailable  = class(CodeUnavailable, http.StatusServiceUnavailable)
)

// Because returns a copy of e caused by err, with err's text as the message
// when e has none.
func (e *AppError) Because(err error) *AppError {
	cp := *e
	cp.cause = err
	if cp.Message == "" && err != nil {
		cp.Message = err.Error()
	}
	return &cp
}

// AsAppError returns the AppError in err's chain, or an internal error
// caused by err.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal("").Because(err)
}
