package common

import (
	"errors"
	"net/http"
)

// Error codes shared by every handler.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeValidation = "VALIDATION_FAILED"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeInternal   = "INTERNAL"
)

// SafeInternalMessage is the only message clients see for internal failures.
const SafeInternalMessage = "something went wrong"

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Validation reports a recoverable problem with user input or cart state.
func Validation(message string, err error, details any) *AppError {
	return &AppError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusUnprocessableEntity, Err: err, Details: details}
}

// NotFound reports a missing resource. It is never used for empty or zero values.
func NotFound(message string, err error) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound, Err: err}
}

// BadRequest reports a malformed request.
func BadRequest(message string, details any) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, HTTPStatus: http.StatusBadRequest, Details: details}
}

// Conflict reports a request that raced with another one.
func Conflict(message string, err error) *AppError {
	return &AppError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict, Err: err}
}

// Internal wraps an unexpected failure behind SafeInternalMessage.
func Internal(err error) *AppError {
	return &AppError{Code: CodeInternal, Message: SafeInternalMessage, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// IsCode reports whether err is an AppError carrying code.
func IsCode(err error, code string) bool {
	var target *AppError
	return errors.As(err, &target) && target.Code == code
}
