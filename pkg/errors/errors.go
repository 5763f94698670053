package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers and matched by code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is reports whether target is an AppError carrying the same code. Copies produced by
// WithMessage / WithInternal therefore still match their sentinel.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *AppError
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Code == e.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a more specific message.
func (e *AppError) WithMessage(format string, args ...any) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = fmt.Sprintf(format, args...)
	return &cpy
}

// Error codes shared by the scheduling engine and the admin API.
const (
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidState           = "INVALID_STATE"
	CodeInvalidTime            = "INVALID_TIME"
	CodeInvalidData            = "INVALID_DATA"
	CodeMissingConfiguration   = "MISSING_CONFIGURATION"
	CodeInvalidConfiguration   = "INVALID_CONFIGURATION"
	CodeSchedulingFailed       = "SCHEDULING_FAILED"
	CodeDigestGenerationFailed = "DIGEST_GENERATION_FAILED"
	CodeDuplicate              = "DUPLICATE"
)

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       CodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrInvalidState = &AppError{
		Code:       CodeInvalidState,
		Message:    "Operation not valid for the current status",
		StatusCode: http.StatusConflict,
	}

	ErrInvalidTime = &AppError{
		Code:       CodeInvalidTime,
		Message:    "Time is out of range",
		StatusCode: http.StatusBadRequest,
	}

	ErrInvalidData = &AppError{
		Code:       CodeInvalidData,
		Message:    "Invalid data",
		StatusCode: http.StatusBadRequest,
	}

	ErrMissingConfiguration = &AppError{
		Code:       CodeMissingConfiguration,
		Message:    "Recurrence configuration is missing",
		StatusCode: http.StatusUnprocessableEntity,
	}

	ErrInvalidConfiguration = &AppError{
		Code:       CodeInvalidConfiguration,
		Message:    "Recurrence configuration is invalid",
		StatusCode: http.StatusUnprocessableEntity,
	}

	ErrSchedulingFailed = &AppError{
		Code:       CodeSchedulingFailed,
		Message:    "Scheduling failed",
		StatusCode: http.StatusInternalServerError,
	}

	ErrDigestGenerationFailed = &AppError{
		Code:       CodeDigestGenerationFailed,
		Message:    "Digest generation failed",
		StatusCode: http.StatusInternalServerError,
	}

	ErrDuplicate = &AppError{
		Code:       CodeDuplicate,
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
