package api

import (
	"fmt"
	"net/http"
)

// Error codes let the browser tell failures apart without parsing messages.
const (
	codeBadRequest          = "bad_request"
	codeUnauthorized        = "unauthorized"
	codeSessionExpired      = "session_expired"
	codeNotFound            = "not_found"
	codeInternal            = "internal"
	codePresenceUnavailable = "presence_unavailable"
)

// ApiError is the body of every failed request. Err is logged, never sent.
type ApiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s: %s: %v", e.Status, e.Code, e.Message, e.Err)
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func NewBadRequestError(message string) *ApiError {
	return &ApiError{Status: http.StatusBadRequest, Code: codeBadRequest, Message: message}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{Status: http.StatusUnauthorized, Code: codeUnauthorized, Message: "no valid session"}
}

// NewSessionExpiredError tells the browser to refresh its session token.
func NewSessionExpiredError() *ApiError {
	return &ApiError{Status: http.StatusUnauthorized, Code: codeSessionExpired, Message: "session expired"}
}

func NewNotFoundError(what string) *ApiError {
	return &ApiError{Status: http.StatusNotFound, Code: codeNotFound, Message: what + " not found"}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{Status: http.StatusInternalServerError, Code: codeInternal, Message: "internal error", Err: err}
}

func NewPresenceUnavailableError(err error) *ApiError {
	return &ApiError{
		Status:  http.StatusServiceUnavailable,
		Code:    codePresenceUnavailable,
		Message: "presence store unavailable",
		Err:     err,
	}
}
