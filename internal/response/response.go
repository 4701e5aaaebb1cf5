package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error codes callers branch on; message text per code is human-readable and
// never part of the contract.
const (
	CodeAuthMissingToken      = "AUTH_MISSING_TOKEN"
	CodeAuthInvalidToken      = "AUTH_INVALID_TOKEN"
	CodeAuthExpiredToken      = "AUTH_EXPIRED_TOKEN"
	CodeAuthInvalidServiceKey = "AUTH_INVALID_SERVICE_KEY"

	CodeResourceNotFound = "RESOURCE_NOT_FOUND"

	CodeValidationRequiredField = "VALIDATION_REQUIRED_FIELD"
	CodeValidationInvalidValue  = "VALIDATION_INVALID_VALUE"

	CodeRateLimited   = "RATE_LIMITED"
	CodeInternalError = "INTERNAL_ERROR"
)

var codeMessages = map[string]string{
	CodeAuthMissingToken:        "authentication token is missing",
	CodeAuthInvalidToken:        "authentication token is invalid",
	CodeAuthExpiredToken:        "authentication token has expired",
	CodeAuthInvalidServiceKey:   "service key is invalid",
	CodeResourceNotFound:        "requested resource was not found",
	CodeValidationRequiredField: "one or more required fields are missing",
	CodeValidationInvalidValue:  "one or more fields have invalid values",
	CodeRateLimited:             "rate limit exceeded, retry later",
	CodeInternalError:           "internal error",
}

// Message returns the catalog text for a code.
func Message(code string) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return codeMessages[CodeInternalError]
}

// Response is the uniform envelope for every synchronous endpoint.
type Response struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Data      any               `json:"data,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// OK renders a success envelope.
func OK(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Response{Success: true, Message: message, Data: data})
}

// Fail renders a failure envelope with the catalog message for the code.
func Fail(c echo.Context, status int, code string, errs map[string]string) error {
	if _, ok := codeMessages[code]; !ok {
		code = CodeInternalError
	}
	return c.JSON(status, Response{
		Success:   false,
		Message:   Message(code),
		ErrorCode: code,
		Errors:    errs,
	})
}

// Unauthorized is a shorthand for token failures.
func Unauthorized(c echo.Context, code string) error {
	return Fail(c, http.StatusUnauthorized, code, nil)
}

// Internal is a shorthand for unexpected failures; details stay in logs.
func Internal(c echo.Context) error {
	return Fail(c, http.StatusInternalServerError, CodeInternalError, nil)
}
