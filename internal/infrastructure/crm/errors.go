package crm

import (
	"fmt"
	"strings"

	"github.com/crmsync/backend/internal/domain/customer"
)

// APIError is a failure reported by the CRM, either as an error envelope
// ({"error": ..., "error_description": ...}) or as an HTTP status >= 400.
type APIError struct {
	Method      string
	HTTPStatus  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	code := e.Code
	if code == "" {
		code = "ERROR"
	}
	if e.HTTPStatus >= 400 {
		return fmt.Sprintf("crm: %s HTTP %d: %s - %s", e.Method, e.HTTPStatus, code, e.Description)
	}
	return fmt.Sprintf("crm: %s: %s - %s", e.Method, code, e.Description)
}

// Unwrap classifies the error for errors.Is.
func (e *APIError) Unwrap() error {
	if e.invalidEmail() {
		return customer.ErrInvalidEmail
	}
	if e.HTTPStatus >= 500 {
		return customer.ErrTransientNetwork
	}
	return customer.ErrCRMRequestFailed
}

func (e *APIError) invalidEmail() bool {
	msg := strings.ToLower(e.Code + " " + e.Description)
	mentionsEmail := strings.Contains(msg, "email") || strings.Contains(msg, "e-mail")
	mentionsInvalid := strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "incorrect") ||
		strings.Contains(msg, "некоррект")
	return mentionsEmail && mentionsInvalid
}
