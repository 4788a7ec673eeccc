// Package admin implements system admin elevation and the append-only
// audit log: checking system-admin status, granting short-lived elevated
// sessions behind an MFA check, and gating elevated-only actions on a live
// session rather than on the system-admin grant alone.
package admin

import (
	"net/http"
	"time"
)

// SystemAdminUser is an authenticated user known to hold a system admin
// grant, attached to the gin context by RequireSystemAdmin.
type SystemAdminUser struct {
	UserID    string
	Username  string
	GrantedAt time.Time
}

// ElevatedAdmin is a system admin with a live elevated session, attached to
// the gin context by RequireElevated.
type ElevatedAdmin struct {
	UserID     string
	ElevatedAt time.Time
	ExpiresAt  time.Time
	Reason     string
}

// Code is a stable machine-readable error identifier, mirrored in the JSON
// error body as "error".
type Code string

const (
	CodeNotAdmin          Code = "not_admin"
	CodeElevationRequired Code = "elevation_required"
	CodeMfaRequired       Code = "mfa_required"
	CodeInvalidMfaCode    Code = "invalid_mfa_code"
	CodeNotFound          Code = "not_found"
	CodeValidation        Code = "validation"
	CodeDatabase          Code = "database"
	CodePermission        Code = "permission"
)

// Error is the admin package's error taxonomy; every error a handler can
// return maps to one HTTP status and one stable Code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// HTTPStatus maps the error to the status code the original service used
// for the same condition.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeNotAdmin, CodeElevationRequired, CodePermission:
		return http.StatusForbidden
	case CodeMfaRequired, CodeValidation:
		return http.StatusBadRequest
	case CodeInvalidMfaCode:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON shape written for every Error response.
func (e *Error) Body() map[string]string {
	return map[string]string{"error": string(e.Code), "message": e.Message}
}

var (
	ErrNotAdmin          = &Error{CodeNotAdmin, "System admin privileges required"}
	ErrElevationRequired = &Error{CodeElevationRequired, "This action requires an elevated session"}
	ErrMfaRequired       = &Error{CodeMfaRequired, "MFA must be enabled to elevate session"}
	ErrInvalidMfaCode    = &Error{CodeInvalidMfaCode, "Invalid MFA code"}
)

// NotFound builds a CodeNotFound error naming what was missing.
func NotFound(what string) *Error { return &Error{CodeNotFound, what + " not found"} }

// Validation builds a CodeValidation error with a caller-supplied message.
func Validation(msg string) *Error { return &Error{CodeValidation, "Validation failed: " + msg} }

// Database wraps an unexpected persistence failure; the message shown to
// the caller never includes the underlying error text.
func Database(err error) *Error { return &Error{CodeDatabase, "Database error"} }
