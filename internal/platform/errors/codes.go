// Package errors provides structured error handling for auth flows.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Flow errors
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeInvalidCode        Code = "INVALID_CODE"
	CodeCancelled          Code = "CANCELLED"
	CodeUnsupported        Code = "UNSUPPORTED"
	CodeNoPasskeys         Code = "NO_PASSKEYS"
	CodeFlowStateInvalid   Code = "FLOW_STATE_INVALID"

	// Input errors
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeEmailTaken      Code = "EMAIL_TAKEN"
	CodeTwoFactorExists Code = "TWO_FACTOR_EXISTS"
	CodeSessionExpired  Code = "SESSION_EXPIRED"
	CodeSessionMismatch Code = "SESSION_MISMATCH"

	// Storage errors
	CodeNotFound   Code = "NOT_FOUND"
	CodeStoreError Code = "STORE_ERROR"
)

// HTTPStatus maps the code to an HTTP status for JSON endpoints.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidCredentials, CodeInvalidCode:
		return http.StatusUnauthorized
	case CodeCancelled, CodeInvalidInput, CodeFlowStateInvalid, CodeSessionExpired, CodeSessionMismatch:
		return http.StatusBadRequest
	case CodeUnsupported:
		return http.StatusNotImplemented
	case CodeNoPasskeys, CodeNotFound:
		return http.StatusNotFound
	case CodeEmailTaken, CodeTwoFactorExists:
		return http.StatusConflict
	case CodeStoreError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
