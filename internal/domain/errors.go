package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrCredentialNotFound means no stored connection exists for the ID.
	ErrCredentialNotFound = errors.New("API not found")

	// ErrMalformedCredential means a stored connection lacks a required field
	// or its sealed password cannot be opened.
	ErrMalformedCredential = errors.New("malformed API credentials")

	// ErrForbidden is returned for mutating methods while admin mode is off.
	ErrForbidden = errors.New("Forbidden. Enable admin mode.")

	// ErrUpstreamNotReady means the upstream daemons are not all running.
	ErrUpstreamNotReady = errors.New("Wazuh not ready yet.")

	// ErrUpstreamTransient marks a recognized transient upstream error code.
	ErrUpstreamTransient = errors.New("transient upstream error")

	// ErrRetriesExhausted is returned when every retry hit a transient code.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrMissingParameter indicates a required request parameter is absent
	// or invalid.
	ErrMissingParameter = errors.New("missing parameter")

	// ErrSerialization indicates an upstream payload could not be decoded or
	// a result could not be encoded.
	ErrSerialization = errors.New("serialization failure")
)

// NotReadyErrorCode is the sentinel code reported to the front end when the
// readiness gate fails, so it can retry shortly instead of failing hard.
const NotReadyErrorCode = 3099

// UpstreamError carries a non-zero upstream error code that is not retried.
type UpstreamError struct {
	Code    int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("upstream error %d", e.Code)
}

// RetriesExhaustedError names the request that kept failing transiently.
type RetriesExhaustedError struct {
	Method string
	Path   string
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("Tried to execute %s %s three times with no success, aborted.", e.Method, e.Path)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return ErrRetriesExhausted
}

// ConnectionError wraps an underlying error with connection context.
type ConnectionError struct {
	ConnectionID string
	Op           string
	Err          error
}

func (e *ConnectionError) Error() string {
	if e.ConnectionID != "" {
		return fmt.Sprintf("connection %s: %s: %v", e.ConnectionID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// MissingParameterError names the absent parameter(s) with the message the
// front end expects.
type MissingParameterError struct {
	Message string
}

func (e *MissingParameterError) Error() string {
	return e.Message
}

func (e *MissingParameterError) Unwrap() error {
	return ErrMissingParameter
}

// Missing returns a [MissingParameterError] with the given message.
func Missing(msg string) error {
	return &MissingParameterError{Message: msg}
}
