package elmax

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors returned by the Elmax client.
// All errors are defined here for easy discovery and consistent organization.
var (
	// Authentication errors
	ErrBadLogin   = errors.New("elmax: bad login (invalid credentials)")
	ErrBadPIN     = errors.New("elmax: bad PIN (refused by the panel)")
	ErrNetwork    = errors.New("elmax: network error")
	ErrPanelBusy  = errors.New("elmax: panel busy")
	ErrNoToken    = errors.New("elmax: no token available")
	ErrEmptyToken = errors.New("elmax: token cannot be empty")

	// Response errors
	ErrMalformedResponse = errors.New("elmax: malformed API response")

	// Client usage errors
	ErrUnsupportedMethod = errors.New("elmax: unsupported HTTP method (expecting GET or POST)")
	ErrNotSupported      = errors.New("elmax: operation not supported by this panel access mode")
	ErrNoCurrentPanel    = errors.New("elmax: no current panel selected")

	// ErrTLSConfigNotApplied is returned when WithTLSConfig is combined with
	// an HTTP client whose transport cannot take a TLS config.
	ErrTLSConfigNotApplied = errors.New("elmax: TLS config cannot be applied to the HTTP transport")

	// Credential validation errors
	ErrEmptyUsername = errors.New("elmax: username cannot be empty")
	ErrEmptyPassword = errors.New("elmax: password cannot be empty")
	ErrEmptyPanelURL = errors.New("elmax: panel API URL cannot be empty")
	ErrEmptyPIN      = errors.New("elmax: panel PIN cannot be empty")

	// Panel/endpoint validation errors
	ErrEmptyPanelID    = errors.New("elmax: panel ID cannot be empty")
	ErrEmptyEndpointID = errors.New("elmax: endpoint ID cannot be empty")
	ErrInvalidCommand  = errors.New("elmax: invalid command")

	// Push errors
	ErrEmptyPushEndpoint = errors.New("elmax: push endpoint cannot be empty")
	ErrPushRunning       = errors.New("elmax: push notification handler already running")
)

// APIError represents a non-200 response from the Elmax API.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("elmax: API error %d: %s (request_id: %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("elmax: API error %d: %s", e.StatusCode, e.Message)
}

// NetworkError is returned when a request could not be completed at the
// transport level (connection refused, DNS failure, timeout).
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("elmax: network error on %s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is() to match ErrNetwork.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// Timeout reports whether the underlying transport error was a timeout.
func (e *NetworkError) Timeout() bool {
	var netErr interface{ Timeout() bool }
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// PanelBusyError is returned when a command kept failing with a busy (422)
// response after every retry attempt. It does not unwrap to the last
// APIError: IsBusy is false for it and IsPanelBusy is true.
type PanelBusyError struct {
	EndpointID string
	Command    Command
	Attempts   int
}

// Error implements the error interface.
func (e *PanelBusyError) Error() string {
	return fmt.Sprintf("elmax: panel busy, command %q on %s failed after %d attempts", e.Command, e.EndpointID, e.Attempts)
}

// Is allows errors.Is() to match ErrPanelBusy.
func (e *PanelBusyError) Is(target error) bool {
	return target == ErrPanelBusy
}

// statusCode returns the HTTP status code of an *APIError, or 0.
func statusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsBadLogin returns true if the error indicates rejected credentials.
func IsBadLogin(err error) bool {
	return errors.Is(err, ErrBadLogin)
}

// IsBadPIN returns true if the error indicates the panel refused the PIN.
func IsBadPIN(err error) bool {
	return errors.Is(err, ErrBadPIN)
}

// IsPanelBusy returns true if a command exhausted its busy retries.
func IsPanelBusy(err error) bool {
	return errors.Is(err, ErrPanelBusy)
}

// IsBusy returns true if the error is a single busy (422) API response.
func IsBusy(err error) bool {
	return statusCode(err) == http.StatusUnprocessableEntity
}

// IsNetworkError returns true if the error happened at the transport level.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsUnauthorized returns true if the error indicates an authentication failure.
func IsUnauthorized(err error) bool {
	if errors.Is(err, ErrBadLogin) {
		return true
	}
	return statusCode(err) == http.StatusUnauthorized
}

// IsForbidden returns true if the API refused access (403).
func IsForbidden(err error) bool {
	return statusCode(err) == http.StatusForbidden
}

// IsNotFound returns true if the error indicates the resource was not found.
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

// IsTimeout returns true if the error indicates a timeout.
func IsTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
