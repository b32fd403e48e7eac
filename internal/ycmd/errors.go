package ycmd

import (
	"errors"
	"fmt"
	"time"
)

// Standard errors returned by the ycmd client.
var (
	// ErrNotRunning indicates no server session is running.
	ErrNotRunning = errors.New("ycmd server not running")

	// ErrAlreadyOpen indicates a session is already open.
	ErrAlreadyOpen = errors.New("ycmd session already open")

	// ErrSessionClosed indicates the session has been closed.
	ErrSessionClosed = errors.New("ycmd session closed")

	// ErrParseInFlight indicates a request was refused because a parse
	// notification is still in flight for the buffer. This is a busy
	// condition, not a failure.
	ErrParseInFlight = errors.New("parse in progress for buffer")

	// ErrNoResult indicates the server returned an empty or non-JSON body
	// where a result was expected.
	ErrNoResult = errors.New("no result from server")

	// ErrBufferNotOpen indicates the buffer is not tracked by the client.
	ErrBufferNotOpen = errors.New("buffer not open")

	// ErrInvalidSecret indicates the HMAC secret has the wrong length.
	ErrInvalidSecret = errors.New("invalid hmac secret length")
)

// StartupTimeoutError indicates the server did not announce readiness
// within the configured startup timeout. The attempted Open fails and the
// session is left errored.
type StartupTimeoutError struct {
	Timeout time.Duration
	Output  string
}

// Error implements the error interface.
func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("ycmd server did not announce readiness within %v", e.Timeout)
}

// TransportError indicates an HTTP-level failure talking to the server.
type TransportError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError is a structured exception payload returned by the server.
type ServerError struct {
	Type          string
	Message       string
	ExtraConfFile string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server exception %s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("server exception %s", e.Type)
}
