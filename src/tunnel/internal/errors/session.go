package errors

import (
	stderr "errors"
	"fmt"
)

// TransportError reports that the secure transport to the host could not be established.
type TransportError struct {
	Host string
	Err  error
}

// Error is an implementation of the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("host %q unreachable: %v", e.Host, e.Err)
}

// Unwrap returns the underlying transport failure.
func (e *TransportError) Unwrap() error { return e.Err }

// LaunchError reports that the transport was established but the remote
// command failed to start, e.g. the server binary is missing.
type LaunchError struct {
	Host    string
	Command string
	Err     error
}

// Error is an implementation of the error interface.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("starting %q on host %q: %v", e.Command, e.Host, e.Err)
}

// Unwrap returns the underlying launch failure.
func (e *LaunchError) Unwrap() error { return e.Err }

// HandshakeTimeoutError reports that the remote process started but never
// completed the initialize handshake within the configured bound.
type HandshakeTimeoutError struct {
	Host       string
	ServerName string
}

// Error is an implementation of the error interface.
func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("server %q on host %q did not complete the initialize handshake in time", e.ServerName, e.Host)
}

// ProcessExitedError reports that the remote server terminated unexpectedly.
type ProcessExitedError struct {
	Host     string
	ExitCode int
}

// Error is an implementation of the error interface.
func (e *ProcessExitedError) Error() string {
	return fmt.Sprintf("remote server on host %q exited unexpectedly with code %d", e.Host, e.ExitCode)
}

// KeyNotFoundError is a registry domain error for a missing session key.
type KeyNotFoundError struct {
	ServerName string
	Host       string
}

// Error is an implementation of the error interface.
func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("no session for server %q on host %q", e.ServerName, e.Host)
}

// NotFoundKey returns the missing (server, host) pair and true if a
// KeyNotFoundError is part of the error chain.
func NotFoundKey(e error) (server string, host string, ok bool) {
	var nf *KeyNotFoundError
	if !stderr.As(e, &nf) {
		return "", "", false
	}
	return nf.ServerName, nf.Host, true
}
