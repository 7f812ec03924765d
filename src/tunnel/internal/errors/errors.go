// Package errors defines the domain errors for the tunnel daemon.
package errors

import stderr "errors"

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}

var (
	// ErrSessionClosed reports that an operation was attempted on a session that has already been stopped.
	ErrSessionClosed = New("session is closed")
	// ErrUnknownServer reports that the requested server name has no entry in the server catalog.
	ErrUnknownServer = New("server name is not in the catalog")
)

// IsRecoverable reports whether the error affects a single frame only,
// leaving the session healthy.
func IsRecoverable(e error) bool {
	var pe *ProtocolError
	var te *TranslationError
	return stderr.As(e, &pe) || stderr.As(e, &te)
}

// IsSessionFatal reports whether the error terminates the session that produced it.
func IsSessionFatal(e error) bool {
	var tr *TransportError
	var la *LaunchError
	var hs *HandshakeTimeoutError
	var px *ProcessExitedError
	return stderr.As(e, &tr) || stderr.As(e, &la) || stderr.As(e, &hs) || stderr.As(e, &px)
}
