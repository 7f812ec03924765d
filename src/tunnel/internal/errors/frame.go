package errors

import "fmt"

// ProtocolError reports a malformed frame on the wire. It is scoped to the
// offending frame; the stream remains usable.
type ProtocolError struct {
	Reason string
}

// Error is an implementation of the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

// TranslationError reports a URI that could not be mapped between the local
// and remote shapes. It is scoped to the frame carrying the URI.
type TranslationError struct {
	URI string
}

// Error is an implementation of the error interface.
func (e *TranslationError) Error() string {
	return fmt.Sprintf("URI %q has no recognizable scheme", e.URI)
}
