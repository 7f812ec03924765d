// Package entity contains the domain types for the tunnel daemon.
package entity

import (
	"fmt"

	"github.com/gofrs/uuid"

	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/uritranslate"
)

type keyType string

// ConnContextKey indicates the key used to identify the editor connection UUID in the context.
const ConnContextKey keyType = "ConnUUID"

// SessionState tracks a session through its lifecycle. The zero value means
// the session does not exist yet.
type SessionState int

const (
	// StateStarting means the remote process launch has been issued and the
	// initialize handshake is pending.
	StateStarting SessionState = iota + 1
	// StateRunning means the handshake completed and frames are flowing.
	StateRunning
	// StateStopping means the shutdown sequence has been issued.
	StateStopping
	// StateStopped is terminal; the session ended cleanly.
	StateStopped
	// StateError is terminal; the session died or failed to start.
	StateError
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// MarshalJSON renders the state by name so editor-facing payloads stay readable.
func (s SessionState) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// Terminal reports whether the state is final. Terminal sessions are evicted
// from the registry on the next lookup of their key.
func (s SessionState) Terminal() bool {
	return s == StateStopped || s == StateError
}

// SessionKey identifies a reusable session: one language server kind on one host.
type SessionKey struct {
	ServerName string `json:"serverName" zap:"serverName"`
	Host       string `json:"host" zap:"host"`
}

// String implements fmt.Stringer.
func (k SessionKey) String() string {
	return fmt.Sprintf("%s@%s", k.ServerName, k.Host)
}

// Session entity representing a single remote language server process and its
// relay state. The session exclusively owns the remote process and its byte
// streams; nothing else writes to them directly.
type Session struct {
	Key      SessionKey            `json:"key" zap:"key"`
	UUID     uuid.UUID             `json:"uuid" zap:"uuid"`
	RootDir  string                `json:"rootDir" zap:"rootDir"`
	Protocol uritranslate.Protocol `json:"protocol" zap:"protocol"`
	State    SessionState          `json:"state" zap:"state"`
	Buffers  map[string]struct{}   `json:"-" zap:"-"`
}

// AttachBuffer records a buffer as attached. Attaching an already attached
// buffer is a no-op.
func (s *Session) AttachBuffer(id string) {
	if s.Buffers == nil {
		s.Buffers = make(map[string]struct{})
	}
	s.Buffers[id] = struct{}{}
}

// DetachBuffer removes a buffer and reports whether any remain attached.
func (s *Session) DetachBuffer(id string) (remaining int) {
	delete(s.Buffers, id)
	return len(s.Buffers)
}

// SessionSummary is the diagnostic view of a session exposed by List.
type SessionSummary struct {
	Key     SessionKey   `json:"key"`
	UUID    uuid.UUID    `json:"uuid"`
	RootDir string       `json:"rootDir"`
	State   SessionState `json:"state"`
	Buffers int          `json:"buffers"`
}

// SessionEvent is emitted on every session state transition.
type SessionEvent struct {
	Key    SessionKey   `json:"key"`
	UUID   uuid.UUID    `json:"uuid"`
	State  SessionState `json:"state"`
	Reason string       `json:"reason,omitempty"`
}
