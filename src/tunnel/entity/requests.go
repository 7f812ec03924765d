package entity

import (
	"github.com/gofrs/uuid"

	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/uritranslate"
)

// AcquireRequest asks the registry for a session, starting one if needed.
type AcquireRequest struct {
	ServerName string                `json:"serverName"`
	Host       string                `json:"host"`
	RootDir    string                `json:"rootDir"`
	BufferID   string                `json:"bufferId"`
	Protocol   uritranslate.Protocol `json:"protocol,omitempty"`
}

// Key returns the session key the request resolves to.
func (r AcquireRequest) Key() SessionKey {
	return SessionKey{ServerName: r.ServerName, Host: r.Host}
}

// AcquireResult reports the session an acquire attached to, including the
// local address the editor connects its LSP stream to.
type AcquireResult struct {
	Key     SessionKey   `json:"key"`
	UUID    uuid.UUID    `json:"uuid"`
	State   SessionState `json:"state"`
	Address string       `json:"address,omitempty"`
}

// ReleaseRequest detaches a buffer from a session.
type ReleaseRequest struct {
	ServerName string `json:"serverName"`
	Host       string `json:"host"`
	BufferID   string `json:"bufferId"`
}

// Key returns the session key the request resolves to.
func (r ReleaseRequest) Key() SessionKey {
	return SessionKey{ServerName: r.ServerName, Host: r.Host}
}

// StopRequest stops a session explicitly.
type StopRequest struct {
	ServerName string `json:"serverName"`
	Host       string `json:"host"`
	Reason     string `json:"reason,omitempty"`
}

// Key returns the session key the request resolves to.
func (r StopRequest) Key() SessionKey {
	return SessionKey{ServerName: r.ServerName, Host: r.Host}
}
