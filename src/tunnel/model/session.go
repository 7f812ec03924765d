// Package model holds the repository layer representations of domain entities.
package model

import (
	"github.com/gofrs/uuid"

	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/uritranslate"
)

// Session is the repository layer model for a single remote server session.
type Session struct {
	Key      entity.SessionKey
	UUID     uuid.UUID
	RootDir  string
	Protocol uritranslate.Protocol
	State    entity.SessionState
	Buffers  map[string]struct{}
}
