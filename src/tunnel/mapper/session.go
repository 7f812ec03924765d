// Package mapper converts between layers: context values, wire requests,
// entities and repository models.
package mapper

import (
	"context"
	"maps"

	"github.com/gofrs/uuid"

	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
	"github.com/lsptunnel/lsptunnel/src/tunnel/model"
)

// SessionToModel maps a Session entity to its repository model.
func SessionToModel(s *entity.Session) *model.Session {
	return &model.Session{
		Key:      s.Key,
		UUID:     s.UUID,
		RootDir:  s.RootDir,
		Protocol: s.Protocol,
		State:    s.State,
		Buffers:  maps.Clone(s.Buffers),
	}
}

// ModelToSession maps a repository model back to a Session entity.
func ModelToSession(m *model.Session) (*entity.Session, error) {
	if m == nil {
		return nil, errors.New("can't map nil session model")
	}
	return &entity.Session{
		Key:      m.Key,
		UUID:     m.UUID,
		RootDir:  m.RootDir,
		Protocol: m.Protocol,
		State:    m.State,
		Buffers:  maps.Clone(m.Buffers),
	}, nil
}

// SessionToSummary maps a Session entity to its diagnostic summary.
func SessionToSummary(s *entity.Session) entity.SessionSummary {
	return entity.SessionSummary{
		Key:     s.Key,
		UUID:    s.UUID,
		RootDir: s.RootDir,
		State:   s.State,
		Buffers: len(s.Buffers),
	}
}

// ContextToConnUUID extracts the editor connection UUID from the context.
func ContextToConnUUID(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(entity.ConnContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("no connection UUID in context")
	}
	return id, nil
}
