// Package session stores the active remote server sessions, keyed by
// (server name, host).
package session

import (
	"context"
	"sync"

	tally "github.com/uber-go/tally/v4"

	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
	"github.com/lsptunnel/lsptunnel/src/tunnel/mapper"
	"github.com/lsptunnel/lsptunnel/src/tunnel/model"
)

// Repository is an entity-scoped repository.
type Repository interface {
	Get(ctx context.Context, key entity.SessionKey) (*entity.Session, error)
	GetAll(ctx context.Context) ([]*entity.Session, error)
	Set(ctx context.Context, s *entity.Session) error
	Delete(ctx context.Context, key entity.SessionKey) error
	SessionCount(ctx context.Context) (int, error)
}

type repository struct {
	mu       sync.Mutex
	memstore map[entity.SessionKey]*model.Session
	stats    tally.Scope
}

// New returns a repository to a key-value Session data store.
func New(stats tally.Scope) Repository {
	return &repository{
		memstore: make(map[entity.SessionKey]*model.Session),
		stats:    stats,
	}
}

// Get returns the Session associated with the given key.
func (r *repository) Get(ctx context.Context, key entity.SessionKey) (*entity.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.memstore[key]
	if !ok {
		return nil, &errors.KeyNotFoundError{ServerName: key.ServerName, Host: key.Host}
	}
	return mapper.ModelToSession(s)
}

// GetAll returns every stored session.
func (r *repository) GetAll(ctx context.Context) ([]*entity.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := make([]*entity.Session, 0, len(r.memstore))
	for _, m := range r.memstore {
		s, err := mapper.ModelToSession(m)
		if err == nil {
			found = append(found, s)
		}
	}
	return found, nil
}

// Set stores the Session under its key.
func (r *repository) Set(ctx context.Context, s *entity.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s == nil {
		return errors.New("can't save nil session")
	}
	r.memstore[s.Key] = mapper.SessionToModel(s)
	r.stats.Gauge("active_sessions").Update(float64(len(r.memstore)))
	return nil
}

// Delete removes the Session associated with the given key.
func (r *repository) Delete(ctx context.Context, key entity.SessionKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.memstore, key)
	r.stats.Gauge("active_sessions").Update(float64(len(r.memstore)))
	return nil
}

// SessionCount returns the total count of stored sessions.
func (r *repository) SessionCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.memstore), nil
}
