// Package registry implements the session registry business logic: one
// remote language server per (server, host) key, shared by every buffer
// that needs it.
package registry

import (
	"context"
	"fmt"
	"iter"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	notifier "github.com/lsptunnel/lsptunnel/src/tunnel/gateway/editor-client"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/clock"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/launcher"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/proxy"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/serverconfig"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/sshconfig"
	"github.com/lsptunnel/lsptunnel/src/tunnel/mapper"
	"github.com/lsptunnel/lsptunnel/src/tunnel/repository/session"
)

const (
	_configKeyRegistry = "registry"

	_dataPlaneListenHost = "127.0.0.1"

	_metricSessionsStarted = "sessions_started"
	_metricSessionsFailed  = "sessions_failed"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Controller orchestrates the lifecycle of remote language server sessions.
type Controller interface {
	// Acquire returns a session for the request's key, launching one when no
	// live session exists. Concurrent acquires of one key produce one launch.
	Acquire(ctx context.Context, req *entity.AcquireRequest) (*entity.AcquireResult, error)
	// Release detaches a buffer. Depending on configuration the last detach
	// either stops the session or keeps it warm.
	Release(ctx context.Context, req *entity.ReleaseRequest) error
	// Stop ends a session: graceful shutdown frames, a bounded grace period,
	// then a forcible kill.
	Stop(ctx context.Context, req *entity.StopRequest) error
	// List yields a point-in-time summary of the registry's sessions. The
	// returned sequence re-reads the registry each time it is ranged over.
	List(ctx context.Context) iter.Seq[entity.SessionSummary]
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Sessions      session.Repository
	Launcher      launcher.Launcher
	Catalog       serverconfig.Catalog
	HostResolver  sshconfig.Resolver
	EditorGateway notifier.Gateway
	Clock         clock.Clock
	Config        config.Provider
	Logger        *zap.SugaredLogger
	Stats         tally.Scope
}

type registryConfig struct {
	// KeepWarm keeps a session alive after its last buffer detaches. When
	// false the last Release stops the session eagerly.
	KeepWarm bool `yaml:"keepWarm"`
	// HandshakeTimeoutSeconds bounds the initialize round trip.
	HandshakeTimeoutSeconds int `yaml:"handshakeTimeoutSeconds"`
	// StopGraceSeconds bounds the wait for a graceful shutdown before the
	// remote process is killed.
	StopGraceSeconds int `yaml:"stopGraceSeconds"`
}

type controller struct {
	sessions      session.Repository
	launcher      launcher.Launcher
	catalog       serverconfig.Catalog
	hostResolver  sshconfig.Resolver
	editorGateway notifier.Gateway
	clock         clock.Clock
	logger        *zap.SugaredLogger
	stats         tally.Scope
	cfg           registryConfig

	// mu guards the maps below only. Session creation holds the per-key
	// lock, never mu, so slow launches on one key cannot stall another.
	mu       sync.Mutex
	keyLocks map[entity.SessionKey]*keyLock
	runtimes map[entity.SessionKey]*runtime
}

// keyLock is a reference-counted creation lock for one session key. The
// count lets the controller drop the map entry once the last holder leaves
// instead of keeping a lock per (server, host) pair forever.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// runtime is the live half of a session: the process, pumps, and data-plane
// listener that the repository's entity snapshot does not carry.
type runtime struct {
	uuid     uuid.UUID
	proxy    *proxy.Proxy
	remote   *launcher.Remote
	listener net.Listener

	// stopping marks a deliberate shutdown so the proxy's fatal callback can
	// tell a requested stop from a died session.
	stopping     atomic.Bool
	terminalOnce sync.Once

	// terminalState is the state finalize recorded. Written inside
	// terminalOnce, readable by anyone who has called finalize since.
	terminalState entity.SessionState
}

// New constructs the registry controller.
func New(p Params) (Controller, error) {
	var cfg registryConfig
	if err := p.Config.Get(_configKeyRegistry).Populate(&cfg); err != nil {
		return nil, fmt.Errorf("unable to get registry settings from config: %w", err)
	}
	if cfg.HandshakeTimeoutSeconds <= 0 {
		return nil, errors.New("registry handshake timeout must be positive")
	}
	if cfg.StopGraceSeconds <= 0 {
		return nil, errors.New("registry stop grace period must be positive")
	}

	return &controller{
		sessions:      p.Sessions,
		launcher:      p.Launcher,
		catalog:       p.Catalog,
		hostResolver:  p.HostResolver,
		editorGateway: p.EditorGateway,
		clock:         p.Clock,
		logger:        p.Logger,
		stats:         p.Stats,
		cfg:           cfg,
		keyLocks:      make(map[entity.SessionKey]*keyLock),
		runtimes:      make(map[entity.SessionKey]*runtime),
	}, nil
}

func (c *controller) Acquire(ctx context.Context, req *entity.AcquireRequest) (*entity.AcquireResult, error) {
	if err := validateAcquire(req); err != nil {
		return nil, err
	}

	key := req.Key()
	lock := c.lockKey(key)
	defer c.unlockKey(key, lock)

	if s, err := c.sessions.Get(ctx, key); err == nil {
		switch {
		case s.State.Terminal():
			c.evict(ctx, key)
		case s.State == entity.StateStopping:
			return nil, fmt.Errorf("session %s: %w", key.String(), errors.ErrSessionClosed)
		default:
			s.AttachBuffer(req.BufferID)
			if err := c.sessions.Set(ctx, s); err != nil {
				return nil, err
			}
			return c.acquireResult(s), nil
		}
	}

	return c.start(ctx, req)
}

func (c *controller) Release(ctx context.Context, req *entity.ReleaseRequest) error {
	if req.ServerName == "" || req.Host == "" || req.BufferID == "" {
		return errors.New("release requires serverName, host and bufferId")
	}

	key := req.Key()
	lock := c.lockKey(key)
	defer c.unlockKey(key, lock)

	s, err := c.sessions.Get(ctx, key)
	if err != nil {
		return err
	}
	if s.State.Terminal() {
		c.evict(ctx, key)
		return nil
	}

	remaining := s.DetachBuffer(req.BufferID)
	if err := c.sessions.Set(ctx, s); err != nil {
		return err
	}

	if remaining == 0 && !c.cfg.KeepWarm {
		return c.stopLocked(ctx, s, "last buffer released")
	}
	return nil
}

func (c *controller) Stop(ctx context.Context, req *entity.StopRequest) error {
	if req.ServerName == "" || req.Host == "" {
		return errors.New("stop requires serverName and host")
	}

	key := req.Key()
	lock := c.lockKey(key)
	defer c.unlockKey(key, lock)

	s, err := c.sessions.Get(ctx, key)
	if err != nil {
		return err
	}
	if s.State.Terminal() {
		c.evict(ctx, key)
		return nil
	}

	reason := req.Reason
	if reason == "" {
		reason = "stop requested"
	}
	return c.stopLocked(ctx, s, reason)
}

func (c *controller) List(ctx context.Context) iter.Seq[entity.SessionSummary] {
	return func(yield func(entity.SessionSummary) bool) {
		sessions, err := c.sessions.GetAll(ctx)
		if err != nil {
			return
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].Key.String() < sessions[j].Key.String()
		})
		for _, s := range sessions {
			if !yield(mapper.SessionToSummary(s)) {
				return
			}
		}
	}
}

// lockKey takes the creation lock for one session key, registering the
// caller so the entry survives until every holder has left through unlockKey.
func (c *controller) lockKey(key entity.SessionKey) *keyLock {
	c.mu.Lock()
	lock, ok := c.keyLocks[key]
	if !ok {
		lock = &keyLock{}
		c.keyLocks[key] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// unlockKey releases the creation lock and prunes the entry once unused.
func (c *controller) unlockKey(key entity.SessionKey, lock *keyLock) {
	lock.mu.Unlock()

	c.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(c.keyLocks, key)
	}
	c.mu.Unlock()
}

func (c *controller) runtimeFor(key entity.SessionKey) *runtime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runtimes[key]
}

func (c *controller) setRuntime(key entity.SessionKey, rt *runtime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtimes[key] = rt
}

// evict drops a terminal session so its key reads as absent again.
func (c *controller) evict(ctx context.Context, key entity.SessionKey) {
	c.sessions.Delete(ctx, key)
	c.mu.Lock()
	delete(c.runtimes, key)
	c.mu.Unlock()
}

func (c *controller) acquireResult(s *entity.Session) *entity.AcquireResult {
	result := &entity.AcquireResult{
		Key:   s.Key,
		UUID:  s.UUID,
		State: s.State,
	}
	if rt := c.runtimeFor(s.Key); rt != nil && rt.listener != nil {
		result.Address = rt.listener.Addr().String()
	}
	return result
}

func (c *controller) publishState(ctx context.Context, s *entity.Session, reason string) {
	c.editorGateway.SessionState(ctx, entity.SessionEvent{
		Key:    s.Key,
		UUID:   s.UUID,
		State:  s.State,
		Reason: reason,
	})
}

func (c *controller) handshakeTimeout() time.Duration {
	return time.Duration(c.cfg.HandshakeTimeoutSeconds) * time.Second
}

func (c *controller) stopGrace() time.Duration {
	return time.Duration(c.cfg.StopGraceSeconds) * time.Second
}

func validateAcquire(req *entity.AcquireRequest) error {
	if req == nil {
		return errors.New("acquire request is required")
	}
	if req.ServerName == "" || req.Host == "" || req.RootDir == "" || req.BufferID == "" {
		return errors.New("acquire requires serverName, host, rootDir and bufferId")
	}
	return nil
}
