package registry

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"

	"github.com/gofrs/uuid"
	"github.com/tidwall/gjson"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/launcher"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/proxy"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/rewrite"
)

const _handshakeRequestID = 1

// start launches a new session for the request's key. Caller holds the key lock.
func (c *controller) start(ctx context.Context, req *entity.AcquireRequest) (*entity.AcquireResult, error) {
	key := req.Key()

	def, err := c.catalog.Lookup(req.ServerName)
	if err != nil {
		return nil, err
	}
	host, err := c.hostResolver.Resolve(req.Host)
	if err != nil {
		return nil, err
	}

	accessProtocol := req.Protocol
	if accessProtocol == "" {
		accessProtocol = def.Protocol
	}

	s := &entity.Session{
		Key:      key,
		UUID:     uuid.Must(uuid.NewV4()),
		RootDir:  req.RootDir,
		Protocol: accessProtocol,
		State:    entity.StateStarting,
		Buffers:  map[string]struct{}{req.BufferID: {}},
	}
	if err := c.sessions.Set(ctx, s); err != nil {
		return nil, err
	}
	c.publishState(ctx, s, "launch requested")

	remote, err := c.launcher.Launch(ctx, launcher.Spec{
		Host:    host,
		RootDir: req.RootDir,
		Command: def.CommandLine(),
		Shell:   def.Shell,
	})
	if err != nil {
		c.stats.Counter(_metricSessionsFailed).Inc(1)
		c.failStarting(ctx, s, err)
		return nil, err
	}

	rt := &runtime{uuid: s.UUID, remote: remote}
	rt.proxy = proxy.New(proxy.Config{
		Key:       key,
		Rewriter:  rewrite.Rewriter{Host: req.Host, Protocol: accessProtocol},
		RemoteIn:  remote.Stdin,
		RemoteOut: remote.Stdout,
		RemoteErr: remote.Stderr,
		Logger:    c.logger,
		Scope:     c.stats,
		OnFatal: func(fatalErr error) {
			c.handleFatal(key, rt, fatalErr)
		},
	})
	c.setRuntime(key, rt)

	if err := c.handshake(ctx, s, rt); err != nil {
		c.stats.Counter(_metricSessionsFailed).Inc(1)
		err = c.classifyLaunchFailure(rt, err)
		rt.proxy.Close()
		c.failStarting(ctx, s, err)
		return nil, err
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(_dataPlaneListenHost, "0"))
	if err != nil {
		c.stats.Counter(_metricSessionsFailed).Inc(1)
		rt.remote.Kill()
		go c.reap(key, rt)
		rt.proxy.Close()
		wrapped := &errors.LaunchError{Host: req.Host, Command: def.CommandLine(), Err: err}
		c.failStarting(ctx, s, wrapped)
		return nil, wrapped
	}
	rt.listener = listener

	rt.proxy.Run()
	go c.acceptEditors(rt)
	go c.reap(key, rt)

	s.State = entity.StateRunning
	if err := c.sessions.Set(ctx, s); err != nil {
		return nil, err
	}
	c.publishState(ctx, s, "handshake complete")
	c.stats.Counter(_metricSessionsStarted).Inc(1)
	c.logger.Infow("session running",
		"session", key.String(),
		"uuid", s.UUID.String(),
		"address", listener.Addr().String(),
	)

	return c.acquireResult(s), nil
}

// classifyLaunchFailure ends the remote process after a failed handshake and
// reaps it, preferring its exit classification over the raw pipe error the
// handshake observed: a dead ssh transport reads as TransportError, a server
// command that could not run reads as ProcessExitedError. A process that only
// died because we killed it here carries no signal of its own, so the
// handshake error stands.
func (c *controller) classifyLaunchFailure(rt *runtime, handshakeErr error) error {
	rt.remote.Kill()

	waitCh := make(chan error, 1)
	go func() { waitCh <- rt.remote.Wait() }()

	select {
	case waitErr := <-waitCh:
		var transport *errors.TransportError
		var exited *errors.ProcessExitedError
		switch {
		case stderrors.As(waitErr, &transport):
			return waitErr
		case stderrors.As(waitErr, &exited) && exited.ExitCode >= 0:
			return waitErr
		}
	case <-c.clock.After(c.stopGrace()):
	}
	return handshakeErr
}

// handshake drives the server's initialize round trip before any editor
// frames flow, bounded by the configured timeout.
func (c *controller) handshake(ctx context.Context, s *entity.Session, rt *runtime) error {
	initialize, err := handshakePayload(s)
	if err != nil {
		return err
	}
	if err := rt.proxy.WriteRemote(initialize); err != nil {
		return err
	}

	type frameResult struct {
		payload []byte
		err     error
	}
	frameCh := make(chan frameResult, 1)
	go func() {
		payload, err := rt.proxy.NextRemote()
		frameCh <- frameResult{payload: payload, err: err}
	}()

	select {
	case res := <-frameCh:
		if res.err != nil {
			return &errors.TransportError{Host: s.Key.Host, Err: res.err}
		}
		if errField := gjson.GetBytes(res.payload, "error"); errField.Exists() {
			return &errors.LaunchError{
				Host:    s.Key.Host,
				Command: s.Key.ServerName,
				Err:     fmt.Errorf("initialize rejected: %s", errField.Raw),
			}
		}
	case <-c.clock.After(c.handshakeTimeout()):
		return &errors.HandshakeTimeoutError{Host: s.Key.Host, ServerName: s.Key.ServerName}
	}

	initialized, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  protocol.MethodInitialized,
		"params":  protocol.InitializedParams{},
	})
	if err != nil {
		return err
	}
	return rt.proxy.WriteRemote(initialized)
}

// handshakePayload builds the initialize request sent on the session's
// behalf. RootDir is a remote path, so the URI needs no translation.
func handshakePayload(s *entity.Session) ([]byte, error) {
	params := protocol.InitializeParams{
		RootURI: uri.File(s.RootDir),
		ClientInfo: &protocol.ClientInfo{
			Name: "lsptunnel",
		},
		Capabilities: protocol.ClientCapabilities{},
	}
	return json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      _handshakeRequestID,
		"method":  protocol.MethodInitialize,
		"params":  params,
	})
}

// stopLocked runs the shutdown sequence. Caller holds the key lock.
func (c *controller) stopLocked(ctx context.Context, s *entity.Session, reason string) error {
	rt := c.runtimeFor(s.Key)

	s.State = entity.StateStopping
	if err := c.sessions.Set(ctx, s); err != nil {
		return err
	}
	c.publishState(ctx, s, reason)

	if rt == nil {
		// Nothing live to unwind; record the terminal state directly.
		s.State = entity.StateStopped
		if err := c.sessions.Set(ctx, s); err != nil {
			return err
		}
		c.publishState(ctx, s, reason)
		return nil
	}

	rt.stopping.Store(true)

	shutdown, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      "tunnel-shutdown",
		"method":  protocol.MethodShutdown,
	})
	exit, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  protocol.MethodExit,
	})
	if err := rt.proxy.WriteRemote(shutdown); err == nil {
		rt.proxy.WriteRemote(exit)
	}

	select {
	case <-rt.proxy.Done():
	case <-c.clock.After(c.stopGrace()):
		c.logger.Infow("grace period elapsed, killing remote process", "session", s.Key.String())
		rt.remote.Kill()
	}

	rt.proxy.Close()
	c.finalize(context.WithoutCancel(ctx), s.Key, rt, entity.StateStopped, reason)

	// The proxy's fatal callback runs without the key lock, so it can
	// finalize between the terminal check at the top of Stop/Release and the
	// stopping write above, leaving stopping as the last recorded state.
	// Restore the terminal state so the key can be evicted and reused.
	latest, err := c.sessions.Get(context.WithoutCancel(ctx), s.Key)
	if err == nil && latest.UUID == rt.uuid && !latest.State.Terminal() {
		latest.State = rt.terminalState
		if err := c.sessions.Set(context.WithoutCancel(ctx), latest); err != nil {
			return err
		}
	}
	return nil
}

// handleFatal is the proxy's exactly-once fatal callback.
func (c *controller) handleFatal(key entity.SessionKey, rt *runtime, err error) {
	state := entity.StateError
	reason := err.Error()
	if rt.stopping.Load() {
		state = entity.StateStopped
		reason = "stopped"
	}
	c.finalize(context.Background(), key, rt, state, reason)
}

// finalize records a terminal state and publishes the terminal event. Safe
// to call from both the stop path and the fatal callback: only the first
// call takes effect.
func (c *controller) finalize(ctx context.Context, key entity.SessionKey, rt *runtime, state entity.SessionState, reason string) {
	rt.terminalOnce.Do(func() {
		rt.terminalState = state
		if rt.listener != nil {
			rt.listener.Close()
		}

		s, err := c.sessions.Get(ctx, key)
		if err != nil || s.UUID != rt.uuid {
			return
		}
		s.State = state
		if err := c.sessions.Set(ctx, s); err != nil {
			c.logger.Warnw("recording terminal session state", "session", key.String(), "error", err)
			return
		}
		c.publishState(ctx, s, reason)
		c.logger.Infow("session ended", "session", key.String(), "state", state.String(), "reason", reason)
	})
}

// failStarting records a failed launch or handshake as a terminal error.
func (c *controller) failStarting(ctx context.Context, s *entity.Session, err error) {
	s.State = entity.StateError
	if setErr := c.sessions.Set(ctx, s); setErr != nil {
		c.logger.Warnw("recording failed launch", "session", s.Key.String(), "error", setErr)
		return
	}
	c.publishState(ctx, s, err.Error())
}

// acceptEditors hands incoming data-plane connections to the proxy. The
// loop ends when finalize closes the listener.
func (c *controller) acceptEditors(rt *runtime) {
	for {
		conn, err := rt.listener.Accept()
		if err != nil {
			return
		}
		rt.proxy.Attach(conn)
	}
}

// reap waits for the ssh process so it does not linger as a zombie, and
// logs the exit classification for diagnosis.
func (c *controller) reap(key entity.SessionKey, rt *runtime) {
	err := rt.remote.Wait()
	var exited *errors.ProcessExitedError
	if stderrors.As(err, &exited) && exited.ExitCode == 0 {
		c.logger.Infow("remote process exited", "session", key.String())
		return
	}
	c.logger.Infow("remote process ended", "session", key.String(), "result", err)
}
