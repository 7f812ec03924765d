// Package notifier sends outbound notifications to connected editors.
package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	"github.com/lsptunnel/lsptunnel/src/tunnel/mapper"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

const (
	_errSendToEditor = "sending notification to editor: %w"

	// MethodSessionState is the notification pushed on every session state
	// transition.
	MethodSessionState = "tunnel/sessionState"
)

// Gateway is used to send outbound notifications to editors. Session state
// transitions are broadcast to every connected editor; log messages are
// routed to the connection named by the context's UUID.
type Gateway interface {
	// RegisterClient registers a new editor connection with the gateway.
	RegisterClient(ctx context.Context, id uuid.UUID, conn *jsonrpc2.Conn) error
	// DeregisterClient removes an editor connection from the gateway.
	DeregisterClient(ctx context.Context, id uuid.UUID) error

	// SessionState broadcasts a session state transition to all editors.
	SessionState(ctx context.Context, event entity.SessionEvent) error
	// LogMessage sends a LogMessage notification to the requesting editor.
	LogMessage(ctx context.Context, params *protocol.LogMessageParams) error
}

type gateway struct {
	connections map[uuid.UUID]jsonrpc2.Conn
	connMu      sync.Mutex
	logger      *zap.SugaredLogger
}

// New returns a Gateway for sending editor notifications.
func New(logger *zap.SugaredLogger) Gateway {
	return &gateway{
		connections: make(map[uuid.UUID]jsonrpc2.Conn),
		logger:      logger,
	}
}

func (g *gateway) RegisterClient(ctx context.Context, id uuid.UUID, conn *jsonrpc2.Conn) error {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	g.connections[id] = *conn
	return nil
}

func (g *gateway) DeregisterClient(ctx context.Context, id uuid.UUID) error {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	delete(g.connections, id)
	return nil
}

func (g *gateway) SessionState(ctx context.Context, event entity.SessionEvent) error {
	g.connMu.Lock()
	conns := make([]jsonrpc2.Conn, 0, len(g.connections))
	for _, conn := range g.connections {
		conns = append(conns, conn)
	}
	g.connMu.Unlock()

	var errs error
	for _, conn := range conns {
		if err := conn.Notify(ctx, MethodSessionState, event); err != nil {
			errs = multierr.Append(errs, fmt.Errorf(_errSendToEditor, err))
		}
	}
	if errs != nil {
		g.logger.Warnw("session state broadcast incomplete", "session", event.Key.String(), "error", errs)
	}
	return errs
}

func (g *gateway) LogMessage(ctx context.Context, params *protocol.LogMessageParams) error {
	conn, err := g.getConn(ctx)
	if err != nil {
		return fmt.Errorf(_errSendToEditor, err)
	}
	return conn.Notify(ctx, protocol.MethodWindowLogMessage, params)
}

func (g *gateway) getConn(ctx context.Context) (jsonrpc2.Conn, error) {
	g.connMu.Lock()
	defer g.connMu.Unlock()

	id, err := mapper.ContextToConnUUID(ctx)
	if err != nil {
		return nil, err
	}
	conn, ok := g.connections[id]
	if !ok {
		return nil, fmt.Errorf("editor connection %q not found", id)
	}
	return conn, nil
}
