// Package tunnel implements the daemon's editor-facing control plane: the
// JSON-RPC connection manager and per-connection request router.
package tunnel

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lsptunnel/lsptunnel/src/tunnel/controller/registry"
	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	notifier "github.com/lsptunnel/lsptunnel/src/tunnel/gateway/editor-client"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/jsonrpcfx"
)

// Handler wires editor connections to the registry controller.
type Handler interface {
	ConnectionManager() jsonrpcfx.ConnectionManager
}

// Params are inbound parameters to initialize the handler.
type Params struct {
	fx.In

	Registry      registry.Controller
	EditorGateway notifier.Gateway
	JSONRPCModule jsonrpcfx.JSONRPCModule
	Shutdowner    fx.Shutdowner
	Logger        *zap.SugaredLogger
	Stats         tally.Scope
}

type handler struct {
	connectionManager jsonrpcfx.ConnectionManager
}

// New constructs the handler and registers it as the JSON-RPC connection manager.
func New(p Params) (Handler, error) {
	c := &jsonRPCConnectionManager{
		registry:      p.Registry,
		editorGateway: p.EditorGateway,
		shutdowner:    p.Shutdowner,
		logger:        p.Logger,
		stats:         p.Stats.SubScope("json_rpc"),
	}
	if err := p.JSONRPCModule.RegisterConnectionManager(c); err != nil {
		return nil, err
	}

	return &handler{connectionManager: c}, nil
}

func (h *handler) ConnectionManager() jsonrpcfx.ConnectionManager {
	return h.connectionManager
}

type jsonRPCConnectionManager struct {
	registry      registry.Controller
	editorGateway notifier.Gateway
	shutdowner    fx.Shutdowner
	logger        *zap.SugaredLogger
	stats         tally.Scope
}

// NewConnection registers a new editor connection and returns a router that includes its UUID.
func (c *jsonRPCConnectionManager) NewConnection(ctx context.Context, conn *jsonrpc2.Conn) (jsonrpcfx.Router, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("error while creating new connection: %w", err)
	}
	if err := c.editorGateway.RegisterClient(ctx, id, conn); err != nil {
		return nil, fmt.Errorf("error while creating new connection: %w", err)
	}

	return &jsonRPCRouter{
		registry:   c.registry,
		shutdowner: c.shutdowner,
		logger:     c.logger,
		uuid:       id,
		stats:      c.stats,
	}, nil
}

// RemoveConnection cleans up a closed connection.
func (c *jsonRPCConnectionManager) RemoveConnection(ctx context.Context, id uuid.UUID) {
	ctx = context.WithValue(ctx, entity.ConnContextKey, id)
	c.editorGateway.DeregisterClient(ctx, id)
}
