package tunnel

import (
	"context"

	"github.com/gofrs/uuid"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lsptunnel/lsptunnel/src/tunnel/controller/registry"
	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
)

// Control plane methods served to editors.
const (
	// MethodAcquire attaches a buffer to a session, starting one if needed.
	MethodAcquire = "tunnel/acquire"
	// MethodRelease detaches a buffer from a session.
	MethodRelease = "tunnel/release"
	// MethodStop stops a session explicitly.
	MethodStop = "tunnel/stop"
	// MethodList returns a summary of every session in the registry.
	MethodList = "tunnel/list"
)

type jsonRPCRouter struct {
	registry   registry.Controller
	shutdowner fx.Shutdowner
	logger     *zap.SugaredLogger
	uuid       uuid.UUID
	stats      tally.Scope
}

// HandleReq handles routing for a single request.
func (r *jsonRPCRouter) HandleReq(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	ctx = context.WithValue(ctx, entity.ConnContextKey, r.uuid)
	r.stats.Tagged(map[string]string{"method": req.Method()}).Counter("requests").Inc(1)

	switch req.Method() {
	case MethodAcquire:
		return r.Acquire(ctx, reply, req)

	case MethodRelease:
		return r.Release(ctx, reply, req)

	case MethodStop:
		return r.Stop(ctx, reply, req)

	case MethodList:
		return r.List(ctx, reply, req)

	case protocol.MethodShutdown:
		return r.Shutdown(ctx, reply, req)

	case protocol.MethodExit:
		return r.Exit(ctx, reply, req)

	default:
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}
}

func (r *jsonRPCRouter) UUID() uuid.UUID {
	return r.uuid
}
