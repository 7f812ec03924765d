package tunnel

import (
	"context"

	"go.lsp.dev/jsonrpc2"

	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	"github.com/lsptunnel/lsptunnel/src/tunnel/mapper"
)

// Acquire extracts an AcquireRequest from the request and attaches the buffer
// to its session, launching the remote server first if none is live.
func (r *jsonRPCRouter) Acquire(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToAcquireRequest(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	result, err := r.registry.Acquire(ctx, params)
	if err != nil {
		return reply(ctx, nil, err)
	}

	return reply(ctx, result, nil)
}

// Release detaches a buffer from its session.
func (r *jsonRPCRouter) Release(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToReleaseRequest(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	err = r.registry.Release(ctx, params)
	return reply(ctx, nil, err)
}

// Stop ends a session regardless of attached buffers.
func (r *jsonRPCRouter) Stop(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	params, err := mapper.RequestToStopRequest(req)
	if err != nil {
		return reply(ctx, nil, err)
	}

	err = r.registry.Stop(ctx, params)
	return reply(ctx, nil, err)
}

// List replies with a snapshot of every session in the registry.
func (r *jsonRPCRouter) List(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	summaries := []entity.SessionSummary{}
	for summary := range r.registry.List(ctx) {
		summaries = append(summaries, summary)
	}
	return reply(ctx, summaries, nil)
}

// Shutdown acknowledges the standard LSP shutdown request. The daemon is
// shared between editors, so the process itself keeps running until Exit.
func (r *jsonRPCRouter) Shutdown(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	return reply(ctx, nil, nil)
}

// Exit stops the daemon process.
func (r *jsonRPCRouter) Exit(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	// Reply first so the editor is not left waiting on a dying process.
	reply(ctx, nil, nil)
	return r.shutdowner.Shutdown()
}
