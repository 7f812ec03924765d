package tunnel

import (
	"context"
	"iter"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/fx"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/lsptunnel/lsptunnel/idl/mock/jsonrpc2mock"
	"github.com/lsptunnel/lsptunnel/src/tunnel/controller/registry/registrymock"
	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	"github.com/lsptunnel/lsptunnel/src/tunnel/factory"
)

type stubShutdowner struct {
	calls int
}

func (s *stubShutdowner) Shutdown(opts ...fx.ShutdownOption) error {
	s.calls++
	return nil
}

type stubGateway struct {
	registered   []uuid.UUID
	deregistered []uuid.UUID
	registerErr  error
}

func (g *stubGateway) RegisterClient(ctx context.Context, id uuid.UUID, conn *jsonrpc2.Conn) error {
	if g.registerErr != nil {
		return g.registerErr
	}
	g.registered = append(g.registered, id)
	return nil
}

func (g *stubGateway) DeregisterClient(ctx context.Context, id uuid.UUID) error {
	g.deregistered = append(g.deregistered, id)
	return nil
}

func (g *stubGateway) SessionState(ctx context.Context, event entity.SessionEvent) error {
	return nil
}

func (g *stubGateway) LogMessage(ctx context.Context, params *protocol.LogMessageParams) error {
	return nil
}

type replyCapture struct {
	result interface{}
	err    error
	called int
}

func (r *replyCapture) replier(ctx context.Context, result interface{}, err error) error {
	r.called++
	r.result = result
	r.err = err
	return nil
}

func newTestRouter(t *testing.T) (*jsonRPCRouter, *registrymock.MockController, *stubShutdowner) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockRegistry := registrymock.NewMockController(ctrl)
	shutdowner := &stubShutdowner{}
	return &jsonRPCRouter{
		registry:   mockRegistry,
		shutdowner: shutdowner,
		logger:     zap.NewNop().Sugar(),
		uuid:       factory.UUID(),
		stats:      tally.NoopScope,
	}, mockRegistry, shutdowner
}

func TestAcquire(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r, mockRegistry, _ := newTestRouter(t)
		want := &entity.AcquireResult{
			Key:     entity.SessionKey{ServerName: "gopls", Host: "build"},
			UUID:    factory.UUID(),
			State:   entity.StateRunning,
			Address: "127.0.0.1:45001",
		}
		mockRegistry.EXPECT().Acquire(gomock.Any(), gomock.Any()).Return(want, nil)

		capture := &replyCapture{}
		req := factory.JSONRPCRequest(MethodAcquire, entity.AcquireRequest{
			ServerName: "gopls",
			Host:       "build",
			RootDir:    "/home/dev/project",
			BufferID:   "buf-1",
		})
		require.NoError(t, r.HandleReq(context.Background(), capture.replier, req))
		assert.Equal(t, want, capture.result)
		assert.NoError(t, capture.err)
	})

	t.Run("registry error", func(t *testing.T) {
		r, mockRegistry, _ := newTestRouter(t)
		mockRegistry.EXPECT().Acquire(gomock.Any(), gomock.Any()).Return(nil, assert.AnError)

		capture := &replyCapture{}
		req := factory.JSONRPCRequest(MethodAcquire, entity.AcquireRequest{ServerName: "gopls", Host: "build"})
		require.NoError(t, r.HandleReq(context.Background(), capture.replier, req))
		assert.ErrorIs(t, capture.err, assert.AnError)
	})

	t.Run("invalid params", func(t *testing.T) {
		r, _, _ := newTestRouter(t)

		capture := &replyCapture{}
		req := factory.JSONRPCRequest(MethodAcquire, "not an object")
		require.NoError(t, r.HandleReq(context.Background(), capture.replier, req))
		assert.Error(t, capture.err)
	})
}

func TestReleaseAndStop(t *testing.T) {
	tests := []struct {
		name   string
		method string
		expect func(m *registrymock.MockController)
	}{
		{
			name:   "release",
			method: MethodRelease,
			expect: func(m *registrymock.MockController) {
				m.EXPECT().Release(gomock.Any(), gomock.Any()).Return(nil)
			},
		},
		{
			name:   "stop",
			method: MethodStop,
			expect: func(m *registrymock.MockController) {
				m.EXPECT().Stop(gomock.Any(), gomock.Any()).Return(nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mockRegistry, _ := newTestRouter(t)
			tt.expect(mockRegistry)

			capture := &replyCapture{}
			req := factory.JSONRPCRequest(tt.method, map[string]string{
				"serverName": "gopls",
				"host":       "build",
				"bufferId":   "buf-1",
			})
			require.NoError(t, r.HandleReq(context.Background(), capture.replier, req))
			assert.NoError(t, capture.err)
		})
	}
}

func TestList(t *testing.T) {
	r, mockRegistry, _ := newTestRouter(t)

	summaries := []entity.SessionSummary{
		{Key: entity.SessionKey{ServerName: "gopls", Host: "build01"}, State: entity.StateRunning},
		{Key: entity.SessionKey{ServerName: "pylsp", Host: "build02"}, State: entity.StateStarting},
	}
	mockRegistry.EXPECT().List(gomock.Any()).Return(iter.Seq[entity.SessionSummary](func(yield func(entity.SessionSummary) bool) {
		for _, s := range summaries {
			if !yield(s) {
				return
			}
		}
	}))

	capture := &replyCapture{}
	req := factory.JSONRPCRequest(MethodList, nil)
	require.NoError(t, r.HandleReq(context.Background(), capture.replier, req))
	assert.Equal(t, summaries, capture.result)
}

func TestLifecycleMethods(t *testing.T) {
	t.Run("shutdown acknowledges without stopping the daemon", func(t *testing.T) {
		r, _, shutdowner := newTestRouter(t)
		capture := &replyCapture{}
		req := factory.JSONRPCRequest(protocol.MethodShutdown, nil)
		require.NoError(t, r.HandleReq(context.Background(), capture.replier, req))
		assert.Equal(t, 1, capture.called)
		assert.Equal(t, 0, shutdowner.calls)
	})

	t.Run("exit replies then stops the daemon", func(t *testing.T) {
		r, _, shutdowner := newTestRouter(t)
		capture := &replyCapture{}
		req := factory.JSONRPCRequest(protocol.MethodExit, nil)
		require.NoError(t, r.HandleReq(context.Background(), capture.replier, req))
		assert.Equal(t, 1, capture.called)
		assert.Equal(t, 1, shutdowner.calls)
	})

	t.Run("unknown method", func(t *testing.T) {
		r, _, _ := newTestRouter(t)
		capture := &replyCapture{}
		req := factory.JSONRPCRequest("tunnel/unsupported", nil)
		require.NoError(t, r.HandleReq(context.Background(), capture.replier, req))
		assert.Error(t, capture.err)
	})
}

func TestConnectionManager(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRegistry := registrymock.NewMockController(ctrl)
	gateway := &stubGateway{}
	manager := &jsonRPCConnectionManager{
		registry:      mockRegistry,
		editorGateway: gateway,
		shutdowner:    &stubShutdowner{},
		logger:        zap.NewNop().Sugar(),
		stats:         tally.NoopScope,
	}

	mockConn := jsonrpc2mock.NewMockConn(ctrl)
	var conn jsonrpc2.Conn = mockConn

	router, err := manager.NewConnection(context.Background(), &conn)
	require.NoError(t, err)
	require.Len(t, gateway.registered, 1)
	assert.Equal(t, gateway.registered[0], router.UUID())

	manager.RemoveConnection(context.Background(), router.UUID())
	assert.Equal(t, gateway.registered, gateway.deregistered)

	t.Run("gateway registration failure", func(t *testing.T) {
		gateway.registerErr = assert.AnError
		_, err := manager.NewConnection(context.Background(), &conn)
		assert.Error(t, err)
	})
}
