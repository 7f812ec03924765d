package mapper

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"

	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/uritranslate"
)

func TestSessionModelRoundTrip(t *testing.T) {
	s := &entity.Session{
		Key:      entity.SessionKey{ServerName: "gopls", Host: "devbox"},
		UUID:     uuid.Must(uuid.NewV4()),
		RootDir:  "/srv/app",
		Protocol: uritranslate.ProtocolRsync,
		State:    entity.StateRunning,
		Buffers:  map[string]struct{}{"buf-1": {}},
	}

	m := SessionToModel(s)
	back, err := ModelToSession(m)
	require.NoError(t, err)
	assert.Equal(t, s, back)

	// The model owns its own buffer set.
	m.Buffers["buf-2"] = struct{}{}
	assert.Len(t, s.Buffers, 1)
}

func TestModelToSessionNil(t *testing.T) {
	_, err := ModelToSession(nil)
	assert.Error(t, err)
}

func TestSessionToSummary(t *testing.T) {
	s := &entity.Session{
		Key:     entity.SessionKey{ServerName: "pylsp", Host: "devbox"},
		RootDir: "/srv/app",
		State:   entity.StateStarting,
		Buffers: map[string]struct{}{"a": {}, "b": {}},
	}

	sum := SessionToSummary(s)
	assert.Equal(t, s.Key, sum.Key)
	assert.Equal(t, entity.StateStarting, sum.State)
	assert.Equal(t, 2, sum.Buffers)
}

func TestContextToConnUUID(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	ctx := context.WithValue(context.Background(), entity.ConnContextKey, id)

	got, err := ContextToConnUUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ContextToConnUUID(context.Background())
	assert.Error(t, err)
}

func TestRequestToAcquireRequest(t *testing.T) {
	req, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(1), "tunnel/acquire", entity.AcquireRequest{
		ServerName: "pylsp",
		Host:       "devbox",
		RootDir:    "/srv/app",
		BufferID:   "buf-1",
	})
	require.NoError(t, err)

	params, err := RequestToAcquireRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "pylsp", params.ServerName)
	assert.Equal(t, entity.SessionKey{ServerName: "pylsp", Host: "devbox"}, params.Key())
}

func TestRequestToStopRequestBadParams(t *testing.T) {
	req, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(2), "tunnel/stop", "not-an-object")
	require.NoError(t, err)

	_, err = RequestToStopRequest(req)
	assert.Error(t, err)
}
