package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "idle", SessionState(0).String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "error", StateError.String())
}

func TestSessionStateTerminal(t *testing.T) {
	assert.False(t, StateStarting.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StateStopping.Terminal())
	assert.True(t, StateStopped.Terminal())
	assert.True(t, StateError.Terminal())
}

func TestSessionStateJSON(t *testing.T) {
	b, err := json.Marshal(StateRunning)
	require.NoError(t, err)
	assert.Equal(t, `"running"`, string(b))
}

func TestSessionKeyString(t *testing.T) {
	k := SessionKey{ServerName: "clangd", Host: "devbox"}
	assert.Equal(t, "clangd@devbox", k.String())
}

func TestBufferAttachDetach(t *testing.T) {
	s := &Session{}

	s.AttachBuffer("buf-1")
	s.AttachBuffer("buf-2")
	s.AttachBuffer("buf-1") // duplicate attach is a no-op
	assert.Len(t, s.Buffers, 2)

	assert.Equal(t, 1, s.DetachBuffer("buf-1"))
	assert.Equal(t, 0, s.DetachBuffer("buf-2"))
	assert.Equal(t, 0, s.DetachBuffer("never-attached"))
}
