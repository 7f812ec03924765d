package factory

import (
	"fmt"
	"math/rand"

	"github.com/gofrs/uuid"
	"go.lsp.dev/jsonrpc2"

	"github.com/lsptunnel/lsptunnel/src/tunnel/entity"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/uritranslate"
)

// UUID is a user-defined factory for a random uuid.UUID.
func UUID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}

// JSONRPCRequest is a user-defined factory for a JSON-RPC request containing the specified method and parameters.
func JSONRPCRequest(method string, params interface{}) jsonrpc2.Request {
	req, _ := jsonrpc2.NewCall(jsonrpc2.NewNumberID(5), method, params)
	return req
}

// SessionKey is a factory for a session key with a distinguishable host.
func SessionKey(id int) entity.SessionKey {
	return entity.SessionKey{
		ServerName: "gopls",
		Host:       fmt.Sprintf("build%02d", id),
	}
}

// SessionRunning is a factory for a session in the running state.
func SessionRunning(id int) *entity.Session {
	return &entity.Session{
		Key:      SessionKey(id),
		UUID:     UUID(),
		RootDir:  fmt.Sprintf("/home/dev/project%02d", id),
		Protocol: uritranslate.ProtocolRsync,
		State:    entity.StateRunning,
		Buffers:  map[string]struct{}{fmt.Sprintf("buf-%d", rand.Intn(100)): {}},
	}
}
