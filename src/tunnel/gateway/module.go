package gateway

import (
	notifier "github.com/lsptunnel/lsptunnel/src/tunnel/gateway/editor-client"
	"go.uber.org/fx"
)

// Module provides the daemon's outbound gateways into an Fx application.
var Module = fx.Options(
	notifier.Module,
)
