package handler

import (
	registry "github.com/lsptunnel/lsptunnel/src/tunnel/controller/registry"
	tunnel "github.com/lsptunnel/lsptunnel/src/tunnel/handler/tunnel"
	"github.com/lsptunnel/lsptunnel/src/tunnel/repository/session"
	"go.uber.org/fx"
)

// Module provides the tunnel daemon server into an Fx application.
var Module = fx.Options(
	registry.Module,
	fx.Provide(session.New),
	fx.Provide(tunnel.New),
	fx.Invoke(func(h tunnel.Handler) {}),
	fx.Invoke(func(c registry.Controller) {}),
)
