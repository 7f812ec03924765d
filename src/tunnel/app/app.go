package app

import (
	"context"
	"time"

	"github.com/lsptunnel/lsptunnel/src/tunnel/gateway"
	"github.com/lsptunnel/lsptunnel/src/tunnel/handler"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/clock"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/core"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/executor"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/fs"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/jsonrpcfx"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/launcher"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/serverconfig"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/serverinfofile"
	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/sshconfig"
	tally "github.com/uber-go/tally/v4"
	"go.uber.org/fx"
)

// Module defines the tunnel-daemon application module.
var Module = fx.Options(
	gateway.Module, // outbounds
	handler.Module, // inbounds
	jsonrpcfx.Module,
	fs.Module,
	executor.Module,
	serverinfofile.Module,
	clock.Module,
	launcher.Module,
	sshconfig.Module,
	serverconfig.Module,
	core.ConfigModule,
	core.LoggerModule,
	fx.Provide(func(lc fx.Lifecycle) tally.Scope {
		rs, closer := tally.NewRootScope(tally.ScopeOptions{
			Tags: map[string]string{
				"service": "tunnel-daemon",
			},
		}, 1*time.Second)

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return closer.Close()
			},
		})

		return rs
	}),
	fx.Decorate(decorateEnvContext),
	fx.Decorate(decorateConfigProvider),
	fx.Provide(func() Context {
		return Context{
			Environment:        "local",
			RuntimeEnvironment: "local",
		}
	}),
)
