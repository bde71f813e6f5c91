package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/compilecache"
	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/httpserver"
	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/mcpserver"
	"github.com/isdmx/runbox/sandbox"
	"github.com/isdmx/runbox/terminal"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the configuration file")
	pflag.Parse()

	app := fx.New(
		fx.Supply(config.Options{Path: *configPath}),

		// Provide dependencies
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			newRegistry,
			newMetrics,
			newFingerprinter,
			newPool,
			newCache,
			newExecutor,
			newTerminal,
			newHTTPServer,
			newMCPServer,
		),

		fx.Invoke(registerLifecycle),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

type lifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Logger     *zap.Logger
	Pool       *sandbox.Pool
	Cache      *compilecache.Cache
	Sessions   *terminal.Manager
	HTTP       *httpserver.Server
	MCP        *mcpserver.MCPServer
}

func registerLifecycle(p lifecycleParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Pool.Start(ctx); err != nil {
				return err
			}
			if err := p.HTTP.Start(); err != nil {
				return err
			}
			startMCP(p)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.Config.GetShutdownTimeout())
			defer cancel()

			if err := p.HTTP.Shutdown(ctx); err != nil {
				p.Logger.Warn("http shutdown incomplete", zap.Error(err))
			}
			if err := p.MCP.Shutdown(ctx); err != nil {
				p.Logger.Warn("mcp shutdown incomplete", zap.Error(err))
			}
			p.Sessions.Shutdown()
			p.Pool.Shutdown(ctx)
			return p.Cache.Close()
		},
	})
}

func startMCP(p lifecycleParams) {
	switch p.Config.Server.MCPTransport {
	case "stdio":
		go func() {
			if err := p.MCP.ServeStdio(); err != nil {
				p.Logger.Error("mcp stdio transport stopped", zap.Error(err))
			}
			// stdin closed: the client is gone
			_ = p.Shutdowner.Shutdown()
		}()
	case "http":
		go func() {
			if err := p.MCP.ServeHTTP(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.Logger.Error("mcp http transport stopped", zap.Error(err))
			}
		}()
	}
}
