// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/api"
	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/httpserver"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/version"
)

type serveParams struct {
	Global
	Listen string `json:"listen" flag:"listen" desc:"listen address (default: service.listen_address)"`
}

func serveCommand(env *Environment) *cli.Command {
	var params serveParams
	return &cli.Command{
		Name:    "serve",
		Summary: "Serve the delegation API and metrics",
		Description: `Serve the delegation HTTP API and Prometheus metrics until
interrupted.

The API expects a fronting proxy to authenticate callers and name them
in the X-Switchboard-Principal header. Metrics are served at
service.metrics_path.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("serve", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return errors.New("serve takes no arguments")
			}
			// The server acts for whoever the proxy names, so no
			// principal is resolved.
			cfg, err := params.loadConfig()
			if err != nil {
				return err
			}
			if params.Listen != "" {
				cfg.Service.ListenAddress = params.Listen
			}
			return runServe(ctx, env, cfg, logger, nil)
		},
	}
}

// runServe serves until ctx ends. ready, when non-nil, receives the
// bound server once it is listening.
func runServe(ctx context.Context, env *Environment, cfg *config.Config, logger *slog.Logger, ready chan<- *httpserver.Server) error {
	if cfg.Environment == config.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	logger = logger.With("command", "serve", "version", version.Info())

	s, err := openStack(ctx, env, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	unsubscribe := s.status.Subscribe(func(principal ref.Principal) {
		logger.Debug("delegation status invalidated", "principal", principal.String())
	})
	defer unsubscribe()

	handler, err := api.New(api.Config{
		Registry:    s.registry,
		Authority:   s.authority,
		Gateway:     s.gateway,
		Audit:       s.audit,
		Status:      s.status,
		Gatherer:    s.gatherer,
		MetricsPath: cfg.Service.MetricsPath,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	server, err := httpserver.New(httpserver.Config{
		Address:         cfg.Service.ListenAddress,
		Handler:         handler.Handler(),
		ShutdownTimeout: cfg.Service.ShutdownTimeout,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	if ready != nil {
		go func() {
			select {
			case <-server.Ready():
				ready <- server
			case <-ctx.Done():
			}
		}()
	}
	return server.Serve(ctx)
}
