// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the switchboard CLI command tree.
//
// Every command works against the local state named by
// storage.path: routers, delegation grants, and the audit log. Calls
// additionally reach the gateway and the ledger over HTTP. Commands
// write to the streams of an [Environment], so tests drive the same
// tree main does.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/lib/version"
)

// Root builds the complete command tree over env.
func Root(env *Environment) *cli.Command {
	return &cli.Command{
		Name:       "switchboard",
		HelpOutput: env.Stderr,
		Description: `Switchboard: metered calls to published routers.

Call router endpoints with per-call billing against a prepaid ledger,
manage the routers you own, and delegate their pricing to someone
you trust.

Configuration is read from --config or $SWITCHBOARD_CONFIG.`,
		Subcommands: []*cli.Command{
			callCommand(env),
			routerCommand(env),
			delegateCommand(env),
			ledgerCommand(env),
			serveCommand(env),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Fprintf(env.Stdout, "switchboard %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Create and publish a router with a priced chat service",
				Command:     "switchboard router create owner@x.org/alpha --service chat=0.05 --publish",
			},
			{
				Description: "Call it",
				Command:     `switchboard call owner@x.org/alpha/chat --payload '{"prompt":"hello"}'`,
			},
			{
				Description: "Let d@x.org set its prices",
				Command:     "switchboard delegate grant owner@x.org/alpha d@x.org",
			},
			{
				Description: "Serve the delegation API",
				Command:     "switchboard serve --listen 127.0.0.1:8680",
			},
		},
	}
}
