// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/audit"
	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/delegation"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/secret"
	"github.com/bureau-foundation/switchboard/registry"
)

func delegateCommand(env *Environment) *cli.Command {
	return &cli.Command{
		Name:    "delegate",
		Summary: "Delegate pricing control of a router",
		Description: `Hand pricing control of a router to another principal.

A principal must opt in before anyone can grant them control. A router
has at most one delegate; granting to someone else replaces the
previous delegate and invalidates their access token. Either the owner
or the delegate can end a delegation with "revoke".

Every price change a delegate makes is recorded in the router's audit
log, which the owner and the current delegate can read.`,
		Subcommands: []*cli.Command{
			delegateOptInCommand(env),
			delegateGrantCommand(env),
			delegateRevokeCommand(env),
			delegateStatusCommand(env),
			delegateEligibleCommand(env),
			delegateTokenCommand(env),
			delegateApplyCommand(env),
			delegateAuditCommand(env),
		},
		Examples: []cli.Example{
			{
				Description: "As the delegate, opt in to receiving grants",
				Command:     "switchboard delegate opt-in --as d@x.org",
			},
			{
				Description: "As the owner, grant pricing control",
				Command:     "switchboard delegate grant owner@x.org/alpha d@x.org",
			},
			{
				Description: "As the delegate, raise a price",
				Command:     "switchboard delegate apply owner@x.org/alpha --set chat=0.10 --reason 'peak demand' --as d@x.org",
			},
		},
	}
}

type delegateParams struct {
	Global
	cli.JSONOutput
}

// withStack loads configuration, opens the stack, and runs fn.
func withStack(ctx context.Context, env *Environment, global Global, logger *slog.Logger, fn func(s *stack, caller ref.Principal) error) error {
	cfg, caller, err := global.load()
	if err != nil {
		return err
	}
	s, err := openStack(ctx, env, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s, caller)
}

func delegateOptInCommand(env *Environment) *cli.Command {
	var params Global
	return &cli.Command{
		Name:    "opt-in",
		Summary: "Allow owners to grant you pricing control",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("opt-in", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return errors.New("opt-in takes no arguments")
			}
			return withStack(ctx, env, params, logger, func(s *stack, caller ref.Principal) error {
				if err := s.authority.OptIn(ctx, caller); err != nil {
					return err
				}
				fmt.Fprintf(env.Stdout, "%s has opted in to delegation\n", caller)
				return nil
			})
		},
	}
}

func delegateGrantCommand(env *Environment) *cli.Command {
	var params delegateParams
	return &cli.Command{
		Name:    "grant",
		Summary: "Grant pricing control of a router",
		Usage:   "switchboard delegate grant <owner/router> <delegate>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("grant", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 2 {
				return errors.New("usage: switchboard delegate grant <owner/router> <delegate>")
			}
			target, err := ref.ParseRouter(args[0])
			if err != nil {
				return err
			}
			delegate, err := ref.ParsePrincipal(args[1])
			if err != nil {
				return err
			}
			return withStack(ctx, env, params.Global, logger, func(s *stack, caller ref.Principal) error {
				grant, err := s.authority.Grant(ctx, caller, target, delegate)
				if err != nil {
					return err
				}
				// The token is the delegate's to read, not the owner's.
				shown := *grant
				shown.AccessToken = ""
				if done, err := params.EmitJSON(env.Stdout, shown); done {
					return err
				}
				fmt.Fprintf(env.Stdout, "granted %s to %s until %s\n",
					strings.Join(grant.Capabilities, ","), grant.Delegate, grant.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
}

func delegateRevokeCommand(env *Environment) *cli.Command {
	var params Global
	return &cli.Command{
		Name:        "revoke",
		Summary:     "End a router's delegation",
		Description: "End a router's delegation. The owner or the current delegate may revoke; the access token stops working immediately.",
		Usage:       "switchboard delegate revoke <owner/router>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("revoke", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := routerArg(args)
			if err != nil {
				return err
			}
			return withStack(ctx, env, params, logger, func(s *stack, caller ref.Principal) error {
				if err := s.authority.Revoke(ctx, caller, target); err != nil {
					return err
				}
				fmt.Fprintf(env.Stdout, "revoked the delegation of %s\n", target)
				return nil
			})
		},
	}
}

func delegateStatusCommand(env *Environment) *cli.Command {
	var params delegateParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show which routers a principal is delegate of",
		Usage:   "switchboard delegate status [principal]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 1 {
				return errors.New("usage: switchboard delegate status [principal]")
			}
			return withStack(ctx, env, params.Global, logger, func(s *stack, caller ref.Principal) error {
				principal := caller
				if len(args) == 1 {
					var err error
					if principal, err = ref.ParsePrincipal(args[0]); err != nil {
						return err
					}
				}
				status, err := s.status.Get(ctx, principal)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(env.Stdout, status); done {
					return err
				}
				if !status.IsDelegate {
					fmt.Fprintf(env.Stdout, "%s is not a delegate\n", principal)
					return nil
				}
				fmt.Fprintf(env.Stdout, "%s is delegate of:\n", principal)
				for _, router := range status.DelegatedRouters {
					fmt.Fprintf(env.Stdout, "  %s\n", router)
				}
				return nil
			})
		},
	}
}

func delegateEligibleCommand(env *Environment) *cli.Command {
	var params delegateParams
	return &cli.Command{
		Name:    "eligible",
		Summary: "List principals a router can be delegated to",
		Usage:   "switchboard delegate eligible <owner/router>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("eligible", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := routerArg(args)
			if err != nil {
				return err
			}
			return withStack(ctx, env, params.Global, logger, func(s *stack, caller ref.Principal) error {
				eligible, err := s.authority.EligibleDelegates(ctx, caller, target)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(env.Stdout, eligible); done {
					return err
				}
				for _, principal := range eligible {
					fmt.Fprintln(env.Stdout, principal)
				}
				return nil
			})
		},
	}
}

func delegateTokenCommand(env *Environment) *cli.Command {
	var params Global
	return &cli.Command{
		Name:        "token",
		Summary:     "Print your access token for a router",
		Description: "Print the access token of a router's active grant. Only the delegate it was issued to can read it.",
		Usage:       "switchboard delegate token <owner/router>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("token", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := routerArg(args)
			if err != nil {
				return err
			}
			return withStack(ctx, env, params, logger, func(s *stack, caller ref.Principal) error {
				token, err := delegateToken(ctx, s, target, caller)
				if err != nil {
					return err
				}
				fmt.Fprintln(env.Stdout, token)
				return nil
			})
		},
	}
}

// delegateToken returns caller's access token for router from the
// active grant.
func delegateToken(ctx context.Context, s *stack, router ref.Router, caller ref.Principal) (string, error) {
	grant, err := s.authority.ActiveGrant(ctx, router)
	if errors.Is(err, delegation.ErrNoGrant) {
		return "", &delegation.AuthorizationError{Reason: delegation.ReasonNoGrant, Detail: router.String()}
	}
	if err != nil {
		return "", err
	}
	if grant.Delegate != caller {
		return "", &delegation.AuthorizationError{Reason: delegation.ReasonNoGrant, Detail: router.String()}
	}
	return grant.AccessToken, nil
}

type delegateApplyParams struct {
	Global
	cli.JSONOutput
	changeParams
	TokenFile string `json:"token_file" flag:"token-file" desc:"file holding the access token (default: the active grant's token)"`
}

func delegateApplyCommand(env *Environment) *cli.Command {
	var params delegateApplyParams
	return &cli.Command{
		Name:    "apply",
		Summary: "Change a router's prices as its delegate",
		Description: `Change a router's prices as its delegate.

The change is checked against the grant, the access token, and the
pricing-control capability, then applied all-or-nothing and recorded
in the audit log. A rejected change leaves prices and the audit log
untouched.`,
		Usage: "switchboard delegate apply <owner/router> (--sheet <file> | --set service=price...) [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("apply", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := routerArg(args)
			if err != nil {
				return err
			}
			changes, reason, err := params.changes()
			if err != nil {
				return err
			}
			return withStack(ctx, env, params.Global, logger, func(s *stack, caller ref.Principal) error {
				token, err := params.accessToken(ctx, s, target, caller)
				if err != nil {
					return err
				}
				receipt, err := s.gateway.Apply(ctx, target, caller, token, delegation.Action{
					Type:    delegation.ActionUpdatePricing,
					Changes: changes,
					Reason:  reason,
				})
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(env.Stdout, receipt); done {
					return err
				}
				if err := writeChanges(env.Stdout, receipt.Applied); err != nil {
					return err
				}
				fmt.Fprintf(env.Stdout, "recorded as audit entry %s\n", receipt.Entry.ID)
				return nil
			})
		},
	}
}

func (p *delegateApplyParams) accessToken(ctx context.Context, s *stack, router ref.Router, caller ref.Principal) (string, error) {
	if p.TokenFile == "" {
		return delegateToken(ctx, s, router, caller)
	}
	token, err := secret.ReadFile(p.TokenFile)
	if err != nil {
		return "", err
	}
	defer token.Close()
	return token.String(), nil
}

type delegateAuditParams struct {
	Global
	cli.JSONOutput
	Limit int `json:"limit" flag:"limit" desc:"maximum entries, newest first" default:"100"`
}

// auditRecord is an audit entry with its changes decoded.
type auditRecord struct {
	audit.Entry
	Changes []registry.AppliedChange `json:"changes"`
}

func delegateAuditCommand(env *Environment) *cli.Command {
	var params delegateAuditParams
	return &cli.Command{
		Name:    "audit",
		Summary: "Show the changes delegates made to a router",
		Usage:   "switchboard delegate audit <owner/router> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("audit", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := routerArg(args)
			if err != nil {
				return err
			}
			return withStack(ctx, env, params.Global, logger, func(s *stack, caller ref.Principal) error {
				if caller != target.Owner() {
					if _, err := delegateToken(ctx, s, target, caller); err != nil {
						return &delegation.AuthorizationError{Reason: delegation.ReasonNotParty, Detail: target.String()}
					}
				}
				entries, err := s.audit.List(ctx, target, params.Limit)
				if err != nil {
					return err
				}
				records := make([]auditRecord, 0, len(entries))
				for _, entry := range entries {
					var payload delegation.AuditPayload
					if err := entry.DecodePayload(&payload); err != nil {
						return err
					}
					records = append(records, auditRecord{Entry: entry, Changes: payload.Changes})
				}
				if done, err := params.EmitJSON(env.Stdout, records); done {
					return err
				}
				return writeAudit(env.Stdout, records)
			})
		},
	}
}

func writeAudit(w io.Writer, records []auditRecord) error {
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tDELEGATE\tACTION\tCHANGES\tREASON")
	for _, record := range records {
		changes := make([]string, 0, len(record.Changes))
		for _, change := range record.Changes {
			changes = append(changes, fmt.Sprintf("%s %s->%s", change.Service, change.OldPrice, change.NewPrice))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			record.CreatedAt.UTC().Format(time.RFC3339), record.Delegate, record.ActionType,
			strings.Join(changes, ", "), record.Reason)
	}
	return tw.Flush()
}
