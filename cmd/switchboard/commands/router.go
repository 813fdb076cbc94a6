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

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/lib/money"
	"github.com/bureau-foundation/switchboard/lib/pricesheet"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/registry"
)

func routerCommand(env *Environment) *cli.Command {
	return &cli.Command{
		Name:    "router",
		Summary: "Create, publish, and price routers",
		Description: `Manage the routers you own.

A router starts as a draft that only its owner can call. Publishing
makes it addressable by everyone; unpublishing returns it to draft.
Prices can be set by the owner here or by a delegate holding
pricing-control (see "switchboard delegate").`,
		Subcommands: []*cli.Command{
			routerCreateCommand(env),
			routerVisibilityCommand(env, "publish", true),
			routerVisibilityCommand(env, "unpublish", false),
			routerPriceCommand(env),
			routerShowCommand(env),
			routerListCommand(env),
			routerDeleteCommand(env),
		},
	}
}

type routerCreateParams struct {
	Global
	cli.JSONOutput
	Services []string `json:"services" flag:"service" desc:"service as type=price, repeatable (e.g. chat=0.05)"`
	Publish  bool     `json:"publish" flag:"publish" desc:"publish immediately"`
}

func routerCreateCommand(env *Environment) *cli.Command {
	var params routerCreateParams
	return &cli.Command{
		Name:    "create",
		Summary: "Create a draft router",
		Usage:   "switchboard router create <owner/router> --service type=price [flags]",
		Examples: []cli.Example{
			{
				Description: "A router with a priced chat service and a free search service",
				Command:     "switchboard router create owner@x.org/alpha --service chat=0.05 --service search=0",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := routerArg(args)
			if err != nil {
				return err
			}
			services, err := parseServices(params.Services)
			if err != nil {
				return err
			}
			cfg, caller, err := params.load()
			if err != nil {
				return err
			}
			s, err := openStack(ctx, env, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			created, err := s.registry.Create(ctx, caller, target, services)
			if err != nil {
				return err
			}
			if params.Publish {
				if err := s.registry.Publish(ctx, caller, target); err != nil {
					return err
				}
				created.Published = true
			}
			if done, err := params.EmitJSON(env.Stdout, created); done {
				return err
			}
			return writeRouter(env.Stdout, created)
		},
	}
}

func routerVisibilityCommand(env *Environment, name string, publish bool) *cli.Command {
	var params Global
	summary := "Make a router addressable by everyone"
	if !publish {
		summary = "Return a router to draft"
	}
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   fmt.Sprintf("switchboard router %s <owner/router>", name),
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams(name, &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := routerArg(args)
			if err != nil {
				return err
			}
			cfg, caller, err := params.load()
			if err != nil {
				return err
			}
			s, err := openStack(ctx, env, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if publish {
				err = s.registry.Publish(ctx, caller, target)
			} else {
				err = s.registry.Unpublish(ctx, caller, target)
			}
			if err != nil {
				return err
			}
			state := "published"
			if !publish {
				state = "draft"
			}
			fmt.Fprintf(env.Stdout, "%s is now %s\n", target, state)
			return nil
		},
	}
}

// changeParams selects price changes from a sheet or from --set.
type changeParams struct {
	Sheet  string   `json:"sheet" flag:"sheet" desc:"JSONC price sheet to apply"`
	Set    []string `json:"set" flag:"set" desc:"price change as service=price, repeatable"`
	Reason string   `json:"reason" flag:"reason" desc:"reason recorded with the change (overrides the sheet's)"`
}

// changes returns the requested price changes and the reason.
func (p changeParams) changes() ([]registry.PriceChange, string, error) {
	if (p.Sheet == "") == (len(p.Set) == 0) {
		return nil, "", errors.New("exactly one of --sheet or --set is required")
	}
	if p.Sheet != "" {
		sheet, err := pricesheet.ReadFile(p.Sheet)
		if err != nil {
			return nil, "", err
		}
		changes := make([]registry.PriceChange, 0, len(sheet.Entries))
		for _, entry := range sheet.Entries {
			changes = append(changes, registry.PriceChange{
				Service:      entry.Service,
				Price:        entry.Price,
				ChargePolicy: entry.ChargePolicy,
			})
		}
		reason := sheet.Reason
		if p.Reason != "" {
			reason = p.Reason
		}
		return changes, reason, nil
	}

	changes := make([]registry.PriceChange, 0, len(p.Set))
	for _, assignment := range p.Set {
		service, price, err := parseAssignment(assignment)
		if err != nil {
			return nil, "", fmt.Errorf("--set %q: %w", assignment, err)
		}
		changes = append(changes, registry.PriceChange{Service: service, Price: price})
	}
	return changes, p.Reason, nil
}

type routerPriceParams struct {
	Global
	cli.JSONOutput
	changeParams
}

func routerPriceCommand(env *Environment) *cli.Command {
	var params routerPriceParams
	return &cli.Command{
		Name:    "price",
		Summary: "Change service prices as the owner",
		Description: `Change the prices of a router's services.

Changes are applied all-or-nothing in the same critical section
delegate edits use. A price sheet is a JSONC document:

  {
    // spring pricing
    "reason": "spring pricing",
    "services": {
      "chat":   {"price": "0.10"},
      "search": {"price": 0, "charge_policy": "per-request"}
    }
  }`,
		Usage: "switchboard router price <owner/router> (--sheet <file> | --set service=price...)",
		Examples: []cli.Example{
			{
				Description: "Raise the chat price",
				Command:     "switchboard router price owner@x.org/alpha --set chat=0.10",
			},
			{
				Description: "Apply a price sheet",
				Command:     "switchboard router price owner@x.org/alpha --sheet spring.jsonc",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("price", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := routerArg(args)
			if err != nil {
				return err
			}
			changes, _, err := params.changes()
			if err != nil {
				return err
			}
			cfg, caller, err := params.load()
			if err != nil {
				return err
			}
			s, err := openStack(ctx, env, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			applied, err := s.registry.SetPricing(ctx, caller, target, changes)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.Stdout, applied); done {
				return err
			}
			return writeChanges(env.Stdout, applied)
		},
	}
}

type routerShowParams struct {
	Global
	cli.JSONOutput
}

func routerShowCommand(env *Environment) *cli.Command {
	var params routerShowParams
	return &cli.Command{
		Name:    "show",
		Summary: "Show a router and its services",
		Usage:   "switchboard router show <owner/router> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := routerArg(args)
			if err != nil {
				return err
			}
			cfg, caller, err := params.load()
			if err != nil {
				return err
			}
			s, err := openStack(ctx, env, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			router, err := s.registry.Get(ctx, target)
			if err != nil {
				return err
			}
			if !router.Published && caller != target.Owner() {
				return fmt.Errorf("%w: %s", registry.ErrNotFound, target)
			}
			if done, err := params.EmitJSON(env.Stdout, router); done {
				return err
			}
			return writeRouter(env.Stdout, router)
		},
	}
}

func routerListCommand(env *Environment) *cli.Command {
	var params routerShowParams
	return &cli.Command{
		Name:    "list",
		Summary: "List the routers you own",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			cfg, caller, err := params.load()
			if err != nil {
				return err
			}
			s, err := openStack(ctx, env, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			routers, err := s.registry.ListByOwner(ctx, caller)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(env.Stdout, routers); done {
				return err
			}
			tw := tabwriter.NewWriter(env.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ROUTER\tSTATE\tSERVICES")
			for _, router := range routers {
				types := make([]string, 0, len(router.Services))
				for _, service := range router.Services {
					types = append(types, service.Type)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", router.Ref, visibility(router.Published), strings.Join(types, ","))
			}
			return tw.Flush()
		},
	}
}

func routerDeleteCommand(env *Environment) *cli.Command {
	var params Global
	return &cli.Command{
		Name:        "delete",
		Summary:     "Delete a router",
		Description: "Delete a router and its services. A router with an active delegation grant is kept until the grant is revoked.",
		Usage:       "switchboard router delete <owner/router>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("delete", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			target, err := routerArg(args)
			if err != nil {
				return err
			}
			cfg, caller, err := params.load()
			if err != nil {
				return err
			}
			s, err := openStack(ctx, env, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.registry.Delete(ctx, caller, target); err != nil {
				return err
			}
			fmt.Fprintf(env.Stdout, "deleted %s\n", target)
			return nil
		},
	}
}

func routerArg(args []string) (ref.Router, error) {
	if len(args) != 1 {
		return ref.Router{}, errors.New("expected exactly one router argument (owner/router)")
	}
	return ref.ParseRouter(args[0])
}

// parseServices turns type=price assignments into enabled
// per-request services.
func parseServices(assignments []string) ([]registry.Service, error) {
	if len(assignments) == 0 {
		return nil, errors.New("at least one --service is required")
	}
	services := make([]registry.Service, 0, len(assignments))
	for _, assignment := range assignments {
		serviceType, price, err := parseAssignment(assignment)
		if err != nil {
			return nil, fmt.Errorf("--service %q: %w", assignment, err)
		}
		services = append(services, registry.Service{
			Type:         serviceType,
			Enabled:      true,
			UnitPrice:    price,
			ChargePolicy: registry.ChargePerRequest,
		})
	}
	return services, nil
}

func parseAssignment(assignment string) (string, money.Amount, error) {
	name, priceText, found := strings.Cut(assignment, "=")
	if !found || name == "" {
		return "", 0, errors.New("want name=price")
	}
	price, err := money.Parse(priceText)
	if err != nil {
		return "", 0, err
	}
	return name, price, nil
}

func visibility(published bool) string {
	if published {
		return "published"
	}
	return "draft"
}

func writeRouter(w io.Writer, router *registry.Router) error {
	fmt.Fprintf(w, "%s (%s)\n", router.Ref, visibility(router.Published))
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "  SERVICE\tPRICE\tPOLICY\tENABLED")
	for _, service := range router.Services {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%t\n", service.Type, service.UnitPrice, service.ChargePolicy, service.Enabled)
	}
	return tw.Flush()
}

func writeChanges(w io.Writer, changes []registry.AppliedChange) error {
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tOLD\tNEW")
	for _, change := range changes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", change.Service, change.OldPrice, change.NewPrice)
	}
	return tw.Flush()
}
