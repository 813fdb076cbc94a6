// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/ledger"
	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/secret"
)

func ledgerCommand(env *Environment) *cli.Command {
	return &cli.Command{
		Name:    "ledger",
		Summary: "Manage your ledger account",
		Description: `Manage your account with the billing ledger.

Priced calls draw on this account. The ledger identity used to
authenticate is read from ledger.identity_file in the configuration.`,
		Subcommands: []*cli.Command{
			ledgerAccountCommand(env),
			ledgerBalanceCommand(env),
			ledgerCredentialsCommand(env),
		},
	}
}

// ledgerClient builds a client for the configured ledger. The returned
// identity, when non-nil, must be closed by the caller.
func ledgerClient(cfg *config.Config, logger *slog.Logger) (*ledger.Client, *secret.Buffer, error) {
	var identity *secret.Buffer
	if cfg.Ledger.IdentityFile != "" {
		var err error
		identity, err = secret.ReadFile(cfg.Ledger.IdentityFile)
		if err != nil {
			return nil, nil, fmt.Errorf("reading ledger identity: %w", err)
		}
	}
	client, err := ledger.NewClient(ledger.ClientConfig{
		BaseURL:      cfg.Ledger.URL,
		HTTPClient:   httpClient(cfg),
		Identity:     identity,
		RecipientKey: cfg.Ledger.RecipientKey,
		Logger:       logger,
	})
	if err != nil {
		if identity != nil {
			identity.Close()
		}
		return nil, nil, err
	}
	return client, identity, nil
}

type ledgerParams struct {
	Global
	cli.JSONOutput
}

func withLedger(params Global, logger *slog.Logger, fn func(client *ledger.Client, caller ref.Principal) error) error {
	cfg, caller, err := params.load()
	if err != nil {
		return err
	}
	client, identity, err := ledgerClient(cfg, logger)
	if err != nil {
		return err
	}
	if identity != nil {
		defer identity.Close()
	}
	return fn(client, caller)
}

func ledgerAccountCommand(env *Environment) *cli.Command {
	var params ledgerParams
	return &cli.Command{
		Name:    "account",
		Summary: "Create your ledger account",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("account", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return errors.New("account takes no arguments")
			}
			return withLedger(params.Global, logger, func(client *ledger.Client, caller ref.Principal) error {
				account, err := client.CreateAccount(ctx, caller)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(env.Stdout, account); done {
					return err
				}
				fmt.Fprintf(env.Stdout, "account %s: balance %s\n", account.Principal, account.Balance)
				return nil
			})
		},
	}
}

func ledgerBalanceCommand(env *Environment) *cli.Command {
	var params ledgerParams
	return &cli.Command{
		Name:    "balance",
		Summary: "Show your balance and held funds",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("balance", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return errors.New("balance takes no arguments")
			}
			return withLedger(params.Global, logger, func(client *ledger.Client, caller ref.Principal) error {
				account, err := client.Balance(ctx, caller)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(env.Stdout, account); done {
					return err
				}
				fmt.Fprintf(env.Stdout, "balance %s (held %s)\n", account.Balance, account.Held)
				return nil
			})
		},
	}
}

type ledgerCredentialsParams struct {
	Global
	CredentialFile string `json:"credential_file" flag:"credential-file" desc:"file holding the new credential ('-' or empty prompts)"`
}

func ledgerCredentialsCommand(env *Environment) *cli.Command {
	var params ledgerCredentialsParams
	return &cli.Command{
		Name:    "credentials",
		Summary: "Set your ledger credential",
		Description: `Install a new bearer credential for your ledger account.

The credential is sealed to the ledger's public key (ledger.recipient_key)
before it leaves this process. Replacing an existing credential
authenticates with the current identity file. Afterwards, point
ledger.identity_file at the new credential.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("credentials", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return errors.New("credentials takes no arguments")
			}
			credential, err := cli.ReadSecret(params.CredentialFile, "New ledger credential", env.Stdin, env.Stderr)
			if err != nil {
				return err
			}
			defer credential.Close()
			return withLedger(params.Global, logger, func(client *ledger.Client, caller ref.Principal) error {
				if err := client.UpdateCredentials(ctx, caller, credential); err != nil {
					return err
				}
				fmt.Fprintf(env.Stdout, "credential updated for %s\n", caller)
				return nil
			})
		},
	}
}
