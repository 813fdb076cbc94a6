// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/billing"
	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/envelope"
	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/money"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/poller"
	"github.com/bureau-foundation/switchboard/transport"
)

type callParams struct {
	Global
	cli.JSONOutput
	Payload     string `json:"payload" flag:"payload,p" desc:"JSON object sent to the endpoint" default:"{}"`
	PayloadFile string `json:"payload_file" flag:"payload-file" desc:"read the payload from a file ('-' for stdin)"`
	Progress    bool   `json:"progress" flag:"progress" desc:"report each state change of the call on stderr"`
}

// callOutput is the --json rendering of a billed call.
type callOutput struct {
	Address     string         `json:"address"`
	OK          bool           `json:"ok"`
	Body        *envelope.Body `json:"body,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	Price       money.Amount   `json:"price"`
	Transaction string         `json:"transaction,omitempty"`
	Billing     string         `json:"billing"`
	Message     string         `json:"message"`
	DurationMS  int64          `json:"duration_ms"`
}

func callCommand(env *Environment) *cli.Command {
	var params callParams
	return &cli.Command{
		Name:    "call",
		Summary: "Invoke a router endpoint and settle its bill",
		Description: `Invoke an endpoint on a router through the gateway.

If the service has a price, a ledger transaction is opened before
anything is sent and its token travels in the payload as
"transaction_token". Once the call is terminal the transaction is
confirmed (the call answered 200) or cancelled (anything else).

A call that fails and a call whose billing could not be confirmed are
reported differently: the first exits 1, the second succeeds with a
warning and is reconciled by the ledger operator.`,
		Usage: "switchboard call <owner/router/endpoint> [flags]",
		Examples: []cli.Example{
			{
				Description: "Ask a chat endpoint a question",
				Command:     `switchboard call owner@x.org/alpha/chat --payload '{"prompt":"hello"}'`,
			},
			{
				Description: "Send a payload from a file and watch it poll",
				Command:     "switchboard call owner@x.org/alpha/search --payload-file query.json --progress",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("call", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: switchboard call <owner/router/endpoint> [flags]")
			}
			address, err := ref.ParseAddress(args[0])
			if err != nil {
				return err
			}
			payload, err := readPayload(params.Payload, params.PayloadFile, env.Stdin)
			if err != nil {
				return err
			}
			cfg, caller, err := params.load()
			if err != nil {
				return err
			}
			logger = logger.With("command", "call", "address", address.String(), "caller", caller.String())
			return runCall(ctx, env, cfg, caller, address, payload, &params, logger)
		},
	}
}

func runCall(ctx context.Context, env *Environment, cfg *config.Config, caller ref.Principal, address ref.Address, payload envelope.Payload, params *callParams, logger *slog.Logger) error {
	s, err := openStack(ctx, env, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	gateway, err := transport.NewHTTP(transport.HTTPConfig{
		BaseURL:   cfg.Gateway.URL,
		Client:    httpClient(cfg),
		Principal: caller,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	accounts, identity, err := ledgerClient(cfg, logger)
	if err != nil {
		return err
	}
	if identity != nil {
		defer identity.Close()
	}

	styles := cli.NewStyles(env.Stderr, cli.DefaultPalette)
	var observer poller.Observer
	if params.Progress {
		observer = func(transition poller.Transition) {
			fmt.Fprintln(env.Stderr, styles.Faint.Render(
				fmt.Sprintf("%s (attempt %d)", transition.State, transition.Attempt)))
		}
	}
	calls, err := poller.New(poller.Config{
		Transport: gateway,
		Clock:     env.Clock,
		Policy:    retryPolicy(cfg.Poll),
		Logger:    logger,
		Observer:  observer,
	})
	if err != nil {
		return err
	}

	orchestrator, err := billing.New(billing.Config{
		Ledger:  accounts,
		Poller:  calls,
		Pricer:  s.registry,
		Clock:   env.Clock,
		Logger:  logger,
		Metrics: s.metrics,
	})
	if err != nil {
		return err
	}

	result, err := orchestrator.Invoke(ctx, caller, address, payload)
	if result == nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// The call was dispatched; its transaction still has to
			// settle before the process exits.
			fmt.Fprintln(env.Stderr, styles.Warning.Render("call abandoned; waiting for its transaction to settle"))
			orchestrator.Wait()
		}
		return err
	}

	if done, err := params.EmitJSON(env.Stdout, newCallOutput(address, result)); done {
		if err != nil {
			return err
		}
	} else if err := renderCall(env.Stdout, env.Stderr, styles, result); err != nil {
		return err
	}

	if !result.OK() {
		return &cli.ExitError{Code: 1}
	}
	return nil
}

func newCallOutput(address ref.Address, result *billing.Result) callOutput {
	output := callOutput{
		Address:     address.String(),
		OK:          result.OK(),
		Attempts:    result.Attempts,
		Price:       result.Price,
		Transaction: result.Transaction,
		Billing:     result.Billing.String(),
		Message:     result.Message(),
		DurationMS:  result.Duration.Milliseconds(),
	}
	if result.OK() {
		output.Body = &result.Body
	} else {
		output.Error = result.Err.Error()
	}
	return output
}

// renderCall writes the response body to stdout and the call and
// billing summary to stderr, so the body can be piped on its own.
func renderCall(stdout, stderr io.Writer, styles *cli.Styles, result *billing.Result) error {
	if result.OK() {
		if err := writeBody(stdout, result.Body); err != nil {
			return err
		}
	}

	summary := result.Message()
	switch {
	case !result.OK():
		summary = styles.Failure.Render(summary)
	case result.Billing == billing.Unconfirmed:
		summary = styles.Warning.Render(summary)
	default:
		summary = styles.Success.Render(summary)
	}
	_, err := fmt.Fprintf(stderr, "%s %s\n", summary,
		styles.Faint.Render(fmt.Sprintf("[%d requests, %s]", result.Attempts, result.Duration.Round(time.Millisecond))))
	return err
}

func writeBody(w io.Writer, body envelope.Body) error {
	if !body.IsObject() {
		_, err := fmt.Fprintln(w, body.Text())
		return err
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, body.Raw(), "", "  "); err != nil {
		return fmt.Errorf("formatting response body: %w", err)
	}
	indented.WriteByte('\n')
	_, err := indented.WriteTo(w)
	return err
}

// readPayload parses the payload from the flag or, when payloadFile
// is set, from that file. Numbers are kept exact.
func readPayload(inline, payloadFile string, stdin io.Reader) (envelope.Payload, error) {
	data := []byte(inline)
	if payloadFile != "" {
		var err error
		if payloadFile == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(payloadFile)
		}
		if err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var payload envelope.Payload
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if decoder.More() {
		return nil, errors.New("payload must be a single JSON object")
	}
	if payload == nil {
		payload = envelope.Payload{}
	}
	return payload, nil
}

func retryPolicy(poll config.PollConfig) poller.RetryPolicy {
	return poller.RetryPolicy{
		MaxAttempts: poll.MaxAttempts,
		Interval:    poll.Interval,
		Multiplier:  poll.Multiplier,
		MaxInterval: poll.MaxInterval,
	}
}
