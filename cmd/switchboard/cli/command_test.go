// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

var discard = slog.New(slog.DiscardHandler)

func execute(command *Command, args ...string) error {
	return command.Execute(context.Background(), args, discard)
}

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "switchboard",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "call",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					called = "call"
					return nil
				},
			},
		},
	}

	if err := execute(root, "call"); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "call" {
		t.Errorf("dispatched to %q, want %q", called, "call")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "switchboard",
		Subcommands: []*Command{
			{
				Name: "router",
				Subcommands: []*Command{
					{
						Name: "publish",
						Run: func(_ context.Context, args []string, _ *slog.Logger) error {
							called = "router publish"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := execute(root, "router", "publish", "owner@x.org/alpha"); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "router publish" {
		t.Errorf("dispatched to %q, want %q", called, "router publish")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "owner@x.org/alpha" {
		t.Errorf("args = %v, want [owner@x.org/alpha]", receivedArgs)
	}
}

func TestCommand_Execute_PassesContextAndLogger(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "marker")
	var gotValue any
	var gotLogger *slog.Logger

	command := &Command{
		Name: "call",
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			gotValue = ctx.Value(key{})
			gotLogger = logger
			return nil
		},
	}
	if err := command.Execute(ctx, nil, discard); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if gotValue != "marker" {
		t.Errorf("context value = %v, want marker", gotValue)
	}
	if gotLogger != discard {
		t.Error("Run did not receive the logger passed to Execute")
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var sheet string
	var target string

	command := &Command{
		Name: "price",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("price", pflag.ContinueOnError)
			flagSet.StringVar(&sheet, "sheet", "prices.jsonc", "price sheet")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := execute(command, "--sheet", "/tmp/spring.jsonc", "owner@x.org/alpha"); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if sheet != "/tmp/spring.jsonc" {
		t.Errorf("sheet = %q, want %q", sheet, "/tmp/spring.jsonc")
	}
	if target != "owner@x.org/alpha" {
		t.Errorf("target = %q, want %q", target, "owner@x.org/alpha")
	}
}

func TestCommand_Execute_RunErrorPropagates(t *testing.T) {
	exit := &ExitError{Code: 2}
	command := &Command{
		Name: "call",
		Run: func(context.Context, []string, *slog.Logger) error {
			return exit
		},
	}
	err := execute(command)
	var coder interface{ ExitCode() int }
	if !errors.As(err, &coder) || coder.ExitCode() != 2 {
		t.Fatalf("Execute() = %v, want exit code 2", err)
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "call",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("call", pflag.ContinueOnError)
			flagSet.String("payload", "", "request payload")
			flagSet.String("config", "", "configuration file")
			return flagSet
		},
		Run: func(context.Context, []string, *slog.Logger) error { return nil },
	}

	err := execute(command, "--paylaod", "{}")
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "did you mean --payload") {
		t.Errorf("error = %q, want suggestion for '--payload'", errStr)
	}
	if !strings.Contains(errStr, "paylaod") {
		t.Errorf("error = %q, should mention the bad flag", errStr)
	}
	if !strings.Contains(errStr, "--help") {
		t.Errorf("error = %q, should point to --help", errStr)
	}
}

func TestCommand_Execute_UnknownFlagNoSuggestion(t *testing.T) {
	command := &Command{
		Name: "call",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("call", pflag.ContinueOnError)
			flagSet.String("payload", "", "request payload")
			return flagSet
		},
		Run: func(context.Context, []string, *slog.Logger) error { return nil },
	}

	err := execute(command, "--zzzzzzzzz")
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not suggest for distant flag", err.Error())
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "switchboard",
		Subcommands: []*Command{
			{Name: "call"},
			{Name: "delegate"},
			{Name: "version"},
		},
	}

	err := execute(root, "delgate")
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), "did you mean \"delegate\"") {
		t.Errorf("error = %q, want suggestion for 'delegate'", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandNoSuggestion(t *testing.T) {
	root := &Command{
		Name: "switchboard",
		Subcommands: []*Command{
			{Name: "call"},
			{Name: "delegate"},
		},
	}

	err := execute(root, "zzzzzzz")
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %q, should not contain suggestion for distant input", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			root := &Command{
				Name:    "switchboard",
				Summary: "Metered router calls",
				Subcommands: []*Command{
					{Name: "router", Summary: "Router management"},
				},
			}

			if err := execute(root, helpArg); err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
		})
	}
}

func TestCommand_Execute_HelpGoesToInheritedOutput(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:       "switchboard",
		HelpOutput: &help,
		Subcommands: []*Command{
			{
				Name: "router",
				Subcommands: []*Command{
					{Name: "price", Summary: "Change service prices"},
				},
			},
		},
	}

	if err := execute(root, "router", "--help"); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	output := help.String()
	if !strings.Contains(output, "switchboard router <command> [flags]") {
		t.Errorf("help output = %q, want the router usage line", output)
	}
	if !strings.Contains(output, "Change service prices") {
		t.Errorf("help output = %q, want the price summary", output)
	}
}

func TestCommand_Execute_RunHandlesUnmatchedArgument(t *testing.T) {
	var received []string
	root := &Command{
		Name:        "switchboard",
		Subcommands: []*Command{{Name: "router"}},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			received = args
			return nil
		},
	}

	if err := execute(root, "owner@x.org/alpha"); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(received) != 1 || received[0] != "owner@x.org/alpha" {
		t.Errorf("Run received %v, want [owner@x.org/alpha]", received)
	}
}

func TestCommand_Execute_NoArgsShowsHelp(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:       "switchboard",
		HelpOutput: &help,
		Subcommands: []*Command{
			{Name: "router", Summary: "Router management"},
		},
	}

	err := execute(root)
	if err == nil {
		t.Fatal("Execute() = nil, want error for missing subcommand")
	}
	if !errors.Is(err, errSubcommandRequired) {
		t.Errorf("error = %q, want errSubcommandRequired", err.Error())
	}
	if !strings.Contains(help.String(), "Router management") {
		t.Errorf("help output = %q, want the command list", help.String())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "switchboard",
		Description: "Metered calls to published routers.",
		Subcommands: []*Command{
			{Name: "call", Summary: "Invoke a router endpoint"},
			{Name: "delegate", Summary: "Pricing delegation"},
			{Name: "version", Summary: "Print version information"},
		},
		Examples: []Example{
			{
				Description: "Call a chat endpoint",
				Command:     "switchboard call owner@x.org/alpha/chat --payload '{}'",
			},
			{
				Description: "Grant pricing control",
				Command:     "switchboard delegate grant owner@x.org/alpha d@x.org",
			},
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"Metered calls to published routers.",
		"Usage:",
		"switchboard <command> [flags]",
		"Commands:",
		"call",
		"Invoke a router endpoint",
		"delegate",
		"Pricing delegation",
		"Examples:",
		"switchboard call owner@x.org/alpha/chat",
		"switchboard delegate grant",
		"Run 'switchboard <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_PrintHelp_WithFlags(t *testing.T) {
	command := &Command{
		Name:    "price",
		Summary: "Apply a price sheet",
		Usage:   "switchboard router price <router> --sheet <file>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("price", pflag.ContinueOnError)
			flagSet.String("sheet", "", "JSONC price sheet")
			flagSet.Bool("json", false, "output as JSON")
			return flagSet
		},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"switchboard router price <router> --sheet <file>",
		"Flags:",
		"sheet",
		"json",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "switchboard"}
	router := &Command{Name: "router", parent: root}
	price := &Command{Name: "price", parent: router}

	if got := root.fullName(); got != "switchboard" {
		t.Errorf("root.fullName() = %q, want %q", got, "switchboard")
	}
	if got := router.fullName(); got != "switchboard router" {
		t.Errorf("router.fullName() = %q, want %q", got, "switchboard router")
	}
	if got := price.fullName(); got != "switchboard router price" {
		t.Errorf("price.fullName() = %q, want %q", got, "switchboard router price")
	}
}
