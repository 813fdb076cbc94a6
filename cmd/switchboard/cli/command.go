// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the command tree. A node either dispatches
// to Subcommands by its first positional argument or parses Flags and
// hands what is left to Run.
type Command struct {
	// Name is the word the user types ("router", "price").
	Name string

	// Summary is the one-liner shown in the parent's command list.
	Summary string

	// Description is the long form shown by the command's own --help.
	// Summary stands in when it is empty.
	Description string

	// Usage overrides the synthesized usage line, e.g.
	// "switchboard router price <owner/router> --sheet <file>".
	Usage string

	Examples []Example

	// Flags builds a fresh flag set bound to the command's params. It
	// is called on every parse and every help rendering, so it must
	// not carry state between calls. Nil means no flags.
	Flags func() *pflag.FlagSet

	Subcommands []*Command

	// Run receives the positional arguments left after flag parsing.
	// When a command has both Subcommands and Run, Run handles any
	// first argument that names no subcommand.
	Run func(ctx context.Context, args []string, logger *slog.Logger) error

	// HelpOutput receives help text. Subcommands inherit it from their
	// parent; os.Stderr is used when no ancestor sets it.
	HelpOutput io.Writer

	parent *Command
}

// Example is one annotated command line in help output.
type Example struct {
	Description string
	Command     string
}

// errSubcommandRequired is returned when a dispatching command is run
// without naming one of its subcommands.
var errSubcommandRequired = errors.New("subcommand required")

// Execute runs the command tree against args. A nil logger is
// replaced with [NewCommandLogger].
func (c *Command) Execute(ctx context.Context, args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = NewCommandLogger()
	}

	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(c.helpOutput())
		return nil
	}

	if len(c.Subcommands) > 0 {
		if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
			if sub := c.subcommand(args[0]); sub != nil {
				return sub.Execute(ctx, args[1:], logger)
			}
			if c.Run == nil {
				return c.unknownCommand(args[0])
			}
		} else if c.Run == nil {
			c.PrintHelp(c.helpOutput())
			if len(args) == 0 {
				return errSubcommandRequired
			}
			return fmt.Errorf("%w (got flag %q)", errSubcommandRequired, args[0])
		}
	}

	positional, err := c.parseFlags(args)
	if err != nil {
		return err
	}
	if c.Run == nil {
		c.PrintHelp(c.helpOutput())
		return fmt.Errorf("no action defined for %q", c.fullName())
	}
	return c.Run(ctx, positional, logger)
}

// subcommand returns the child named name, linked to c for help and
// error paths, or nil.
func (c *Command) subcommand(name string) *Command {
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			sub.parent = c
			return sub
		}
	}
	return nil
}

func (c *Command) unknownCommand(name string) error {
	if suggestion := suggestCommand(name, c.Subcommands); suggestion != "" {
		return c.usageError(fmt.Sprintf("unknown command %q (did you mean %q?)", name, suggestion))
	}
	return c.usageError(fmt.Sprintf("unknown command %q", name))
}

// parseFlags parses args against the command's flag set and returns
// the positional arguments. Parse errors carry a suggestion when the
// user mistyped a known flag.
func (c *Command) parseFlags(args []string) ([]string, error) {
	if c.Flags == nil {
		return args, nil
	}
	flagSet := c.Flags()
	flagSet.SetOutput(io.Discard)
	if err := flagSet.Parse(args); err != nil {
		message := err.Error()
		if strings.Contains(message, "unknown flag") || strings.Contains(message, "unknown shorthand flag") {
			// Suggest against an unparsed set; Parse may have
			// consumed state from this one.
			if suggestion := suggestFlag(args, c.Flags()); suggestion != "" {
				message += fmt.Sprintf(" (did you mean %s?)", suggestion)
			}
		}
		return nil, c.usageError(message)
	}
	return flagSet.Args(), nil
}

// usageError appends the pointer to --help that every argument error
// ends with.
func (c *Command) usageError(message string) error {
	return fmt.Errorf("%s\n\nRun '%s --help' for usage.", message, c.fullName())
}

func (c *Command) helpOutput() io.Writer {
	for command := c; command != nil; command = command.parent {
		if command.HelpOutput != nil {
			return command.HelpOutput
		}
	}
	return os.Stderr
}

// PrintHelp writes the command's help to w: description, usage,
// commands, flags, examples.
func (c *Command) PrintHelp(w io.Writer) {
	name := c.fullName()

	switch {
	case c.Description != "":
		fmt.Fprintf(w, "%s\n\n", c.Description)
	case c.Summary != "":
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	usage := c.Usage
	if usage == "" {
		usage = name + " [flags]"
		if len(c.Subcommands) > 0 {
			usage = name + " <command> [flags]"
		}
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", usage)

	if len(c.Subcommands) > 0 {
		fmt.Fprint(w, "\nCommands:\n")
		table := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(table, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		table.Flush()
	}

	if c.Flags != nil {
		if defaults := c.Flags().FlagUsages(); defaults != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", defaults)
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprint(w, "\nExamples:\n")
		for _, example := range c.Examples {
			if example.Description == "" {
				fmt.Fprintf(w, "  %s\n", example.Command)
				continue
			}
			fmt.Fprintf(w, "  # %s\n  %s\n\n", example.Description, example.Command)
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", name)
	}
}

// fullName is the command path from the root, e.g.
// "switchboard router price".
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func isHelpFlag(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	}
	return false
}
