// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/bureau-foundation/switchboard/lib/secret"
)

// ReadSecret reads a secret for a command. A non-empty path other than
// "-" is read as a file with surrounding whitespace trimmed. Otherwise
// the secret comes from stdin: prompted for with echo disabled when
// stdin is a terminal, read as a single line when it is piped.
func ReadSecret(path, prompt string, stdin *os.File, stderr io.Writer) (*secret.Buffer, error) {
	if path != "" && path != "-" {
		return secret.ReadFile(path)
	}

	stdinFd := int(stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading %s from stdin: %w", prompt, err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil, fmt.Errorf("%s is empty", prompt)
		}
		return secret.NewFromBytes([]byte(line))
	}

	fmt.Fprintf(stderr, "%s: ", prompt)
	data, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(stderr)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", prompt, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", prompt)
	}
	buffer, err := secret.NewFromBytes(data)
	if err != nil {
		secret.Zero(data)
		return nil, err
	}
	return buffer, nil
}
