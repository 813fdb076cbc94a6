// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/bureau-foundation/switchboard/lib/netutil"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/secret"
	"github.com/bureau-foundation/switchboard/lib/version"
)

// Headers set on every gateway request.
const (
	HeaderPrincipal      = "X-Switchboard-Principal"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// HTTPConfig configures an HTTP transport.
type HTTPConfig struct {
	// BaseURL is the gateway root, for example https://relay.example.org.
	BaseURL string

	// Client performs requests. Its Timeout is the only deadline the
	// transport applies. Nil uses http.DefaultClient.
	Client *http.Client

	// Principal identifies the caller to the gateway. Draft routers
	// are only reachable by their owner.
	Principal ref.Principal

	// Token, when set, is sent as a bearer credential.
	Token *secret.Buffer

	// Logger is optional.
	Logger *slog.Logger
}

// HTTP is a Transport that speaks to a relay gateway over HTTP.
type HTTP struct {
	baseURL   string
	client    *http.Client
	principal ref.Principal
	token     *secret.Buffer
	logger    *slog.Logger
}

// NewHTTP returns an HTTP transport for config.
func NewHTTP(config HTTPConfig) (*HTTP, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("transport: BaseURL is required")
	}
	client := config.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTP{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		client:    client,
		principal: config.Principal,
		token:     config.Token,
		logger:    logger,
	}, nil
}

// Do sends call and returns its envelope. Any HTTP status counts as a
// completed exchange; only failures to get a response are errors.
func (t *HTTP) Do(ctx context.Context, call Call) ([]byte, error) {
	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}
	request, err := http.NewRequestWithContext(ctx, call.Method, t.baseURL+call.Path, body)
	if err != nil {
		return nil, fmt.Errorf("transport: building request: %w", err)
	}
	request.Header.Set("Accept", EnvelopeMediaType+", application/json;q=0.9, */*;q=0.1")
	request.Header.Set("User-Agent", version.UserAgent())
	if call.Body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if call.IdempotencyKey != "" {
		request.Header.Set(HeaderIdempotencyKey, call.IdempotencyKey)
	}
	if !t.principal.IsZero() {
		request.Header.Set(HeaderPrincipal, t.principal.String())
	}
	if t.token != nil {
		request.Header.Set("Authorization", "Bearer "+t.token.String())
	}

	response, err := t.client.Do(request)
	if err != nil {
		t.logger.Warn("gateway exchange failed",
			"method", call.Method,
			"path", call.Path,
			"error", err,
		)
		return nil, &Error{Method: call.Method, Path: call.Path, Err: err}
	}
	defer response.Body.Close()

	payload, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, &Error{Method: call.Method, Path: call.Path, Err: fmt.Errorf("reading response: %w", err)}
	}

	mediaType, _, _ := mime.ParseMediaType(response.Header.Get("Content-Type"))
	if mediaType == EnvelopeMediaType {
		return payload, nil
	}
	return synthesize(response.StatusCode, payload), nil
}
