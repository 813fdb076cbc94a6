// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/switchboard/lib/netutil"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/lib/secret"
	"github.com/bureau-foundation/switchboard/lib/version"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the ledger service root. Required.
	BaseURL string

	// HTTPClient performs requests; its timeout is the only one the
	// client applies. Nil uses http.DefaultClient.
	HTTPClient *http.Client

	// Identity is the caller's bearer credential. Nil means the caller
	// has no ledger identity: Open fails with *AuthError without
	// contacting the ledger.
	Identity *secret.Buffer

	// RecipientKey is the ledger's age public key, required only for
	// UpdateCredentials.
	RecipientKey string

	Logger *slog.Logger
}

// Client talks to the ledger service over HTTP. It is safe for
// concurrent use.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	identity     *secret.Buffer
	recipientKey string
	logger       *slog.Logger
}

// NewClient returns a Client for config.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("ledger: BaseURL is required")
	}
	if config.RecipientKey != "" {
		if err := sealed.ValidRecipient(config.RecipientKey); err != nil {
			return nil, fmt.Errorf("ledger: recipient key: %w", err)
		}
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		httpClient:   httpClient,
		identity:     config.Identity,
		recipientKey: config.RecipientKey,
		logger:       logger,
	}, nil
}

// CreateAccount creates an empty account for principal.
func (c *Client) CreateAccount(ctx context.Context, principal ref.Principal) (*Account, error) {
	var account Account
	request := struct {
		Principal ref.Principal `json:"principal"`
	}{principal}
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", nil, request, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdateCredentials seals credential to the ledger's key and installs
// it as principal's bearer secret. Replacing an existing credential
// authenticates with the client's current identity.
func (c *Client) UpdateCredentials(ctx context.Context, principal ref.Principal, credential *secret.Buffer) error {
	if c.recipientKey == "" {
		return errors.New("ledger: updating credentials requires the ledger recipient key")
	}
	sealedCredential, err := sealed.Seal(credential.Bytes(), c.recipientKey)
	if err != nil {
		return fmt.Errorf("ledger: sealing credential: %w", err)
	}
	request := struct {
		Sealed string `json:"sealed"`
	}{sealedCredential}
	path := "/v1/accounts/" + url.PathEscape(principal.String()) + "/credentials"
	return c.do(ctx, http.MethodPut, path, c.identity, request, nil)
}

// Balance returns principal's account. Only the principal itself may
// read it.
func (c *Client) Balance(ctx context.Context, principal ref.Principal) (*Account, error) {
	if c.identity == nil {
		return nil, &AuthError{Reason: "no ledger identity configured"}
	}
	var account Account
	path := "/v1/accounts/" + url.PathEscape(principal.String()) + "/balance"
	if err := c.do(ctx, http.MethodGet, path, c.identity, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Open implements Ledger.
func (c *Client) Open(ctx context.Context, request OpenRequest) (*Transaction, error) {
	if c.identity == nil {
		return nil, &AuthError{Reason: "no ledger identity configured"}
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}
	var transaction Transaction
	if err := c.do(ctx, http.MethodPost, "/v1/transactions", c.identity, request, &transaction); err != nil {
		return nil, err
	}
	return &transaction, nil
}

// Confirm implements Ledger.
func (c *Client) Confirm(ctx context.Context, token string) (*Ack, error) {
	return c.settle(ctx, token, "confirm")
}

// Cancel implements Ledger.
func (c *Client) Cancel(ctx context.Context, token string) (*Ack, error) {
	return c.settle(ctx, token, "cancel")
}

func (c *Client) settle(ctx context.Context, token, operation string) (*Ack, error) {
	if c.identity == nil {
		return nil, &AuthError{Reason: "no ledger identity configured"}
	}
	var ack Ack
	path := "/v1/transactions/" + url.PathEscape(token) + "/" + operation
	err := c.do(ctx, http.MethodPost, path, c.identity, nil, &ack)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict && apiErr.Code == CodeAlreadyTerminal {
		c.logger.Debug("transaction already settled",
			"token", token,
			"operation", operation,
			"status", string(apiErr.Status),
		)
		return &Ack{Token: token, Status: apiErr.Status, AlreadyTerminal: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if ack.Token == "" {
		ack.Token = token
	}
	return &ack, nil
}

// do performs one request. A non-2xx response becomes *APIError (or
// *AuthError for 401/403); connection failures are wrapped with the
// method and path.
func (c *Client) do(ctx context.Context, method, path string, credential *secret.Buffer, requestBody, responseBody any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("ledger: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("ledger: creating request: %w", err)
	}
	request.Header.Set("User-Agent", version.UserAgent())
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if credential != nil {
		request.Header.Set("Authorization", "Bearer "+credential.String())
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("ledger: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	payload, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return fmt.Errorf("ledger: reading response: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		if responseBody == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, responseBody); err != nil {
			return fmt.Errorf("ledger: decoding %s %s response: %w", method, path, err)
		}
		return nil
	}

	apiErr := &APIError{StatusCode: response.StatusCode}
	if jsonErr := json.Unmarshal(payload, apiErr); jsonErr != nil || apiErr.Code == "" {
		apiErr.Code = CodeInternal
		apiErr.Message = netutil.Excerpt(payload)
	}
	if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden {
		return &AuthError{Reason: apiErr.Message}
	}
	return apiErr
}
