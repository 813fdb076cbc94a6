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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/delegation"
	"github.com/bureau-foundation/switchboard/envelope"
	"github.com/bureau-foundation/switchboard/ledger"
	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/compress"
	"github.com/bureau-foundation/switchboard/lib/httpserver"
	"github.com/bureau-foundation/switchboard/lib/money"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/registry"
	"github.com/bureau-foundation/switchboard/store"
	"github.com/bureau-foundation/switchboard/transport"
)

const (
	owner    = "owner@x.org"
	caller   = "caller@x.org"
	delegate = "d@x.org"
	alpha    = "owner@x.org/alpha"
	chat     = "owner@x.org/alpha/chat"
)

// fakeGateway answers each request with the next queued envelope and
// records what it was sent.
type fakeGateway struct {
	mu        sync.Mutex
	responses [][]byte
	requests  []recordedRequest
}

type recordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

func (g *fakeGateway) queue(responses ...[]byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses = append(g.responses, responses...)
}

func (g *fakeGateway) recorded() []recordedRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]recordedRequest(nil), g.requests...)
}

func (g *fakeGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses = nil
	g.requests = nil
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	g.mu.Lock()
	g.requests = append(g.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
	response := envelope.MustBuild(http.StatusInternalServerError, "no response queued")
	if len(g.responses) > 0 {
		response = g.responses[0]
		g.responses = g.responses[1:]
	}
	g.mu.Unlock()

	w.Header().Set("Content-Type", transport.EnvelopeMediaType)
	w.Write(response)
}

type harness struct {
	t          *testing.T
	dir        string
	configPath string
	gateway    *fakeGateway
	ledger     *ledger.Memory
	stdout     bytes.Buffer
	stderr     bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	memory, err := ledger.NewMemory(ledger.MemoryConfig{Clock: clock.Real()})
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	ledgerServer := httptest.NewServer(memory.Handler())
	t.Cleanup(ledgerServer.Close)

	gateway := &fakeGateway{}
	gatewayServer := httptest.NewServer(gateway)
	t.Cleanup(gatewayServer.Close)

	credential := []byte("caller-ledger-credential")
	memory.SetCredential(ref.MustParsePrincipal(caller), credential)
	memory.Deposit(ref.MustParsePrincipal(caller), money.MustParse("1"))
	identityFile := filepath.Join(dir, "ledger.identity")
	if err := os.WriteFile(identityFile, credential, 0o600); err != nil {
		t.Fatalf("writing identity file: %v", err)
	}

	configPath := filepath.Join(dir, "switchboard.yaml")
	configText := fmt.Sprintf(`principal: %s
gateway:
  url: %s
ledger:
  url: %s
  identity_file: %s
poll:
  interval: 1ms
  max_attempts: 5
storage:
  path: %s
delegation:
  rate_limit: 100
  rate_burst: 100
`, caller, gatewayServer.URL, ledgerServer.URL, identityFile, filepath.Join(dir, "state", "switchboard.db"))
	if err := os.WriteFile(configPath, []byte(configText), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	return &harness{
		t:          t,
		dir:        dir,
		configPath: configPath,
		gateway:    gateway,
		ledger:     memory,
	}
}

// run executes the command tree with args and returns stdout.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	h.stdout.Reset()
	h.stderr.Reset()
	env := &Environment{Stdout: &h.stdout, Stderr: &h.stderr, Clock: clock.Real()}
	args = append(args, "--config", h.configPath)
	err := Root(env).Execute(context.Background(), args, slog.New(slog.DiscardHandler))
	return h.stdout.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	output, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("switchboard %s: %v\nstderr: %s", strings.Join(args, " "), err, h.stderr.String())
	}
	return output
}

func (h *harness) balance(principal string) money.Amount {
	h.t.Helper()
	account, err := h.ledger.Balance(context.Background(), ref.MustParsePrincipal(principal))
	if err != nil {
		h.t.Fatalf("Balance(%s): %v", principal, err)
	}
	return account.Balance
}

func (h *harness) auditCount() int {
	h.t.Helper()
	output := h.mustRun("delegate", "audit", alpha, "--as", owner, "--json")
	var records []json.RawMessage
	if err := json.Unmarshal([]byte(output), &records); err != nil {
		h.t.Fatalf("decoding audit output %q: %v", output, err)
	}
	return len(records)
}

// showAlpha returns alpha as principal sees it.
func (h *harness) showAlpha(principal string) registry.Router {
	h.t.Helper()
	output := h.mustRun("router", "show", alpha, "--as", principal, "--json")
	var router registry.Router
	if err := json.Unmarshal([]byte(output), &router); err != nil {
		h.t.Fatalf("decoding router %q: %v", output, err)
	}
	return router
}

func (h *harness) servicePrice(principal, serviceType string) money.Amount {
	h.t.Helper()
	router := h.showAlpha(principal)
	service, found := router.Service(serviceType)
	if !found {
		h.t.Fatalf("alpha has no %s service", serviceType)
	}
	return service.UnitPrice
}

// decodedCall reads callOutput back with the body left raw.
type decodedCall struct {
	callOutput
	Body json.RawMessage `json:"body"`
}

// publishAlpha creates owner@x.org/alpha with chat at 0.05 and
// publishes it.
func (h *harness) publishAlpha() {
	h.t.Helper()
	h.mustRun("router", "create", alpha, "--service", "chat=0.05", "--publish", "--as", owner)
}

func TestCallPollsAndConfirms(t *testing.T) {
	h := newHarness(t)
	h.publishAlpha()

	h.gateway.queue(
		envelope.MustBuild(http.StatusAccepted, map[string]string{"poll_handle": "h-1"}),
		envelope.MustBuild(http.StatusAccepted, map[string]string{"poll_handle": "h-1"}),
		envelope.MustBuild(http.StatusOK, map[string]string{"answer": "hello back"}),
	)

	output, err := h.run("call", chat, "--payload", `{"prompt":"hello"}`, "--json")
	if err != nil {
		t.Fatalf("call: %v\nstderr: %s", err, h.stderr.String())
	}

	var result decodedCall
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Fatalf("decoding call output %q: %v", output, err)
	}
	if !result.OK {
		t.Errorf("OK = false, error %q", result.Error)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	if result.Billing != "confirmed" {
		t.Errorf("Billing = %q, want confirmed", result.Billing)
	}
	if result.Price != money.MustParse("0.05") {
		t.Errorf("Price = %s, want 0.05", result.Price)
	}
	if !strings.Contains(string(result.Body), "hello back") {
		t.Errorf("Body = %s, want the 200 body", result.Body)
	}

	requests := h.gateway.recorded()
	if len(requests) != 3 {
		t.Fatalf("gateway saw %d requests, want 3", len(requests))
	}
	if requests[0].Method != http.MethodPost {
		t.Errorf("dispatch method = %s, want POST", requests[0].Method)
	}
	for _, poll := range requests[1:] {
		if poll.Method != http.MethodGet || poll.Path != envelope.PollPathPrefix+"h-1" {
			t.Errorf("poll = %s %s, want GET %sh-1", poll.Method, poll.Path, envelope.PollPathPrefix)
		}
	}
	var dispatched map[string]any
	if err := json.Unmarshal(requests[0].Body, &dispatched); err != nil {
		t.Fatalf("decoding dispatched payload: %v", err)
	}
	if dispatched["prompt"] != "hello" {
		t.Errorf("dispatched prompt = %v, want hello", dispatched["prompt"])
	}
	token, _ := dispatched["transaction_token"].(string)
	if token == "" || token != result.Transaction {
		t.Errorf("transaction_token = %q, want the opened transaction %q", token, result.Transaction)
	}

	resolutions := h.ledger.Resolutions(result.Transaction)
	if resolutions.Confirms != 1 || resolutions.Cancels != 0 {
		t.Errorf("resolutions = %+v, want exactly one confirm", resolutions)
	}
	if got := h.balance(caller); got != money.MustParse("0.95") {
		t.Errorf("caller balance = %s, want 0.95", got)
	}
	if got := h.balance(owner); got != money.MustParse("0.05") {
		t.Errorf("owner balance = %s, want 0.05", got)
	}
}

func TestCallFailureCancels(t *testing.T) {
	h := newHarness(t)
	h.publishAlpha()

	h.gateway.queue(
		envelope.MustBuild(http.StatusAccepted, map[string]string{"poll_handle": "h-2"}),
		envelope.MustBuild(http.StatusInternalServerError, "upstream model unavailable"),
	)

	_, err := h.run("call", chat)
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Fatalf("call error = %v, want exit code 1", err)
	}
	if !strings.Contains(h.stderr.String(), "upstream model unavailable") {
		t.Errorf("stderr = %q, want the failure body", h.stderr.String())
	}

	transactions := h.ledger.Transactions()
	if len(transactions) != 1 {
		t.Fatalf("ledger has %d transactions, want 1", len(transactions))
	}
	if transactions[0].Status != ledger.StatusCancelled {
		t.Errorf("transaction status = %s, want cancelled", transactions[0].Status)
	}
	if resolutions := h.ledger.Resolutions(transactions[0].Token); resolutions.Cancels != 1 || resolutions.Confirms != 0 {
		t.Errorf("resolutions = %+v, want exactly one cancel", resolutions)
	}
	if got := h.balance(caller); got != money.MustParse("1") {
		t.Errorf("caller balance = %s, want the full refund", got)
	}
	if requests := h.gateway.recorded(); len(requests) != 2 {
		t.Errorf("gateway saw %d requests, want dispatch and one poll", len(requests))
	}
}

func TestFreeServiceSkipsLedger(t *testing.T) {
	h := newHarness(t)
	h.mustRun("router", "create", alpha, "--service", "chat=0", "--publish", "--as", owner)

	h.gateway.queue(envelope.MustBuild(http.StatusOK, "plain answer"))
	output := h.mustRun("call", chat)
	if strings.TrimSpace(output) != "plain answer" {
		t.Errorf("stdout = %q, want the plain body", output)
	}
	if transactions := h.ledger.Transactions(); len(transactions) != 0 {
		t.Errorf("free call opened %d transactions", len(transactions))
	}
	var dispatched map[string]any
	if err := json.Unmarshal(h.gateway.recorded()[0].Body, &dispatched); err != nil {
		t.Fatalf("decoding dispatched payload: %v", err)
	}
	if _, present := dispatched["transaction_token"]; present {
		t.Error("free call carried a transaction_token")
	}
}

func TestDelegatedPricingAndRevocation(t *testing.T) {
	h := newHarness(t)
	h.publishAlpha()

	// Granting before the delegate opts in is refused.
	if _, err := h.run("delegate", "grant", alpha, delegate, "--as", owner); !errors.Is(err, delegation.ErrNotOptedIn) {
		t.Fatalf("grant before opt-in: error = %v, want ErrNotOptedIn", err)
	}

	h.mustRun("delegate", "opt-in", "--as", delegate)
	eligible := h.mustRun("delegate", "eligible", alpha, "--as", owner)
	if !strings.Contains(eligible, delegate) {
		t.Errorf("eligible = %q, want %s listed", eligible, delegate)
	}

	granted := h.mustRun("delegate", "grant", alpha, delegate, "--as", owner)
	if !strings.Contains(granted, "granted") {
		t.Errorf("grant output = %q", granted)
	}
	status := h.mustRun("delegate", "status", "--as", delegate)
	if !strings.Contains(status, alpha) {
		t.Errorf("status = %q, want %s listed", status, alpha)
	}

	// The owner cannot read the delegate's token.
	if _, err := h.run("delegate", "token", alpha, "--as", owner); err == nil {
		t.Error("owner read the delegate's access token")
	}
	token := strings.TrimSpace(h.mustRun("delegate", "token", alpha, "--as", delegate))
	if token == "" {
		t.Fatal("delegate token is empty")
	}
	tokenFile := filepath.Join(h.dir, "alpha.token")
	if err := os.WriteFile(tokenFile, []byte(token+"\n"), 0o600); err != nil {
		t.Fatalf("writing token file: %v", err)
	}

	h.mustRun("delegate", "apply", alpha, "--set", "chat=0.10", "--reason", "demand", "--as", delegate)
	if count := h.auditCount(); count != 1 {
		t.Fatalf("audit entries after apply = %d, want 1", count)
	}
	if audit := h.mustRun("delegate", "audit", alpha, "--as", delegate); !strings.Contains(audit, "chat 0.05->0.1") {
		t.Errorf("audit = %q, want the chat change", audit)
	}

	h.gateway.queue(envelope.MustBuild(http.StatusOK, map[string]string{"answer": "priced"}))
	output := h.mustRun("call", chat, "--json")
	var result decodedCall
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		t.Fatalf("decoding call output: %v", err)
	}
	if result.Price != money.MustParse("0.10") {
		t.Errorf("call billed %s, want 0.10", result.Price)
	}
	if got := h.balance(caller); got != money.MustParse("0.90") {
		t.Errorf("caller balance = %s, want 0.90", got)
	}

	h.mustRun("delegate", "revoke", alpha, "--as", owner)
	status = h.mustRun("delegate", "status", "--as", delegate)
	if !strings.Contains(status, "is not a delegate") {
		t.Errorf("status after revoke = %q", status)
	}

	// Replay the accepted action with the former delegate's token.
	_, err := h.run("delegate", "apply", alpha, "--set", "chat=0.10", "--reason", "demand", "--token-file", tokenFile, "--as", delegate)
	var authErr *delegation.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("apply after revoke: error = %v, want AuthorizationError", err)
	}
	if count := h.auditCount(); count != 1 {
		t.Errorf("audit entries after rejected apply = %d, want 1", count)
	}
	if price := h.servicePrice(owner, "chat"); price != money.MustParse("0.10") {
		t.Errorf("chat price after rejected apply = %s, want 0.1", price)
	}
}

func TestLargeAuditEntriesAreCompressed(t *testing.T) {
	h := newHarness(t)
	services := []string{"translation-standard", "translation-premium", "transcription-standard", "transcription-premium", "summarization"}
	args := []string{"router", "create", alpha, "--publish", "--as", owner}
	set := []string{"delegate", "apply", alpha, "--reason", "quarterly repricing", "--as", delegate}
	for _, service := range services {
		args = append(args, "--service", service+"=0.05")
		set = append(set, "--set", service+"=0.07")
	}
	h.mustRun(args...)
	h.mustRun("delegate", "opt-in", "--as", delegate)
	h.mustRun("delegate", "grant", alpha, delegate, "--as", owner)
	h.mustRun(set...)

	output := h.mustRun("delegate", "audit", alpha, "--as", owner, "--json")
	var records []auditRecord
	if err := json.Unmarshal([]byte(output), &records); err != nil {
		t.Fatalf("decoding audit output: %v", err)
	}
	if len(records) != 1 || len(records[0].Changes) != len(services) {
		t.Fatalf("audit records = %+v, want one entry with %d changes", records, len(services))
	}
	for i, change := range records[0].Changes {
		if change.OldPrice != money.MustParse("0.05") || change.NewPrice != money.MustParse("0.07") {
			t.Errorf("change %d = %+v", i, change)
		}
	}

	st, err := store.Open(store.Config{
		Path:   filepath.Join(h.dir, "state", "switchboard.db"),
		Clock:  clock.Real(),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer st.Close()
	var stored []byte
	err = st.Read(context.Background(), func(conn *sqlite.Conn) error {
		return store.Exec(conn, "SELECT payload FROM audit_log", func(stmt *sqlite.Stmt) error {
			stored = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, stored)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("reading stored payload: %v", err)
	}
	if len(stored) == 0 || compress.Tag(stored[0]) != compress.Zstd {
		t.Errorf("stored payload is not zstd-compressed: % x", stored)
	}
}

func TestRouterCommands(t *testing.T) {
	h := newHarness(t)
	h.mustRun("router", "create", alpha, "--service", "chat=0.05", "--service", "search=0", "--as", owner)

	// Drafts are invisible to everyone but the owner.
	if _, err := h.run("router", "show", alpha); err == nil {
		t.Error("caller could see a draft router")
	}
	h.gateway.queue(envelope.MustBuild(http.StatusOK, "unreachable"))
	if _, err := h.run("call", chat); err == nil {
		t.Error("call to a draft router succeeded")
	}
	if requests := h.gateway.recorded(); len(requests) != 0 {
		t.Errorf("call to a draft router reached the gateway %d times", len(requests))
	}
	h.gateway.reset()

	listed := h.mustRun("router", "list", "--as", owner)
	if !strings.Contains(listed, alpha) || !strings.Contains(listed, "draft") || !strings.Contains(listed, "chat,search") {
		t.Errorf("list = %q", listed)
	}

	sheet := filepath.Join(h.dir, "spring.jsonc")
	sheetText := `{
  // spring pricing
  "reason": "spring",
  "services": {
    "search": {"price": "0.02"},
  },
}`
	if err := os.WriteFile(sheet, []byte(sheetText), 0o600); err != nil {
		t.Fatalf("writing sheet: %v", err)
	}
	changed := h.mustRun("router", "price", alpha, "--sheet", sheet, "--as", owner)
	if !strings.Contains(changed, "search") || !strings.Contains(changed, "0.02") {
		t.Errorf("price output = %q", changed)
	}

	if _, err := h.run("router", "price", alpha, "--set", "chat=0.2", "--as", caller); err == nil {
		t.Error("non-owner changed prices")
	}
	if _, err := h.run("router", "price", alpha, "--as", owner); err == nil {
		t.Error("price without --sheet or --set succeeded")
	}

	h.mustRun("router", "publish", alpha, "--as", owner)
	shown := h.showAlpha(caller)
	if !shown.Published {
		t.Error("router is not published after publish")
	}
	if price := h.servicePrice(caller, "search"); price != money.MustParse("0.02") {
		t.Errorf("search price = %s, want 0.02", price)
	}

	h.mustRun("router", "delete", alpha, "--as", owner)
	if _, err := h.run("router", "show", alpha, "--as", owner); err == nil {
		t.Error("deleted router is still shown")
	}
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)
	output := h.mustRun("version")
	if !strings.HasPrefix(output, "switchboard ") {
		t.Errorf("version = %q", output)
	}
}

func TestServe(t *testing.T) {
	h := newHarness(t)
	h.publishAlpha()

	cfg, err := Global{Config: h.configPath}.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	cfg.Service.ListenAddress = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan *httpserver.Server, 1)
	done := make(chan error, 1)
	env := &Environment{Stdout: io.Discard, Stderr: io.Discard, Clock: clock.Real()}
	go func() {
		done <- runServe(ctx, env, cfg, slog.New(slog.DiscardHandler), ready)
	}()

	var server *httpserver.Server
	select {
	case server = <-ready:
	case err := <-done:
		t.Fatalf("runServe returned before listening: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}
	base := "http://" + server.Addr().String()

	request, err := http.NewRequest(http.MethodGet, base+"/v1/routers/owner@x.org/alpha", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	request.Header.Set(transport.HeaderPrincipal, caller)
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("GET router: %v", err)
	}
	body, _ := io.ReadAll(response.Body)
	response.Body.Close()
	if response.StatusCode != http.StatusOK || !strings.Contains(string(body), "chat") {
		t.Errorf("GET router = %d %s", response.StatusCode, body)
	}

	response, err = http.Get(base + cfg.Service.MetricsPath)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Errorf("GET metrics = %d", response.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
