// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/digest"
	"github.com/bureau-foundation/switchboard/lib/money"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/sealed"
)

// Operations that can be targeted by Memory.FailNext.
const (
	OperationOpen    = "open"
	OperationConfirm = "confirm"
	OperationCancel  = "cancel"
)

// MemoryConfig configures a Memory ledger.
type MemoryConfig struct {
	// Clock stamps transactions. Required.
	Clock clock.Clock

	// Identity opens sealed credential updates. Without it the
	// credentials endpoint is unavailable.
	Identity *sealed.Identity

	Logger *slog.Logger
}

// Memory is an in-process ledger. The zero value is not usable; call
// NewMemory.
type Memory struct {
	clock    clock.Clock
	identity *sealed.Identity
	logger   *slog.Logger

	mu           sync.Mutex
	accounts     map[ref.Principal]*Account
	credentials  map[digest.Digest]ref.Principal
	credentialOf map[ref.Principal]digest.Digest
	transactions map[string]*Transaction
	resolutions  map[string]*Resolutions
	failures     map[string][]error
}

// Resolutions counts settlement requests for one transaction,
// including no-op requests on a settled transaction.
type Resolutions struct {
	Confirms int
	Cancels  int
}

// NewMemory returns an empty ledger.
func NewMemory(config MemoryConfig) (*Memory, error) {
	if config.Clock == nil {
		return nil, fmt.Errorf("ledger: Clock is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Memory{
		clock:        config.Clock,
		identity:     config.Identity,
		logger:       logger,
		accounts:     make(map[ref.Principal]*Account),
		credentials:  make(map[digest.Digest]ref.Principal),
		credentialOf: make(map[ref.Principal]digest.Digest),
		transactions: make(map[string]*Transaction),
		resolutions:  make(map[string]*Resolutions),
		failures:     make(map[string][]error),
	}, nil
}

// CreateAccount creates an empty account. Creating an existing
// account returns it unchanged.
func (m *Memory) CreateAccount(ctx context.Context, principal ref.Principal) (*Account, error) {
	if principal.IsZero() {
		return nil, fmt.Errorf("%w: principal is required", ErrInvalidRequest)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	account := m.accountLocked(principal)
	copied := *account
	return &copied, nil
}

// Deposit credits principal's balance, creating the account if
// needed.
func (m *Memory) Deposit(principal ref.Principal, amount money.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountLocked(principal).Balance += amount
}

// Balance returns principal's account.
func (m *Memory) Balance(ctx context.Context, principal ref.Principal) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, exists := m.accounts[principal]
	if !exists {
		return nil, fmt.Errorf("%w: no account for %s", ErrNotFound, principal)
	}
	copied := *account
	return &copied, nil
}

// SetCredential registers credential as principal's bearer secret,
// replacing any previous one.
func (m *Memory) SetCredential(principal ref.Principal, credential []byte) {
	fingerprint := digest.Token(credential)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountLocked(principal)
	if previous, exists := m.credentialOf[principal]; exists {
		delete(m.credentials, previous)
	}
	m.credentials[fingerprint] = principal
	m.credentialOf[principal] = fingerprint
}

// UpdateSealedCredential opens an age-sealed credential with the
// ledger's identity and registers it.
func (m *Memory) UpdateSealedCredential(principal ref.Principal, sealedCredential string) error {
	if m.identity == nil {
		return fmt.Errorf("%w: ledger has no identity for sealed credentials", ErrInvalidRequest)
	}
	credential, err := sealed.Open(sealedCredential, m.identity.Private)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	defer credential.Close()
	if credential.Len() == 0 {
		return fmt.Errorf("%w: empty credential", ErrInvalidRequest)
	}
	m.SetCredential(principal, credential.Bytes())
	return nil
}

// Authenticate resolves a bearer credential to its principal.
func (m *Memory) Authenticate(credential []byte) (ref.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	principal, exists := m.credentials[digest.Token(credential)]
	if !exists {
		return ref.Principal{}, &AuthError{Reason: "unknown credential"}
	}
	return principal, nil
}

// hasCredential reports whether principal has registered a credential.
func (m *Memory) hasCredential(principal ref.Principal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.credentialOf[principal]
	return exists
}

// As returns a Ledger acting for sender. A zero sender has no
// identity and every Open fails with *AuthError.
func (m *Memory) As(sender ref.Principal) Ledger {
	return &memorySession{memory: m, sender: sender}
}

// FailNext makes the next call to operation fail with err. Calls
// queue up in order.
func (m *Memory) FailNext(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[operation] = append(m.failures[operation], err)
}

// Transaction returns a snapshot of the transaction with token.
func (m *Memory) Transaction(token string) (Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	transaction, exists := m.transactions[token]
	if !exists {
		return Transaction{}, false
	}
	return *transaction, true
}

// Transactions returns snapshots of every transaction, oldest first.
func (m *Memory) Transactions() []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]Transaction, 0, len(m.transactions))
	for _, transaction := range m.transactions {
		all = append(all, *transaction)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	return all
}

// Resolutions returns the settlement request counts for token.
func (m *Memory) Resolutions(token string) Resolutions {
	m.mu.Lock()
	defer m.mu.Unlock()
	if counts, exists := m.resolutions[token]; exists {
		return *counts
	}
	return Resolutions{}
}

func (m *Memory) open(sender ref.Principal, request OpenRequest) (*Transaction, error) {
	if sender.IsZero() {
		return nil, &AuthError{Reason: "no ledger identity configured"}
	}
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injectedLocked(OperationOpen); err != nil {
		return nil, err
	}
	account, exists := m.accounts[sender]
	if !exists {
		return nil, &AuthError{Reason: fmt.Sprintf("%s has no ledger account", sender)}
	}
	if account.Balance < request.Amount {
		return nil, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, sender, account.Balance, request.Amount)
	}
	account.Balance -= request.Amount
	account.Held += request.Amount

	transaction := &Transaction{
		ID:        uuid.NewString(),
		Token:     newToken(),
		Sender:    sender,
		Recipient: request.Recipient,
		Amount:    request.Amount,
		Status:    StatusPending,
		Router:    request.Router,
		Service:   request.Service,
		CreatedAt: m.clock.Now(),
	}
	m.transactions[transaction.Token] = transaction
	m.resolutions[transaction.Token] = &Resolutions{}
	m.logger.Debug("transaction opened",
		"id", transaction.ID,
		"sender", sender,
		"amount", request.Amount.String(),
	)
	copied := *transaction
	return &copied, nil
}

func (m *Memory) settle(sender ref.Principal, token string, target Status) (*Ack, error) {
	operation := OperationConfirm
	if target == StatusCancelled {
		operation = OperationCancel
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	transaction, exists := m.transactions[token]
	if !exists {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, token)
	}
	if transaction.Sender != sender {
		return nil, &AuthError{Reason: fmt.Sprintf("%s did not open this transaction", sender)}
	}
	counts := m.resolutions[token]
	if target == StatusCompleted {
		counts.Confirms++
	} else {
		counts.Cancels++
	}
	if err := m.injectedLocked(operation); err != nil {
		return nil, err
	}
	if transaction.Status.Terminal() {
		return &Ack{Token: token, Status: transaction.Status, AlreadyTerminal: true}, nil
	}

	sending := m.accountLocked(transaction.Sender)
	sending.Held -= transaction.Amount
	if target == StatusCompleted {
		m.accountLocked(transaction.Recipient).Balance += transaction.Amount
	} else {
		sending.Balance += transaction.Amount
	}
	transaction.Status = target
	m.logger.Debug("transaction settled", "id", transaction.ID, "status", string(target))
	return &Ack{Token: token, Status: target}, nil
}

func (m *Memory) accountLocked(principal ref.Principal) *Account {
	account, exists := m.accounts[principal]
	if !exists {
		account = &Account{Principal: principal}
		m.accounts[principal] = account
	}
	return account
}

func (m *Memory) injectedLocked(operation string) error {
	queue := m.failures[operation]
	if len(queue) == 0 {
		return nil
	}
	m.failures[operation] = queue[1:]
	return queue[0]
}

func newToken() string {
	var token [24]byte
	rand.Read(token[:])
	return "txn_" + hex.EncodeToString(token[:])
}

type memorySession struct {
	memory *Memory
	sender ref.Principal
}

func (s *memorySession) Open(ctx context.Context, request OpenRequest) (*Transaction, error) {
	return s.memory.open(s.sender, request)
}

func (s *memorySession) Confirm(ctx context.Context, token string) (*Ack, error) {
	return s.memory.settle(s.sender, token, StatusCompleted)
}

func (s *memorySession) Cancel(ctx context.Context, token string) (*Ack, error) {
	return s.memory.settle(s.sender, token, StatusCancelled)
}
