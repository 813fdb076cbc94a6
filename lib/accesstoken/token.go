// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package accesstoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/ref"
)

const signatureSize = ed25519.SignatureSize

// Token is the signed payload of a delegate access token.
type Token struct {
	// ID uniquely identifies this token. The router's grant record
	// stores it; a token whose ID differs from the active grant's is
	// stale even if its signature verifies.
	ID string `cbor:"1,keyasint"`

	// Subject is the delegate the token was issued to.
	Subject ref.Principal `cbor:"2,keyasint"`

	// Router is the router the delegation covers.
	Router ref.Router `cbor:"3,keyasint"`

	// Capabilities are the capability tags granted, for example
	// "pricing-control".
	Capabilities []string `cbor:"4,keyasint"`

	// IssuedAt and ExpiresAt are Unix seconds.
	IssuedAt  int64 `cbor:"5,keyasint"`
	ExpiresAt int64 `cbor:"6,keyasint"`
}

// Errors returned by Verify.
var (
	ErrMalformed        = errors.New("accesstoken: malformed token")
	ErrInvalidSignature = errors.New("accesstoken: invalid signature")
	ErrExpired          = errors.New("accesstoken: token has expired")
	ErrRevoked          = errors.New("accesstoken: token has been revoked")
)

// NewID returns a random 128-bit token ID in hex.
func NewID() string {
	var id [16]byte
	rand.Read(id[:])
	return hex.EncodeToString(id[:])
}

// Allows reports whether the token carries capability.
func (t *Token) Allows(capability string) bool {
	return slices.Contains(t.Capabilities, capability)
}

// Mint signs token and returns its text form.
func (s *Signer) Mint(token *Token) (string, error) {
	if token.ID == "" {
		return "", fmt.Errorf("accesstoken: token ID is required")
	}
	payload, err := codec.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("accesstoken: encoding payload: %w", err)
	}
	signed := append(payload, ed25519.Sign(s.privateKey, payload)...)
	return base64.RawURLEncoding.EncodeToString(signed), nil
}

// Verify checks the signature and expiry of text at now and returns
// the decoded token. If blacklist is non-nil, revoked token IDs are
// rejected with ErrRevoked.
func (s *Signer) Verify(text string, now time.Time, blacklist *Blacklist) (*Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) <= signatureSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a signature", ErrMalformed, len(raw))
	}

	payload := raw[:len(raw)-signatureSize]
	signature := raw[len(raw)-signatureSize:]
	if !ed25519.Verify(s.publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("%w: decoding payload: %v", ErrMalformed, err)
	}
	if now.Unix() >= token.ExpiresAt {
		return nil, ErrExpired
	}
	if blacklist != nil && blacklist.IsRevoked(token.ID) {
		return nil, ErrRevoked
	}
	return &token, nil
}
