// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package accesstoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/switchboard/lib/secret"
)

// SeedSize is the required length of a signing seed.
const SeedSize = 32

// keyDerivationInfo binds derived keys to this use. Changing it
// invalidates every outstanding token.
var keyDerivationInfo = []byte("switchboard delegate access token signing v1")

// Signer holds the Ed25519 key pair tokens are signed with.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewSigner derives a signing key from seed. The seed buffer is not
// retained; the caller may close it after NewSigner returns.
func NewSigner(seed *secret.Buffer) (*Signer, error) {
	if seed.Len() != SeedSize {
		return nil, fmt.Errorf("accesstoken: signing seed is %d bytes, want %d", seed.Len(), SeedSize)
	}

	derived := make([]byte, ed25519.SeedSize)
	defer secret.Zero(derived)
	reader := hkdf.New(sha256.New, seed.Bytes(), nil, keyDerivationInfo)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("accesstoken: deriving signing key: %w", err)
	}

	privateKey := ed25519.NewKeyFromSeed(derived)
	return &Signer{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
	}, nil
}

// GenerateSeed returns a fresh random seed in a secret buffer.
func GenerateSeed() (*secret.Buffer, error) {
	seed, err := secret.New(SeedSize)
	if err != nil {
		return nil, err
	}
	if _, err := rand.Read(seed.Bytes()); err != nil {
		seed.Close()
		return nil, fmt.Errorf("accesstoken: generating seed: %w", err)
	}
	return seed, nil
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.publicKey }
