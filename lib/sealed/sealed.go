// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/switchboard/lib/secret"
)

// Identity is an age X25519 key pair. The private half lives in a
// secret buffer; Recipient is the public key ("age1...") that senders
// seal to.
type Identity struct {
	Private   *secret.Buffer
	Recipient string
}

// Close releases the private key.
func (i *Identity) Close() error {
	if i.Private == nil {
		return nil
	}
	return i.Private.Close()
}

// GenerateIdentity creates a new key pair.
func GenerateIdentity() (*Identity, error) {
	generated, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}
	private, err := secret.NewFromBytes([]byte(generated.String()))
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting identity: %w", err)
	}
	return &Identity{Private: private, Recipient: generated.Recipient().String()}, nil
}

// Seal encrypts plaintext to recipientKey and returns standard base64
// ciphertext, ready to travel in a JSON string field.
func Seal(plaintext []byte, recipientKey string) (string, error) {
	recipient, err := age.ParseX25519Recipient(recipientKey)
	if err != nil {
		return "", fmt.Errorf("sealed: parsing recipient %q: %w", recipientKey, err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return "", fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("sealed: encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("sealed: finalizing: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Open decrypts ciphertext produced by Seal. The plaintext is returned
// in a secret buffer the caller must close. The identity is borrowed.
func Open(ciphertext string, identity *secret.Buffer) (*secret.Buffer, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing identity: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("sealed: decoding ciphertext: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(raw), parsed)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed: empty plaintext")
	}
	return secret.NewFromBytes(plaintext)
}

// ValidRecipient reports whether key parses as an age X25519 public
// key.
func ValidRecipient(key string) error {
	if _, err := age.ParseX25519Recipient(key); err != nil {
		return fmt.Errorf("sealed: invalid recipient key: %w", err)
	}
	return nil
}
