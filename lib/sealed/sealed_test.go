// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"strings"
	"testing"
)

func TestSealOpen(t *testing.T) {
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer identity.Close()

	if !strings.HasPrefix(identity.Recipient, "age1") {
		t.Errorf("Recipient = %q, want age1 prefix", identity.Recipient)
	}
	if err := ValidRecipient(identity.Recipient); err != nil {
		t.Errorf("ValidRecipient: %v", err)
	}

	ciphertext, err := Seal([]byte("new-ledger-credential"), identity.Recipient)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(ciphertext, "new-ledger-credential") {
		t.Fatal("ciphertext contains the plaintext")
	}

	plaintext, err := Open(ciphertext, identity.Private)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer plaintext.Close()
	if plaintext.String() != "new-ledger-credential" {
		t.Errorf("Open = %q", plaintext.String())
	}
}

func TestOpenWithWrongIdentity(t *testing.T) {
	sender, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer sender.Close()
	other, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer other.Close()

	ciphertext, err := Seal([]byte("credential"), sender.Recipient)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(ciphertext, other.Private); err == nil {
		t.Fatal("Open with the wrong identity succeeded")
	}
}

func TestSealRejectsBadRecipient(t *testing.T) {
	if _, err := Seal([]byte("x"), "not-a-key"); err == nil {
		t.Fatal("Seal accepted an invalid recipient")
	}
	if err := ValidRecipient("age1invalid"); err == nil {
		t.Fatal("ValidRecipient accepted an invalid key")
	}
}
