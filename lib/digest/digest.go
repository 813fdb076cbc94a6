// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest computes domain-separated BLAKE3 digests.
//
// Call digests become the idempotency key of a call envelope, so a
// gateway can recognise a retransmitted call. Token digests are the
// fingerprints recorded in audit entries: they identify which access
// token authorized an action without storing the token itself.
package digest

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 keyed hash.
type Digest [32]byte

type domainKey [32]byte

// Domain keys are the ASCII domain name zero-padded to 32 bytes.
// Changing one changes every digest in that domain.
var (
	callDomainKey = domainKey{
		's', 'w', 'i', 't', 'c', 'h', 'b', 'o', 'a', 'r', 'd', '.', 'c', 'a', 'l', 'l',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	tokenDomainKey = domainKey{
		's', 'w', 'i', 't', 'c', 'h', 'b', 'o', 'a', 'r', 'd', '.', 't', 'o', 'k', 'e',
		'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// Call digests a call descriptor. Each field is length-prefixed so
// that moving bytes between fields always changes the digest.
func Call(method, path string, body []byte) Digest {
	hasher := newHasher(callDomainKey)
	writeField(hasher, []byte(method))
	writeField(hasher, []byte(path))
	writeField(hasher, body)
	return sum(hasher)
}

// Token digests a serialized access token.
func Token(token []byte) Digest {
	hasher := newHasher(tokenDomainKey)
	hasher.Write(token)
	return sum(hasher)
}

// String returns the full lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 16 hex characters, enough to tell tokens
// apart in logs and CLI output.
func (d Digest) Short() string {
	return d.String()[:16]
}

// IsZero reports whether d is the zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Parse parses a 64-character hex string.
func Parse(text string) (Digest, error) {
	var result Digest
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return result, fmt.Errorf("digest: parsing %q: %w", text, err)
	}
	if len(decoded) != len(result) {
		return result, fmt.Errorf("digest: %q decodes to %d bytes, want %d", text, len(decoded), len(result))
	}
	copy(result[:], decoded)
	return result, nil
}

func newHasher(key domainKey) *blake3.Hasher {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

func writeField(hasher *blake3.Hasher, field []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(field)))
	hasher.Write(length[:])
	hasher.Write(field)
}

func sum(hasher *blake3.Hasher) Digest {
	var result Digest
	copy(result[:], hasher.Sum(nil))
	return result
}
