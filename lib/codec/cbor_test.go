// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type sampleGrant struct {
	Router    string    `cbor:"router"`
	Delegate  string    `cbor:"delegate,omitempty"`
	Version   int       `cbor:"version"`
	GrantedAt time.Time `cbor:"granted_at"`
}

func TestMarshalDeterministic(t *testing.T) {
	grant := sampleGrant{
		Router:    "owner@x.org/alpha",
		Delegate:  "d@x.org",
		Version:   3,
		GrantedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	first, err := Marshal(grant)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(grant)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("repeated Marshal produced different bytes")
		}
	}

	var decoded sampleGrant
	if err := Unmarshal(first, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.GrantedAt.Equal(grant.GrantedAt) || decoded.Router != grant.Router {
		t.Errorf("decoded = %+v, want %+v", decoded, grant)
	}
}

func TestMarshalMapKeyOrderIndependent(t *testing.T) {
	first := map[string]any{"chat": 1, "search": 2, "embed": 3}
	second := map[string]any{"embed": 3, "chat": 1, "search": 2}

	firstBytes, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	secondBytes, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Error("maps with equal contents encoded differently")
	}
}

func TestUnmarshalUntypedMapsUseStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": "value"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Errorf("nested type = %T, want map[string]any", outer["outer"])
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]any{"action": "update_pricing"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, `"update_pricing"`) {
		t.Errorf("Diagnose = %q, want it to mention the action", diagnostic)
	}
}
