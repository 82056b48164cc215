package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChecksum_Deterministic(t *testing.T) {
	a := Checksum([]byte(`{"x":1}`))
	b := Checksum([]byte(`{"x":1}`))
	if a != b {
		t.Errorf("checksum not deterministic: %s != %s", a, b)
	}
	if a == Checksum([]byte(`{"x":2}`)) {
		t.Error("different payloads produced the same checksum")
	}
	if len(a) != 64 {
		t.Errorf("checksum length = %d, want 64 hex chars", len(a))
	}
}

func TestState_Clone_DoesNotAliasData(t *testing.T) {
	s := &State{
		ID:      "c-1",
		Type:    "conversation",
		Version: 3,
		Data:    json.RawMessage(`{"messages":[]}`),
	}
	cp := s.Clone()
	cp.Data[2] = 'X'
	if string(s.Data) != `{"messages":[]}` {
		t.Errorf("clone aliased original data: %s", s.Data)
	}
	if cp.Version != 3 || cp.Key() != "conversation:c-1" {
		t.Errorf("clone lost fields: %+v", cp)
	}
}

func TestParseStrategy(t *testing.T) {
	for _, valid := range []string{"immediate", "batch", "lazy"} {
		got, err := ParseStrategy(valid)
		if err != nil {
			t.Errorf("ParseStrategy(%q) error: %v", valid, err)
		}
		if string(got) != valid {
			t.Errorf("ParseStrategy(%q) = %q", valid, got)
		}
	}
	if _, err := ParseStrategy("eventually"); err == nil {
		t.Error("ParseStrategy accepted an unknown strategy")
	}
}

func TestOperation_WireFormat(t *testing.T) {
	// The marshalled form is the wire contract: remove must carry no value,
	// move must carry from.
	ops := []Operation{
		{Op: "replace", Path: "/title", Value: json.RawMessage(`"new"`)},
		{Op: "remove", Path: "/stale"},
		{Op: "move", Path: "/b", From: "/a"},
	}
	b, err := json.Marshal(ops)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[{"op":"replace","path":"/title","value":"new"},{"op":"remove","path":"/stale"},{"op":"move","path":"/b","from":"/a"}]`
	if string(b) != want {
		t.Errorf("wire form = %s\nwant        %s", b, want)
	}
}

func TestPatch_WireSize(t *testing.T) {
	p := &Patch{
		ID:         "p-1",
		EntityID:   "c-1",
		EntityType: "conversation",
		ToVersion:  2,
		Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Source:     SourceLocal,
	}
	if p.WireSize() == 0 {
		t.Error("WireSize = 0 for a marshallable patch")
	}
}
