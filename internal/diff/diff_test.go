package diff

import (
	"encoding/json"
	"testing"

	"github.com/haidar-ali/staterelay/internal/model"
)

// ---------------------------------------------------------------------------
// Round-trip: diff(D1, D2) applied to D1 reproduces D2 exactly
// ---------------------------------------------------------------------------

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		before string
		after  string
	}{
		{
			name:   "scalar replace",
			before: `{"title":"old","count":1}`,
			after:  `{"title":"new","count":1}`,
		},
		{
			name:   "nested add and remove",
			before: `{"tasks":{"t1":{"status":"todo"}},"columns":["todo"]}`,
			after:  `{"tasks":{"t1":{"status":"done"},"t2":{"status":"todo"}},"columns":["todo","done"]}`,
		},
		{
			name:   "array append",
			before: `{"messages":[{"role":"user","content":"hi"}]}`,
			after:  `{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`,
		},
		{
			name:   "from empty baseline",
			before: `{}`,
			after:  `{"id":"w-1","openFiles":[{"path":"main.go","line":10}]}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ops, err := Compute(json.RawMessage(tc.before), json.RawMessage(tc.after))
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}
			got, err := Apply(json.RawMessage(tc.before), ops)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !jsonEqual(t, got, json.RawMessage(tc.after)) {
				t.Errorf("round trip: got %s, want %s", got, tc.after)
			}
		})
	}
}

func TestCompute_IdenticalDocuments_EmptyDiff(t *testing.T) {
	doc := json.RawMessage(`{"a":1,"b":[1,2,3]}`)
	ops, err := Compute(doc, doc)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("diff of identical documents = %d ops, want 0", len(ops))
	}
}

func TestApply_EmptyOps_ReturnsCopy(t *testing.T) {
	doc := json.RawMessage(`{"a":1}`)
	out, err := Apply(doc, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	out[1] = 'X'
	if string(doc) != `{"a":1}` {
		t.Error("Apply with no ops aliased the input document")
	}
}

func TestApply_MissingPath_Fails(t *testing.T) {
	ops, err := Compute(json.RawMessage(`{"a":{"b":1}}`), json.RawMessage(`{"a":{"b":2}}`))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// Apply to a document missing the /a/b path.
	if _, err := Apply(json.RawMessage(`{"c":1}`), ops); err == nil {
		t.Error("Apply succeeded against a document missing the patched path")
	}
}

func TestApply_FailedTestOp_Fails(t *testing.T) {
	ops := []model.Operation{
		{Op: "test", Path: "/version", Value: json.RawMessage(`1`)},
		{Op: "replace", Path: "/version", Value: json.RawMessage(`2`)},
	}
	if _, err := Apply(json.RawMessage(`{"version":3}`), ops); err == nil {
		t.Error("Apply succeeded despite a failing test op")
	}
}

func TestApply_MalformedOp_Fails(t *testing.T) {
	ops := []model.Operation{{Op: "teleport", Path: "/x"}}
	if _, err := Apply(json.RawMessage(`{"x":1}`), ops); err == nil {
		t.Error("Apply accepted an unknown operation")
	}
}

// jsonEqual compares two documents structurally (key order independent).
func jsonEqual(t *testing.T, a, b json.RawMessage) bool {
	t.Helper()
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		t.Fatalf("unmarshal %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return string(ab) == string(bb)
}
