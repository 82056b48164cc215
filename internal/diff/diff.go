// Package diff generates and applies RFC 6902 structural patches over entity
// payloads.
//
// Generation and application are deliberately backed by general-purpose
// libraries (wI2L/jsondiff and evanphx/json-patch) rather than a hand-built
// implementation: the operation list is a wire contract between independently
// implemented peers, so the addressing and operation semantics must match the
// RFC bit-for-bit.
package diff

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"

	"github.com/haidar-ali/staterelay/internal/model"
)

// EmptyDocument is the baseline used when materializing an entity that has no
// local state yet.
var EmptyDocument = json.RawMessage(`{}`)

// Compute returns the minimal edit list transforming before into after. An
// empty result means the documents are structurally identical.
func Compute(before, after json.RawMessage) ([]model.Operation, error) {
	patch, err := jsondiff.CompareJSON(before, after, jsondiff.Factorize())
	if err != nil {
		return nil, fmt.Errorf("computing structural diff: %w", err)
	}
	if len(patch) == 0 {
		return nil, nil
	}

	// jsondiff's Patch marshals to exact RFC 6902 JSON, which is also the
	// wire form of model.Operation. Round-trip through that form so the two
	// types can never drift apart silently.
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encoding diff operations: %w", err)
	}
	var ops []model.Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("decoding diff operations: %w", err)
	}
	return ops, nil
}

// Apply applies an ordered RFC 6902 edit list to doc and returns the resulting
// document. A failed test op, a missing path, or a malformed operation all
// surface as errors; doc is never modified in place.
func Apply(doc json.RawMessage, ops []model.Operation) (json.RawMessage, error) {
	if len(ops) == 0 {
		out := make(json.RawMessage, len(doc))
		copy(out, doc)
		return out, nil
	}

	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encoding patch operations: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding patch operations: %w", err)
	}
	out, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("applying patch: %w", err)
	}
	return out, nil
}
