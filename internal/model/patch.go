package model

import (
	"encoding/json"
	"time"
)

// Source identifies which replica produced a patch.
type Source string

const (
	// SourceLocal marks a patch generated by this replica's engine.
	SourceLocal Source = "local"
	// SourceRemote marks a patch received from the peer.
	SourceRemote Source = "remote"
)

// Operation is a single RFC 6902 structural edit. Its JSON form is the wire
// contract between peers, so the field set and encoding must stay exactly
// aligned with the RFC: "value" present for add/replace/test, "from" present
// for move/copy, both absent for remove.
type Operation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Patch is an ordered list of structural edits transforming an entity's Data
// from FromVersion to ToVersion.
type Patch struct {
	// ID uniquely identifies this patch (UUID).
	ID string `json:"id"`

	// EntityID and EntityType identify the entity the patch applies to.
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`

	// FromVersion is the version of the state this patch was diffed from;
	// ToVersion is the version of the resulting state.
	FromVersion int64 `json:"fromVersion"`
	ToVersion   int64 `json:"toVersion"`

	// Operations is the ordered RFC 6902 edit list.
	Operations []Operation `json:"operations"`

	// Timestamp is when the patch was generated.
	Timestamp time.Time `json:"timestamp"`

	// Source records which replica generated the patch.
	Source Source `json:"source"`
}

// Key returns the engine's map key for the patched entity: "type:id".
func (p *Patch) Key() string {
	return p.EntityType + ":" + p.EntityID
}

// WireSize returns the serialized size of the patch in bytes, used for the
// engine's transfer metric. Returns 0 if the patch cannot be marshalled.
func (p *Patch) WireSize() int {
	b, err := json.Marshal(p)
	if err != nil {
		return 0
	}
	return len(b)
}
