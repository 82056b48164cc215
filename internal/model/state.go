// Package model defines the shared envelope types used across the sync engine,
// entity adapters, and transports: versioned entity snapshots, structural
// patches, conflict records, and scheduling priorities.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// State is the canonical transport envelope wrapping one entity's current
// snapshot. Exactly one State is held per (Type, ID) pair by an engine at any
// time, and its Version strictly increases across tracked mutations.
type State struct {
	// ID uniquely identifies the entity within its type.
	ID string `json:"id"`

	// Type is the entity type (e.g. "conversation", "board", "workspace").
	Type string `json:"type"`

	// Version is the monotonic version counter for this entity ID.
	Version int64 `json:"version"`

	// LastModified is when this snapshot was produced.
	LastModified time.Time `json:"lastModified"`

	// Data is the opaque structured payload. Patches address into it with
	// RFC 6902 JSON pointers, so it must be a valid JSON document.
	Data json.RawMessage `json:"data"`

	// Checksum is an optional sha256 hex digest of Data. Adapters that set it
	// do so for diagnostics; the engine relies on version numbers alone.
	Checksum string `json:"checksum,omitempty"`
}

// Key returns the engine's map key for this state: "type:id".
func (s *State) Key() string {
	return s.Type + ":" + s.ID
}

// Clone returns a deep copy of the state. Data is copied so the clone can be
// mutated without aliasing the original payload.
func (s *State) Clone() *State {
	cp := *s
	if s.Data != nil {
		cp.Data = make(json.RawMessage, len(s.Data))
		copy(cp.Data, s.Data)
	}
	return &cp
}

// Checksum returns the sha256 hex digest of a payload. Used by adapters that
// attach content checksums to their envelopes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
