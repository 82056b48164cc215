package model

// Resolution selects how a recorded conflict should be settled.
type Resolution string

const (
	// ResolutionLocal keeps the local state; pending local patches stay queued.
	ResolutionLocal Resolution = "local"
	// ResolutionRemote force-applies the remote patch and discards pending
	// local patches.
	ResolutionRemote Resolution = "remote"
	// ResolutionMerge delegates to a domain merge function.
	ResolutionMerge Resolution = "merge"
)

// Conflict records a detected fork: local and remote have each advanced past a
// common prior version with different edits. Conflicts are never resolved
// silently — the caller settles each one via the engine's ResolveConflict.
type Conflict struct {
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`

	// LocalVersion is the local replica's version at detection time;
	// RemoteVersion is the version the rejected remote patch would have
	// produced.
	LocalVersion  int64 `json:"localVersion"`
	RemoteVersion int64 `json:"remoteVersion"`

	// LocalPatch is the most recent pending local patch for the entity, if
	// any. RemotePatch is the remote patch that could not be applied.
	LocalPatch  *Patch `json:"localPatch,omitempty"`
	RemotePatch *Patch `json:"remotePatch,omitempty"`

	// Resolution is set once the caller settles the conflict.
	Resolution Resolution `json:"resolution,omitempty"`
}

// Key returns the engine's map key for the conflicted entity: "type:id".
func (c *Conflict) Key() string {
	return c.EntityType + ":" + c.EntityID
}
