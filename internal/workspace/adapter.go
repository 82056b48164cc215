// Package workspace adapts editor workspace state to the sync engine's
// envelope. A workspace is the most UI-bound of the synced entities, so its
// merge policy leans local: open files prefer the local cursor, the pane
// layout is taken wholesale from the local side, and only git status follows
// the remote.
package workspace

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/haidar-ali/staterelay/internal/model"
)

// EntityType is the engine entity type handled by this adapter.
const EntityType = "workspace"

// OpenFile is one open editor buffer with its cursor position.
type OpenFile struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Scroll int    `json:"scroll,omitempty"`
}

// Terminal is one terminal session and its scrollback.
type Terminal struct {
	ID      string   `json:"id"`
	History []string `json:"history,omitempty"`
}

// Git is the version-control view of the workspace.
type Git struct {
	Branch      string   `json:"branch"`
	StagedFiles []string `json:"stagedFiles,omitempty"`
}

// Workspace is the domain object for one workspace.
//
// Layout is opaque to the sync layer: the engine never looks inside the pane
// tree, it only decides which side's layout to keep.
type Workspace struct {
	ID        string          `json:"id"`
	OpenFiles []OpenFile      `json:"openFiles"`
	Layout    json.RawMessage `json:"layout,omitempty"`
	Terminals []Terminal      `json:"terminals,omitempty"`
	Git       Git             `json:"git"`
}

// Stats is a lightweight summary used for sync-cost estimation.
type Stats struct {
	OpenFiles int
	Terminals int
	Bytes     int
}

// Adapter translates workspaces to and from the engine envelope and owns the
// per-workspace version counters.
type Adapter struct {
	versions map[string]int64
}

// NewAdapter creates an Adapter with fresh version counters.
func NewAdapter() *Adapter {
	return &Adapter{versions: make(map[string]int64)}
}

// EntityType implements the engine's Adapter interface.
func (a *Adapter) EntityType() string { return EntityType }

// ToSyncable wraps a workspace in a sync envelope, bumping its tracked
// version and attaching an advisory payload checksum.
func (a *Adapter) ToSyncable(w *Workspace) (*model.State, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("workspace has no ID")
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding workspace %s: %w", w.ID, err)
	}

	a.versions[w.ID]++
	return &model.State{
		ID:           w.ID,
		Type:         EntityType,
		Version:      a.versions[w.ID],
		LastModified: time.Now().UTC(),
		Data:         data,
		Checksum:     model.Checksum(data),
	}, nil
}

// FromSyncable unwraps a sync envelope into a workspace, advancing the
// tracked version counter past the envelope's.
func (a *Adapter) FromSyncable(s *model.State) (*Workspace, error) {
	var w Workspace
	if err := json.Unmarshal(s.Data, &w); err != nil {
		return nil, fmt.Errorf("decoding workspace %s: %w", s.ID, err)
	}
	if s.Version > a.versions[s.ID] {
		a.versions[s.ID] = s.Version
	}
	return &w, nil
}

// Merge combines a forked local and remote workspace state.
func (a *Adapter) Merge(local, remote *model.State) (*model.State, error) {
	lw, err := a.FromSyncable(local)
	if err != nil {
		return nil, fmt.Errorf("merge: local side: %w", err)
	}
	rw, err := a.FromSyncable(remote)
	if err != nil {
		return nil, fmt.Errorf("merge: remote side: %w", err)
	}

	merged := mergeWorkspaces(lw, rw)

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding merged workspace %s: %w", merged.ID, err)
	}

	version := max(local.Version, remote.Version) + 1
	if version > a.versions[merged.ID] {
		a.versions[merged.ID] = version
	}
	return &model.State{
		ID:           merged.ID,
		Type:         EntityType,
		Version:      version,
		LastModified: time.Now().UTC(),
		Data:         data,
		Checksum:     model.Checksum(data),
	}, nil
}

// Summary returns a lightweight cost estimate for an envelope.
func (a *Adapter) Summary(s *model.State) (Stats, error) {
	w, err := a.FromSyncable(s)
	if err != nil {
		return Stats{}, err
	}
	return Stats{OpenFiles: len(w.OpenFiles), Terminals: len(w.Terminals), Bytes: len(s.Data)}, nil
}
