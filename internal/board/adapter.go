// Package board adapts kanban task boards to the sync engine's envelope and
// implements the board merge policy: per-task last-write-wins, column layout
// rebuilt from the remote side, orphans swept into the backlog.
package board

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/haidar-ali/staterelay/internal/model"
)

// EntityType is the engine entity type handled by this adapter.
const EntityType = "board"

// Task is a single card on the board.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Assignee    string    `json:"assignee,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Column is an ordered lane of task IDs.
type Column struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	TaskIDs []string `json:"taskIds"`
}

// Board is the domain object for one task board.
type Board struct {
	ID      string          `json:"id"`
	Tasks   map[string]Task `json:"tasks"`
	Columns []Column        `json:"columns"`
}

// Stats is a lightweight summary used for sync-cost estimation.
type Stats struct {
	Tasks   int
	Columns int
	Bytes   int
}

// Adapter translates boards to and from the engine envelope and owns the
// per-board version counters.
type Adapter struct {
	versions map[string]int64
}

// NewAdapter creates an Adapter with fresh version counters.
func NewAdapter() *Adapter {
	return &Adapter{versions: make(map[string]int64)}
}

// EntityType implements the engine's Adapter interface.
func (a *Adapter) EntityType() string { return EntityType }

// ToSyncable wraps a board in a sync envelope, bumping its tracked version.
func (a *Adapter) ToSyncable(b *Board) (*model.State, error) {
	if b.ID == "" {
		return nil, fmt.Errorf("board has no ID")
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encoding board %s: %w", b.ID, err)
	}

	a.versions[b.ID]++
	return &model.State{
		ID:           b.ID,
		Type:         EntityType,
		Version:      a.versions[b.ID],
		LastModified: time.Now().UTC(),
		Data:         data,
	}, nil
}

// FromSyncable unwraps a sync envelope into a board, advancing the tracked
// version counter past the envelope's.
func (a *Adapter) FromSyncable(s *model.State) (*Board, error) {
	var b Board
	if err := json.Unmarshal(s.Data, &b); err != nil {
		return nil, fmt.Errorf("decoding board %s: %w", s.ID, err)
	}
	if s.Version > a.versions[s.ID] {
		a.versions[s.ID] = s.Version
	}
	return &b, nil
}

// Merge combines a forked local and remote board state using per-task
// last-write-wins and the remote column layout.
func (a *Adapter) Merge(local, remote *model.State) (*model.State, error) {
	lb, err := a.FromSyncable(local)
	if err != nil {
		return nil, fmt.Errorf("merge: local side: %w", err)
	}
	rb, err := a.FromSyncable(remote)
	if err != nil {
		return nil, fmt.Errorf("merge: remote side: %w", err)
	}

	merged := mergeBoards(lb, rb)

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding merged board %s: %w", merged.ID, err)
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
	}, nil
}

// Summary returns a lightweight cost estimate for an envelope.
func (a *Adapter) Summary(s *model.State) (Stats, error) {
	b, err := a.FromSyncable(s)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Tasks: len(b.Tasks), Columns: len(b.Columns), Bytes: len(s.Data)}, nil
}
