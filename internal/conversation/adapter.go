// Package conversation adapts chat-session objects to the sync engine's
// envelope and implements the conversation merge policy: message set-union,
// open-file union, remote metadata, local live UI context.
package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/haidar-ali/staterelay/internal/model"
)

// EntityType is the engine entity type handled by this adapter.
const EntityType = "conversation"

// Message is a single chat message.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the domain object for one chat session, including the live
// UI context around it.
type Conversation struct {
	SessionID string    `json:"sessionId"`
	Messages  []Message `json:"messages"`

	// OpenFiles is the set of files referenced as context in the session.
	OpenFiles []string `json:"openFiles,omitempty"`

	// Metadata is session bookkeeping (title, model name, token counts, …).
	// Treated as a unit during merge: the remote copy is assumed more recent.
	Metadata map[string]any `json:"metadata,omitempty"`

	// WorkingDir and ActiveFile are live UI context; the local side always
	// wins for these since they reflect what the user is looking at now.
	WorkingDir string `json:"workingDir,omitempty"`
	ActiveFile string `json:"activeFile,omitempty"`
}

// Stats is a lightweight summary used for sync-cost estimation.
type Stats struct {
	Messages  int
	OpenFiles int
	Bytes     int
}

// Adapter translates conversations to and from the engine envelope. It owns
// the per-entity version counters, so construct exactly one Adapter per
// engine/session and keep it alongside the engine.
type Adapter struct {
	versions map[string]int64
}

// NewAdapter creates an Adapter with fresh version counters.
func NewAdapter() *Adapter {
	return &Adapter{versions: make(map[string]int64)}
}

// EntityType implements the engine's Adapter interface.
func (a *Adapter) EntityType() string { return EntityType }

// ToSyncable wraps a conversation in a sync envelope, bumping the tracked
// version for its session ID.
func (a *Adapter) ToSyncable(c *Conversation) (*model.State, error) {
	if c.SessionID == "" {
		return nil, fmt.Errorf("conversation has no session ID")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding conversation %s: %w", c.SessionID, err)
	}

	a.versions[c.SessionID]++
	return &model.State{
		ID:           c.SessionID,
		Type:         EntityType,
		Version:      a.versions[c.SessionID],
		LastModified: time.Now().UTC(),
		Data:         data,
	}, nil
}

// FromSyncable unwraps a sync envelope into a conversation and advances the
// tracked version counter past the envelope's, so the next local edit
// produces a strictly greater version.
func (a *Adapter) FromSyncable(s *model.State) (*Conversation, error) {
	var c Conversation
	if err := json.Unmarshal(s.Data, &c); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", s.ID, err)
	}
	if s.Version > a.versions[s.ID] {
		a.versions[s.ID] = s.Version
	}
	return &c, nil
}

// Merge combines a forked local and remote conversation state. Messages are
// set-unioned and re-sorted chronologically, open files unioned, metadata
// taken from remote, and live UI context kept local.
func (a *Adapter) Merge(local, remote *model.State) (*model.State, error) {
	lc, err := a.FromSyncable(local)
	if err != nil {
		return nil, fmt.Errorf("merge: local side: %w", err)
	}
	rc, err := a.FromSyncable(remote)
	if err != nil {
		return nil, fmt.Errorf("merge: remote side: %w", err)
	}

	merged := mergeConversations(lc, rc)

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding merged conversation %s: %w", merged.SessionID, err)
	}

	version := max(local.Version, remote.Version) + 1
	if version > a.versions[merged.SessionID] {
		a.versions[merged.SessionID] = version
	}
	return &model.State{
		ID:           merged.SessionID,
		Type:         EntityType,
		Version:      version,
		LastModified: time.Now().UTC(),
		Data:         data,
	}, nil
}

// Summary returns a lightweight cost estimate for an envelope.
func (a *Adapter) Summary(s *model.State) (Stats, error) {
	c, err := a.FromSyncable(s)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Messages:  len(c.Messages),
		OpenFiles: len(c.OpenFiles),
		Bytes:     len(s.Data),
	}, nil
}
