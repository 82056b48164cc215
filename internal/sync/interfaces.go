// Package sync implements the state-synchronization engine reconciling
// divergent local and remote replicas of application entities. The engine
// holds the authoritative in-memory snapshot of every tracked entity, computes
// outgoing RFC 6902 patches from state transitions, applies inbound patches,
// records conflicts, and exposes one orchestrated sync transaction
// ([Engine.PerformSync]) driven by two caller-supplied transport functions.
//
// The engine is transport-agnostic and owns no persistence: callers wire in
// [SendFunc]/[ReceiveFunc] implementations (see the transport package) and
// persist snapshots themselves if they need durability.
//
// All methods must be invoked from one logical control flow. PerformSync is
// the sole suspension point and is guarded against re-entrancy; everything
// else mutates shared maps without internal locking, which is a documented
// caller obligation, not an engine guarantee.
package sync

import (
	"context"

	"github.com/haidar-ali/staterelay/internal/model"
)

// SendFunc pushes a batch of outgoing patches to the peer. Implementations own
// their retry/backoff/timeout policy; an error aborts the sync transaction and
// leaves the outgoing queues intact.
type SendFunc func(ctx context.Context, patches []*model.Patch) error

// ReceiveFunc pulls inbound patches from the peer. Returning an empty slice is
// a normal, successful outcome.
type ReceiveFunc func(ctx context.Context) ([]*model.Patch, error)

// MergeFunc resolves a conflict by combining the local and remote states of
// one entity into a merged state. Adapters provide domain-specific
// implementations; see [Adapter.Merge].
type MergeFunc func(local, remote *model.State) (*model.State, error)

// Adapter translates between a domain object model and the engine's generic
// envelope, and encodes the domain's conflict-resolution policy. Adapters have
// no dependency on the engine; any type implementing this interface can be
// registered with a priority/strategy and used with it.
//
// Implemented by conversation.Adapter, board.Adapter, and workspace.Adapter.
type Adapter interface {
	// EntityType returns the entity type string this adapter handles.
	EntityType() string

	// Merge combines a forked local and remote state into one merged state
	// with a version greater than both inputs.
	Merge(local, remote *model.State) (*model.State, error)
}
