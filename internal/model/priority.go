package model

import (
	"fmt"
	"time"
)

// Strategy is the scheduling class controlling how urgently an entity type's
// pending changes should be pushed through the transport.
type Strategy string

const (
	// StrategyImmediate signals the caller to sync as soon as a change is
	// tracked.
	StrategyImmediate Strategy = "immediate"
	// StrategyBatch waits for the caller's regular sync cycle.
	StrategyBatch Strategy = "batch"
	// StrategyLazy marks low-urgency types that only ride along with other
	// syncs.
	StrategyLazy Strategy = "lazy"
)

// ParseStrategy converts a config string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyImmediate, StrategyBatch, StrategyLazy:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown sync strategy %q (want immediate, batch, or lazy)", s)
	}
}

// Priority is the per-entity-type scheduling policy. Higher Priority values
// are more urgent and sort earlier in the outgoing patch queue.
type Priority struct {
	Type     string   `json:"type"`
	Priority int      `json:"priority"`
	Strategy Strategy `json:"strategy"`
}

// Metrics holds the engine's running sync counters.
type Metrics struct {
	// TotalSyncs counts sync transactions attempted, SuccessfulSyncs and
	// FailedSyncs partition them by outcome.
	TotalSyncs      int64 `json:"totalSyncs"`
	SuccessfulSyncs int64 `json:"successfulSyncs"`
	FailedSyncs     int64 `json:"failedSyncs"`

	// ConflictsResolved counts conflicts settled via ResolveConflict.
	ConflictsResolved int64 `json:"conflictsResolved"`

	// DataTransferred is the estimated serialized bytes sent plus received.
	DataTransferred int64 `json:"dataTransferred"`

	// LastSyncTime is when the most recent successful sync completed.
	LastSyncTime time.Time `json:"lastSyncTime"`

	// AverageSyncDuration is the running mean duration of successful syncs.
	AverageSyncDuration time.Duration `json:"averageSyncDuration"`
}
