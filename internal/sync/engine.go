package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/haidar-ali/staterelay/internal/diff"
	"github.com/haidar-ali/staterelay/internal/model"
)

const (
	otelScope         = "staterelay/sync"
	spanPerformSync   = "sync.perform"
	metricSyncs       = "staterelay.sync.transactions"
	metricConflicts   = "staterelay.sync.conflicts"
	metricPatchErrors = "staterelay.sync.patch_errors"
	metricBytes       = "staterelay.sync.bytes_transferred"
)

// ErrSyncInProgress is returned by [Engine.PerformSync] when another sync
// transaction is already in flight.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrNoMergeFunc is returned by [Engine.ResolveConflict] when a merge
// resolution is requested without a merge function.
var ErrNoMergeFunc = errors.New("merge resolution requires a merge function")

// Engine is the state-synchronization core. Construct one per session with
// [New]; the owner calls [Engine.Reset] at session teardown.
type Engine struct {
	states     map[string]*model.State   // key → current snapshot
	pending    map[string][]*model.Patch // key → queued outgoing patches
	conflicts  map[string]*model.Conflict
	priorities map[string]model.Priority // entity type → scheduling policy
	trackOrder map[string]int            // key → first-queued sequence, for stable ordering
	trackSeq   int

	metrics  model.Metrics
	inFlight atomic.Bool
	needSync chan struct{}
	log      *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntSyncs     metric.Int64Counter
	cntConflicts metric.Int64Counter
	cntPatchErrs metric.Int64Counter
	cntBytes     metric.Int64Counter
}

// Result summarises one completed sync transaction.
type Result struct {
	Sent      int
	Received  int
	Conflicts []model.Conflict
}

// New creates an Engine. If logger is nil, slog.Default() is used.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		states:     make(map[string]*model.State),
		pending:    make(map[string][]*model.Patch),
		conflicts:  make(map[string]*model.Conflict),
		priorities: make(map[string]model.Priority),
		trackOrder: make(map[string]int),
		needSync:   make(chan struct{}, 1),
		log:        logger,

		tracer:       otel.Tracer(otelScope),
		cntSyncs:     mustCounter(metricSyncs, "Number of sync transactions attempted, by outcome"),
		cntConflicts: mustCounter(metricConflicts, "Number of version conflicts detected"),
		cntPatchErrs: mustCounter(metricPatchErrors, "Number of inbound patches that failed to apply"),
		cntBytes:     mustCounter(metricBytes, "Estimated serialized patch bytes sent and received"),
	}
}

// RegisterEntityType upserts the scheduling policy for an entity type.
// Registering the same type again overwrites the previous policy.
func (e *Engine) RegisterEntityType(entityType string, priority int, strategy model.Strategy) error {
	if entityType == "" {
		return errors.New("entity type must not be empty")
	}
	e.priorities[entityType] = model.Priority{Type: entityType, Priority: priority, Strategy: strategy}
	return nil
}

// TrackState records a new snapshot for an entity. The first call for a
// (type, id) pair establishes the baseline and queues nothing; subsequent
// calls diff against the stored baseline and queue a patch when the payload
// actually changed. The new state always replaces the stored one, even when
// the diff is empty.
func (e *Engine) TrackState(s *model.State) error {
	key := s.Key()

	prior, exists := e.states[key]
	if !exists {
		e.states[key] = s.Clone()
		e.log.Debug("tracking new entity", "type", s.Type, "id", s.ID, "version", s.Version)
		return nil
	}

	ops, err := diff.Compute(prior.Data, s.Data)
	if err != nil {
		return fmt.Errorf("diffing %s: %w", key, err)
	}

	if len(ops) > 0 {
		patch := &model.Patch{
			ID:          uuid.NewString(),
			EntityID:    s.ID,
			EntityType:  s.Type,
			FromVersion: prior.Version,
			ToVersion:   s.Version,
			Operations:  ops,
			Timestamp:   time.Now().UTC(),
			Source:      model.SourceLocal,
		}
		if _, ok := e.trackOrder[key]; !ok {
			e.trackSeq++
			e.trackOrder[key] = e.trackSeq
		}
		e.pending[key] = append(e.pending[key], patch)
		e.log.Debug("queued local patch",
			"type", s.Type,
			"id", s.ID,
			"from", patch.FromVersion,
			"to", patch.ToVersion,
			"ops", len(ops),
		)
	}

	e.states[key] = s.Clone()

	if len(ops) > 0 && e.priorities[s.Type].Strategy == model.StrategyImmediate {
		e.signalSyncNeeded()
	}
	return nil
}

// SyncNeeded returns a channel that receives a signal whenever a change is
// tracked for an entity type registered with the immediate strategy, or when
// an inbound patch reveals the local replica is behind. The channel has
// capacity one; signals coalesce rather than accumulate.
func (e *Engine) SyncNeeded() <-chan struct{} {
	return e.needSync
}

func (e *Engine) signalSyncNeeded() {
	select {
	case e.needSync <- struct{}{}:
	default: // a signal is already pending
	}
}

// PendingPatches returns all queued outgoing patches, optionally restricted to
// the given entity types. Patches are ordered by descending configured
// priority of the owning entity type; within equal priority, entities appear
// in first-queued order, and each entity's own patches keep generation order.
func (e *Engine) PendingPatches(types ...string) []*model.Patch {
	typeFilter := make(map[string]bool, len(types))
	for _, t := range types {
		typeFilter[t] = true
	}

	keys := make([]string, 0, len(e.pending))
	for key, queue := range e.pending {
		if len(queue) == 0 {
			continue
		}
		if len(typeFilter) > 0 && !typeFilter[queue[0].EntityType] {
			continue
		}
		keys = append(keys, key)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		pi := e.priorities[e.pending[keys[i]][0].EntityType].Priority
		pj := e.priorities[e.pending[keys[j]][0].EntityType].Priority
		if pi != pj {
			return pi > pj
		}
		return e.trackOrder[keys[i]] < e.trackOrder[keys[j]]
	})

	var out []*model.Patch
	for _, key := range keys {
		out = append(out, e.pending[key]...)
	}
	return out
}

// ApplyRemotePatches applies a batch of inbound patches and returns the
// conflicts detected while doing so. Per entity:
//
//   - no local state: the entity is materialized from an empty baseline;
//   - local version below the patch's fromVersion: the replica is behind and
//     must resync first, so the patch is not applied and the sync-needed
//     signal is raised;
//   - local version above fromVersion: a conflict is recorded (the last
//     remote patch targeting the same stale entity in one batch wins the
//     conflict record);
//   - versions match: the patch applies cleanly, and the entity's pending
//     local patches are discarded because remote is the new baseline.
//
// A patch that fails to apply is logged and skipped; it never aborts the rest
// of the batch.
func (e *Engine) ApplyRemotePatches(patches []*model.Patch) []model.Conflict {
	var conflictKeys []string
	seen := make(map[string]bool)

	for _, p := range patches {
		key := p.Key()
		cur, exists := e.states[key]

		switch {
		case !exists:
			data, err := diff.Apply(diff.EmptyDocument, p.Operations)
			if err != nil {
				e.recordPatchError(p, err)
				continue
			}
			e.states[key] = &model.State{
				ID:           p.EntityID,
				Type:         p.EntityType,
				Version:      p.ToVersion,
				LastModified: p.Timestamp,
				Data:         data,
			}
			e.log.Info("materialized remote entity", "type", p.EntityType, "id", p.EntityID, "version", p.ToVersion)

		case cur.Version < p.FromVersion:
			// Local replica is behind the patch's baseline; applying would
			// skip intermediate edits. Raise the sync-needed signal so the
			// caller runs the resync this entity requires.
			e.signalSyncNeeded()
			e.log.Warn("local replica behind remote patch",
				"type", p.EntityType,
				"id", p.EntityID,
				"local_version", cur.Version,
				"patch_from", p.FromVersion,
			)

		case cur.Version > p.FromVersion:
			conflict := &model.Conflict{
				EntityID:      p.EntityID,
				EntityType:    p.EntityType,
				LocalVersion:  cur.Version,
				RemoteVersion: p.ToVersion,
				LocalPatch:    e.latestPending(key),
				RemotePatch:   p,
			}
			e.conflicts[key] = conflict
			if !seen[key] {
				seen[key] = true
				conflictKeys = append(conflictKeys, key)
			}
			e.cntConflicts.Add(context.Background(), 1)
			e.log.Info("conflict detected",
				"type", p.EntityType,
				"id", p.EntityID,
				"local_version", cur.Version,
				"remote_version", p.ToVersion,
			)

		default: // cur.Version == p.FromVersion
			data, err := diff.Apply(cur.Data, p.Operations)
			if err != nil {
				e.recordPatchError(p, err)
				continue
			}
			cur.Data = data
			cur.Version = p.ToVersion
			cur.LastModified = time.Now().UTC()
			// Remote is the new baseline; unsent local deltas are obsolete.
			delete(e.pending, key)
			e.log.Debug("applied remote patch", "type", p.EntityType, "id", p.EntityID, "version", p.ToVersion)
		}
	}

	out := make([]model.Conflict, 0, len(conflictKeys))
	for _, key := range conflictKeys {
		out = append(out, *e.conflicts[key])
	}
	return out
}

// latestPending returns the most recently queued local patch for key, or nil.
func (e *Engine) latestPending(key string) *model.Patch {
	queue := e.pending[key]
	if len(queue) == 0 {
		return nil
	}
	return queue[len(queue)-1]
}

func (e *Engine) recordPatchError(p *model.Patch, err error) {
	e.cntPatchErrs.Add(context.Background(), 1)
	e.log.Error("skipping unapplicable remote patch",
		"type", p.EntityType,
		"id", p.EntityID,
		"patch_id", p.ID,
		"error", err,
	)
}

// ResolveConflict settles a recorded conflict:
//
//   - [model.ResolutionLocal] keeps local state; pending local patches stay
//     queued for the next sync.
//   - [model.ResolutionRemote] force-applies the conflicting remote patch onto
//     the current local data, adopts its version and timestamp, and discards
//     the entity's pending local patches.
//   - [model.ResolutionMerge] delegates to merge (typically an adapter's Merge
//     method), stores the merged state, and queues a fresh local patch from
//     the remote's version so the peer converges on the merged result.
//
// On success the conflict record is removed and the resolved-conflict metric
// incremented.
func (e *Engine) ResolveConflict(entityID, entityType string, resolution model.Resolution, merge MergeFunc) error {
	key := entityType + ":" + entityID
	conflict, ok := e.conflicts[key]
	if !ok {
		return fmt.Errorf("no recorded conflict for %s", key)
	}

	switch resolution {
	case model.ResolutionLocal:
		// Keep local; the queued patches will be retried on the next sync.

	case model.ResolutionRemote:
		if err := e.adoptRemote(key, conflict); err != nil {
			return err
		}

	case model.ResolutionMerge:
		if merge == nil {
			return ErrNoMergeFunc
		}
		if err := e.mergeConflict(key, conflict, merge); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}

	conflict.Resolution = resolution
	delete(e.conflicts, key)
	e.metrics.ConflictsResolved++
	e.log.Info("conflict resolved", "type", entityType, "id", entityID, "resolution", resolution)
	return nil
}

// adoptRemote force-applies the conflicting remote patch and makes the remote
// side the new baseline.
func (e *Engine) adoptRemote(key string, c *model.Conflict) error {
	cur, ok := e.states[key]
	if !ok || c.RemotePatch == nil {
		return fmt.Errorf("cannot adopt remote for %s: missing state or remote patch", key)
	}
	data, err := diff.Apply(cur.Data, c.RemotePatch.Operations)
	if err != nil {
		return fmt.Errorf("force-applying remote patch for %s: %w", key, err)
	}
	cur.Data = data
	cur.Version = c.RemotePatch.ToVersion
	cur.LastModified = c.RemotePatch.Timestamp
	delete(e.pending, key)
	return nil
}

// mergeConflict reconstructs the remote state by force-applying the remote
// patch onto local data, asks merge to combine the two, stores the result,
// and queues one outgoing patch from the remote's version to the merged
// version so the peer receives the merged content.
func (e *Engine) mergeConflict(key string, c *model.Conflict, merge MergeFunc) error {
	local, ok := e.states[key]
	if !ok || c.RemotePatch == nil {
		return fmt.Errorf("cannot merge %s: missing state or remote patch", key)
	}

	remoteData, err := diff.Apply(local.Data, c.RemotePatch.Operations)
	if err != nil {
		return fmt.Errorf("reconstructing remote state for %s: %w", key, err)
	}
	remote := &model.State{
		ID:           c.EntityID,
		Type:         c.EntityType,
		Version:      c.RemotePatch.ToVersion,
		LastModified: c.RemotePatch.Timestamp,
		Data:         remoteData,
	}

	merged, err := merge(local.Clone(), remote)
	if err != nil {
		return fmt.Errorf("merging %s: %w", key, err)
	}

	ops, err := diff.Compute(remoteData, merged.Data)
	if err != nil {
		return fmt.Errorf("diffing merged state for %s: %w", key, err)
	}

	e.states[key] = merged.Clone()

	// Replace the pending queue: the old local deltas are folded into the
	// merged state, and one patch from the remote's version carries it over.
	delete(e.pending, key)
	if len(ops) > 0 {
		if _, ok := e.trackOrder[key]; !ok {
			e.trackSeq++
			e.trackOrder[key] = e.trackSeq
		}
		e.pending[key] = []*model.Patch{{
			ID:          uuid.NewString(),
			EntityID:    c.EntityID,
			EntityType:  c.EntityType,
			FromVersion: remote.Version,
			ToVersion:   merged.Version,
			Operations:  ops,
			Timestamp:   time.Now().UTC(),
			Source:      model.SourceLocal,
		}}
	}
	return nil
}

// PerformSync runs one sync transaction: push all pending outgoing patches
// through send, pull inbound patches through receive, and apply them. Only one
// transaction may be in flight at a time; a concurrent call fails immediately
// with [ErrSyncInProgress] and leaves engine state unchanged.
//
// A transport error from either callback aborts the transaction, increments
// the failure counter, and is returned to the caller. Outgoing patches are
// cleared only after send succeeds, so a failed transaction retries them on
// the next sync.
func (e *Engine) PerformSync(ctx context.Context, send SendFunc, receive ReceiveFunc) (*Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.inFlight.Store(false)

	ctx, span := e.tracer.Start(ctx, spanPerformSync)
	defer span.End()
	start := time.Now()

	outgoing := e.PendingPatches()
	var transferred int64

	if len(outgoing) > 0 {
		if err := send(ctx, outgoing); err != nil {
			return nil, e.failSync(span, fmt.Errorf("sending %d patches: %w", len(outgoing), err))
		}
		for _, p := range outgoing {
			transferred += int64(p.WireSize())
		}
		e.ClearPending(outgoing)
	}

	inbound, err := receive(ctx)
	if err != nil {
		return nil, e.failSync(span, fmt.Errorf("receiving patches: %w", err))
	}
	for _, p := range inbound {
		transferred += int64(p.WireSize())
	}

	conflicts := e.ApplyRemotePatches(inbound)

	duration := time.Since(start)
	e.metrics.TotalSyncs++
	e.metrics.SuccessfulSyncs++
	e.metrics.DataTransferred += transferred
	e.metrics.LastSyncTime = time.Now().UTC()
	e.metrics.AverageSyncDuration = runningAverage(e.metrics.AverageSyncDuration, duration, e.metrics.SuccessfulSyncs)

	e.cntSyncs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	e.cntBytes.Add(ctx, transferred)
	span.SetAttributes(
		attribute.Int("sync.sent", len(outgoing)),
		attribute.Int("sync.received", len(inbound)),
		attribute.Int("sync.conflicts", len(conflicts)),
	)

	e.log.Info("sync complete",
		"sent", len(outgoing),
		"received", len(inbound),
		"conflicts", len(conflicts),
		"duration", duration,
	)

	return &Result{Sent: len(outgoing), Received: len(inbound), Conflicts: conflicts}, nil
}

// failSync records a failed transaction and returns err for propagation.
func (e *Engine) failSync(span trace.Span, err error) error {
	e.metrics.TotalSyncs++
	e.metrics.FailedSyncs++
	e.cntSyncs.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", "failure")))
	span.RecordError(err)
	e.log.Error("sync failed", "error", err)
	return err
}

// ClearPending removes the given patches from their entities' outgoing queues.
// Patches queued after the snapshot was taken (while a send was in flight)
// remain queued. Used by PerformSync after a successful send, and by serving
// transports after answering a pull.
func (e *Engine) ClearPending(patches []*model.Patch) {
	sent := make(map[string]bool, len(patches))
	for _, p := range patches {
		sent[p.ID] = true
	}
	for key, queue := range e.pending {
		remaining := queue[:0]
		for _, p := range queue {
			if !sent[p.ID] {
				remaining = append(remaining, p)
			}
		}
		if len(remaining) == 0 {
			delete(e.pending, key)
		} else {
			e.pending[key] = remaining
		}
	}
}

// NeedsSync reports whether the entity has queued outgoing patches.
func (e *Engine) NeedsSync(entityType, entityID string) bool {
	return len(e.pending[entityType+":"+entityID]) > 0
}

// State returns a copy of the tracked snapshot for an entity, or nil if the
// entity is unknown.
func (e *Engine) State(entityType, entityID string) *model.State {
	s, ok := e.states[entityType+":"+entityID]
	if !ok {
		return nil
	}
	return s.Clone()
}

// States returns copies of all tracked snapshots. Used by callers that persist
// snapshots externally.
func (e *Engine) States() []*model.State {
	out := make([]*model.State, 0, len(e.states))
	for _, s := range e.states {
		out = append(out, s.Clone())
	}
	return out
}

// Conflicts returns the currently unresolved conflicts.
func (e *Engine) Conflicts() []model.Conflict {
	out := make([]model.Conflict, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		out = append(out, *c)
	}
	return out
}

// Metrics returns a copy of the running sync counters.
func (e *Engine) Metrics() model.Metrics {
	return e.metrics
}

// Reset clears all in-memory state. Intended for session teardown.
func (e *Engine) Reset() {
	e.states = make(map[string]*model.State)
	e.pending = make(map[string][]*model.Patch)
	e.conflicts = make(map[string]*model.Conflict)
	e.priorities = make(map[string]model.Priority)
	e.trackOrder = make(map[string]int)
	e.trackSeq = 0
	e.metrics = model.Metrics{}
}

// runningAverage folds duration d into a running mean over n samples.
func runningAverage(avg, d time.Duration, n int64) time.Duration {
	if n <= 1 {
		return d
	}
	return avg + (d-avg)/time.Duration(n)
}
