package sync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/haidar-ali/staterelay/internal/model"
)

// --- Capture transport --------------------------------------------------------

// captureTransport records everything sent through it and serves a canned
// inbound batch. sendErr/receiveErr, when set, make the corresponding callback
// fail.
type captureTransport struct {
	mu         sync.Mutex
	sent       [][]*model.Patch
	inbound    []*model.Patch
	sendErr    error
	receiveErr error

	// sendStarted/sendRelease turn Send into a barrier for re-entrancy tests.
	sendStarted chan struct{}
	sendRelease chan struct{}
}

func newCaptureTransport() *captureTransport {
	return &captureTransport{}
}

func (t *captureTransport) Send(_ context.Context, patches []*model.Patch) error {
	if t.sendStarted != nil {
		close(t.sendStarted)
		<-t.sendRelease
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]*model.Patch, len(patches))
	copy(cp, patches)
	t.sent = append(t.sent, cp)
	return nil
}

func (t *captureTransport) Receive(_ context.Context) ([]*model.Patch, error) {
	if t.receiveErr != nil {
		return nil, t.receiveErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inbound, nil
}

func (t *captureTransport) sentBatches() [][]*model.Patch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

var errTransportDown = errors.New("transport down")

// --- State and patch helpers --------------------------------------------------

func testState(entityType, id string, version int64, data string) *model.State {
	return &model.State{
		ID:           id,
		Type:         entityType,
		Version:      version,
		LastModified: time.Now().UTC(),
		Data:         json.RawMessage(data),
	}
}

// remotePatch builds an inbound patch with a single replace op on /v.
func remotePatch(entityType, id string, from, to int64, value string) *model.Patch {
	return &model.Patch{
		ID:          "remote-" + id,
		EntityID:    id,
		EntityType:  entityType,
		FromVersion: from,
		ToVersion:   to,
		Operations: []model.Operation{
			{Op: "replace", Path: "/v", Value: json.RawMessage(value)},
		},
		Timestamp: time.Now().UTC(),
		Source:    model.SourceRemote,
	}
}
