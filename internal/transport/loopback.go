package transport

import (
	"context"

	"github.com/haidar-ali/staterelay/internal/model"
)

// loopbackBuffer is the per-direction patch-batch capacity of a Loopback
// pair. A full buffer makes Send block until the peer drains it.
const loopbackBuffer = 16

// Endpoint is one side of an in-process transport pair. Its Send and
// Receive methods satisfy the engine's SendFunc and ReceiveFunc signatures.
type Endpoint struct {
	out chan []*model.Patch
	in  chan []*model.Patch
}

// Loopback returns two connected in-process endpoints. Patches sent on one
// side are received on the other. Useful for tests and for syncing two
// engines inside the same process.
func Loopback() (*Endpoint, *Endpoint) {
	ab := make(chan []*model.Patch, loopbackBuffer)
	ba := make(chan []*model.Patch, loopbackBuffer)
	return &Endpoint{out: ab, in: ba}, &Endpoint{out: ba, in: ab}
}

// Send delivers a batch of patches to the peer endpoint.
func (e *Endpoint) Send(ctx context.Context, patches []*model.Patch) error {
	if len(patches) == 0 {
		return nil
	}
	select {
	case e.out <- patches:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive drains every batch the peer has sent so far without blocking. It
// returns nil when nothing is waiting.
func (e *Endpoint) Receive(ctx context.Context) ([]*model.Patch, error) {
	var patches []*model.Patch
	for {
		select {
		case batch := <-e.in:
			patches = append(patches, batch...)
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return patches, nil
		}
	}
}
