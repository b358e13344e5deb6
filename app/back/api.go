package back

import (
	"context"
	"encoding/json"
)

// API is the transport-facing surface registered with the JSON-RPC
// server. It speaks raw envelopes so the wire protocol stays the single
// closed union; the RPC layer adds nothing but framing.
type API struct {
	back *Back
}

// API returns the RPC surface for this dispatcher.
func (b *Back) API() *API {
	return &API{back: b}
}

// Handle dispatches one raw request envelope. A nil result means the
// message was dropped (unknown type, or dApp access disabled).
func (a *API) Handle(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	return a.back.HandleRaw(ctx, raw)
}

// StateUpdates streams payload-free change notifications until the
// subscriber's context ends. Observers re-fetch state on each tick.
func (a *API) StateUpdates(ctx context.Context) (<-chan struct{}, error) {
	sub := a.back.Subscribe()
	out := make(chan struct{})
	go func() {
		defer close(out)
		defer a.back.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
