package back

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/raulk/clock"

	"github.com/vellumwallet/vellum/pkg/crypto"
	"github.com/vellumwallet/vellum/pkg/types"
)

type pendingKind string

const (
	pendingConnect    pendingKind = "connect"
	pendingSign       pendingKind = "sign"
	pendingOperations pendingKind = "operations"
)

// pendingRequest is the ephemeral correlation record for an operation
// suspended on user approval. Exactly one outcome is ever delivered per
// id: the resolving path removes the record from the table before
// signalling, so a timeout, a confirmation, a lock and a session
// revocation can race freely.
type pendingRequest struct {
	id     string
	kind   pendingKind
	origin string

	accountID string
	appName   string

	bytes     []byte
	watermark crypto.Watermark

	endpoint string
	opParams json.RawMessage

	// needsKey marks requests that cannot complete without the working
	// key; Lock resolves these with AuthenticationRequired.
	needsKey bool

	// done receives the single outcome: nil means the user confirmed.
	done  chan error
	timer *clock.Timer
}

func (b *Back) addPending(p *pendingRequest) (*pendingRequest, error) {
	if p.id == "" {
		p.id = uuid.New().String()
	}
	p.done = make(chan error, 1)

	b.plk.Lock()
	defer b.plk.Unlock()
	// A colliding id would allow double resolution; refuse it up front.
	if _, exists := b.pending[p.id]; exists {
		return nil, errors.New("pending request id already in use")
	}
	// Re-check the lock under plk: a Lock arriving between the caller's
	// signability check and this insert has already swept the table, and
	// this record would otherwise sit until its TTL.
	if p.needsKey && b.vault.Locked() {
		return nil, types.ErrAuthenticationRequired
	}
	b.pending[p.id] = p
	p.timer = b.clk.AfterFunc(b.approvalTTL, func() {
		b.resolvePending(p.id, types.ErrRequestTimeout)
	})
	return p, nil
}

// resolvePending delivers the outcome for id and reports whether a
// pending record was actually resolved.
func (b *Back) resolvePending(id string, outcome error) bool {
	b.plk.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.plk.Unlock()
	if !ok {
		return false
	}
	p.timer.Stop()
	p.done <- outcome
	return true
}

// cancelPending resolves every pending record matching the predicate.
func (b *Back) cancelPending(match func(*pendingRequest) bool, outcome error) {
	b.plk.Lock()
	var ids []string
	for id, p := range b.pending {
		if match(p) {
			ids = append(ids, id)
		}
	}
	b.plk.Unlock()
	for _, id := range ids {
		b.resolvePending(id, outcome)
	}
}

// await suspends the calling handler until the pending request resolves.
// The dispatcher mutex is NOT held here; suspension is per-request-id, so
// independent requests keep flowing.
func (b *Back) await(ctx context.Context, p *pendingRequest) error {
	select {
	case outcome := <-p.done:
		return outcome
	case <-ctx.Done():
		b.resolvePending(p.id, ctx.Err())
		// The resolution may have lost the race; honor whichever outcome
		// was delivered.
		select {
		case outcome := <-p.done:
			return outcome
		default:
			return ctx.Err()
		}
	}
}
