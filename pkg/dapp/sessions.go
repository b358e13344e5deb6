package dapp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/vellumwallet/vellum/pkg/types"
)

var log = logging.Logger("dapp")

var sessionsKey = ds.NewKey("/sessions")

// Registry is the per-origin authorization table. Like the account
// registry it is a plaintext JSON document in the metadata datastore,
// mutated only inside the dispatcher's serialized handling.
type Registry struct {
	lk   sync.Mutex
	meta ds.Datastore

	// sessions is keyed by origin; nil until loaded.
	sessions map[string]*types.DAppSession
}

// NewRegistry constructs a session registry over the metadata datastore.
func NewRegistry(meta ds.Datastore) *Registry {
	return &Registry{
		meta: meta,
	}
}

func (r *Registry) load(ctx context.Context) error {
	if r.sessions != nil {
		return nil
	}
	blob, err := r.meta.Get(ctx, sessionsKey)
	if err == ds.ErrNotFound {
		r.sessions = make(map[string]*types.DAppSession)
		return nil
	} else if err != nil {
		return errors.Wrap(err, "failed to load session registry")
	}
	var sessions []*types.DAppSession
	if err := json.Unmarshal(blob, &sessions); err != nil {
		return errors.Wrap(err, "corrupt session registry document")
	}
	r.sessions = make(map[string]*types.DAppSession, len(sessions))
	for _, s := range sessions {
		r.sessions[s.Origin] = s
	}
	return nil
}

func (r *Registry) persist(ctx context.Context) error {
	blob, err := json.Marshal(r.snapshot())
	if err != nil {
		return err
	}
	return r.meta.Put(ctx, sessionsKey, blob)
}

// snapshot returns sessions ordered by creation time for a stable wire
// form.
func (r *Registry) snapshot() []types.DAppSession {
	out := make([]types.DAppSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// GetAll returns every session.
func (r *Registry) GetAll(ctx context.Context) ([]types.DAppSession, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	return r.snapshot(), nil
}

// Get returns the session for an origin, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, origin string) (*types.DAppSession, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	s, ok := r.sessions[origin]
	if !ok {
		return nil, types.ErrNotFound
	}
	cpy := *s
	return &cpy, nil
}

// Authorize records (or extends) the origin's grant over the given
// accounts.
func (r *Registry) Authorize(ctx context.Context, origin, appName string, accountIDs []string) error {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return err
	}
	s, ok := r.sessions[origin]
	if !ok {
		s = &types.DAppSession{
			Origin:    origin,
			CreatedAt: time.Now().UTC(),
		}
		r.sessions[origin] = s
	}
	if appName != "" {
		s.AppName = appName
	}
	for _, id := range accountIDs {
		if !contains(s.GrantedAccountIDs, id) {
			s.GrantedAccountIDs = append(s.GrantedAccountIDs, id)
		}
	}
	if err := r.persist(ctx); err != nil {
		return err
	}
	log.Infow("dapp session authorized", "origin", origin, "accounts", len(s.GrantedAccountIDs))
	return nil
}

// Remove revokes the origin's session and returns the remaining sessions.
func (r *Registry) Remove(ctx context.Context, origin string) ([]types.DAppSession, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	if _, ok := r.sessions[origin]; !ok {
		return nil, types.ErrNotFound
	}
	delete(r.sessions, origin)
	if err := r.persist(ctx); err != nil {
		return nil, err
	}
	return r.snapshot(), nil
}

// CanSign reports whether the origin has been granted signing access to
// the account. Grants are strictly per-origin; no session ever confers
// access to another origin's accounts.
func (r *Registry) CanSign(ctx context.Context, origin, accountID string) (bool, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return false, err
	}
	s, ok := r.sessions[origin]
	if !ok {
		return false, nil
	}
	return contains(s.GrantedAccountIDs, accountID), nil
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
