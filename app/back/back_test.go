package back

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumwallet/vellum/pkg/clock"
	"github.com/vellumwallet/vellum/pkg/crypto"
	_ "github.com/vellumwallet/vellum/pkg/crypto/ed25519"
	"github.com/vellumwallet/vellum/pkg/repo"
	"github.com/vellumwallet/vellum/pkg/types"
	tf "github.com/vellumwallet/vellum/testhelpers/testflags"
)

const testPassword = "passw0rd"

func newTestBack(t *testing.T) (*Back, clock.Fake) {
	fake := clock.NewFake(time.Unix(1700000000, 0))
	b := NewBack(repo.NewInMemoryRepo(), WithClock(fake))
	return b, fake
}

func mustHandle(t *testing.T, b *Back, req types.Request) types.Response {
	res, err := b.Handle(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func getState(t *testing.T, b *Back) types.FrontState {
	res := mustHandle(t, b, &types.GetStateRequest{})
	return res.(*types.GetStateResponse).State
}

// setupWallet creates an unlocked wallet and returns the default account id.
func setupWallet(t *testing.T, b *Back) string {
	mustHandle(t, b, &types.NewWalletRequest{Password: testPassword})
	st := getState(t, b)
	require.Len(t, st.Accounts, 1)
	require.Equal(t, st.Accounts[0].ID, st.DefaultAccountID)
	return st.DefaultAccountID
}

// waitPendings polls until exactly n approvals are suspended.
func waitPendings(t *testing.T, b *Back, n int) []string {
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.plk.Lock()
		ids := make([]string, 0, len(b.pending))
		for id := range b.pending {
			ids = append(ids, id)
		}
		b.plk.Unlock()
		if len(ids) == n {
			return ids
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d pending approvals, have %d", n, len(ids))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewWalletLifecycle(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)

	st := getState(t, b)
	assert.Equal(t, types.WalletStatusIdle, st.Status)

	id := setupWallet(t, b)
	st = getState(t, b)
	assert.Equal(t, types.WalletStatusUnlocked, st.Status)
	assert.Equal(t, id, st.DefaultAccountID)

	t.Log("a second wallet creation over live ciphertext is refused")
	_, err := b.Handle(context.Background(), &types.NewWalletRequest{Password: "other"})
	assert.ErrorIs(t, err, types.ErrDuplicateAccount)
}

// flakyDatastore fails the next Put against one key, then behaves.
type flakyDatastore struct {
	ds.Batching
	failKey string
	armed   bool
}

func (f *flakyDatastore) Put(ctx context.Context, key ds.Key, value []byte) error {
	if f.armed && key.String() == f.failKey {
		f.armed = false
		return errors.New("disk full")
	}
	return f.Batching.Put(ctx, key, value)
}

type metaOverrideRepo struct {
	repo.Repo
	meta repo.Datastore
}

func (r *metaOverrideRepo) MetaDatastore() repo.Datastore { return r.meta }

// A failure after the master record is written must tear the vault down
// again; a surviving accountless vault would refuse every later retry.
func TestNewWalletRollsBackOnPartialFailure(t *testing.T) {
	tf.UnitTest(t)
	mr := repo.NewInMemoryRepo()
	meta := &flakyDatastore{Batching: mr.MetaDatastore(), failKey: "/accounts", armed: true}
	b := NewBack(
		&metaOverrideRepo{Repo: mr, meta: meta},
		WithClock(clock.NewFake(time.Unix(1700000000, 0))),
	)

	_, err := b.Handle(context.Background(), &types.NewWalletRequest{Password: testPassword})
	require.Error(t, err)

	t.Log("the failed creation leaves no master record behind")
	assert.Equal(t, types.WalletStatusIdle, getState(t, b).Status)

	id := setupWallet(t, b)
	assert.NotEmpty(t, id)
}

func TestLockGatesSecretOperations(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	id := setupWallet(t, b)

	mustHandle(t, b, &types.LockRequest{})
	assert.Equal(t, types.WalletStatusLocked, getState(t, b).Status)

	_, err := b.Handle(context.Background(), &types.CreateAccountRequest{Name: "B"})
	assert.ErrorIs(t, err, types.ErrAuthenticationRequired)

	t.Log("signing fails before any approval is surfaced while locked")
	_, err = b.Handle(context.Background(), &types.SignRequest{
		ID: "s1", SourceAccountID: id, Bytes: "deadbeef",
	})
	assert.ErrorIs(t, err, types.ErrAuthenticationRequired)
	waitPendings(t, b, 0)

	_, err = b.Handle(context.Background(), &types.UnlockRequest{Password: "wrong"})
	assert.ErrorIs(t, err, types.ErrInvalidCredentials)
	assert.Equal(t, types.WalletStatusLocked, getState(t, b).Status)

	mustHandle(t, b, &types.UnlockRequest{Password: testPassword})
	assert.Equal(t, types.WalletStatusUnlocked, getState(t, b).Status)
}

func TestLockIsIdempotent(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	setupWallet(t, b)

	mustHandle(t, b, &types.LockRequest{})
	mustHandle(t, b, &types.LockRequest{})
	assert.Equal(t, types.WalletStatusLocked, getState(t, b).Status)
}

func TestRevealMnemonicThroughDispatcher(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	mnemonic := "legal winner thank year wave sausage worth useful legal winner thank yellow"
	mustHandle(t, b, &types.NewWalletRequest{Password: testPassword, Mnemonic: mnemonic})

	res := mustHandle(t, b, &types.RevealMnemonicRequest{Password: testPassword})
	assert.Equal(t, mnemonic, res.(*types.RevealMnemonicResponse).Mnemonic)

	t.Log("a wrong password fails with InvalidCredentials and leaves the lock state alone")
	_, err := b.Handle(context.Background(), &types.RevealMnemonicRequest{Password: "wrong"})
	assert.ErrorIs(t, err, types.ErrInvalidCredentials)
	assert.Equal(t, types.WalletStatusUnlocked, getState(t, b).Status)
}

func TestGetSigningKeysExportsKeyMaterial(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	id := setupWallet(t, b)

	res := mustHandle(t, b, &types.GetSigningKeysRequest{AccountID: id})
	keys := res.(*types.GetSigningKeysResponse)

	sk, err := hex.DecodeString(keys.SigningKey)
	require.NoError(t, err)
	require.Len(t, sk, ed25519.PrivateKeySize)
	pub, err := hex.DecodeString(keys.PublicKey)
	require.NoError(t, err)

	t.Log("the exported pair is internally consistent and matches the account")
	assert.Equal(t, pub, []byte(ed25519.PrivateKey(sk).Public().(ed25519.PublicKey)))
	assert.Equal(t, getState(t, b).Accounts[0].PublicKey, keys.PublicKey)

	mustHandle(t, b, &types.LockRequest{})
	_, err = b.Handle(context.Background(), &types.GetSigningKeysRequest{AccountID: id})
	assert.ErrorIs(t, err, types.ErrAuthenticationRequired)
}

func TestSignApprovalConfirmed(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	id := setupWallet(t, b)
	payload := []byte("an operation to sign")

	done := make(chan struct{})
	var sig string
	var signErr error
	go func() {
		defer close(done)
		res, err := b.Handle(context.Background(), &types.SignRequest{
			ID:              "req-1",
			SourceAccountID: id,
			Bytes:           hex.EncodeToString(payload),
			Watermark:       crypto.WatermarkOperation,
		})
		if err != nil {
			signErr = err
			return
		}
		sig = res.(*types.SignResponse).Signature
	}()

	waitPendings(t, b, 1)
	mustHandle(t, b, &types.ConfirmationRequest{ID: "req-1", Confirmed: true})
	<-done
	require.NoError(t, signErr)

	t.Log("the signature verifies against the account public key under the same watermark")
	st := getState(t, b)
	pub, err := hex.DecodeString(st.Accounts[0].PublicKey)
	require.NoError(t, err)
	rawSig, err := hex.DecodeString(sig)
	require.NoError(t, err)
	assert.NoError(t, crypto.Verify(crypto.SigTypeEd25519, pub, crypto.WatermarkOperation, payload, rawSig))
	assert.Error(t, crypto.Verify(crypto.SigTypeEd25519, pub, crypto.WatermarkBlock, payload, rawSig))

	t.Log("a second confirmation for the same id finds nothing to resolve")
	_, err = b.Handle(context.Background(), &types.ConfirmationRequest{ID: "req-1", Confirmed: true})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSignApprovalRejected(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	id := setupWallet(t, b)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Handle(context.Background(), &types.SignRequest{
			ID: "req-1", SourceAccountID: id, Bytes: "deadbeef",
		})
		errCh <- err
	}()

	waitPendings(t, b, 1)
	mustHandle(t, b, &types.ConfirmationRequest{ID: "req-1", Confirmed: false})
	assert.ErrorIs(t, <-errCh, types.ErrUserRejected)
}

func TestSignApprovalTimesOut(t *testing.T) {
	tf.UnitTest(t)
	b, fake := newTestBack(t)
	id := setupWallet(t, b)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Handle(context.Background(), &types.SignRequest{
			ID: "req-1", SourceAccountID: id, Bytes: "deadbeef",
		})
		errCh <- err
	}()

	waitPendings(t, b, 1)
	fake.Advance(b.approvalTTL + time.Second)
	assert.ErrorIs(t, <-errCh, types.ErrRequestTimeout)
	waitPendings(t, b, 0)
}

func TestLockCancelsPendingSignatures(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	id := setupWallet(t, b)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Handle(context.Background(), &types.SignRequest{
			ID: "req-1", SourceAccountID: id, Bytes: "deadbeef",
		})
		errCh <- err
	}()

	waitPendings(t, b, 1)
	mustHandle(t, b, &types.LockRequest{})
	assert.ErrorIs(t, <-errCh, types.ErrAuthenticationRequired)
	waitPendings(t, b, 0)
}

// A sign request that passes its signability check while a concurrent Lock
// sweeps the table must be refused at insertion, not parked until its TTL.
func TestLockClosesApprovalAdmissionWindow(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	id := setupWallet(t, b)
	mustHandle(t, b, &types.LockRequest{})

	_, err := b.addPending(&pendingRequest{
		kind: pendingSign, accountID: id, needsKey: true,
	})
	assert.ErrorIs(t, err, types.ErrAuthenticationRequired)
	waitPendings(t, b, 0)
}

func TestOperationsDelegateToBroadcaster(t *testing.T) {
	tf.UnitTest(t)

	t.Log("without a broadcaster collaborator submission fails upstream")
	b, _ := newTestBack(t)
	id := setupWallet(t, b)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Handle(context.Background(), &types.OperationsRequest{
			ID: "op-1", SourceAccountID: id, OpParams: json.RawMessage(`{"amount":"1"}`),
		})
		errCh <- err
	}()
	waitPendings(t, b, 1)
	mustHandle(t, b, &types.ConfirmationRequest{ID: "op-1", Confirmed: true})
	err := <-errCh
	assert.ErrorIs(t, err, &types.WalletError{Code: types.CodeUpstreamFailure})

	t.Log("a plugged broadcaster receives the approved operation")
	fake := clock.NewFake(time.Unix(1700000000, 0))
	br := &stubBroadcaster{hash: "op9f3a"}
	b = NewBack(repo.NewInMemoryRepo(), WithClock(fake), WithBroadcaster(br))
	id = setupWallet(t, b)

	resCh := make(chan types.Response, 1)
	go func() {
		res, err := b.Handle(context.Background(), &types.OperationsRequest{
			ID: "op-2", SourceAccountID: id, NetworkEndpoint: "https://node.example", OpParams: json.RawMessage(`{"amount":"1"}`),
		})
		require.NoError(t, err)
		resCh <- res
	}()
	waitPendings(t, b, 1)
	mustHandle(t, b, &types.ConfirmationRequest{ID: "op-2", Confirmed: true})
	res := <-resCh
	assert.Equal(t, "op9f3a", res.(*types.OperationsResponse).OpHash)
	assert.Equal(t, "https://node.example", br.endpoint)
}

type stubBroadcaster struct {
	hash     string
	endpoint string
}

func (s *stubBroadcaster) Submit(ctx context.Context, endpoint string, key *crypto.KeyInfo, opParams json.RawMessage) (string, error) {
	if key == nil {
		return "", errors.New("no signing key supplied")
	}
	s.endpoint = endpoint
	return s.hash, nil
}

func TestStateUpdatedBroadcasts(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	setupWallet(t, b)

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	mustHandle(t, b, &types.LockRequest{})
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no StateUpdated notification after a mutation")
	}
}

func TestForwardTolerance(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)

	res, err := b.Handle(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, res)

	t.Log("messages from newer page scripts are dropped, never errored")
	raw, err := b.HandleRaw(context.Background(), []byte(`{"type":"SHINY_FUTURE_REQUEST","x":1}`))
	assert.NoError(t, err)
	assert.Nil(t, raw)
}
