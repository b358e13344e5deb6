package back

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumwallet/vellum/pkg/types"
	tf "github.com/vellumwallet/vellum/testhelpers/testflags"
)

func pageReq(t *testing.T, origin string, msg types.PageMessage) *types.PageRequest {
	payload, err := types.EncodePageMessage(msg)
	require.NoError(t, err)
	return &types.PageRequest{Origin: origin, Payload: payload}
}

func setDAppsEnabled(t *testing.T, b *Back, enabled bool) {
	mustHandle(t, b, &types.UpdateSettingsRequest{
		Settings: types.SettingsPatch{DAppsEnabled: &enabled},
	})
}

// connect runs the page handshake for an origin and returns the granted
// account ids.
func connect(t *testing.T, b *Back, origin, appName string) []string {
	resCh := make(chan types.Response, 1)
	go func() {
		res, err := b.Handle(context.Background(), pageReq(t, origin, &types.PageConnect{AppName: appName}))
		require.NoError(t, err)
		resCh <- res
	}()
	ids := waitPendings(t, b, 1)
	mustHandle(t, b, &types.ConfirmationRequest{ID: ids[0], Confirmed: true})
	res := <-resCh

	var result types.PageConnectResult
	require.NoError(t, json.Unmarshal(res.(*types.PageResponse).Payload, &result))
	return result.AccountIDs
}

func TestPingAnswersOnlyWhenEnabled(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	setupWallet(t, b)

	t.Log("with dApp access disabled no page payload gets any response")
	setDAppsEnabled(t, b, false)
	res, err := b.Handle(context.Background(), pageReq(t, "https://dapp.example", &types.Ping{}))
	assert.NoError(t, err)
	assert.Nil(t, res)

	setDAppsEnabled(t, b, true)
	res, err = b.Handle(context.Background(), pageReq(t, "https://dapp.example", &types.Ping{}))
	require.NoError(t, err)
	var pong string
	require.NoError(t, json.Unmarshal(res.(*types.PageResponse).Payload, &pong))
	assert.Equal(t, string(types.PagePong), pong)
}

func TestPageConnectGrantsSession(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	id := setupWallet(t, b)

	granted := connect(t, b, "https://dapp.example", "Example DApp")
	assert.Equal(t, []string{id}, granted)

	st := getState(t, b)
	require.Len(t, st.Sessions, 1)
	assert.Equal(t, "https://dapp.example", st.Sessions[0].Origin)
	assert.Equal(t, "Example DApp", st.Sessions[0].AppName)
}

func TestPageConnectRejected(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	setupWallet(t, b)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Handle(context.Background(), pageReq(t, "https://dapp.example", &types.PageConnect{}))
		errCh <- err
	}()
	ids := waitPendings(t, b, 1)
	mustHandle(t, b, &types.ConfirmationRequest{ID: ids[0], Confirmed: false})
	assert.ErrorIs(t, <-errCh, types.ErrUserRejected)
	assert.Empty(t, getState(t, b).Sessions)
}

func TestPageSignIsolatedPerOrigin(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	id := setupWallet(t, b)
	connect(t, b, "https://a.example", "A")

	t.Log("an origin without a grant for the account gets NotFound, not an approval")
	_, err := b.Handle(context.Background(), pageReq(t, "https://b.example", &types.PageSign{
		ID: "s1", SourceAccountID: id, Bytes: "deadbeef",
	}))
	assert.ErrorIs(t, err, types.ErrNotFound)
	waitPendings(t, b, 0)

	resCh := make(chan types.Response, 1)
	go func() {
		res, err := b.Handle(context.Background(), pageReq(t, "https://a.example", &types.PageSign{
			ID: "s2", SourceAccountID: id, Bytes: "deadbeef",
		}))
		require.NoError(t, err)
		resCh <- res
	}()
	waitPendings(t, b, 1)
	mustHandle(t, b, &types.ConfirmationRequest{ID: "s2", Confirmed: true})
	res := <-resCh
	var result types.PageSignResult
	require.NoError(t, json.Unmarshal(res.(*types.PageResponse).Payload, &result))
	assert.NotEmpty(t, result.Signature)
}

func TestDisconnectRevokesAndRejectsInFlight(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	id := setupWallet(t, b)
	connect(t, b, "https://a.example", "A")

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Handle(context.Background(), pageReq(t, "https://a.example", &types.PageSign{
			ID: "s1", SourceAccountID: id, Bytes: "deadbeef",
		}))
		errCh <- err
	}()
	waitPendings(t, b, 1)

	_, err := b.Handle(context.Background(), pageReq(t, "https://a.example", &types.PageDisconnect{}))
	require.NoError(t, err)
	assert.ErrorIs(t, <-errCh, types.ErrUserRejected)
	assert.Empty(t, getState(t, b).Sessions)
}

func TestRemoveSessionFromTrustedContext(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	id := setupWallet(t, b)
	connect(t, b, "https://a.example", "A")
	connect(t, b, "https://b.example", "B")

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Handle(context.Background(), pageReq(t, "https://a.example", &types.PageSign{
			ID: "s1", SourceAccountID: id, Bytes: "deadbeef",
		}))
		errCh <- err
	}()
	waitPendings(t, b, 1)

	res := mustHandle(t, b, &types.DAppRemoveSessionRequest{Origin: "https://a.example"})
	remaining := res.(*types.DAppRemoveSessionResponse).Sessions
	require.Len(t, remaining, 1)
	assert.Equal(t, "https://b.example", remaining[0].Origin)

	t.Log("the revoked origin's suspended sign resolves as rejected")
	assert.ErrorIs(t, <-errCh, types.ErrUserRejected)
	waitPendings(t, b, 0)
}

func TestUnknownPagePayloadDropped(t *testing.T) {
	tf.UnitTest(t)
	b, _ := newTestBack(t)
	setupWallet(t, b)

	res, err := b.Handle(context.Background(), &types.PageRequest{
		Origin:  "https://dapp.example",
		Payload: json.RawMessage(`{"type":"FANCY_NEW_THING"}`),
	})
	assert.NoError(t, err)
	assert.Nil(t, res)
}
