// stm: #unit
package crypto_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumwallet/vellum/pkg/crypto"
	_ "github.com/vellumwallet/vellum/pkg/crypto/ed25519"
	tf "github.com/vellumwallet/vellum/testhelpers/testflags"
)

func TestSignAndVerify(t *testing.T) {
	tf.UnitTest(t)

	priv, err := crypto.GenPrivateFromSeed(crypto.SigTypeEd25519, rand.Reader)
	require.NoError(t, err)
	pub, err := crypto.ToPublic(crypto.SigTypeEd25519, priv)
	require.NoError(t, err)

	data := []byte("data to be signed")
	sig, err := crypto.Sign(crypto.SigTypeEd25519, priv, crypto.WatermarkOperation, data)
	require.NoError(t, err)

	assert.NoError(t, crypto.Verify(crypto.SigTypeEd25519, pub, crypto.WatermarkOperation, data, sig))

	t.Log("a different watermark must not verify")
	assert.Error(t, crypto.Verify(crypto.SigTypeEd25519, pub, crypto.WatermarkBlock, data, sig))

	t.Log("tampered data must not verify")
	assert.Error(t, crypto.Verify(crypto.SigTypeEd25519, pub, crypto.WatermarkOperation, []byte("other data"), sig))
}

func TestWatermarkSeparatesDigests(t *testing.T) {
	tf.UnitTest(t)

	data := []byte("payload")
	assert.NotEqual(t, crypto.Digest(crypto.WatermarkOperation, data), crypto.Digest(crypto.WatermarkBlock, data))
}

func TestAddressDeterminism(t *testing.T) {
	tf.UnitTest(t)

	seed := bytes.Repeat([]byte{0x7f}, 32)
	ki1, err := crypto.NewKeyFromSeed(crypto.SigTypeEd25519, seed2())
	require.NoError(t, err)
	ki2, err := crypto.NewKeyFromSeed(crypto.SigTypeEd25519, seed2())
	require.NoError(t, err)

	a1, err := ki1.Address()
	require.NoError(t, err)
	a2, err := ki2.Address()
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Len(t, a1, 40)

	ki3, err := crypto.NewKeyFromSeed(crypto.SigTypeEd25519, seed)
	require.NoError(t, err)
	a3, err := ki3.Address()
	require.NoError(t, err)
	assert.NotEqual(t, a1, a3)
}

func seed2() []byte {
	return bytes.Repeat([]byte{0x11}, 32)
}

func TestKeyInfoJSONRoundTrip(t *testing.T) {
	tf.UnitTest(t)

	ki, err := crypto.NewKeyFromSeed(crypto.SigTypeEd25519, seed2())
	require.NoError(t, err)

	b, err := ki.MarshalJSON()
	require.NoError(t, err)

	var back crypto.KeyInfo
	require.NoError(t, back.UnmarshalJSON(b))
	assert.Equal(t, crypto.SigTypeEd25519, back.SigType)

	wantAddr, err := ki.Address()
	require.NoError(t, err)
	gotAddr, err := back.Address()
	require.NoError(t, err)
	assert.Equal(t, wantAddr, gotAddr)
}

func TestHDDerivation(t *testing.T) {
	tf.UnitTest(t)

	master := bytes.Repeat([]byte{0x42}, 64)

	t.Log("same seed and path derive the same key")
	k1, err := crypto.DeriveSeedFromPath(master, crypto.HDPathForIndex(0))
	require.NoError(t, err)
	k2, err := crypto.DeriveSeedFromPath(master, crypto.HDPathForIndex(0))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	t.Log("sibling indexes diverge")
	k3, err := crypto.DeriveSeedFromPath(master, crypto.HDPathForIndex(1))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	t.Log("short master seed is rejected")
	_, err = crypto.DeriveSeedFromPath([]byte("short"), crypto.HDPathForIndex(0))
	assert.Error(t, err)
}
