// stm: #unit
package vault

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ipfs/go-datastore"
	dss "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellumwallet/vellum/pkg/config"
	tf "github.com/vellumwallet/vellum/testhelpers/testflags"
)

var testPassword = []byte("test-password")

func newTestVault(t *testing.T) *Vault {
	t.Log("create a vault over a map datastore")
	d := dss.MutexWrap(datastore.NewMapDatastore())
	return New(d, config.TestPassphraseConfig())
}

func TestSetupUnlockLockCycle(t *testing.T) {
	tf.UnitTest(t)

	ctx := context.Background()
	v := newTestVault(t)

	exists, err := v.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.True(t, v.Locked())

	t.Log("setup leaves the vault unlocked")
	require.NoError(t, v.Setup(ctx, testPassword))
	assert.False(t, v.Locked())

	exists, err = v.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	t.Log("second setup is refused")
	assert.Equal(t, ErrVaultExists, v.Setup(ctx, testPassword))

	t.Log("lock is idempotent")
	v.Lock()
	assert.True(t, v.Locked())
	v.Lock()
	assert.True(t, v.Locked())

	t.Log("wrong password stays locked")
	assert.Equal(t, ErrDecrypt, v.Unlock(ctx, []byte("wrong")))
	assert.True(t, v.Locked())

	t.Log("correct password unlocks")
	require.NoError(t, v.Unlock(ctx, testPassword))
	assert.False(t, v.Locked())
}

func TestPutGetRemove(t *testing.T) {
	tf.UnitTest(t)

	ctx := context.Background()
	v := newTestVault(t)
	require.NoError(t, v.Setup(ctx, testPassword))

	ref := NewSecretRef()
	secret := []byte("super secret material")
	require.NoError(t, v.Put(ctx, ref, secret))

	got, err := v.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	has, err := v.Has(ctx, ref)
	require.NoError(t, err)
	assert.True(t, has)

	t.Log("locked vault fails fast, returning no plaintext")
	v.Lock()
	_, err = v.Get(ctx, ref)
	assert.Equal(t, ErrLocked, err)
	assert.Equal(t, ErrLocked, v.Put(ctx, NewSecretRef(), []byte("x")))

	t.Log("remove works regardless of lock state")
	require.NoError(t, v.Remove(ctx, ref))
	require.NoError(t, v.Unlock(ctx, testPassword))
	_, err = v.Get(ctx, ref)
	assert.Equal(t, ErrEntryNotFound, err)
}

func TestGetWithPasswordIgnoresLockState(t *testing.T) {
	tf.UnitTest(t)

	ctx := context.Background()
	v := newTestVault(t)
	require.NoError(t, v.Setup(ctx, testPassword))

	ref := NewSecretRef()
	require.NoError(t, v.Put(ctx, ref, []byte("mnemonic words here")))

	v.Lock()

	t.Log("correct password opens the entry even while locked")
	got, err := v.GetWithPassword(ctx, ref, testPassword)
	require.NoError(t, err)
	assert.Equal(t, []byte("mnemonic words here"), got)
	assert.True(t, v.Locked(), "reveal must not mutate lock state")

	t.Log("wrong password is a deterministic decrypt failure")
	_, err = v.GetWithPassword(ctx, ref, []byte("wrong"))
	assert.Equal(t, ErrDecrypt, err)
	assert.True(t, v.Locked())
}

func TestVerifyPassword(t *testing.T) {
	tf.UnitTest(t)

	ctx := context.Background()
	v := newTestVault(t)

	t.Log("verify before setup reports no vault")
	assert.Equal(t, ErrNoVault, v.VerifyPassword(ctx, testPassword))

	require.NoError(t, v.Setup(ctx, testPassword))
	assert.NoError(t, v.VerifyPassword(ctx, testPassword))
	assert.Equal(t, ErrDecrypt, v.VerifyPassword(ctx, []byte("wrong")))

	t.Log("verification works while locked and leaves the vault locked")
	v.Lock()
	assert.NoError(t, v.VerifyPassword(ctx, testPassword))
	assert.True(t, v.Locked())
}

func TestTamperedCiphertextFailsDeterministically(t *testing.T) {
	tf.UnitTest(t)

	ctx := context.Background()
	d := dss.MutexWrap(datastore.NewMapDatastore())
	v := New(d, config.TestPassphraseConfig())
	require.NoError(t, v.Setup(ctx, testPassword))

	ref := NewSecretRef()
	require.NoError(t, v.Put(ctx, ref, []byte("payload")))

	t.Log("flip a ciphertext byte under the MAC")
	blob, err := d.Get(ctx, ref.dsKey())
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(blob, &env))
	ct := []byte(env.Crypto.CipherText)
	if ct[0] == 'a' {
		ct[0] = 'b'
	} else {
		ct[0] = 'a'
	}
	env.Crypto.CipherText = string(ct)
	tampered, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, d.Put(ctx, ref.dsKey(), tampered))

	_, err = v.Get(ctx, ref)
	assert.Equal(t, ErrDecrypt, err)
}

func TestEncryptDecryptPayloadRoundTrip(t *testing.T) {
	tf.UnitTest(t)

	cfg := config.TestPassphraseConfig()
	blob, err := EncryptPayload([]byte("exported key"), []byte("pw"), cfg.ScryptN, cfg.ScryptP)
	require.NoError(t, err)

	got, err := DecryptPayload(blob, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, []byte("exported key"), got)

	_, err = DecryptPayload(blob, []byte("other"))
	assert.Equal(t, ErrDecrypt, err)
}

// Envelopes arrive from untrusted input on key import, so missing or
// mistyped KDF params must surface as errors rather than panics.
func TestDecryptPayloadMalformedEnvelope(t *testing.T) {
	tf.UnitTest(t)

	blobs := map[string]string{
		"no kdfparams":    `{"version":1,"crypto":{"cipher":"aes-128-ctr","ciphertext":"00","cipherparams":{"iv":"00000000000000000000000000000000"},"kdf":"scrypt","mac":"00"}}`,
		"salt not hex":    `{"version":1,"crypto":{"cipher":"aes-128-ctr","ciphertext":"00","cipherparams":{"iv":"00000000000000000000000000000000"},"kdf":"scrypt","kdfparams":{"salt":"zz","dklen":32,"n":16,"r":8,"p":1},"mac":"00"}}`,
		"salt wrong type": `{"version":1,"crypto":{"cipher":"aes-128-ctr","ciphertext":"00","cipherparams":{"iv":"00000000000000000000000000000000"},"kdf":"scrypt","kdfparams":{"salt":7,"dklen":32,"n":16,"r":8,"p":1},"mac":"00"}}`,
		"n wrong type":    `{"version":1,"crypto":{"cipher":"aes-128-ctr","ciphertext":"00","cipherparams":{"iv":"00000000000000000000000000000000"},"kdf":"scrypt","kdfparams":{"salt":"0000","dklen":32,"n":"16","r":8,"p":1},"mac":"00"}}`,
		"missing dklen":   `{"version":1,"crypto":{"cipher":"aes-128-ctr","ciphertext":"00","cipherparams":{"iv":"00000000000000000000000000000000"},"kdf":"scrypt","kdfparams":{"salt":"0000","n":16,"r":8,"p":1},"mac":"00"}}`,
	}
	for name, blob := range blobs {
		_, err := DecryptPayload([]byte(blob), []byte("pw"))
		assert.Error(t, err, name)
	}
}
