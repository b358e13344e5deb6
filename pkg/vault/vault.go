package vault

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/vellumwallet/vellum/pkg/config"
)

var log = logging.Logger("vault")

var (
	// ErrLocked fails any secret-touching operation fast while the lock
	// state machine is in Locked.
	ErrLocked = fmt.Errorf("vault is locked")
	// ErrNoVault means Setup has never run against this datastore.
	ErrNoVault = fmt.Errorf("vault has not been set up")
	// ErrVaultExists refuses a second Setup over existing ciphertext.
	ErrVaultExists = fmt.Errorf("vault already set up, refusing to overwrite")
	// ErrEntryNotFound means no ciphertext exists for the given ref.
	ErrEntryNotFound = fmt.Errorf("no secret entry for the given ref")
)

var (
	masterKey       = ds.NewKey("/master")
	entryPrefix     = ds.NewKey("/entry")
	workingKeyBytes = 32
)

// SecretRef is the opaque handle the account registry stores instead of raw
// secret material.
type SecretRef string

// NewSecretRef allocates a fresh opaque ref.
func NewSecretRef() SecretRef {
	return SecretRef(uuid.New().String())
}

func (r SecretRef) dsKey() ds.Key {
	return entryPrefix.ChildString(string(r))
}

// Vault is the encrypted-at-rest secret store plus the lock state machine
// gating it. Exactly two states exist: Locked (workingKey nil) and
// Unlocked (workingKey sealed in an enclave). The working key is a random
// 32-byte value wrapped under the passphrase-derived scrypt key in the
// master record; the master record doubles as the known-plaintext unlock
// check.
type Vault struct {
	lk  sync.Mutex
	ds  ds.Datastore
	cfg *config.VaultConfig

	// workingKey is non-nil iff Unlocked. Only the Lock/Unlock/Setup
	// transitions ever write it.
	workingKey *memguard.Enclave
}

// New constructs a vault over the given (ciphertext-only) datastore.
func New(d ds.Datastore, cfg *config.VaultConfig) *Vault {
	return &Vault{
		ds:  d,
		cfg: cfg,
	}
}

// Exists reports whether a master record is present.
func (v *Vault) Exists(ctx context.Context) (bool, error) {
	return v.ds.Has(ctx, masterKey)
}

// Setup initializes the vault: generates the working key, wraps it under
// the passphrase and leaves the vault Unlocked.
func (v *Vault) Setup(ctx context.Context, password []byte) error {
	v.lk.Lock()
	defer v.lk.Unlock()

	exists, err := v.ds.Has(ctx, masterKey)
	if err != nil {
		return err
	}
	if exists {
		return ErrVaultExists
	}

	wk := make([]byte, workingKeyBytes)
	if _, err := io.ReadFull(rand.Reader, wk); err != nil {
		return errors.Wrap(err, "reading from crypto/rand failed")
	}

	blob, err := EncryptPayload(wk, password, v.cfg.ScryptN, v.cfg.ScryptP)
	if err != nil {
		wipeBytes(wk)
		return errors.Wrap(err, "failed to wrap working key")
	}
	if err := v.ds.Put(ctx, masterKey, blob); err != nil {
		wipeBytes(wk)
		return errors.Wrap(err, "failed to store master record")
	}

	// NewEnclave wipes wk.
	v.workingKey = memguard.NewEnclave(wk)
	log.Info("vault initialized")
	return nil
}

// Unlock derives a candidate key from the passphrase and attempts to unwrap
// the working key. Failure leaves the state machine exactly where it was.
func (v *Vault) Unlock(ctx context.Context, password []byte) error {
	v.lk.Lock()
	defer v.lk.Unlock()

	wk, err := v.unwrapWorkingKey(ctx, password)
	if err != nil {
		return err
	}
	v.workingKey = memguard.NewEnclave(wk)
	return nil
}

// Lock transitions to Locked and discards the working key. Always succeeds
// and is safe to call repeatedly.
func (v *Vault) Lock() {
	v.lk.Lock()
	defer v.lk.Unlock()

	v.workingKey = nil
}

// Locked reports the current lock state.
func (v *Vault) Locked() bool {
	v.lk.Lock()
	defer v.lk.Unlock()

	return v.workingKey == nil
}

// VerifyPassword re-derives the candidate key and checks it against the
// master record without touching lock state. Reveal and remove paths use
// this as their independent re-authentication, so a left-open session is
// not enough to exfiltrate secrets.
func (v *Vault) VerifyPassword(ctx context.Context, password []byte) error {
	wk, err := v.unwrapWorkingKey(ctx, password)
	if err != nil {
		return err
	}
	wipeBytes(wk)
	return nil
}

// unwrapWorkingKey loads the master record and decrypts the working key
// with the passphrase-derived key. Returns ErrDecrypt on a wrong password.
func (v *Vault) unwrapWorkingKey(ctx context.Context, password []byte) ([]byte, error) {
	blob, err := v.ds.Get(ctx, masterKey)
	if err == ds.ErrNotFound {
		return nil, ErrNoVault
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to load master record")
	}
	return DecryptPayload(blob, password)
}

// Put seals a secret under the working key and stores it at ref. The
// caller keeps ownership of the plaintext buffer.
func (v *Vault) Put(ctx context.Context, ref SecretRef, secret []byte) error {
	v.lk.Lock()
	defer v.lk.Unlock()

	if v.workingKey == nil {
		return ErrLocked
	}
	buf, err := v.workingKey.Open()
	if err != nil {
		return errors.Wrap(err, "failed to open working key enclave")
	}
	defer buf.Destroy()

	cryptoStruct, err := sealWithKey(secret, buf.Bytes())
	if err != nil {
		return err
	}
	blob, err := json.Marshal(envelope{
		Version: envelopeVersion,
		Crypto:  cryptoStruct,
	})
	if err != nil {
		return err
	}
	return v.ds.Put(ctx, ref.dsKey(), blob)
}

// Get opens the entry at ref with the working key. Fails fast with
// ErrLocked while Locked; a wrong or corrupt ciphertext yields ErrDecrypt.
// The returned plaintext is owned by the caller, who should wipe it.
func (v *Vault) Get(ctx context.Context, ref SecretRef) ([]byte, error) {
	v.lk.Lock()
	defer v.lk.Unlock()

	if v.workingKey == nil {
		return nil, ErrLocked
	}
	buf, err := v.workingKey.Open()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open working key enclave")
	}
	defer buf.Destroy()

	return v.getWithKey(ctx, ref, buf.Bytes())
}

// GetWithPassword opens the entry at ref by re-deriving the working key
// from the passphrase, independent of the current lock state. Used by
// reveal paths, which must re-authenticate even while Unlocked.
func (v *Vault) GetWithPassword(ctx context.Context, ref SecretRef, password []byte) ([]byte, error) {
	wk, err := v.unwrapWorkingKey(ctx, password)
	if err != nil {
		return nil, err
	}
	defer wipeBytes(wk)

	return v.getWithKey(ctx, ref, wk)
}

func (v *Vault) getWithKey(ctx context.Context, ref SecretRef, wk []byte) ([]byte, error) {
	blob, err := v.ds.Get(ctx, ref.dsKey())
	if err == ds.ErrNotFound {
		return nil, ErrEntryNotFound
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to load entry %s", ref)
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, err
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("version not supported: %v", env.Version)
	}
	return openWithKey(env.Crypto, wk)
}

// Has reports whether ciphertext exists at ref.
func (v *Vault) Has(ctx context.Context, ref SecretRef) (bool, error) {
	return v.ds.Has(ctx, ref.dsKey())
}

// Remove deletes the ciphertext at ref. Deleting needs no working key;
// re-authentication is enforced a layer up, before the registry calls in.
func (v *Vault) Remove(ctx context.Context, ref SecretRef) error {
	return v.ds.Delete(ctx, ref.dsKey())
}

// Destroy transitions to Locked and deletes every record in the
// datastore, master included. Setup's callers use it to roll a
// half-created vault back to the pristine state.
func (v *Vault) Destroy(ctx context.Context) error {
	v.lk.Lock()
	defer v.lk.Unlock()

	v.workingKey = nil

	res, err := v.ds.Query(ctx, query.Query{KeysOnly: true})
	if err != nil {
		return errors.Wrap(err, "failed to enumerate vault records")
	}
	defer res.Close() // nolint: errcheck

	for r := range res.Next() {
		if r.Error != nil {
			return errors.Wrap(r.Error, "failed to enumerate vault records")
		}
		if err := v.ds.Delete(ctx, ds.RawKey(r.Key)); err != nil {
			return errors.Wrapf(err, "failed to delete vault record %s", r.Key)
		}
	}
	log.Info("vault destroyed")
	return nil
}

// ScryptN exposes the configured KDF cost for export blobs.
func (v *Vault) ScryptN() int { return v.cfg.ScryptN }

// ScryptP exposes the configured KDF parallelism for export blobs.
func (v *Vault) ScryptP() int { return v.cfg.ScryptP }
