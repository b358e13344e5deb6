package wallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	ds "github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/vellumwallet/vellum/pkg/crypto"
	"github.com/vellumwallet/vellum/pkg/types"
	"github.com/vellumwallet/vellum/pkg/vault"
)

var log = logging.Logger("wallet")

// rootMnemonicRef is the reserved vault ref holding the single root
// mnemonic all HD accounts derive from.
const rootMnemonicRef = vault.SecretRef("root-mnemonic")

const mnemonicEntropyBits = 128

var accountsKey = ds.NewKey("/accounts")

// Registry is the in-memory account catalog, persisted as a plaintext JSON
// document in the metadata datastore. Mutations happen only inside the
// dispatcher's serialized handling, so a single mutex suffices.
type Registry struct {
	lk    sync.Mutex
	meta  ds.Datastore
	vault *vault.Vault

	// accounts is the cache of the persisted document; nil until loaded.
	accounts []*Account
}

// NewRegistry constructs a registry over the metadata datastore and the
// vault holding the referenced secrets.
func NewRegistry(meta ds.Datastore, v *vault.Vault) *Registry {
	return &Registry{
		meta:  meta,
		vault: v,
	}
}

func (r *Registry) load(ctx context.Context) error {
	if r.accounts != nil {
		return nil
	}
	blob, err := r.meta.Get(ctx, accountsKey)
	if err == ds.ErrNotFound {
		r.accounts = []*Account{}
		return nil
	} else if err != nil {
		return errors.Wrap(err, "failed to load account registry")
	}
	var accounts []*Account
	if err := json.Unmarshal(blob, &accounts); err != nil {
		return errors.Wrap(err, "corrupt account registry document")
	}
	r.accounts = accounts
	return nil
}

func (r *Registry) persist(ctx context.Context) error {
	blob, err := json.Marshal(r.accounts)
	if err != nil {
		return err
	}
	return r.meta.Put(ctx, accountsKey, blob)
}

// List returns a copy of all accounts in registration order.
func (r *Registry) List(ctx context.Context) ([]*Account, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	cpy := make([]*Account, len(r.accounts))
	copy(cpy, r.accounts)
	return cpy, nil
}

// Get returns the account with the given id.
func (r *Registry) Get(ctx context.Context, id string) (*Account, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	return r.byID(ctx, id)
}

func (r *Registry) byID(ctx context.Context, id string) (*Account, error) {
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	for _, a := range r.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, types.ErrNotFound
}

func (r *Registry) hasID(id string) bool {
	for _, a := range r.accounts {
		if a.ID == id {
			return true
		}
	}
	return false
}

func (r *Registry) register(ctx context.Context, a *Account) error {
	if r.hasID(a.ID) {
		return types.ErrDuplicateAccount
	}
	r.accounts = append(r.accounts, a)
	if err := r.persist(ctx); err != nil {
		r.accounts = r.accounts[:len(r.accounts)-1]
		return err
	}
	log.Infow("account registered", "id", a.ID, "kind", a.Kind)
	return nil
}

// InitRoot stores the root mnemonic for HD derivation. Used by wallet
// restore; Create generates a root lazily when none exists.
func (r *Registry) InitRoot(ctx context.Context, mnemonic string) error {
	r.lk.Lock()
	defer r.lk.Unlock()

	return r.initRoot(ctx, mnemonic)
}

func (r *Registry) initRoot(ctx context.Context, mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return types.UpstreamFailure(fmt.Errorf("invalid mnemonic"))
	}
	has, err := r.vault.Has(ctx, rootMnemonicRef)
	if err != nil {
		return err
	}
	if has {
		return types.ErrDuplicateAccount
	}
	return mapVaultErr(r.vault.Put(ctx, rootMnemonicRef, []byte(mnemonic)))
}

// Create derives the next HD account from the root mnemonic, generating
// fresh entropy when no root exists yet. The mnemonic return value is
// non-empty only in the fresh-entropy case: that is the one and only time
// it is handed out without a reveal.
func (r *Registry) Create(ctx context.Context, name string) (*Account, string, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return nil, "", err
	}
	if r.vault.Locked() {
		return nil, "", types.ErrAuthenticationRequired
	}

	freshMnemonic := ""
	has, err := r.vault.Has(ctx, rootMnemonicRef)
	if err != nil {
		return nil, "", err
	}
	if !has {
		entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
		if err != nil {
			return nil, "", err
		}
		m, err := bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, "", err
		}
		if err := r.initRoot(ctx, m); err != nil {
			return nil, "", err
		}
		freshMnemonic = m
	}

	mnemonic, err := r.vault.Get(ctx, rootMnemonicRef)
	if err != nil {
		return nil, "", mapVaultErr(err)
	}
	defer wipe(mnemonic)

	index := r.nextHDIndex()
	ki, err := deriveHDKey(string(mnemonic), index)
	if err != nil {
		return nil, "", err
	}

	a, err := r.accountFromKey(ki, name, types.AccountKindHD)
	if err != nil {
		return nil, "", err
	}
	if a.Name == "" {
		a.Name = fmt.Sprintf("Account %d", len(r.accounts)+1)
	}
	a.SecretRef = rootMnemonicRef
	a.HDIndex = index
	a.DerivationPath = fmt.Sprintf("m/44'/1729'/%d'", index)

	if err := r.register(ctx, a); err != nil {
		return nil, "", err
	}
	return a, freshMnemonic, nil
}

func (r *Registry) nextHDIndex() uint32 {
	next := uint32(0)
	for _, a := range r.accounts {
		if a.Kind == types.AccountKindHD && a.HDIndex >= next {
			next = a.HDIndex + 1
		}
	}
	return next
}

func (r *Registry) accountFromKey(ki crypto.KeyInfo, name string, kind types.AccountKind) (*Account, error) {
	pub, err := ki.PublicKey()
	if err != nil {
		return nil, err
	}
	return &Account{
		ID:        crypto.AddressFromPubKey(pub),
		Name:      strings.TrimSpace(name),
		Kind:      kind,
		PublicKey: hex.EncodeToString(pub),
	}, nil
}

// ImportMnemonic registers the index-0 key of the given mnemonic as an
// imported account.
func (r *Registry) ImportMnemonic(ctx context.Context, mnemonic, name string) (*Account, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	if r.vault.Locked() {
		return nil, types.ErrAuthenticationRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, types.UpstreamFailure(fmt.Errorf("invalid mnemonic"))
	}

	ki, err := deriveHDKey(mnemonic, 0)
	if err != nil {
		return nil, err
	}
	return r.importKey(ctx, ki, name)
}

// ImportPrivateKey registers a raw private key. The key is hex: either a
// 32-byte seed or a full 64-byte expanded key. When encPassword is set,
// privateKey is instead an encrypted export blob (see vault.EncryptPayload)
// whose payload is that hex.
func (r *Registry) ImportPrivateKey(ctx context.Context, privateKey, encPassword, name string) (*Account, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	if r.vault.Locked() {
		return nil, types.ErrAuthenticationRequired
	}

	if encPassword != "" {
		plain, err := vault.DecryptPayload([]byte(privateKey), []byte(encPassword))
		if err == vault.ErrDecrypt {
			return nil, types.ErrInvalidCredentials
		} else if err != nil {
			return nil, types.UpstreamFailure(err)
		}
		privateKey = string(plain)
		wipe(plain)
	}

	ki, err := keyFromHex(privateKey)
	if err != nil {
		return nil, types.UpstreamFailure(err)
	}
	return r.importKey(ctx, ki, name)
}

// ImportFundraiser registers a legacy fundraiser account: the seed is the
// mnemonic stretched with email+password as the BIP-39 passphrase.
func (r *Registry) ImportFundraiser(ctx context.Context, email, password, mnemonic string) (*Account, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	if r.vault.Locked() {
		return nil, types.ErrAuthenticationRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, types.UpstreamFailure(fmt.Errorf("invalid mnemonic"))
	}

	seed := bip39.NewSeed(mnemonic, email+password)
	defer wipe(seed)

	ki, err := crypto.NewKeyFromSeed(crypto.SigTypeEd25519, seed[:32])
	if err != nil {
		return nil, err
	}
	return r.importKey(ctx, ki, "")
}

func (r *Registry) importKey(ctx context.Context, ki crypto.KeyInfo, name string) (*Account, error) {
	if name == "" {
		name = fmt.Sprintf("Account %d", len(r.accounts)+1)
	}
	a, err := r.accountFromKey(ki, name, types.AccountKindImported)
	if err != nil {
		return nil, err
	}
	if r.hasID(a.ID) {
		return nil, types.ErrDuplicateAccount
	}

	blob, err := json.Marshal(ki)
	if err != nil {
		return nil, err
	}
	ref := vault.NewSecretRef()
	if err := r.vault.Put(ctx, ref, blob); err != nil {
		wipe(blob)
		return nil, mapVaultErr(err)
	}
	wipe(blob)
	a.SecretRef = ref

	if err := r.register(ctx, a); err != nil {
		// Roll the vault entry back so no partial import survives.
		_ = r.vault.Remove(ctx, ref)
		return nil, err
	}
	return a, nil
}

// ImportWatchOnly registers an address-only account with no vault entry.
func (r *Registry) ImportWatchOnly(ctx context.Context, address, chainID string) (*Account, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, types.UpstreamFailure(fmt.Errorf("empty address"))
	}

	a := &Account{
		ID:      address,
		Name:    fmt.Sprintf("Watch-only %d", r.countKind(types.AccountKindWatchOnly)+1),
		Kind:    types.AccountKindWatchOnly,
		ChainID: chainID,
	}
	if err := r.register(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// CreateLedger registers a hardware-backed account. The public key is read
// from the device by the UI collaborator; the backend only bookkeeps it.
func (r *Registry) CreateLedger(ctx context.Context, name, derivationPath, publicKey string) (*Account, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	pub, err := hex.DecodeString(publicKey)
	if err != nil || len(pub) == 0 {
		return nil, types.UpstreamFailure(fmt.Errorf("invalid ledger public key"))
	}

	a := &Account{
		ID:             crypto.AddressFromPubKey(pub),
		Name:           strings.TrimSpace(name),
		Kind:           types.AccountKindLedger,
		PublicKey:      publicKey,
		DerivationPath: derivationPath,
	}
	if err := r.register(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ImportManagedContract registers a contract administered by an existing
// account's key.
func (r *Registry) ImportManagedContract(ctx context.Context, address, chainID, owner string) (*Account, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	if _, err := r.byID(ctx, owner); err != nil {
		return nil, err
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, types.UpstreamFailure(fmt.Errorf("empty contract address"))
	}

	a := &Account{
		ID:      address,
		Name:    fmt.Sprintf("Contract %d", r.countKind(types.AccountKindManagedContract)+1),
		Kind:    types.AccountKindManagedContract,
		ChainID: chainID,
		Owner:   owner,
	}
	if err := r.register(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *Registry) countKind(kind types.AccountKind) int {
	n := 0
	for _, a := range r.accounts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Remove deletes the account after re-verifying the passphrase. Imported
// accounts drop their vault entry too; the shared HD root survives because
// it backs mnemonic reveal and the remaining HD accounts.
func (r *Registry) Remove(ctx context.Context, id string, password []byte) error {
	r.lk.Lock()
	defer r.lk.Unlock()

	if err := r.load(ctx); err != nil {
		return err
	}
	a, err := r.byID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.vault.VerifyPassword(ctx, password); err != nil {
		return mapPasswordErr(err)
	}

	if a.Kind == types.AccountKindImported && a.SecretRef != "" {
		if err := r.vault.Remove(ctx, a.SecretRef); err != nil {
			return errors.Wrap(err, "failed to remove secret entry")
		}
	}

	kept := r.accounts[:0]
	for _, other := range r.accounts {
		if other.ID != id {
			kept = append(kept, other)
		}
	}
	r.accounts = kept
	return r.persist(ctx)
}

// Rename updates the display name.
func (r *Registry) Rename(ctx context.Context, id, name string) error {
	r.lk.Lock()
	defer r.lk.Unlock()

	a, err := r.byID(ctx, id)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return types.UpstreamFailure(fmt.Errorf("empty account name"))
	}
	a.Name = name
	return r.persist(ctx)
}

// RevealPublicKey returns the account's public key; address-only kinds
// have none.
func (r *Registry) RevealPublicKey(ctx context.Context, id string) (string, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	a, err := r.byID(ctx, id)
	if err != nil {
		return "", err
	}
	if a.PublicKey == "" {
		return "", types.ErrNotFound
	}
	return a.PublicKey, nil
}

// RevealPrivateKey re-verifies the passphrase (independent of lock state)
// and returns the account's private key hex.
func (r *Registry) RevealPrivateKey(ctx context.Context, id string, password []byte) (string, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	a, err := r.byID(ctx, id)
	if err != nil {
		return "", err
	}

	var ki crypto.KeyInfo
	switch a.Kind {
	case types.AccountKindHD:
		mnemonic, err := r.vault.GetWithPassword(ctx, rootMnemonicRef, password)
		if err != nil {
			return "", mapPasswordErr(err)
		}
		ki, err = deriveHDKey(string(mnemonic), a.HDIndex)
		wipe(mnemonic)
		if err != nil {
			return "", err
		}
	case types.AccountKindImported:
		blob, err := r.vault.GetWithPassword(ctx, a.SecretRef, password)
		if err != nil {
			return "", mapPasswordErr(err)
		}
		err = json.Unmarshal(blob, &ki)
		wipe(blob)
		if err != nil {
			return "", errors.Wrap(err, "corrupt key entry")
		}
	default:
		return "", types.UpstreamFailure(fmt.Errorf("account holds no local private key"))
	}

	key := ki.Key()
	defer wipe(key)
	return hex.EncodeToString(key), nil
}

// RevealMnemonic re-verifies the passphrase and returns the root mnemonic.
func (r *Registry) RevealMnemonic(ctx context.Context, password []byte) (string, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	mnemonic, err := r.vault.GetWithPassword(ctx, rootMnemonicRef, password)
	if err == vault.ErrEntryNotFound {
		return "", types.ErrNotFound
	} else if err != nil {
		return "", mapPasswordErr(err)
	}
	m := string(mnemonic)
	wipe(mnemonic)
	return m, nil
}

// SigningKeyInfo resolves the key material needed to sign for the account.
// Requires Unlocked; managed contracts sign through their owner's key.
func (r *Registry) SigningKeyInfo(ctx context.Context, id string) (*crypto.KeyInfo, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	return r.signingKeyInfo(ctx, id, 0)
}

func (r *Registry) signingKeyInfo(ctx context.Context, id string, depth int) (*crypto.KeyInfo, error) {
	if depth > 1 {
		return nil, types.UpstreamFailure(fmt.Errorf("managed-contract owner chain too deep"))
	}
	a, err := r.byID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch a.Kind {
	case types.AccountKindHD:
		mnemonic, err := r.vault.Get(ctx, rootMnemonicRef)
		if err != nil {
			return nil, mapVaultErr(err)
		}
		ki, err := deriveHDKey(string(mnemonic), a.HDIndex)
		wipe(mnemonic)
		if err != nil {
			return nil, err
		}
		return &ki, nil
	case types.AccountKindImported:
		blob, err := r.vault.Get(ctx, a.SecretRef)
		if err != nil {
			return nil, mapVaultErr(err)
		}
		ki := new(crypto.KeyInfo)
		err = json.Unmarshal(blob, ki)
		wipe(blob)
		if err != nil {
			return nil, errors.Wrap(err, "corrupt key entry")
		}
		return ki, nil
	case types.AccountKindManagedContract:
		return r.signingKeyInfo(ctx, a.Owner, depth+1)
	default:
		return nil, types.UpstreamFailure(fmt.Errorf("account %s cannot sign locally", id))
	}
}

// HasRoot reports whether the root mnemonic exists.
func (r *Registry) HasRoot(ctx context.Context) (bool, error) {
	return r.vault.Has(ctx, rootMnemonicRef)
}

func deriveHDKey(mnemonic string, index uint32) (crypto.KeyInfo, error) {
	seed := bip39.NewSeed(mnemonic, "")
	defer wipe(seed)

	leaf, err := crypto.DeriveSeedFromPath(seed, crypto.HDPathForIndex(index))
	if err != nil {
		return crypto.KeyInfo{}, err
	}
	defer wipe(leaf)

	return crypto.NewKeyFromSeed(crypto.SigTypeEd25519, leaf)
}

func keyFromHex(privateKey string) (crypto.KeyInfo, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(privateKey))
	if err != nil {
		return crypto.KeyInfo{}, errors.Wrap(err, "private key is not hex")
	}
	switch len(raw) {
	case 32:
		defer wipe(raw)
		return crypto.NewKeyFromSeed(crypto.SigTypeEd25519, raw)
	case 64:
		ki := crypto.KeyInfo{SigType: crypto.SigTypeEd25519}
		ki.SetPrivateKey(raw)
		return ki, nil
	default:
		return crypto.KeyInfo{}, fmt.Errorf("private key must be 32 or 64 bytes, got %d", len(raw))
	}
}

// mapVaultErr translates working-key-path vault failures into protocol
// errors.
func mapVaultErr(err error) error {
	switch err {
	case nil:
		return nil
	case vault.ErrLocked, vault.ErrNoVault:
		return types.ErrAuthenticationRequired
	case vault.ErrDecrypt:
		return types.ErrDecryptionFailed
	case vault.ErrEntryNotFound:
		return types.ErrNotFound
	default:
		return err
	}
}

// mapPasswordErr translates password-path vault failures: a failed decrypt
// here means the supplied passphrase was wrong.
func mapPasswordErr(err error) error {
	switch err {
	case nil:
		return nil
	case vault.ErrDecrypt:
		return types.ErrInvalidCredentials
	case vault.ErrNoVault:
		return types.ErrAuthenticationRequired
	case vault.ErrEntryNotFound:
		return types.ErrNotFound
	default:
		return err
	}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
