package back

import (
	"context"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"

	"github.com/vellumwallet/vellum/pkg/types"
	"github.com/vellumwallet/vellum/pkg/vault"
	"github.com/vellumwallet/vellum/pkg/wallet"
)

func (b *Back) handleGetState(ctx context.Context) (types.Response, error) {
	b.lk.Lock()
	defer b.lk.Unlock()

	st, err := b.frontState(ctx)
	if err != nil {
		return nil, err
	}
	return &types.GetStateResponse{State: *st}, nil
}

// frontState assembles the single consistent snapshot. Callers hold b.lk.
func (b *Back) frontState(ctx context.Context) (*types.FrontState, error) {
	status, err := b.status(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := b.loadDoc(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := b.wallet.List(ctx)
	if err != nil {
		return nil, err
	}
	front := make([]types.FrontAccount, 0, len(accounts))
	for _, a := range accounts {
		front = append(front, a.Front())
	}
	sessions, err := b.sessions.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return &types.FrontState{
		Status:           status,
		Accounts:         front,
		DefaultAccountID: doc.DefaultAccountID,
		Settings:         doc.Settings,
		Sessions:         sessions,
	}, nil
}

func (b *Back) handleGetSigningKeys(ctx context.Context, r *types.GetSigningKeysRequest) (types.Response, error) {
	b.lk.Lock()
	defer b.lk.Unlock()

	ki, err := b.wallet.SigningKeyInfo(ctx, r.AccountID)
	if err != nil {
		return nil, err
	}
	pub, err := ki.PublicKey()
	if err != nil {
		return nil, types.UpstreamFailure(err)
	}
	sk := ki.Key()
	res := &types.GetSigningKeysResponse{
		SigningKey: hex.EncodeToString(sk),
		PublicKey:  hex.EncodeToString(pub),
	}
	for i := range sk {
		sk[i] = 0
	}
	return res, nil
}

func (b *Back) handleNewWallet(ctx context.Context, r *types.NewWalletRequest) (types.Response, error) {
	b.lk.Lock()
	defer b.lk.Unlock()

	if r.Mnemonic != "" && !bip39.IsMnemonicValid(r.Mnemonic) {
		return nil, errors.New("invalid mnemonic phrase")
	}
	pw := []byte(r.Password)
	err := b.vault.Setup(ctx, pw)
	if err == vault.ErrVaultExists {
		return nil, types.ErrDuplicateAccount
	} else if err != nil {
		return nil, err
	}
	// Past this point the master record exists; any failure must tear it
	// down again or a later retry would be refused over an accountless
	// vault.
	if r.Mnemonic != "" {
		if err := b.wallet.InitRoot(ctx, r.Mnemonic); err != nil {
			b.destroyVault(ctx)
			return nil, err
		}
	}
	acct, _, err := b.wallet.Create(ctx, "")
	if err != nil {
		b.destroyVault(ctx)
		return nil, err
	}
	if err := b.setDefaultAccount(ctx, acct.ID); err != nil {
		return nil, err
	}
	log.Infow("wallet created", "account", acct.ID)
	b.publish()
	return &types.NewWalletResponse{}, nil
}

// destroyVault rolls a partially created vault back to pristine so the
// next NewWallet starts over from Idle.
func (b *Back) destroyVault(ctx context.Context) {
	if err := b.vault.Destroy(ctx); err != nil {
		log.Errorf("failed to roll back vault setup: %s", err)
	}
}

func (b *Back) handleUnlock(ctx context.Context, r *types.UnlockRequest) (types.Response, error) {
	b.lk.Lock()
	defer b.lk.Unlock()

	err := b.vault.Unlock(ctx, []byte(r.Password))
	switch {
	case err == nil:
	case errors.Is(err, vault.ErrDecrypt):
		return nil, types.ErrInvalidCredentials
	case errors.Is(err, vault.ErrNoVault):
		return nil, types.ErrNotFound
	default:
		return nil, err
	}
	b.publish()
	return &types.UnlockResponse{}, nil
}

func (b *Back) handleLock(ctx context.Context) (types.Response, error) {
	b.lk.Lock()
	b.vault.Lock()
	b.lk.Unlock()

	// Suspended requests that cannot complete without the working key
	// are failed now rather than left hanging.
	b.cancelPending(func(p *pendingRequest) bool { return p.needsKey }, types.ErrAuthenticationRequired)

	b.publish()
	return &types.LockResponse{}, nil
}

func (b *Back) handleCreateAccount(ctx context.Context, r *types.CreateAccountRequest) (types.Response, error) {
	b.lk.Lock()
	defer b.lk.Unlock()

	acct, mnemonic, err := b.wallet.Create(ctx, r.Name)
	if err != nil {
		return nil, err
	}
	if err := b.maybeSetDefault(ctx, acct.ID); err != nil {
		return nil, err
	}
	b.publish()
	return &types.CreateAccountResponse{Mnemonic: mnemonic}, nil
}

func (b *Back) handleRevealPublicKey(ctx context.Context, r *types.RevealPublicKeyRequest) (types.Response, error) {
	pub, err := b.wallet.RevealPublicKey(ctx, r.AccountID)
	if err != nil {
		return nil, err
	}
	return &types.RevealPublicKeyResponse{PublicKey: pub}, nil
}

func (b *Back) handleRevealPrivateKey(ctx context.Context, r *types.RevealPrivateKeyRequest) (types.Response, error) {
	priv, err := b.wallet.RevealPrivateKey(ctx, r.AccountID, []byte(r.Password))
	if err != nil {
		return nil, err
	}
	return &types.RevealPrivateKeyResponse{PrivateKey: priv}, nil
}

func (b *Back) handleRevealMnemonic(ctx context.Context, r *types.RevealMnemonicRequest) (types.Response, error) {
	mnemonic, err := b.wallet.RevealMnemonic(ctx, []byte(r.Password))
	if err != nil {
		return nil, err
	}
	return &types.RevealMnemonicResponse{Mnemonic: mnemonic}, nil
}

func (b *Back) handleRemoveAccount(ctx context.Context, r *types.RemoveAccountRequest) (types.Response, error) {
	b.lk.Lock()
	defer b.lk.Unlock()

	if err := b.wallet.Remove(ctx, r.AccountID, []byte(r.Password)); err != nil {
		return nil, err
	}
	if err := b.repairDefault(ctx, r.AccountID); err != nil {
		return nil, err
	}
	b.publish()
	return &types.RemoveAccountResponse{}, nil
}

func (b *Back) handleEditAccount(ctx context.Context, r *types.EditAccountRequest) (types.Response, error) {
	b.lk.Lock()
	defer b.lk.Unlock()

	if err := b.wallet.Rename(ctx, r.AccountID, r.Name); err != nil {
		return nil, err
	}
	b.publish()
	return &types.EditAccountResponse{}, nil
}

func (b *Back) handleImportAccount(ctx context.Context, r *types.ImportAccountRequest) (types.Response, error) {
	return b.registerImport(ctx, func() (*wallet.Account, error) {
		return b.wallet.ImportPrivateKey(ctx, r.PrivateKey, r.EncPassword, "")
	}, &types.ImportAccountResponse{})
}

func (b *Back) handleImportMnemonic(ctx context.Context, r *types.ImportMnemonicAccountRequest) (types.Response, error) {
	return b.registerImport(ctx, func() (*wallet.Account, error) {
		return b.wallet.ImportMnemonic(ctx, r.Mnemonic, r.Name)
	}, &types.ImportMnemonicAccountResponse{})
}

func (b *Back) handleImportFundraiser(ctx context.Context, r *types.ImportFundraiserAccountRequest) (types.Response, error) {
	return b.registerImport(ctx, func() (*wallet.Account, error) {
		return b.wallet.ImportFundraiser(ctx, r.Email, r.Password, r.Mnemonic)
	}, &types.ImportFundraiserAccountResponse{})
}

func (b *Back) handleImportManagedContract(ctx context.Context, r *types.ImportManagedContractRequest) (types.Response, error) {
	return b.registerImport(ctx, func() (*wallet.Account, error) {
		return b.wallet.ImportManagedContract(ctx, r.Address, r.ChainID, r.Owner)
	}, &types.ImportManagedContractResponse{})
}

func (b *Back) handleImportWatchOnly(ctx context.Context, r *types.ImportWatchOnlyAccountRequest) (types.Response, error) {
	return b.registerImport(ctx, func() (*wallet.Account, error) {
		return b.wallet.ImportWatchOnly(ctx, r.Address, r.ChainID)
	}, &types.ImportWatchOnlyAccountResponse{})
}

func (b *Back) handleCreateLedgerAccount(ctx context.Context, r *types.CreateLedgerAccountRequest) (types.Response, error) {
	return b.registerImport(ctx, func() (*wallet.Account, error) {
		return b.wallet.CreateLedger(ctx, r.Name, r.DerivationPath, r.PublicKey)
	}, &types.CreateLedgerAccountResponse{})
}

// registerImport runs one account-adding operation as a transaction:
// register, adopt as default if it is the first account, broadcast.
func (b *Back) registerImport(ctx context.Context, add func() (*wallet.Account, error), res types.Response) (types.Response, error) {
	b.lk.Lock()
	defer b.lk.Unlock()

	acct, err := add()
	if err != nil {
		return nil, err
	}
	if err := b.maybeSetDefault(ctx, acct.ID); err != nil {
		return nil, err
	}
	b.publish()
	return res, nil
}

func (b *Back) handleUpdateSettings(ctx context.Context, r *types.UpdateSettingsRequest) (types.Response, error) {
	b.lk.Lock()
	defer b.lk.Unlock()

	doc, err := b.loadDoc(ctx)
	if err != nil {
		return nil, err
	}
	r.Settings.Apply(&doc.Settings)
	if err := b.persistDoc(ctx); err != nil {
		return nil, err
	}
	b.publish()
	return &types.UpdateSettingsResponse{}, nil
}

func (b *Back) handleConfirmation(ctx context.Context, r *types.ConfirmationRequest) (types.Response, error) {
	var outcome error
	if !r.Confirmed {
		outcome = types.ErrUserRejected
	}
	if !b.resolvePending(r.ID, outcome) {
		return nil, types.ErrNotFound
	}
	return &types.ConfirmationResponse{}, nil
}

func (b *Back) handleGetAllSessions(ctx context.Context) (types.Response, error) {
	sessions, err := b.sessions.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return &types.DAppGetAllSessionsResponse{Sessions: sessions}, nil
}

func (b *Back) handleRemoveSession(ctx context.Context, r *types.DAppRemoveSessionRequest) (types.Response, error) {
	b.lk.Lock()
	remaining, err := b.sessions.Remove(ctx, r.Origin)
	b.lk.Unlock()
	if err != nil {
		return nil, err
	}

	// Revoking a session withdraws consent for everything it had in
	// flight.
	b.cancelPending(func(p *pendingRequest) bool { return p.origin == r.Origin }, types.ErrUserRejected)

	b.publish()
	return &types.DAppRemoveSessionResponse{Sessions: remaining}, nil
}

func (b *Back) handleSign(ctx context.Context, r *types.SignRequest) (types.Response, error) {
	sig, err := b.approveAndSign(ctx, &pendingRequest{
		id:        r.ID,
		kind:      pendingSign,
		accountID: r.SourceAccountID,
		needsKey:  true,
	}, r.Bytes, r.Watermark)
	if err != nil {
		return nil, err
	}
	return &types.SignResponse{Signature: sig}, nil
}

// approveAndSign validates a signing request, suspends it on user
// approval and produces the signature.
func (b *Back) approveAndSign(ctx context.Context, p *pendingRequest, hexBytes string, watermark byte) (string, error) {
	payload, err := hex.DecodeString(hexBytes)
	if err != nil {
		return "", errors.Wrap(err, "sign payload is not hex")
	}
	if err := b.checkSignable(ctx, p.accountID); err != nil {
		return "", err
	}
	p.bytes = payload
	p.watermark = watermark
	if p, err = b.addPending(p); err != nil {
		return "", err
	}
	b.publish()
	if err := b.await(ctx, p); err != nil {
		return "", err
	}

	b.lk.Lock()
	defer b.lk.Unlock()
	ki, err := b.wallet.SigningKeyInfo(ctx, p.accountID)
	if err != nil {
		return "", err
	}
	sig, err := ki.SignBytes(p.watermark, p.bytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// checkSignable fails fast before a pending approval is ever surfaced:
// the account must exist, must be able to sign, and the working key must
// be available.
func (b *Back) checkSignable(ctx context.Context, accountID string) error {
	b.lk.Lock()
	defer b.lk.Unlock()

	acct, err := b.wallet.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if !acct.CanSign() {
		return types.UpstreamFailure(errors.Errorf("account %s cannot sign locally", accountID))
	}
	if b.vault.Locked() {
		return types.ErrAuthenticationRequired
	}
	return nil
}

func (b *Back) handleOperations(ctx context.Context, r *types.OperationsRequest) (types.Response, error) {
	opHash, err := b.approveAndSubmit(ctx, &pendingRequest{
		id:        r.ID,
		kind:      pendingOperations,
		accountID: r.SourceAccountID,
		endpoint:  r.NetworkEndpoint,
		opParams:  r.OpParams,
		needsKey:  true,
	})
	if err != nil {
		return nil, err
	}
	return &types.OperationsResponse{OpHash: opHash}, nil
}

// approveAndSubmit suspends an operation request on user approval and
// delegates submission to the broadcaster collaborator.
func (b *Back) approveAndSubmit(ctx context.Context, p *pendingRequest) (string, error) {
	if err := b.checkSignable(ctx, p.accountID); err != nil {
		return "", err
	}
	p, err := b.addPending(p)
	if err != nil {
		return "", err
	}
	b.publish()
	if err := b.await(ctx, p); err != nil {
		return "", err
	}

	b.lk.Lock()
	ki, err := b.wallet.SigningKeyInfo(ctx, p.accountID)
	b.lk.Unlock()
	if err != nil {
		return "", err
	}
	opHash, err := b.broadcaster.Submit(ctx, p.endpoint, ki, p.opParams)
	if err != nil {
		return "", types.UpstreamFailure(err)
	}
	return opHash, nil
}

// maybeSetDefault adopts the account as default when none is set yet.
// Callers hold b.lk.
func (b *Back) maybeSetDefault(ctx context.Context, id string) error {
	doc, err := b.loadDoc(ctx)
	if err != nil {
		return err
	}
	if doc.DefaultAccountID != "" {
		return nil
	}
	return b.setDefaultAccount(ctx, id)
}

// setDefaultAccount records the default account. Callers hold b.lk.
func (b *Back) setDefaultAccount(ctx context.Context, id string) error {
	doc, err := b.loadDoc(ctx)
	if err != nil {
		return err
	}
	doc.DefaultAccountID = id
	return b.persistDoc(ctx)
}

// repairDefault moves the default onto the first remaining account after
// a removal. Callers hold b.lk.
func (b *Back) repairDefault(ctx context.Context, removedID string) error {
	doc, err := b.loadDoc(ctx)
	if err != nil {
		return err
	}
	if doc.DefaultAccountID != removedID {
		return nil
	}
	accounts, err := b.wallet.List(ctx)
	if err != nil {
		return err
	}
	doc.DefaultAccountID = ""
	if len(accounts) > 0 {
		doc.DefaultAccountID = accounts[0].ID
	}
	return b.persistDoc(ctx)
}
