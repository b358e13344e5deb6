package wallet

import (
	"github.com/vellumwallet/vellum/pkg/types"
	"github.com/vellumwallet/vellum/pkg/vault"
)

// Account is a registry entry. It never holds raw secret material; secret
// kinds reference the vault through an opaque ref instead.
type Account struct {
	ID   string            `json:"id"`
	Name string            `json:"name"`
	Kind types.AccountKind `json:"kind"`

	// PublicKey is hex; empty for watch-only and managed contracts.
	PublicKey string `json:"publicKey,omitempty"`

	// SecretRef is set for HD and imported accounts only. HD accounts all
	// share the root mnemonic ref and differ by derivation index.
	SecretRef vault.SecretRef `json:"secretRef,omitempty"`

	HDIndex        uint32 `json:"hdIndex,omitempty"`
	DerivationPath string `json:"derivationPath,omitempty"`

	// ChainID qualifies watch-only and managed-contract entries.
	ChainID string `json:"chainId,omitempty"`
	// Owner is the account id whose key administers a managed contract.
	Owner string `json:"owner,omitempty"`
}

// Front projects the account into its broadcastable form. The secret ref
// stays behind.
func (a *Account) Front() types.FrontAccount {
	return types.FrontAccount{
		ID:             a.ID,
		Name:           a.Name,
		Kind:           a.Kind,
		PublicKey:      a.PublicKey,
		DerivationPath: a.DerivationPath,
		ChainID:        a.ChainID,
		Owner:          a.Owner,
	}
}

// CanSign reports whether the registry can produce a signature for this
// account with local key material (directly or through its owner).
func (a *Account) CanSign() bool {
	switch a.Kind {
	case types.AccountKindHD, types.AccountKindImported, types.AccountKindManagedContract:
		return true
	default:
		return false
	}
}
