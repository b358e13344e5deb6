package types

import "time"

// WalletStatus reflects the lock state machine as seen by the front end.
type WalletStatus string

const (
	// WalletStatusIdle means no wallet has been created yet.
	WalletStatusIdle     WalletStatus = "idle"
	WalletStatusLocked   WalletStatus = "locked"
	WalletStatusUnlocked WalletStatus = "unlocked"
)

// AccountKind discriminates how an account's key material is managed.
type AccountKind string

const (
	AccountKindHD              AccountKind = "hd"
	AccountKindImported        AccountKind = "imported"
	AccountKindWatchOnly       AccountKind = "watch_only"
	AccountKindLedger          AccountKind = "ledger"
	AccountKindManagedContract AccountKind = "managed_contract"
)

// FrontAccount is the broadcastable projection of a registry account.
// Secret references never appear here.
type FrontAccount struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Kind           AccountKind `json:"kind"`
	PublicKey      string      `json:"publicKey,omitempty"`
	DerivationPath string      `json:"derivationPath,omitempty"`
	ChainID        string      `json:"chainId,omitempty"`
	Owner          string      `json:"owner,omitempty"`
}

// Contact is an address-book entry kept inside Settings.
type Contact struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	AddedAt int64  `json:"addedAt,omitempty"`
}

// Settings is the plaintext user-preference document. It is persisted
// alongside the registries, outside the encrypted vault.
type Settings struct {
	DAppsEnabled bool      `json:"dAppsEnabled"`
	Locale       string    `json:"locale,omitempty"`
	PopupMode    string    `json:"popupMode,omitempty"`
	Contacts     []Contact `json:"contacts,omitempty"`
}

// SettingsPatch applies partial updates; nil fields are left untouched.
type SettingsPatch struct {
	DAppsEnabled *bool      `json:"dAppsEnabled,omitempty"`
	Locale       *string    `json:"locale,omitempty"`
	PopupMode    *string    `json:"popupMode,omitempty"`
	Contacts     *[]Contact `json:"contacts,omitempty"`
}

// Apply merges the patch into s.
func (p SettingsPatch) Apply(s *Settings) {
	if p.DAppsEnabled != nil {
		s.DAppsEnabled = *p.DAppsEnabled
	}
	if p.Locale != nil {
		s.Locale = *p.Locale
	}
	if p.PopupMode != nil {
		s.PopupMode = *p.PopupMode
	}
	if p.Contacts != nil {
		s.Contacts = *p.Contacts
	}
}

// DAppSession records which origin may request signatures from which
// accounts.
type DAppSession struct {
	Origin            string    `json:"origin"`
	GrantedAccountIDs []string  `json:"grantedAccountIds"`
	AppName           string    `json:"appName,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// FrontState is the single consistent snapshot broadcast consumers re-fetch
// after every StateUpdated notification.
type FrontState struct {
	Status           WalletStatus   `json:"status"`
	Accounts         []FrontAccount `json:"accounts"`
	DefaultAccountID string         `json:"defaultAccountId,omitempty"`
	Settings         Settings       `json:"settings"`
	Sessions         []DAppSession  `json:"sessions"`
}
