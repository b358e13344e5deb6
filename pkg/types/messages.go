package types

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// MessageType tags every protocol message. The set of request types is
// closed: the dispatcher switches over the concrete structs below, and
// anything outside the set is dropped without a response so newer page
// scripts cannot crash an older backend.
type MessageType string

const (
	MsgGetStateRequest  MessageType = "GET_STATE_REQUEST"
	MsgGetStateResponse MessageType = "GET_STATE_RESPONSE"

	MsgGetSigningKeysRequest  MessageType = "GET_SIGNING_KEYS_REQUEST"
	MsgGetSigningKeysResponse MessageType = "GET_SIGNING_KEYS_RESPONSE"

	MsgNewWalletRequest  MessageType = "NEW_WALLET_REQUEST"
	MsgNewWalletResponse MessageType = "NEW_WALLET_RESPONSE"

	MsgUnlockRequest  MessageType = "UNLOCK_REQUEST"
	MsgUnlockResponse MessageType = "UNLOCK_RESPONSE"

	MsgLockRequest  MessageType = "LOCK_REQUEST"
	MsgLockResponse MessageType = "LOCK_RESPONSE"

	MsgCreateAccountRequest  MessageType = "CREATE_ACCOUNT_REQUEST"
	MsgCreateAccountResponse MessageType = "CREATE_ACCOUNT_RESPONSE"

	MsgRevealPublicKeyRequest  MessageType = "REVEAL_PUBLIC_KEY_REQUEST"
	MsgRevealPublicKeyResponse MessageType = "REVEAL_PUBLIC_KEY_RESPONSE"

	MsgRevealPrivateKeyRequest  MessageType = "REVEAL_PRIVATE_KEY_REQUEST"
	MsgRevealPrivateKeyResponse MessageType = "REVEAL_PRIVATE_KEY_RESPONSE"

	MsgRevealMnemonicRequest  MessageType = "REVEAL_MNEMONIC_REQUEST"
	MsgRevealMnemonicResponse MessageType = "REVEAL_MNEMONIC_RESPONSE"

	MsgRemoveAccountRequest  MessageType = "REMOVE_ACCOUNT_REQUEST"
	MsgRemoveAccountResponse MessageType = "REMOVE_ACCOUNT_RESPONSE"

	MsgEditAccountRequest  MessageType = "EDIT_ACCOUNT_REQUEST"
	MsgEditAccountResponse MessageType = "EDIT_ACCOUNT_RESPONSE"

	MsgImportAccountRequest  MessageType = "IMPORT_ACCOUNT_REQUEST"
	MsgImportAccountResponse MessageType = "IMPORT_ACCOUNT_RESPONSE"

	MsgImportMnemonicAccountRequest  MessageType = "IMPORT_MNEMONIC_ACCOUNT_REQUEST"
	MsgImportMnemonicAccountResponse MessageType = "IMPORT_MNEMONIC_ACCOUNT_RESPONSE"

	MsgImportFundraiserAccountRequest  MessageType = "IMPORT_FUNDRAISER_ACCOUNT_REQUEST"
	MsgImportFundraiserAccountResponse MessageType = "IMPORT_FUNDRAISER_ACCOUNT_RESPONSE"

	MsgImportManagedContractRequest  MessageType = "IMPORT_MANAGED_CONTRACT_REQUEST"
	MsgImportManagedContractResponse MessageType = "IMPORT_MANAGED_CONTRACT_RESPONSE"

	MsgImportWatchOnlyAccountRequest  MessageType = "IMPORT_WATCH_ONLY_ACCOUNT_REQUEST"
	MsgImportWatchOnlyAccountResponse MessageType = "IMPORT_WATCH_ONLY_ACCOUNT_RESPONSE"

	MsgCreateLedgerAccountRequest  MessageType = "CREATE_LEDGER_ACCOUNT_REQUEST"
	MsgCreateLedgerAccountResponse MessageType = "CREATE_LEDGER_ACCOUNT_RESPONSE"

	MsgUpdateSettingsRequest  MessageType = "UPDATE_SETTINGS_REQUEST"
	MsgUpdateSettingsResponse MessageType = "UPDATE_SETTINGS_RESPONSE"

	MsgOperationsRequest  MessageType = "OPERATIONS_REQUEST"
	MsgOperationsResponse MessageType = "OPERATIONS_RESPONSE"

	MsgSignRequest  MessageType = "SIGN_REQUEST"
	MsgSignResponse MessageType = "SIGN_RESPONSE"

	MsgConfirmationRequest  MessageType = "CONFIRMATION_REQUEST"
	MsgConfirmationResponse MessageType = "CONFIRMATION_RESPONSE"

	MsgDAppGetAllSessionsRequest  MessageType = "DAPP_GET_ALL_SESSIONS_REQUEST"
	MsgDAppGetAllSessionsResponse MessageType = "DAPP_GET_ALL_SESSIONS_RESPONSE"

	MsgDAppRemoveSessionRequest  MessageType = "DAPP_REMOVE_SESSION_REQUEST"
	MsgDAppRemoveSessionResponse MessageType = "DAPP_REMOVE_SESSION_RESPONSE"

	MsgPageRequest  MessageType = "PAGE_REQUEST"
	MsgPageResponse MessageType = "PAGE_RESPONSE"

	// MsgStateUpdated is the payload-free broadcast; observers re-fetch
	// state with MsgGetStateRequest.
	MsgStateUpdated MessageType = "STATE_UPDATED"
)

// Request is the sealed union of every message the dispatcher accepts.
type Request interface {
	Type() MessageType
	isRequest()
}

// Response is the sealed union of every message the dispatcher produces.
type Response interface {
	Type() MessageType
	isResponse()
}

type GetStateRequest struct{}

type GetStateResponse struct {
	State FrontState `json:"state"`
}

type GetSigningKeysRequest struct {
	AccountID string `json:"accountId"`
}

type GetSigningKeysResponse struct {
	SigningKey string `json:"signingKey"`
	PublicKey  string `json:"publicKey"`
}

type NewWalletRequest struct {
	Password string `json:"password"`
	// Mnemonic optionally restores an existing wallet; empty means
	// generate fresh entropy.
	Mnemonic string `json:"mnemonic,omitempty"`
}

type NewWalletResponse struct{}

type UnlockRequest struct {
	Password string `json:"password"`
}

type UnlockResponse struct{}

type LockRequest struct{}

type LockResponse struct{}

type CreateAccountRequest struct {
	Name string `json:"name"`
}

type CreateAccountResponse struct {
	// Mnemonic is present only when the call generated fresh entropy.
	// It is returned exactly once for user backup.
	Mnemonic string `json:"mnemonic,omitempty"`
}

type RevealPublicKeyRequest struct {
	AccountID string `json:"accountId"`
}

type RevealPublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

type RevealPrivateKeyRequest struct {
	AccountID string `json:"accountId"`
	Password  string `json:"password"`
}

type RevealPrivateKeyResponse struct {
	PrivateKey string `json:"privateKey"`
}

type RevealMnemonicRequest struct {
	Password string `json:"password"`
}

type RevealMnemonicResponse struct {
	Mnemonic string `json:"mnemonic"`
}

type RemoveAccountRequest struct {
	AccountID string `json:"accountId"`
	Password  string `json:"password"`
}

type RemoveAccountResponse struct{}

type EditAccountRequest struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
}

type EditAccountResponse struct{}

type ImportAccountRequest struct {
	// PrivateKey is hex, or an encrypted key envelope when EncPassword
	// is set.
	PrivateKey  string `json:"privateKey"`
	EncPassword string `json:"encPassword,omitempty"`
}

type ImportAccountResponse struct{}

type ImportMnemonicAccountRequest struct {
	Mnemonic string `json:"mnemonic"`
	Name     string `json:"name,omitempty"`
}

type ImportMnemonicAccountResponse struct{}

type ImportFundraiserAccountRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Mnemonic string `json:"mnemonic"`
}

type ImportFundraiserAccountResponse struct{}

type ImportManagedContractRequest struct {
	Address string `json:"address"`
	ChainID string `json:"chainId"`
	Owner   string `json:"owner"`
}

type ImportManagedContractResponse struct{}

type ImportWatchOnlyAccountRequest struct {
	Address string `json:"address"`
	ChainID string `json:"chainId"`
}

type ImportWatchOnlyAccountResponse struct{}

type CreateLedgerAccountRequest struct {
	Name           string `json:"name"`
	DerivationPath string `json:"derivationPath"`
	// PublicKey is read from the device by the UI collaborator and
	// handed in; the backend never talks to hardware itself.
	PublicKey string `json:"publicKey"`
}

type CreateLedgerAccountResponse struct{}

type UpdateSettingsRequest struct {
	Settings SettingsPatch `json:"settings"`
}

type UpdateSettingsResponse struct{}

type OperationsRequest struct {
	ID              string          `json:"id"`
	SourceAccountID string          `json:"sourceAccountId"`
	NetworkEndpoint string          `json:"networkEndpoint"`
	OpParams        json.RawMessage `json:"opParams"`
}

type OperationsResponse struct {
	OpHash string `json:"opHash"`
}

type SignRequest struct {
	ID              string `json:"id"`
	SourceAccountID string `json:"sourceAccountId"`
	// Bytes is the hex payload to sign.
	Bytes     string `json:"bytes"`
	Watermark byte   `json:"watermark,omitempty"`
}

type SignResponse struct {
	Signature string `json:"signature"`
}

// ConfirmationRequest is sent by the approval UI to resolve a pending
// request. Confirmed=false rejects it.
type ConfirmationRequest struct {
	ID        string `json:"id"`
	Confirmed bool   `json:"confirmed"`
}

type ConfirmationResponse struct{}

type DAppGetAllSessionsRequest struct{}

type DAppGetAllSessionsResponse struct {
	Sessions []DAppSession `json:"sessions"`
}

type DAppRemoveSessionRequest struct {
	Origin string `json:"origin"`
}

type DAppRemoveSessionResponse struct {
	Sessions []DAppSession `json:"sessions"`
}

type PageRequest struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

type PageResponse struct {
	Payload json.RawMessage `json:"payload"`
}

func (GetStateRequest) Type() MessageType                { return MsgGetStateRequest }
func (GetSigningKeysRequest) Type() MessageType          { return MsgGetSigningKeysRequest }
func (NewWalletRequest) Type() MessageType               { return MsgNewWalletRequest }
func (UnlockRequest) Type() MessageType                  { return MsgUnlockRequest }
func (LockRequest) Type() MessageType                    { return MsgLockRequest }
func (CreateAccountRequest) Type() MessageType           { return MsgCreateAccountRequest }
func (RevealPublicKeyRequest) Type() MessageType         { return MsgRevealPublicKeyRequest }
func (RevealPrivateKeyRequest) Type() MessageType        { return MsgRevealPrivateKeyRequest }
func (RevealMnemonicRequest) Type() MessageType          { return MsgRevealMnemonicRequest }
func (RemoveAccountRequest) Type() MessageType           { return MsgRemoveAccountRequest }
func (EditAccountRequest) Type() MessageType             { return MsgEditAccountRequest }
func (ImportAccountRequest) Type() MessageType           { return MsgImportAccountRequest }
func (ImportMnemonicAccountRequest) Type() MessageType   { return MsgImportMnemonicAccountRequest }
func (ImportFundraiserAccountRequest) Type() MessageType { return MsgImportFundraiserAccountRequest }
func (ImportManagedContractRequest) Type() MessageType   { return MsgImportManagedContractRequest }
func (ImportWatchOnlyAccountRequest) Type() MessageType  { return MsgImportWatchOnlyAccountRequest }
func (CreateLedgerAccountRequest) Type() MessageType     { return MsgCreateLedgerAccountRequest }
func (UpdateSettingsRequest) Type() MessageType          { return MsgUpdateSettingsRequest }
func (OperationsRequest) Type() MessageType              { return MsgOperationsRequest }
func (SignRequest) Type() MessageType                    { return MsgSignRequest }
func (ConfirmationRequest) Type() MessageType            { return MsgConfirmationRequest }
func (DAppGetAllSessionsRequest) Type() MessageType      { return MsgDAppGetAllSessionsRequest }
func (DAppRemoveSessionRequest) Type() MessageType       { return MsgDAppRemoveSessionRequest }
func (PageRequest) Type() MessageType                    { return MsgPageRequest }

func (GetStateRequest) isRequest()                {}
func (GetSigningKeysRequest) isRequest()          {}
func (NewWalletRequest) isRequest()               {}
func (UnlockRequest) isRequest()                  {}
func (LockRequest) isRequest()                    {}
func (CreateAccountRequest) isRequest()           {}
func (RevealPublicKeyRequest) isRequest()         {}
func (RevealPrivateKeyRequest) isRequest()        {}
func (RevealMnemonicRequest) isRequest()          {}
func (RemoveAccountRequest) isRequest()           {}
func (EditAccountRequest) isRequest()             {}
func (ImportAccountRequest) isRequest()           {}
func (ImportMnemonicAccountRequest) isRequest()   {}
func (ImportFundraiserAccountRequest) isRequest() {}
func (ImportManagedContractRequest) isRequest()   {}
func (ImportWatchOnlyAccountRequest) isRequest()  {}
func (CreateLedgerAccountRequest) isRequest()     {}
func (UpdateSettingsRequest) isRequest()          {}
func (OperationsRequest) isRequest()              {}
func (SignRequest) isRequest()                    {}
func (ConfirmationRequest) isRequest()            {}
func (DAppGetAllSessionsRequest) isRequest()      {}
func (DAppRemoveSessionRequest) isRequest()       {}
func (PageRequest) isRequest()                    {}

func (GetStateResponse) Type() MessageType                { return MsgGetStateResponse }
func (GetSigningKeysResponse) Type() MessageType          { return MsgGetSigningKeysResponse }
func (NewWalletResponse) Type() MessageType               { return MsgNewWalletResponse }
func (UnlockResponse) Type() MessageType                  { return MsgUnlockResponse }
func (LockResponse) Type() MessageType                    { return MsgLockResponse }
func (CreateAccountResponse) Type() MessageType           { return MsgCreateAccountResponse }
func (RevealPublicKeyResponse) Type() MessageType         { return MsgRevealPublicKeyResponse }
func (RevealPrivateKeyResponse) Type() MessageType        { return MsgRevealPrivateKeyResponse }
func (RevealMnemonicResponse) Type() MessageType          { return MsgRevealMnemonicResponse }
func (RemoveAccountResponse) Type() MessageType           { return MsgRemoveAccountResponse }
func (EditAccountResponse) Type() MessageType             { return MsgEditAccountResponse }
func (ImportAccountResponse) Type() MessageType           { return MsgImportAccountResponse }
func (ImportMnemonicAccountResponse) Type() MessageType   { return MsgImportMnemonicAccountResponse }
func (ImportFundraiserAccountResponse) Type() MessageType { return MsgImportFundraiserAccountResponse }
func (ImportManagedContractResponse) Type() MessageType   { return MsgImportManagedContractResponse }
func (ImportWatchOnlyAccountResponse) Type() MessageType  { return MsgImportWatchOnlyAccountResponse }
func (CreateLedgerAccountResponse) Type() MessageType     { return MsgCreateLedgerAccountResponse }
func (UpdateSettingsResponse) Type() MessageType          { return MsgUpdateSettingsResponse }
func (OperationsResponse) Type() MessageType              { return MsgOperationsResponse }
func (SignResponse) Type() MessageType                    { return MsgSignResponse }
func (ConfirmationResponse) Type() MessageType            { return MsgConfirmationResponse }
func (DAppGetAllSessionsResponse) Type() MessageType      { return MsgDAppGetAllSessionsResponse }
func (DAppRemoveSessionResponse) Type() MessageType       { return MsgDAppRemoveSessionResponse }
func (PageResponse) Type() MessageType                    { return MsgPageResponse }

func (GetStateResponse) isResponse()                {}
func (GetSigningKeysResponse) isResponse()          {}
func (NewWalletResponse) isResponse()               {}
func (UnlockResponse) isResponse()                  {}
func (LockResponse) isResponse()                    {}
func (CreateAccountResponse) isResponse()           {}
func (RevealPublicKeyResponse) isResponse()         {}
func (RevealPrivateKeyResponse) isResponse()        {}
func (RevealMnemonicResponse) isResponse()          {}
func (RemoveAccountResponse) isResponse()           {}
func (EditAccountResponse) isResponse()             {}
func (ImportAccountResponse) isResponse()           {}
func (ImportMnemonicAccountResponse) isResponse()   {}
func (ImportFundraiserAccountResponse) isResponse() {}
func (ImportManagedContractResponse) isResponse()   {}
func (ImportWatchOnlyAccountResponse) isResponse()  {}
func (CreateLedgerAccountResponse) isResponse()     {}
func (UpdateSettingsResponse) isResponse()          {}
func (OperationsResponse) isResponse()              {}
func (SignResponse) isResponse()                    {}
func (ConfirmationResponse) isResponse()            {}
func (DAppGetAllSessionsResponse) isResponse()      {}
func (DAppRemoveSessionResponse) isResponse()       {}
func (PageResponse) isResponse()                    {}

// ErrUnknownMessage marks a request type outside the closed set. The
// dispatcher treats it as "drop silently", not as a protocol failure.
var ErrUnknownMessage = errors.New("unknown message type")

type envelope struct {
	Type MessageType `json:"type"`
}

// requestCtors maps every accepted wire tag to a constructor for its
// concrete request struct. Adding a request type without extending this
// table makes DecodeRequest drop it, which is the forward-tolerant default.
var requestCtors = map[MessageType]func() Request{
	MsgGetStateRequest:                func() Request { return &GetStateRequest{} },
	MsgGetSigningKeysRequest:          func() Request { return &GetSigningKeysRequest{} },
	MsgNewWalletRequest:               func() Request { return &NewWalletRequest{} },
	MsgUnlockRequest:                  func() Request { return &UnlockRequest{} },
	MsgLockRequest:                    func() Request { return &LockRequest{} },
	MsgCreateAccountRequest:           func() Request { return &CreateAccountRequest{} },
	MsgRevealPublicKeyRequest:         func() Request { return &RevealPublicKeyRequest{} },
	MsgRevealPrivateKeyRequest:        func() Request { return &RevealPrivateKeyRequest{} },
	MsgRevealMnemonicRequest:          func() Request { return &RevealMnemonicRequest{} },
	MsgRemoveAccountRequest:           func() Request { return &RemoveAccountRequest{} },
	MsgEditAccountRequest:             func() Request { return &EditAccountRequest{} },
	MsgImportAccountRequest:           func() Request { return &ImportAccountRequest{} },
	MsgImportMnemonicAccountRequest:   func() Request { return &ImportMnemonicAccountRequest{} },
	MsgImportFundraiserAccountRequest: func() Request { return &ImportFundraiserAccountRequest{} },
	MsgImportManagedContractRequest:   func() Request { return &ImportManagedContractRequest{} },
	MsgImportWatchOnlyAccountRequest:  func() Request { return &ImportWatchOnlyAccountRequest{} },
	MsgCreateLedgerAccountRequest:     func() Request { return &CreateLedgerAccountRequest{} },
	MsgUpdateSettingsRequest:          func() Request { return &UpdateSettingsRequest{} },
	MsgOperationsRequest:              func() Request { return &OperationsRequest{} },
	MsgSignRequest:                    func() Request { return &SignRequest{} },
	MsgConfirmationRequest:            func() Request { return &ConfirmationRequest{} },
	MsgDAppGetAllSessionsRequest:      func() Request { return &DAppGetAllSessionsRequest{} },
	MsgDAppRemoveSessionRequest:       func() Request { return &DAppRemoveSessionRequest{} },
	MsgPageRequest:                    func() Request { return &PageRequest{} },
}

// DecodeRequest parses a wire envelope {"type": ..., ...fields} into the
// concrete request struct. Unrecognized types return ErrUnknownMessage.
func DecodeRequest(raw []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "malformed request envelope")
	}
	ctor, ok := requestCtors[env.Type]
	if !ok {
		return nil, ErrUnknownMessage
	}
	req := ctor()
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, errors.Wrapf(err, "malformed %s body", env.Type)
	}
	return req, nil
}

// EncodeResponse wraps a response in the wire envelope.
func EncodeResponse(res Response) ([]byte, error) {
	body, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	if string(body) == "{}" {
		return json.Marshal(envelope{Type: res.Type()})
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	merged["type"] = res.Type()
	return json.Marshal(merged)
}
