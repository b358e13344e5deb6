package back

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/filecoin-project/pubsub"
	ds "github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/vellumwallet/vellum/pkg/clock"
	"github.com/vellumwallet/vellum/pkg/config"
	"github.com/vellumwallet/vellum/pkg/crypto"
	"github.com/vellumwallet/vellum/pkg/dapp"
	"github.com/vellumwallet/vellum/pkg/repo"
	"github.com/vellumwallet/vellum/pkg/types"
	"github.com/vellumwallet/vellum/pkg/vault"
	"github.com/vellumwallet/vellum/pkg/wallet"
)

var log = logging.Logger("back")

// StateUpdatedTopic carries the payload-free change notifications.
const StateUpdatedTopic = "state-updated"

var settingsKey = ds.NewKey("/settings")

// Broadcaster submits a signed operation to the network. The network
// itself is an external collaborator; the dispatcher only owns the
// authorization gate in front of it.
type Broadcaster interface {
	Submit(ctx context.Context, endpoint string, key *crypto.KeyInfo, opParams json.RawMessage) (string, error)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Submit(context.Context, string, *crypto.KeyInfo, json.RawMessage) (string, error) {
	return "", errors.New("no operation broadcaster configured")
}

// settingsDoc is the plaintext preference document persisted next to the
// registries.
type settingsDoc struct {
	Settings         types.Settings `json:"settings"`
	DefaultAccountID string         `json:"defaultAccountId,omitempty"`
}

// Back is the process-wide wallet state authority. Every mutation runs
// as a non-overlapping logical transaction under lk; requests suspended
// on user approval wait outside the mutex on their per-id channel so
// independent traffic keeps flowing.
type Back struct {
	lk sync.Mutex

	cfg      *config.Config
	vault    *vault.Vault
	wallet   *wallet.Registry
	sessions *dapp.Registry
	meta     ds.Datastore

	clk         clock.Clock
	approvalTTL time.Duration
	broadcaster Broadcaster

	events *pubsub.PubSub

	plk     sync.Mutex
	pending map[string]*pendingRequest

	// doc caches the settings document; nil until loaded.
	doc *settingsDoc
}

// Option customizes a Back at construction.
type Option func(*Back)

// WithClock substitutes the timer clock, used by tests to drive approval
// timeouts deterministically.
func WithClock(c clock.Clock) Option {
	return func(b *Back) { b.clk = c }
}

// WithBroadcaster plugs in the network submission collaborator.
func WithBroadcaster(br Broadcaster) Option {
	return func(b *Back) { b.broadcaster = br }
}

// NewBack assembles the dispatcher over a repo.
func NewBack(rp repo.Repo, opts ...Option) *Back {
	cfg := rp.Config()
	v := vault.New(rp.SecretsDatastore(), cfg.Vault)
	b := &Back{
		cfg:         cfg,
		vault:       v,
		wallet:      wallet.NewRegistry(rp.MetaDatastore(), v),
		sessions:    dapp.NewRegistry(rp.MetaDatastore()),
		meta:        rp.MetaDatastore(),
		clk:         clock.NewSystemClock(),
		approvalTTL: time.Duration(cfg.Back.ApprovalTTLSeconds) * time.Second,
		broadcaster: nopBroadcaster{},
		events:      pubsub.New(64),
		pending:     make(map[string]*pendingRequest),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// loadDoc lazily reads the settings document. Callers hold b.lk.
func (b *Back) loadDoc(ctx context.Context) (*settingsDoc, error) {
	if b.doc != nil {
		return b.doc, nil
	}
	blob, err := b.meta.Get(ctx, settingsKey)
	if err == ds.ErrNotFound {
		b.doc = &settingsDoc{
			Settings: types.Settings{DAppsEnabled: b.cfg.DApps.Enabled},
		}
		return b.doc, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to load settings document")
	}
	var doc settingsDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, errors.Wrap(err, "corrupt settings document")
	}
	b.doc = &doc
	return b.doc, nil
}

// persistDoc writes the settings document. Callers hold b.lk.
func (b *Back) persistDoc(ctx context.Context) error {
	blob, err := json.Marshal(b.doc)
	if err != nil {
		return err
	}
	return b.meta.Put(ctx, settingsKey, blob)
}

// publish emits one StateUpdated notification. It runs after the
// mutation has committed; observers re-fetch state themselves.
func (b *Back) publish() {
	b.events.Pub(struct{}{}, StateUpdatedTopic)
}

// Subscribe returns a channel of payload-free change notifications.
func (b *Back) Subscribe() chan interface{} {
	return b.events.Sub(StateUpdatedTopic)
}

// Unsubscribe releases a Subscribe channel.
func (b *Back) Unsubscribe(ch chan interface{}) {
	go b.events.Unsub(ch, StateUpdatedTopic)
}

// Handle processes one request. It returns (nil, nil) for nil or
// unrecognized requests: the protocol is forward-tolerant and never
// errors on messages from newer page or extension versions.
func (b *Back) Handle(ctx context.Context, req types.Request) (types.Response, error) {
	switch r := req.(type) {
	case *types.GetStateRequest:
		return b.handleGetState(ctx)
	case *types.GetSigningKeysRequest:
		return b.handleGetSigningKeys(ctx, r)
	case *types.NewWalletRequest:
		return b.handleNewWallet(ctx, r)
	case *types.UnlockRequest:
		return b.handleUnlock(ctx, r)
	case *types.LockRequest:
		return b.handleLock(ctx)
	case *types.CreateAccountRequest:
		return b.handleCreateAccount(ctx, r)
	case *types.RevealPublicKeyRequest:
		return b.handleRevealPublicKey(ctx, r)
	case *types.RevealPrivateKeyRequest:
		return b.handleRevealPrivateKey(ctx, r)
	case *types.RevealMnemonicRequest:
		return b.handleRevealMnemonic(ctx, r)
	case *types.RemoveAccountRequest:
		return b.handleRemoveAccount(ctx, r)
	case *types.EditAccountRequest:
		return b.handleEditAccount(ctx, r)
	case *types.ImportAccountRequest:
		return b.handleImportAccount(ctx, r)
	case *types.ImportMnemonicAccountRequest:
		return b.handleImportMnemonic(ctx, r)
	case *types.ImportFundraiserAccountRequest:
		return b.handleImportFundraiser(ctx, r)
	case *types.ImportManagedContractRequest:
		return b.handleImportManagedContract(ctx, r)
	case *types.ImportWatchOnlyAccountRequest:
		return b.handleImportWatchOnly(ctx, r)
	case *types.CreateLedgerAccountRequest:
		return b.handleCreateLedgerAccount(ctx, r)
	case *types.UpdateSettingsRequest:
		return b.handleUpdateSettings(ctx, r)
	case *types.OperationsRequest:
		return b.handleOperations(ctx, r)
	case *types.SignRequest:
		return b.handleSign(ctx, r)
	case *types.ConfirmationRequest:
		return b.handleConfirmation(ctx, r)
	case *types.DAppGetAllSessionsRequest:
		return b.handleGetAllSessions(ctx)
	case *types.DAppRemoveSessionRequest:
		return b.handleRemoveSession(ctx, r)
	case *types.PageRequest:
		return b.handlePage(ctx, r)
	default:
		if req != nil {
			log.Debugw("dropping unrecognized request", "type", req.Type())
		}
		return nil, nil
	}
}

// HandleRaw decodes a wire envelope, dispatches it and encodes the
// response. Unknown message types produce (nil, nil).
func (b *Back) HandleRaw(ctx context.Context, raw []byte) ([]byte, error) {
	req, err := types.DecodeRequest(raw)
	if err == types.ErrUnknownMessage {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	res, err := b.Handle(ctx, req)
	if err != nil || res == nil {
		return nil, err
	}
	return types.EncodeResponse(res)
}

// status derives the lock state machine position as seen by the front
// end. Callers hold b.lk.
func (b *Back) status(ctx context.Context) (types.WalletStatus, error) {
	exists, err := b.vault.Exists(ctx)
	if err != nil {
		return "", err
	}
	if !exists {
		return types.WalletStatusIdle, nil
	}
	if b.vault.Locked() {
		return types.WalletStatusLocked, nil
	}
	return types.WalletStatusUnlocked, nil
}
