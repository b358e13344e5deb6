package repo

import (
	"sync"

	"github.com/ipfs/go-datastore"
	dss "github.com/ipfs/go-datastore/sync"

	"github.com/vellumwallet/vellum/pkg/config"
)

// MemRepo is an in-memory implementation of the repo interface.
type MemRepo struct {
	// lk guards the config
	lk      sync.RWMutex
	cfg     *config.Config
	secrets Datastore
	meta    Datastore
}

var _ Repo = (*MemRepo)(nil)

// NewInMemoryRepo makes a new instance of MemRepo with cheap scrypt
// parameters, suitable for tests.
func NewInMemoryRepo() *MemRepo {
	cfg := config.NewDefaultConfig()
	cfg.Vault = config.TestPassphraseConfig()
	return &MemRepo{
		cfg:     cfg,
		secrets: dss.MutexWrap(datastore.NewMapDatastore()),
		meta:    dss.MutexWrap(datastore.NewMapDatastore()),
	}
}

// Config returns the configuration object.
func (mr *MemRepo) Config() *config.Config {
	mr.lk.RLock()
	defer mr.lk.RUnlock()

	return mr.cfg
}

// ReplaceConfig replaces the current config with the newly passed in one.
func (mr *MemRepo) ReplaceConfig(cfg *config.Config) error {
	mr.lk.Lock()
	defer mr.lk.Unlock()

	mr.cfg = cfg
	return nil
}

// SecretsDatastore returns the vault ciphertext datastore.
func (mr *MemRepo) SecretsDatastore() Datastore {
	return mr.secrets
}

// MetaDatastore returns the plaintext metadata datastore.
func (mr *MemRepo) MetaDatastore() Datastore {
	return mr.meta
}

// Close is a noop, just filling out the interface.
func (mr *MemRepo) Close() error {
	return nil
}
