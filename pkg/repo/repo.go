package repo

import (
	"github.com/ipfs/go-datastore"

	"github.com/vellumwallet/vellum/pkg/config"
)

// Datastore is the datastore interface provided by the repo.
type Datastore interface {
	datastore.Batching
}

// Repo is a representation of all persistent data held by the wallet
// backend.
type Repo interface {
	Config() *config.Config

	// ReplaceConfig replaces the current config with the newly passed in one.
	ReplaceConfig(cfg *config.Config) error

	// SecretsDatastore only ever holds vault ciphertext; nothing plaintext
	// is written here.
	SecretsDatastore() Datastore

	// MetaDatastore holds the plaintext registries and settings documents.
	MetaDatastore() Datastore

	// Close shuts down the repo.
	Close() error
}
