package repo

import (
	"os"
	"path/filepath"
	"sync"

	badgerds "github.com/ipfs/go-ds-badger2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/vellumwallet/vellum/pkg/config"
)

var log = logging.Logger("repo")

const (
	configFilename = "config.toml"
	secretsDirname = "secrets"
	metaDirname    = "meta"
)

// FSRepo is a repo implementation backed by a filesystem directory holding
// the config file and one badger datastore per concern.
type FSRepo struct {
	path string

	lk      sync.RWMutex
	cfg     *config.Config
	secrets *badgerds.Datastore
	meta    *badgerds.Datastore
}

var _ Repo = (*FSRepo)(nil)

// OpenFSRepo opens (initializing if necessary) a repo at the given path.
func OpenFSRepo(path string) (*FSRepo, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create repo directory %s", path)
	}

	cfgPath := filepath.Join(path, configFilename)
	cfg, err := config.ReadFile(cfgPath)
	if os.IsNotExist(errors.Cause(err)) {
		cfg = config.NewDefaultConfig()
		if err := cfg.WriteFile(cfgPath); err != nil {
			return nil, errors.Wrap(err, "failed to write default config")
		}
		log.Infof("initialized new repo at %s", path)
	} else if err != nil {
		return nil, err
	}

	secrets, err := badgerds.NewDatastore(filepath.Join(path, secretsDirname), &badgerds.DefaultOptions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open secrets datastore")
	}
	meta, err := badgerds.NewDatastore(filepath.Join(path, metaDirname), &badgerds.DefaultOptions)
	if err != nil {
		_ = secrets.Close()
		return nil, errors.Wrap(err, "failed to open meta datastore")
	}

	return &FSRepo{
		path:    path,
		cfg:     cfg,
		secrets: secrets,
		meta:    meta,
	}, nil
}

// Config returns the configuration object.
func (r *FSRepo) Config() *config.Config {
	r.lk.RLock()
	defer r.lk.RUnlock()

	return r.cfg
}

// ReplaceConfig replaces the current config with the newly passed in one and
// persists it.
func (r *FSRepo) ReplaceConfig(cfg *config.Config) error {
	r.lk.Lock()
	defer r.lk.Unlock()

	r.cfg = cfg
	return cfg.WriteFile(filepath.Join(r.path, configFilename))
}

// SecretsDatastore returns the vault ciphertext datastore.
func (r *FSRepo) SecretsDatastore() Datastore {
	return r.secrets
}

// MetaDatastore returns the plaintext metadata datastore.
func (r *FSRepo) MetaDatastore() Datastore {
	return r.meta
}

// Close shuts down the datastores.
func (r *FSRepo) Close() error {
	if err := r.secrets.Close(); err != nil {
		return errors.Wrap(err, "failed to close secrets datastore")
	}
	return errors.Wrap(r.meta.Close(), "failed to close meta datastore")
}
