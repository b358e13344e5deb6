package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the in-memory representation of the backend configuration file.
type Config struct {
	API   *APIConfig   `toml:"api"`
	Vault *VaultConfig `toml:"vault"`
	DApps *DAppsConfig `toml:"dapps"`
	Back  *BackConfig  `toml:"back"`
}

// APIConfig holds the transport endpoint options for the daemon.
type APIConfig struct {
	Address string `toml:"address"`
}

func newDefaultAPIConfig() *APIConfig {
	return &APIConfig{
		Address: "127.0.0.1:7332",
	}
}

// VaultConfig holds the passphrase KDF parameters for the secret store.
// R and the derived-key length are fixed by the envelope format.
type VaultConfig struct {
	ScryptN int `toml:"scryptN"`
	ScryptP int `toml:"scryptP"`
}

func newDefaultVaultConfig() *VaultConfig {
	return &VaultConfig{
		ScryptN: 1 << 18,
		ScryptP: 1,
	}
}

// TestPassphraseConfig returns cheap scrypt parameters so tests do not burn
// seconds deriving keys.
func TestPassphraseConfig() *VaultConfig {
	return &VaultConfig{
		ScryptN: 1 << 4,
		ScryptP: 1,
	}
}

// DAppsConfig seeds the global dApp access switch. The runtime value lives
// in Settings and may be flipped without restarting.
type DAppsConfig struct {
	Enabled bool `toml:"enabled"`
}

func newDefaultDAppsConfig() *DAppsConfig {
	return &DAppsConfig{
		Enabled: true,
	}
}

// BackConfig holds dispatcher options.
type BackConfig struct {
	// ApprovalTTLSeconds bounds how long a pending approval may sit
	// unanswered before it is auto-rejected.
	ApprovalTTLSeconds int `toml:"approvalTTLSeconds"`
}

func newDefaultBackConfig() *BackConfig {
	return &BackConfig{
		ApprovalTTLSeconds: 120,
	}
}

// NewDefaultConfig returns a config object with all fields set to their
// default values.
func NewDefaultConfig() *Config {
	return &Config{
		API:   newDefaultAPIConfig(),
		Vault: newDefaultVaultConfig(),
		DApps: newDefaultDAppsConfig(),
		Back:  newDefaultBackConfig(),
	}
}

// WriteFile writes the config to the given filepath.
func (cfg *Config) WriteFile(file string) error {
	f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close() // nolint: errcheck

	return toml.NewEncoder(f).Encode(*cfg)
}

// ReadFile reads the config from the given file path, filling unset
// sections with defaults.
func ReadFile(file string) (*Config, error) {
	cfg := NewDefaultConfig()
	if _, err := toml.DecodeFile(filepath.Clean(file), cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", file)
	}
	return cfg, nil
}
