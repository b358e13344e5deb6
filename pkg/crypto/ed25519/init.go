package ed25519

import (
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/vellumwallet/vellum/pkg/crypto"
)

type ed25519Signer struct{}

func (ed25519Signer) GenPrivateFromSeed(seed io.Reader) ([]byte, error) {
	var s [ed25519.SeedSize]byte
	if _, err := io.ReadFull(seed, s[:]); err != nil {
		return nil, fmt.Errorf("ed25519 signature error reading seed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(s[:])
	copy(s[:], make([]byte, len(s))) // wipe with zero bytes
	return priv, nil
}

func (ed25519Signer) ToPublic(priv []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key must be %d bytes", ed25519.PrivateKeySize)
	}
	pub := make([]byte, ed25519.PublicKeySize)
	copy(pub, priv[ed25519.SeedSize:])
	return pub, nil
}

func (ed25519Signer) Sign(priv []byte, msg []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key must be %d bytes", ed25519.PrivateKeySize)
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), msg), nil
}

func (ed25519Signer) Verify(pub []byte, msg []byte, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("ed25519 public key must be %d bytes", ed25519.PublicKeySize)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return fmt.Errorf("invalid ed25519 signature")
	}
	return nil
}

func init() {
	crypto.RegisterSignature(crypto.SigTypeEd25519, ed25519Signer{})
}
