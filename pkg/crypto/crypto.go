package crypto

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/sha3"
)

//
// Abstract signature scheme operations. Concrete schemes register
// themselves via side-effect import of their subpackage.
//

// SigType identifies the cryptographic system behind a private key.
type SigType byte

const (
	SigTypeUnknown SigType = iota
	SigTypeEd25519
)

// Watermark is a domain-separation tag mixed into the digest before
// signing, preventing signature reuse across payload categories.
type Watermark = byte

const (
	WatermarkNone        Watermark = 0x00
	WatermarkBlock       Watermark = 0x01
	WatermarkEndorsement Watermark = 0x02
	WatermarkOperation   Watermark = 0x03
)

// SigShim is the contract a signature scheme implements.
type SigShim interface {
	GenPrivateFromSeed(seed io.Reader) ([]byte, error)
	ToPublic(priv []byte) ([]byte, error)
	Sign(priv []byte, msg []byte) ([]byte, error)
	Verify(pub []byte, msg []byte, sig []byte) error
}

var sigs = make(map[SigType]SigShim)

// RegisterSignature should be only used during init.
func RegisterSignature(typ SigType, vs SigShim) {
	sigs[typ] = vs
}

func shim(typ SigType) (SigShim, error) {
	s, ok := sigs[typ]
	if !ok {
		return nil, fmt.Errorf("unknown signature type %d", typ)
	}
	return s, nil
}

// GenPrivateFromSeed generates a private key of the given scheme from the
// seed reader.
func GenPrivateFromSeed(typ SigType, seed io.Reader) ([]byte, error) {
	s, err := shim(typ)
	if err != nil {
		return nil, err
	}
	return s.GenPrivateFromSeed(seed)
}

// ToPublic derives the public key for the given private key.
func ToPublic(typ SigType, priv []byte) ([]byte, error) {
	s, err := shim(typ)
	if err != nil {
		return nil, err
	}
	return s.ToPublic(priv)
}

// Sign signs the watermarked digest of data with the given private key.
func Sign(typ SigType, priv []byte, watermark Watermark, data []byte) ([]byte, error) {
	s, err := shim(typ)
	if err != nil {
		return nil, err
	}
	return s.Sign(priv, Digest(watermark, data))
}

// Verify checks sig against the watermarked digest of data.
func Verify(typ SigType, pub []byte, watermark Watermark, data, sig []byte) error {
	s, err := shim(typ)
	if err != nil {
		return err
	}
	return s.Verify(pub, Digest(watermark, data), sig)
}

// Digest computes the signing digest: keccak256 over the watermark byte
// followed by the payload. Distinct watermarks can never collide on the
// same payload.
func Digest(watermark Watermark, data []byte) []byte {
	return Keccak256([]byte{watermark}, data)
}

// AddressFromPubKey computes the stable account identity for a public key:
// the hex of the last 20 bytes of its keccak256 hash.
func AddressFromPubKey(pub []byte) string {
	return hex.EncodeToString(Keccak256(pub)[12:])
}

// keccakState wraps sha3.state. Read is faster than Sum because it does not
// copy the internal state, but it does modify it.
type keccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

// Keccak256 calculates and returns the Keccak256 hash of the input data.
func Keccak256(data ...[]byte) []byte {
	b := make([]byte, 32)
	d := sha3.NewLegacyKeccak256().(keccakState)
	for _, b := range data {
		_, _ = d.Write(b)
	}
	_, _ = d.Read(b)
	return b
}
