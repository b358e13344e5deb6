package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Hardened-only ed25519 key derivation in the SLIP-0010 construction.
// Every path element is forced hardened; ed25519 has no useful
// non-hardened children.

const hardenedOffset = uint32(0x80000000)

var curveSeedModifier = []byte("ed25519 seed")

// HDPathForIndex returns the standard account path for a derivation index.
func HDPathForIndex(index uint32) []uint32 {
	return []uint32{44, 1729, index}
}

// DeriveSeedFromPath walks the path from the master seed and returns the
// 32-byte key seed for the leaf. Intermediate key material is wiped before
// returning.
func DeriveSeedFromPath(seed []byte, path []uint32) ([]byte, error) {
	if len(seed) < 16 {
		return nil, errors.New("master seed too short")
	}

	key, chainCode := hmacSplit(curveSeedModifier, seed)
	for _, index := range path {
		nextKey, nextChain := deriveChild(key, chainCode, index|hardenedOffset)
		wipe(key)
		wipe(chainCode)
		key, chainCode = nextKey, nextChain
	}
	wipe(chainCode)
	return key, nil
}

func deriveChild(key, chainCode []byte, index uint32) ([]byte, []byte) {
	data := make([]byte, 0, 1+len(key)+4)
	data = append(data, 0x00)
	data = append(data, key...)
	var ser [4]byte
	binary.BigEndian.PutUint32(ser[:], index)
	data = append(data, ser[:]...)

	childKey, childChain := hmacSplit(chainCode, data)
	wipe(data)
	return childKey, childChain
}

func hmacSplit(key, data []byte) ([]byte, []byte) {
	mac := hmac.New(sha512.New, key)
	_, _ = mac.Write(data)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
