package crypto

import (
	"bytes"
	"encoding/json"

	"github.com/awnumar/memguard"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("crypto")

// KeyInfo is a key and its type used for signing. The private key lives in
// a memguard enclave and only materializes inside UsePrivateKey.
type KeyInfo struct {
	// Private key.
	PrivateKey *memguard.Enclave `json:"privateKey"`
	// Cryptographic system used to generate the private key.
	SigType SigType `json:"type"`
}

type keyInfo struct {
	PrivateKey []byte  `json:"privateKey"`
	SigType    SigType `json:"type"`
}

func (ki *KeyInfo) UnmarshalJSON(data []byte) error {
	k := keyInfo{}
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	ki.SigType = k.SigType
	ki.SetPrivateKey(k.PrivateKey)
	return nil
}

func (ki KeyInfo) MarshalJSON() ([]byte, error) {
	var b []byte
	err := ki.UsePrivateKey(func(privateKey []byte) error {
		var err error
		b, err = json.Marshal(keyInfo{
			PrivateKey: privateKey,
			SigType:    ki.SigType,
		})
		return err
	})
	return b, err
}

// Key returns a copy of the private key bytes.
// The copy escapes memguard's protection, so use caution.
func (ki *KeyInfo) Key() []byte {
	var pk []byte
	err := ki.UsePrivateKey(func(privateKey []byte) error {
		pk = make([]byte, len(privateKey))
		copy(pk, privateKey)
		return nil
	})
	if err != nil {
		log.Errorf("got private key failed %v", err)
		return []byte{}
	}
	return pk
}

// Type returns the type of cryptosystem used to generate the private key.
func (ki *KeyInfo) Type() SigType {
	return ki.SigType
}

// Address returns the stable account identity for this key.
func (ki *KeyInfo) Address() (string, error) {
	pub, err := ki.PublicKey()
	if err != nil {
		return "", err
	}
	return AddressFromPubKey(pub), nil
}

// PublicKey returns the public key part.
func (ki *KeyInfo) PublicKey() ([]byte, error) {
	var pub []byte
	err := ki.UsePrivateKey(func(privateKey []byte) error {
		var err error
		pub, err = ToPublic(ki.SigType, privateKey)
		return err
	})
	return pub, err
}

// SignBytes signs the watermarked digest of data with this key.
func (ki *KeyInfo) SignBytes(watermark Watermark, data []byte) ([]byte, error) {
	var sig []byte
	err := ki.UsePrivateKey(func(privateKey []byte) error {
		var err error
		sig, err = Sign(ki.SigType, privateKey, watermark, data)
		return err
	})
	return sig, err
}

// UsePrivateKey opens the enclave and passes the plaintext key to f. The
// buffer is destroyed when f returns.
func (ki *KeyInfo) UsePrivateKey(f func([]byte) error) error {
	buf, err := ki.PrivateKey.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()

	return f(buf.Bytes())
}

// SetPrivateKey seals privateKey into the enclave and wipes the input with
// zeroes.
func (ki *KeyInfo) SetPrivateKey(privateKey []byte) {
	ki.PrivateKey = memguard.NewEnclave(privateKey)
}

// NewKeyFromSeed generates a KeyInfo of the given scheme from seed bytes.
// The seed is not wiped; callers own its lifetime.
func NewKeyFromSeed(typ SigType, seed []byte) (KeyInfo, error) {
	k, err := GenPrivateFromSeed(typ, bytes.NewReader(seed))
	if err != nil {
		return KeyInfo{}, err
	}
	ki := KeyInfo{SigType: typ}
	ki.SetPrivateKey(k)
	return ki, nil
}
