package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/crypto/sha3"
)

const (
	keyHeaderKDF = "scrypt"
	kdfNone      = "none"

	scryptR     = 8
	scryptDKLen = 32

	envelopeVersion = 1
)

// ErrDecrypt is the deterministic failure for a wrong key or corrupt
// ciphertext; the MAC check fires before any plaintext is produced.
var ErrDecrypt = errors.New("could not decrypt data with given key")

// CryptoJSON is the versioned ciphertext envelope: AES-128-CTR with a
// keccak256 MAC over the ciphertext, key material from scrypt (or, for
// entries sealed under the already-derived working key, no KDF at all).
type CryptoJSON struct {
	Cipher       string                 `json:"cipher"`
	CipherText   string                 `json:"ciphertext"`
	CipherParams cipherParams           `json:"cipherparams"`
	KDF          string                 `json:"kdf"`
	KDFParams    map[string]interface{} `json:"kdfparams,omitempty"`
	MAC          string                 `json:"mac"`
}

type cipherParams struct {
	IV string `json:"iv"`
}

type envelope struct {
	Version int        `json:"version"`
	Crypto  CryptoJSON `json:"crypto"`
}

// encryptData encrypts data under a key freshly derived from password via
// scrypt.
func encryptData(data, password []byte, scryptN, scryptP int) (CryptoJSON, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return CryptoJSON{}, fmt.Errorf("reading from crypto/rand failed: " + err.Error())
	}
	derivedKey, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, scryptDKLen)
	if err != nil {
		return CryptoJSON{}, err
	}
	defer wipeBytes(derivedKey)

	cryptoStruct, err := sealWithKey(data, derivedKey)
	if err != nil {
		return CryptoJSON{}, err
	}

	scryptParamsJSON := make(map[string]interface{}, 5)
	scryptParamsJSON["n"] = scryptN
	scryptParamsJSON["r"] = scryptR
	scryptParamsJSON["p"] = scryptP
	scryptParamsJSON["dklen"] = scryptDKLen
	scryptParamsJSON["salt"] = hex.EncodeToString(salt)
	cryptoStruct.KDF = keyHeaderKDF
	cryptoStruct.KDFParams = scryptParamsJSON

	return cryptoStruct, nil
}

// sealWithKey encrypts data directly under a 32-byte key, skipping the KDF.
// Used for entries sealed under the unlocked working key.
func sealWithKey(data, key []byte) (CryptoJSON, error) {
	if len(key) != scryptDKLen {
		return CryptoJSON{}, fmt.Errorf("sealing key must be %d bytes", scryptDKLen)
	}
	encryptKey := key[:16]

	iv := make([]byte, aes.BlockSize) // 16
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return CryptoJSON{}, fmt.Errorf("reading from crypto/rand failed: " + err.Error())
	}
	cipherText, err := aesCTRXOR(encryptKey, data, iv)
	if err != nil {
		return CryptoJSON{}, err
	}
	mac := keccak256(key[16:32], cipherText)

	return CryptoJSON{
		Cipher:     "aes-128-ctr",
		CipherText: hex.EncodeToString(cipherText),
		CipherParams: cipherParams{
			IV: hex.EncodeToString(iv),
		},
		KDF: kdfNone,
		MAC: hex.EncodeToString(mac),
	}, nil
}

// openWithKey reverses sealWithKey. The MAC is checked before decryption;
// a mismatch yields ErrDecrypt, never garbage plaintext.
func openWithKey(cryptoJSON CryptoJSON, key []byte) ([]byte, error) {
	if cryptoJSON.Cipher != "aes-128-ctr" {
		return nil, fmt.Errorf("cipher not supported: %v", cryptoJSON.Cipher)
	}
	if len(key) != scryptDKLen {
		return nil, fmt.Errorf("opening key must be %d bytes", scryptDKLen)
	}
	mac, err := hex.DecodeString(cryptoJSON.MAC)
	if err != nil {
		return nil, err
	}

	iv, err := hex.DecodeString(cryptoJSON.CipherParams.IV)
	if err != nil {
		return nil, err
	}

	cipherText, err := hex.DecodeString(cryptoJSON.CipherText)
	if err != nil {
		return nil, err
	}

	calculatedMAC := keccak256(key[16:32], cipherText)
	if !bytes.Equal(calculatedMAC, mac) {
		return nil, ErrDecrypt
	}

	return aesCTRXOR(key[:16], cipherText, iv)
}

// decryptData re-derives the KDF key recorded in the envelope from password
// and opens the ciphertext with it.
func decryptData(cryptoJSON CryptoJSON, password []byte) ([]byte, error) {
	derivedKey, err := getKDFKey(cryptoJSON, password)
	if err != nil {
		return nil, err
	}
	defer wipeBytes(derivedKey)

	return openWithKey(cryptoJSON, derivedKey)
}

// getKDFKey re-derives the wrapping key from the envelope's KDF record.
// Envelopes cross the protocol boundary on key import, so every param is
// validated; a malformed one is a typed failure, never a panic.
func getKDFKey(cryptoJSON CryptoJSON, password []byte) ([]byte, error) {
	saltHex, err := stringParam(cryptoJSON.KDFParams, "salt")
	if err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("kdfparams salt is not hex: %w", err)
	}
	dkLen, err := intParam(cryptoJSON.KDFParams, "dklen")
	if err != nil {
		return nil, err
	}

	if cryptoJSON.KDF == keyHeaderKDF {
		n, err := intParam(cryptoJSON.KDFParams, "n")
		if err != nil {
			return nil, err
		}
		r, err := intParam(cryptoJSON.KDFParams, "r")
		if err != nil {
			return nil, err
		}
		p, err := intParam(cryptoJSON.KDFParams, "p")
		if err != nil {
			return nil, err
		}
		return scrypt.Key(password, salt, n, r, p, dkLen)

	} else if cryptoJSON.KDF == "pbkdf2" {
		c, err := intParam(cryptoJSON.KDFParams, "c")
		if err != nil {
			return nil, err
		}
		prf, err := stringParam(cryptoJSON.KDFParams, "prf")
		if err != nil {
			return nil, err
		}
		if prf != "hmac-sha256" {
			return nil, fmt.Errorf("unsupported PBKDF2 PRF: %s", prf)
		}
		return pbkdf2.Key(password, salt, c, dkLen, sha256.New), nil
	}

	return nil, fmt.Errorf("unsupported KDF: %s", cryptoJSON.KDF)
}

func aesCTRXOR(key, inText, iv []byte) ([]byte, error) {
	// AES-128 is selected due to size of encryptKey.
	aesBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCTR(aesBlock, iv)
	outText := make([]byte, len(inText))
	stream.XORKeyStream(outText, inText)
	return outText, err
}

// EncryptPayload seals an arbitrary payload under a password into a
// portable versioned JSON blob. Used for key export/import between
// wallets.
func EncryptPayload(payload, password []byte, scryptN, scryptP int) ([]byte, error) {
	cryptoStruct, err := encryptData(payload, password, scryptN, scryptP)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		Version: envelopeVersion,
		Crypto:  cryptoStruct,
	})
}

// DecryptPayload reverses EncryptPayload.
func DecryptPayload(blob, password []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, err
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("version not supported: %v", env.Version)
	}
	return decryptData(env.Crypto, password)
}

// KeccakState wraps sha3.state. In addition to the usual hash methods, it
// also supports Read to get a variable amount of data from the hash state.
type KeccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

// keccak256 calculates and returns the Keccak256 hash of the input data.
func keccak256(data ...[]byte) []byte {
	b := make([]byte, 32)
	d := sha3.NewLegacyKeccak256().(KeccakState)
	for _, b := range data {
		_, _ = d.Write(b)
	}
	_, _ = d.Read(b)
	return b
}

func stringParam(params map[string]interface{}, name string) (string, error) {
	s, ok := params[name].(string)
	if !ok {
		return "", fmt.Errorf("kdfparams missing or malformed: %s", name)
	}
	return s, nil
}

func intParam(params map[string]interface{}, name string) (int, error) {
	switch v := params[name].(type) {
	case int:
		return v, nil
	case float64:
		// encoding/json decodes numbers into float64.
		return int(v), nil
	default:
		return 0, fmt.Errorf("kdfparams missing or malformed: %s", name)
	}
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
