package wallet

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
	"strings"

	"github.com/OKaluzny/wallet-custody/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

var (
	ErrWrongPassword     = errors.New("keystore: could not decrypt key with given password")
	ErrKeystoreFormat    = errors.New("keystore: unsupported format")
	ErrKeystoreAddress   = errors.New("keystore: address does not match key")
	errKeystoreEmptyInfo = errors.New("keystore info: empty")
)

// KeystoreInfo is the blob persisted for accounts restored from a keystore
// export. It is the only place the raw key of such an account is kept.
type KeystoreInfo struct {
	Address    string `json:"address"`
	KeyID      uint32 `json:"keyId"`
	Weight     uint32 `json:"weight"`
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// ParseKeystoreInfo decodes a persisted KeystoreInfo blob.
func ParseKeystoreInfo(s string) (KeystoreInfo, error) {
	var info KeystoreInfo
	if strings.TrimSpace(s) == "" {
		return info, errKeystoreEmptyInfo
	}
	if err := json.Unmarshal([]byte(s), &info); err != nil {
		return info, fmt.Errorf("keystore info: %w", err)
	}
	return info, nil
}

// Encode returns the persisted form of info.
func (k KeystoreInfo) Encode() (string, error) {
	b, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("keystore info: %w", err)
	}
	return string(b), nil
}

// Material decodes the hex private key.
func (k KeystoreInfo) Material() (models.RawPrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(k.PrivateKey, "0x"))
	if err != nil {
		return models.RawPrivateKey{}, fmt.Errorf("keystore info private key: %w", err)
	}
	if len(b) != 32 {
		return models.RawPrivateKey{}, fmt.Errorf("keystore info private key length %d: %w", len(b), ErrNoKeyMaterial)
	}
	return models.RawPrivateKey{Bytes: b}, nil
}

// Web3 secret storage, version 3.

type encryptedKeyJSON struct {
	Address string     `json:"address"`
	Crypto  cryptoJSON `json:"crypto"`
	// Some exporters capitalise the crypto section.
	LegacyCrypto *cryptoJSON `json:"Crypto,omitempty"`
	ID           string      `json:"id"`
	Version      int         `json:"version"`
}

type cryptoJSON struct {
	Cipher       string                 `json:"cipher"`
	CipherText   string                 `json:"ciphertext"`
	CipherParams cipherparamsJSON       `json:"cipherparams"`
	KDF          string                 `json:"kdf"`
	KDFParams    map[string]interface{} `json:"kdfparams"`
	MAC          string                 `json:"mac"`
}

type cipherparamsJSON struct {
	IV string `json:"iv"`
}

// Scrypt cost parameters for EncryptKeystore.
const (
	StandardScryptN = 1 << 18
	StandardScryptP = 1
	LightScryptN    = 1 << 12
	LightScryptP    = 6

	scryptR     = 8
	scryptDKLen = 32
)

// DecryptKeystore decrypts a version 3 keystore export and returns the
// 32-byte private key.
func DecryptKeystore(data []byte, password string) ([]byte, error) {
	var k encryptedKeyJSON
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	if k.Version != 3 {
		return nil, fmt.Errorf("version %d: %w", k.Version, ErrKeystoreFormat)
	}
	c := k.Crypto
	if c.Cipher == "" && k.LegacyCrypto != nil {
		c = *k.LegacyCrypto
	}
	if c.Cipher != "aes-128-ctr" {
		return nil, fmt.Errorf("cipher %q: %w", c.Cipher, ErrKeystoreFormat)
	}

	mac, err := hex.DecodeString(c.MAC)
	if err != nil {
		return nil, fmt.Errorf("keystore mac: %w", err)
	}
	iv, err := hex.DecodeString(c.CipherParams.IV)
	if err != nil {
		return nil, fmt.Errorf("keystore iv: %w", err)
	}
	cipherText, err := hex.DecodeString(c.CipherText)
	if err != nil {
		return nil, fmt.Errorf("keystore ciphertext: %w", err)
	}

	derived, err := keystoreKDF(c, []byte(password))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(keccak256(derived[16:32], cipherText), mac) {
		return nil, ErrWrongPassword
	}

	key, err := aesCTR(derived[:16], cipherText, iv)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		zero(key)
		return nil, fmt.Errorf("key length %d: %w", len(key), ErrKeystoreFormat)
	}
	if k.Address != "" {
		addr, err := KeystoreAddress(key)
		if err != nil {
			zero(key)
			return nil, err
		}
		if !strings.EqualFold(strings.TrimPrefix(k.Address, "0x"), addr) {
			zero(key)
			return nil, ErrKeystoreAddress
		}
	}
	return key, nil
}

// EncryptKeystore encrypts a 32-byte private key into a version 3 keystore
// using scrypt with the given cost.
func EncryptKeystore(key []byte, password string, scryptN, scryptP int) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key length %d: %w", len(key), ErrNoKeyMaterial)
	}
	addr, err := KeystoreAddress(key)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, 32)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore salt: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("keystore iv: %w", err)
	}

	derived, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptDKLen)
	if err != nil {
		return nil, fmt.Errorf("keystore scrypt: %w", err)
	}
	cipherText, err := aesCTR(derived[:16], key, iv)
	if err != nil {
		return nil, err
	}

	out := encryptedKeyJSON{
		Address: addr,
		ID:      uuid.NewString(),
		Version: 3,
		Crypto: cryptoJSON{
			Cipher:       "aes-128-ctr",
			CipherText:   hex.EncodeToString(cipherText),
			CipherParams: cipherparamsJSON{IV: hex.EncodeToString(iv)},
			KDF:          "scrypt",
			KDFParams: map[string]interface{}{
				"n":     scryptN,
				"r":     scryptR,
				"p":     scryptP,
				"dklen": scryptDKLen,
				"salt":  hex.EncodeToString(salt),
			},
			MAC: hex.EncodeToString(keccak256(derived[16:32], cipherText)),
		},
	}
	return json.Marshal(out)
}

// KeystoreAddress returns the hex keystore address of a secp256k1 key: the
// last 20 bytes of keccak256 over the uncompressed public key.
func KeystoreAddress(key []byte) (string, error) {
	priv, err := secp256k1Key(key)
	if err != nil {
		return "", err
	}
	h := keccak256(priv.PubKey().SerializeUncompressed()[1:])
	return hex.EncodeToString(h[12:]), nil
}

func keystoreKDF(c cryptoJSON, password []byte) ([]byte, error) {
	salt, err := hex.DecodeString(paramString(c.KDFParams, "salt"))
	if err != nil {
		return nil, fmt.Errorf("keystore salt: %w", err)
	}
	dkLen := paramInt(c.KDFParams, "dklen")
	if dkLen < 32 {
		return nil, fmt.Errorf("dklen %d: %w", dkLen, ErrKeystoreFormat)
	}

	switch c.KDF {
	case "scrypt":
		n, r, p := paramInt(c.KDFParams, "n"), paramInt(c.KDFParams, "r"), paramInt(c.KDFParams, "p")
		key, err := scrypt.Key(password, salt, n, r, p, dkLen)
		if err != nil {
			return nil, fmt.Errorf("keystore scrypt: %w", err)
		}
		return key, nil
	case "pbkdf2":
		if prf := paramString(c.KDFParams, "prf"); prf != "hmac-sha256" {
			return nil, fmt.Errorf("prf %q: %w", prf, ErrKeystoreFormat)
		}
		iter := paramInt(c.KDFParams, "c")
		if iter <= 0 {
			return nil, fmt.Errorf("pbkdf2 iterations %d: %w", iter, ErrKeystoreFormat)
		}
		return pbkdf2.Key(password, salt, iter, dkLen, sha256.New), nil
	default:
		return nil, fmt.Errorf("kdf %q: %w", c.KDF, ErrKeystoreFormat)
	}
}

func aesCTR(key, in, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore cipher: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv length %d: %w", len(iv), ErrKeystoreFormat)
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}

func paramInt(params map[string]interface{}, name string) int {
	if f, ok := params[name].(float64); ok {
		return int(f)
	}
	if i, ok := params[name].(int); ok {
		return i
	}
	return 0
}

func paramString(params map[string]interface{}, name string) string {
	s, _ := params[name].(string)
	return s
}
