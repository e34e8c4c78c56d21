package vault

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/OKaluzny/wallet-custody/internal/hashing"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// AliasPrefix is prepended to every account prefix to form a vault alias.
const AliasPrefix = "user_keystore_"

var (
	ErrUnavailable     = errors.New("secure key store unavailable")
	ErrAliasExists     = errors.New("alias already exists")
	ErrAliasNotFound   = errors.New("alias not found")
	ErrUnsupportedHash = errors.New("hash algorithm not supported by key store")
)

// SecureKeyStore signs with keys that never leave the store. Implementations
// may block on a secure element or a user-presence prompt, so every method
// honours ctx.
type SecureKeyStore interface {
	// Generate creates a P-256 key pair under alias and returns the X||Y public key.
	Generate(ctx context.Context, alias string) ([]byte, error)
	// PublicKey returns the X||Y public key stored under alias.
	PublicKey(ctx context.Context, alias string) ([]byte, error)
	// Sign hashes data with hash and returns a DER-encoded ECDSA signature.
	Sign(ctx context.Context, alias string, data []byte, hash models.HashAlgo) ([]byte, error)
	// Contains reports whether alias exists.
	Contains(ctx context.Context, alias string) (bool, error)
	// Delete removes alias and reports whether it existed.
	Delete(ctx context.Context, alias string) (bool, error)
}

// Alias returns the vault alias for an account prefix.
func Alias(prefix string) string {
	return AliasPrefix + prefix
}

// NewPrefix derives a collision-resistant account prefix from a username and
// the account creation time.
func NewPrefix(username string, createdAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(username))
	h.Write(binary.BigEndian.AppendUint64(nil, uint64(createdAt.UnixNano())))
	return base58.Encode(h.Sum(nil))
}

func digest(algo models.HashAlgo, data []byte) ([]byte, error) {
	d, err := hashing.Sum(algo, data)
	if errors.Is(err, hashing.ErrUnsupported) {
		return nil, fmt.Errorf("%s: %w", algo, ErrUnsupportedHash)
	}
	return d, err
}

// Unavailable is the store used on platforms without a key vault.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, string) ([]byte, error) { return nil, ErrUnavailable }
func (Unavailable) PublicKey(context.Context, string) ([]byte, error) {
	return nil, ErrUnavailable
}
func (Unavailable) Sign(context.Context, string, []byte, models.HashAlgo) ([]byte, error) {
	return nil, ErrUnavailable
}
func (Unavailable) Contains(context.Context, string) (bool, error) { return false, ErrUnavailable }
func (Unavailable) Delete(context.Context, string) (bool, error)   { return false, ErrUnavailable }
