package vault

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// SoftwareVault keeps P-256 keys in process memory and only ever hands out
// public keys and signatures.
type SoftwareVault struct {
	mu      sync.RWMutex
	keys    map[string]*ecdsa.PrivateKey
	hashes  map[models.HashAlgo]bool
	latency time.Duration
	logger  *slog.Logger
}

// SoftwareOption configures a SoftwareVault.
type SoftwareOption func(*SoftwareVault)

// WithHashes sets the digests the vault accepts. The default is SHA2_256
// only, which is what platform keystores offer.
func WithHashes(algos ...models.HashAlgo) SoftwareOption {
	return func(v *SoftwareVault) {
		v.hashes = make(map[models.HashAlgo]bool, len(algos))
		for _, a := range algos {
			v.hashes[a] = true
		}
	}
}

// WithLatency delays every signature, simulating a secure-element round trip.
func WithLatency(d time.Duration) SoftwareOption {
	return func(v *SoftwareVault) { v.latency = d }
}

func NewSoftwareVault(opts ...SoftwareOption) *SoftwareVault {
	v := &SoftwareVault{
		keys:   make(map[string]*ecdsa.PrivateKey),
		hashes: map[models.HashAlgo]bool{models.HashSHA2_256: true},
		logger: slog.Default().With("component", "software_vault"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *SoftwareVault) Generate(ctx context.Context, alias string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.keys[alias]; ok {
		return nil, fmt.Errorf("generate %s: %w", alias, ErrAliasExists)
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", alias, err)
	}
	v.keys[alias] = key
	v.logger.Info("generated key", "alias", alias)
	return encodePublic(&key.PublicKey), nil
}

func (v *SoftwareVault) PublicKey(ctx context.Context, alias string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	key, ok := v.keys[alias]
	if !ok {
		return nil, fmt.Errorf("public key %s: %w", alias, ErrAliasNotFound)
	}
	return encodePublic(&key.PublicKey), nil
}

func (v *SoftwareVault) Sign(ctx context.Context, alias string, data []byte, hash models.HashAlgo) ([]byte, error) {
	if !v.hashes[hash] {
		return nil, fmt.Errorf("sign %s with %s: %w", alias, hash, ErrUnsupportedHash)
	}
	d, err := digest(hash, data)
	if err != nil {
		return nil, err
	}

	if v.latency > 0 {
		select {
		case <-time.After(v.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.RLock()
	key, ok := v.keys[alias]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sign %s: %w", alias, ErrAliasNotFound)
	}
	return ecdsa.SignASN1(rand.Reader, key, d)
}

func (v *SoftwareVault) Contains(ctx context.Context, alias string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.keys[alias]
	return ok, nil
}

func (v *SoftwareVault) Delete(ctx context.Context, alias string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	key, ok := v.keys[alias]
	if !ok {
		return false, nil
	}
	key.D.SetInt64(0)
	delete(v.keys, alias)
	v.logger.Info("deleted key", "alias", alias)
	return true, nil
}

func encodePublic(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, 64)
	pub.X.FillBytes(out[:32])
	pub.Y.FillBytes(out[32:])
	return out
}
