package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// RawKeyProvider signs with an imported 32-byte scalar. The same scalar is
// used on both curves.
type RawKeyProvider struct {
	weight uint32

	mu  sync.RWMutex
	key []byte
}

// NewRawKeyProvider takes ownership of m.Bytes: the provider keeps a private
// copy and zeroes the caller's slice.
func NewRawKeyProvider(m models.RawPrivateKey, weight uint32) (*RawKeyProvider, error) {
	if len(m.Bytes) != 32 {
		return nil, signingErr(models.KeyKindRawKey, "load", fmt.Errorf("key length %d: %w", len(m.Bytes), ErrNoKeyMaterial))
	}
	key := make([]byte, 32)
	copy(key, m.Bytes)
	zero(m.Bytes)
	return &RawKeyProvider{weight: weight, key: key}, nil
}

func (p *RawKeyProvider) PublicKey(_ context.Context, algo models.SignAlgo) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.key == nil {
		return nil, signingErr(p.KeyKind(), "public key", ErrNoKeyMaterial)
	}
	pub, err := publicKeyFromScalar(algo, p.key)
	if err != nil {
		return nil, signingErr(p.KeyKind(), "public key", err)
	}
	return pub, nil
}

func (p *RawKeyProvider) Sign(ctx context.Context, data []byte, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.key == nil {
		return nil, signingErr(p.KeyKind(), "sign", ErrNoKeyMaterial)
	}
	sig, err := signWithScalar(p.key, data, signAlgo, hashAlgo)
	if err != nil {
		return nil, signingErr(p.KeyKind(), "sign", err)
	}
	return sig, nil
}

func (p *RawKeyProvider) Weight() uint32 { return p.weight }

func (p *RawKeyProvider) KeyKind() models.KeyKind { return models.KeyKindRawKey }

func (p *RawKeyProvider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	zero(p.key)
	p.key = nil
}
