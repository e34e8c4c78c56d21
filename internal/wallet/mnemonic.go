package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/OKaluzny/wallet-custody/pkg/models"
	"github.com/tyler-smith/go-bip39"
)

// MnemonicProvider signs with keys derived from a BIP-39 phrase. The
// secp256k1 key follows BIP-32 and the P-256 key follows SLIP-0010, both at
// the same path.
type MnemonicProvider struct {
	weight uint32
	logger *slog.Logger

	mu   sync.RWMutex
	keys map[models.SignAlgo][]byte
}

// NewMnemonicProvider validates the phrase and derives the keys for both
// curves. An empty phrase yields a provider that fails every call with
// ErrNoKeyMaterial.
func NewMnemonicProvider(m models.MnemonicSeed, weight uint32) (*MnemonicProvider, error) {
	p := &MnemonicProvider{
		weight: weight,
		logger: slog.Default().With("component", "mnemonic_provider"),
		keys:   make(map[models.SignAlgo][]byte, 2),
	}

	phrase := strings.Join(strings.Fields(m.Phrase), " ")
	if phrase == "" {
		return p, nil
	}
	if !bip39.IsMnemonicValid(phrase) {
		return nil, signingErr(p.KeyKind(), "load", fmt.Errorf("invalid mnemonic: %w", ErrNoKeyMaterial))
	}

	pathStr := m.DerivationPath
	if pathStr == "" {
		pathStr = models.DefaultDerivationPath
	}
	path, err := ParsePath(pathStr)
	if err != nil {
		return nil, signingErr(p.KeyKind(), "load", err)
	}

	seed := bip39.NewSeed(phrase, m.Passphrase)
	defer zero(seed)

	for _, algo := range []models.SignAlgo{models.SignAlgoSecp256k1, models.SignAlgoP256} {
		key, err := deriveKey(seed, path, algo)
		if err != nil {
			p.Release()
			return nil, signingErr(p.KeyKind(), "load", fmt.Errorf("derive %s: %w", algo, err))
		}
		p.keys[algo] = key
	}
	p.logger.Info("derived keys", "path", pathStr)
	return p, nil
}

func (p *MnemonicProvider) PublicKey(_ context.Context, algo models.SignAlgo) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, err := p.scalar(algo)
	if err != nil {
		return nil, signingErr(p.KeyKind(), "public key", err)
	}
	pub, err := publicKeyFromScalar(algo, key)
	if err != nil {
		return nil, signingErr(p.KeyKind(), "public key", err)
	}
	return pub, nil
}

func (p *MnemonicProvider) Sign(ctx context.Context, data []byte, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, err := p.scalar(signAlgo)
	if err != nil {
		return nil, signingErr(p.KeyKind(), "sign", err)
	}
	sig, err := signWithScalar(key, data, signAlgo, hashAlgo)
	if err != nil {
		return nil, signingErr(p.KeyKind(), "sign", err)
	}
	return sig, nil
}

func (p *MnemonicProvider) Weight() uint32 { return p.weight }

func (p *MnemonicProvider) KeyKind() models.KeyKind { return models.KeyKindMnemonic }

func (p *MnemonicProvider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for algo, key := range p.keys {
		zero(key)
		delete(p.keys, algo)
	}
}

// scalar must be called with mu held.
func (p *MnemonicProvider) scalar(algo models.SignAlgo) ([]byte, error) {
	switch algo {
	case models.SignAlgoSecp256k1, models.SignAlgoP256:
	default:
		return nil, fmt.Errorf("curve %q: %w", algo, ErrUnsupportedAlgorithm)
	}
	key, ok := p.keys[algo]
	if !ok {
		return nil, ErrNoKeyMaterial
	}
	return key, nil
}
