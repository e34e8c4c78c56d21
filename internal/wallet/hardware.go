package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/OKaluzny/wallet-custody/internal/vault"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// HardwareVaultProvider signs through a SecureKeyStore. The private key never
// enters process memory.
type HardwareVaultProvider struct {
	store  vault.SecureKeyStore
	weight uint32
	logger *slog.Logger

	mu    sync.RWMutex
	alias string
}

// NewHardwareVaultProvider returns a provider for the key stored under alias.
func NewHardwareVaultProvider(store vault.SecureKeyStore, ref models.HardwareVaultRef, weight uint32) *HardwareVaultProvider {
	return &HardwareVaultProvider{
		store:  store,
		alias:  ref.Alias,
		weight: weight,
		logger: slog.Default().With("component", "hardware_provider", "alias", ref.Alias),
	}
}

func (p *HardwareVaultProvider) PublicKey(ctx context.Context, algo models.SignAlgo) ([]byte, error) {
	if algo != models.SignAlgoP256 {
		return nil, signingErr(p.KeyKind(), "public key", fmt.Errorf("curve %q: %w", algo, ErrUnsupportedAlgorithm))
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.alias == "" || p.store == nil {
		return nil, signingErr(p.KeyKind(), "public key", ErrNoKeyMaterial)
	}
	pub, err := p.store.PublicKey(ctx, p.alias)
	if err != nil {
		return nil, signingErr(p.KeyKind(), "public key", mapVaultErr(err))
	}
	return pub, nil
}

func (p *HardwareVaultProvider) Sign(ctx context.Context, data []byte, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) ([]byte, error) {
	if signAlgo != models.SignAlgoP256 {
		return nil, signingErr(p.KeyKind(), "sign", fmt.Errorf("curve %q: %w", signAlgo, ErrUnsupportedAlgorithm))
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.alias == "" || p.store == nil {
		return nil, signingErr(p.KeyKind(), "sign", ErrNoKeyMaterial)
	}

	der, err := p.store.Sign(ctx, p.alias, data, hashAlgo)
	if err != nil {
		return nil, signingErr(p.KeyKind(), "sign", mapVaultErr(err))
	}
	raw, err := RawSignature(der)
	if err != nil {
		p.logger.Error("vault returned unparseable signature", "error", err)
		return nil, signingErr(p.KeyKind(), "sign", err)
	}
	return raw[:], nil
}

func (p *HardwareVaultProvider) Weight() uint32 { return p.weight }

func (p *HardwareVaultProvider) KeyKind() models.KeyKind { return models.KeyKindHardwareVault }

// Alias returns the vault alias, or "" after Release.
func (p *HardwareVaultProvider) Alias() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.alias
}

func (p *HardwareVaultProvider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alias = ""
}

// mapVaultErr keeps the vault error in the chain and adds the provider-level
// sentinel where one applies.
func mapVaultErr(err error) error {
	switch {
	case errors.Is(err, vault.ErrUnsupportedHash):
		return fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, err)
	case errors.Is(err, vault.ErrAliasNotFound):
		return fmt.Errorf("%w: %w", ErrNoKeyMaterial, err)
	default:
		return err
	}
}
