// Package registry holds the key provider of the active account.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/OKaluzny/wallet-custody/internal/vault"
	"github.com/OKaluzny/wallet-custody/internal/wallet"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

var (
	ErrNoActiveAccount = errors.New("no active account")
	ErrInvalidAccount  = errors.New("invalid account record")
)

// RegistryError reports why an account could not be activated.
type RegistryError struct {
	AccountID string
	Err       error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry: account %q: %v", e.AccountID, e.Err)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// MnemonicSource returns the recovery phrase of an account. Phrases are
// never stored in the account record itself.
type MnemonicSource interface {
	Mnemonic(ctx context.Context, accountID string) (models.MnemonicSeed, error)
}

// Registry maps the active account to exactly one KeyProvider.
type Registry struct {
	vault     vault.SecureKeyStore
	mnemonics MnemonicSource
	logger    *slog.Logger

	mu       sync.RWMutex
	active   *models.AccountRecord
	provider wallet.KeyProvider
}

func New(store vault.SecureKeyStore, mnemonics MnemonicSource) *Registry {
	if store == nil {
		store = vault.Unavailable{}
	}
	return &Registry{
		vault:     store,
		mnemonics: mnemonics,
		logger:    slog.Default().With("component", "registry"),
	}
}

// Current returns the provider of the active account.
func (r *Registry) Current() (wallet.KeyProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.provider, r.provider != nil
}

// Active returns the active account record.
func (r *Registry) Active() (models.AccountRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return models.AccountRecord{}, false
	}
	return *r.active, true
}

// MustCurrent is Current with an error for callers that need a provider.
func (r *Registry) MustCurrent() (wallet.KeyProvider, error) {
	if p, ok := r.Current(); ok {
		return p, nil
	}
	return nil, &RegistryError{Err: ErrNoActiveAccount}
}

// SetActive builds the provider for rec and makes it current. The previous
// provider is released after the swap. On error the current provider is left
// untouched.
func (r *Registry) SetActive(ctx context.Context, rec models.AccountRecord) error {
	p, err := r.build(ctx, rec)
	if err != nil {
		r.logger.Warn("activate account failed", "account", rec.ID, "error", err)
		return &RegistryError{AccountID: rec.ID, Err: err}
	}

	r.mu.Lock()
	prev := r.provider
	r.provider = p
	r.active = &rec
	r.mu.Unlock()

	if prev != nil {
		prev.Release()
	}
	r.logger.Info("account activated", "account", rec.ID, "kind", p.KeyKind())
	return nil
}

// Clear drops the active account and releases its provider.
func (r *Registry) Clear() {
	r.mu.Lock()
	prev := r.provider
	r.provider = nil
	r.active = nil
	r.mu.Unlock()

	if prev != nil {
		prev.Release()
		r.logger.Info("account cleared")
	}
}

func (r *Registry) build(ctx context.Context, rec models.AccountRecord) (wallet.KeyProvider, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("empty id: %w", ErrInvalidAccount)
	}

	switch {
	case rec.VaultAlias != "":
		ok, err := r.vault.Contains(ctx, rec.VaultAlias)
		if err != nil {
			return nil, fmt.Errorf("vault lookup: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("alias %q: %w", rec.VaultAlias, vault.ErrAliasNotFound)
		}
		return wallet.NewHardwareVaultProvider(r.vault, models.HardwareVaultRef{Alias: rec.VaultAlias}, models.FullWeight), nil

	case rec.KeystoreInfo != "":
		info, err := wallet.ParseKeystoreInfo(rec.KeystoreInfo)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidAccount, err)
		}
		m, err := info.Material()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidAccount, err)
		}
		p, err := wallet.NewRawKeyProvider(m, info.Weight)
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		if r.mnemonics == nil {
			return nil, fmt.Errorf("no mnemonic source: %w", ErrInvalidAccount)
		}
		seed, err := r.mnemonics.Mnemonic(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("load mnemonic: %w", err)
		}
		p, err := wallet.NewMnemonicProvider(seed, models.FullWeight)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// StaticMnemonics is a MnemonicSource backed by a map, for tests and the CLI.
type StaticMnemonics map[string]models.MnemonicSeed

func (s StaticMnemonics) Mnemonic(_ context.Context, accountID string) (models.MnemonicSeed, error) {
	m, ok := s[accountID]
	if !ok {
		return models.MnemonicSeed{}, fmt.Errorf("mnemonic for %q: %w", accountID, ErrInvalidAccount)
	}
	return m, nil
}
