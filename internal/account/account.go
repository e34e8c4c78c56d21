// Package account models the weighted key set of an on-chain account and
// which of its keys this device can sign for.
package account

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/OKaluzny/wallet-custody/internal/wallet"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// refreshTimeout bounds the chain read triggered by a ledger notification.
const refreshTimeout = 15 * time.Second

var (
	ErrUnknownKey = errors.New("unknown account key")
	ErrNoLocalKey = errors.New("no usable local key")
)

// ChainReader fetches the current on-chain account.
type ChainReader interface {
	GetAccount(ctx context.Context, address string) (*models.Account, error)
}

// ProviderSource returns the active key provider.
type ProviderSource interface {
	Current() (wallet.KeyProvider, bool)
}

// Processing lists transactions that are still in flight.
type Processing interface {
	Processing() []models.TransactionRecord
}

// Model is the in-memory key set of one account. Sequence numbers are never
// served from it; they are read from chain on every call.
type Model struct {
	chain     ChainReader
	providers ProviderSource
	logger    *slog.Logger

	mu   sync.RWMutex
	acct models.Account
}

// New wraps acct. The caller keeps ownership of acct; the model copies it.
func New(acct *models.Account, chain ChainReader, providers ProviderSource) *Model {
	return &Model{
		chain:     chain,
		providers: providers,
		logger:    slog.Default().With("component", "account", "address", acct.Address),
		acct:      clone(*acct),
	}
}

// Load fetches address from chain and marks the keys the current provider
// holds as local.
func Load(ctx context.Context, address string, chain ChainReader, providers ProviderSource) (*Model, error) {
	acct, err := chain.GetAccount(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", address, err)
	}
	m := New(acct, chain, providers)
	if err := m.matchLocal(ctx, acct); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.acct = clone(*acct)
	m.mu.Unlock()
	return m, nil
}

func (m *Model) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.acct.Address
}

// Account returns a copy of the current key set.
func (m *Model) Account() models.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.acct)
}

func (m *Model) Key(index uint32) (models.AccountKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.acct.Keys[index]
	return k, ok
}

// IsAuthorized reports whether the keys at indices together carry the
// authorization threshold. Revoked and unknown keys contribute nothing and an
// index is counted once.
func (m *Model) IsAuthorized(indices []uint32) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uint32]struct{}, len(indices))
	var total uint64
	for _, idx := range indices {
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		k, ok := m.acct.Keys[idx]
		if !ok || k.Revoked {
			continue
		}
		total += uint64(k.Weight)
	}
	return total >= uint64(models.AuthorizationThreshold)
}

// ActiveKeys returns the non-revoked keys sorted by index.
func (m *Model) ActiveKeys() []models.AccountKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AccountKey, 0, len(m.acct.Keys))
	for _, k := range m.acct.Keys {
		if !k.Revoked {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// LocalKeys returns the indices this device holds material for.
func (m *Model) LocalKeys() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uint32(nil), m.acct.LocalKeys...)
}

// IsCurrentDevice reports whether the key at index belongs to the active
// provider. Any failure to obtain the provider key reads as false.
func (m *Model) IsCurrentDevice(ctx context.Context, index uint32) bool {
	k, ok := m.Key(index)
	if !ok {
		return false
	}
	p, ok := m.providers.Current()
	if !ok {
		return false
	}
	pub, err := p.PublicKey(ctx, k.SignAlgo)
	if err != nil {
		m.logger.Debug("provider public key unavailable", "key_index", index, "error", err)
		return false
	}
	return bytes.Equal(pub, k.PublicKey)
}

// SequenceNumber returns the on-chain sequence number of the key at index.
func (m *Model) SequenceNumber(ctx context.Context, index uint32) (uint64, error) {
	acct, err := m.chain.GetAccount(ctx, m.Address())
	if err != nil {
		return 0, fmt.Errorf("sequence number: %w", err)
	}
	k, ok := acct.Keys[index]
	if !ok {
		return 0, fmt.Errorf("sequence number of key %d: %w", index, ErrUnknownKey)
	}
	return k.SequenceNumber, nil
}

// Refresh reloads the key set from chain and recomputes the local keys.
func (m *Model) Refresh(ctx context.Context) error {
	acct, err := m.chain.GetAccount(ctx, m.Address())
	if err != nil {
		return fmt.Errorf("refresh account: %w", err)
	}
	if err := m.matchLocal(ctx, acct); err != nil {
		return err
	}

	m.mu.Lock()
	m.acct = clone(*acct)
	m.mu.Unlock()

	m.logger.Info("account refreshed", "keys", len(acct.Keys), "local_keys", acct.LocalKeys)
	return nil
}

// matchLocal fills acct.LocalKeys from the active provider. Without a
// provider the previous local keys are kept.
func (m *Model) matchLocal(ctx context.Context, acct *models.Account) error {
	p, ok := m.providers.Current()
	if !ok {
		acct.LocalKeys = m.LocalKeys()
		return nil
	}
	keys, err := wallet.MatchAccountKeys(ctx, p, acct)
	if err != nil {
		return fmt.Errorf("match local keys: %w", err)
	}
	acct.LocalKeys = wallet.LocalIndices(keys)
	return nil
}

// RevokeKey marks the key at index revoked without asking the chain.
func (m *Model) RevokeKey(index uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.acct.Keys[index]
	if !ok {
		return fmt.Errorf("revoke key %d: %w", index, ErrUnknownKey)
	}
	if k.Revoked {
		return nil
	}
	k.Revoked = true
	m.acct.Keys[index] = k
	m.logger.Info("key revoked", "key_index", index)
	return nil
}

// IsRevoking reports whether a revoke transaction for index is in flight.
func (m *Model) IsRevoking(index uint32, txs Processing) bool {
	for _, rec := range txs.Processing() {
		if rec.Category == models.CategoryRevokeKey && rec.KeyIndex != nil && *rec.KeyIndex == index {
			return true
		}
	}
	return false
}

// ProposalKey picks the local non-revoked key with the highest weight,
// lowest index first on ties.
func (m *Model) ProposalKey() (models.AccountKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best models.AccountKey
	found := false
	for _, idx := range m.acct.LocalKeys {
		k, ok := m.acct.Keys[idx]
		if !ok || k.Revoked {
			continue
		}
		if !found || k.Weight > best.Weight || (k.Weight == best.Weight && k.Index < best.Index) {
			best, found = k, true
		}
	}
	if !found {
		return models.AccountKey{}, ErrNoLocalKey
	}
	return best, nil
}

// Apply updates the key set after a key-management transaction sealed
// successfully. Other records are ignored.
func (m *Model) Apply(ctx context.Context, rec models.TransactionRecord) error {
	if !rec.IsSuccess() || !rec.Category.IsKeyManagement() {
		return nil
	}
	if rec.Category == models.CategoryRevokeKey && rec.KeyIndex != nil {
		if err := m.RevokeKey(*rec.KeyIndex); err != nil && !errors.Is(err, ErrUnknownKey) {
			return err
		}
	}
	return m.Refresh(ctx)
}

// OnTransactionUpdate lets a Model observe the transaction ledger.
func (m *Model) OnTransactionUpdate(rec models.TransactionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := m.Apply(ctx, rec); err != nil {
		m.logger.Warn("apply key-management transaction failed", "tx_id", rec.ID, "error", err)
	}
}

func clone(a models.Account) models.Account {
	out := models.Account{
		Address:   a.Address,
		Keys:      make(map[uint32]models.AccountKey, len(a.Keys)),
		LocalKeys: append([]uint32(nil), a.LocalKeys...),
	}
	for i, k := range a.Keys {
		k.PublicKey = append([]byte(nil), k.PublicKey...)
		out.Keys[i] = k
	}
	return out
}
