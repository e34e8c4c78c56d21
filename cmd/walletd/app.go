package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/OKaluzny/wallet-custody/internal/account"
	"github.com/OKaluzny/wallet-custody/internal/chain"
	"github.com/OKaluzny/wallet-custody/internal/config"
	"github.com/OKaluzny/wallet-custody/internal/ledger"
	"github.com/OKaluzny/wallet-custody/internal/metrics"
	"github.com/OKaluzny/wallet-custody/internal/registry"
	"github.com/OKaluzny/wallet-custody/internal/signing"
	"github.com/OKaluzny/wallet-custody/internal/storage"
	"github.com/OKaluzny/wallet-custody/internal/tx"
	"github.com/OKaluzny/wallet-custody/internal/watcher"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// Environment variables holding the mnemonic of mnemonic-backed accounts.
// The phrase is never written to storage.
const (
	mnemonicEnv   = "WALLET_MNEMONIC"
	passphraseEnv = "WALLET_MNEMONIC_PASSPHRASE"
)

// app wires every component over one storage backend.
type app struct {
	cfg      config.Config
	kv       storage.KV
	metrics  *metrics.Metrics
	ledger   *ledger.Ledger
	chain    *chain.Client
	watcher  *watcher.Watcher
	registry *registry.Registry
	signer   *signing.Service
	accounts storage.AccountStore
	txs      storage.TxStore
	logger   *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*app, error) {
	kv, err := storage.Open(ctx, cfg.StorageBackend, cfg.DataDir, cfg.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	m, err := metrics.New(reg)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	l := ledger.New(storage.NewRecordStore(kv), ledger.WithMetrics(m))
	if err := l.Reload(ctx); err != nil {
		kv.Close()
		return nil, err
	}

	client := chain.NewClient(chain.Config{
		BaseURL:   cfg.AccessNode,
		Timeout:   cfg.RPCTimeout,
		RateLimit: cfg.RPCRateLimit,
		Burst:     cfg.RPCBurst,
	}, m)

	w := watcher.New(l, client, watcher.Config{
		PollInterval:   cfg.PollInterval,
		MaxPolls:       cfg.MaxPolls,
		MaxWatch:       cfg.MaxWatch,
		RPCTimeout:     cfg.RPCTimeout,
		RetryBudget:    cfg.RetryBudget,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	}, m)

	providers := registry.New(nil, envMnemonics{})
	return &app{
		cfg:      cfg,
		kv:       kv,
		metrics:  m,
		ledger:   l,
		chain:    client,
		watcher:  w,
		registry: providers,
		signer:   signing.NewService(providers, cfg.SignTimeout, m),
		accounts: storage.NewAccountStore(kv),
		txs:      storage.NewTxStore(kv),
		logger:   slog.Default().With("component", "walletd"),
	}, nil
}

func (a *app) close() {
	a.watcher.Shutdown()
	a.registry.Clear()
	if err := a.kv.Close(); err != nil {
		a.logger.Error("close storage", "error", err)
	}
}

// activate makes the stored account id current, or the only stored account
// when id is empty, and loads its key set from chain. The returned model
// follows key-management transactions through the ledger.
func (a *app) activate(ctx context.Context, id string) (*account.Model, error) {
	rec, err := a.lookupAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.registry.SetActive(ctx, rec); err != nil {
		return nil, err
	}
	model, err := account.Load(ctx, rec.Address, a.chain, a.registry)
	if err != nil {
		return nil, err
	}
	a.ledger.Subscribe(ctx, model)
	a.logger.Info("account ready",
		"account", rec.ID,
		"address", rec.Address,
		"local_keys", model.LocalKeys(),
	)
	return model, nil
}

func (a *app) lookupAccount(ctx context.Context, id string) (models.AccountRecord, error) {
	if id != "" {
		return a.accounts.Account(ctx, id)
	}
	recs, err := a.accounts.Accounts(ctx)
	if err != nil {
		return models.AccountRecord{}, err
	}
	switch len(recs) {
	case 0:
		return models.AccountRecord{}, registry.ErrNoActiveAccount
	case 1:
		return recs[0], nil
	default:
		return models.AccountRecord{}, errors.New("several accounts stored, pass --account")
	}
}

func (a *app) builder(keys tx.Keys) *tx.Builder {
	return tx.NewBuilder(tx.BuilderConfig{
		MaxRetries: a.cfg.BroadcastMaxRetries,
		RetryDelay: a.cfg.BroadcastRetryDelay,
		GasLimit:   a.cfg.GasLimit,
	}, tx.Deps{
		Chain:   a.chain,
		Signer:  a.signer,
		Keys:    keys,
		Ledger:  a.ledger,
		Watcher: a.watcher,
		TxStore: a.txs,
		Metrics: a.metrics,
	})
}

// envMnemonics serves the mnemonic of every account from the environment.
type envMnemonics struct{}

func (envMnemonics) Mnemonic(_ context.Context, accountID string) (models.MnemonicSeed, error) {
	phrase := os.Getenv(mnemonicEnv)
	if phrase == "" {
		return models.MnemonicSeed{}, fmt.Errorf("%s not set for account %s: %w", mnemonicEnv, accountID, registry.ErrInvalidAccount)
	}
	return models.MnemonicSeed{
		Phrase:         phrase,
		Passphrase:     os.Getenv(passphraseEnv),
		DerivationPath: models.DefaultDerivationPath,
	}, nil
}
