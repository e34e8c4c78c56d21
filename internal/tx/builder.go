// Package tx builds, signs and submits transactions and hands them to the
// watcher.
package tx

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/OKaluzny/wallet-custody/internal/chain"
	"github.com/OKaluzny/wallet-custody/internal/metrics"
	"github.com/OKaluzny/wallet-custody/internal/storage"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// ErrMissingKeyIndex is returned for a key-management request without a key index.
var ErrMissingKeyIndex = errors.New("key-management transaction needs a key index")

// Chain is the access node surface the builder needs.
type Chain interface {
	SubmitTransaction(ctx context.Context, tx chain.Transaction) (string, error)
	LatestBlockID(ctx context.Context) (string, error)
}

// Signer signs transaction envelopes with the active key.
type Signer interface {
	SignTransaction(ctx context.Context, payload []byte, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) ([]byte, error)
}

// Keys selects the proposal key of the sending account.
type Keys interface {
	Address() string
	ProposalKey() (models.AccountKey, error)
	SequenceNumber(ctx context.Context, index uint32) (uint64, error)
}

// Ledger records submitted transactions.
type Ledger interface {
	Register(ctx context.Context, rec models.TransactionRecord) error
	RecordScript(ctx context.Context, id, script string) error
}

// Watcher follows a submitted transaction.
type Watcher interface {
	Watch(id string, onTerminal func(models.TransactionRecord))
}

// BuilderConfig holds configurable parameters for the transaction builder.
type BuilderConfig struct {
	MaxRetries int
	// RetryDelay scales the quadratic backoff between broadcast attempts.
	RetryDelay time.Duration
	GasLimit   uint64
}

// Deps are the collaborators of a Builder.
type Deps struct {
	Chain   Chain
	Signer  Signer
	Keys    Keys
	Ledger  Ledger
	Watcher Watcher
	TxStore storage.TxStore
	Metrics *metrics.Metrics
}

// Builder runs the submit path: sign, broadcast, register, watch.
type Builder struct {
	deps     Deps
	cfg      BuilderConfig
	inflight singleflight.Group
	logger   *slog.Logger
}

func NewBuilder(cfg BuilderConfig, deps Deps) *Builder {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 9999
	}
	return &Builder{
		deps:   deps,
		cfg:    cfg,
		logger: slog.Default().With("component", "tx_builder"),
	}
}

// SendRequest represents a request to send a transaction.
type SendRequest struct {
	IdempotencyKey string // prevents duplicate sends; generated when empty
	Category       models.Category
	Script         []byte
	Arguments      [][]byte
	// ScriptID names the script in the ledger.
	ScriptID string
	// Payload is a display summary kept with the record.
	Payload string
	// KeyIndex is the account key a RevokeKey or AddPublicKey request acts on.
	KeyIndex *uint32
}

// Send submits req once per idempotency key. onTerminal, when set, runs
// when the transaction reaches a terminal phase; every caller sharing an
// idempotency key gets its own callback.
func (b *Builder) Send(ctx context.Context, req SendRequest, onTerminal func(models.TransactionRecord)) (*models.Submission, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if req.Category == "" {
		req.Category = models.CategoryGeneric
	}
	if req.Category.IsKeyManagement() && req.KeyIndex == nil {
		return nil, ErrMissingKeyIndex
	}

	v, err, _ := b.inflight.Do(req.IdempotencyKey, func() (interface{}, error) {
		return b.send(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	sub := v.(*models.Submission)
	b.deps.Watcher.Watch(sub.TxID, onTerminal)
	return sub, nil
}

func (b *Builder) send(ctx context.Context, req SendRequest) (*models.Submission, error) {
	existing, err := b.deps.TxStore.Get(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("tx store get: %w", err)
	}
	if existing != nil {
		b.logger.Info("duplicate request, returning existing tx",
			"idempotency_key", req.IdempotencyKey,
			"tx_id", existing.TxID,
		)
		return existing, nil
	}

	tx, err := b.build(ctx, req)
	if err != nil {
		return nil, err
	}

	id, err := b.broadcastWithRetry(ctx, tx, b.cfg.MaxRetries)
	b.deps.Metrics.Submission(string(req.Category), err)
	if err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}

	sub := &models.Submission{
		IdempotencyKey: req.IdempotencyKey,
		TxID:           id,
		Category:       req.Category,
		SubmittedAt:    time.Now(),
	}
	rec := models.TransactionRecord{
		ID:          id,
		SubmittedAt: sub.SubmittedAt,
		State:       models.PhasePending,
		Category:    req.Category,
		Payload:     req.Payload,
		KeyIndex:    req.KeyIndex,
		Script:      req.ScriptID,
	}
	if err := b.deps.Ledger.Register(ctx, rec); err != nil {
		return nil, fmt.Errorf("register %s: %w", id, err)
	}
	if req.ScriptID != "" {
		if err := b.deps.Ledger.RecordScript(ctx, id, req.ScriptID); err != nil {
			b.logger.Warn("record script failed", "tx_id", id, "error", err)
		}
	}

	// Store for idempotency
	if err := b.deps.TxStore.Put(ctx, sub); err != nil {
		return nil, fmt.Errorf("tx store put: %w", err)
	}

	return sub, nil
}

// build assembles and signs the envelope. The sequence number is read from
// chain right before signing.
func (b *Builder) build(ctx context.Context, req SendRequest) (chain.Transaction, error) {
	key, err := b.deps.Keys.ProposalKey()
	if err != nil {
		return chain.Transaction{}, fmt.Errorf("proposal key: %w", err)
	}
	seq, err := b.deps.Keys.SequenceNumber(ctx, key.Index)
	if err != nil {
		return chain.Transaction{}, err
	}
	ref, err := b.deps.Chain.LatestBlockID(ctx)
	if err != nil {
		return chain.Transaction{}, fmt.Errorf("reference block: %w", err)
	}

	address := b.deps.Keys.Address()
	u := unsigned{
		Script:         req.Script,
		Arguments:      req.Arguments,
		ReferenceBlock: ref,
		GasLimit:       b.cfg.GasLimit,
		Address:        address,
		KeyIndex:       key.Index,
		SequenceNumber: seq,
	}

	b.logger.Info("building transaction",
		"category", req.Category,
		"address", address,
		"key_index", key.Index,
		"sequence_number", seq,
	)

	msg, err := envelopeMessage(u)
	if err != nil {
		return chain.Transaction{}, fmt.Errorf("encode envelope: %w", err)
	}
	sig, err := b.deps.Signer.SignTransaction(ctx, msg, key.SignAlgo, key.HashAlgo)
	if err != nil {
		return chain.Transaction{}, fmt.Errorf("sign: %w", err)
	}

	keyIndex := strconv.FormatUint(uint64(key.Index), 10)
	args := make([]string, len(req.Arguments))
	for i, a := range req.Arguments {
		args[i] = base64.StdEncoding.EncodeToString(a)
	}
	return chain.Transaction{
		Script:           base64.StdEncoding.EncodeToString(req.Script),
		Arguments:        args,
		ReferenceBlockID: ref,
		GasLimit:         strconv.FormatUint(b.cfg.GasLimit, 10),
		Payer:            address,
		ProposalKey: chain.ProposalKey{
			Address:        address,
			KeyIndex:       keyIndex,
			SequenceNumber: strconv.FormatUint(seq, 10),
		},
		Authorizers:       []string{address},
		PayloadSignatures: []chain.Signature{},
		EnvelopeSignatures: []chain.Signature{{
			Address:   address,
			KeyIndex:  keyIndex,
			Signature: base64.StdEncoding.EncodeToString(sig),
		}},
	}, nil
}

func (b *Builder) broadcastWithRetry(ctx context.Context, tx chain.Transaction, maxRetries int) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		id, err := b.deps.Chain.SubmitTransaction(ctx, tx)
		if err == nil {
			b.logger.Info("transaction broadcast successful",
				"tx_id", id,
				"attempt", attempt,
			)
			return id, nil
		}

		lastErr = err
		if !retryable(err) {
			return "", err
		}
		b.logger.Warn("broadcast attempt failed",
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", err,
		)
		if attempt == maxRetries {
			break
		}

		// Exponential backoff
		select {
		case <-time.After(time.Duration(attempt*attempt) * b.cfg.RetryDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("all %d broadcast attempts failed: %w", maxRetries, lastErr)
}

// retryable rejects client errors: the node will refuse the same body again.
func retryable(err error) bool {
	var apiErr *chain.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < http.StatusBadRequest || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
