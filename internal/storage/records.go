package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// KVRecordStore is a RecordStore over a KV.
type KVRecordStore struct {
	kv KV
}

func NewRecordStore(kv KV) *KVRecordStore {
	return &KVRecordStore{kv: kv}
}

func (s *KVRecordStore) SaveRecord(ctx context.Context, rec models.TransactionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return s.kv.Put(ctx, recordPrefix+rec.ID, b)
}

func (s *KVRecordStore) DeleteRecord(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, recordPrefix+id); err != nil {
		return err
	}
	return s.kv.Delete(ctx, scriptPrefix+id)
}

func (s *KVRecordStore) LoadRecords(ctx context.Context) ([]models.TransactionRecord, error) {
	entries, err := s.kv.List(ctx, recordPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.TransactionRecord, 0, len(entries))
	for _, e := range entries {
		var rec models.TransactionRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *KVRecordStore) SaveScript(ctx context.Context, id, script string) error {
	return s.kv.Put(ctx, scriptPrefix+id, []byte(script))
}

func (s *KVRecordStore) Script(ctx context.Context, id string) (string, error) {
	b, err := s.kv.Get(ctx, scriptPrefix+id)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// KVAccountStore is an AccountStore over a KV.
type KVAccountStore struct {
	kv KV
}

func NewAccountStore(kv KV) *KVAccountStore {
	return &KVAccountStore{kv: kv}
}

func (s *KVAccountStore) SaveAccount(ctx context.Context, rec models.AccountRecord) error {
	if rec.ID == "" {
		return errors.New("save account: empty id")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", rec.ID, err)
	}
	return s.kv.Put(ctx, accountPrefix+rec.ID, b)
}

func (s *KVAccountStore) Account(ctx context.Context, id string) (models.AccountRecord, error) {
	var rec models.AccountRecord
	b, err := s.kv.Get(ctx, accountPrefix+id)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("decode account %s: %w", id, err)
	}
	return rec, nil
}

func (s *KVAccountStore) Accounts(ctx context.Context) ([]models.AccountRecord, error) {
	entries, err := s.kv.List(ctx, accountPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.AccountRecord, 0, len(entries))
	for _, e := range entries {
		var rec models.AccountRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *KVAccountStore) DeleteAccount(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, accountPrefix+id)
}

// KVTxStore is a TxStore over a KV.
type KVTxStore struct {
	kv KV
}

func NewTxStore(kv KV) *KVTxStore {
	return &KVTxStore{kv: kv}
}

func (s *KVTxStore) Get(ctx context.Context, idempotencyKey string) (*models.Submission, error) {
	b, err := s.kv.Get(ctx, submitPrefix+idempotencyKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sub models.Submission
	if err := json.Unmarshal(b, &sub); err != nil {
		return nil, fmt.Errorf("decode submission %s: %w", idempotencyKey, err)
	}
	return &sub, nil
}

func (s *KVTxStore) Put(ctx context.Context, sub *models.Submission) error {
	b, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode submission %s: %w", sub.IdempotencyKey, err)
	}
	return s.kv.Put(ctx, submitPrefix+sub.IdempotencyKey, b)
}

// Open returns the KV for backend: "memory", "leveldb" (dataDir required) or
// "redis" (redisAddr required).
func Open(ctx context.Context, backend, dataDir, redisAddr string) (KV, error) {
	switch backend {
	case "", "leveldb":
		if dataDir == "" {
			return nil, errors.New("leveldb backend: data dir not set")
		}
		db, err := OpenLevelDB(dataDir)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "redis":
		if redisAddr == "" {
			return nil, errors.New("redis backend: address not set")
		}
		r, err := DialRedis(ctx, redisAddr)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
