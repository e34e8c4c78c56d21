package storage

import (
	"context"
	"errors"

	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("storage: not found")

// Entry is one key/value pair returned by KV.List.
type Entry struct {
	Key   string
	Value []byte
}

// KV is the durable key/value surface every backend provides.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every entry whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}

// RecordStore persists transaction records.
type RecordStore interface {
	// SaveRecord writes rec, replacing any record with the same id.
	SaveRecord(ctx context.Context, rec models.TransactionRecord) error
	// DeleteRecord removes the record and its script association.
	DeleteRecord(ctx context.Context, id string) error
	// LoadRecords returns every persisted record.
	LoadRecords(ctx context.Context) ([]models.TransactionRecord, error)
	// SaveScript associates a script identifier with a transaction id.
	SaveScript(ctx context.Context, id, script string) error
	// Script returns the script identifier of id, or "" if none.
	Script(ctx context.Context, id string) (string, error)
}

// AccountStore persists local account records.
type AccountStore interface {
	SaveAccount(ctx context.Context, rec models.AccountRecord) error
	// Account returns the record with the given id, or ErrNotFound.
	Account(ctx context.Context, id string) (models.AccountRecord, error)
	Accounts(ctx context.Context) ([]models.AccountRecord, error)
	DeleteAccount(ctx context.Context, id string) error
}

// TxStore provides idempotent transaction submission.
type TxStore interface {
	// Get returns a previous submission by idempotency key, or nil if not found.
	Get(ctx context.Context, idempotencyKey string) (*models.Submission, error)
	// Put stores a submission keyed by its idempotency key.
	Put(ctx context.Context, sub *models.Submission) error
}

const (
	recordPrefix  = "tx/record/"
	scriptPrefix  = "tx/script/"
	submitPrefix  = "tx/submission/"
	accountPrefix = "account/"
)
