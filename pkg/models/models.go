package models

import (
	"fmt"
	"time"
)

// AuthorizationThreshold is the summed key weight an account needs to
// authorize a transaction.
const AuthorizationThreshold uint32 = 1000

// FullWeight is the weight of a key that can authorize on its own.
const FullWeight uint32 = 1000

// DefaultDerivationPath is the BIP-44 path used for mnemonic-backed keys.
const DefaultDerivationPath = "m/44'/539'/0'/0/0"

// SignAlgo identifies the elliptic curve used for a key.
type SignAlgo string

// Supported signature algorithms.
const (
	SignAlgoP256      SignAlgo = "ECDSA_P256"
	SignAlgoSecp256k1 SignAlgo = "ECDSA_secp256k1"
)

// DefaultHash returns the hash algorithm conventionally paired with a curve.
func (a SignAlgo) DefaultHash() HashAlgo {
	if a == SignAlgoSecp256k1 {
		return HashSHA2_256
	}
	return HashSHA3_256
}

// HashAlgo identifies the digest applied before signing.
type HashAlgo string

// Supported hash algorithms.
const (
	HashSHA2_256 HashAlgo = "SHA2_256"
	HashSHA3_256 HashAlgo = "SHA3_256"
)

// AccountKey is one public key registered on an on-chain account.
type AccountKey struct {
	Index          uint32   `json:"index"`
	PublicKey      []byte   `json:"public_key"`
	Weight         uint32   `json:"weight"`
	SignAlgo       SignAlgo `json:"sign_algo"`
	HashAlgo       HashAlgo `json:"hash_algo"`
	SequenceNumber uint64   `json:"sequence_number"`
	Revoked        bool     `json:"revoked"`
}

// Account is the on-chain authorization state of an address.
type Account struct {
	Address string                `json:"address"`
	Keys    map[uint32]AccountKey `json:"keys"`
	// LocalKeys lists the key indices this device holds signing material for.
	LocalKeys []uint32 `json:"local_keys,omitempty"`
}

// NewAccount builds an Account from a key list. Duplicate indices are rejected.
func NewAccount(address string, keys []AccountKey) (*Account, error) {
	acct := &Account{Address: address, Keys: make(map[uint32]AccountKey, len(keys))}
	for _, k := range keys {
		if _, dup := acct.Keys[k.Index]; dup {
			return nil, fmt.Errorf("duplicate key index %d", k.Index)
		}
		acct.Keys[k.Index] = k
	}
	return acct, nil
}

// AccountRecord is the persisted description of a local account. It carries
// which kind of key material backs the account, never the secret itself for
// vault-backed accounts.
type AccountRecord struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Address      string    `json:"address"`
	Kind         KeyKind   `json:"kind"`
	VaultAlias   string    `json:"vault_alias,omitempty"`
	KeystoreInfo string    `json:"keystore_info,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChainStatus is one status response for a submitted transaction.
type ChainStatus struct {
	Phase        TransactionPhase `json:"phase"`
	ErrorMessage string           `json:"error_message,omitempty"`
	StatusCode   int              `json:"status_code"`
}

// ScriptResult is the opaque output of a read-only script execution.
type ScriptResult struct {
	Value []byte `json:"value"`
}

// Submission is the idempotency entry of a submitted transaction.
type Submission struct {
	IdempotencyKey string    `json:"idempotency_key"`
	TxID           string    `json:"tx_id"`
	Category       Category  `json:"category"`
	SubmittedAt    time.Time `json:"submitted_at"`
}
