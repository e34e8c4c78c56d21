package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/OKaluzny/wallet-custody/pkg/models"
)

var (
	// ErrNoKeyMaterial is returned when a provider has no usable key.
	ErrNoKeyMaterial = errors.New("no key material")
	// ErrUnsupportedAlgorithm is returned for a curve/hash pair the backend cannot produce.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

// SigningError reports a failed provider operation. It is fatal for the
// current operation and is not retried.
type SigningError struct {
	Kind models.KeyKind
	Op   string
	Err  error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// KeyProvider signs payloads with one custody strategy. Every implementation
// returns signatures in the same 64-byte r||s form, so callers never need to
// know which backend produced them.
type KeyProvider interface {
	// PublicKey returns the X||Y public key for the given curve.
	PublicKey(ctx context.Context, algo models.SignAlgo) ([]byte, error)

	// Sign hashes data with hashAlgo and signs it on the signAlgo curve.
	Sign(ctx context.Context, data []byte, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) ([]byte, error)

	// Weight is the on-chain weight of the key this provider controls.
	Weight() uint32

	// KeyKind names the custody strategy.
	KeyKind() models.KeyKind

	// Release drops key material. Calls in flight complete first; later
	// calls fail with ErrNoKeyMaterial.
	Release()
}

// SignTransaction signs a transaction payload under the transaction domain tag.
func SignTransaction(ctx context.Context, p KeyProvider, payload []byte, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) ([]byte, error) {
	return p.Sign(ctx, withTag(TransactionDomainTag, payload), signAlgo, hashAlgo)
}

// SignUserMessage signs an off-chain message (for example a login JWT) under
// the user domain tag.
func SignUserMessage(ctx context.Context, p KeyProvider, msg []byte, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) ([]byte, error) {
	return p.Sign(ctx, withTag(UserDomainTag, msg), signAlgo, hashAlgo)
}

func signingErr(kind models.KeyKind, op string, err error) error {
	return &SigningError{Kind: kind, Op: op, Err: err}
}

// signWithScalar is the signing path shared by providers that hold the
// private scalar in memory.
func signWithScalar(scalar, data []byte, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) ([]byte, error) {
	digest, err := Digest(hashAlgo, data)
	if err != nil {
		return nil, err
	}
	der, err := signDigest(signAlgo, scalar, digest)
	if err != nil {
		return nil, err
	}
	raw, err := RawSignature(der)
	if err != nil {
		return nil, err
	}
	return raw[:], nil
}
