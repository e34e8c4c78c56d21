package wallet

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/OKaluzny/wallet-custody/internal/hashing"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// Domain tags are prepended to signed messages so a signature for one purpose
// can never be replayed for another.
var (
	TransactionDomainTag = domainTag("FLOW-V0.0-transaction")
	UserDomainTag        = domainTag("FLOW-V0.0-user")
)

func domainTag(s string) [32]byte {
	var tag [32]byte
	copy(tag[:], s)
	return tag
}

// Digest hashes data with the given algorithm.
func Digest(algo models.HashAlgo, data []byte) ([]byte, error) {
	d, err := hashing.Sum(algo, data)
	if errors.Is(err, hashing.ErrUnsupported) {
		return nil, fmt.Errorf("hash %q: %w", algo, ErrUnsupportedAlgorithm)
	}
	return d, err
}

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

func withTag(tag [32]byte, data []byte) []byte {
	msg := make([]byte, 0, len(tag)+len(data))
	msg = append(msg, tag[:]...)
	return append(msg, data...)
}
