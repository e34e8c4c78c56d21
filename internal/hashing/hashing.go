// Package hashing computes the message digests accounts sign with.
package hashing

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/OKaluzny/wallet-custody/pkg/models"
)

var ErrUnsupported = errors.New("unsupported hash algorithm")

// Sum hashes data with algo.
func Sum(algo models.HashAlgo, data []byte) ([]byte, error) {
	switch algo {
	case models.HashSHA2_256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case models.HashSHA3_256:
		sum := sha3.Sum256(data)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("hash %q: %w", algo, ErrUnsupported)
	}
}
