package wallet

import (
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/OKaluzny/wallet-custody/pkg/models"
	"github.com/tyler-smith/go-bip32"
)

// ParsePath parses a BIP-32 path such as m/44'/539'/0'/0/0.
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("derivation path %q: must start with m", path)
	}
	out := make([]uint32, 0, len(parts)-1)
	for _, p := range parts[1:] {
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h")
		p = strings.TrimRight(p, "'h")
		n, err := strconv.ParseUint(p, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("derivation path %q: segment %q: %w", path, p, err)
		}
		idx := uint32(n)
		if hardened {
			idx += bip32.FirstHardenedChild
		}
		out = append(out, idx)
	}
	return out, nil
}

// deriveKey derives the private scalar at path from a BIP-39 seed on the
// curve required by algo.
func deriveKey(seed []byte, path []uint32, algo models.SignAlgo) ([]byte, error) {
	switch algo {
	case models.SignAlgoSecp256k1:
		return deriveSecp256k1(seed, path)
	case models.SignAlgoP256:
		return deriveP256(seed, path)
	default:
		return nil, fmt.Errorf("derive for %q: %w", algo, ErrUnsupportedAlgorithm)
	}
}

func deriveSecp256k1(seed []byte, path []uint32) ([]byte, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	for _, idx := range path {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
	}
	out := make([]byte, 32)
	copy(out, key.Key[len(key.Key)-32:])
	return out, nil
}

var p256SeedKey = []byte("Nist256p1 seed")

// deriveP256 implements SLIP-0010 private derivation for NIST P-256.
func deriveP256(seed []byte, path []uint32) ([]byte, error) {
	n := elliptic.P256().Params().N

	i := hmacSHA512(p256SeedKey, seed)
	for {
		k := new(big.Int).SetBytes(i[:32])
		if k.Sign() != 0 && k.Cmp(n) < 0 {
			break
		}
		i = hmacSHA512(p256SeedKey, i)
	}
	key, chain := i[:32], i[32:]

	for _, idx := range path {
		var data []byte
		if idx >= bip32.FirstHardenedChild {
			data = append([]byte{0x00}, key...)
		} else {
			priv, err := p256Key(key)
			if err != nil {
				return nil, err
			}
			data = elliptic.MarshalCompressed(elliptic.P256(), priv.X, priv.Y)
		}
		data = binary.BigEndian.AppendUint32(data, idx)

		parent := new(big.Int).SetBytes(key)
		for {
			i = hmacSHA512(chain, data)
			il := new(big.Int).SetBytes(i[:32])
			child := new(big.Int).Add(il, parent)
			child.Mod(child, n)
			if il.Cmp(n) < 0 && child.Sign() != 0 {
				key = child.FillBytes(make([]byte, 32))
				chain = i[32:]
				break
			}
			data = binary.BigEndian.AppendUint32(append([]byte{0x01}, i[32:]...), idx)
		}
	}
	return key, nil
}

func hmacSHA512(key, data []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
