package wallet

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/OKaluzny/wallet-custody/pkg/models"
	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// PublicKeySize is the length of an uncompressed X||Y public key without the
// 0x04 prefix.
const PublicKeySize = 64

// publicKeyFromScalar returns the X||Y public key of a private scalar on the
// requested curve.
func publicKeyFromScalar(algo models.SignAlgo, scalar []byte) ([]byte, error) {
	switch algo {
	case models.SignAlgoSecp256k1:
		priv, err := secp256k1Key(scalar)
		if err != nil {
			return nil, err
		}
		return priv.PubKey().SerializeUncompressed()[1:], nil
	case models.SignAlgoP256:
		priv, err := p256Key(scalar)
		if err != nil {
			return nil, err
		}
		return elliptic.Marshal(elliptic.P256(), priv.X, priv.Y)[1:], nil //nolint:staticcheck // uncompressed point encoding
	default:
		return nil, fmt.Errorf("curve %q: %w", algo, ErrUnsupportedAlgorithm)
	}
}

// signDigest signs a prehashed digest and returns the DER encoding.
func signDigest(algo models.SignAlgo, scalar, digest []byte) ([]byte, error) {
	switch algo {
	case models.SignAlgoSecp256k1:
		priv, err := secp256k1Key(scalar)
		if err != nil {
			return nil, err
		}
		return btcecdsa.Sign(priv, digest).Serialize(), nil
	case models.SignAlgoP256:
		priv, err := p256Key(scalar)
		if err != nil {
			return nil, err
		}
		return ecdsa.SignASN1(rand.Reader, priv, digest)
	default:
		return nil, fmt.Errorf("curve %q: %w", algo, ErrUnsupportedAlgorithm)
	}
}

// VerifyRaw checks a raw r||s signature over digest against an X||Y public key.
func VerifyRaw(algo models.SignAlgo, pub []byte, digest []byte, raw [RawSignatureSize]byte) bool {
	if len(pub) != PublicKeySize {
		return false
	}
	uncompressed := append([]byte{0x04}, pub...)

	switch algo {
	case models.SignAlgoSecp256k1:
		pk, err := btcec.ParsePubKey(uncompressed)
		if err != nil {
			return false
		}
		var r, s btcec.ModNScalar
		if r.SetByteSlice(raw[:componentSize]) || s.SetByteSlice(raw[componentSize:]) {
			return false
		}
		return btcecdsa.NewSignature(&r, &s).Verify(digest, pk)
	case models.SignAlgoP256:
		x, y := elliptic.Unmarshal(elliptic.P256(), uncompressed) //nolint:staticcheck // uncompressed point decoding
		if x == nil {
			return false
		}
		pk := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		r := new(big.Int).SetBytes(raw[:componentSize])
		s := new(big.Int).SetBytes(raw[componentSize:])
		return ecdsa.Verify(pk, digest, r, s)
	default:
		return false
	}
}

func secp256k1Key(scalar []byte) (*btcec.PrivateKey, error) {
	if len(scalar) != 32 {
		return nil, fmt.Errorf("secp256k1 scalar: %w", ErrNoKeyMaterial)
	}
	var k btcec.ModNScalar
	if overflow := k.SetByteSlice(scalar); overflow || k.IsZero() {
		return nil, fmt.Errorf("secp256k1 scalar out of range: %w", ErrNoKeyMaterial)
	}
	priv, _ := btcec.PrivKeyFromBytes(scalar)
	return priv, nil
}

func p256Key(scalar []byte) (*ecdsa.PrivateKey, error) {
	ek, err := ecdh.P256().NewPrivateKey(scalar)
	if err != nil {
		return nil, fmt.Errorf("p256 scalar: %v: %w", err, ErrNoKeyMaterial)
	}
	pub := ek.PublicKey().Bytes()
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pub[1:33]),
			Y:     new(big.Int).SetBytes(pub[33:]),
		},
		D: new(big.Int).SetBytes(scalar),
	}, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
