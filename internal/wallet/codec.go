package wallet

import (
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// RawSignatureSize is the length of an r||s signature over a 256-bit curve.
const RawSignatureSize = 64

const componentSize = 32

var (
	// ErrMalformed is returned for input that is not a DER SEQUENCE of two INTEGERs.
	ErrMalformed = errors.New("malformed DER signature")
	// ErrLengthOverflow is returned when r or s does not fit in 32 bytes.
	ErrLengthOverflow = errors.New("signature component exceeds 32 bytes")
)

// CodecError describes which part of a DER signature could not be converted.
type CodecError struct {
	Component string
	Err       error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("signature codec: %s: %v", e.Component, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// RawSignature converts an ASN.1 DER ECDSA signature into the fixed 64-byte
// r||s form. A single 0x00 sign-padding byte is stripped and short values are
// left-padded with zeros.
func RawSignature(der []byte) ([RawSignatureSize]byte, error) {
	var out [RawSignatureSize]byte

	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return out, &CodecError{Component: "sequence", Err: ErrMalformed}
	}

	var r, s cryptobyte.String
	if !seq.ReadASN1(&r, cbasn1.INTEGER) {
		return out, &CodecError{Component: "r", Err: ErrMalformed}
	}
	if !seq.ReadASN1(&s, cbasn1.INTEGER) {
		return out, &CodecError{Component: "s", Err: ErrMalformed}
	}
	if !seq.Empty() {
		return out, &CodecError{Component: "sequence", Err: ErrMalformed}
	}

	if err := putComponent(out[:componentSize], r); err != nil {
		return out, &CodecError{Component: "r", Err: err}
	}
	if err := putComponent(out[componentSize:], s); err != nil {
		return out, &CodecError{Component: "s", Err: err}
	}
	return out, nil
}

func putComponent(dst, v []byte) error {
	if len(v) == 0 {
		return ErrMalformed
	}
	// ECDSA components are positive; a set high bit without padding is a
	// negative INTEGER.
	if v[0]&0x80 != 0 {
		return ErrMalformed
	}
	if len(v) > 1 && v[0] == 0x00 {
		v = v[1:]
	}
	if len(v) > componentSize {
		return ErrLengthOverflow
	}
	copy(dst[componentSize-len(v):], v)
	return nil
}

// DERSignature encodes a raw r||s signature as ASN.1 DER.
func DERSignature(raw [RawSignatureSize]byte) []byte {
	r := new(big.Int).SetBytes(raw[:componentSize])
	s := new(big.Int).SetBytes(raw[componentSize:])

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	// Building from two non-negative big.Ints cannot fail.
	return b.BytesOrPanic()
}
