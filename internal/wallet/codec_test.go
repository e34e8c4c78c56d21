package wallet

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func derSeq(r, s []byte) []byte {
	body := append([]byte{0x02, byte(len(r))}, r...)
	body = append(body, 0x02, byte(len(s)))
	body = append(body, s...)
	return append([]byte{0x30, byte(len(body))}, body...)
}

func filled(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestRawSignature_Lengths(t *testing.T) {
	tests := []struct {
		name  string
		r, s  []byte
		wantR []byte
		wantS []byte
	}{
		{
			name:  "32 byte components",
			r:     filled(32, 0x11),
			s:     filled(32, 0x22),
			wantR: filled(32, 0x11),
			wantS: filled(32, 0x22),
		},
		{
			name:  "sign padded components",
			r:     append([]byte{0x00}, filled(32, 0x81)...),
			s:     append([]byte{0x00}, filled(32, 0xff)...),
			wantR: filled(32, 0x81),
			wantS: filled(32, 0xff),
		},
		{
			name:  "short components are left padded",
			r:     []byte{0x01},
			s:     filled(31, 0x7f),
			wantR: append(filled(31, 0x00), 0x01),
			wantS: append([]byte{0x00}, filled(31, 0x7f)...),
		},
		{
			name:  "zero component",
			r:     []byte{0x00},
			s:     filled(32, 0x01),
			wantR: filled(32, 0x00),
			wantS: filled(32, 0x01),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := RawSignature(derSeq(tt.r, tt.s))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(raw[:32], tt.wantR) {
				t.Errorf("r = %x, want %x", raw[:32], tt.wantR)
			}
			if !bytes.Equal(raw[32:], tt.wantS) {
				t.Errorf("s = %x, want %x", raw[32:], tt.wantS)
			}
		})
	}
}

func TestRawSignature_PaddingEquivalence(t *testing.T) {
	// A 32-byte value with a leading zero and its 31-byte minimal form must
	// yield the same raw signature.
	v := append([]byte{0x00}, filled(31, 0x42)...)
	a, err := RawSignature(derSeq(v, v))
	if err != nil {
		t.Fatal(err)
	}
	b, err := RawSignature(derSeq(v[1:], v[1:]))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("padded %x != minimal %x", a, b)
	}
}

func TestRawSignature_Errors(t *testing.T) {
	valid := derSeq(filled(32, 0x11), filled(32, 0x22))

	tests := []struct {
		name string
		der  []byte
		want error
	}{
		{"empty", nil, ErrMalformed},
		{"wrong outer tag", append([]byte{0x31}, valid[1:]...), ErrMalformed},
		{"trailing bytes", append(append([]byte{}, valid...), 0x00), ErrMalformed},
		{"truncated", valid[:len(valid)-1], ErrMalformed},
		{"missing s", []byte{0x30, 0x03, 0x02, 0x01, 0x01}, ErrMalformed},
		{"empty integer", derSeq([]byte{}, filled(32, 0x01)), ErrMalformed},
		{"negative integer", derSeq([]byte{0x80}, filled(32, 0x01)), ErrMalformed},
		{"extra element", []byte{0x30, 0x09, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01}, ErrMalformed},
		{"33 byte value without padding", derSeq(append([]byte{0x01}, filled(32, 0x00)...), filled(32, 0x01)), ErrLengthOverflow},
		{"double padding", derSeq(append([]byte{0x00, 0x00}, filled(32, 0x81)...), filled(32, 0x01)), ErrLengthOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RawSignature(tt.der)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var ce *CodecError
			if !errors.As(err, &ce) {
				t.Errorf("err %T is not a *CodecError", err)
			}
		})
	}
}

func TestDERSignature_RoundTrip(t *testing.T) {
	for i := 0; i < 64; i++ {
		var raw [RawSignatureSize]byte
		if _, err := rand.Read(raw[:]); err != nil {
			t.Fatal(err)
		}
		// Exercise short components and high bits.
		switch i % 4 {
		case 1:
			raw[0], raw[1] = 0, 0
		case 2:
			raw[0] |= 0x80
			raw[32] |= 0x80
		case 3:
			copy(raw[32:40], make([]byte, 8))
		}

		got, err := RawSignature(DERSignature(raw))
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if got != raw {
			t.Fatalf("iteration %d: got %x, want %x", i, got, raw)
		}
	}
}
