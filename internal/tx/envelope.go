package tx

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
)

const (
	addressLength = 8
	blockIDLength = 32
)

// Canonical forms of a transaction. Field order is part of the wire format.
type payloadCanonical struct {
	Script                    []byte
	Arguments                 [][]byte
	ReferenceBlockID          []byte
	GasLimit                  uint64
	ProposalKeyAddress        []byte
	ProposalKeyIndex          uint64
	ProposalKeySequenceNumber uint64
	Payer                     []byte
	Authorizers               [][]byte
}

type signatureCanonical struct {
	SignerIndex uint64
	KeyIndex    uint64
	Signature   []byte
}

type envelopeCanonical struct {
	Payload           payloadCanonical
	PayloadSignatures []signatureCanonical
}

// unsigned is a transaction before its envelope signature is attached.
type unsigned struct {
	Script         []byte
	Arguments      [][]byte
	ReferenceBlock string
	GasLimit       uint64
	Address        string
	KeyIndex       uint32
	SequenceNumber uint64
}

// envelopeMessage is the RLP encoding the proposer signs. The proposer is
// also payer and sole authorizer, so there are no payload signatures.
func envelopeMessage(u unsigned) ([]byte, error) {
	addr, err := decodeFixed(u.Address, addressLength)
	if err != nil {
		return nil, fmt.Errorf("address: %w", err)
	}
	ref, err := decodeFixed(u.ReferenceBlock, blockIDLength)
	if err != nil {
		return nil, fmt.Errorf("reference block: %w", err)
	}

	args := u.Arguments
	if args == nil {
		args = [][]byte{}
	}
	env := envelopeCanonical{
		Payload: payloadCanonical{
			Script:                    u.Script,
			Arguments:                 args,
			ReferenceBlockID:          ref,
			GasLimit:                  u.GasLimit,
			ProposalKeyAddress:        addr,
			ProposalKeyIndex:          uint64(u.KeyIndex),
			ProposalKeySequenceNumber: u.SequenceNumber,
			Payer:                     addr,
			Authorizers:               [][]byte{addr},
		},
		PayloadSignatures: []signatureCanonical{},
	}
	return rlp.EncodeToBytes(&env)
}

// decodeFixed decodes a hex string into exactly n bytes, left-padding short
// values with zeros.
func decodeFixed(s string, n int) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) > n {
		return nil, fmt.Errorf("%d bytes, want at most %d", len(b), n)
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out, nil
}
