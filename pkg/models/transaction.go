package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransactionPhase is the local view of a submitted transaction's progress.
type TransactionPhase int

// Transaction phases. Sealed, Expired and Error are terminal.
const (
	PhaseUnknown TransactionPhase = iota
	PhasePending
	PhaseFinalized
	PhaseExecuted
	PhaseSealed
	PhaseExpired
	PhaseError
)

var phaseNames = map[TransactionPhase]string{
	PhaseUnknown:   "Unknown",
	PhasePending:   "Pending",
	PhaseFinalized: "Finalized",
	PhaseExecuted:  "Executed",
	PhaseSealed:    "Sealed",
	PhaseExpired:   "Expired",
	PhaseError:     "Error",
}

func (p TransactionPhase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("TransactionPhase(%d)", int(p))
}

// IsTerminal reports whether no further transition is defined out of p.
func (p TransactionPhase) IsTerminal() bool {
	return p == PhaseSealed || p == PhaseExpired || p == PhaseError
}

// Rank orders phases for the monotonicity rule. All terminal phases share
// the highest rank.
func (p TransactionPhase) Rank() int {
	switch p {
	case PhasePending:
		return 1
	case PhaseFinalized:
		return 2
	case PhaseExecuted:
		return 3
	case PhaseSealed, PhaseExpired, PhaseError:
		return 4
	default:
		return 0
	}
}

// ParsePhase converts a persisted or chain-reported name to a phase.
func ParsePhase(s string) (TransactionPhase, error) {
	for p, name := range phaseNames {
		if name == s {
			return p, nil
		}
	}
	return PhaseUnknown, fmt.Errorf("unknown transaction phase %q", s)
}

func (p TransactionPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *TransactionPhase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Category tells the UI how to interpret a record's payload.
type Category string

// Transaction categories.
const (
	CategoryGeneric        Category = "Generic"
	CategoryTransferCoin   Category = "TransferCoin"
	CategoryTransferNFT    Category = "TransferNFT"
	CategoryAddToken       Category = "AddToken"
	CategoryEnableNFT      Category = "EnableNFT"
	CategoryFCLTransaction Category = "FCLTransaction"
	CategoryClaimDomain    Category = "ClaimDomain"
	CategoryStakeFlow      Category = "StakeFlow"
	CategoryRevokeKey      Category = "RevokeKey"
	CategoryAddPublicKey   Category = "AddPublicKey"
	CategoryMoveNFT        Category = "MoveNFT"
)

// IsKeyManagement reports whether a successful transaction of this category
// changes the account's key set.
func (c Category) IsKeyManagement() bool {
	return c == CategoryRevokeKey || c == CategoryAddPublicKey
}

// TransactionRecord tracks one submitted transaction.
type TransactionRecord struct {
	ID           string
	SubmittedAt  time.Time
	UpdatedAt    time.Time
	State        TransactionPhase
	Category     Category
	Payload      string
	ErrorMessage string
	// KeyIndex references the account key a key-management transaction acts on.
	KeyIndex *uint32
	Script   string
}

// IsProcessing reports whether the record has not reached a terminal phase.
func (r TransactionRecord) IsProcessing() bool {
	return !r.State.IsTerminal()
}

// IsSuccess reports a sealed transaction without an execution error.
func (r TransactionRecord) IsSuccess() bool {
	return r.State == PhaseSealed && r.ErrorMessage == ""
}

// IsFailed reports a terminal transaction that did not succeed.
func (r TransactionRecord) IsFailed() bool {
	if r.IsProcessing() {
		return false
	}
	if r.State == PhaseExpired || r.State == PhaseError {
		return true
	}
	return r.ErrorMessage != ""
}

// Progress is a coarse completion fraction for display.
func (r TransactionRecord) Progress() float64 {
	switch r.State {
	case PhaseUnknown, PhasePending:
		return 0.25
	case PhaseFinalized:
		return 0.50
	case PhaseExecuted:
		return 0.75
	case PhaseSealed:
		return 1.0
	default:
		return 0
	}
}

type recordJSON struct {
	ID           string           `json:"id"`
	SubmittedAt  int64            `json:"submittedAt"`
	UpdatedAt    int64            `json:"updatedAt,omitempty"`
	State        TransactionPhase `json:"state"`
	Category     Category         `json:"category"`
	Payload      string           `json:"payload"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	KeyIndex     *uint32          `json:"keyIndex,omitempty"`
	Script       string           `json:"script,omitempty"`
}

// MarshalJSON writes the persisted record layout with millisecond timestamps.
func (r TransactionRecord) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		ID:           r.ID,
		SubmittedAt:  r.SubmittedAt.UnixMilli(),
		State:        r.State,
		Category:     r.Category,
		Payload:      r.Payload,
		ErrorMessage: r.ErrorMessage,
		KeyIndex:     r.KeyIndex,
		Script:       r.Script,
	}
	if !r.UpdatedAt.IsZero() {
		out.UpdatedAt = r.UpdatedAt.UnixMilli()
	}
	return json.Marshal(out)
}

func (r *TransactionRecord) UnmarshalJSON(b []byte) error {
	var in recordJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = TransactionRecord{
		ID:           in.ID,
		SubmittedAt:  time.UnixMilli(in.SubmittedAt),
		State:        in.State,
		Category:     in.Category,
		Payload:      in.Payload,
		ErrorMessage: in.ErrorMessage,
		KeyIndex:     in.KeyIndex,
		Script:       in.Script,
	}
	if in.UpdatedAt != 0 {
		r.UpdatedAt = time.UnixMilli(in.UpdatedAt)
	}
	return nil
}
