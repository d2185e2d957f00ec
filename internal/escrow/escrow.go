// Package escrow models the legacy two-party escrow contract generation. It
// shares decoding infrastructure with the marketplace but no types.
package escrow

import (
	"math/big"

	"trustwork/internal/chainvalue"
)

// Status is the escrow state as coded by the contract.
type Status uint8

const (
	StatusActive    Status = 1
	StatusCompleted Status = 2
	StatusRefunded  Status = 3
	StatusDisputed  Status = 4
	StatusResolved  Status = 5
)

// Append-only: codes are never reused.
var statusLabels = map[Status]string{
	StatusActive:    "Active",
	StatusCompleted: "Completed",
	StatusRefunded:  "Refunded",
	StatusDisputed:  "Disputed",
	StatusResolved:  "Resolved",
}

func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return "Unknown"
}

func (s Status) String() string { return s.Label() }

func ParseStatus(code uint64) (Status, error) {
	s := Status(code)
	if _, ok := statusLabels[s]; !ok || code > 255 {
		return 0, chainvalue.Errorf(chainvalue.UnknownStatus, "status", "escrow status %d", code)
	}
	return s, nil
}

// Escrow holds funds from Client for Freelancer until release, refund or
// arbitration. Amount is in micro-units; Deadline is a chain height.
type Escrow struct {
	ID            uint64   `json:"id"`
	Client        string   `json:"client"`
	Freelancer    string   `json:"freelancer"`
	Amount        *big.Int `json:"amount"`
	Deadline      uint64   `json:"deadline"`
	Status        Status   `json:"status"`
	Metadata      *string  `json:"metadata,omitempty"`
	DisputeReason *string  `json:"disputeReason,omitempty"`
}

// WorkCompleted is derived from the status; the contract stores no flag.
func (e Escrow) WorkCompleted() bool {
	return e.Status == StatusCompleted || e.Status == StatusResolved
}

// ToEscrow maps a decoded get-escrow tuple.
func ToEscrow(v chainvalue.Value, id uint64) (Escrow, error) {
	if v.IsNone() {
		return Escrow{}, chainvalue.ErrNotFound
	}
	esc := Escrow{ID: id}
	var err error
	if esc.Client, err = v.RequireText("client"); err != nil {
		return Escrow{}, err
	}
	if esc.Freelancer, err = v.RequireText("freelancer"); err != nil {
		return Escrow{}, err
	}
	if esc.Amount, err = v.RequireBigInt("amount"); err != nil {
		return Escrow{}, err
	}
	if esc.Amount.Sign() < 0 {
		return Escrow{}, chainvalue.Errorf(chainvalue.Malformed, "amount", "negative amount %s", esc.Amount)
	}
	if esc.Deadline, err = v.RequireUint("deadline"); err != nil {
		return Escrow{}, err
	}
	code, err := v.RequireUint("status")
	if err != nil {
		return Escrow{}, err
	}
	if esc.Status, err = ParseStatus(code); err != nil {
		return Escrow{}, err
	}
	if esc.Metadata, err = optionalText(v, "metadata"); err != nil {
		return Escrow{}, err
	}
	if esc.DisputeReason, err = optionalText(v, "dispute-reason"); err != nil {
		return Escrow{}, err
	}
	return esc, nil
}

func optionalText(v chainvalue.Value, field string) (*string, error) {
	s, ok, err := v.OptionalText(field)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// Tuple renders the escrow in the shape get-escrow returns.
func (e Escrow) Tuple() chainvalue.Value {
	opt := func(s *string) chainvalue.Value {
		if s == nil {
			return chainvalue.None()
		}
		return chainvalue.Some(chainvalue.StringUTF8(*s))
	}
	return chainvalue.Tuple(map[string]chainvalue.Value{
		"client":         chainvalue.Principal(e.Client),
		"freelancer":     chainvalue.Principal(e.Freelancer),
		"amount":         chainvalue.Uint(e.Amount),
		"deadline":       chainvalue.Uint64(e.Deadline),
		"status":         chainvalue.Uint64(uint64(e.Status)),
		"metadata":       opt(e.Metadata),
		"dispute-reason": opt(e.DisputeReason),
	})
}
