package market

import (
	"math/big"

	"trustwork/internal/chainvalue"
)

const (
	fieldBidAmount   = "bid-amount"
	fieldProposal    = "proposal"
	fieldSubmittedAt = "submitted-at"
)

// Bid is keyed by (JobID, Freelancer); the contract keeps at most one
// non-withdrawn bid per key.
type Bid struct {
	JobID       uint64    `json:"jobId"`
	Freelancer  string    `json:"freelancer"`
	Amount      *big.Int  `json:"amount"`
	Proposal    string    `json:"proposal"`
	Status      BidStatus `json:"status"`
	SubmittedAt uint64    `json:"submittedAt"`
}

// IsActive is true for bids that still count: pending or accepted.
func (b Bid) IsActive() bool {
	return b.Status == BidPending || b.Status == BidAccepted
}

// HasActiveBid reports whether any of bids is an active bid by freelancer on
// jobID.
func HasActiveBid(bids []Bid, jobID uint64, freelancer string) bool {
	for _, b := range bids {
		if b.JobID == jobID && SameAddress(b.Freelancer, freelancer) && b.IsActive() {
			return true
		}
	}
	return false
}

// ToBid maps a decoded get-bid tuple. The key is not part of the tuple.
func ToBid(v chainvalue.Value, jobID uint64, freelancer string) (Bid, error) {
	if v.IsNone() {
		return Bid{}, chainvalue.ErrNotFound
	}
	bid := Bid{JobID: jobID, Freelancer: freelancer}
	var err error
	if bid.Amount, err = v.RequireBigInt(fieldBidAmount); err != nil {
		return Bid{}, err
	}
	if bid.Amount.Sign() < 0 {
		return Bid{}, chainvalue.Errorf(chainvalue.Malformed, fieldBidAmount, "negative amount %s", bid.Amount)
	}
	if bid.Proposal, err = v.RequireText(fieldProposal); err != nil {
		return Bid{}, err
	}
	if bid.SubmittedAt, err = v.RequireUint(fieldSubmittedAt); err != nil {
		return Bid{}, err
	}
	code, err := v.RequireUint(fieldStatus)
	if err != nil {
		return Bid{}, err
	}
	if bid.Status, err = ParseBidStatus(code); err != nil {
		return Bid{}, err
	}
	return bid, nil
}

// Tuple renders the bid in the shape get-bid returns.
func (b Bid) Tuple() chainvalue.Value {
	return chainvalue.Tuple(map[string]chainvalue.Value{
		fieldBidAmount:   chainvalue.Uint(b.Amount),
		fieldProposal:    chainvalue.StringUTF8(b.Proposal),
		fieldStatus:      chainvalue.Uint64(uint64(b.Status)),
		fieldSubmittedAt: chainvalue.Uint64(b.SubmittedAt),
	})
}
