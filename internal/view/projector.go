// Package view derives display state from decoded entities, the current chain
// height and the viewer's address. Nothing here performs I/O.
package view

import (
	"math"
	"time"

	"trustwork/internal/escrow"
	"trustwork/internal/market"
)

// DefaultBlockTime is the nominal interval between blocks.
const DefaultBlockTime = 10 * time.Minute

// Projector builds projections. Its zero value uses DefaultBlockTime and the
// wall clock.
type Projector struct {
	BlockTime  time.Duration
	Arbitrator string
	Now        func() time.Time
}

// At returns a copy whose clock is pinned to t, so every projection built
// from it shares one notion of "now".
func (p Projector) At(t time.Time) Projector {
	p.Now = func() time.Time { return t }
	return p
}

func (p Projector) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Projector) blockTime() time.Duration {
	if p.BlockTime > 0 {
		return p.BlockTime
	}
	return DefaultBlockTime
}

// Timing holds deadline-derived fields. IsExpired and BlocksRemaining are
// exact; EstimatedDeadline multiplies the remaining height by the nominal
// block time and is only an estimate.
type Timing struct {
	Height            uint64    `json:"height"`
	IsExpired         bool      `json:"isExpired"`
	BlocksRemaining   uint64    `json:"blocksRemaining"`
	EstimatedDeadline time.Time `json:"estimatedDeadline"`
}

func (p Projector) timing(deadline, height uint64) Timing {
	t := Timing{
		Height:    height,
		IsExpired: height >= deadline,
	}
	if deadline > height {
		t.BlocksRemaining = deadline - height
	}
	t.EstimatedDeadline = p.now().Add(p.offset(deadline, height))
	return t
}

// offset is (deadline - height) blocks of block time, saturating at the
// largest representable Duration in either direction.
func (p Projector) offset(deadline, height uint64) time.Duration {
	bt := p.blockTime()
	limit := uint64(math.MaxInt64 / int64(bt))
	if deadline >= height {
		return time.Duration(min(deadline-height, limit)) * bt
	}
	return -time.Duration(min(height-deadline, limit)) * bt
}

// JobView is a marketplace job as seen by one viewer at one height.
type JobView struct {
	market.Job
	Timing
	StatusLabel string `json:"statusLabel"`

	IsCreator            bool `json:"isCreator"`
	IsAssignedFreelancer bool `json:"isAssignedFreelancer"`
	IsArbitrator         bool `json:"isArbitrator"`

	CanSubmitBid          bool `json:"canSubmitBid"`
	CanAcceptBid          bool `json:"canAcceptBid"`
	CanCancel             bool `json:"canCancel"`
	CanSubmitWork         bool `json:"canSubmitWork"`
	CanApprove            bool `json:"canApprove"`
	CanReject             bool `json:"canReject"`
	CanResolveDispute     bool `json:"canResolveDispute"`
	CanClaimExpiredRefund bool `json:"canClaimExpiredRefund"`
}

func (p Projector) Job(job market.Job, height uint64, viewer string) JobView {
	v := JobView{
		Job:          job,
		Timing:       p.timing(job.Deadline, height),
		StatusLabel:  job.Status.Label(),
		IsCreator:    market.SameAddress(viewer, job.Creator),
		IsArbitrator: market.SameAddress(viewer, p.Arbitrator),
	}
	if job.SelectedFreelancer != nil {
		v.IsAssignedFreelancer = market.SameAddress(viewer, *job.SelectedFreelancer)
	}

	open := job.Status == market.JobOpen
	v.CanSubmitBid = open && viewer != "" && !v.IsCreator
	v.CanAcceptBid = open && v.IsCreator
	v.CanCancel = open && v.IsCreator
	v.CanSubmitWork = v.IsAssignedFreelancer && job.Status == market.JobInProgress
	v.CanApprove = v.IsCreator && job.Status == market.JobWorkSubmitted
	v.CanReject = v.IsCreator && job.Status == market.JobWorkSubmitted
	v.CanResolveDispute = v.IsArbitrator && job.Status == market.JobDisputed
	// OPEN is the job family's counterpart of an ACTIVE escrow.
	v.CanClaimExpiredRefund = v.IsExpired && open
	return v
}

// BidView is a bid as seen by one viewer.
type BidView struct {
	market.Bid
	Height      uint64 `json:"height"`
	StatusLabel string `json:"statusLabel"`
	IsActive    bool   `json:"isActive"`
	IsBidder    bool   `json:"isBidder"`
}

func (p Projector) Bid(bid market.Bid, height uint64, viewer string) BidView {
	return BidView{
		Bid:         bid,
		Height:      height,
		StatusLabel: bid.Status.Label(),
		IsActive:    bid.IsActive(),
		IsBidder:    market.SameAddress(viewer, bid.Freelancer),
	}
}

// EscrowView is a legacy escrow as seen by one viewer at one height.
type EscrowView struct {
	escrow.Escrow
	Timing
	StatusLabel   string `json:"statusLabel"`
	WorkCompleted bool   `json:"workCompleted"`
	// DaysRemaining is derived from EstimatedDeadline and shares its caveat.
	DaysRemaining int `json:"daysRemaining"`

	IsClient     bool `json:"isClient"`
	IsFreelancer bool `json:"isFreelancer"`
	IsArbitrator bool `json:"isArbitrator"`

	CanCompleteWork       bool `json:"canCompleteWork"`
	CanApproveRelease     bool `json:"canApproveRelease"`
	CanRefund             bool `json:"canRefund"`
	CanDispute            bool `json:"canDispute"`
	CanResolve            bool `json:"canResolve"`
	CanClaimExpiredRefund bool `json:"canClaimExpiredRefund"`
}

func (p Projector) Escrow(esc escrow.Escrow, height uint64, viewer string) EscrowView {
	v := EscrowView{
		Escrow:        esc,
		Timing:        p.timing(esc.Deadline, height),
		StatusLabel:   esc.Status.Label(),
		WorkCompleted: esc.WorkCompleted(),
		IsClient:      market.SameAddress(viewer, esc.Client),
		IsFreelancer:  market.SameAddress(viewer, esc.Freelancer),
		IsArbitrator:  market.SameAddress(viewer, p.Arbitrator),
	}
	v.DaysRemaining = daysUntil(v.EstimatedDeadline.Sub(p.now()))

	active := esc.Status == escrow.StatusActive
	v.CanCompleteWork = v.IsFreelancer && active
	v.CanApproveRelease = v.IsClient && active
	v.CanRefund = v.IsClient && active
	v.CanDispute = (v.IsClient || v.IsFreelancer) && active
	v.CanResolve = v.IsArbitrator && esc.Status == escrow.StatusDisputed
	v.CanClaimExpiredRefund = v.IsExpired && active
	return v
}

// daysUntil rounds toward +inf, like a countdown: 1h left is still 1 day.
func daysUntil(d time.Duration) int {
	const day = 24 * time.Hour
	days := d / day
	if d%day > 0 {
		days++
	}
	return int(days)
}
