package txbuild

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"

	"trustwork/internal/chainvalue"
)

// Limits the client enforces before anything reaches a signer. The contract
// has its own checks; these catch obvious mistakes early.
const (
	MaxMetadataLen = 200
	MinDeadline    = 24 * time.Hour
	MaxDeadline    = 365 * 24 * time.Hour
)

// MaxAmount is the largest display amount accepted for a new job, bid or
// escrow.
var MaxAmount = new(big.Int).Mul(big.NewInt(1_000_000), microPerUnit)

// Categories a job may be posted under.
var Categories = []string{
	"Web Development",
	"Design",
	"Writing",
	"Marketing",
	"Video Production",
	"Other",
}

// HeightSource reports the current chain height.
type HeightSource interface {
	Height(ctx context.Context) (uint64, error)
}

// ActionRequest is an action in domain terms: decimal amounts and calendar
// dates. Which fields matter depends on Action.
type ActionRequest struct {
	Action Action `json:"action"`
	Actor  string `json:"actor"`
	// ID is the job id or the escrow id.
	ID          uint64    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Deadline    time.Time `json:"deadline,omitempty"`
	Freelancer  string    `json:"freelancer,omitempty"`
	// Text is the proposal, work description, feedback, dispute reason or
	// escrow metadata.
	Text       string      `json:"text,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
	// Payout pins a contract-funded action's transfer when the caller knows
	// it. Empty means the amount is left to the contract.
	Payout string `json:"payout,omitempty"`
}

// Planner turns ActionRequests into built SubmissionRequests.
type Planner struct {
	Builder   Builder
	Heights   HeightSource
	BlockTime time.Duration
	Now       func() time.Time
}

func (p Planner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Plan validates r, converts its amounts and dates, consults the
// post-condition guard and builds the request. All validation problems are
// reported together as one InvalidRequest error.
func (p Planner) Plan(ctx context.Context, r ActionRequest) (*SubmissionRequest, error) {
	if !r.Action.Known() {
		return nil, submissionErr(InvalidRequest, r.Action, "unknown action")
	}
	now := p.now()

	var errs *multierror.Error
	fail := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}
	if !validStandardAddress(r.Actor) {
		fail("invalid actor address %q", r.Actor)
	}

	var (
		args   []chainvalue.Value
		amount *big.Int
		err    error
	)
	needAmount := func() {
		if amount, err = ToMicro(r.Amount); err != nil {
			fail("amount: %v", err)
		} else if amount.Sign() <= 0 || amount.Cmp(MaxAmount) > 0 {
			fail("amount must be more than 0 and at most %s", FormatMicro(MaxAmount))
		}
	}
	needDeadline := func() {
		until := r.Deadline.Sub(now)
		if r.Deadline.IsZero() || until < MinDeadline || until > MaxDeadline {
			fail("deadline must be between 1 day and 1 year from now")
		}
	}
	needText := func(what string) {
		if strings.TrimSpace(r.Text) == "" {
			fail("%s is required", what)
		}
	}
	needFreelancer := func() {
		if !validStandardAddress(r.Freelancer) {
			fail("invalid freelancer address %q", r.Freelancer)
		}
	}

	switch r.Action {
	case PostJob:
		if strings.TrimSpace(r.Title) == "" {
			fail("title is required")
		}
		if strings.TrimSpace(r.Description) == "" {
			fail("description is required")
		}
		if !validCategory(r.Category) {
			fail("unknown category %q", r.Category)
		}
		needAmount()
		needDeadline()
	case SubmitBid:
		needAmount()
		needText("proposal")
	case AcceptBid:
		needFreelancer()
	case SubmitWork:
		needText("work description")
	case RejectWork:
		needText("rejection reason")
	case InitiateDispute:
		needText("dispute reason")
	case CreateEscrow:
		needFreelancer()
		if strings.EqualFold(r.Freelancer, r.Actor) {
			fail("cannot create an escrow with yourself")
		}
		needAmount()
		needDeadline()
		if utf8.RuneCountInString(r.Text) > MaxMetadataLen {
			fail("metadata exceeds %d characters", MaxMetadataLen)
		}
	case ResolveDispute:
		if r.Resolution == nil || !r.Resolution.Valid() {
			fail("resolution must be 0 (refund client), 1 (release to freelancer) or 2 (split)")
		}
	}

	var payout *big.Int
	if r.Payout != "" {
		if r.Action.Movement() != MovesFromContract {
			fail("payout only applies to contract-funded actions")
		} else if payout, err = ToMicro(r.Payout); err != nil {
			fail("payout: %v", err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, &SubmissionError{Kind: InvalidRequest, Action: r.Action, Err: err}
	}

	var deadline uint64
	if r.Action == PostJob || r.Action == CreateEscrow {
		if p.Heights == nil {
			return nil, submissionErr(InvalidRequest, r.Action, "no height source for deadline conversion")
		}
		height, err := p.Heights.Height(ctx)
		if err != nil {
			return nil, fmt.Errorf("current height: %w", err)
		}
		if deadline, err = HeightFor(now, r.Deadline, height, p.blockTime()); err != nil {
			return nil, &SubmissionError{Kind: InvalidRequest, Action: r.Action, Err: err}
		}
	}

	id := chainvalue.Uint64(r.ID)
	switch r.Action {
	case PostJob:
		args = []chainvalue.Value{
			chainvalue.StringUTF8(r.Title),
			chainvalue.StringUTF8(r.Description),
			chainvalue.Uint(amount),
			chainvalue.Uint64(deadline),
			chainvalue.StringUTF8(r.Category),
		}
	case SubmitBid:
		args = []chainvalue.Value{id, chainvalue.Uint(amount), chainvalue.StringUTF8(r.Text)}
	case AcceptBid:
		args = []chainvalue.Value{id, chainvalue.Principal(r.Freelancer)}
	case SubmitWork, ApproveWork, RejectWork, InitiateDispute:
		args = []chainvalue.Value{id, chainvalue.StringUTF8(r.Text)}
	case CreateEscrow:
		metadata := chainvalue.Optional(chainvalue.StringUTF8(r.Text), r.Text != "")
		args = []chainvalue.Value{chainvalue.Principal(r.Freelancer), chainvalue.Uint(amount), chainvalue.Uint64(deadline), metadata}
	case ResolveDispute:
		args = []chainvalue.Value{id, chainvalue.Uint64(uint64(*r.Resolution))}
	default:
		args = []chainvalue.Value{id}
	}

	if payout != nil {
		amount = payout
	}
	conds, err := p.Builder.RequiredConditions(r.Action, r.Actor, amount)
	if err != nil {
		return nil, err
	}
	return p.Builder.Build(r.Action, r.Actor, args, conds)
}

func (p Planner) blockTime() time.Duration {
	if p.BlockTime > 0 {
		return p.BlockTime
	}
	return DefaultBlockTime
}

// validStandardAddress accepts checksummed SP/ST single-sig principals.
func validStandardAddress(addr string) bool {
	if !strings.HasPrefix(addr, "SP") && !strings.HasPrefix(addr, "ST") {
		return false
	}
	version, _, err := chainvalue.ParseAddress(addr)
	if err != nil {
		return false
	}
	return version == chainvalue.VersionMainnetSingleSig || version == chainvalue.VersionTestnetSingleSig
}

func validCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}
