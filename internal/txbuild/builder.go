package txbuild

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"trustwork/internal/chainvalue"
	"trustwork/internal/stacks"
)

// ErrorKind classifies a SubmissionError.
type ErrorKind int

const (
	PreconditionMissing ErrorKind = iota + 1
	SignerRejected
	BroadcastFailed
	InvalidRequest
)

func (k ErrorKind) String() string {
	switch k {
	case PreconditionMissing:
		return "precondition_missing"
	case SignerRejected:
		return "signer_rejected"
	case BroadcastFailed:
		return "broadcast_failed"
	case InvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// SubmissionError is always returned to the caller; nothing here retries.
type SubmissionError struct {
	Kind   ErrorKind
	Action Action
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func submissionErr(kind ErrorKind, action Action, format string, args ...any) *SubmissionError {
	return &SubmissionError{Kind: kind, Action: action, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the SubmissionError kind carried by err, or 0.
func KindOf(err error) ErrorKind {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

var (
	// ErrCancelled is returned by signers when the user declines to sign.
	ErrCancelled = errors.New("signing cancelled")
	// ErrBroadcastFailed is wrapped by signers when the signed payload
	// could not be relayed.
	ErrBroadcastFailed = errors.New("broadcast failed")
)

// Signer signs and relays a request, returning the transaction id.
type Signer interface {
	Sign(ctx context.Context, req *SubmissionRequest) (string, error)
}

// Builder knows the deployed contracts and the token they move.
type Builder struct {
	Marketplace stacks.Contract
	Escrow      stacks.Contract
	Asset       Asset
	Network     string
}

func (b Builder) contract(f Family) stacks.Contract {
	if f == FamilyEscrow {
		return b.Escrow
	}
	return b.Marketplace
}

// RequiredConditions returns the post-conditions action must carry.
//
// Actor-funded actions need exactly one condition pinning the actor's
// transfer to amount. Contract-funded actions get a condition on the contract
// when the caller knows the payout amount and none otherwise, since the
// contract derives it from state this layer does not re-derive. Actions that
// move nothing need none.
func (b Builder) RequiredConditions(action Action, actor string, amount *big.Int) ([]AssetCondition, error) {
	def, err := lookup(action)
	if err != nil {
		return nil, &SubmissionError{Kind: InvalidRequest, Action: action, Err: err}
	}
	switch def.movement {
	case MovesFromActor:
		if amount == nil || amount.Sign() <= 0 {
			return nil, submissionErr(PreconditionMissing, action, "amount is required for an actor-funded action")
		}
		if actor == "" {
			return nil, submissionErr(PreconditionMissing, action, "actor is required for an actor-funded action")
		}
		return []AssetCondition{b.condition(actor, amount)}, nil
	case MovesFromContract:
		if amount == nil {
			return nil, nil
		}
		return []AssetCondition{b.condition(b.contract(def.family).String(), amount)}, nil
	default:
		return nil, nil
	}
}

func (b Builder) condition(principal string, amount *big.Int) AssetCondition {
	return AssetCondition{
		Principal:  principal,
		Comparator: Eq,
		Amount:     new(big.Int).Set(amount),
		Asset:      b.Asset,
	}
}

// Build assembles a request. It fails closed with PreconditionMissing when an
// actor-funded action lacks the exact condition for its amount argument.
func (b Builder) Build(action Action, actor string, args []chainvalue.Value, conditions []AssetCondition) (*SubmissionRequest, error) {
	def, err := lookup(action)
	if err != nil {
		return nil, &SubmissionError{Kind: InvalidRequest, Action: action, Err: err}
	}
	contract := b.contract(def.family)
	if contract.IsZero() {
		return nil, submissionErr(InvalidRequest, action, "no contract configured")
	}
	if !chainvalue.ValidPrincipal(actor) {
		return nil, submissionErr(InvalidRequest, action, "invalid actor %q", actor)
	}

	req := &SubmissionRequest{
		Contract:   contract,
		Action:     action,
		Actor:      actor,
		Args:       append([]chainvalue.Value(nil), args...),
		Conditions: append([]AssetCondition(nil), conditions...),
		Mode:       ModeDeny,
		Network:    b.Network,
	}
	if err := b.verify(req); err != nil {
		return nil, err
	}
	return req, nil
}

func (b Builder) verify(req *SubmissionRequest) error {
	def, err := lookup(req.Action)
	if err != nil {
		return &SubmissionError{Kind: InvalidRequest, Action: req.Action, Err: err}
	}
	if len(req.Args) != def.arity {
		return submissionErr(InvalidRequest, req.Action, "want %d arguments, got %d", def.arity, len(req.Args))
	}
	if req.Mode != ModeDeny {
		return submissionErr(PreconditionMissing, req.Action, "post-condition mode %q is not deny", req.Mode)
	}
	for _, c := range req.Conditions {
		if c.Comparator != Eq {
			return submissionErr(PreconditionMissing, req.Action, "condition on %s is not an exact amount", c.Principal)
		}
	}

	switch def.movement {
	case MovesFromActor:
		amount, err := req.Args[def.amountArg].BigInt()
		if err != nil {
			return submissionErr(InvalidRequest, req.Action, "amount argument: %v", err)
		}
		if len(req.Conditions) != 1 || !req.Conditions[0].matches(req.Actor, amount, b.Asset) {
			return submissionErr(PreconditionMissing, req.Action,
				"requires exactly one condition: %s sends %s of %s", req.Actor, amount, b.Asset)
		}
	case MovesFromContract:
		sender := req.Contract.String()
		for _, c := range req.Conditions {
			if c.Asset != b.Asset || c.Principal != sender || c.Amount == nil || c.Amount.Sign() <= 0 {
				return submissionErr(PreconditionMissing, req.Action, "condition must pin %s sending %s", sender, b.Asset)
			}
		}
	case MovesNothing:
		if len(req.Conditions) > 0 {
			return submissionErr(InvalidRequest, req.Action, "action moves no asset but carries %d conditions", len(req.Conditions))
		}
	}
	return nil
}

// Submit hands req to signer. A user cancellation, or ctx ending for any
// reason (cancel or deadline) before the signer broadcasts, is the Cancelled
// outcome rather than an error. Errors tagged ErrBroadcastFailed stay
// BroadcastFailed even when caused by a deadline, since the node may have
// received the transaction.
func (b Builder) Submit(ctx context.Context, req *SubmissionRequest, signer Signer) (SubmissionResult, error) {
	if req == nil {
		return SubmissionResult{}, submissionErr(PreconditionMissing, "", "nil request")
	}
	if err := b.verify(req); err != nil {
		return SubmissionResult{}, err
	}
	if ctx.Err() != nil {
		return SubmissionResult{Outcome: Cancelled}, nil
	}

	txID, err := signer.Sign(ctx, req)
	switch {
	case err == nil:
		return SubmissionResult{Outcome: Broadcast, TxID: txID}, nil
	case errors.Is(err, ErrBroadcastFailed):
		return SubmissionResult{}, &SubmissionError{Kind: BroadcastFailed, Action: req.Action, Err: err}
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return SubmissionResult{Outcome: Cancelled}, nil
	default:
		return SubmissionResult{}, &SubmissionError{Kind: SignerRejected, Action: req.Action, Err: err}
	}
}
