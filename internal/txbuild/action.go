// Package txbuild turns domain actions into signed-ready contract calls whose
// asset movements are pinned by exact post-conditions.
package txbuild

import "fmt"

// Action is a state-changing contract function.
type Action string

// Marketplace generation.
const (
	PostJob     Action = "post-job"
	SubmitBid   Action = "submit-bid"
	AcceptBid   Action = "accept-bid"
	SubmitWork  Action = "submit-work"
	ApproveWork Action = "approve-work"
	RejectWork  Action = "reject-work"
	CancelJob   Action = "cancel-job"
)

// Legacy escrow generation.
const (
	CreateEscrow       Action = "create-escrow"
	CompleteWork       Action = "complete-work"
	ApproveRelease     Action = "approve-release"
	InitiateRefund     Action = "initiate-refund"
	InitiateDispute    Action = "initiate-dispute"
	ResolveDispute     Action = "resolve-dispute"
	ClaimExpiredRefund Action = "claim-expired-refund"
)

// Family selects which deployed contract an action targets.
type Family uint8

const (
	FamilyMarketplace Family = iota + 1
	FamilyEscrow
)

// Movement describes who, if anyone, sends the fungible asset.
type Movement uint8

const (
	MovesNothing Movement = iota
	// MovesFromActor escrows the amount argument from the caller.
	MovesFromActor
	// MovesFromContract pays out of the contract's balance.
	MovesFromContract
)

type actionDef struct {
	family   Family
	arity    int
	movement Movement
	// amountArg indexes the argument that carries the moved amount, or -1.
	amountArg int
}

var actions = map[Action]actionDef{
	PostJob:     {FamilyMarketplace, 5, MovesFromActor, 2},
	SubmitBid:   {FamilyMarketplace, 3, MovesFromActor, 1},
	AcceptBid:   {FamilyMarketplace, 2, MovesNothing, -1},
	SubmitWork:  {FamilyMarketplace, 2, MovesNothing, -1},
	ApproveWork: {FamilyMarketplace, 2, MovesFromContract, -1},
	RejectWork:  {FamilyMarketplace, 2, MovesNothing, -1},
	CancelJob:   {FamilyMarketplace, 1, MovesFromContract, -1},

	CreateEscrow:       {FamilyEscrow, 4, MovesFromActor, 1},
	CompleteWork:       {FamilyEscrow, 1, MovesNothing, -1},
	ApproveRelease:     {FamilyEscrow, 1, MovesFromContract, -1},
	InitiateRefund:     {FamilyEscrow, 1, MovesFromContract, -1},
	InitiateDispute:    {FamilyEscrow, 2, MovesNothing, -1},
	ResolveDispute:     {FamilyEscrow, 2, MovesFromContract, -1},
	ClaimExpiredRefund: {FamilyEscrow, 1, MovesFromContract, -1},
}

func lookup(a Action) (actionDef, error) {
	def, ok := actions[a]
	if !ok {
		return actionDef{}, fmt.Errorf("unknown action %q", a)
	}
	return def, nil
}

// Movement reports how a moves the asset. Unknown actions move nothing.
func (a Action) Movement() Movement { return actions[a].movement }

func (a Action) Family() Family { return actions[a].family }

func (a Action) Known() bool {
	_, ok := actions[a]
	return ok
}

// Actions lists every known action.
func Actions() []Action {
	out := make([]Action, 0, len(actions))
	for a := range actions {
		out = append(out, a)
	}
	return out
}

// Resolution is the arbitrator's ruling on a disputed escrow.
type Resolution uint8

const (
	RefundClient      Resolution = 0
	ReleaseFreelancer Resolution = 1
	SplitEvenly       Resolution = 2
)

func (r Resolution) Valid() bool { return r <= SplitEvenly }
