package txbuild

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"trustwork/internal/chainvalue"
	"trustwork/internal/stacks"
)

var ErrInvalidAsset = errors.New("invalid asset id")

// Asset names a fungible token: the token contract plus the asset declared in
// it.
type Asset struct {
	Contract string `json:"contract"`
	Name     string `json:"name"`
}

// ParseAsset accepts "ADDR.contract::asset" or "ADDR.contract", in which case
// the asset name is the contract name.
func ParseAsset(id string) (Asset, error) {
	contract, name, hasName := strings.Cut(strings.TrimSpace(id), "::")
	c, err := stacks.ParseContract(contract)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	if !hasName {
		name = c.Name
	}
	if name == "" {
		return Asset{}, fmt.Errorf("%w: empty asset name in %q", ErrInvalidAsset, id)
	}
	return Asset{Contract: c.String(), Name: name}, nil
}

func (a Asset) String() string { return a.Contract + "::" + a.Name }

type Comparator string

// Eq is the only comparator this package emits: the principal sends exactly
// the amount.
const Eq Comparator = "eq"

// AssetCondition is a post-condition the node enforces when the transaction
// executes.
type AssetCondition struct {
	Principal  string     `json:"principal"`
	Comparator Comparator `json:"comparator"`
	Amount     *big.Int   `json:"amount"`
	Asset      Asset      `json:"asset"`
}

func (c AssetCondition) matches(principal string, amount *big.Int, asset Asset) bool {
	return c.Comparator == Eq &&
		strings.EqualFold(c.Principal, principal) &&
		c.Amount != nil && amount != nil && c.Amount.Cmp(amount) == 0 &&
		c.Asset == asset
}

// Mode is the post-condition mode. Only Deny is ever emitted: any transfer
// not covered by a condition aborts the transaction.
type Mode string

const ModeDeny Mode = "deny"

// SubmissionRequest is an immutable, fully-built contract call.
type SubmissionRequest struct {
	Contract   stacks.Contract    `json:"-"`
	Action     Action             `json:"action"`
	Actor      string             `json:"actor"`
	Args       []chainvalue.Value `json:"-"`
	Conditions []AssetCondition   `json:"postConditions"`
	Mode       Mode               `json:"postConditionMode"`
	Network    string             `json:"network"`
}

// Payload is the canonical serialization signers sign. Two requests with the
// same content always yield the same bytes.
func (r *SubmissionRequest) Payload() ([]byte, error) {
	conds := make([]chainvalue.Value, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		conds = append(conds, chainvalue.Tuple(map[string]chainvalue.Value{
			"principal":  chainvalue.Principal(c.Principal),
			"comparator": chainvalue.StringASCII(string(c.Comparator)),
			"amount":     chainvalue.Uint(c.Amount),
			"asset":      chainvalue.StringASCII(c.Asset.String()),
		}))
	}
	return chainvalue.Encode(chainvalue.Tuple(map[string]chainvalue.Value{
		"contract":   chainvalue.Principal(r.Contract.String()),
		"function":   chainvalue.StringASCII(string(r.Action)),
		"sender":     chainvalue.Principal(r.Actor),
		"args":       chainvalue.List(r.Args...),
		"conditions": chainvalue.List(conds...),
		"mode":       chainvalue.StringASCII(string(r.Mode)),
		"network":    chainvalue.StringASCII(r.Network),
	}))
}

// Outcome of a submission that did not fail.
type Outcome string

const (
	Broadcast Outcome = "broadcast"
	Cancelled Outcome = "cancelled"
)

type SubmissionResult struct {
	Outcome Outcome `json:"outcome"`
	TxID    string  `json:"txId,omitempty"`
}
