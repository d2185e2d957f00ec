package stacks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ActivityLimit is how many recent transactions Activity inspects.
const ActivityLimit = 50

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Activity is one contract call made by an address.
type Activity struct {
	TxID     string    `json:"txId"`
	Function string    `json:"function"`
	EntityID *uint64   `json:"entityId,omitempty"`
	Status   TxStatus  `json:"status"`
	Time     time.Time `json:"time"`
}

type txList struct {
	Results []struct {
		TxID          string `json:"tx_id"`
		TxType        string `json:"tx_type"`
		TxStatus      string `json:"tx_status"`
		BurnBlockTime int64  `json:"burn_block_time"`
		ContractCall  *struct {
			ContractID   string `json:"contract_id"`
			FunctionName string `json:"function_name"`
			FunctionArgs []struct {
				Name string `json:"name"`
				Repr string `json:"repr"`
			} `json:"function_args"`
		} `json:"contract_call"`
	} `json:"results"`
}

// idArgs are the argument names that carry an entity id, per contract
// generation.
var idArgs = []string{"escrow-id", "job-id"}

// Activity lists the address's recent calls into contract, newest first.
// Only the last ActivityLimit transactions are inspected; this is not a
// complete history.
func (c *Client) Activity(ctx context.Context, address string, contract Contract) ([]Activity, error) {
	var txs txList
	path := fmt.Sprintf("/extended/v1/address/%s/transactions?limit=%d", url.PathEscape(address), ActivityLimit)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &txs); err != nil {
		return nil, err
	}

	id := contract.String()
	var out []Activity
	for _, tx := range txs.Results {
		if tx.TxType != "contract_call" || tx.ContractCall == nil || tx.ContractCall.ContractID != id {
			continue
		}
		a := Activity{
			TxID:     tx.TxID,
			Function: tx.ContractCall.FunctionName,
			Status:   txStatus(tx.TxStatus),
			Time:     time.Unix(tx.BurnBlockTime, 0).UTC(),
		}
		for _, arg := range tx.ContractCall.FunctionArgs {
			if !isIDArg(arg.Name) {
				continue
			}
			if n, err := strconv.ParseUint(strings.TrimPrefix(arg.Repr, "u"), 10, 64); err == nil {
				a.EntityID = &n
			}
			break
		}
		out = append(out, a)
	}
	return out, nil
}

func isIDArg(name string) bool {
	for _, a := range idArgs {
		if name == a {
			return true
		}
	}
	return false
}

func txStatus(s string) TxStatus {
	switch s {
	case "success":
		return TxConfirmed
	case "pending":
		return TxPending
	default:
		return TxFailed
	}
}
