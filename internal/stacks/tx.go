package stacks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PollInterval is how often WaitForTx asks the node about a transaction.
var PollInterval = 2 * time.Second

// TxResult is what the node reports for a single transaction.
type TxResult struct {
	TxID   string   `json:"txId"`
	Status TxStatus `json:"status"`
	// Raw is the node's status string, e.g. abort_by_post_condition.
	Raw string `json:"rawStatus"`
	// Height is the anchoring burn block, zero while pending.
	Height uint64 `json:"height,omitempty"`
}

// Transaction looks up one transaction. A transaction the node has not seen
// yet is reported as pending.
func (c *Client) Transaction(ctx context.Context, txID string) (TxResult, error) {
	txID = normalizeTxID(txID)
	var body struct {
		TxID            string `json:"tx_id"`
		TxStatus        string `json:"tx_status"`
		BurnBlockHeight uint64 `json:"burn_block_height"`
	}
	err := c.do(ctx, http.MethodGet, "/extended/v1/tx/"+url.PathEscape(txID), "", nil, &body)
	var remote *RemoteError
	if errors.As(err, &remote) && remote.Status == http.StatusNotFound {
		return TxResult{TxID: txID, Status: TxPending, Raw: "not_found"}, nil
	}
	if err != nil {
		return TxResult{}, err
	}
	res := TxResult{TxID: txID, Status: txStatus(body.TxStatus), Raw: body.TxStatus}
	if res.Status != TxPending {
		res.Height = body.BurnBlockHeight
	}
	return res, nil
}

// WaitForTx polls until the transaction leaves the mempool or ctx ends.
func (c *Client) WaitForTx(ctx context.Context, txID string) (TxResult, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		res, err := c.Transaction(ctx, txID)
		if err != nil {
			return TxResult{}, fmt.Errorf("stacks: wait for %s: %w", txID, err)
		}
		if res.Status != TxPending {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

func normalizeTxID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if !strings.HasPrefix(id, "0x") {
		id = "0x" + id
	}
	return id
}
