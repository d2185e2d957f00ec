package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"trustwork/internal/signer"
	"trustwork/internal/stacks"
	"trustwork/internal/txbuild"
)

// actionFlags collects an ActionRequest from the command line.
type actionFlags struct {
	req        txbuild.ActionRequest
	action     string
	deadline   string
	resolution int
}

func (f *actionFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.action, "action", "", "contract function, e.g. post-job or resolve-dispute")
	fl.StringVar(&f.req.Actor, "actor", "", "address sending the transaction")
	fl.Uint64Var(&f.req.ID, "id", 0, "job or escrow id")
	fl.StringVar(&f.req.Title, "title", "", "job title")
	fl.StringVar(&f.req.Description, "description", "", "job description")
	fl.StringVar(&f.req.Category, "category", "", "job category")
	fl.StringVar(&f.req.Amount, "amount", "", "decimal token amount")
	fl.StringVar(&f.deadline, "deadline", "", "deadline as YYYY-MM-DD or RFC 3339")
	fl.StringVar(&f.req.Freelancer, "freelancer", "", "freelancer address")
	fl.StringVar(&f.req.Text, "text", "", "proposal, work description, feedback, reason or metadata")
	fl.IntVar(&f.resolution, "resolution", -1, "0 refund client, 1 release to freelancer, 2 split")
	fl.StringVar(&f.req.Payout, "payout", "", "expected payout for contract-funded actions")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("actor")
}

func (f *actionFlags) request() (txbuild.ActionRequest, error) {
	r := f.req
	r.Action = txbuild.Action(f.action)
	if f.deadline != "" {
		d, err := parseDeadline(f.deadline)
		if err != nil {
			return r, err
		}
		r.Deadline = d
	}
	if f.resolution < -1 || f.resolution > 2 {
		return r, fmt.Errorf("resolution %d: want 0, 1 or 2", f.resolution)
	}
	if f.resolution >= 0 {
		res := txbuild.Resolution(f.resolution)
		r.Resolution = &res
	}
	return r, nil
}

func parseDeadline(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func newPlanCmd(a *app) *cobra.Command {
	f := &actionFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate an action and print the contract call it would make",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ar, err := f.request()
			if err != nil {
				return err
			}
			req, err := a.planner.Plan(cmd.Context(), ar)
			if err != nil {
				return err
			}
			payload, err := req.Payload()
			if err != nil {
				return err
			}
			return a.print(struct {
				Contract string `json:"contract"`
				*txbuild.SubmissionRequest
				Payload string `json:"payload"`
			}{req.Contract.String(), req, fmt.Sprintf("0x%x", payload)})
		},
	}
	f.register(cmd)
	return cmd
}

func newSubmitCmd(a *app) *cobra.Command {
	f := &actionFlags{}
	var wait bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Sign an action with SIGNER_PRIVATE_KEY and broadcast it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			key := os.Getenv("SIGNER_PRIVATE_KEY")
			if key == "" {
				return fmt.Errorf("SIGNER_PRIVATE_KEY is not set")
			}
			ks, err := signer.NewKeySigner(signer.KeySignerConfig{PrivateKeyHex: key, Mainnet: a.cfg.Chain.Mainnet(), Fee: a.cfg.Chain.Fee}, a.node)
			if err != nil {
				return err
			}
			ar, err := f.request()
			if err != nil {
				return err
			}
			req, err := a.planner.Plan(ctx, ar)
			if err != nil {
				return err
			}
			res, err := a.planner.Builder.Submit(ctx, req, ks)
			if err != nil {
				return err
			}
			if !wait || res.Outcome != txbuild.Broadcast {
				return a.print(res)
			}
			tx, err := a.node.WaitForTx(ctx, res.TxID)
			if err != nil {
				return err
			}
			return a.print(tx)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the transaction is confirmed or fails")
	return cmd
}

func newWaitCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <txid>",
		Short: "Poll a transaction until it leaves the mempool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			tx, err := a.node.WaitForTx(ctx, args[0])
			if err != nil {
				return err
			}
			if tx.Status == stacks.TxFailed {
				_ = a.print(tx)
				return fmt.Errorf("transaction %s failed: %s", tx.TxID, tx.Raw)
			}
			return a.print(tx)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "give up after this long")
	return cmd
}
