package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"trustwork/internal/query"
)

// printListing prints the items and warns about anything dropped. A failed
// count prints an empty list; only a missing escrow contract is an error.
func printListing[T any](a *app, l query.Listing[T]) error {
	if errors.Is(l.Err, query.ErrNoEscrowContract) {
		return l.Err
	}
	if l.Err != nil {
		log.Warn().Err(l.Err).Msg("count unavailable, listing is empty")
	}
	if err := l.Failed(); err != nil {
		log.Warn().Err(err).Int("dropped", len(l.Failures)).Msg("some entries could not be read")
	}
	if !l.HeightKnown {
		log.Warn().Msg("chain height unknown, timing fields assume height 0")
	}
	if l.Items == nil {
		l.Items = []T{}
	}
	return a.print(l.Items)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("id %q: must be a non-negative integer", s)
	}
	return id, nil
}

func newJobsCmd(a *app) *cobra.Command {
	var mode, address string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List marketplace jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if mode != "all" && address == "" {
				return fmt.Errorf("--address is required for --view %s", mode)
			}
			switch mode {
			case "all":
				return printListing(a, a.queries.ListJobs(ctx, address))
			case "created":
				return printListing(a, a.queries.CreatedBy(ctx, address))
			case "open":
				return printListing(a, a.queries.OpenFor(ctx, address))
			case "assigned":
				return printListing(a, a.queries.AssignedTo(ctx, address))
			default:
				return fmt.Errorf("unknown view %q", mode)
			}
		},
	}
	cmd.Flags().StringVar(&mode, "view", "all", "all, created, open or assigned")
	cmd.Flags().StringVar(&address, "address", "", "viewer address")
	return cmd
}

func newJobCmd(a *app) *cobra.Command {
	var viewer string
	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			job, err := a.queries.Job(cmd.Context(), id, viewer)
			if err != nil {
				return err
			}
			return a.print(job)
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "viewer address for role flags")
	return cmd
}

func newBidsCmd(a *app) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "bids",
		Short: "List bids placed by an address on recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printListing(a, a.queries.BidsBy(cmd.Context(), address))
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "bidder address")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func newEscrowsCmd(a *app) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "escrows",
		Short: "List recent escrows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if address != "" {
				return printListing(a, a.queries.InvolvedIn(cmd.Context(), address))
			}
			return printListing(a, a.queries.ListEscrows(cmd.Context(), ""))
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "only escrows this address is party to")
	return cmd
}

func newEscrowCmd(a *app) *cobra.Command {
	var viewer string
	cmd := &cobra.Command{
		Use:   "escrow <id>",
		Short: "Show one escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			esc, err := a.queries.Escrow(cmd.Context(), id, viewer)
			if err != nil {
				return err
			}
			return a.print(esc)
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "viewer address for role flags")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show contract totals and the chain height",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := a.queries.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(stats)
		},
	}
}
