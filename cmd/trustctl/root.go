package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"trustwork/internal/config"
	"trustwork/internal/logger"
	"trustwork/internal/query"
	"trustwork/internal/stacks"
	"trustwork/internal/txbuild"
	"trustwork/internal/view"
)

// app holds what every subcommand needs, built once flags are parsed.
type app struct {
	cfg     *config.AppConfig
	node    *stacks.Client
	queries *query.Orchestrator
	planner txbuild.Planner
	out     io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		deployments string
		apiURL      string
		logLevel    string
	)

	root := &cobra.Command{
		Use:           "trustctl",
		Short:         "Inspect and drive the trustwork marketplace and escrow contracts",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger.Configure(logLevel, os.Stderr)
			if deployments != "" {
				if err := os.Setenv("DEPLOYMENTS_PATH", deployments); err != nil {
					return err
				}
			}
			if apiURL != "" {
				if err := os.Setenv("STACKS_API_URL", apiURL); err != nil {
					return err
				}
			}
			return a.init(cmd.OutOrStdout())
		},
	}
	root.PersistentFlags().StringVar(&deployments, "deployments", "", "path to deployments.json (default $DEPLOYMENTS_PATH or ./deployments.json)")
	root.PersistentFlags().StringVar(&apiURL, "api-url", "", "Stacks API base URL (default from deployments.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: trace, debug, info, warn, error")

	root.AddCommand(
		newJobsCmd(a),
		newJobCmd(a),
		newBidsCmd(a),
		newEscrowsCmd(a),
		newEscrowCmd(a),
		newStatsCmd(a),
		newPlanCmd(a),
		newSubmitCmd(a),
		newWaitCmd(a),
	)
	return root
}

func (a *app) init(out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.out = out
	a.node = stacks.NewClient(cfg.Chain.APIURL)
	a.queries = query.New(a.node, view.Projector{BlockTime: cfg.Chain.BlockTime, Arbitrator: cfg.Chain.Arbitrator}, query.Config{
		Marketplace:  cfg.Chain.Marketplace,
		Escrow:       cfg.Chain.Escrow,
		Concurrency:  cfg.Query.Concurrency,
		EscrowWindow: cfg.Query.EscrowWindow,
		MaxJobs:      cfg.Query.MaxJobs,
	})
	a.planner = txbuild.Planner{
		Builder: txbuild.Builder{
			Marketplace: cfg.Chain.Marketplace,
			Escrow:      cfg.Chain.Escrow,
			Asset:       cfg.Chain.Asset,
			Network:     cfg.Chain.Network,
		},
		Heights:   a.queries,
		BlockTime: cfg.Chain.BlockTime,
	}
	return nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
