package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"trustwork/internal/config"
	"trustwork/internal/journal"
	"trustwork/internal/logger"
	"trustwork/internal/query"
	"trustwork/internal/server"
	"trustwork/internal/signer"
	"trustwork/internal/stacks"
	"trustwork/internal/txbuild"
	"trustwork/internal/view"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	logger.Configure(cfg.Service.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openJournal(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("journal error")
	}
	defer closeStore()

	node := stacks.NewClient(cfg.Chain.APIURL)
	metrics := server.NewMetrics()
	projector := view.Projector{BlockTime: cfg.Chain.BlockTime, Arbitrator: cfg.Chain.Arbitrator}
	queries := query.New(node, projector, query.Config{
		Marketplace:  cfg.Chain.Marketplace,
		Escrow:       cfg.Chain.Escrow,
		Concurrency:  cfg.Query.Concurrency,
		EscrowWindow: cfg.Query.EscrowWindow,
		MaxJobs:      cfg.Query.MaxJobs,
	}, query.WithObserver(metrics))

	planner := txbuild.Planner{
		Builder: txbuild.Builder{
			Marketplace: cfg.Chain.Marketplace,
			Escrow:      cfg.Chain.Escrow,
			Asset:       cfg.Chain.Asset,
			Network:     cfg.Chain.Network,
		},
		Heights:   queries,
		BlockTime: cfg.Chain.BlockTime,
	}

	var sign txbuild.Signer
	if cfg.Chain.PrivateKey != "" {
		ks, err := signer.NewKeySigner(signer.KeySignerConfig{
			PrivateKeyHex: cfg.Chain.PrivateKey,
			Mainnet:       cfg.Chain.Mainnet(),
			Fee:           cfg.Chain.Fee,
		}, node)
		if err != nil {
			log.Fatal().Err(err).Msg("signer error")
		}
		log.Info().Str("address", ks.Address()).Msg("signing enabled")
		sign = ks
	} else {
		log.Warn().Msg("SIGNER_PRIVATE_KEY not set, submissions will only be planned")
	}

	apiServer := server.NewServer(cfg, server.Deps{
		Queries: queries,
		Chain:   node,
		Planner: planner,
		Signer:  sign,
		Journal: store,
		Metrics: metrics,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Info().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}

// openJournal prefers Postgres when a DSN is configured.
func openJournal(ctx context.Context, cfg *config.AppConfig) (journal.Store, func(), error) {
	if dsn := cfg.Service.JournalPostgresDSN; dsn != "" {
		pg, err := journal.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	fs, err := journal.NewFileStore(cfg.Service.JournalPath)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}
