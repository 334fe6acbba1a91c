package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/danmuck/meshbridge/internal/api"
	"github.com/danmuck/meshbridge/internal/bridge"
	"github.com/danmuck/meshbridge/internal/channels"
	"github.com/danmuck/meshbridge/internal/channels/boltstore"
	"github.com/danmuck/meshbridge/internal/decrypt"
	"github.com/danmuck/meshbridge/internal/observability"
	"github.com/danmuck/meshbridge/internal/outbound"
	"github.com/danmuck/meshbridge/internal/protocol/schema"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge engine and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a meshbridge TOML config")
	return cmd
}

func serve(ctx context.Context, cfg serveConfig) error {
	reg, err := schema.Load()
	if err != nil {
		return fmt.Errorf("load wire schema: %w", err)
	}
	store, err := boltstore.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	cache := channels.NewCache(store, cfg.Channels)
	if err := cache.Refresh(ctx); err != nil {
		// The API still comes up; /ready reports the missing keys.
		log.Error().Err(err).Msg("initial channel load failed")
	}

	dec := decrypt.New(cfg.Decrypt, cache, reg)
	defer dec.Wait()

	link := newLogLink(observability.Logger(cfg.API.ID, "link"))
	sink := newLogSink(observability.Logger(cfg.API.ID, "sink"))
	b := bridge.New(cfg.Bridge, reg, dec, nil, link, sink)
	queue := outbound.New(cfg.Outbound, b.Transmit)
	defer queue.Close()
	b.SetTracker(queue)

	srv := api.New(cfg.API, api.Deps{
		Channels:  cache,
		Queue:     queue,
		Decryptor: dec,
		Admin:     b,
		Frames:    b,
	})

	log.Info().
		Str("node", cfg.API.ID).
		Str("store", cfg.StorePath).
		Int("channels", len(cache.Snapshot(ctx))).
		Bool("decrypt", cfg.Decrypt.Enabled).
		Msg("meshbridge starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		cleared := queue.Clear()
		log.Info().Int("cleared", cleared).Msg("outbound queue drained")
		return nil
	})
	return g.Wait()
}
