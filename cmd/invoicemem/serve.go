package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scrypster/invoice-memory/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the /ws decision feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			addr, _, err := server.Start(ctx, cfg, a.service, server.Options{
				Breaker: a.store,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			logger.Info("invoice memory API running", "url", "http://"+addr, "storage", cfg.Storage.StorageEngine)

			if cfg.Storage.SnapshotInterval > 0 {
				s, err := newSnapshotter(cfg)
				if err != nil {
					logger.Warn("periodic snapshots disabled", "err", err)
				} else {
					go s.Run(ctx, cfg.Storage.SnapshotInterval)
					logger.Info("periodic snapshots enabled", "interval", cfg.Storage.SnapshotInterval, "dir", cfg.Storage.SnapshotDir())
				}
			}

			<-ctx.Done()
			logger.Info("shutting down gracefully")
			time.Sleep(500 * time.Millisecond) // let in-flight requests drain
			return nil
		},
	}

	cmd.Flags().String("host", "", "address to bind to")
	cmd.Flags().Int("port", 0, "port to listen on")
	_ = viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}
