package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waqarahm3d/qoqnuzmedia/internal/maintenance"
)

func newMaintenanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Run the periodic cleanup and statistics scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCore("maintenance")
			if err != nil {
				return err
			}
			defer c.close()

			scheduler := maintenance.NewScheduler(
				c.store.Jobs, c.store.Tracks, c.store.Stats, c.guard,
				maintenance.Options{
					TempDir:         c.cfg.Storage.TempDir,
					DownloadDir:     c.cfg.Storage.DownloadDir,
					CleanupInterval: c.cfg.Maintenance.CleanupInterval,
					TempFileMaxAge:  c.cfg.Maintenance.TempFileMaxAge,
					StatsInterval:   c.cfg.Maintenance.StatsInterval,
				},
				c.logger,
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scheduler.Run(ctx)
			return nil
		},
	}
}
