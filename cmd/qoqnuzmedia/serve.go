package main

import (
	"github.com/spf13/cobra"

	"github.com/waqarahm3d/qoqnuzmedia/internal/jobs"
	transport "github.com/waqarahm3d/qoqnuzmedia/internal/transport/http"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCore("api")
			if err != nil {
				return err
			}
			defer c.close()

			dispatcher, publisher, err := c.newDispatcher()
			if err != nil {
				return err
			}
			defer publisher.Close()

			service := jobs.NewService(
				c.store.Jobs, dispatcher, c.guard, c.newRegistry(),
				jobs.Options{
					DownloadQueue: c.cfg.Broker.DownloadQueue,
					Snapshot:      c.cfg.Processing.Snapshot(),
				},
				c.logger, c.metrics,
			)

			server := transport.NewServer(service, c.store.Tracks, c.store.Stats,
				transport.Options{Addr: c.cfg.HTTP.Addr, APIKey: c.cfg.HTTP.APIKey},
				c.logger)
			return server.Run()
		},
	}
}
