package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waqarahm3d/qoqnuzmedia/internal/progress"
	"github.com/waqarahm3d/qoqnuzmedia/internal/worker"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the fetch and processing workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCore("worker")
			if err != nil {
				return err
			}
			defer c.close()

			dispatcher, publisher, err := c.newDispatcher()
			if err != nil {
				return err
			}
			defer publisher.Close()

			runner := worker.NewRunner(
				c.store.Jobs,
				c.store.Tracks,
				progress.NewReporter(c.store.Jobs, c.logger),
				c.guard,
				c.newRegistry(),
				dispatcher,
				c.backend,
				c.newNotifier(),
				worker.RunnerOptions{
					DownloadRoot:    c.cfg.Storage.DownloadDir,
					ProcessingQueue: c.cfg.Broker.ProcessingQueue,
					SoftTimeLimit:   c.cfg.Dispatch.SoftTimeLimit,
					HardTimeGrace:   c.cfg.Dispatch.HardTimeGrace,
				},
				c.logger, c.metrics,
			)

			fetchConsumer, err := worker.NewConsumer(c.cfg.Broker.URL, c.backend,
				worker.NewFetchHandler(runner),
				worker.ConsumerOptions{
					Queue:           c.cfg.Broker.DownloadQueue,
					Workers:         c.cfg.Dispatch.DownloadWorkers,
					RedeliveryLimit: c.cfg.Dispatch.RedeliveryLimit,
				},
				c.logger, c.metrics)
			if err != nil {
				return err
			}
			defer fetchConsumer.Close()

			processConsumer, err := worker.NewConsumer(c.cfg.Broker.URL, c.backend,
				worker.NewProcessHandler(runner),
				worker.ConsumerOptions{
					Queue:           c.cfg.Broker.ProcessingQueue,
					Workers:         c.cfg.Dispatch.ProcessingWorkers,
					RedeliveryLimit: c.cfg.Dispatch.RedeliveryLimit,
				},
				c.logger, c.metrics)
			if err != nil {
				return err
			}
			defer processConsumer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 2)
			go func() { errCh <- fetchConsumer.Start(ctx) }()
			go func() { errCh <- processConsumer.Start(ctx) }()

			select {
			case <-ctx.Done():
				c.logger.Info("shutting down workers")
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
}
