package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "qoqnuzmedia",
		Short: "Asynchronous media fetch and processing service",
		Long: "qoqnuzmedia orchestrates media fetch-and-process jobs: an API surface\n" +
			"accepts jobs, workers execute them off durable queues, and a maintenance\n" +
			"process keeps storage and statistics in shape.",
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newWorkerCommand())
	root.AddCommand(newMaintenanceCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
