/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/order-execution-engine/internal/bootstrap"
	"github.com/spf13/cobra"
)

// orderEngineWorkerCmd represents the order engine worker command
var orderEngineWorkerCmd = &cobra.Command{
	Use:   "order-engine-worker",
	Short: "Execute queued orders",
	Long:  `The order engine worker consumes queued orders, routes each one to the best venue, executes it and records every status change.`,
	Run:   bootstrap.StartOrderEngineWorker,
}

func init() {
	rootCmd.AddCommand(orderEngineWorkerCmd)
}
