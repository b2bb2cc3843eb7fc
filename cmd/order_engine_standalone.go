/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/order-execution-engine/internal/bootstrap"
	"github.com/spf13/cobra"
)

// orderEngineStandaloneCmd represents the order engine standalone command
var orderEngineStandaloneCmd = &cobra.Command{
	Use:   "order-engine-standalone",
	Short: "Run gateway and worker in one process",
	Long: `Runs the gateway and the worker in a single process. Set order_engine.store_driver
and order_engine.queue_driver to memory to run without redis and nats.`,
	Run: bootstrap.StartOrderEngineStandalone,
}

func init() {
	rootCmd.AddCommand(orderEngineStandaloneCmd)
}
