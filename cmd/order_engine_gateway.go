/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/order-execution-engine/internal/bootstrap"
	"github.com/spf13/cobra"
)

// orderEngineCmd represents the orderEngine command
var orderEngineCmd = &cobra.Command{
	Use:   "order-engine-gateway",
	Short: "Start the Order Engine Gateway service",
	Long: `The Order Engine Gateway accepts market orders over HTTP, stores them as pending
and enqueues them for the worker. It also serves order status: single reads,
history cursors, NDJSON polling and WebSocket streams.`,
	Run: bootstrap.StartOrderEngineGateway,
}

func init() {
	rootCmd.AddCommand(orderEngineCmd)
}
