/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/order-execution-engine/internal/bootstrap"
	"github.com/spf13/cobra"
)

// orderWatchCmd represents the order watch command
var orderWatchCmd = &cobra.Command{
	Use:   "order-watch [orderId]",
	Short: "Print the live status stream of an order",
	Long: `Connects to the status stream of an order and prints every status change.
Without an order id, submits a new order from --token-in, --token-out and --amount first.`,
	Args: cobra.MaximumNArgs(1),
	Run:  bootstrap.StartOrderWatch,
}

func init() {
	rootCmd.AddCommand(orderWatchCmd)
	orderWatchCmd.PersistentFlags().String("host", "", "gateway base url (default: http://localhost:<order_engine_gateway_http>)")
	orderWatchCmd.PersistentFlags().Bool("loop", false, "resubmit a clone of the order each time it completes")
	orderWatchCmd.PersistentFlags().String("token-in", "", "token to sell")
	orderWatchCmd.PersistentFlags().String("token-out", "", "token to buy")
	orderWatchCmd.PersistentFlags().String("amount", "", "amount of token-in")
}
