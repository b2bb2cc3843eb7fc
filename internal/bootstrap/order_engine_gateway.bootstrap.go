package bootstrap

import (
	"context"

	"github.com/krobus00/order-execution-engine/internal/config"
	"github.com/krobus00/order-execution-engine/internal/util"
	"github.com/spf13/cobra"
)

func StartOrderEngineGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra, err := newOrderEngineInfra(ctx, false)
	util.ContinueOrFatal(err)

	submitter := newSubmitter(infra)

	grpcServer, err := startGRPCHealthServer("order_engine_gateway_grpc")
	util.ContinueOrFatal(err)

	httpServer := startHTTPServer("order_engine_gateway_http", newGatewayMux(infra, submitter))

	wait := gracefulShutdown(config.Env.GracefulShutdownTimeout,
		shutdownStep{name: "http", op: httpServer.Shutdown},
		shutdownStep{name: "grpc", op: stopGRPC(grpcServer)},
		shutdownStep{name: "infra", op: infra.close},
	)

	<-wait
}
