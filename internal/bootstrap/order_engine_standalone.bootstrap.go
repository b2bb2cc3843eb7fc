package bootstrap

import (
	"context"

	"github.com/krobus00/order-execution-engine/internal/config"
	"github.com/krobus00/order-execution-engine/internal/util"
	"github.com/spf13/cobra"
)

// StartOrderEngineStandalone runs the gateway and the worker in one process. With the
// memory drivers it needs neither redis nor nats.
func StartOrderEngineStandalone(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra, err := newOrderEngineInfra(ctx, true)
	util.ContinueOrFatal(err)

	coordinator, err := newCoordinator(infra)
	util.ContinueOrFatal(err)

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := startWorker(workerCtx, infra, coordinator)

	submitter := newSubmitter(infra)
	httpServer := startHTTPServer("order_engine_standalone_http", newGatewayMux(infra, submitter))

	grpcServer, err := startGRPCHealthServer("order_engine_standalone_grpc")
	util.ContinueOrFatal(err)

	wait := gracefulShutdown(config.Env.GracefulShutdownTimeout,
		shutdownStep{name: "http", op: httpServer.Shutdown},
		shutdownStep{name: "grpc", op: stopGRPC(grpcServer)},
		shutdownStep{name: "worker", op: stopWorkerOp(stopWorker, workerDone)},
		shutdownStep{name: "infra", op: infra.close},
	)

	<-wait
}
