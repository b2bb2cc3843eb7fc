package bootstrap

import (
	"context"
	"net/http"

	"github.com/krobus00/order-execution-engine/internal/config"
	"github.com/krobus00/order-execution-engine/internal/infrastructure"
	"github.com/krobus00/order-execution-engine/internal/util"
	"github.com/spf13/cobra"
)

func StartOrderEngineWorker(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra, err := newOrderEngineInfra(ctx, false)
	util.ContinueOrFatal(err)

	coordinator, err := newCoordinator(infra)
	util.ContinueOrFatal(err)

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := startWorker(workerCtx, infra, coordinator)

	grpcServer, err := startGRPCHealthServer("order_engine_worker_grpc")
	util.ContinueOrFatal(err)

	mux := http.NewServeMux()
	infrastructure.RegisterOperationalRoutes(mux, infra.checks...)
	httpServer := startHTTPServer("order_engine_worker_http", mux)

	wait := gracefulShutdown(config.Env.GracefulShutdownTimeout,
		shutdownStep{name: "grpc", op: stopGRPC(grpcServer)},
		shutdownStep{name: "worker", op: stopWorkerOp(stopWorker, workerDone)},
		shutdownStep{name: "infra", op: infra.close},
		shutdownStep{name: "http", op: httpServer.Shutdown},
	)

	<-wait
}

// stopWorkerOp cancels the consumer and waits for in-flight jobs to settle.
func stopWorkerOp(stop context.CancelFunc, done <-chan struct{}) operation {
	return func(ctx context.Context) error {
		stop()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
