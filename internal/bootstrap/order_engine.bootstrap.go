package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/krobus00/order-execution-engine/internal/config"
	"github.com/krobus00/order-execution-engine/internal/constant"
	"github.com/krobus00/order-execution-engine/internal/entity"
	httpHandler "github.com/krobus00/order-execution-engine/internal/handler/orderengine/http"
	wsHandler "github.com/krobus00/order-execution-engine/internal/handler/orderengine/ws"
	"github.com/krobus00/order-execution-engine/internal/infrastructure"
	"github.com/krobus00/order-execution-engine/internal/queue"
	"github.com/krobus00/order-execution-engine/internal/repository"
	"github.com/krobus00/order-execution-engine/internal/service/execution"
	"github.com/krobus00/order-execution-engine/internal/service/observer"
	"github.com/krobus00/order-execution-engine/internal/service/orderengine"
	"github.com/krobus00/order-execution-engine/internal/service/router"
	"github.com/krobus00/order-execution-engine/internal/service/venue"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

var (
	ErrUnknownDriver         = errors.New("unknown driver")
	ErrMemoryDriverNotShared = errors.New("memory drivers only work in standalone mode")
)

// orderEngineInfra is the status store and job queue selected by config, with their cleanups.
type orderEngineInfra struct {
	store   entity.OrderStatusStore
	queue   entity.JobQueue
	checks  []infrastructure.ReadinessCheck
	cleanup []shutdownStep
}

// close runs the cleanups in reverse order of creation: the queue goes before the store.
func (i *orderEngineInfra) close(ctx context.Context) error {
	var errs []error
	for idx := len(i.cleanup) - 1; idx >= 0; idx-- {
		step := i.cleanup[idx]
		if err := step.op(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}

	return errors.Join(errs...)
}

func newOrderEngineInfra(ctx context.Context, allowMemory bool) (_ *orderEngineInfra, err error) {
	cfg := config.Env.OrderEngine
	infra := &orderEngineInfra{}
	defer func() {
		if err != nil {
			_ = infra.close(context.WithoutCancel(ctx))
		}
	}()

	switch cfg.StoreDriver {
	case constant.StoreDriverMemory:
		if !allowMemory {
			return nil, fmt.Errorf("%w: store driver %s", ErrMemoryDriverNotShared, cfg.StoreDriver)
		}
		infra.store = repository.NewMemoryOrderStatusRepository()
	case constant.StoreDriverRedis, "":
		client, err := infrastructure.NewRedisClient(ctx, config.Env.Redis[constant.RedisOrderStatus])
		if err != nil {
			return nil, err
		}
		repo := repository.NewRedisOrderStatusRepository(client)
		infra.store = repo
		infra.checks = append(infra.checks, infrastructure.RedisReadiness(client))
		infra.cleanup = append(infra.cleanup, shutdownStep{name: "redis", op: func(context.Context) error {
			return repo.Close()
		}})
	default:
		return nil, fmt.Errorf("%w: store driver %s", ErrUnknownDriver, cfg.StoreDriver)
	}

	handlerTimeout := config.Env.NatsJetstream.TimeoutHandler[constant.ExecuteOrderTimeoutHandler]

	switch cfg.QueueDriver {
	case constant.QueueDriverMemory:
		if !allowMemory {
			return nil, fmt.Errorf("%w: queue driver %s", ErrMemoryDriverNotShared, cfg.QueueDriver)
		}
		memoryQueue := queue.NewMemoryQueue(queue.MemoryQueueConfig{
			Concurrency:    cfg.WorkerConcurrency,
			MaxBackoff:     cfg.MaxBackoff,
			HandlerTimeout: handlerTimeout,
		})
		infra.queue = memoryQueue
		infra.cleanup = append(infra.cleanup, shutdownStep{name: "memory queue", op: func(context.Context) error {
			memoryQueue.Close()
			return nil
		}})
	case constant.QueueDriverJetstream, "":
		nc, js, err := infrastructure.NewJetstream(config.Env.NatsJetstream)
		if err != nil {
			return nil, err
		}
		jetstreamQueue := queue.NewJetstreamQueue(js, queue.JetstreamQueueConfig{
			Concurrency:    cfg.WorkerConcurrency,
			MaxAttempts:    cfg.MaxAttempts,
			MaxBackoff:     cfg.MaxBackoff,
			HandlerTimeout: handlerTimeout,
		})

		infra.cleanup = append(infra.cleanup, shutdownStep{name: "nats connection", op: func(context.Context) error {
			return infrastructure.CloseJetstream(nc)
		}})

		publishers := make([]entity.Publisher, 0)
		publishers = append(publishers, jetstreamQueue)
		for _, v := range publishers {
			if err := v.JetstreamEventInit(ctx); err != nil {
				return nil, err
			}
		}

		infra.queue = jetstreamQueue
		infra.checks = append(infra.checks, infrastructure.JetstreamReadiness(nc))
	default:
		return nil, fmt.Errorf("%w: queue driver %s", ErrUnknownDriver, cfg.QueueDriver)
	}

	logrus.WithFields(logrus.Fields{
		"store_driver": cfg.StoreDriver,
		"queue_driver": cfg.QueueDriver,
	}).Info("order engine infrastructure ready")

	return infra, nil
}

func newSubmitter(infra *orderEngineInfra) *orderengine.OrderEngineService {
	cfg := config.Env.OrderEngine
	return orderengine.NewOrderEngineService(infra.store, infra.queue, cfg.MaxAttempts, cfg.InitialBackoff)
}

func newCoordinator(infra *orderEngineInfra) (*orderengine.Coordinator, error) {
	prices := venue.NewPriceBook(config.Env.Market.BasePrices, config.Env.Market.DefaultPrice)
	providers, err := venue.NewSimulatedVenues(venue.VenueConfigsFromEnv(config.Env.Venues), prices)
	if err != nil {
		return nil, err
	}

	routerService := router.NewRouterService(providers)
	executionService := execution.NewExecutionService(config.Env.Execution, nil)

	return orderengine.NewCoordinator(infra.store, routerService, executionService, config.Env.OrderEngine), nil
}

func newGatewayMux(infra *orderEngineInfra, submitter entity.OrderSubmitter) *http.ServeMux {
	statusService := observer.NewStatusService(infra.store)
	streamService := observer.NewStatusStreamService(infra.store, submitter, config.Env.Stream.PollInterval, config.Env.Stream.GraceDelay)

	mux := http.NewServeMux()
	infrastructure.RegisterOperationalRoutes(mux, infra.checks...)
	httpHandler.NewOrderEngineHTTPHandler(submitter, statusService, config.Env.Stream.DefaultPollInterval).Register(mux)
	wsHandler.NewOrderStatusWSHandler(streamService).Register(mux)

	return mux
}

func startHTTPServer(portKey string, handler http.Handler) *infrastructure.HTTPServer {
	httpPort := fmt.Sprintf(":%s", config.Env.Port[portKey])
	httpServer := infrastructure.NewHTTPServer(httpPort, handler, config.Env.GracefulShutdownTimeout)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpPort))

	return httpServer
}

type grpcHealthServer struct {
	server *grpc.Server
	health *health.Server
}

func startGRPCHealthServer(portKey string) (*grpcHealthServer, error) {
	grpcServer, healthServer := infrastructure.NewGRPCHealthServer(config.ServiceName)

	grpcPort := fmt.Sprintf(":%s", config.Env.Port[portKey])
	lis, err := net.Listen("tcp", grpcPort)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = grpcServer.Serve(lis)
	}()
	logrus.Info(fmt.Sprintf("grpc server started on %s", grpcPort))

	return &grpcHealthServer{server: grpcServer, health: healthServer}, nil
}

// stopGRPC reports NOT_SERVING to health probes before draining the server.
func stopGRPC(s *grpcHealthServer) operation {
	return func(context.Context) error {
		s.health.Shutdown()
		s.server.GracefulStop()
		return nil
	}
}

// startWorker consumes jobs in the background. The returned channel closes when
// the consumer has stopped.
func startWorker(ctx context.Context, infra *orderEngineInfra, coordinator *orderengine.Coordinator) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := infra.queue.Consume(ctx, coordinator.HandleJob)
		if err != nil {
			logrus.WithError(err).Error("order engine worker stopped")
		}
	}()
	logrus.WithField("concurrency", config.Env.OrderEngine.WorkerConcurrency).Info("order engine worker started")

	return done
}
