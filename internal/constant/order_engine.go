package constant

const (
	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"
)

const (
	OrderEngineQueueName  = "order_engine_queue"
	OrderEngineQueueGroup = "order_engine_group"

	OrderEngineStreamName                = "order_engine"
	OrderEngineStreamSubjectAll          = "order_engine.*"
	OrderEngineStreamSubjectExecuteOrder = "order_engine.execute_order"

	// key of NatsJetstreamConfig.TimeoutHandler
	ExecuteOrderTimeoutHandler = "execute_order"
)

const (
	QueueDriverJetstream = "jetstream"
	QueueDriverMemory    = "memory"

	StoreDriverRedis  = "redis"
	StoreDriverMemory = "memory"

	// key of EnvConfig.Redis
	RedisOrderStatus = "order_status"
)

const (
	OrderSnapshotKeyPrefix = "order"
	OrderHistoryKeySuffix  = "history"
	OrderLockKeySuffix     = "processing-lock"
)
