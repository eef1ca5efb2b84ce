// Package app 提供 relayer-collector 服务的应用生命周期管理
//
// ========================================
// relayer-collector 服务说明
// ========================================
//
// ## 服务职责
// relayer-collector 维护分发器数据的本地副本:
// 1. 写入: 周期, 回执, 原始交易经去重后落库并派生账户, 交易, 代币与历史状态
// 2. 出块: 每个新周期生成固定数量的合成区块
// 3. 对账: 启动时校验最近周期并补齐缺口, 定时按周期计数补缺
//
// ## 数据来源
// - 分发器 HTTP 接口 (签名请求): 启动同步与定时补缺
// - Kafka 实时数据 (可选): collector-cycles / collector-receipts / collector-original-txs
//
// ## 下游推送
// - WebSocket: /subscribe, 事件 /data/cycle, /data/receipt
// - Kafka (可选): collector-cycle-forward / collector-receipt-forward
//
// ## HTTP 接口
// - /healthz, /healthz/ready: 探针
// - /metrics: Prometheus 指标
// - /blocks/:id: 区块查询 (带可见延迟)
//
// ## gRPC
// - 仅注册 grpc_health_v1
//
// ========================================
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"github.com/shardeum/relayer-collector/internal/config"
	"github.com/shardeum/relayer-collector/internal/decoder"
	"github.com/shardeum/relayer-collector/internal/dedup"
	"github.com/shardeum/relayer-collector/internal/distributor"
	"github.com/shardeum/relayer-collector/internal/handler"
	"github.com/shardeum/relayer-collector/internal/kafka"
	"github.com/shardeum/relayer-collector/internal/model"
	"github.com/shardeum/relayer-collector/internal/repository"
	"github.com/shardeum/relayer-collector/internal/scheduler"
	"github.com/shardeum/relayer-collector/internal/service"
	"github.com/shardeum/relayer-collector/internal/ws"
	"github.com/shardeum/relayer-collector/pkg/logger"
	"github.com/shardeum/relayer-collector/pkg/redis"
)

// cycleEventBuffer 周期落库事件缓冲, 出块落后时写入方等待
const cycleEventBuffer = 1024

// App 应用
type App struct {
	cfg *config.Config

	// 基础设施
	db    *gorm.DB
	redis goredis.UniversalClient
	eth   *ethclient.Client

	// 仓储与去重
	store  *repository.Store
	guards *dedup.Guards

	// 分发器
	dist *distributor.Client

	// 推送
	hub           *ws.Hub
	kafkaProducer *kafka.Producer
	forwarder     service.Forwarder

	// 服务
	events        chan model.CycleCommitted
	cycleSvc      *service.CycleService
	receiptIdx    *service.ReceiptIndexer
	originalTxIdx *service.OriginalTxIndexer
	blockBuilder  *service.BlockBuilder
	blockQuery    *service.BlockQueryService
	reconSvc      *service.ReconciliationService
	syncSvc       *service.SyncService

	// 调度
	lockManager *scheduler.LockManager
	scheduler   *scheduler.Scheduler

	// Kafka
	kafkaConsumer *kafka.Consumer

	// HTTP / gRPC
	health       *handler.HealthHandler
	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *health.Server

	// 运行控制
	stopCh   chan struct{}
	stopOnce sync.Once
	bgWG     sync.WaitGroup
}

// NewApp 创建应用
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}

	if err := app.initInfrastructure(); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initDistributor(); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("failed to init distributor: %w", err)
	}

	if err := app.initFanout(); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("failed to init fan-out: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := app.initKafkaConsumer(); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("failed to init kafka: %w", err)
	}

	if err := app.initScheduler(); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("failed to init scheduler: %w", err)
	}

	app.initHTTP()
	app.initGRPC()

	return app, nil
}

// initInfrastructure 初始化数据库, Redis 与去重
func (a *App) initInfrastructure() error {
	engine, err := repository.NewEngine(&a.cfg.Storage)
	if err != nil {
		return err
	}
	db, err := repository.Open(engine, a.cfg.Storage.LogLevel)
	if err != nil {
		return err
	}
	a.db = db
	a.store = repository.NewStore(db)

	if a.cfg.Redis.Enabled {
		rcfg := redis.DefaultConfig()
		rcfg.Mode = ""
		rcfg.Addresses = a.cfg.Redis.Addresses
		rcfg.Password = a.cfg.Redis.Password
		rcfg.DB = a.cfg.Redis.DB
		rcfg.PoolSize = a.cfg.Redis.PoolSize
		client, err := redis.NewClient(rcfg)
		if err != nil {
			return err
		}
		a.redis = client
	}

	guards, err := a.newGuards()
	if err != nil {
		return err
	}
	a.guards = guards
	logger.Info("dedup guards initialized", zap.String("backend", a.cfg.Dedup.Backend))
	return nil
}

func (a *App) newGuards() (*dedup.Guards, error) {
	switch a.cfg.Dedup.Backend {
	case "memory", "":
		return dedup.NewGuards(dedup.NewMemoryGuard(), dedup.NewMemoryGuard())
	case "redis":
		if a.redis == nil {
			return nil, errors.New("dedup backend redis requires redis.enabled")
		}
		return dedup.NewGuards(dedup.NewRedisGuard(a.redis, "receipt"), dedup.NewRedisGuard(a.redis, "original_tx"))
	}
	return nil, fmt.Errorf("unsupported dedup backend: %s", a.cfg.Dedup.Backend)
}

// initDistributor 初始化分发器客户端与合约查询
func (a *App) initDistributor() error {
	signer, err := distributor.NewSigner(a.cfg.Collector.PublicKey, a.cfg.Collector.SecretKey, a.cfg.Collector.HashKey)
	if err != nil {
		return fmt.Errorf("collector identity: %w", err)
	}
	a.dist = distributor.NewClient(distributor.Options{
		URL:       a.cfg.Distributor.URL,
		Timeout:   a.cfg.DistributorTimeout(),
		RateLimit: a.cfg.Distributor.RateLimit,
		Burst:     a.cfg.Distributor.Burst,
	}, signer)
	logger.Info("distributor client initialized",
		zap.String("url", a.cfg.Distributor.URL),
		zap.String("collector", signer.PublicKey()))

	if a.cfg.Process.DecodeContractInfo && a.cfg.RPC.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := ethclient.DialContext(ctx, a.cfg.RPC.URL)
		if err != nil {
			return fmt.Errorf("dial rpc: %w", err)
		}
		a.eth = client
		logger.Info("rpc client connected", zap.String("url", a.cfg.RPC.URL))
	}
	return nil
}

// initFanout 初始化 WebSocket 与 Kafka 推送
func (a *App) initFanout() error {
	var sinks service.MultiForwarder
	if a.cfg.WebSocket.Enabled {
		a.hub = ws.NewHub()
		sinks = append(sinks, a.hub)
	}
	if a.cfg.Kafka.Enabled && a.cfg.Kafka.Publish {
		producer, err := kafka.NewProducer(&kafka.ProducerConfig{
			Brokers:  a.cfg.Kafka.Brokers,
			ClientID: a.cfg.Kafka.ClientID,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		a.kafkaProducer = producer
		sinks = append(sinks, producer)
	}
	if len(sinks) > 0 {
		a.forwarder = sinks
	}
	return nil
}

// initServices 初始化业务服务
func (a *App) initServices() error {
	var contracts service.ContractInfoSource
	if a.eth != nil {
		resolver, err := decoder.NewContractInfoResolver(a.eth)
		if err != nil {
			return fmt.Errorf("contract info resolver: %w", err)
		}
		contracts = resolver
	}

	var events chan<- model.CycleCommitted
	if a.cfg.Blocks.Enabled {
		a.events = make(chan model.CycleCommitted, cycleEventBuffer)
		events = a.events
		a.blockBuilder = service.NewBlockBuilder(a.store, service.BlockSettings{
			InitBlockNumber: a.cfg.Blocks.InitBlockNumber,
			BlocksPerCycle:  a.cfg.BlocksPerCycle(),
			ProductionRate:  a.cfg.Blocks.BlockProductionRate,
		}, a.events)
	}
	a.blockQuery = service.NewBlockQueryService(a.store.Blocks, a.cfg.BlockQueryDelay(), a.cfg.Blocks.InitBlockNumber)

	a.cycleSvc = service.NewCycleService(a.store, a.guards, a.forwarder, a.cfg.DedupRetention(), events)
	a.receiptIdx = service.NewReceiptIndexer(a.store, a.guards.Receipts, contracts, a.forwarder, a.cfg.Process)
	a.originalTxIdx = service.NewOriginalTxIndexer(a.store, a.guards.OriginalTxs, a.cfg.Process)
	a.reconSvc = service.NewReconciliationService(a.dist, a.store, a.receiptIdx, a.originalTxIdx, a.cycleSvc, a.cfg.Sync.LookbackCycles)

	var locker service.Locker
	if a.redis != nil {
		a.lockManager = scheduler.NewLockManager(a.redis, scheduler.DefaultLockTTL)
		locker = a.lockManager
	}
	a.syncSvc = service.NewSyncService(a.dist, a.store, a.reconSvc, locker)

	logger.Info("services initialized",
		zap.Bool("blocks", a.cfg.Blocks.Enabled),
		zap.Bool("contract_info", contracts != nil))
	return nil
}

// initKafkaConsumer 初始化实时数据消费
func (a *App) initKafkaConsumer() error {
	if !a.cfg.Kafka.Enabled || !a.cfg.Kafka.ConsumeLiveFeed {
		return nil
	}
	consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
		Brokers:     a.cfg.Kafka.Brokers,
		GroupID:     a.cfg.Kafka.GroupID,
		ClientID:    a.cfg.Kafka.ClientID,
		Cycles:      a.cycleSvc,
		Receipts:    a.receiptIdx,
		OriginalTxs: a.originalTxIdx,
	})
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	a.kafkaConsumer = consumer
	logger.Info("kafka initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return nil
}

// initScheduler 注册定时任务
func (a *App) initScheduler() error {
	a.scheduler = scheduler.NewScheduler(a.lockManager)

	patchSpec := ""
	if a.cfg.Sync.Enabled {
		patchSpec = a.cfg.Sync.PatchCron
	}
	if err := a.scheduler.RegisterJob(scheduler.NewSyncPatchJob(a.syncSvc, a.cfg.Sync.PatchCycles), patchSpec); err != nil {
		return err
	}

	var pruneLockTTL time.Duration
	if a.cfg.Dedup.Backend == "redis" {
		pruneLockTTL = 30 * time.Second
	}
	return a.scheduler.RegisterJob(scheduler.NewDedupPruneJob(a.cycleSvc, pruneLockTTL), a.cfg.Sync.PruneCron)
}

// initHTTP 初始化 HTTP 服务
func (a *App) initHTTP() {
	deps := &handler.HealthDeps{Database: a.store}
	if a.redis != nil {
		deps.Redis = handler.PingFunc(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	a.health = handler.NewHealthHandler(deps)

	routes := handler.Routes{
		Health: a.health,
		Blocks: handler.NewBlockHandler(a.blockQuery),
	}
	if a.hub != nil {
		routes.WebSocket = ws.NewHandler(a.hub, a.cfg.WebSocket).HandleConnection
		routes.WSPath = a.cfg.WebSocket.Path
	}

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler:           handler.NewEngine(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// initGRPC 初始化 gRPC 健康检查
func (a *App) initGRPC() {
	a.grpcServer = grpc.NewServer()
	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)
	logger.Info("grpc server initialized with health service")
}

// Run 运行应用, 收到退出信号或 Stop 后返回
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.shutdown()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-a.stopCh:
		logger.Info("shutdown requested")
	}

	cancel()
	a.shutdown()
	return nil
}

// start 启动后台组件与网络服务
func (a *App) start(ctx context.Context) error {
	if a.hub != nil {
		go a.hub.Run()
	}
	if a.blockBuilder != nil {
		if err := a.blockBuilder.Start(ctx); err != nil {
			return fmt.Errorf("failed to start block builder: %w", err)
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.Int("port", a.cfg.Service.GRPCPort))
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", a.cfg.Service.HTTPPort))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		a.runSync(ctx)
	}()
	return nil
}

// runSync 启动同步完成后再接入实时数据与定时任务
func (a *App) runSync(ctx context.Context) {
	if a.cfg.Sync.Enabled && a.cfg.Sync.StartupSync {
		start := time.Now()
		if err := a.syncSvc.Run(ctx); err != nil {
			logger.Error("startup sync finished with errors",
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
		} else {
			logger.Info("startup sync done", zap.Duration("elapsed", time.Since(start)))
		}
	}
	if ctx.Err() != nil {
		return
	}

	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Start(ctx); err != nil {
			logger.Error("failed to start kafka consumer", zap.Error(err))
		}
	}
	a.scheduler.Start()

	a.health.SetReady(true)
	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_SERVING)
	logger.Info("collector ready")
}

// shutdown 关闭应用
func (a *App) shutdown() {
	logger.Info("shutting down...")

	a.health.SetReady(false)
	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	a.bgWG.Wait()

	if a.kafkaConsumer != nil {
		if err := a.kafkaConsumer.Stop(); err != nil {
			logger.Warn("stop kafka consumer", zap.Error(err))
		}
	}
	a.scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown", zap.Error(err))
	}
	a.grpcServer.GracefulStop()

	if a.blockBuilder != nil {
		if err := a.blockBuilder.Stop(); err != nil && !errors.Is(err, service.ErrBuilderNotRunning) {
			logger.Warn("stop block builder", zap.Error(err))
		}
	}
	if a.hub != nil {
		a.hub.Stop()
	}
	a.closeInfrastructure()
	logger.Info("shutdown complete")
}

// closeInfrastructure 关闭外部连接
func (a *App) closeInfrastructure() {
	if a.kafkaProducer != nil {
		if err := a.kafkaProducer.Close(); err != nil {
			logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.eth != nil {
		a.eth.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		sqlDB, _ := a.db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}
}

// Stop 停止应用
func (a *App) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}
