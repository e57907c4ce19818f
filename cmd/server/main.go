package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/lk2023060901/fileshare-backend/internal/conf"
	"github.com/lk2023060901/fileshare-backend/internal/data"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/logger"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/ratelimit"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/workerpool"
	"github.com/lk2023060901/fileshare-backend/internal/server"
	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
	sharedata "github.com/lk2023060901/fileshare-backend/internal/share/data"
	"github.com/lk2023060901/fileshare-backend/internal/share/reclaimer"
	"github.com/lk2023060901/fileshare-backend/internal/share/service"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger with config
	log, err := logger.New(&config.Log)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	if err := logger.InitGlobal(&config.Log); err != nil {
		log.Fatal("failed to initialize global logger", zap.Error(err))
	}

	log.Info("config loaded successfully")

	// Initialize data layer
	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	// Initialize repositories
	recordRepo := sharedata.NewRecordRepo(d.DB)
	usageRepo := sharedata.NewUsageRepo(d.DB)

	var counters biz.StatCounter
	var limiter *ratelimit.Limiter
	if d.Redis != nil {
		counters = sharedata.NewRedisCounter(d.Redis)
		limiter = ratelimit.New(d.Redis, int64(config.Share.UploadsPerMinute), time.Minute)
	}

	// Initialize use cases
	quota := biz.NewQuotaAccountant(usageRepo, config.Share.OwnerQuota, log.Logger)
	shareUseCase := biz.NewShareUseCase(recordRepo, d.Store, quota, counters, biz.Limits{
		MaxFileSize:         config.Share.MaxFileSize,
		MaxBundleSize:       config.Share.MaxBundleSize,
		AllowedTypes:        config.Share.AllowedTypes,
		DefaultTTL:          config.Share.DefaultTTL,
		DefaultMaxDownloads: config.Share.DefaultMaxDownloads,
		CodeLength:          config.Share.CodeLength,
	}, log.Logger)

	// Initialize background workers
	pool, err := workerpool.New(config.Share.ReclaimWorkers, log.Logger)
	if err != nil {
		log.Fatal("failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	sweeper := reclaimer.New(recordRepo, d.Store, quota, pool,
		config.Share.SweepInterval, config.Share.ReclaimGrace, log.Logger)
	sweeper.Start()
	defer sweeper.Stop()

	snapshotter := reclaimer.NewSnapshotter(recordRepo, afero.NewOsFs(),
		config.Share.SnapshotDir, config.Share.SnapshotInterval, config.Share.SnapshotKeep, log.Logger)
	snapshotter.Start()
	defer snapshotter.Stop()

	// Initialize services
	shareService := service.NewShareService(shareUseCase, limiter, sweeper, snapshotter, log.Logger)

	httpServer := server.NewHTTPServer(config, log, shareService)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	log.Info("server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
