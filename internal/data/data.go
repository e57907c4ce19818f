package data

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/lk2023060901/fileshare-backend/internal/conf"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/database"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/logger"
	pkgminio "github.com/lk2023060901/fileshare-backend/internal/pkg/minio"
	pkgredis "github.com/lk2023060901/fileshare-backend/internal/pkg/redis"
	"github.com/lk2023060901/fileshare-backend/internal/share/biz"
	sharedata "github.com/lk2023060901/fileshare-backend/internal/share/data"
)

// Data bundles every external resource the server talks to. Redis is
// optional: without it rate limiting and lifetime counters degrade,
// everything else keeps working.
type Data struct {
	DB     *database.DB
	Redis  *pkgredis.Client
	Store  biz.ArtifactStore
	Logger *logger.Logger
}

func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	db, err := database.New(&config.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}
	if err := db.AutoMigrate(&sharedata.RecordPO{}, &sharedata.OwnerUsagePO{}); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	var redisClient *pkgredis.Client
	if config.Redis.Addr != "" {
		redisClient, err = pkgredis.New(&config.Redis, log)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	} else {
		log.Warn("redis not configured, rate limiting and counters disabled")
	}

	store, err := newStore(config, log)
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		db.Close()
		return nil, nil, err
	}

	d := &Data{
		DB:     db,
		Redis:  redisClient,
		Store:  store,
		Logger: log,
	}

	cleanup := func() {
		log.Info("cleaning up data resources")
		if redisClient != nil {
			redisClient.Close()
		}
		if err := db.Close(); err != nil {
			log.Warn("database close failed", zap.Error(err))
		}
	}
	return d, cleanup, nil
}

func newStore(config *conf.Config, log *logger.Logger) (biz.ArtifactStore, error) {
	switch config.Storage.Backend {
	case "local":
		return sharedata.NewLocalStore(afero.NewOsFs(), config.Storage.LocalDir, log.Logger)
	case "minio":
		client, err := pkgminio.New(&config.MinIO, log)
		if err != nil {
			return nil, fmt.Errorf("failed to init minio: %w", err)
		}
		store, err := sharedata.NewObjectStore(context.Background(), client, config.Storage.Bucket, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare bucket: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}
}
