package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/lk2023060901/fileshare-backend/internal/pkg/database"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/logger"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/minio"
	"github.com/lk2023060901/fileshare-backend/internal/pkg/redis"
)

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Database database.Config `mapstructure:"database"`
	Redis    redis.Config    `mapstructure:"redis"`
	MinIO    minio.Config    `mapstructure:"minio"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Share    ShareConfig     `mapstructure:"share"`
	Log      logger.Config   `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StorageConfig selects where share payloads live.
type StorageConfig struct {
	// Backend is "minio" or "local".
	Backend string `mapstructure:"backend"`
	// Bucket holds payloads when the backend is minio.
	Bucket string `mapstructure:"bucket"`
	// LocalDir holds payloads when the backend is local.
	LocalDir string `mapstructure:"local_dir"`
}

// ShareConfig tunes the share lifecycle.
type ShareConfig struct {
	MaxFileSize         int64         `mapstructure:"max_file_size"`
	MaxBundleSize       int64         `mapstructure:"max_bundle_size"`
	OwnerQuota          int64         `mapstructure:"owner_quota"`
	AllowedTypes        []string      `mapstructure:"allowed_types"`
	DefaultTTL          time.Duration `mapstructure:"default_ttl"`
	DefaultMaxDownloads int64         `mapstructure:"default_max_downloads"`
	CodeLength          int           `mapstructure:"code_length"`
	UploadsPerMinute    int           `mapstructure:"uploads_per_minute"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	ReclaimGrace        time.Duration `mapstructure:"reclaim_grace"`
	ReclaimWorkers      int           `mapstructure:"reclaim_workers"`
	SnapshotInterval    time.Duration `mapstructure:"snapshot_interval"`
	SnapshotDir         string        `mapstructure:"snapshot_dir"`
	SnapshotKeep        int           `mapstructure:"snapshot_keep"`
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "minio"
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "fileshare"
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "data/blobs"
	}
	if c.Share.MaxFileSize == 0 {
		c.Share.MaxFileSize = 100 << 20
	}
	if c.Share.MaxBundleSize == 0 {
		c.Share.MaxBundleSize = 500 << 20
	}
	if c.Share.OwnerQuota == 0 {
		c.Share.OwnerQuota = 10 << 30
	}
	if c.Share.DefaultTTL == 0 {
		c.Share.DefaultTTL = 7 * 24 * time.Hour
	}
	if c.Share.CodeLength == 0 {
		c.Share.CodeLength = 8
	}
	if c.Share.UploadsPerMinute == 0 {
		c.Share.UploadsPerMinute = 10
	}
	if c.Share.SweepInterval == 0 {
		c.Share.SweepInterval = time.Hour
	}
	if c.Share.ReclaimGrace == 0 {
		c.Share.ReclaimGrace = c.Share.SweepInterval
	}
	if c.Share.ReclaimWorkers == 0 {
		c.Share.ReclaimWorkers = 8
	}
	if c.Share.SnapshotInterval == 0 {
		c.Share.SnapshotInterval = time.Hour
	}
	if c.Share.SnapshotDir == "" {
		c.Share.SnapshotDir = "data/snapshots"
	}
	if c.Share.SnapshotKeep == 0 {
		c.Share.SnapshotKeep = 10
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "minio":
		if err := c.MinIO.Validate(); err != nil {
			return fmt.Errorf("minio config: %w", err)
		}
	case "local":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	return nil
}
