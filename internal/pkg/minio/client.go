package minio

import (
	"context"
	"fmt"

	"github.com/lk2023060901/fileshare-backend/internal/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Client wraps the MinIO SDK client with configuration and logging
type Client struct {
	mc     *minio.Client
	config *Config
	logger *logger.Logger
}

// New creates a new MinIO client and verifies connectivity
func New(cfg *Config, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid minio configuration: %w", err)
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	client := &Client{
		mc:     mc,
		config: cfg,
		logger: log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	// ListBuckets doubles as a health check
	if _, err := mc.ListBuckets(ctx); err != nil {
		return nil, fmt.Errorf("minio health check failed: %w", err)
	}

	log.Info("minio client initialized successfully",
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("use_ssl", cfg.UseSSL),
	)

	return client, nil
}

// Raw returns the underlying MinIO SDK client
func (c *Client) Raw() *minio.Client {
	return c.mc
}
