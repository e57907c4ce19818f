package minio

import (
	"errors"
	"time"
)

// Config defines the MinIO client configuration
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`

	// ConnectTimeout bounds the initial health check
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DefaultConfig returns default MinIO configuration
func DefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:9000",
		UseSSL:         false,
		ConnectTimeout: 10 * time.Second,
	}
}

// Validate validates the MinIO configuration
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if c.AccessKey == "" {
		return errors.New("minio access_key is required")
	}
	if c.SecretKey == "" {
		return errors.New("minio secret_key is required")
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return nil
}
