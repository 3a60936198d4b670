package config

import (
	"errors"
	"fmt"
	"os"
	"voscribe/pkg/logger"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HTTP struct {
		Addr          string `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
		MaxUploadSize int64  `yaml:"max_upload_size" env:"HTTP_MAX_UPLOAD_SIZE" env-default:"26214400"`
		RateLimit     int    `yaml:"rate_limit" env:"HTTP_RATE_LIMIT" env-default:"30"`
	} `yaml:"http"`

	RabbitMQ struct {
		URL string `yaml:"url" env:"RABBITMQ_URL"`
	} `yaml:"rabbitmq"`

	Sarvam struct {
		BaseURL string `yaml:"base_url" env:"SARVAM_BASE_URL" env-default:"https://api.sarvam.ai/v1/audio"`
		APIKey  string `yaml:"api_key" env:"SARVAM_API_KEY"`
	} `yaml:"sarvam"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
	} `yaml:"postgres"`

	S3 struct {
		Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
		Region    string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
		Prefix    string `yaml:"prefix" env:"S3_PREFIX" env-default:"audio"`
	} `yaml:"s3"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
		Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
		DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	} `yaml:"redis"`

	Worker struct {
		Concurrency int `yaml:"concurrency" env:"WORKER_CONCURRENCY" env-default:"4"`
		Prefetch    int `yaml:"prefetch" env:"WORKER_PREFETCH" env-default:"1"`
	} `yaml:"worker"`

	// Telegram notifications are optional; an empty token disables them.
	Notify struct {
		TelegramToken string `yaml:"telegram_token" env:"NOTIFY_TELEGRAM_TOKEN" env-default:""`
		ChatID        int64  `yaml:"chat_id" env:"NOTIFY_CHAT_ID" env-default:"0"`
	} `yaml:"notify"`
}

// LoadConfig reads configs/config.yaml with environment overrides on top.
// CONFIG_PATH points it at a different file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "configs/config.yaml"
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	logger.Info("Config loaded", zap.String("path", path))
	return &cfg, nil
}

// Validate reports settings the API and worker cannot start without.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return errors.New("postgres dsn is required (POSTGRES_DSN)")
	}
	if c.RabbitMQ.URL == "" {
		return errors.New("rabbitmq url is required (RABBITMQ_URL)")
	}
	if c.S3.Endpoint == "" {
		return errors.New("s3 endpoint is required (S3_ENDPOINT)")
	}
	if c.S3.Bucket == "" {
		return errors.New("s3 bucket is required (S3_BUCKET)")
	}
	return nil
}

// ValidateWorker adds the transcription provider requirements.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Sarvam.APIKey == "" {
		return errors.New("sarvam api key is required (SARVAM_API_KEY)")
	}
	return nil
}
