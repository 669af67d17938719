package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type AWSConfig struct {
	Region    string
	AccountID string
	// Endpoint overrides the AWS endpoint for every client (localstack, minio).
	Endpoint string
}

type DynamoDBConfig struct {
	SessionsTableName string
	FilesTableName    string
}

type RedisConfig struct {
	Host string
}

type StorageConfig struct {
	Bucket string
	// Prefix is the first segment of every session upload key.
	Prefix         string
	UploadURLTTL   time.Duration
	DownloadURLTTL time.Duration
	MaxFileSize    uint64
}

type ServiceConfig struct {
	HTTPAddr string
	// EventsQueueName is the SQS queue receiving S3 bucket notifications.
	EventsQueueName string
	FanoutTopicArn  string
	// SubscriptionQueuePrefix names the per-connection relay queues.
	SubscriptionQueuePrefix string
	SubscriptionTTL         time.Duration
	MessageRetention        time.Duration
	SessionTTL              time.Duration
	SSEKeepAlive            time.Duration
	FilesCacheTTL           time.Duration
}

type Config struct {
	Env         string
	Tracing     bool
	TracingAddr string

	AWSConfig      *AWSConfig
	DynamoDBConfig *DynamoDBConfig
	RedisConfig    *RedisConfig
	StorageConfig  *StorageConfig
	ServiceConfig  *ServiceConfig
}

func LoadConfig() Config {
	return Config{
		Env:         getEnv("APP_ENV", "development"),
		Tracing:     getEnvBool("TRACING_ENABLED", false),
		TracingAddr: getEnv("TRACING_ADDR", "localhost:4317"),

		AWSConfig: &AWSConfig{
			Region:    getEnv("AWS_REGION", "us-east-1"),
			AccountID: os.Getenv("AWS_ACCOUNT_ID"),
			Endpoint:  os.Getenv("AWS_ENDPOINT"),
		},
		DynamoDBConfig: &DynamoDBConfig{
			SessionsTableName: getEnv("SESSIONS_TABLE_NAME", "quickdrop-sessions"),
			FilesTableName:    getEnv("FILES_TABLE_NAME", "quickdrop-file-records"),
		},
		RedisConfig: &RedisConfig{
			Host: os.Getenv("REDIS_HOST"),
		},
		StorageConfig: &StorageConfig{
			Bucket:         os.Getenv("STORAGE_BUCKET"),
			Prefix:         getEnv("STORAGE_PREFIX", "quickdrop-files"),
			UploadURLTTL:   getEnvDuration("UPLOAD_URL_TTL", 15*time.Minute),
			DownloadURLTTL: getEnvDuration("DOWNLOAD_URL_TTL", 15*time.Minute),
			MaxFileSize:    100 * 1024 * 1024,
		},
		ServiceConfig: &ServiceConfig{
			HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
			EventsQueueName:         getEnv("EVENTS_QUEUE_NAME", "quickdrop-object-events"),
			FanoutTopicArn:          os.Getenv("FANOUT_TOPIC_ARN"),
			SubscriptionQueuePrefix: getEnv("SUBSCRIPTION_QUEUE_PREFIX", "quickdrop-relay"),
			SubscriptionTTL:         getEnvDuration("SUBSCRIPTION_TTL", 24*time.Hour),
			MessageRetention:        getEnvDuration("MESSAGE_RETENTION", 10*time.Minute),
			SessionTTL:              getEnvDuration("SESSION_TTL", time.Hour),
			SSEKeepAlive:            getEnvDuration("SSE_KEEP_ALIVE", 25*time.Second),
			FilesCacheTTL:           getEnvDuration("FILES_CACHE_TTL", 30*time.Second),
		},
	}
}

func (c Config) Validate() error {
	if c.StorageConfig.Bucket == "" {
		return errors.New("STORAGE_BUCKET is required")
	}
	if c.ServiceConfig.FanoutTopicArn == "" {
		return errors.New("FANOUT_TOPIC_ARN is required")
	}
	if c.ServiceConfig.MessageRetention < time.Minute {
		return fmt.Errorf("MESSAGE_RETENTION %v below SQS minimum of 1m", c.ServiceConfig.MessageRetention)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
