package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quickdrop-io/quickdrop/caching"
	"github.com/quickdrop-io/quickdrop/handlers"
	"github.com/quickdrop-io/quickdrop/health"
	"github.com/quickdrop-io/quickdrop/queues"
	"github.com/quickdrop-io/quickdrop/services"
	"github.com/quickdrop-io/quickdrop/store"
)

type Stores struct {
	files    store.FileStore
	sessions store.SessionStore
}

type Services struct {
	Sessions services.SessionService
	Files    services.FileService
	Uploads  services.UploadService

	Bridge queues.UploadsNotifyReceiver
	Reaper *queues.SubscriptionReaper

	Stores *Stores

	HttpHandler *handlers.HttpHandler
}

type Shutdowner interface {
	Shutdown(context.Context) error
}

func BuildServices(app *App) *Services {
	cfg := app.Config

	fileStore := store.NewDynamoDbFileStoreImpl(app.DynamoDB, cfg.DynamoDBConfig.FilesTableName)
	sessStore := store.NewSessionStoreImpl(app.DynamoDB, cfg.DynamoDBConfig.SessionsTableName)
	objectStorage := store.NewS3ObjectStorageImpl(app.S3, cfg.StorageConfig.Bucket, app.Logger)

	var cachingSvc caching.CachingService
	cachingSvc = caching.NewNullCachingService()
	if app.Redis != nil {
		cachingSvc = caching.NewRedisCachingService(app.Redis)
	}

	sessSvc := services.NewSessionServiceImpl(sessStore, cfg.ServiceConfig.SessionTTL)
	fileSvc := services.NewFileServiceImpl(fileStore, cachingSvc, cfg.ServiceConfig.FilesCacheTTL, app.Logger)
	uploadSvc := services.NewUploadServiceImpl(
		sessSvc,
		objectStorage,
		cfg.StorageConfig.Prefix,
		cfg.StorageConfig.MaxFileSize,
		cfg.StorageConfig.UploadURLTTL,
		cfg.StorageConfig.DownloadURLTTL,
		app.Logger,
	)

	publisher := queues.NewSnsFanoutPublisherImpl(app.Sns, cfg.ServiceConfig.FanoutTopicArn, app.Logger)

	queueUrl := fmt.Sprintf("https://sqs.%s.amazonaws.com/%s/%s",
		cfg.AWSConfig.Region, cfg.AWSConfig.AccountID, cfg.ServiceConfig.EventsQueueName)
	if cfg.AWSConfig.Endpoint != "" {
		queueUrl = fmt.Sprintf("%s/%s/%s",
			strings.TrimSuffix(cfg.AWSConfig.Endpoint, "/"), cfg.AWSConfig.AccountID, cfg.ServiceConfig.EventsQueueName)
	}

	bridge := queues.NewUploadsNotifyReceiverImpl(
		context.Background(),
		app.Sqs,
		fileStore,
		sessStore,
		objectStorage,
		publisher,
		cachingSvc,
		queueUrl,
		cfg.StorageConfig.Bucket,
		cfg.StorageConfig.Prefix,
		app.Logger,
	)
	bridge.Start()

	opener := queues.NewSqsSubscriptionOpenerImpl(
		app.Sqs,
		app.Sns,
		cfg.ServiceConfig.FanoutTopicArn,
		cfg.ServiceConfig.SubscriptionQueuePrefix,
		cfg.ServiceConfig.MessageRetention,
		app.Logger,
	)

	reaper := queues.NewSubscriptionReaper(
		context.Background(),
		app.Sqs,
		app.Sns,
		cfg.ServiceConfig.FanoutTopicArn,
		cfg.ServiceConfig.SubscriptionQueuePrefix,
		cfg.ServiceConfig.SubscriptionTTL,
		15*time.Minute,
		app.Logger,
	)
	reaper.Start()

	checks := []health.ReadinessCheck{fileStore, sessStore}

	handler := handlers.NewHttpHandler(
		sessSvc,
		fileSvc,
		uploadSvc,
		opener,
		checks,
		cfg.ServiceConfig.SSEKeepAlive,
		app.Logger,
	)

	return &Services{
		Sessions: sessSvc,
		Files:    fileSvc,
		Uploads:  uploadSvc,

		Bridge: bridge,
		Reaper: reaper,

		Stores: &Stores{
			files:    fileStore,
			sessions: sessStore,
		},

		HttpHandler: handler,
	}
}

func (s *Services) Shutdown(ctx context.Context) error {
	if s.Bridge != nil {
		if err := s.Bridge.Shutdown(ctx); err != nil {
			return err
		}
	}
	if s.Reaper != nil {
		if err := s.Reaper.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}
