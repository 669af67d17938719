package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/quickdrop-io/quickdrop/config"
	"github.com/quickdrop-io/quickdrop/handlers"
	"github.com/quickdrop-io/quickdrop/logging"
	"github.com/quickdrop-io/quickdrop/telemetry"
)

type App struct {
	HTTPServer *http.Server

	DynamoDB *dynamodb.Client
	Redis    *redis.Client
	Sqs      *sqs.Client
	Sns      *sns.Client
	S3       *s3.Client

	Config    config.Config
	AwsConfig aws.Config

	Services       *Services
	TracerProvider *trace.TracerProvider
	Logger         logging.Logger
}

func SetupApp() (*App, error) {
	cfg := config.LoadConfig()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	awsCfg, err := initAWS(*cfg.AWSConfig)
	if err != nil {
		return nil, err
	}

	endpoint := cfg.AWSConfig.Endpoint

	app := &App{
		DynamoDB: initDynamo(awsCfg, endpoint),
		Redis:    initRedis(*cfg.RedisConfig),
		Sqs:      initSqs(awsCfg, endpoint),
		Sns:      initSns(awsCfg, endpoint),
		S3:       initS3(awsCfg, endpoint),

		Config:    cfg,
		AwsConfig: awsCfg,
		Logger:    logging.NewSlogLogger(logging.CreateAppLogger(cfg.Env)),
	}

	if app.Config.Tracing {
		tp, err := telemetry.InitTracer(context.Background(), "quickdrop", cfg.TracingAddr)
		if err != nil {
			log.Fatalf("failed to start tracing: %v", err)
		}
		log.Println("tracing in progress...")

		app.TracerProvider = tp
	}

	app.Services = BuildServices(app)

	return app, nil
}

func (a *App) Run() error {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(handlers.LoggingMiddleware(a.Logger))
	r.Use(handlers.MetricsMiddleware())

	a.Services.HttpHandler.RegisterRoutes(r)

	var h http.Handler = r
	if a.Config.Tracing {
		h = otelhttp.NewHandler(r, "quickdrop")
	}

	// no WriteTimeout: subscribe streams stay open indefinitely
	a.HTTPServer = &http.Server{
		Addr:              a.Config.ServiceConfig.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.Logger.Info("http server started", "addr", a.Config.ServiceConfig.HTTPAddr)
	return a.HTTPServer.ListenAndServe()
}

func initAWS(cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(
		context.Background(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func initDynamo(cfg aws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Host == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Host,
		Password: "",
		DB:       0,
	})
}

func initSqs(cfg aws.Config, endpoint string) *sqs.Client {
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func initSns(cfg aws.Config, endpoint string) *sns.Client {
	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func initS3(cfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // minio/localstack
		}
	})
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("starting graceful shutdown")

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Warn("http shutdown error", "error", err)
		}
	}

	if a.Services != nil {
		if err := a.Services.Shutdown(ctx); err != nil {
			a.Logger.Warn("services shutdown error", "error", err)
		}
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close error", "error", err)
		}
	}

	if a.TracerProvider != nil {
		if err := a.TracerProvider.Shutdown(ctx); err != nil {
			a.Logger.Warn("tracer shutdown error", "error", err)
		}
	}

	a.Logger.Info("graceful shutdown complete")
	return nil
}
