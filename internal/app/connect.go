package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"escalator/internal/config"
	"escalator/internal/security"
)

const providerTimeout = 10 * time.Second

// Connect opens the database pool and the AWS clients the config asks for.
// The returned close function releases the pool.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Deps, func(), error) {
	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return Deps{}, nil, err
	}
	logger.Info("database connection established",
		"max_conns", cfg.Database.MaxConns,
	)

	deps := Deps{
		DB:         pool,
		Pinger:     pool,
		HTTPClient: newProviderClient(cfg.Environment),
		Logger:     logger,
	}

	needSQS := cfg.AWS.OperatorQueueURL != ""
	needCW := cfg.Observability.EnableMetrics
	if needSQS || needCW {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			pool.Close()
			return Deps{}, nil, err
		}
		if needSQS {
			deps.SQS = sqs.NewFromConfig(awsCfg)
		}
		if needCW {
			deps.CloudWatch = cloudwatch.NewFromConfig(awsCfg)
		}
	}

	return deps, pool.Close, nil
}

// newProviderClient builds the HTTP client for SendGrid and Twilio. Outside
// local development it refuses private and metadata addresses.
func newProviderClient(env string) *http.Client {
	if env == "local" {
		return &http.Client{Timeout: providerTimeout}
	}
	return security.NewEgressClient(providerTimeout, 3)
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// loadAWSConfig loads the default credential chain. EndpointURL points every
// client at LocalStack.
func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}
