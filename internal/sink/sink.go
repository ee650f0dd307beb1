// Package sink selects and opens the configured destination.
package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crs-draws-etl/internal/config"
	"github.com/JakeFAU/crs-draws-etl/internal/etl"
	dynamosink "github.com/JakeFAU/crs-draws-etl/internal/sink/dynamodb"
	filesink "github.com/JakeFAU/crs-draws-etl/internal/sink/file"
	"github.com/JakeFAU/crs-draws-etl/internal/sink/postgres"
	"github.com/JakeFAU/crs-draws-etl/internal/storage/gcs"
	"github.com/JakeFAU/crs-draws-etl/internal/storage/local"
)

// New opens the sink named by cfg.Kind.
func New(ctx context.Context, cfg config.SinkConfig, logger *zap.Logger) (etl.Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("sink", cfg.Kind))

	switch cfg.Kind {
	case config.SinkFile:
		store, err := openBlobStore(ctx, cfg.File)
		if err != nil {
			return nil, &etl.SinkError{Sink: filesink.Name, Op: "connect", Err: err}
		}
		s, err := filesink.New(store, cfg.File.BaseName, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SinkDynamoDB:
		s, err := dynamosink.Open(ctx, dynamosink.Config{
			Table:            cfg.DynamoDB.Table,
			Region:           cfg.DynamoDB.Region,
			Endpoint:         cfg.DynamoDB.Endpoint,
			BatchSize:        cfg.DynamoDB.BatchSize,
			BatchesPerSecond: cfg.DynamoDB.BatchesPerSecond,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SinkPostgres:
		s, err := postgres.Open(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Kind)
	}
}

func openBlobStore(ctx context.Context, cfg config.FileConfig) (filesink.BlobStore, error) {
	if cfg.GCSBucket != "" {
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := local.New(local.Config{BaseDir: cfg.Dir})
	if err != nil {
		return nil, err
	}
	return store, nil
}
