package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bdougie/framefx/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no job with the requested ID is stored.
var ErrNotFound = errors.New("job not found")

// Storage defines the interface for recording save job history
type Storage interface {
	// SaveJob inserts or replaces a job record
	SaveJob(ctx context.Context, job *models.JobRecord) error

	// GetJob returns the record with the given ID
	GetJob(ctx context.Context, id string) (*models.JobRecord, error)

	// ListJobs returns up to limit records, newest first
	ListJobs(ctx context.Context, limit int) ([]models.JobRecord, error)

	// Close flushes pending records and releases resources
	Close() error
}

// Drivers accepted by Open.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Options selects and configures a storage backend
type Options struct {
	Driver      string
	Dir         string
	PostgresURL string
	Redis       *redis.Client
}

// Open creates the storage backend named by opts.Driver
func Open(ctx context.Context, opts Options) (Storage, error) {
	switch opts.Driver {
	case DriverFile, "":
		return NewFileStorage(opts.Dir)
	case DriverPostgres:
		if err := InitSchema(ctx, opts.PostgresURL); err != nil {
			return nil, err
		}
		return NewPostgresStorage(ctx, opts.PostgresURL)
	case DriverRedis:
		if opts.Redis == nil {
			return nil, errors.New("redis storage requires a redis client")
		}
		return NewRedisStorage(opts.Redis), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
