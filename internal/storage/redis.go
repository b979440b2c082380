package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bdougie/framefx/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	jobTTL     = 24 * time.Hour
	jobsZSet   = "jobs"
	jobKeyFmt  = "job:%s"
	defaultMax = 100
)

// RedisStorage keeps job records in Redis for a day
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage creates a new Redis-backed storage
func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

// SaveJob stores the record and indexes it by creation time
func (s *RedisStorage) SaveJob(ctx context.Context, job *models.JobRecord) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(jobKeyFmt, job.ID), data, jobTTL)
	pipe.ZAdd(ctx, jobsZSet, redis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the record with the given ID
func (s *RedisStorage) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(jobKeyFmt, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job models.JobRecord
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns up to limit records, newest first. Index entries whose
// record has expired are dropped.
func (s *RedisStorage) ListJobs(ctx context.Context, limit int) ([]models.JobRecord, error) {
	if limit <= 0 {
		limit = defaultMax
	}
	ids, err := s.client.ZRevRange(ctx, jobsZSet, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]models.JobRecord, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.client.ZRem(ctx, jobsZSet, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// Close implements Storage. The client is owned by the caller.
func (s *RedisStorage) Close() error { return nil }
