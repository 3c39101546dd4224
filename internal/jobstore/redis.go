package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "specmatrix:job:"

// Redis is a Store backing on a shared Redis instance, for deployments
// where pollers may hit a different replica than the one running the job.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection. ttl of zero
// keeps slots forever.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("jobstore: redis ping: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Get(ctx context.Context, jobID string) (JobStatus, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return JobStatus{}, ErrNotFound
	}
	if err != nil {
		return JobStatus{}, err
	}
	var status JobStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return JobStatus{}, fmt.Errorf("jobstore: decode status: %w", err)
	}
	return status, nil
}

func (r *Redis) Set(ctx context.Context, jobID string, status JobStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+jobID, data, r.ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, redisKeyPrefix+jobID).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
