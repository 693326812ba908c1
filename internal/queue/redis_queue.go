// Package queue carries on-demand domain check requests between API replicas
// and the worker that processes them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrTimeout = errors.New("queue timeout")

const DefaultQueueName = "guardian:domain_checks"

type Job struct {
	ID          string    `json:"id"`
	DomainID    string    `json:"domain_id"`
	RequestedAt time.Time `json:"requested_at"`
}

type RedisQueue struct {
	client    *redis.Client
	queueName string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:    client,
		queueName: DefaultQueueName,
	}
}

// Enqueue schedules a check for domainID. Jobs pop oldest first.
func (q *RedisQueue) Enqueue(ctx context.Context, domainID string) (Job, error) {
	job := Job{
		ID:          uuid.New().String(),
		DomainID:    domainID,
		RequestedAt: time.Now().UTC(),
	}
	return job, q.Push(ctx, &job)
}

func (q *RedisQueue) Push(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.client.ZAdd(ctx, q.queueName, redis.Z{
		Score:  float64(job.RequestedAt.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BZPopMin(ctx, timeout, q.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	member, ok := result.Member.(string)
	if !ok {
		return nil, errors.New("invalid result from queue")
	}

	var job Job
	if err := json.Unmarshal([]byte(member), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueName).Result()
}

// Consume pops jobs and hands them to handle until ctx is done. Handler
// errors are logged and the job is dropped.
func (q *RedisQueue) Consume(ctx context.Context, pollTimeout time.Duration, handle func(context.Context, Job) error, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "queue"))

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := q.Pop(ctx, pollTimeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) || ctx.Err() != nil {
				continue
			}
			logger.Warn("Failed to pop check job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := handle(ctx, *job); err != nil {
			logger.Error("Check job failed",
				zap.String("job_id", job.ID),
				zap.String("domain_id", job.DomainID),
				zap.Error(err),
			)
		}
	}
}
