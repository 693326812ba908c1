package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lastRunKey = "guardian:monitoring:last_run"

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	return &Client{redis.NewClient(opt)}
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, expiration).Err()
}

// GetJSON reports false without error when the key does not exist.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SaveLastRun shares the most recent sweep time between replicas.
func (c *Client) SaveLastRun(ctx context.Context, at time.Time) error {
	return c.SetJSON(ctx, lastRunKey, at.UTC(), 0)
}

func (c *Client) LoadLastRun(ctx context.Context) (*time.Time, error) {
	var at time.Time
	ok, err := c.GetJSON(ctx, lastRunKey, &at)
	if err != nil || !ok {
		return nil, err
	}
	return &at, nil
}
