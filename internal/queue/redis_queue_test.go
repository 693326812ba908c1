package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client)
}

func TestQueuePopsOldestFirst(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	first := &Job{ID: "1", DomainID: "a", RequestedAt: time.Unix(100, 0)}
	second := &Job{ID: "2", DomainID: "b", RequestedAt: time.Unix(200, 0)}
	require.NoError(t, q.Push(ctx, second))
	require.NoError(t, q.Push(ctx, first))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	job, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", job.DomainID)

	job, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "b", job.DomainID)
}

func TestConsumeHandlesEnqueuedJobs(t *testing.T) {
	q := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []string
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Consume(ctx, 50*time.Millisecond, func(_ context.Context, j Job) error {
			mu.Lock()
			seen = append(seen, j.DomainID)
			mu.Unlock()
			return nil
		}, zaptest.NewLogger(t))
	}()

	job, err := q.Enqueue(ctx, "dom-1")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, []string{"dom-1"}, seen)
}
