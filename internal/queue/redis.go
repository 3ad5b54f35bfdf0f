package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RefatHex/ResQ/pkg/e"
)

const popTimeout = 2 * time.Second

// RedisQueue is a list-backed queue shared across processes: producers
// LPUSH, consumers BRPOP.
type RedisQueue struct {
	client  *redis.Client
	key     string
	workers int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Info("connected to redis", "addr", addr)
	return rdb, nil
}

func NewRedisQueue(client *redis.Client, key string, workers int) *RedisQueue {
	if workers < 1 {
		workers = 1
	}
	return &RedisQueue{client: client, key: key, workers: workers}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if err := validate(job); err != nil {
		return err
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, b).Err()
}

// Pop waits up to timeout for a job. An empty list is e.ErrQueueEmpty.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (Job, error) {
	var job Job

	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return job, e.ErrQueueEmpty
		}
		return job, err
	}
	if len(res) < 2 {
		return job, e.ErrQueueEmpty
	}
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return job, err
	}
	return job, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Start(ctx context.Context, h Handler) {
	ctx, q.cancel = context.WithCancel(ctx)

	for i := 1; i <= q.workers; i++ {
		q.wg.Add(1)
		go q.consume(ctx, i, h)
	}
}

func (q *RedisQueue) consume(ctx context.Context, id int, h Handler) {
	defer q.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := q.Pop(ctx, popTimeout)
		if err != nil {
			if errors.Is(err, e.ErrQueueEmpty) || ctx.Err() != nil {
				continue
			}
			slog.Error("queue pop failed", "key", q.key, "worker", id, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		if err := q.handle(ctx, h, job); err != nil {
			slog.Error("job failed", "event_key", job.EventKey, "attempt", job.Attempt, "error", err)
		}
	}
}

func (q *RedisQueue) handle(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (q *RedisQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}
