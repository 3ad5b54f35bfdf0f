package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/RefatHex/ResQ/pkg/e"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu   sync.Mutex
	keys []string
	done chan struct{}
	want int
}

func newCollector(want int) *collector {
	return &collector{done: make(chan struct{}), want: want}
}

func (c *collector) handle(ctx context.Context, job Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, job.EventKey)
	if len(c.keys) == c.want {
		close(c.done)
	}
	return nil
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for jobs")
	}
}

func TestMemoryQueue_DeliversJobs(t *testing.T) {
	q := NewMemoryQueue(2, 10)
	c := newCollector(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx, c.handle)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, Job{EventKey: k}))
	}
	c.wait(t)
	q.Stop()

	assert.ElementsMatch(t, []string{"a", "b", "c"}, c.keys)
}

func TestMemoryQueue_RejectsBeforeStartAndEmptyKey(t *testing.T) {
	q := NewMemoryQueue(1, 1)

	assert.Error(t, q.Enqueue(context.Background(), Job{EventKey: "x"}))
	assert.Error(t, q.Enqueue(context.Background(), Job{}))
	q.Stop()
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisQueue_PushPop(t *testing.T) {
	_, client := setupRedis(t)
	q := NewRedisQueue(client, "resq:test", 1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{EventKey: "first", Attempt: 1}))
	require.NoError(t, q.Enqueue(ctx, Job{EventKey: "second"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	job, err := q.Pop(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Job{EventKey: "first", Attempt: 1}, job)

	job, err = q.Pop(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "second", job.EventKey)
}

func TestRedisQueue_PopEmpty(t *testing.T) {
	_, client := setupRedis(t)
	q := NewRedisQueue(client, "resq:empty", 1)

	_, err := q.Pop(context.Background(), 50*time.Millisecond)
	assert.True(t, errors.Is(err, e.ErrQueueEmpty), "got %v", err)
}

func TestRedisQueue_Consumers(t *testing.T) {
	_, client := setupRedis(t)
	q := NewRedisQueue(client, "resq:consume", 2)
	c := newCollector(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx, c.handle)

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Enqueue(ctx, Job{EventKey: k}))
	}
	c.wait(t)
	q.Stop()

	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, c.keys)
}
