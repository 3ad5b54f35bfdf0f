package queue

import (
	"context"
	"fmt"
)

// Job asks a worker to dispatch the notifications owned by one report
// event. Handlers must tolerate the same job more than once.
type Job struct {
	EventKey string `json:"event_key"`
	Attempt  int    `json:"attempt"`
}

type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Start consumes jobs in the background until ctx is cancelled or Stop
	// is called.
	Start(ctx context.Context, h Handler)
	Stop()
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

func validate(job Job) error {
	if job.EventKey == "" {
		return fmt.Errorf("queue: empty event key")
	}
	return nil
}
