package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestScheduler_RunsTask(t *testing.T) {
	s := New(time.Second)

	ran := make(chan struct{}, 1)
	err := s.Add("sweep", "@every 1s", func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	s.Start()
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := New(0)
	defer s.Stop()

	if err := s.Add("bad", "not a cron spec", func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for invalid spec")
	}
}

func TestScheduler_StopCancelsRunningTask(t *testing.T) {
	s := New(0)

	started := make(chan struct{})
	var cancelled atomic.Bool
	s.Add("slow", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return errors.New("cancelled")
	})
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task did not start")
	}

	s.Stop()
	if !cancelled.Load() {
		t.Error("expected Stop to cancel the running task")
	}
}
