package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nesta-project/nesta/internal/logger"
	"github.com/nesta-project/nesta/queue"
)

func TestBaseWorkersProcessJobs(t *testing.T) {
	q := queue.New[Job]()
	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(5)

	handler := func(ctx context.Context, job Job, slot *Slot) {
		processed.Add(1)
		wg.Done()
	}

	p := New(Config{BaseWorkers: 2, ExtendWorkers: 0, IdleTimeout: time.Second, CheckInterval: time.Second}, q, handler, logger.New(false))
	defer p.Shutdown(context.Background())

	for i := 0; i < 5; i++ {
		q.Push(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all jobs processed")
	}

	if processed.Load() != 5 {
		t.Fatalf("got %d processed, want 5", processed.Load())
	}
}

func TestMaybeGrowSpawnsElasticWorker(t *testing.T) {
	q := queue.New[Job]()
	release := make(chan struct{})
	var running atomic.Int32

	handler := func(ctx context.Context, job Job, slot *Slot) {
		running.Add(1)
		<-release
	}

	p := New(Config{BaseWorkers: 1, ExtendWorkers: 2, IdleTimeout: time.Second, CheckInterval: 50 * time.Millisecond}, q, handler, logger.New(false))
	defer func() { close(release); p.Shutdown(context.Background()) }()

	q.Push(1) // occupies the base worker
	time.Sleep(50 * time.Millisecond)

	q.Push(2) // queue now non-empty with base worker busy: should grow
	p.MaybeGrow()

	time.Sleep(100 * time.Millisecond)
	if p.Running() < 2 {
		t.Fatalf("expected pool to have grown beyond base, running=%d", p.Running())
	}
}

func TestElasticWorkerRetiresOnIdle(t *testing.T) {
	q := queue.New[Job]()
	handler := func(ctx context.Context, job Job, slot *Slot) {}

	p := New(Config{BaseWorkers: 0, ExtendWorkers: 1, IdleTimeout: 30 * time.Millisecond, CheckInterval: 10 * time.Millisecond}, q, handler, logger.New(false))
	defer p.Shutdown(context.Background())

	q.Push(1)
	p.MaybeGrow()
	time.Sleep(20 * time.Millisecond)
	if p.Running() != 1 {
		t.Fatalf("expected elastic worker to spawn and run, running=%d", p.Running())
	}

	time.Sleep(200 * time.Millisecond)
	if p.Running() != 0 {
		t.Fatalf("expected idle elastic worker to retire, running=%d", p.Running())
	}
}

func TestBaseWorkersNeverRetire(t *testing.T) {
	q := queue.New[Job]()
	handler := func(ctx context.Context, job Job, slot *Slot) {}

	p := New(Config{BaseWorkers: 1, ExtendWorkers: 0, IdleTimeout: 10 * time.Millisecond, CheckInterval: 5 * time.Millisecond}, q, handler, logger.New(false))
	defer p.Shutdown(context.Background())

	time.Sleep(100 * time.Millisecond)
	if p.Running() != 1 {
		t.Fatalf("expected base worker to stay alive, running=%d", p.Running())
	}
}

func TestShutdownWaitsForWorkers(t *testing.T) {
	q := queue.New[Job]()
	handler := func(ctx context.Context, job Job, slot *Slot) {}
	p := New(Config{BaseWorkers: 2, ExtendWorkers: 0, IdleTimeout: time.Second, CheckInterval: time.Second}, q, handler, logger.New(false))

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if p.Running() != 0 {
		t.Fatalf("expected 0 running after shutdown, got %d", p.Running())
	}
}
