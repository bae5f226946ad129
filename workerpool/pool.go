// Package workerpool implements an elastic boss/worker pool: N0 base
// workers spawned at startup, up to Nmax-N0 additional elastic workers
// spawned under queue pressure, with idle-timeout retirement for the
// elastic slots only. Grounded on original_source/nesta/http_server.c's
// http_thread/worker_thread_extend/is_timeout_thread for the elasticity
// and retirement rules, and on a prior process-pool implementation for
// the slot table and state accessors.
package workerpool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nesta-project/nesta/internal/logger"
	"github.com/nesta-project/nesta/queue"
)

// Job is one unit of work handed from the dispatcher to a worker — for the
// HTTP pool this is an accepted connection; for the relay pool it is an
// accepted peer connection.
type Job any

// Handler processes one Job. It receives the slot executing it so it can
// flag command-in-flight work via slot.SetCommandFlag.
type Handler func(ctx context.Context, job Job, slot *Slot)

// Pool is an elastic set of workers draining a single queue.
type Pool struct {
	n0   int
	nmax int

	idleTimeout   time.Duration
	checkInterval time.Duration

	queue   *queue.Queue[Job]
	handler Handler
	log     logger.Logger

	mu      sync.Mutex
	slots   []*Slot
	running int // count of slots with status != UNUSED

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Config bundles the construction parameters, mirroring http_conf_t's
// worker_thread / extend_worker_thread / worker_thread_timeout /
// worker_thread_check_interval fields.
type Config struct {
	BaseWorkers       int
	ExtendWorkers     int
	IdleTimeout       time.Duration
	CheckInterval     time.Duration
}

// New constructs a pool and spawns the N0 base workers immediately.
func New(cfg Config, q *queue.Queue[Job], handler Handler, log logger.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		n0:            cfg.BaseWorkers,
		nmax:          cfg.BaseWorkers + cfg.ExtendWorkers,
		idleTimeout:   cfg.IdleTimeout,
		checkInterval: cfg.CheckInterval,
		queue:         q,
		handler:       handler,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
		group:         new(errgroup.Group),
	}

	p.slots = make([]*Slot, p.nmax)
	for i := 0; i < p.nmax; i++ {
		p.slots[i] = newSlot(i)
	}

	for i := 0; i < p.n0; i++ {
		p.startWorker(i, false)
	}
	return p
}

// N0 returns the number of permanent base workers.
func (p *Pool) N0() int { return p.n0 }

// Nmax returns the scale-up ceiling.
func (p *Pool) Nmax() int { return p.nmax }

// Slots returns the worker table for the status control command; the
// slice is a snapshot, entries remain live pointers.
func (p *Pool) Slots() []*Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Slot, len(p.slots))
	copy(out, p.slots)
	return out
}

// Running returns the current count of non-UNUSED slots; it must always
// equal the number of slots with status != UNUSED.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// MaybeGrow implements the dispatcher elasticity rule, evaluated after
// each accept: if the queue is non-empty and workers <
// Nmax, spawn a worker into the lowest UNUSED slot in [N0, Nmax).
func (p *Pool) MaybeGrow() {
	if p.queue.Empty() {
		return
	}

	p.mu.Lock()
	if p.running >= p.nmax {
		p.mu.Unlock()
		return
	}
	var target = -1
	for i := p.n0; i < p.nmax; i++ {
		if p.slots[i].State() == StateUnused {
			target = i
			break
		}
	}
	if target < 0 {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.startWorker(target, true)
}

func (p *Pool) startWorker(slotIndex int, elastic bool) {
	slot := p.slots[slotIndex]

	p.mu.Lock()
	p.running++
	p.mu.Unlock()

	p.group.Go(func() error {
		p.workerLoop(slot, elastic)
		return nil
	})
}

// workerLoop is the Go equivalent of http_thread: block in SLEEPING on the
// queue, wake on signal or (elastic slots only) on idle-timeout, run the
// handler in RUNNING, repeat until shutdown.
func (p *Pool) workerLoop(slot *Slot, elastic bool) {
	defer func() {
		p.mu.Lock()
		p.running--
		p.mu.Unlock()
		slot.setState(StateUnused)
	}()

	slot.touch(nowMicro())
	for {
		if p.ctx.Err() != nil {
			return
		}

		slot.setState(StateSleeping)

		var job Job
		var ok bool
		if elastic {
			job, ok = p.queue.PopTimeout(p.checkInterval)
			if !ok {
				if p.ctx.Err() != nil {
					return
				}
				if p.isIdleTimeout(slot) {
					p.log.Debugf("worker slot %d retiring after %s idle", slot.No, p.idleTimeout)
					return
				}
				continue
			}
		} else {
			job, ok = p.queue.Pop()
			if !ok {
				return // queue closed, base workers exit at shutdown
			}
		}

		slot.setState(StateRunning)
		slot.touch(nowMicro())
		slot.incCount()

		p.handler(p.ctx, job, slot)
		slot.touch(nowMicro())
	}
}

// isIdleTimeout mirrors is_timeout_thread(): only meaningful while SLEEPING,
// comparing the time elapsed since last access against worker_thread_timeout.
func (p *Pool) isIdleTimeout(slot *Slot) bool {
	if slot.State() != StateSleeping {
		return false
	}
	elapsed := time.Duration(nowMicro()-slot.LastAccessMicro()) * time.Microsecond
	return elapsed > p.idleTimeout
}

// Shutdown cancels the pool context, closes the queue to wake every
// blocked worker, and waits for all worker goroutines to exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.cancel()
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nowMicro() int64 {
	return time.Now().UnixMicro()
}
