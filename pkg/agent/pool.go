package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Runner executes one task run. *Controller satisfies it.
type Runner interface {
	Execute(ctx context.Context, taskID uint, credential string) (Result, error)
}

var _ Runner = new(Controller)

type job struct {
	taskID     uint
	credential string
	ctx        context.Context
	cancel     context.CancelFunc
}

// PoolStats is a point-in-time snapshot for status endpoints.
type PoolStats struct {
	Workers  int `json:"workers"`
	Queued   int `json:"queued"`
	Running  int `json:"running"`
	InFlight int `json:"in_flight"`
	Capacity int `json:"queue_capacity"`
}

// Pool runs tasks on a fixed set of workers fed by a bounded queue.
// A task id is accepted at most once while it is queued or running, so a
// run is the only writer of its task's progress.
type Pool struct {
	runner  Runner
	log     *slog.Logger
	workers int
	queue   chan *job
	base    context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Int32

	mu       sync.Mutex
	inflight map[uint]*job
	closed   bool
	onDone   func(taskID uint, res Result, err error)
}

type PoolOption func(*Pool)

// WithDoneHook is called after every run, from the worker goroutine.
func WithDoneHook(fn func(taskID uint, res Result, err error)) PoolOption {
	return func(p *Pool) { p.onDone = fn }
}

func NewPool(runner Runner, workers, queueSize int, log *slog.Logger, opts ...PoolOption) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if log == nil {
		log = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	p := &Pool{
		runner:   runner,
		log:      log,
		workers:  workers,
		queue:    make(chan *job, queueSize),
		base:     base,
		stop:     stop,
		inflight: make(map[uint]*job),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues a run without blocking.
func (p *Pool) Submit(taskID uint, credential string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if _, ok := p.inflight[taskID]; ok {
		return ErrTaskInFlight
	}
	ctx, cancel := context.WithCancel(p.base)
	j := &job{taskID: taskID, credential: credential, ctx: ctx, cancel: cancel}
	select {
	case p.queue <- j:
		p.inflight[taskID] = j
		return nil
	default:
		cancel()
		return ErrQueueFull
	}
}

// Cancel stops a queued or running task. It reports whether one was found.
func (p *Pool) Cancel(taskID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.inflight[taskID]
	if ok {
		j.cancel()
	}
	return ok
}

// InFlight reports whether the task is queued or running.
func (p *Pool) InFlight(taskID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[taskID]
	return ok
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	inflight := len(p.inflight)
	p.mu.Unlock()
	return PoolStats{
		Workers:  p.workers,
		Queued:   len(p.queue),
		Running:  int(p.running.Load()),
		InFlight: inflight,
		Capacity: cap(p.queue),
	}
}

// Close stops accepting work and waits for queued runs to drain. When ctx
// expires first, every run is cancelled and Close waits for the workers to
// record the cancellation before returning ctx's error.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.stop()
		return nil
	case <-ctx.Done():
		p.stop()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		p.runJob(j)
	}
}

func (p *Pool) runJob(j *job) {
	p.running.Add(1)
	res, err := p.execute(j)
	p.running.Add(-1)
	j.cancel()
	p.mu.Lock()
	if p.inflight[j.taskID] == j {
		delete(p.inflight, j.taskID)
	}
	p.mu.Unlock()

	switch {
	case errors.Is(err, ErrTaskNotFound):
		p.log.Warn("queued task vanished", "task_id", j.taskID)
	case err != nil:
		p.log.Error("task run failed", "task_id", j.taskID, "err", err)
	default:
		p.log.Info("task run done", "task_id", j.taskID, "success", res.Success)
	}
	if p.onDone != nil {
		p.onDone(j.taskID, res, err)
	}
}

// execute shields the worker from a runner that panics.
func (p *Pool) execute(j *job) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("runner panicked", "task_id", j.taskID, "panic", r)
			err = errors.New("runner panicked")
		}
	}()
	return p.runner.Execute(j.ctx, j.taskID, j.credential)
}
