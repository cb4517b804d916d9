package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultPoolWorkers = 3
	defaultPoolQueue   = 64
	defaultTaskTimeout = 10 * time.Second
)

// ErrPoolStopped is returned by Stop when called twice.
var ErrPoolStopped = errors.New("background pool already stopped")

// BackgroundTask is one unit of fire-and-forget work.
type BackgroundTask struct {
	Name string
	Fn   func(ctx context.Context) error
}

// PoolStats counts what happened to submitted tasks.
type PoolStats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

type PoolConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
	Logger      *slog.Logger
}

// BackgroundPool runs tasks on a fixed set of workers fed by a bounded queue.
// Submit never blocks: a full queue drops the task.
type BackgroundPool struct {
	queue   chan BackgroundTask
	timeout time.Duration
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewBackgroundPool starts the workers.
func NewBackgroundPool(cfg PoolConfig) *BackgroundPool {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultPoolWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultPoolQueue
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &BackgroundPool{
		queue:   make(chan BackgroundTask, cfg.QueueSize),
		timeout: cfg.TaskTimeout,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues task and reports whether it was accepted.
func (p *BackgroundPool) Submit(task BackgroundTask) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		p.dropped.Add(1)
		p.logger.Warn("background task dropped: pool stopped", "task", task.Name)
		return false
	}
	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn("background task dropped: queue full", "task", task.Name, "queue", cap(p.queue))
		return false
	}
}

func (p *BackgroundPool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(task)
	}
}

func (p *BackgroundPool) run(task BackgroundTask) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.Error("background task panicked", "task", task.Name, "panic", r)
		}
	}()

	start := time.Now()
	if err := task.Fn(ctx); err != nil {
		p.failed.Add(1)
		p.logger.Warn("background task failed", "task", task.Name, "elapsed", time.Since(start), "error", err)
		return
	}
	p.completed.Add(1)
	p.logger.Debug("background task done", "task", task.Name, "elapsed", time.Since(start))
}

// Stats returns a snapshot of the pool counters.
func (p *BackgroundPool) Stats() PoolStats {
	return PoolStats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.queue),
	}
}

// Stop closes the queue and waits for queued tasks to finish. When ctx
// expires first, running tasks are cancelled.
func (p *BackgroundPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
