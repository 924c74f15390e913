// Package worker runs a fixed number of goroutines that drain a durable
// queue. Workers wake up on Notify and on a poll ticker.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/candorhq/candor/pkg/logger"
)

const (
	defaultWorkers      = 2
	defaultPollInterval = 5 * time.Second
)

// Task processes at most one unit of queued work. It reports whether a unit
// was processed so the worker knows to look for more immediately.
type Task func(ctx context.Context, workerID int) (bool, error)

// Config controls pool size and polling.
type Config struct {
	Name         string
	Workers      int
	PollInterval time.Duration
}

// Pool supervises a set of workers running the same Task.
type Pool struct {
	name     string
	workers  int
	interval time.Duration
	task     Task
	wake     chan struct{}
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// NewPool constructs a pool. Start launches the workers.
func NewPool(cfg Config, task Task) (*Pool, error) {
	if task == nil {
		return nil, errors.New("worker: task is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	name := cfg.Name
	if name == "" {
		name = "worker"
	}

	return &Pool{
		name:     name,
		workers:  workers,
		interval: interval,
		task:     task,
		wake:     make(chan struct{}, workers),
		log:      logger.WithModule(name),
	}, nil
}

// Notify wakes an idle worker without blocking the caller.
func (p *Pool) Notify() {
	if p == nil {
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start launches the workers in the background. It is a no-op when the pool
// is already running.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	done := make(chan error, 1)
	p.done = done
	go func() {
		done <- p.Run(runCtx)
	}()
}

// Stop cancels the workers and waits for in-flight tasks to return or for ctx
// to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run blocks until ctx is cancelled. Task errors are logged and do not stop
// the pool.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		id := i + 1
		g.Go(func() error {
			p.loop(gctx, id)
			return nil
		})
	}
	p.log.Info("workers started", zap.Int("workers", p.workers), zap.Duration("poll_interval", p.interval))
	err := g.Wait()
	p.log.Info("workers stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.drain(ctx, id)

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// drain runs the task until the queue reports empty or an error occurs.
func (p *Pool) drain(ctx context.Context, id int) {
	for ctx.Err() == nil {
		processed, err := p.task(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Error("task failed", zap.Int("worker", id), zap.Error(err))
			}
			return
		}
		if !processed {
			return
		}
	}
}
