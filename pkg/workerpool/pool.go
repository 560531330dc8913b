// Package workerpool implements the Worker Pool (C8): a fixed number of
// goroutines per Action, each draining that Action's own Batch Queue (spec
// §3/§4.7 "N workers per Action, each looping dequeue→process"), adapted
// from the teacher's pkg/workerpool.WorkerPool lifecycle (Start/Stop with a
// shutdown-timeout select, a running-count gauge) but without its generic
// task-channel dispatcher: an Action already owns its own dequeue loop
// (pkg/action.Action.RunWorker), so there is no task queue to distribute —
// each worker goroutine just calls RunWorker directly.
package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolNotRunning mirrors the teacher's sentinel for operations attempted
// before Start or after Stop.
var ErrPoolNotRunning = fmt.Errorf("workerpool: pool is not running")

// Runner is the subset of pkg/action.Action a Pool drives: a blocking loop
// that drains its own queue until ctx is cancelled.
type Runner interface {
	Name() string
	RunWorker(ctx context.Context, batchSize int)
}

// Config configures how many goroutines are started per Action and how
// long Stop waits for them to exit.
type Config struct {
	WorkersPerAction int
	BatchSize        int
	ShutdownTimeout  time.Duration
}

// Pool starts WorkersPerAction goroutines for each registered Action and
// tracks their lifecycle (spec §4.7).
type Pool struct {
	cfg    Config
	logger *logrus.Logger

	mu        sync.RWMutex
	actions   []Runner
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool

	active map[string]int
	activeMu sync.Mutex
}

// New returns a Pool with sane defaults (spec leaves worker count to
// deployment config; NumCPU is the same fallback the teacher's
// WorkerPoolConfig uses for MaxWorkers).
func New(cfg Config, logger *logrus.Logger) *Pool {
	if cfg.WorkersPerAction <= 0 {
		cfg.WorkersPerAction = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pool{cfg: cfg, logger: logger, active: make(map[string]int)}
}

// Register adds an Action to be driven once Start is called. Registering
// after Start has no effect until the next Start.
func (p *Pool) Register(a Runner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, a)
}

// Start launches WorkersPerAction goroutines per registered Action.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.WithFields(logrus.Fields{
		"actions":            len(p.actions),
		"workers_per_action": p.cfg.WorkersPerAction,
	}).Info("starting worker pool")

	for _, a := range p.actions {
		for i := 0; i < p.cfg.WorkersPerAction; i++ {
			p.wg.Add(1)
			go p.runWorker(runCtx, a, i)
		}
	}

	p.isRunning = true
	return nil
}

func (p *Pool) runWorker(ctx context.Context, a Runner, workerID int) {
	defer p.wg.Done()

	p.activeMu.Lock()
	p.active[a.Name()]++
	p.activeMu.Unlock()
	defer func() {
		p.activeMu.Lock()
		p.active[a.Name()]--
		p.activeMu.Unlock()
	}()

	p.logger.WithFields(logrus.Fields{"action": a.Name(), "worker": workerID}).Debug("action worker started")
	a.RunWorker(ctx, p.cfg.BatchSize)
	p.logger.WithFields(logrus.Fields{"action": a.Name(), "worker": workerID}).Debug("action worker stopped")
}

// Stop cancels every worker's context and waits up to ShutdownTimeout for
// them to exit, mirroring the teacher's graceful-then-timeout Stop.
func (p *Pool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isRunning {
		return nil
	}

	p.logger.Info("stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	}

	p.isRunning = false
	return nil
}

// ActiveWorkers reports how many of an Action's worker goroutines are
// currently alive (started and not yet returned from RunWorker), for
// diagnostics.
func (p *Pool) ActiveWorkers(actionName string) int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return p.active[actionName]
}
