// Package action implements the Action (C6): a configured output-module
// instance with its own queue, retry policy, template, and worker pool
// (spec §4.5 state machine).
package action

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rsyslog-core/pipeline/internal/metrics"
	"github.com/rsyslog-core/pipeline/internal/telemetry"
	"github.com/rsyslog-core/pipeline/pkg/batchqueue"
	"github.com/rsyslog-core/pipeline/pkg/circuit"
	"github.com/rsyslog-core/pipeline/pkg/dlq"
	"github.com/rsyslog-core/pipeline/pkg/message"
	"github.com/rsyslog-core/pipeline/pkg/registry"
	"github.com/rsyslog-core/pipeline/pkg/template"
)

// State is the Action's RDY/SUSPENDED/DISABLED state (spec §4.5).
type State int32

const (
	StateRDY State = iota
	StateSuspended
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateRDY:
		return "RDY"
	case StateSuspended:
		return "SUSPENDED"
	case StateDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// Config configures one Action instance.
type Config struct {
	Name            string
	Module          registry.Module
	ModuleParams    map[string]interface{}
	Template        *template.Template
	Queue           batchqueue.Config
	Breaker         circuit.Config
	ResumeCheckEvery time.Duration

	// DeadLetter, if set, receives every element that ends a batch in
	// DISCARD or BAD state (spec §4.6 "BAD is a permanent failure that is
	// logged but not retried"). Optional: nil means such elements are only
	// logged and counted, not persisted.
	DeadLetter *dlq.Queue

	// Registry, if set, gates the resume timer through
	// Registry.ClaimResume so a fleet of processes sharing one downstream
	// target doesn't all probe it in lockstep (spec §5's single-process
	// resume-timer discipline, extended to multi-process deployments via
	// the registry's optional Redis coordinator). Optional.
	Registry *registry.Registry

	// Telemetry, if set, traces each do_action call as a child span named
	// "action.do_action". Optional: nil means no tracing overhead.
	Telemetry *telemetry.Manager
}

// Action holds a module instance, its Batch Queue, its backoff clock, and
// its current state (spec §3 "Action (C6)").
type Action struct {
	name   string
	module registry.Module
	inst   registry.InstanceState
	tpl    *template.Template

	queue      *batchqueue.Queue
	breaker    *circuit.Breaker
	deadLetter *dlq.Queue
	registry   *registry.Registry
	telemetry  *telemetry.Manager
	logger     *logrus.Logger

	state int32 // atomic State

	// stateMu is the dedicated state-transition mutex spec §5 requires:
	// "only one worker may transition the Action ... at a time".
	stateMu sync.Mutex

	resumeCheckEvery time.Duration
	stopResume       chan struct{}
	resumeWG         sync.WaitGroup
}

// New constructs an Action: instantiates the module and opens its queue.
// No goroutine is started here; a resume timer is started each time the
// Action enters SUSPENDED.
func New(cfg Config, logger *logrus.Logger) (*Action, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.ResumeCheckEvery <= 0 {
		cfg.ResumeCheckEvery = time.Second
	}

	inst, err := cfg.Module.NewInstance(cfg.ModuleParams)
	if err != nil {
		return nil, err
	}

	q, err := batchqueue.New(cfg.Queue)
	if err != nil {
		return nil, err
	}

	a := &Action{
		name:             cfg.Name,
		module:           cfg.Module,
		inst:             inst,
		tpl:              cfg.Template,
		queue:            q,
		breaker:          circuit.New(cfg.Breaker),
		deadLetter:       cfg.DeadLetter,
		registry:         cfg.Registry,
		telemetry:        cfg.Telemetry,
		logger:           logger,
		resumeCheckEvery: cfg.ResumeCheckEvery,
		stopResume:       make(chan struct{}),
	}
	metrics.ActionState.WithLabelValues(a.name).Set(0)
	return a, nil
}

// State reports the current state. Spec §5's "relaxed-load-plus-recheck
// pattern" for readers without the mutex maps directly onto an atomic
// load here.
func (a *Action) State() State {
	return State(atomic.LoadInt32(&a.state))
}

func (a *Action) setState(s State) {
	atomic.StoreInt32(&a.state, int32(s))
	metrics.ActionState.WithLabelValues(a.name).Set(float64(s))
}

// Submit enqueues one Message (spec §4.1 "each enqueue into an Action queue
// takes an additional reference" — the caller has already taken that
// reference via Ruleset.ProcessOne; Submit just forwards it to the queue).
func (a *Action) Submit(m *message.Message) error {
	switch a.State() {
	case StateDisabled:
		return ErrDisabled
	}
	metrics.MessagesEnqueued.WithLabelValues("", a.name).Inc()
	return a.queue.Enqueue(context.Background(), m)
}

// RunWorker drains the Action's queue in a loop, rendering and submitting
// each batch to the module, until ctx is cancelled (spec §4.7 "each worker
// loops"). Intended to be run in its own goroutine by pkg/workerpool; kept
// here too so a single-worker Action can be driven directly by tests.
func (a *Action) RunWorker(ctx context.Context, batchSize int) {
	for {
		if ctx.Err() != nil {
			return
		}
		// While SUSPENDED, leave the queue alone and wait for the resume
		// timer to move the Action back to RDY (or on to DISABLED).
		if a.State() == StateSuspended {
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.resumeCheckEvery):
			}
			continue
		}
		batch, err := a.queue.Dequeue(ctx, batchSize)
		if err != nil {
			return
		}
		a.processBatch(ctx, batch)
		metrics.QueueDepth.WithLabelValues(a.name).Set(float64(a.queue.Len()))
	}
}

// processBatch renders and submits every element still RDY, translating
// do_action results into per-element batch states and Action transitions
// (spec §4.5, §4.7).
func (a *Action) processBatch(ctx context.Context, batch *batchqueue.Batch) {
	if a.State() == StateDisabled {
		for i := range batch.Messages {
			batch.SetState(i, batchqueue.StateBad)
			a.deadLetterElement(batch.Messages[i], "action disabled")
		}
		a.queue.Complete(batch, false)
		return
	}

	worker, err := a.module.NewWorker(a.inst)
	if err != nil {
		a.logger.WithError(err).WithField("action", a.name).Error("failed to create module worker state")
		for i := range batch.Messages {
			batch.SetState(i, batchqueue.StateRDY)
		}
		a.queue.Complete(batch, true)
		a.enterSuspended()
		return
	}
	defer a.module.FreeWorker(worker)

	_ = a.module.BeginTransaction(worker)

	suspend := false
	for i, m := range batch.Messages {
		if i < batch.DoneUpTo {
			continue
		}

		rendered, rerr := a.render(m)
		if rerr != nil {
			a.logger.WithError(rerr).WithField("action", a.name).Warn("template render failed, discarding element")
			batch.SetState(i, batchqueue.StateDiscard)
			metrics.ActionResults.WithLabelValues(a.name, "DISCARD").Inc()
			a.deadLetterElement(m, "render error: "+rerr.Error())
			continue
		}

		result := a.doActionTraced(ctx, worker, rendered)
		metrics.ActionResults.WithLabelValues(a.name, result.String()).Inc()

		switch result {
		case registry.ResultOK:
			batch.SetState(i, batchqueue.StateCommitted)
		case registry.ResultDefer:
			// Leave state RDY. A later element's SetState still moves
			// DoneUpTo past this one; if the batch is requeued it is
			// retried, otherwise Complete releases it with the batch.
		case registry.ResultDiscard:
			batch.SetState(i, batchqueue.StateDiscard)
			a.deadLetterElement(m, "discarded by module")
		case registry.ResultSuspend:
			batch.SetState(i, batchqueue.StateRDY)
			suspend = true
		case registry.ResultDisable:
			batch.SetState(i, batchqueue.StateBad)
			a.deadLetterElement(m, "module disabled")
			for j := i + 1; j < len(batch.Messages); j++ {
				batch.SetState(j, batchqueue.StateBad)
				a.deadLetterElement(batch.Messages[j], "action disabled by prior element")
			}
			a.enterDisabled()
			_ = a.module.CommitTransaction(worker)
			a.queue.Complete(batch, false)
			return
		}

		if suspend {
			for j := i + 1; j < len(batch.Messages); j++ {
				batch.SetState(j, batchqueue.StateRDY)
			}
			break
		}
	}

	_ = a.module.CommitTransaction(worker)
	a.queue.Complete(batch, suspend)

	if suspend {
		a.enterSuspended()
	}
}

// doActionTraced calls the module's DoAction, wrapping it in an
// "action.do_action" span when a.telemetry is configured (spec's
// submit→filter→action→transport span propagation).
func (a *Action) doActionTraced(ctx context.Context, worker registry.WorkerState, rendered interface{}) registry.Result {
	if a.telemetry == nil {
		return a.module.DoAction(ctx, worker, rendered)
	}

	spanCtx, span := a.telemetry.Start(ctx, "action.do_action")
	span.SetAttribute("action", a.name)
	result := a.module.DoAction(spanCtx, worker, rendered)
	span.SetAttribute("result", result.String())
	span.End()
	return result
}

// deadLetterElement records a permanently-failed element if a dead-letter
// sink is configured; a nil sink means the caller's own log line is the
// only record kept.
func (a *Action) deadLetterElement(m *message.Message, reason string) {
	if a.deadLetter == nil {
		return
	}
	a.deadLetter.Add(a.name, reason, m)
}

func (a *Action) render(m *message.Message) (interface{}, error) {
	switch a.module.Rendering() {
	case registry.RenderMsg:
		return m, nil
	case registry.RenderJSON:
		v, _, err := m.PayloadAt("")
		return v, err
	default:
		if a.tpl == nil {
			b, _ := m.Field(message.FieldMsg)
			return b, nil
		}
		return a.tpl.Render(m)
	}
}

// enterSuspended transitions RDY→SUSPENDED and starts the resume timer,
// guarded by stateMu so concurrent workers agree on a single transition
// (spec §5 "An Action's state transitions use a dedicated mutex").
func (a *Action) enterSuspended() {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if a.State() != StateRDY {
		return
	}
	a.setState(StateSuspended)

	delay, tripped := a.breaker.NextDelay()
	if tripped {
		a.setState(StateDisabled)
		return
	}

	a.resumeWG.Add(1)
	go a.resumeAfter(delay)
}

func (a *Action) enterDisabled() {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.setState(StateDisabled)
}

func (a *Action) resumeAfter(delay time.Duration) {
	defer a.resumeWG.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-a.stopResume:
		return
	}

	metrics.RetryAttempts.WithLabelValues(a.name).Inc()

	ctx := context.Background()
	if a.registry != nil {
		claimed, err := a.registry.ClaimResume(ctx, a.name, int(a.resumeCheckEvery.Seconds())+1)
		if err != nil {
			a.logger.WithError(err).WithField("action", a.name).Warn("resume coordination claim failed, retrying locally")
		} else if !claimed {
			// Another process in the fleet holds the claim this round;
			// reschedule without touching the module.
			a.retryFailed()
			return
		}
		defer a.registry.ReleaseResume(ctx, a.name)
	}

	worker, err := a.module.NewWorker(a.inst)
	if err != nil {
		a.retryFailed()
		return
	}
	defer a.module.FreeWorker(worker)

	result := a.module.TryResume(ctx, worker)

	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	switch result {
	case registry.ResultOK:
		a.breaker.Reset()
		a.setState(StateRDY)
	case registry.ResultDisable:
		a.setState(StateDisabled)
	default:
		a.retryFailedLocked()
	}
}

func (a *Action) retryFailed() {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.retryFailedLocked()
}

func (a *Action) retryFailedLocked() {
	delay, tripped := a.breaker.NextDelay()
	if tripped {
		a.setState(StateDisabled)
		return
	}
	a.resumeWG.Add(1)
	go a.resumeAfter(delay)
}

// Close stops any pending resume timer and releases the module instance.
func (a *Action) Close() error {
	close(a.stopResume)
	a.resumeWG.Wait()
	return a.module.FreeInstance(a.inst)
}

// Queue exposes the underlying Batch Queue, for pkg/workerpool and tests.
func (a *Action) Queue() *batchqueue.Queue { return a.queue }

// Name returns the Action's configured name.
func (a *Action) Name() string { return a.name }
