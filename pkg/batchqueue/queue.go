// Package batchqueue implements the Batch Queue (spec §3/§4.6 C7): a
// bounded, optionally disk-assisted FIFO of Messages that feeds workers in
// fixed-size batches.
package batchqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rsyslog-core/pipeline/pkg/message"
)

// ErrFull is returned by Enqueue when the queue is at its high-water mark,
// a Spool is configured, and spilling the oldest element to it fails.
// Without a Spool, Enqueue blocks at the high-water mark instead.
var ErrFull = errors.New("batchqueue: full")

// ErrShutdown is returned by Enqueue once the queue has entered shutdown.
var ErrShutdown = errors.New("batchqueue: shutting down")

// Spiller is the disk-assist contract a Queue spills overflow onto, and
// drains from at startup/recovery. pkg/spool implements it.
type Spiller interface {
	Spill(m *message.Message) error
	Drain() ([]*message.Message, error)
	Len() int
}

// Config configures a Queue's capacity and spill/linger behaviour.
type Config struct {
	// HighWaterMark is the in-memory occupancy above which Enqueue blocks
	// (or spills, if Spool is set).
	HighWaterMark int
	// Linger bounds how long Dequeue waits to fill a requested batch size
	// before returning a partial batch.
	Linger time.Duration
	// Spool is optional disk-assist backing (spec §4.6 "Disk-assist
	// semantics").
	Spool Spiller
}

// Queue is a bounded FIFO of Messages (spec §4.6 C7). Synchronisation is a
// mutex plus two condition variables (notFull, notEmpty), matching spec §5
// exactly: "A Batch Queue uses a mutex plus two condition variables...
// evaluated inside the mutex."
type Queue struct {
	cfg Config

	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	items  []*message.Message
	closed bool
	hard   bool // shutdown_immediate: workers stop after current batch

	nextBatchID int64
	pending     map[int64]*Batch
}

// New returns a Queue ready to accept messages. If cfg.Spool is set and
// already holds spilled messages from a prior run, they are drained back
// to the front of the in-memory queue before anything new is accepted, per
// spec §4.6 "on restart or on drain, the spool is read back before
// in-memory elements".
func New(cfg Config) (*Queue, error) {
	if cfg.HighWaterMark <= 0 {
		cfg.HighWaterMark = 10000
	}
	if cfg.Linger <= 0 {
		cfg.Linger = 200 * time.Millisecond
	}

	q := &Queue{cfg: cfg, pending: make(map[int64]*Batch)}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)

	if cfg.Spool != nil {
		recovered, err := cfg.Spool.Drain()
		if err != nil {
			return nil, err
		}
		q.items = append(q.items, recovered...)
	}
	return q, nil
}

// Enqueue admits one Message. Below the high-water mark it is non-blocking.
// Above it, the caller blocks until space frees up, unless a Spool is
// configured, in which case the oldest in-memory element is spilled to
// make room instead of blocking the producer (spec §4.6).
func (q *Queue) Enqueue(ctx context.Context, m *message.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrShutdown
	}

	for len(q.items) >= q.cfg.HighWaterMark {
		if q.cfg.Spool != nil {
			oldest := q.items[0]
			if err := q.cfg.Spool.Spill(oldest); err != nil {
				return ErrFull
			}
			q.items = q.items[1:]
			break
		}

		if done := q.waitWithContext(ctx, q.notFull); done {
			return ctx.Err()
		}
		if q.closed {
			return ErrShutdown
		}
	}

	q.items = append(q.items, m)
	q.notEmpty.Signal()
	return nil
}

// waitWithContext waits on cond until signalled or ctx is cancelled. It
// must be called with q.mu held; it releases the lock for the duration of
// the wait, as sync.Cond.Wait always does. Returns true iff ctx ended the
// wait.
func (q *Queue) waitWithContext(ctx context.Context, cond *sync.Cond) bool {
	if ctx.Err() != nil {
		return true
	}

	done := make(chan struct{})
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			cond.Broadcast()
			q.mu.Unlock()
		case <-stopWatch:
		}
		close(done)
	}()

	cond.Wait()
	close(stopWatch)
	<-done

	return ctx.Err() != nil
}

// Dequeue returns up to n Messages as a Batch. It blocks until at least one
// message is available or the queue is shut down, then waits up to Linger
// for the batch to fill further (spec §4.6 "the queue returns a Batch
// (fewer than N if that is all that is available after a configurable
// linger-time)"). The batch is removed from the logical head of the queue
// but retained in a pending set until Complete is called.
func (q *Queue) Dequeue(ctx context.Context, n int) (*Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed && q.hard {
			return nil, ErrShutdown
		}
		if q.closed && len(q.items) == 0 {
			return nil, ErrShutdown
		}
		if done := q.waitWithContext(ctx, q.notEmpty); done {
			return nil, ctx.Err()
		}
	}

	deadline := time.Now().Add(q.cfg.Linger)
	for len(q.items) < n && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		lingerCtx, cancel := context.WithTimeout(ctx, remaining)
		done := q.waitWithContext(lingerCtx, q.notEmpty)
		cancel()
		if done && ctx.Err() != nil {
			break
		}
		if lingerCtx.Err() != nil && ctx.Err() == nil {
			break // linger elapsed, not the caller's context
		}
	}

	take := n
	if take > len(q.items) {
		take = len(q.items)
	}

	batch := &Batch{
		id:       q.nextBatchID,
		Messages: append([]*message.Message{}, q.items[:take]...),
		States:   make([]ElementState, take),
	}
	q.nextBatchID++
	q.items = q.items[take:]
	q.pending[batch.id] = batch

	q.notFull.Signal()
	return batch, nil
}

// Complete reports final per-element states for a previously dequeued
// batch (spec §4.6 "Ack / Nack"). COMMITTED and DISCARD free the element
// (Release its reference); BAD is a permanent failure, logged by the
// caller but not retried; RDY elements are requeued at the head — in their
// original relative order — if requeue is true (the Action is SUSPENDED),
// preserving ordering against newer enqueues admitted in the meantime,
// exactly as spec §4.6 "Ordering" describes.
func (q *Queue) Complete(batch *Batch, requeue bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.pending, batch.id)

	var toRequeue []*message.Message
	for i, m := range batch.Messages {
		switch batch.States[i] {
		case StateCommitted, StateDiscard:
			m.Release()
		case StateBad:
			m.Release()
		case StateRDY:
			if requeue {
				toRequeue = append(toRequeue, m)
			} else {
				m.Release()
			}
		}
	}

	if len(toRequeue) > 0 {
		q.items = append(append([]*message.Message{}, toRequeue...), q.items...)
		q.notEmpty.Signal()
	}
}

// Len reports the current in-memory occupancy.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Shutdown stops accepting enqueues and lets workers drain until deadline
// elapses, after which ShutdownImmediate semantics apply: Dequeue returns
// ErrShutdown once the queue is empty (spec §4.6 "Shutdown").
func (q *Queue) Shutdown(deadline time.Duration) {
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()

	if deadline <= 0 {
		q.ShutdownImmediate()
		return
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	<-timer.C
	q.ShutdownImmediate()
}

// ShutdownImmediate causes workers to exit after their current batch: any
// remaining in-memory elements are spilled to the configured Spool (if
// any) so a clean shutdown's committed∪spooled union covers every admitted
// message (spec §4.6 correctness requirement, spec §8 property 6).
func (q *Queue) ShutdownImmediate() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.hard = true

	if q.cfg.Spool != nil {
		for _, m := range q.items {
			_ = q.cfg.Spool.Spill(m)
		}
		q.items = nil
	}

	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
