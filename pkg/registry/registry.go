// Package registry implements the Module Registry (C10): a lookup table of
// output modules by name, plus the lifecycle vtable contract every module
// implements (spec §4.9, §6 "Core ↔ Output module").
package registry

import (
	"context"
	"fmt"
	"sync"
)

// Result is an output module's do_action / try_resume return code
// (spec §4.5, §6).
type Result int

const (
	// ResultOK commits the element.
	ResultOK Result = iota
	// ResultDefer means the element is not yet committed; keep it in the
	// batch for a subsequent do_action call (transaction-batching modules).
	ResultDefer
	// ResultSuspend is a retriable failure: the remaining batch is
	// requeued and the Action moves to SUSPENDED.
	ResultSuspend
	// ResultDiscard marks this one element unprocessable; it is dropped.
	ResultDiscard
	// ResultDisable means the module itself is broken; the Action moves to
	// DISABLED and remaining work is dropped.
	ResultDisable
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultDefer:
		return "DEFER"
	case ResultSuspend:
		return "SUSPEND"
	case ResultDiscard:
		return "DISCARD"
	case ResultDisable:
		return "DISABLE"
	default:
		return "UNKNOWN"
	}
}

// Rendering is how an output module wants one positional template argument
// rendered, declared at registration time (spec §6 "Message template
// rendering").
type Rendering int

const (
	RenderBytes Rendering = iota // AS_BYTES: formatted text
	RenderJSON                  // AS_JSON: structured payload
	RenderMsg                   // AS_MSG: the Message object itself
)

// WorkerState is per-worker module state returned by NewWorker; opaque to
// the core, passed back on every subsequent call for that worker.
type WorkerState interface{}

// InstanceState is per-action module state returned by NewInstance.
type InstanceState interface{}

// Module is the vtable every output module implements (spec §4.9, §6).
// Version negotiation (spec §4.9 "query-entry-point indirection") is
// modeled by SupportedVersion plus Lookup's minVersion rather than a separate
// entry-point function, since Go interfaces don't need one: the registry
// just calls SupportedVersion and refuses to instantiate below the
// caller's minimum.
type Module interface {
	// Name is the module's registration name, e.g. "omfwd", "omkafka".
	Name() string

	// SupportedVersion returns the highest vtable interface version this
	// module implements.
	SupportedVersion() int

	// NewInstance instantiates the module with per-action parameters
	// (spec "new_instance(params) → module_state").
	NewInstance(params map[string]interface{}) (InstanceState, error)

	// NewWorker creates per-worker state from an instance.
	NewWorker(inst InstanceState) (WorkerState, error)

	// TryResume is called by the retry timer to test reactivation of a
	// SUSPENDED action.
	TryResume(ctx context.Context, w WorkerState) Result

	// DoAction processes one rendered element. rendered's concrete type
	// depends on the Rendering the module declared at registration:
	// []byte for RenderBytes, map[string]interface{} for RenderJSON, or
	// *message.Message for RenderMsg (imported by callers, not by this
	// package, to avoid a dependency cycle with pkg/message's callers).
	DoAction(ctx context.Context, w WorkerState, rendered interface{}) Result

	// BeginTransaction/CommitTransaction bracket a sequence of DoAction
	// calls for modules that opt into batching; modules that don't may
	// implement them as no-ops.
	BeginTransaction(w WorkerState) error
	CommitTransaction(w WorkerState) error

	// FreeWorker/FreeInstance/ModExit release resources in reverse order
	// of acquisition.
	FreeWorker(w WorkerState) error
	FreeInstance(inst InstanceState) error
	ModExit() error

	// Rendering declares how the core should format a Message before
	// calling DoAction.
	Rendering() Rendering
}

// ErrNotFound is returned by Lookup for an unregistered module name.
var ErrNotFound = fmt.Errorf("registry: module not found")

// ErrVersionTooLow is returned by Lookup when the module's highest
// supported version is below the caller's minimum requirement.
var ErrVersionTooLow = fmt.Errorf("registry: module version too low")

// Registry maps a module name to its vtable (spec §4.9 C10).
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module

	coordinator *RedisCoordinator
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithRedisCoordinator enables fleet-wide resume coordination through
// Redis: multiple processes sharing a Registry configuration only let one
// of them call TryResume for a given module name per TTL window, instead of
// every process hammering the same downstream target's health check in
// lockstep. Omit this option for a single-process deployment.
func WithRedisCoordinator(c *RedisCoordinator) Option {
	return func(r *Registry) { r.coordinator = c }
}

// New returns an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{modules: make(map[string]Module)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ClaimResume reports whether the caller should proceed with TryResume for
// moduleName this round. With no coordinator configured it always returns
// true (single-process behavior).
func (r *Registry) ClaimResume(ctx context.Context, moduleName string, ttlSeconds int) (bool, error) {
	if r.coordinator == nil {
		return true, nil
	}
	return r.coordinator.TryClaim(ctx, moduleName, ttlSeconds)
}

// ReleaseResume clears a claim taken by ClaimResume. A no-op without a
// coordinator.
func (r *Registry) ReleaseResume(ctx context.Context, moduleName string) error {
	if r.coordinator == nil {
		return nil
	}
	return r.coordinator.Release(ctx, moduleName)
}

// Register adds a module under its own Name(). Registering the same name
// twice replaces the prior entry, matching config-reload semantics where a
// module implementation may be swapped between activations.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name()] = m
}

// Lookup returns the module registered under name, requiring
// module.SupportedVersion() >= minVersion; it fails with ErrVersionTooLow
// otherwise. This is a floor check, not spec §4.9's literal ceiling-style
// downward negotiation ("highest version ≤ the request") — see
// SPEC_FULL.md's C10 section for why that substitution is safe here.
func (r *Registry) Lookup(name string, minVersion int) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if m.SupportedVersion() < minVersion {
		return nil, fmt.Errorf("%w: %s supports %d, need %d", ErrVersionTooLow, name, m.SupportedVersion(), minVersion)
	}
	return m, nil
}

// Names returns every registered module name, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for n := range r.modules {
		out = append(out, n)
	}
	return out
}
