// Package app is the top-level wiring layer: it turns an
// internal/config.Config into live pkg/registry, pkg/ruleset, and
// pkg/action objects, registers every configured Action with the Worker
// Pool (C8), and exposes Start/Stop lifecycle methods, mirroring the
// teacher's internal/app.Application composition root.
package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rsyslog-core/pipeline/internal/config"
	"github.com/rsyslog-core/pipeline/internal/telemetry"
	"github.com/rsyslog-core/pipeline/pkg/action"
	"github.com/rsyslog-core/pipeline/pkg/batchqueue"
	"github.com/rsyslog-core/pipeline/pkg/circuit"
	"github.com/rsyslog-core/pipeline/pkg/dlq"
	"github.com/rsyslog-core/pipeline/pkg/filter"
	"github.com/rsyslog-core/pipeline/pkg/message"
	"github.com/rsyslog-core/pipeline/pkg/modules/kafkamod"
	"github.com/rsyslog-core/pipeline/pkg/modules/omfwdmod"
	"github.com/rsyslog-core/pipeline/pkg/propresolver"
	"github.com/rsyslog-core/pipeline/pkg/registry"
	"github.com/rsyslog-core/pipeline/pkg/ruleset"
	"github.com/rsyslog-core/pipeline/pkg/spool"
	"github.com/rsyslog-core/pipeline/pkg/template"
	"github.com/rsyslog-core/pipeline/pkg/vm"
	"github.com/rsyslog-core/pipeline/pkg/workerpool"
)

// facilityNames and severityNames resolve the symbolic names a bitmap
// filter's YAML may use, per spec §3's facility/severity enumeration. "*"
// matches every value in the corresponding dimension.
var facilityNames = map[string]int{
	"kern": 0, "user": 1, "mail": 2, "daemon": 3, "auth": 4, "syslog": 5,
	"lpr": 6, "news": 7, "uucp": 8, "cron": 9, "authpriv": 10, "ftp": 11,
	"local0": 16, "local1": 17, "local2": 18, "local3": 19,
	"local4": 20, "local5": 21, "local6": 22, "local7": 23,
}

var severityNames = map[string]int{
	"emerg": 0, "alert": 1, "crit": 2, "err": 3,
	"warning": 4, "notice": 5, "info": 6, "debug": 7,
}

// App owns every live component built from a config.Config: the module
// registry, every configured Action, every configured Ruleset, the shared
// Worker Pool, and the optional dead-letter sink and tracer.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger

	registry  *registry.Registry
	pool      *workerpool.Pool
	telemetry *telemetry.Manager
	deadLetter *dlq.Queue

	actions  map[string]*action.Action
	rulesets []*ruleset.Ruleset

	vmPool sync.Pool // per-worker *vm.VM, spec §4.3/§5 "each worker owns its own VM"

	cancel context.CancelFunc
}

// New builds every component named by cfg but does not start any worker
// goroutines; call Start for that.
func New(cfg *config.Config, logger *logrus.Logger, tm *telemetry.Manager) (*App, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		registry:  registry.New(),
		telemetry: tm,
		actions:   make(map[string]*action.Action),
	}
	a.vmPool.New = func() interface{} { return vm.New(hostname()) }

	registerBuiltinModules(a.registry, logger)

	if err := a.buildDeadLetter(); err != nil {
		return nil, err
	}
	if err := a.buildActions(); err != nil {
		return nil, err
	}
	if err := a.buildRulesets(); err != nil {
		return nil, err
	}

	a.pool = workerpool.New(workerpool.Config{
		WorkersPerAction: cfg.Workers.PerAction,
		BatchSize:        cfg.Workers.BatchSize,
		ShutdownTimeout:  cfg.Workers.ShutdownTimeout,
	}, logger)
	for name, act := range a.actions {
		a.pool.Register(runnerFor(name, act))
	}

	return a, nil
}

// registerBuiltinModules registers every output module this build ships
// with; a config referencing an unregistered module name fails at
// buildActions time via registry.ErrNotFound.
func registerBuiltinModules(r *registry.Registry, logger *logrus.Logger) {
	r.Register(omfwdmod.New(logger))
	r.Register(kafkamod.New(logger))
}

func (a *App) buildDeadLetter() error {
	// Dead-lettering is process-wide, not per-action: every action shares
	// one rotating JSON-lines sink in a "dlq" subdirectory of the first
	// configured action's spool directory, falling back to "./dlq" when no
	// action configures a spool at all.
	dir := "./dlq"
	for _, ac := range a.cfg.Actions {
		if ac.Queue.SpoolDir != "" {
			dir = ac.Queue.SpoolDir + "/dlq"
			break
		}
	}
	q, err := dlq.New(dlq.Config{Directory: dir}, a.logger)
	if err != nil {
		return fmt.Errorf("app: build dead letter queue: %w", err)
	}
	a.deadLetter = q
	return nil
}

func (a *App) buildActions() error {
	for _, ac := range a.cfg.Actions {
		mod, err := a.registry.Lookup(ac.Module, 1)
		if err != nil {
			return fmt.Errorf("app: action %s: %w", ac.Name, err)
		}

		var tpl *template.Template
		if ac.Template != "" {
			tpl, err = template.Compile(ac.Template)
			if err != nil {
				return fmt.Errorf("app: action %s: compile template: %w", ac.Name, err)
			}
		}

		var spiller batchqueue.Spiller
		if ac.Queue.SpoolDir != "" {
			sp, err := spool.New(spool.Config{BaseDir: ac.Queue.SpoolDir, Compressed: true}, a.logger)
			if err != nil {
				return fmt.Errorf("app: action %s: build spool: %w", ac.Name, err)
			}
			spiller = sp
		}

		act, err := action.New(action.Config{
			Name:         ac.Name,
			Module:       mod,
			ModuleParams: withName(ac.Params, ac.Name),
			Template:     tpl,
			Queue: batchqueue.Config{
				HighWaterMark: ac.Queue.HighWaterMark,
				Linger:        ac.Queue.Linger,
				Spool:         spiller,
			},
			Breaker: circuit.Config{
				BaseDelay:     ac.Breaker.BaseDelay,
				MaxDelay:      ac.Breaker.MaxDelay,
				JitterPercent: ac.Breaker.JitterPercent,
				MaxAttempts:   ac.Breaker.MaxAttempts,
			},
			ResumeCheckEvery: ac.ResumeCheckEvery,
			DeadLetter:       a.deadLetter,
			Registry:         a.registry,
			Telemetry:        a.telemetry,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("app: action %s: %w", ac.Name, err)
		}
		a.actions[ac.Name] = act
	}
	return nil
}

// withName injects the action's configured name into its module params
// under "name", so a module (e.g. omfwdmod) can label its own metrics
// without internal/config needing to know about that convention.
func withName(params map[string]interface{}, name string) map[string]interface{} {
	out := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["name"] = name
	return out
}

func (a *App) buildRulesets() error {
	for _, rc := range a.cfg.Rulesets {
		sinks := make(map[string]ruleset.ActionSink, len(a.actions))
		for name, act := range a.actions {
			sinks[name] = act
		}

		rs := ruleset.New(rc.Name, sinks)
		for _, fc := range rc.Filters {
			f, err := buildFilter(fc)
			if err != nil {
				return fmt.Errorf("app: ruleset %s: %w", rc.Name, err)
			}
			rs.Filters = append(rs.Filters, f)
		}
		a.rulesets = append(a.rulesets, rs)
	}
	return nil
}

func buildFilter(fc config.FilterConfig) (*filter.Filter, error) {
	f := &filter.Filter{ActionNames: fc.Actions}

	if fc.Hostname != nil {
		f.HostnameFilter = &filter.Comparator{Literal: fc.Hostname.Literal, Negate: fc.Hostname.Negate}
	}
	if fc.ProgramName != nil {
		f.ProgramNameFilter = &filter.Comparator{Literal: fc.ProgramName.Literal, Negate: fc.ProgramName.Negate}
	}

	switch fc.Kind {
	case "bitmap":
		f.Kind = filter.KindBitmap
		bm, err := buildBitmap(fc.Bitmap)
		if err != nil {
			return nil, err
		}
		f.Bitmap = bm

	case "propcmp":
		f.Kind = filter.KindPropCmp
		desc, err := propresolver.Parse(fc.PropCmp.Property)
		if err != nil {
			return nil, fmt.Errorf("propcmp property: %w", err)
		}
		op, err := parseOp(fc.PropCmp.Op)
		if err != nil {
			return nil, err
		}
		f.PropCmp = filter.PropCmp{
			Property: desc,
			Op:       op,
			Value:    []byte(fc.PropCmp.Value),
			Negate:   fc.PropCmp.Negate,
		}
		if err := f.PropCmp.Compile(); err != nil {
			return nil, err
		}

	case "expression":
		f.Kind = filter.KindExpression
		prog, err := vm.Compile(fc.Expression)
		if err != nil {
			return nil, fmt.Errorf("expression: %w", err)
		}
		f.Program = prog

	default:
		return nil, fmt.Errorf("unknown filter kind %q", fc.Kind)
	}

	return f, nil
}

func buildBitmap(spec map[string][]string) (filter.Bitmap, error) {
	var bm filter.Bitmap
	for facName, severities := range spec {
		facs, err := resolveFacilities(facName)
		if err != nil {
			return bm, err
		}
		mask, err := resolveSeverityMask(severities)
		if err != nil {
			return bm, err
		}
		for _, fac := range facs {
			bm[fac] |= mask
		}
	}
	return bm, nil
}

func resolveFacilities(name string) ([]int, error) {
	if name == "*" {
		out := make([]int, 24)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	if fac, ok := facilityNames[strings.ToLower(name)]; ok {
		return []int{fac}, nil
	}
	if n, err := strconv.Atoi(name); err == nil && n >= 0 && n < 24 {
		return []int{n}, nil
	}
	return nil, fmt.Errorf("unknown facility %q", name)
}

func resolveSeverityMask(severities []string) (byte, error) {
	var mask byte
	for _, s := range severities {
		if s == "*" {
			return filter.TableAllPri, nil
		}
		if sev, ok := severityNames[strings.ToLower(s)]; ok {
			mask |= 1 << uint(sev)
			continue
		}
		if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 7 {
			mask |= 1 << uint(n)
			continue
		}
		return 0, fmt.Errorf("unknown severity %q", s)
	}
	return mask, nil
}

func parseOp(s string) (filter.Op, error) {
	switch strings.ToLower(s) {
	case "contains":
		return filter.OpContains, nil
	case "isequal":
		return filter.OpIsEqual, nil
	case "isempty":
		return filter.OpIsEmpty, nil
	case "startswith":
		return filter.OpStartsWith, nil
	case "regex":
		return filter.OpRegex, nil
	case "eregex":
		return filter.OpERegex, nil
	default:
		return 0, fmt.Errorf("unknown propcmp op %q", s)
	}
}

// runnerFor adapts one Action to workerpool.Runner.
func runnerFor(name string, act *action.Action) workerpool.Runner {
	return &actionRunner{name: name, act: act}
}

type actionRunner struct {
	name string
	act  *action.Action
}

func (r *actionRunner) Name() string { return r.name }
func (r *actionRunner) RunWorker(ctx context.Context, batchSize int) {
	r.act.RunWorker(ctx, batchSize)
}

// ProcessMessage runs m through every configured Ruleset, borrowing one VM
// from the per-worker pool for the duration of the call (spec §4.3/§5 "each
// worker owns its own VM instance"). The caller's own reference to m is
// untouched; ProcessMessage only adds the references Ruleset.ProcessOne
// takes on successful matches.
func (a *App) ProcessMessage(m *message.Message) error {
	var span *telemetry.Span
	if a.telemetry != nil {
		_, span = a.telemetry.Start(context.Background(), "ruleset.process_one")
		span.SetAttribute("message.id", m.ID.String())
	}

	v := a.VM()
	defer a.PutVM(v)

	var firstErr error
	for _, rs := range a.rulesets {
		if _, err := rs.ProcessOne(m, v); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if span != nil {
		span.SetError(firstErr)
		span.End()
	}
	return firstErr
}

// Start launches the Worker Pool; each registered Action's RunWorker loop
// begins draining its Batch Queue.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	return a.pool.Start(runCtx)
}

// Stop stops the Worker Pool, closes every Action (halting its resume
// timer and releasing its module instance), and flushes the dead-letter
// sink.
func (a *App) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	var firstErr error
	if a.pool != nil {
		if err := a.pool.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, act := range a.actions {
		if err := act.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.deadLetter != nil {
		if err := a.deadLetter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Rulesets exposes the built Rulesets for the input side (a syslog
// listener, not yet wired here) to submit Messages against.
func (a *App) Rulesets() []*ruleset.Ruleset { return a.rulesets }

// VM borrows a per-worker Expression VM instance from the pool; callers
// must return it via PutVM when done.
func (a *App) VM() *vm.VM { return a.vmPool.Get().(*vm.VM) }

// PutVM returns a VM instance borrowed via VM.
func (a *App) PutVM(v *vm.VM) { a.vmPool.Put(v) }

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
