package action

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rsyslog-core/pipeline/pkg/batchqueue"
	"github.com/rsyslog-core/pipeline/pkg/circuit"
	"github.com/rsyslog-core/pipeline/pkg/message"
	"github.com/rsyslog-core/pipeline/pkg/registry"
)

type scriptedModule struct {
	mu      sync.Mutex
	results []registry.Result // consumed in order, repeats last once exhausted
	calls   int
	resume  registry.Result
}

func (m *scriptedModule) Name() string             { return "scripted" }
func (m *scriptedModule) SupportedVersion() int     { return 1 }
func (m *scriptedModule) Rendering() registry.Rendering { return registry.RenderBytes }

func (m *scriptedModule) NewInstance(map[string]interface{}) (registry.InstanceState, error) {
	return struct{}{}, nil
}
func (m *scriptedModule) NewWorker(registry.InstanceState) (registry.WorkerState, error) {
	return struct{}{}, nil
}
func (m *scriptedModule) TryResume(ctx context.Context, w registry.WorkerState) registry.Result {
	return m.resume
}
func (m *scriptedModule) DoAction(ctx context.Context, w registry.WorkerState, rendered interface{}) registry.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	if idx >= len(m.results) {
		idx = len(m.results) - 1
	}
	m.calls++
	return m.results[idx]
}
func (m *scriptedModule) BeginTransaction(registry.WorkerState) error  { return nil }
func (m *scriptedModule) CommitTransaction(registry.WorkerState) error { return nil }
func (m *scriptedModule) FreeWorker(registry.WorkerState) error        { return nil }
func (m *scriptedModule) FreeInstance(registry.InstanceState) error    { return nil }
func (m *scriptedModule) ModExit() error                               { return nil }

func newTestAction(t *testing.T, mod *scriptedModule) *Action {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	a, err := New(Config{
		Name:             "test-action",
		Module:           mod,
		Queue:            batchQueueConfig(),
		Breaker:          circuit.Config{BaseDelay: 5 * time.Millisecond, MaxAttempts: 5},
		ResumeCheckEvery: time.Millisecond,
	}, logger)
	require.NoError(t, err)
	return a
}

func batchQueueConfig() batchqueue.Config {
	return batchqueue.Config{HighWaterMark: 16, Linger: time.Millisecond}
}

func TestActionCommitsOnOK(t *testing.T) {
	mod := &scriptedModule{results: []registry.Result{registry.ResultOK}}
	a := newTestAction(t, mod)

	m := message.Construct()
	require.NoError(t, m.WithField(message.FieldMsg, []byte("hello")))
	require.NoError(t, a.Submit(m))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go a.RunWorker(ctx, 1)

	require.Eventually(t, func() bool { return mod.calls >= 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, StateRDY, a.State())
}

func TestActionSuspendsOnSuspendResult(t *testing.T) {
	mod := &scriptedModule{results: []registry.Result{registry.ResultSuspend}, resume: registry.ResultOK}
	a := newTestAction(t, mod)

	m := message.Construct()
	require.NoError(t, m.WithField(message.FieldMsg, []byte("hello")))
	require.NoError(t, a.Submit(m))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go a.RunWorker(ctx, 1)

	require.Eventually(t, func() bool { return a.State() == StateSuspended }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.State() == StateRDY }, time.Second, 5*time.Millisecond)
}

func TestActionDisablesAfterRetryCapCrossed(t *testing.T) {
	mod := &scriptedModule{results: []registry.Result{registry.ResultSuspend}, resume: registry.ResultSuspend}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	a, err := New(Config{
		Name:    "capped",
		Module:  mod,
		Queue:   batchQueueConfig(),
		Breaker: circuit.Config{BaseDelay: time.Millisecond, MaxAttempts: 2},
	}, logger)
	require.NoError(t, err)

	m := message.Construct()
	require.NoError(t, a.Submit(m))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go a.RunWorker(ctx, 1)

	require.Eventually(t, func() bool { return a.State() == StateDisabled }, 2*time.Second, 5*time.Millisecond)
}
