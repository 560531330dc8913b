package workerpool

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return l
}

type countingRunner struct {
	name  string
	calls int64
	block chan struct{}
}

func (r *countingRunner) Name() string { return r.name }

func (r *countingRunner) RunWorker(ctx context.Context, batchSize int) {
	atomic.AddInt64(&r.calls, 1)
	<-ctx.Done()
}

func TestStartLaunchesWorkersPerAction(t *testing.T) {
	r := &countingRunner{name: "a1"}
	p := New(Config{WorkersPerAction: 3, ShutdownTimeout: time.Second}, testLogger())
	p.Register(r)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.ActiveWorkers("a1") == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(3), atomic.LoadInt64(&r.calls))

	require.NoError(t, p.Stop())
	assert.Equal(t, 0, p.ActiveWorkers("a1"))
}

func TestStopIsIdempotentWithoutStart(t *testing.T) {
	p := New(Config{}, testLogger())
	require.NoError(t, p.Stop())
}
