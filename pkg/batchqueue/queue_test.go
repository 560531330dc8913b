package batchqueue

import (
	"context"
	"testing"
	"time"

	"github.com/rsyslog-core/pipeline/pkg/message"
	"github.com/stretchr/testify/require"
)

func newMsg(t *testing.T, tag string) *message.Message {
	t.Helper()
	m := message.Construct()
	require.NoError(t, m.WithField(message.FieldTag, []byte(tag)))
	return m
}

func tagOf(m *message.Message) string {
	v, _ := m.Field(message.FieldTag)
	return string(v)
}

// TestSuspendResumeOrderingS3 reproduces spec §8 scenario S3: m1 is nacked
// with requeue three times (SUSPENDED), then commits; m2..m5 must still be
// delivered afterwards in original order, with no duplication beyond the
// three observed retries of m1.
func TestSuspendResumeOrderingS3(t *testing.T) {
	q, err := New(Config{HighWaterMark: 16, Linger: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx := context.Background()
	for _, tag := range []string{"m1", "m2", "m3", "m4", "m5"} {
		require.NoError(t, q.Enqueue(ctx, newMsg(t, tag)))
	}

	var delivered []string
	for i := 0; i < 3; i++ {
		b, err := q.Dequeue(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, 1, b.Len())
		delivered = append(delivered, tagOf(b.Messages[0]))
		b.SetState(0, StateRDY)
		q.Complete(b, true) // SUSPENDED: requeue at head
	}

	for {
		b, err := q.Dequeue(ctx, 1)
		require.NoError(t, err)
		tag := tagOf(b.Messages[0])
		delivered = append(delivered, tag)
		b.SetState(0, StateCommitted)
		q.Complete(b, false)
		if tag == "m5" {
			break
		}
	}

	require.Equal(t, []string{"m1", "m1", "m1", "m1", "m2", "m3", "m4", "m5"}, delivered)
}

// TestBlockingEnqueueUnblocksOnDequeue is spec §8 property 4: a producer
// blocked above the high-water mark is released once a consumer drains an
// element, without losing or duplicating any message.
func TestBlockingEnqueueUnblocksOnDequeue(t *testing.T) {
	q, err := New(Config{HighWaterMark: 1, Linger: time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newMsg(t, "a")))

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Enqueue(ctx, newMsg(t, "b"))
	}()

	select {
	case <-blocked:
		t.Fatal("enqueue should have blocked above high-water mark")
	case <-time.After(30 * time.Millisecond):
	}

	b, err := q.Dequeue(ctx, 1)
	require.NoError(t, err)
	b.SetState(0, StateCommitted)
	q.Complete(b, false)

	select {
	case err := <-blocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue never unblocked")
	}
	require.Equal(t, 1, q.Len())
}

// TestShutdownDrainsThenRejects is spec §8 property 5/6: once shut down, a
// queue delivers everything already admitted, then reports ErrShutdown.
func TestShutdownDrainsThenRejects(t *testing.T) {
	q, err := New(Config{HighWaterMark: 16, Linger: time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newMsg(t, "x")))
	require.NoError(t, q.Enqueue(ctx, newMsg(t, "y")))

	q.Shutdown(0)

	require.ErrorIs(t, q.Enqueue(ctx, newMsg(t, "z")), ErrShutdown)

	b, err := q.Dequeue(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, 2, b.Len())

	_, err = q.Dequeue(ctx, 8)
	require.ErrorIs(t, err, ErrShutdown)
}

type fakeSpool struct {
	spilled []*message.Message
}

func (f *fakeSpool) Spill(m *message.Message) error { f.spilled = append(f.spilled, m); return nil }
func (f *fakeSpool) Drain() ([]*message.Message, error) {
	out := f.spilled
	f.spilled = nil
	return out, nil
}
func (f *fakeSpool) Len() int { return len(f.spilled) }

// TestShutdownImmediateSpillsRemainder is spec §8 property 6: the union of
// committed and spooled messages across a clean shutdown covers every
// admitted message exactly once.
func TestShutdownImmediateSpillsRemainder(t *testing.T) {
	spool := &fakeSpool{}
	q, err := New(Config{HighWaterMark: 16, Linger: time.Millisecond, Spool: spool})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newMsg(t, "a")))
	require.NoError(t, q.Enqueue(ctx, newMsg(t, "b")))

	q.ShutdownImmediate()

	require.Equal(t, 0, q.Len())
	require.Equal(t, 2, spool.Len())
}
