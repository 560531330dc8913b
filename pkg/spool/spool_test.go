package spool

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rsyslog-core/pipeline/pkg/message"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestSpillDrainRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{BaseDir: dir}, testLogger())
	require.NoError(t, err)

	m1 := message.Construct()
	require.NoError(t, m1.WithField(message.FieldTag, []byte("one")))
	m2 := message.Construct()
	require.NoError(t, m2.WithField(message.FieldTag, []byte("two")))

	require.NoError(t, s.Spill(m1))
	require.NoError(t, s.Spill(m2))

	out, err := s.Drain()
	require.NoError(t, err)
	require.Len(t, out, 2)

	tag1, _ := out[0].Field(message.FieldTag)
	tag2, _ := out[1].Field(message.FieldTag)
	require.Equal(t, "one", string(tag1))
	require.Equal(t, "two", string(tag2))

	// A second drain with nothing new spilled returns empty, not the same
	// records again.
	out2, err := s.Drain()
	require.NoError(t, err)
	require.Empty(t, out2)
}

func TestCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{BaseDir: dir, Compressed: true}, testLogger())
	require.NoError(t, err)

	m := message.Construct()
	require.NoError(t, m.WithField(message.FieldMsg, []byte("hello spool")))
	require.NoError(t, s.Spill(m))

	out, err := s.Drain()
	require.NoError(t, err)
	require.Len(t, out, 1)
	v, _ := out[0].Field(message.FieldMsg)
	require.Equal(t, "hello spool", string(v))
}

func TestRecoveryAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	s1, err := New(Config{BaseDir: dir}, testLogger())
	require.NoError(t, err)

	m := message.Construct()
	require.NoError(t, m.WithField(message.FieldTag, []byte("persisted")))
	require.NoError(t, s1.Spill(m))
	require.NoError(t, s1.Close())

	s2, err := New(Config{BaseDir: dir}, testLogger())
	require.NoError(t, err)
	out, err := s2.Drain()
	require.NoError(t, err)
	require.Len(t, out, 1)
	tag, _ := out[0].Field(message.FieldTag)
	require.Equal(t, "persisted", string(tag))
}
