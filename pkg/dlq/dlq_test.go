package dlq

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rsyslog-core/pipeline/pkg/message"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return l
}

func newMsg(t *testing.T, text string) *message.Message {
	t.Helper()
	m := message.Construct()
	require.NoError(t, m.WithField(message.FieldMsg, []byte(text)))
	return m
}

func TestAddWritesJSONLEntry(t *testing.T) {
	dir := t.TempDir()
	q, err := New(Config{Directory: dir}, testLogger())
	require.NoError(t, err)

	q.Add("omkafka", "suspend retries exhausted", newMsg(t, "boom"))
	require.NoError(t, q.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	line := scanner.Text()
	require.Contains(t, line, "omkafka")
	require.Contains(t, line, "suspend retries exhausted")
}

func TestRotateStartsNewSegment(t *testing.T) {
	dir := t.TempDir()
	q, err := New(Config{Directory: dir, MaxFileSize: 1}, testLogger())
	require.NoError(t, err)

	q.Add("a1", "r1", newMsg(t, "one"))
	q.Add("a1", "r2", newMsg(t, "two"))
	require.NoError(t, q.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)
}
