package ruleset

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsyslog-core/pipeline/pkg/filter"
	"github.com/rsyslog-core/pipeline/pkg/message"
	"github.com/rsyslog-core/pipeline/pkg/vm"
)

type recordingSink struct {
	received []*message.Message
	err      error
}

func (s *recordingSink) Submit(m *message.Message) error {
	if s.err != nil {
		return s.err
	}
	s.received = append(s.received, m)
	return nil
}

func newMsg(t *testing.T, facility, severity int) *message.Message {
	t.Helper()
	m := message.Construct()
	require.NoError(t, m.WithField(message.FieldFacility, []byte(fmt.Sprintf("%d", facility))))
	require.NoError(t, m.WithField(message.FieldSeverity, []byte(fmt.Sprintf("%d", severity))))
	return m
}

func TestProcessOneSubmitsToEveryMatchingFilterAction(t *testing.T) {
	var bm filter.Bitmap
	bm[1] = filter.TableAllPri

	f := &filter.Filter{Kind: filter.KindBitmap, Bitmap: bm, ActionNames: []string{"a", "b"}}
	sinkA := &recordingSink{}
	sinkB := &recordingSink{}

	rs := New("rs1", map[string]ActionSink{"a": sinkA, "b": sinkB})
	rs.Filters = []*filter.Filter{f}

	m := newMsg(t, 1, 3)
	matched, err := rs.ProcessOne(m, vm.New("host"))
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Len(t, sinkA.received, 1)
	assert.Len(t, sinkB.received, 1)
	assert.EqualValues(t, 3, m.RefCount())
}

func TestProcessOneDoesNotShortCircuitOnNonMatch(t *testing.T) {
	var empty filter.Bitmap
	noMatch := &filter.Filter{Kind: filter.KindBitmap, Bitmap: empty, ActionNames: []string{"a"}}

	var all filter.Bitmap
	all[2] = filter.TableAllPri
	doesMatch := &filter.Filter{Kind: filter.KindBitmap, Bitmap: all, ActionNames: []string{"b"}}

	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	rs := New("rs1", map[string]ActionSink{"a": sinkA, "b": sinkB})
	rs.Filters = []*filter.Filter{noMatch, doesMatch}

	m := newMsg(t, 2, 5)
	matched, err := rs.ProcessOne(m, vm.New("host"))
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Empty(t, sinkA.received)
	assert.Len(t, sinkB.received, 1)
}

func TestProcessOneReleasesRefOnSubmitError(t *testing.T) {
	var bm filter.Bitmap
	bm[1] = filter.TableAllPri
	f := &filter.Filter{Kind: filter.KindBitmap, Bitmap: bm, ActionNames: []string{"a"}}

	sink := &recordingSink{err: fmt.Errorf("queue full")}
	rs := New("rs1", map[string]ActionSink{"a": sink})
	rs.Filters = []*filter.Filter{f}

	m := newMsg(t, 1, 0)
	_, err := rs.ProcessOne(m, vm.New("host"))
	assert.Error(t, err)
	assert.EqualValues(t, 1, m.RefCount())
}

func TestProcessBatchRunsEveryMessage(t *testing.T) {
	var bm filter.Bitmap
	bm[4] = filter.TableAllPri
	f := &filter.Filter{Kind: filter.KindBitmap, Bitmap: bm, ActionNames: []string{"a"}}

	sink := &recordingSink{}
	rs := New("rs1", map[string]ActionSink{"a": sink})
	rs.Filters = []*filter.Filter{f}

	batch := Batch{newMsg(t, 4, 1), newMsg(t, 4, 2), newMsg(t, 4, 3)}
	err := rs.ProcessBatch(batch, vm.New("host"))
	require.NoError(t, err)
	assert.Len(t, sink.received, 3)
}
