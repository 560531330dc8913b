package filter

import (
	"fmt"
	"testing"

	"github.com/rsyslog-core/pipeline/pkg/message"
	"github.com/rsyslog-core/pipeline/pkg/propresolver"
	"github.com/rsyslog-core/pipeline/pkg/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMsg(t *testing.T, facility, severity int) *message.Message {
	t.Helper()
	m := message.Construct()
	require.NoError(t, m.WithField(message.FieldFacility, []byte(fmt.Sprint(facility))))
	require.NoError(t, m.WithField(message.FieldSeverity, []byte(fmt.Sprint(severity))))
	return m
}

// TestBitmapExhaustive verifies spec §8 property 2 across all 192
// (facility, severity) combinations.
func TestBitmapExhaustive(t *testing.T) {
	var bm Bitmap
	bm[3] = 1 << 2 // facility 3, severity 2 only

	for fac := 0; fac < 24; fac++ {
		for sev := 0; sev < 8; sev++ {
			want := bm[fac]&(1<<uint(sev)) != 0
			got := bm.Matches(fac, sev)
			assert.Equal(t, want, got, "facility=%d severity=%d", fac, sev)
		}
	}
}

// TestPRIFilterS1 is spec §8 scenario S1.
func TestPRIFilterS1(t *testing.T) {
	var bm Bitmap
	for sev := 0; sev <= 4; sev++ {
		bm[1] |= 1 << uint(sev)
	}
	f := &Filter{Kind: KindBitmap, Bitmap: bm, ActionNames: []string{"action-A"}}
	v := vm.New("host")

	inputs := []struct{ facility, severity int }{
		{1, 3}, {1, 5}, {2, 3},
	}
	var matched []int
	for i, in := range inputs {
		m := newMsg(t, in.facility, in.severity)
		ok, err := f.Evaluate(m, v)
		require.NoError(t, err)
		if ok {
			matched = append(matched, i)
		}
	}
	assert.Equal(t, []int{0}, matched, "exactly the first message should match")
}

// TestRegexCorrectness is spec §8 property 9.
func TestRegexCorrectness(t *testing.T) {
	d, err := propresolver.Parse("msg")
	require.NoError(t, err)

	pc := PropCmp{Property: d, Op: OpRegex, Value: []byte("^foo")}
	require.NoError(t, pc.Compile())
	f := &Filter{Kind: KindPropCmp, PropCmp: pc}
	v := vm.New("host")

	m1 := message.Construct()
	require.NoError(t, m1.WithField(message.FieldMsg, []byte("foobar")))
	ok, err := f.Evaluate(m1, v)
	require.NoError(t, err)
	assert.True(t, ok)

	m2 := message.Construct()
	require.NoError(t, m2.WithField(message.FieldMsg, []byte("barfoo")))
	ok, err = f.Evaluate(m2, v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestERegexCorrectness(t *testing.T) {
	d, err := propresolver.Parse("msg")
	require.NoError(t, err)

	pc := PropCmp{Property: d, Op: OpERegex, Value: []byte("(a|b)+")}
	require.NoError(t, pc.Compile())
	f := &Filter{Kind: KindPropCmp, PropCmp: pc}
	v := vm.New("host")

	m := message.Construct()
	require.NoError(t, m.WithField(message.FieldMsg, []byte("ab")))
	ok, err := f.Evaluate(m, v)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHostnameAndProgramNamePreFilters(t *testing.T) {
	f := &Filter{
		Kind:              KindBitmap,
		Bitmap:            Bitmap{0: TableAllPri},
		HostnameFilter:    &Comparator{Literal: "web1"},
		ProgramNameFilter: &Comparator{Literal: "sshd", Negate: true},
	}
	v := vm.New("host")

	m := newMsg(t, 0, 0)
	require.NoError(t, m.WithField(message.FieldHostname, []byte("web1")))
	require.NoError(t, m.WithField(message.FieldTag, []byte("sshd[99]")))

	ok, err := f.Evaluate(m, v)
	require.NoError(t, err)
	assert.False(t, ok, "program-name negate-match should skip")
}
