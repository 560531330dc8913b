package vm

import (
	"testing"

	"github.com/rsyslog-core/pipeline/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalBool(t *testing.T, expr string, msg *message.Message) bool {
	t.Helper()
	prog, err := Compile(expr)
	require.NoError(t, err)
	v := New("test-host")
	result, err := v.Exec(prog, msg)
	require.NoError(t, err)
	return result
}

// TestExpressionFilterS2 is spec §8 scenario S2.
func TestExpressionFilterS2(t *testing.T) {
	expr := `$msg contains "ERROR" and $!app == "nginx"`

	cases := []struct {
		msgText string
		app     string
		want    bool
	}{
		{"ERROR 500", "nginx", true},
		{"ERROR 500", "apache", false},
		{"OK 200", "nginx", false},
	}

	for _, c := range cases {
		m := message.Construct()
		require.NoError(t, m.WithField(message.FieldMsg, []byte(c.msgText)))
		require.NoError(t, m.MergeSubtree("$!app", c.app))

		got := evalBool(t, expr, m)
		assert.Equal(t, c.want, got, "msg=%q app=%q", c.msgText, c.app)
	}
}

// TestDoubleNegationIsIdentity verifies spec §8 property 3: !!x == bool(x).
func TestDoubleNegationIsIdentity(t *testing.T) {
	m := message.Construct()
	require.NoError(t, m.WithField(message.FieldMsg, []byte("hello")))

	direct := evalBool(t, `$msg`, m)
	doubleNeg := evalBool(t, `!!$msg`, m)
	assert.Equal(t, direct, doubleNeg)
}

func evalString(t *testing.T, expr string, msg *message.Message) []byte {
	t.Helper()
	prog, err := Compile(expr)
	require.NoError(t, err)
	v := New("test-host")

	// Reuse the numeric result path isn't enough for string results; run
	// the program manually and inspect the top of stack before ToBool
	// coercion would discard type information.
	v.reset()
	for _, instr := range prog {
		require.NoError(t, v.step(instr, msg))
		if instr.Op == OpEND_PROG {
			break
		}
	}
	top, err := v.pop()
	require.NoError(t, err)
	return top.ToString()
}

// TestAdditionCommutative verifies spec §8 property 3: a + b == b + a for
// Numbers.
func TestAdditionCommutative(t *testing.T) {
	m := message.Construct()
	a := evalString(t, `3 + 5`, m)
	b := evalString(t, `5 + 3`, m)
	assert.Equal(t, string(a), string(b))
}

// TestStrlenOfConcat verifies spec §8 property 3:
// strlen(strconcat(a,b)) == strlen(a) + strlen(b).
func TestStrlenOfConcat(t *testing.T) {
	m := message.Construct()
	got := evalString(t, `strlen("foo" & "barbaz")`, m)
	assert.Equal(t, "9", string(got))
}

// TestTolowerIdempotent verifies spec §8 property 3:
// tolower(tolower(s)) == tolower(s).
func TestTolowerIdempotent(t *testing.T) {
	m := message.Construct()
	once := evalString(t, `tolower("MiXeD")`, m)
	twice := evalString(t, `tolower(tolower("MiXeD"))`, m)
	assert.Equal(t, string(once), string(twice))
	assert.Equal(t, "mixed", string(once))
}

func TestFunctionCallArityMismatch(t *testing.T) {
	prog, err := Compile(`strlen("a", "b")`)
	require.NoError(t, err)

	v := New("host")
	m := message.Construct()
	_, err = v.Exec(prog, m)
	require.ErrorIs(t, err, ErrInvalidArgCount)
}

func TestComparisonTotalOrder(t *testing.T) {
	m := message.Construct()
	assert.True(t, evalBool(t, `1 < 2`, m))
	assert.True(t, evalBool(t, `"a" < "b"`, m))
	assert.True(t, evalBool(t, `"abc" == "abc"`, m))
	assert.False(t, evalBool(t, `2 < 1`, m))
}

func TestArithmeticOperatorPrecedence(t *testing.T) {
	m := message.Construct()
	got := evalString(t, `2 + 3 * 4`, m)
	assert.Equal(t, "14", string(got))
}
