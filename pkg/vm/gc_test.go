package vm

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Stress mode collects on every allocation, so any value the compiler or
// VM forgets to root is reaped out from under it. These programs cover
// the allocation-heavy paths: interning, concatenation, closure capture,
// class construction and mid-compile collection.

func TestGCStressPrograms(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected []string
	}{
		{
			"ConcatenationChurn",
			`var s = "";
for (var i = 0; i < 50; i = i + 1) { s = s + "x"; }
print s == "xxxxxxxxxx" + "xxxxxxxxxx" + "xxxxxxxxxx" + "xxxxxxxxxx" + "xxxxxxxxxx";`,
			[]string{"true"},
		},
		{
			"ClosuresSurviveCollection",
			`fun make() {
  var i = 0;
  fun inc() { i = i + 1; return i; }
  return inc;
}
var c = make();
print c(); print c(); print c();`,
			[]string{"1", "2", "3"},
		},
		{
			"ClassesAndInstances",
			`class Node {
  init(label) { this.label = label; }
  show() { print this.label; }
}
var nodes = Node("a" + "b");
nodes.show();
Node("c" + "d").show();`,
			[]string{"ab", "cd"},
		},
		{
			"SuperDispatch",
			`class A { say() { print "A"; } }
class B < A { say() { super.say(); print "B"; } }
B().say();`,
			[]string{"A", "B"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, result := interpret(tt.source, WithGCStress())
			require.Equal(t, InterpretOK, result, "stderr: %s", errOut)
			assert.Equal(t, lines(tt.expected...), out)
		})
	}
}

func TestGCStressMatchesNormalRun(t *testing.T) {
	source := `
fun fib(n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); }
var words = "fib" + ":";
for (var i = 0; i < 10; i = i + 1) { words = words + " " + "x"; }
print fib(12);
print words;
`
	plain, _, plainResult := interpret(source)
	stressed, _, stressedResult := interpret(source, WithGCStress())
	require.Equal(t, InterpretOK, plainResult)
	require.Equal(t, InterpretOK, stressedResult)
	assert.Equal(t, plain, stressed)
}

func TestInterningSurvivesCollection(t *testing.T) {
	var out, errOut bytes.Buffer
	machine := New(WithStdout(&out), WithStderr(&errOut), WithGCStress())

	require.Equal(t, InterpretOK, machine.Interpret(`var a = "ab" + "c";`))
	machine.Heap().Collect()

	// the held string and a fresh literal still intern to one object,
	// so identity equality holds across collections
	require.Equal(t, InterpretOK, machine.Interpret(`print a == "abc";`))
	assert.Equal(t, "true\n", out.String())
}

func TestCollectionReclaimsDeadObjects(t *testing.T) {
	var out, errOut bytes.Buffer
	machine := New(WithStdout(&out), WithStderr(&errOut))

	require.Equal(t, InterpretOK, machine.Interpret(`
var keep = "kept";
{
  var dead = "";
  for (var i = 0; i < 100; i = i + 1) { dead = dead + "garbage"; }
}
`))
	before := machine.Heap().BytesAllocated()
	machine.Heap().Collect()
	after := machine.Heap().BytesAllocated()
	assert.LessOrEqual(t, after, before)

	require.Equal(t, InterpretOK, machine.Interpret(`print keep;`))
	assert.Equal(t, "kept\n", out.String())
}

func TestGCLogWritesActivity(t *testing.T) {
	var log bytes.Buffer
	_, _, result := interpret(`var s = "a" + "b"; print s;`, WithGCStress(), WithGCLog(&log))
	require.Equal(t, InterpretOK, result)
	assert.Contains(t, log.String(), "gc begin")
	assert.Contains(t, log.String(), "gc end")
}

func TestManyGlobalsAndCollections(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "var g%d = %d;\n", i, i)
	}
	b.WriteString("print g0 + g99;\n")

	out, errOut, result := interpret(b.String(), WithGCStress())
	require.Equal(t, InterpretOK, result, "stderr: %s", errOut)
	assert.Equal(t, lines("99"), out)
}
