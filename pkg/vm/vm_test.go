package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// interpret runs source on a fresh VM and returns stdout, stderr and the
// result.
func interpret(source string, opts ...Option) (string, string, InterpretResult) {
	var out, errOut bytes.Buffer
	opts = append(opts, WithStdout(&out), WithStderr(&errOut))
	machine := New(opts...)
	result := machine.Interpret(source)
	return out.String(), errOut.String(), result
}

// lines joins expected output lines with trailing newline.
func lines(ls ...string) string {
	if len(ls) == 0 {
		return ""
	}
	return strings.Join(ls, "\n") + "\n"
}

func TestExpressions(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{"Arithmetic", "print 1 + 2 * 3;", "7"},
		{"Grouping", "print (1 + 2) * 3;", "9"},
		{"Negate", "print -(3 + 4);", "-7"},
		{"Division", "print 10 / 4;", "2.5"},
		{"Modulo", "print 10 % 3;", "1"},
		{"ModuloTruncates", "print 7.9 % 2.9;", "1"},
		{"Power", "print 2 ** 10;", "1024"},
		{"PowerRightAssociative", "print 2 ** 3 ** 2;", "512"},
		{"PowerBindsTighterThanUnary", "print -2 ** 2;", "-4"},
		{"Not", "print !true;", "false"},
		{"NotNil", "print !nil;", "true"},
		{"ZeroIsTruthy", "print !0;", "false"},
		{"Comparison", "print 1 < 2;", "true"},
		{"GreaterEqual", "print 2 >= 2;", "true"},
		{"Equality", "print 1 == 1;", "true"},
		{"NotEqual", "print 1 != 2;", "true"},
		{"NilEquality", "print nil == nil;", "true"},
		{"MixedEquality", "print 1 == \"1\";", "false"},
		{"StringConcat", `print "foo" + "bar";`, "foobar"},
		{"NumberFormat", "print 2.5 + 0.25;", "2.75"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, result := interpret(tt.source)
			require.Equal(t, InterpretOK, result, "stderr: %s", errOut)
			assert.Equal(t, lines(tt.expected), out)
		})
	}
}

func TestShortCircuit(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{"AndFalse", "print false and 1;", "false"},
		{"AndTrue", "print true and 1;", "1"},
		{"OrTrue", "print 1 or 2;", "1"},
		{"OrFalse", "print false or 2;", "2"},
		{"XorTrueFalse", "print true xor false;", "true"},
		{"XorTrueTrue", "print true xor true;", "false"},
		{"XorFalseFalse", "print false xor false;", "false"},
		// xor tests the right operand for truthiness and yields the
		// left value (or its negation), not a pure boolean
		{"XorTruthyRight", "print 1 xor 2;", "false"},
		{"XorFalsyRight", "print 1 xor nil;", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, result := interpret(tt.source)
			require.Equal(t, InterpretOK, result, "stderr: %s", errOut)
			assert.Equal(t, lines(tt.expected), out)
		})
	}
}

func TestGlobalsAndLocals(t *testing.T) {
	out, _, result := interpret(`
var g = "global";
{
  var l = "local";
  print l;
  print g;
}
print g;
`)
	require.Equal(t, InterpretOK, result)
	assert.Equal(t, lines("local", "global", "global"), out)
}

func TestCompoundAssignment(t *testing.T) {
	out, _, result := interpret(`
var x = 10;
x += 5; print x;
x -= 3; print x;
x *= 2; print x;
x /= 4; print x;
x %= 4; print x;
`)
	require.Equal(t, InterpretOK, result)
	assert.Equal(t, lines("15", "12", "24", "6", "2"), out)
}

func TestIncrementDecrement(t *testing.T) {
	out, _, result := interpret(`
var i = 0;
print i++;
print i;
print ++i;
print i--;
print --i;
`)
	require.Equal(t, InterpretOK, result)
	assert.Equal(t, lines("0", "1", "2", "2", "0"), out)
}

func TestControlFlow(t *testing.T) {
	t.Run("IfElse", func(t *testing.T) {
		out, _, result := interpret(`
if (1 < 2) print "then"; else print "else";
if (1 > 2) print "then"; else print "else";
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("then", "else"), out)
	})

	t.Run("While", func(t *testing.T) {
		out, _, result := interpret(`
var i = 0;
while (i < 3) { print i; i = i + 1; }
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("0", "1", "2"), out)
	})

	t.Run("ForSum", func(t *testing.T) {
		out, _, result := interpret(`
var s = 0;
for (var i = 1; i <= 5; i = i + 1) s = s + i;
print s;
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("15"), out)
	})

	t.Run("ForWithoutInitializer", func(t *testing.T) {
		out, _, result := interpret(`
var i = 0;
var s = 0;
for (; i < 4; i = i + 1) s = s + i;
print s;
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("6"), out)
	})

	t.Run("ForInsideFunction", func(t *testing.T) {
		out, _, result := interpret(`
fun firstOver(limit) {
  for (var n = 1;; n = n * 2) {
    if (n > limit) return n;
  }
}
print firstOver(100);
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("128"), out)
	})
}

func TestFunctions(t *testing.T) {
	t.Run("CallAndReturn", func(t *testing.T) {
		out, _, result := interpret(`
fun add(a, b) { return a + b; }
print add(1, 2);
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("3"), out)
	})

	t.Run("ImplicitNilReturn", func(t *testing.T) {
		out, _, result := interpret(`
fun noop() { }
print noop();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("nil"), out)
	})

	t.Run("Recursion", func(t *testing.T) {
		out, _, result := interpret(`
fun fib(n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); }
print fib(10);
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("55"), out)
	})

	t.Run("PrintFunctionValue", func(t *testing.T) {
		out, _, result := interpret(`
fun f() { }
print f;
print clock;
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("<fn f>", "<native clock>"), out)
	})
}

func TestClosures(t *testing.T) {
	t.Run("CounterSharesUpvalue", func(t *testing.T) {
		out, _, result := interpret(`
fun make() {
  var i = 0;
  fun inc() { i = i + 1; return i; }
  return inc;
}
var c = make();
print c(); print c(); print c();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("1", "2", "3"), out)
	})

	t.Run("TwoClosuresShareOneCell", func(t *testing.T) {
		out, _, result := interpret(`
fun make() {
  var shared = 0;
  fun setter(v) { shared = v; }
  fun getter() { return shared; }
  setter(42);
  print getter();
  return getter;
}
var g = make();
print g();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("42", "42"), out)
	})

	t.Run("ClosesOverBlockScope", func(t *testing.T) {
		out, _, result := interpret(`
var f;
{
  var captured = "before";
  fun show() { print captured; }
  f = show;
  captured = "after";
}
f();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("after"), out)
	})

	t.Run("NestedCapture", func(t *testing.T) {
		out, _, result := interpret(`
fun outer() {
  var x = "outer";
  fun middle() {
    fun inner() { print x; }
    return inner;
  }
  return middle();
}
outer()();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("outer"), out)
	})
}

func TestClasses(t *testing.T) {
	t.Run("FieldsAndMethods", func(t *testing.T) {
		out, _, result := interpret(`
class Counter {
  init() { this.n = 0; }
  bump() { this.n = this.n + 1; return this.n; }
}
var c = Counter();
c.bump(); c.bump();
print c.bump();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("3"), out)
	})

	t.Run("InitializerReturnsInstance", func(t *testing.T) {
		out, _, result := interpret(`
class T { init() { this.x = 42; } }
var t = T();
print t.x;
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("42"), out)
	})

	t.Run("ExplicitInitCallReturnsInstance", func(t *testing.T) {
		out, _, result := interpret(`
class T { init() { } }
var x = T();
print x == x.init();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("true"), out)
	})

	t.Run("BoundMethodCarriesReceiver", func(t *testing.T) {
		out, _, result := interpret(`
class Speaker {
  init(word) { this.word = word; }
  say() { print this.word; }
}
var hi = Speaker("hi").say;
hi();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("hi"), out)
	})

	t.Run("FieldHoldingFunctionIsCallable", func(t *testing.T) {
		out, _, result := interpret(`
fun shout() { print "loud"; }
class Box { }
var b = Box();
b.handler = shout;
b.handler();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("loud"), out)
	})

	t.Run("InstancePrinting", func(t *testing.T) {
		out, _, result := interpret(`
class Point { }
print Point;
print Point();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("<class Point>", "<instance of Point>"), out)
	})
}

func TestInheritance(t *testing.T) {
	t.Run("SuperCall", func(t *testing.T) {
		out, _, result := interpret(`
class A { say() { print "A"; } }
class B < A { say() { super.say(); print "B"; } }
B().say();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("A", "B"), out)
	})

	t.Run("InheritedMethod", func(t *testing.T) {
		out, _, result := interpret(`
class A { greet() { print "hello"; } }
class B < A { }
B().greet();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("hello"), out)
	})

	t.Run("InheritedInitializer", func(t *testing.T) {
		out, _, result := interpret(`
class A { init(v) { this.v = v; } }
class B < A { }
print B(7).v;
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("7"), out)
	})

	t.Run("SuperInClosure", func(t *testing.T) {
		out, _, result := interpret(`
class A { m() { print "A.m"; } }
class B < A {
  m() {
    fun call() { super.m(); }
    call();
  }
}
B().m();
`)
		require.Equal(t, InterpretOK, result)
		assert.Equal(t, lines("A.m"), out)
	})
}

func TestStringInterningIdentity(t *testing.T) {
	out, _, result := interpret(`print "ab" + "c" == "abc";`)
	require.Equal(t, InterpretOK, result)
	assert.Equal(t, lines("true"), out)
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		message string
	}{
		{"AddMismatch", `print 1 + "x";`, "operands must be two numbers or two strings."},
		{"SubtractMismatch", `print "a" - 1;`, "operands must be numbers."},
		{"CompareMismatch", `print "a" < "b";`, "operands must be numbers."},
		{"NegateNonNumber", "print -nil;", "operand for '-' must be a number."},
		{"UndefinedGlobal", "print missing;", "Undefined variable 'missing'."},
		{"AssignUndefined", "missing = 1;", "Undefined variable 'missing'."},
		{"NotCallable", "var x = 1; x();", "can only call functions and classes"},
		{"WrongArity", "fun f(a, b) { } f(1);", "expected 2 arguments but got 1"},
		{"ClassArity", "class T { } T(1);", "expected 0 arguments but got 1"},
		{"ModuloByZero", "print 1 % 0;", "modulo by zero"},
		{"PropertyOnNumber", "var x = 1; print x.y;", "Only instances have properties."},
		{"FieldOnNumber", "var x = 1; x.y = 2;", "Only instances have fields."},
		{"MethodOnNumber", "var x = 1; x.y();", "Only instances have methods."},
		{"UndefinedProperty", "class T { } print T().missing;", "Undefined property 'missing'."},
		{"UndefinedMethod", "class T { } T().missing();", "Undefined property 'missing'."},
		{"BadSuperclass", "var NotAClass = 1; class B < NotAClass { }", "Superclass must be a class."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errOut, result := interpret(tt.source)
			assert.Equal(t, InterpretRuntimeError, result)
			assert.Contains(t, errOut, tt.message)
			assert.Contains(t, errOut, "in script")
		})
	}
}

func TestRuntimeErrorBacktrace(t *testing.T) {
	_, errOut, result := interpret(`
fun inner() { return 1 + nil; }
fun outer() { return inner(); }
outer();
`)
	require.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errOut, "operands must be two numbers or two strings.")

	// innermost frame first
	innerAt := strings.Index(errOut, "in inner")
	outerAt := strings.Index(errOut, "in outer")
	scriptAt := strings.Index(errOut, "in script")
	require.True(t, innerAt >= 0 && outerAt >= 0 && scriptAt >= 0, "trace: %s", errOut)
	assert.Less(t, innerAt, outerAt)
	assert.Less(t, outerAt, scriptAt)
	assert.Contains(t, errOut, "[line")
	assert.Contains(t, errOut, "column")
}

func TestStackOverflow(t *testing.T) {
	_, errOut, result := interpret(`
fun grow() { grow(); }
grow();
`)
	assert.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errOut, "stack overflow")
}

func TestDivisionByZeroFollowsIEEE(t *testing.T) {
	out, _, result := interpret(`
print 1 / 0;
print -1 / 0;
print 0 / 0 == 0 / 0;
`)
	require.Equal(t, InterpretOK, result)
	assert.Equal(t, lines("+Inf", "-Inf", "false"), out)
}

func TestClockIsMonotonic(t *testing.T) {
	out, _, result := interpret(`
var a = clock();
var b = clock();
print b >= a;
print a >= 0;
`)
	require.Equal(t, InterpretOK, result)
	assert.Equal(t, lines("true", "true"), out)
}

func TestGlobalsPersistAcrossInterprets(t *testing.T) {
	var out, errOut bytes.Buffer
	machine := New(WithStdout(&out), WithStderr(&errOut))

	require.Equal(t, InterpretOK, machine.Interpret("var x = 40;"))
	require.Equal(t, InterpretOK, machine.Interpret("x = x + 2;"))
	require.Equal(t, InterpretOK, machine.Interpret("print x;"))
	assert.Equal(t, lines("42"), out.String())
}

func TestVMRecoversAfterRuntimeError(t *testing.T) {
	var out, errOut bytes.Buffer
	machine := New(WithStdout(&out), WithStderr(&errOut))

	require.Equal(t, InterpretRuntimeError, machine.Interpret("print 1 + nil;"))
	require.Equal(t, InterpretOK, machine.Interpret("print 1 + 1;"))
	assert.Equal(t, lines("2"), out.String())
}
