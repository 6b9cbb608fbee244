package bytecode

import (
	"fmt"
	"strings"
)

// IsFalsy reports whether the value is falsy: nil and false are falsy,
// everything else (including 0 and the empty string) is truthy.
func (v Value) IsFalsy() bool {
	return v.IsNil() || (v.IsBool() && !v.AsBool())
}

// String formats the value the way print does: true/false/nil, %g for
// numbers, raw bytes for strings, and angle-bracket forms for the other
// object kinds.
func (v Value) String() string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsBool():
		if v.AsBool() {
			return "true"
		}
		return "false"
	case v.IsNumber():
		return fmt.Sprintf("%g", v.AsNumber())
	case v.IsObj():
		return v.AsObj().debugString()
	default:
		return "unknown"
	}
}

func (o *ObjHeader) debugString() string {
	switch o.kind {
	case objString:
		return o.asString().Str
	case objFunction:
		return functionName(o.asFunction())
	case objNative:
		return fmt.Sprintf("<native %s>", o.asNative().Name.Str)
	case objClosure:
		return functionName(o.asClosure().Function)
	case objUpvalue:
		return "upvalue"
	case objClass:
		return fmt.Sprintf("<class %s>", o.asClass().Name.Str)
	case objInstance:
		return fmt.Sprintf("<instance of %s>", o.asInstance().Class.Name.Str)
	case objBoundMethod:
		return functionName(o.asBoundMethod().Method.Function)
	default:
		return "unknown"
	}
}

func functionName(fn *FunctionObj) string {
	if fn.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", fn.Name.Str)
}

// hashString computes the 32-bit FNV-1a hash of the byte sequence.
func hashString(s string) uint32 {
	const (
		fnvOffsetBasis uint32 = 0x811c9dc5
		fnvPrime       uint32 = 0x01000193
	)
	hash := fnvOffsetBasis
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= fnvPrime
	}
	return hash
}

// FormatValues renders a slice of values for diagnostics.
func FormatValues(values []Value) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(v.String())
	}
	b.WriteByte(']')
	return b.String()
}
