// Package bytecode defines the value representation, heap object model,
// bytecode chunks and instruction set for glox, together with the
// open-addressed hash table and the mark-sweep garbage collector that
// manages the object heap.
//
// The pieces live in one package because they are one data model: a
// FunctionObj owns a Chunk, a Chunk's constant pool holds Values, a Value
// may point at any heap object, and classes and instances hold Tables
// keyed by interned strings. The compiler writes this representation; the
// VM executes it; the collector walks all of it as a single graph.
package bytecode

// OpCode is a single-byte bytecode instruction operation.
//
// Instructions that address the constant pool come in two widths: the
// plain form takes a 1-byte operand, the 16 form a 2-byte little-endian
// operand for pools that outgrow 255 entries.
type OpCode byte

const (
	// OpConstant pushes constants[operand] onto the stack.
	OpConstant OpCode = iota
	OpConstant16

	// Literal pushes.
	OpNil
	OpTrue
	OpFalse

	// OpPop discards the top of the stack.
	OpPop

	// Local slots, relative to the current call frame's base.
	OpGetLocal
	OpGetLocal16
	OpSetLocal
	OpSetLocal16

	// Globals, addressed by interned name in the constant pool.
	OpDefineGlobal
	OpDefineGlobal16
	OpGetGlobal
	OpGetGlobal16
	OpSetGlobal
	OpSetGlobal16

	// Upvalues, addressed by index into the current closure.
	OpGetUpvalue
	OpGetUpvalue16
	OpSetUpvalue
	OpSetUpvalue16

	// OpCloseUpvalue closes upvalues at or above the top stack slot,
	// then pops it.
	OpCloseUpvalue

	// Instance fields and bound methods.
	OpGetProperty
	OpGetProperty16
	OpSetProperty
	OpSetProperty16
	OpGetSuper
	OpGetSuper16

	// Unary operators.
	OpNegate
	OpNot

	// Binary operators.
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpModulo
	OpPower
	OpEqual
	OpGreater
	OpLess

	// OpPrint writes the top of the stack to program output.
	OpPrint

	// Control flow. Jump operands are 2-byte little-endian unsigned
	// offsets; OpLoop jumps backward.
	OpJump
	OpJumpIfFalse
	OpLoop

	// Calls and method dispatch.
	OpCall
	OpInvoke
	OpInvoke16
	OpInvokeSuper
	OpInvokeSuper16

	// OpClosure builds a closure for constants[operand], followed by
	// one {isLocal byte, index uint16} pair per upvalue.
	OpClosure
	OpClosure16

	// Classes.
	OpClass
	OpClass16
	OpInherit
	OpMethod
	OpMethod16

	// OpReturn pops the return value, closes the frame's upvalues and
	// pops the frame.
	OpReturn
)

// String returns the disassembler mnemonic for the opcode.
func (op OpCode) String() string {
	switch op {
	case OpConstant:
		return "CONSTANT"
	case OpConstant16:
		return "CONSTANT_16"
	case OpNil:
		return "NIL"
	case OpTrue:
		return "TRUE"
	case OpFalse:
		return "FALSE"
	case OpPop:
		return "POP"
	case OpGetLocal:
		return "GET_LOCAL"
	case OpGetLocal16:
		return "GET_LOCAL_16"
	case OpSetLocal:
		return "SET_LOCAL"
	case OpSetLocal16:
		return "SET_LOCAL_16"
	case OpDefineGlobal:
		return "DEFINE_GLOBAL"
	case OpDefineGlobal16:
		return "DEFINE_GLOBAL_16"
	case OpGetGlobal:
		return "GET_GLOBAL"
	case OpGetGlobal16:
		return "GET_GLOBAL_16"
	case OpSetGlobal:
		return "SET_GLOBAL"
	case OpSetGlobal16:
		return "SET_GLOBAL_16"
	case OpGetUpvalue:
		return "GET_UPVALUE"
	case OpGetUpvalue16:
		return "GET_UPVALUE_16"
	case OpSetUpvalue:
		return "SET_UPVALUE"
	case OpSetUpvalue16:
		return "SET_UPVALUE_16"
	case OpCloseUpvalue:
		return "CLOSE_UPVALUE"
	case OpGetProperty:
		return "GET_PROPERTY"
	case OpGetProperty16:
		return "GET_PROPERTY_16"
	case OpSetProperty:
		return "SET_PROPERTY"
	case OpSetProperty16:
		return "SET_PROPERTY_16"
	case OpGetSuper:
		return "GET_SUPER"
	case OpGetSuper16:
		return "GET_SUPER_16"
	case OpNegate:
		return "NEGATE"
	case OpNot:
		return "NOT"
	case OpAdd:
		return "ADD"
	case OpSubtract:
		return "SUBTRACT"
	case OpMultiply:
		return "MULTIPLY"
	case OpDivide:
		return "DIVIDE"
	case OpModulo:
		return "MODULO"
	case OpPower:
		return "POWER"
	case OpEqual:
		return "EQUAL"
	case OpGreater:
		return "GREATER"
	case OpLess:
		return "LESS"
	case OpPrint:
		return "PRINT"
	case OpJump:
		return "JUMP"
	case OpJumpIfFalse:
		return "JUMP_IF_FALSE"
	case OpLoop:
		return "LOOP"
	case OpCall:
		return "CALL"
	case OpInvoke:
		return "INVOKE"
	case OpInvoke16:
		return "INVOKE_16"
	case OpInvokeSuper:
		return "INVOKE_SUPER"
	case OpInvokeSuper16:
		return "INVOKE_SUPER_16"
	case OpClosure:
		return "CLOSURE"
	case OpClosure16:
		return "CLOSURE_16"
	case OpClass:
		return "CLASS"
	case OpClass16:
		return "CLASS_16"
	case OpInherit:
		return "INHERIT"
	case OpMethod:
		return "METHOD"
	case OpMethod16:
		return "METHOD_16"
	case OpReturn:
		return "RETURN"
	default:
		return "UNKNOWN"
	}
}
