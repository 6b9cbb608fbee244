// Package vm implements the bytecode virtual machine for glox.
//
// The VM is a stack-based interpreter. One fixed operand stack is shared
// by every call frame: a frame owns the window starting at its base slot,
// where slot 0 holds the callee (or the receiver, for methods). Closures
// reach enclosing locals through upvalues; upvalues stay "open" —
// pointing into the stack — while the local is live, and are closed into
// their own storage when it leaves the stack.
//
// The VM owns the heap and registers itself as a root source: its stack,
// call frames, global table, open upvalues and the interned "init" string
// are what keep objects alive across collections.
package vm

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/kristofer/glox/pkg/bytecode"
	"github.com/kristofer/glox/pkg/compiler"
)

// FramesMax bounds call depth; StackMax is the operand stack size, 256
// slots per potential frame.
const (
	FramesMax = 64
	StackMax  = FramesMax * 256
)

// InterpretResult is the outcome of one Interpret call.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// CallFrame is one active function invocation: the closure being run,
// the program counter into its chunk and the frame's base slot on the
// operand stack.
type CallFrame struct {
	closure *bytecode.ClosureObj
	pc      int
	base    int
}

// VM is the interpreter. It is strictly single-threaded; one VM runs one
// program at a time, though globals persist across Interpret calls so a
// REPL can reuse it.
type VM struct {
	heap *bytecode.Heap

	stack [StackMax]bytecode.Value
	sp    int

	frames     [FramesMax]CallFrame
	frameCount int

	globals    bytecode.Table
	initString *bytecode.StringObj

	// dummy head of the open-upvalue list, sorted by stack slot
	// descending
	openHead bytecode.UpvalueObj

	stdout io.Writer
	stderr io.Writer
	trace  bool
}

// New creates a VM with its own heap and the native functions bound.
func New(opts ...Option) *VM {
	vm := &VM{
		heap:   bytecode.NewHeap(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.heap.AddRootSource(vm)
	vm.initString = vm.heap.NewString("init")
	vm.defineNatives()
	return vm
}

// Heap exposes the VM's heap, for forcing a collection or reading the
// heap's accounting from outside the VM.
func (vm *VM) Heap() *bytecode.Heap {
	return vm.heap
}

// Interpret compiles and runs source to completion.
func (vm *VM) Interpret(source string) InterpretResult {
	fn, err := compiler.Compile(source, vm.heap, vm.stderr)
	if err != nil {
		return InterpretCompileError
	}

	// anchor the script function on the stack while its closure is built
	vm.push(bytecode.ObjValue(&fn.ObjHeader))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(bytecode.ObjValue(&closure.ObjHeader))
	vm.call(closure, 0)

	return vm.run()
}

// MarkRoots marks everything the VM can reach: the operand stack, each
// frame's closure, the open upvalues, the globals and the "init" string.
func (vm *VM) MarkRoots(h *bytecode.Heap) {
	for i := 0; i < vm.sp; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(&vm.frames[i].closure.ObjHeader)
	}
	for u := vm.openHead.NextOpen; u != nil; u = u.NextOpen {
		h.MarkObject(&u.ObjHeader)
	}
	h.MarkTable(&vm.globals)
	if vm.initString != nil {
		h.MarkObject(&vm.initString.ObjHeader)
	}
}

// ----- stack -----

func (vm *VM) push(v bytecode.Value) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() bytecode.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) bytecode.Value {
	return vm.stack[vm.sp-1-distance]
}

func (vm *VM) resetStack() {
	vm.sp = 0
	vm.frameCount = 0
	vm.openHead.NextOpen = nil
}

// ----- decoding -----

func (vm *VM) readByte(frame *CallFrame) byte {
	b := frame.closure.Function.Chunk.Code[frame.pc]
	frame.pc++
	return b
}

func (vm *VM) readShort(frame *CallFrame) int {
	code := frame.closure.Function.Chunk.Code
	lo := int(code[frame.pc])
	hi := int(code[frame.pc+1])
	frame.pc += 2
	return lo | hi<<8
}

func (vm *VM) readOperand(frame *CallFrame, wide bool) int {
	if wide {
		return vm.readShort(frame)
	}
	return int(vm.readByte(frame))
}

func (vm *VM) readConstant(frame *CallFrame, wide bool) bytecode.Value {
	return frame.closure.Function.Chunk.Constants[vm.readOperand(frame, wide)]
}

func (vm *VM) readString(frame *CallFrame, wide bool) *bytecode.StringObj {
	return bytecode.AsString(vm.readConstant(frame, wide))
}

// ----- the interpreter loop -----

func (vm *VM) run() InterpretResult {
	frame := &vm.frames[vm.frameCount-1]

	for {
		if frame.pc >= len(frame.closure.Function.Chunk.Code) {
			return vm.runtimeError("running out of file")
		}
		if vm.trace {
			fmt.Fprintf(vm.stderr, "stack: %s\n", bytecode.FormatValues(vm.stack[:vm.sp]))
			bytecode.DisassembleInstruction(vm.stderr, &frame.closure.Function.Chunk, frame.pc)
		}

		op := bytecode.OpCode(vm.readByte(frame))
		switch op {
		case bytecode.OpConstant, bytecode.OpConstant16:
			vm.push(vm.readConstant(frame, op == bytecode.OpConstant16))

		case bytecode.OpNil:
			vm.push(bytecode.NilValue())
		case bytecode.OpTrue:
			vm.push(bytecode.BoolValue(true))
		case bytecode.OpFalse:
			vm.push(bytecode.BoolValue(false))

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal, bytecode.OpGetLocal16:
			slot := vm.readOperand(frame, op == bytecode.OpGetLocal16)
			vm.push(vm.stack[frame.base+slot])

		case bytecode.OpSetLocal, bytecode.OpSetLocal16:
			slot := vm.readOperand(frame, op == bytecode.OpSetLocal16)
			vm.stack[frame.base+slot] = vm.peek(0)

		case bytecode.OpDefineGlobal, bytecode.OpDefineGlobal16:
			name := vm.readString(frame, op == bytecode.OpDefineGlobal16)
			vm.globals.Put(name, vm.peek(0))
			vm.pop()

		case bytecode.OpGetGlobal, bytecode.OpGetGlobal16:
			name := vm.readString(frame, op == bytecode.OpGetGlobal16)
			value, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Str)
			}
			vm.push(value)

		case bytecode.OpSetGlobal, bytecode.OpSetGlobal16:
			name := vm.readString(frame, op == bytecode.OpSetGlobal16)
			if vm.globals.Put(name, vm.peek(0)) {
				// the assignment must not create the variable
				vm.globals.Delete(name)
				return vm.runtimeError("Undefined variable '%s'.", name.Str)
			}

		case bytecode.OpGetUpvalue, bytecode.OpGetUpvalue16:
			idx := vm.readOperand(frame, op == bytecode.OpGetUpvalue16)
			vm.push(*frame.closure.Upvalues[idx].Location)

		case bytecode.OpSetUpvalue, bytecode.OpSetUpvalue16:
			idx := vm.readOperand(frame, op == bytecode.OpSetUpvalue16)
			*frame.closure.Upvalues[idx].Location = vm.peek(0)

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()

		case bytecode.OpGetProperty, bytecode.OpGetProperty16:
			if !bytecode.IsInstance(vm.peek(0)) {
				return vm.runtimeError("Only instances have properties.")
			}
			instance := bytecode.AsInstance(vm.peek(0))
			name := vm.readString(frame, op == bytecode.OpGetProperty16)
			if field, ok := instance.Fields.Get(name); ok {
				vm.pop()
				vm.push(field)
				break
			}
			if result := vm.bindMethod(instance.Class, name); result != InterpretOK {
				return result
			}

		case bytecode.OpSetProperty, bytecode.OpSetProperty16:
			if !bytecode.IsInstance(vm.peek(1)) {
				return vm.runtimeError("Only instances have fields.")
			}
			instance := bytecode.AsInstance(vm.peek(1))
			name := vm.readString(frame, op == bytecode.OpSetProperty16)
			instance.Fields.Put(name, vm.peek(0))
			value := vm.pop()
			vm.pop()
			vm.push(value)

		case bytecode.OpGetSuper, bytecode.OpGetSuper16:
			name := vm.readString(frame, op == bytecode.OpGetSuper16)
			superclass := bytecode.AsClass(vm.pop())
			if result := vm.bindMethod(superclass, name); result != InterpretOK {
				return result
			}

		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("operand for '-' must be a number.")
			}
			vm.push(bytecode.NumberValue(-vm.pop().AsNumber()))

		case bytecode.OpNot:
			vm.push(bytecode.BoolValue(vm.pop().IsFalsy()))

		case bytecode.OpAdd:
			switch {
			case bytecode.IsString(vm.peek(0)) && bytecode.IsString(vm.peek(1)):
				// operands stay on the stack while the result is
				// built: concatenation allocates and may collect
				b := bytecode.AsString(vm.peek(0))
				a := bytecode.AsString(vm.peek(1))
				result := vm.heap.Concat(a, b)
				vm.pop()
				vm.pop()
				vm.push(bytecode.ObjValue(&result.ObjHeader))
			case vm.peek(0).IsNumber() && vm.peek(1).IsNumber():
				b := vm.pop().AsNumber()
				a := vm.pop().AsNumber()
				vm.push(bytecode.NumberValue(a + b))
			default:
				return vm.runtimeError("operands must be two numbers or two strings.")
			}

		case bytecode.OpSubtract:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("operands must be numbers.")
			}
			vm.push(bytecode.NumberValue(a - b))

		case bytecode.OpMultiply:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("operands must be numbers.")
			}
			vm.push(bytecode.NumberValue(a * b))

		case bytecode.OpDivide:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("operands must be numbers.")
			}
			vm.push(bytecode.NumberValue(a / b))

		case bytecode.OpModulo:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("operands must be numbers.")
			}
			// both operands truncate to integers before the remainder
			if int64(b) == 0 {
				return vm.runtimeError("modulo by zero")
			}
			vm.push(bytecode.NumberValue(float64(int64(a) % int64(b))))

		case bytecode.OpPower:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("operands must be numbers.")
			}
			vm.push(bytecode.NumberValue(math.Pow(a, b)))

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(bytecode.BoolValue(a.Equals(b)))

		case bytecode.OpGreater:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("operands must be numbers.")
			}
			vm.push(bytecode.BoolValue(a > b))

		case bytecode.OpLess:
			a, b, ok := vm.numberOperands()
			if !ok {
				return vm.runtimeError("operands must be numbers.")
			}
			vm.push(bytecode.BoolValue(a < b))

		case bytecode.OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop())

		case bytecode.OpJump:
			offset := vm.readShort(frame)
			frame.pc += offset

		case bytecode.OpJumpIfFalse:
			offset := vm.readShort(frame)
			if vm.peek(0).IsFalsy() {
				frame.pc += offset
			}

		case bytecode.OpLoop:
			offset := vm.readShort(frame)
			frame.pc -= offset

		case bytecode.OpCall:
			argc := int(vm.readByte(frame))
			if result := vm.callValue(vm.peek(argc), argc); result != InterpretOK {
				return result
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpInvoke, bytecode.OpInvoke16:
			name := vm.readString(frame, op == bytecode.OpInvoke16)
			argc := int(vm.readByte(frame))
			if result := vm.invoke(name, argc); result != InterpretOK {
				return result
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpInvokeSuper, bytecode.OpInvokeSuper16:
			name := vm.readString(frame, op == bytecode.OpInvokeSuper16)
			argc := int(vm.readByte(frame))
			superclass := bytecode.AsClass(vm.pop())
			if result := vm.invokeFromClass(superclass, name, argc); result != InterpretOK {
				return result
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClosure, bytecode.OpClosure16:
			fn := bytecode.AsFunction(vm.readConstant(frame, op == bytecode.OpClosure16))
			closure := vm.heap.NewClosure(fn)
			// the closure goes on the stack before its upvalues are
			// captured; capturing allocates
			vm.push(bytecode.ObjValue(&closure.ObjHeader))
			for i := range closure.Upvalues {
				isLocal := vm.readByte(frame)
				index := vm.readShort(frame)
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.base + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case bytecode.OpClass, bytecode.OpClass16:
			name := vm.readString(frame, op == bytecode.OpClass16)
			class := vm.heap.NewClass(name)
			vm.push(bytecode.ObjValue(&class.ObjHeader))

		case bytecode.OpInherit:
			if !bytecode.IsClass(vm.peek(1)) {
				return vm.runtimeError("Superclass must be a class.")
			}
			superclass := bytecode.AsClass(vm.peek(1))
			subclass := bytecode.AsClass(vm.peek(0))
			subclass.Methods.PutAll(&superclass.Methods)
			vm.pop()

		case bytecode.OpMethod, bytecode.OpMethod16:
			name := vm.readString(frame, op == bytecode.OpMethod16)
			class := bytecode.AsClass(vm.peek(1))
			class.Methods.Put(name, vm.peek(0))
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.base)
			vm.frameCount--
			if vm.frameCount == 0 {
				// pop the script closure itself
				vm.pop()
				return InterpretOK
			}
			vm.sp = frame.base
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		default:
			return vm.runtimeError("unknown opcode %d", op)
		}
	}
}

// numberOperands pops two numeric operands, failing without popping if
// either is not a number.
func (vm *VM) numberOperands() (a, b float64, ok bool) {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return 0, 0, false
	}
	b = vm.pop().AsNumber()
	a = vm.pop().AsNumber()
	return a, b, true
}

// ----- calls -----

// callValue dispatches a CALL on whatever sits beneath the arguments.
func (vm *VM) callValue(callee bytecode.Value, argc int) InterpretResult {
	switch {
	case bytecode.IsClosure(callee):
		return vm.call(bytecode.AsClosure(callee), argc)

	case bytecode.IsClass(callee):
		class := bytecode.AsClass(callee)
		instance := vm.heap.NewInstance(class)
		// the class in the callee slot becomes the receiver
		vm.stack[vm.sp-argc-1] = bytecode.ObjValue(&instance.ObjHeader)
		if init, ok := class.Methods.Get(vm.initString); ok {
			return vm.call(bytecode.AsClosure(init), argc)
		}
		if argc != 0 {
			return vm.runtimeError("expected 0 arguments but got %d", argc)
		}
		return InterpretOK

	case bytecode.IsBoundMethod(callee):
		bound := bytecode.AsBoundMethod(callee)
		vm.stack[vm.sp-argc-1] = bound.Receiver
		return vm.call(bound.Method, argc)

	case bytecode.IsNative(callee):
		native := bytecode.AsNative(callee)
		result := native.Function(argc, vm.stack[vm.sp-argc:vm.sp])
		vm.sp -= argc + 1
		vm.push(result)
		return InterpretOK

	default:
		return vm.runtimeError("can only call functions and classes")
	}
}

// call pushes a frame for the closure; the callee already sits below the
// arguments at what becomes the frame's base.
func (vm *VM) call(closure *bytecode.ClosureObj, argc int) InterpretResult {
	if argc != closure.Function.Arity {
		return vm.runtimeError("expected %d arguments but got %d", closure.Function.Arity, argc)
	}
	if vm.frameCount == FramesMax {
		return vm.runtimeError("stack overflow")
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.pc = 0
	frame.base = vm.sp - argc - 1
	return InterpretOK
}

// invoke is the fused property-access-then-call fast path: a field
// holding a callable is called like any value, a method closure is
// entered directly without materializing a bound method.
func (vm *VM) invoke(name *bytecode.StringObj, argc int) InterpretResult {
	receiver := vm.peek(argc)
	if !bytecode.IsInstance(receiver) {
		return vm.runtimeError("Only instances have methods.")
	}
	instance := bytecode.AsInstance(receiver)

	if field, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.sp-argc-1] = field
		return vm.callValue(field, argc)
	}
	return vm.invokeFromClass(instance.Class, name, argc)
}

func (vm *VM) invokeFromClass(class *bytecode.ClassObj, name *bytecode.StringObj, argc int) InterpretResult {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name.Str)
	}
	return vm.call(bytecode.AsClosure(method), argc)
}

// bindMethod replaces the instance on top of the stack with a bound
// method pairing it with the named method of class.
func (vm *VM) bindMethod(class *bytecode.ClassObj, name *bytecode.StringObj) InterpretResult {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name.Str)
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), bytecode.AsClosure(method))
	vm.pop()
	vm.push(bytecode.ObjValue(&bound.ObjHeader))
	return InterpretOK
}

// ----- upvalues -----

// captureUpvalue returns the open upvalue for a stack slot, creating and
// splicing it into the sorted open list if the slot is not captured yet.
func (vm *VM) captureUpvalue(slot int) *bytecode.UpvalueObj {
	prev := &vm.openHead
	for prev.NextOpen != nil && prev.NextOpen.Slot > slot {
		prev = prev.NextOpen
	}
	if prev.NextOpen != nil && prev.NextOpen.Slot == slot {
		return prev.NextOpen
	}
	upvalue := vm.heap.NewUpvalue(&vm.stack[slot], slot)
	upvalue.NextOpen = prev.NextOpen
	prev.NextOpen = upvalue
	return upvalue
}

// closeUpvalues closes every open upvalue at or above the threshold
// slot, copying the stack value into the upvalue's own storage.
func (vm *VM) closeUpvalues(threshold int) {
	for vm.openHead.NextOpen != nil && vm.openHead.NextOpen.Slot >= threshold {
		upvalue := vm.openHead.NextOpen
		vm.openHead.NextOpen = upvalue.NextOpen
		upvalue.NextOpen = nil
		upvalue.Close()
	}
}

// ----- diagnostics -----

// runtimeError reports a runtime failure with a backtrace, innermost
// frame first, then resets the stacks.
func (vm *VM) runtimeError(format string, args ...interface{}) InterpretResult {
	rerr := &RuntimeError{Message: fmt.Sprintf(format, args...)}
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		offset := frame.pc - 1
		if offset < 0 {
			offset = 0
		}
		if offset >= len(fn.Chunk.Code) {
			offset = len(fn.Chunk.Code) - 1
		}
		name := "script"
		if fn.Name != nil {
			name = fn.Name.Str
		}
		rerr.Trace = append(rerr.Trace, TraceFrame{
			Line:     fn.Chunk.Lines[offset],
			Column:   fn.Chunk.Columns[offset],
			Function: name,
		})
	}
	fmt.Fprintln(vm.stderr, rerr.Error())
	vm.resetStack()
	return InterpretRuntimeError
}
