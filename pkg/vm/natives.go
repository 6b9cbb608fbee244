package vm

import (
	"time"

	"github.com/kristofer/glox/pkg/bytecode"
)

// defineNatives installs the built-in functions into the global table.
func (vm *VM) defineNatives() {
	start := time.Now()
	vm.defineNative("clock", func(argc int, args []bytecode.Value) bytecode.Value {
		// monotonic within a run: Go durations carry the monotonic clock
		return bytecode.NumberValue(time.Since(start).Seconds())
	})
}

// defineNative interns the name, wraps the function and binds it as a
// global. Both objects are parked on the stack so a collection between
// the two allocations cannot reap them.
func (vm *VM) defineNative(name string, fn bytecode.NativeFn) {
	s := vm.heap.NewString(name)
	vm.push(bytecode.ObjValue(&s.ObjHeader))
	native := vm.heap.NewNative(fn, s)
	vm.push(bytecode.ObjValue(&native.ObjHeader))
	vm.globals.Put(s, vm.stack[vm.sp-1])
	vm.pop()
	vm.pop()
}
