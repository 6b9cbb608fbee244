package vm

import "io"

// Option configures a VM at construction time.
type Option func(vm *VM)

// WithStdout redirects program output (print) to w.
func WithStdout(w io.Writer) Option {
	return func(vm *VM) { vm.stdout = w }
}

// WithStderr redirects diagnostics to w.
func WithStderr(w io.Writer) Option {
	return func(vm *VM) { vm.stderr = w }
}

// WithTrace dumps the stack and each instruction to the diagnostic
// writer as it executes.
func WithTrace() Option {
	return func(vm *VM) { vm.trace = true }
}

// WithGCStress makes every allocation run a full collection, surfacing
// missing-root bugs immediately.
func WithGCStress() Option {
	return func(vm *VM) { vm.heap.SetStress(true) }
}

// WithGCLog writes collector activity to w.
func WithGCLog(w io.Writer) Option {
	return func(vm *VM) { vm.heap.SetLog(w) }
}
