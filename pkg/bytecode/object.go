package bytecode

import "unsafe"

// ObjKind discriminates the heap object variants.
type ObjKind uint8

const (
	objString ObjKind = iota
	objFunction
	objNative
	objClosure
	objUpvalue
	objClass
	objInstance
	objBoundMethod
)

// ObjHeader is the common header every heap object embeds as its first
// field. The next pointer chains all live objects into the heap's
// singly-linked all-objects list; marked is the collector's color bit.
//
// Because the header is always at offset zero, a *ObjHeader and a pointer
// to the containing object are the same address, which is what lets a
// Value hold a single word for any object kind.
type ObjHeader struct {
	kind   ObjKind
	marked bool
	next   *ObjHeader
}

// Kind returns the object's variant tag.
func (o *ObjHeader) Kind() ObjKind { return o.kind }

// StringObj is an interned immutable string with its FNV-1a hash
// precomputed at creation.
type StringObj struct {
	ObjHeader
	Str  string
	Hash uint32
}

// NativeFn is the signature of a built-in function: it receives the
// argument count and a slice aliasing the VM stack, and returns the
// result value.
type NativeFn func(argc int, args []Value) Value

// FunctionObj is a compiled function: its chunk plus metadata. It is
// immutable once compilation finishes.
type FunctionObj struct {
	ObjHeader
	Name         *StringObj // nil for the top-level script
	Arity        int
	UpvalueCount int
	Chunk        Chunk
}

// NativeObj wraps a built-in function.
type NativeObj struct {
	ObjHeader
	Function NativeFn
	Name     *StringObj
}

// ClosureObj binds a function to the upvalues captured when the CLOSURE
// instruction executed. The upvalue slice always has exactly
// Function.UpvalueCount entries, all non-nil before the first
// instruction of the function runs.
type ClosureObj struct {
	ObjHeader
	Function *FunctionObj
	Upvalues []*UpvalueObj
}

// UpvalueObj is the cell through which closures share a captured local.
// While open, Location points at the local's VM stack slot and Slot is
// its index; once closed, the value lives inline in Closed and Location
// points at it. NextOpen threads the VM's open-upvalue list, sorted by
// stack slot descending.
type UpvalueObj struct {
	ObjHeader
	Location *Value
	Closed   Value
	Slot     int
	NextOpen *UpvalueObj
}

// Close copies the referent into the cell and redirects Location at it.
func (u *UpvalueObj) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
	u.Slot = -1
}

// ClassObj is a class: a name and its method table.
type ClassObj struct {
	ObjHeader
	Name    *StringObj
	Methods Table
}

// InstanceObj is an instance: its class and a field table.
type InstanceObj struct {
	ObjHeader
	Class  *ClassObj
	Fields Table
}

// BoundMethodObj pairs a receiver with a method closure so the method
// can be passed around as a value.
type BoundMethodObj struct {
	ObjHeader
	Receiver Value
	Method   *ClosureObj
}

// The headers sit at offset zero, so converting between a header pointer
// and its containing object is a pointer reinterpretation.

func (o *ObjHeader) asString() *StringObj   { return (*StringObj)(unsafe.Pointer(o)) }
func (o *ObjHeader) asFunction() *FunctionObj { return (*FunctionObj)(unsafe.Pointer(o)) }
func (o *ObjHeader) asNative() *NativeObj   { return (*NativeObj)(unsafe.Pointer(o)) }
func (o *ObjHeader) asClosure() *ClosureObj { return (*ClosureObj)(unsafe.Pointer(o)) }
func (o *ObjHeader) asUpvalue() *UpvalueObj { return (*UpvalueObj)(unsafe.Pointer(o)) }
func (o *ObjHeader) asClass() *ClassObj     { return (*ClassObj)(unsafe.Pointer(o)) }
func (o *ObjHeader) asInstance() *InstanceObj { return (*InstanceObj)(unsafe.Pointer(o)) }
func (o *ObjHeader) asBoundMethod() *BoundMethodObj {
	return (*BoundMethodObj)(unsafe.Pointer(o))
}

func isObjKind(v Value, kind ObjKind) bool {
	return v.IsObj() && v.AsObj().kind == kind
}

// IsString reports whether the value is a string object.
func IsString(v Value) bool { return isObjKind(v, objString) }

// IsFunction reports whether the value is a bare function object.
func IsFunction(v Value) bool { return isObjKind(v, objFunction) }

// IsNative reports whether the value is a native function object.
func IsNative(v Value) bool { return isObjKind(v, objNative) }

// IsClosure reports whether the value is a closure object.
func IsClosure(v Value) bool { return isObjKind(v, objClosure) }

// IsClass reports whether the value is a class object.
func IsClass(v Value) bool { return isObjKind(v, objClass) }

// IsInstance reports whether the value is an instance object.
func IsInstance(v Value) bool { return isObjKind(v, objInstance) }

// IsBoundMethod reports whether the value is a bound method object.
func IsBoundMethod(v Value) bool { return isObjKind(v, objBoundMethod) }

// AsString unwraps a string object value.
func AsString(v Value) *StringObj { return v.AsObj().asString() }

// AsFunction unwraps a function object value.
func AsFunction(v Value) *FunctionObj { return v.AsObj().asFunction() }

// AsNative unwraps a native object value.
func AsNative(v Value) *NativeObj { return v.AsObj().asNative() }

// AsClosure unwraps a closure object value.
func AsClosure(v Value) *ClosureObj { return v.AsObj().asClosure() }

// AsClass unwraps a class object value.
func AsClass(v Value) *ClassObj { return v.AsObj().asClass() }

// AsInstance unwraps an instance object value.
func AsInstance(v Value) *InstanceObj { return v.AsObj().asInstance() }

// AsBoundMethod unwraps a bound method object value.
func AsBoundMethod(v Value) *BoundMethodObj { return v.AsObj().asBoundMethod() }
