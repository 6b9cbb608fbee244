package bytecode

import (
	"fmt"
	"io"
	"unsafe"
)

// RootSource is anything that owns GC roots. The VM registers one for
// its stack, frames, globals and open upvalues; the compiler registers
// one for the functions along its resolver chain, which are not yet
// reachable from anywhere else.
type RootSource interface {
	MarkRoots(h *Heap)
}

// initialGCThreshold is the heap size that triggers the first
// collection.
const initialGCThreshold = 1 << 20

// Heap owns every object the interpreter allocates. Objects are chained
// into a dummy-headed list at creation and destroyed only by the sweep
// phase of the mark-sweep collector; there is no explicit free.
type Heap struct {
	objects ObjHeader // dummy head of the all-objects list
	strings Table     // string intern table; keys are weak

	temp []Value // anchors values across multi-step allocations
	gray []*ObjHeader

	bytesAllocated int
	nextGC         int

	roots []RootSource

	stress bool
	logw   io.Writer
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{nextGC: initialGCThreshold}
}

// SetStress makes every allocation trigger a collection. Debug aid.
func (h *Heap) SetStress(on bool) { h.stress = on }

// SetLog enables collection logging on w; nil disables it.
func (h *Heap) SetLog(w io.Writer) { h.logw = w }

// AddRootSource registers a root owner with the collector.
func (h *Heap) AddRootSource(r RootSource) {
	h.roots = append(h.roots, r)
}

// RemoveRootSource unregisters a root owner.
func (h *Heap) RemoveRootSource(r RootSource) {
	for i, cur := range h.roots {
		if cur == r {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// PushTemp anchors a value so a collection triggered before the matching
// PopTemp cannot reap it.
func (h *Heap) PushTemp(v Value) {
	h.temp = append(h.temp, v)
}

// PopTemp releases the most recently anchored value.
func (h *Heap) PopTemp() {
	h.temp = h.temp[:len(h.temp)-1]
}

// BytesAllocated returns the tracked heap size.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// Strings exposes the intern table.
func (h *Heap) Strings() *Table { return &h.strings }

// Objects iterates the all-objects list, calling fn for each live
// object. The collector's sweep walks the list directly and does not
// use this.
func (h *Heap) Objects(fn func(o *ObjHeader)) {
	for cur := h.objects.next; cur != nil; cur = cur.next {
		fn(cur)
	}
}

// track accounts for a new object and links it into the all-objects
// list. The threshold check runs before the object becomes reachable, so
// a collection triggered here cannot free it.
func (h *Heap) track(o *ObjHeader, kind ObjKind, size int) {
	h.bytesAllocated += size
	if h.stress || h.bytesAllocated > h.nextGC {
		h.Collect()
	}
	o.kind = kind
	o.next = h.objects.next
	h.objects.next = o
	if h.logw != nil {
		fmt.Fprintf(h.logw, "%p allocate %d for %d\n", o, size, kind)
	}
}

// NewString returns the interned string object for s, creating and
// interning it if no live string with those bytes exists.
func (h *Heap) NewString(s string) *StringObj {
	hash := hashString(s)
	if interned := h.strings.FindString(s, hash); interned != nil {
		return interned
	}
	obj := &StringObj{Str: s, Hash: hash}
	h.track(&obj.ObjHeader, objString, int(unsafe.Sizeof(StringObj{}))+len(s))
	// keep the fresh string rooted while it goes into the intern table;
	// the table's own growth does not run the collector
	h.PushTemp(ObjValue(&obj.ObjHeader))
	h.strings.Put(obj, NilValue())
	h.PopTemp()
	return obj
}

// Concat returns the interned concatenation of a and b. The caller must
// keep both operands rooted: creating the result may collect.
func (h *Heap) Concat(a, b *StringObj) *StringObj {
	return h.NewString(a.Str + b.Str)
}

// NewFunction returns a blank function object for the compiler to fill.
func (h *Heap) NewFunction() *FunctionObj {
	obj := &FunctionObj{}
	h.track(&obj.ObjHeader, objFunction, int(unsafe.Sizeof(FunctionObj{})))
	return obj
}

// NewNative wraps a built-in function.
func (h *Heap) NewNative(fn NativeFn, name *StringObj) *NativeObj {
	obj := &NativeObj{Function: fn, Name: name}
	h.track(&obj.ObjHeader, objNative, int(unsafe.Sizeof(NativeObj{})))
	return obj
}

// NewClosure builds a closure for fn with an upvalue array of the right
// length. The array is allocated before the closure is linked into the
// heap list, so a collection between the two cannot observe a closure
// without its array.
func (h *Heap) NewClosure(fn *FunctionObj) *ClosureObj {
	upvalues := make([]*UpvalueObj, fn.UpvalueCount)
	obj := &ClosureObj{Function: fn, Upvalues: upvalues}
	size := int(unsafe.Sizeof(ClosureObj{})) +
		fn.UpvalueCount*int(unsafe.Sizeof((*UpvalueObj)(nil)))
	h.track(&obj.ObjHeader, objClosure, size)
	return obj
}

// NewUpvalue creates an open upvalue pointing at the given stack slot.
// Splicing it into the VM's open list is the caller's business.
func (h *Heap) NewUpvalue(location *Value, slot int) *UpvalueObj {
	obj := &UpvalueObj{Location: location, Closed: NilValue(), Slot: slot}
	h.track(&obj.ObjHeader, objUpvalue, int(unsafe.Sizeof(UpvalueObj{})))
	return obj
}

// NewClass creates an empty class.
func (h *Heap) NewClass(name *StringObj) *ClassObj {
	obj := &ClassObj{Name: name}
	h.track(&obj.ObjHeader, objClass, int(unsafe.Sizeof(ClassObj{})))
	return obj
}

// NewInstance creates an instance of class with no fields.
func (h *Heap) NewInstance(class *ClassObj) *InstanceObj {
	obj := &InstanceObj{Class: class}
	h.track(&obj.ObjHeader, objInstance, int(unsafe.Sizeof(InstanceObj{})))
	return obj
}

// NewBoundMethod pairs a receiver with a method closure.
func (h *Heap) NewBoundMethod(receiver Value, method *ClosureObj) *BoundMethodObj {
	obj := &BoundMethodObj{Receiver: receiver, Method: method}
	h.track(&obj.ObjHeader, objBoundMethod, int(unsafe.Sizeof(BoundMethodObj{})))
	return obj
}

// Collect runs one full mark-sweep cycle: mark every root gray, blacken
// the gray worklist, drop unmarked intern-table keys, then sweep the
// all-objects list. The next threshold is twice the surviving heap.
func (h *Heap) Collect() {
	if h.logw != nil {
		fmt.Fprintf(h.logw, "-- gc begin (%d bytes)\n", h.bytesAllocated)
	}

	for _, r := range h.roots {
		r.MarkRoots(h)
	}
	for _, v := range h.temp {
		h.MarkValue(v)
	}

	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}

	h.strings.removeWhite()
	h.sweep()

	h.nextGC = h.bytesAllocated * 2
	if h.logw != nil {
		fmt.Fprintf(h.logw, "-- gc end (%d bytes, next at %d)\n", h.bytesAllocated, h.nextGC)
	}
}

// MarkValue colors the value's object gray if it has one.
func (h *Heap) MarkValue(v Value) {
	if v.IsObj() {
		h.MarkObject(v.AsObj())
	}
}

// MarkObject colors an object gray.
func (h *Heap) MarkObject(o *ObjHeader) {
	if o == nil || o.marked {
		return
	}
	o.marked = true
	h.gray = append(h.gray, o)
}

// MarkTable colors a table's keys and values gray.
func (h *Heap) MarkTable(t *Table) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil {
			h.MarkObject(&entry.Key.ObjHeader)
		}
		h.MarkValue(entry.Value)
	}
}

// blacken marks everything the object references.
func (h *Heap) blacken(o *ObjHeader) {
	if h.logw != nil {
		fmt.Fprintf(h.logw, "%p blacken %s\n", o, o.debugString())
	}
	switch o.kind {
	case objString, objNative:
		// leaves
	case objUpvalue:
		h.MarkValue(o.asUpvalue().Closed)
	case objFunction:
		fn := o.asFunction()
		if fn.Name != nil {
			h.MarkObject(&fn.Name.ObjHeader)
		}
		for _, c := range fn.Chunk.Constants {
			h.MarkValue(c)
		}
	case objClosure:
		closure := o.asClosure()
		h.MarkObject(&closure.Function.ObjHeader)
		for _, upvalue := range closure.Upvalues {
			if upvalue != nil {
				h.MarkObject(&upvalue.ObjHeader)
			}
		}
	case objClass:
		class := o.asClass()
		h.MarkObject(&class.Name.ObjHeader)
		h.MarkTable(&class.Methods)
	case objInstance:
		instance := o.asInstance()
		h.MarkObject(&instance.Class.ObjHeader)
		h.MarkTable(&instance.Fields)
	case objBoundMethod:
		bound := o.asBoundMethod()
		h.MarkValue(bound.Receiver)
		h.MarkObject(&bound.Method.ObjHeader)
	}
}

// sweep unlinks and unaccounts every unmarked object and clears the mark
// bit on survivors for the next cycle.
func (h *Heap) sweep() {
	prev := &h.objects
	for cur := prev.next; cur != nil; {
		if cur.marked {
			cur.marked = false
			prev = cur
			cur = cur.next
			continue
		}
		next := cur.next
		prev.next = next
		h.bytesAllocated -= objSize(cur)
		if h.logw != nil {
			fmt.Fprintf(h.logw, "%p free type %d\n", cur, cur.kind)
		}
		cur.next = nil
		cur = next
	}
}

func objSize(o *ObjHeader) int {
	switch o.kind {
	case objString:
		return int(unsafe.Sizeof(StringObj{})) + len(o.asString().Str)
	case objFunction:
		return int(unsafe.Sizeof(FunctionObj{}))
	case objNative:
		return int(unsafe.Sizeof(NativeObj{}))
	case objClosure:
		return int(unsafe.Sizeof(ClosureObj{})) +
			len(o.asClosure().Upvalues)*int(unsafe.Sizeof((*UpvalueObj)(nil)))
	case objUpvalue:
		return int(unsafe.Sizeof(UpvalueObj{}))
	case objClass:
		return int(unsafe.Sizeof(ClassObj{}))
	case objInstance:
		return int(unsafe.Sizeof(InstanceObj{}))
	case objBoundMethod:
		return int(unsafe.Sizeof(BoundMethodObj{}))
	default:
		return 0
	}
}
