// Package vm implements smog's bytecode interpreter: a single dispatch loop
// over call frames sharing one value stack, open-upvalue list, and object
// heap (spec.md §4.G).
package vm

import (
	"fmt"
	"io"

	"github.com/kristofer/smog/pkg/compiler"
	"github.com/kristofer/smog/pkg/heap"
	"github.com/kristofer/smog/pkg/table"
	"github.com/kristofer/smog/pkg/value"
)

// StackMax and FramesMax are the recommended capacities from spec.md §4.G.
const (
	StackMax  = 16384
	FramesMax = 64
)

// CallFrame is one active invocation record: the closure being executed,
// its instruction pointer, and the base stack slot its locals start at.
type CallFrame struct {
	closure   *heap.Closure
	ip        int
	slotsBase int
}

// VM owns the value stack, call frames, globals, and the heap they all
// allocate through. It implements heap.RootMarker so the collector can
// trace it.
type VM struct {
	stack    [StackMax]value.Value
	stackTop int

	frames     [FramesMax]CallFrame
	frameCount int

	globals      *table.Table
	heap         *heap.Heap
	openUpvalues *heap.Upvalue

	stdout io.Writer
	stderr io.Writer
}

// New creates a VM backed by h, wires the native-function registry into
// globals, and registers itself as a GC root.
func New(h *heap.Heap, stdout, stderr io.Writer) *VM {
	vm := &VM{
		globals: table.New(),
		heap:    h,
		stdout:  stdout,
		stderr:  stderr,
	}
	h.AddRootMarker(vm)
	vm.defineNatives()
	return vm
}

// MarkRoots marks every VM-owned root: the live stack, every frame's
// closure, the open-upvalue list, and the globals table (spec.md §4.D
// roots 1-4).
func (vm *VM) MarkRoots(h *heap.Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkValue(value.FromObj(vm.frames[i].closure))
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.NextOpen {
		h.MarkValue(value.FromObj(uv))
	}
	vm.globals.Each(func(k table.Key, v any) {
		h.MarkValue(value.FromObj(k.(*heap.String)))
		h.MarkValue(v.(value.Value))
	})
}

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// Interpret compiles and runs source to completion. A compile error aborts
// before any bytecode executes; a runtime error unwinds the stack and
// resets the VM so a subsequent Interpret call (as the REPL makes) starts
// clean.
func (vm *VM) Interpret(source string) error {
	fn, errs, ok := compiler.Compile(source, vm.heap)
	if !ok {
		return &CompileError{Messages: errs}
	}

	vm.push(value.FromObj(fn))
	closure := vm.heap.NewClosure(fn, nil)
	vm.pop()
	vm.push(value.FromObj(closure))
	if err := vm.callValue(value.FromObj(closure), 0); err != nil {
		vm.resetStack()
		return err
	}
	return vm.run()
}

func (vm *VM) runtimeError(format string, args ...any) error {
	message := fmt.Sprintf(format, args...)

	trace := make([]string, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		line := fn.Chunk.Lines[frame.ip-1]
		name := "script"
		if fn.Name != nil {
			name = fn.Name.Chars + "()"
		}
		trace = append(trace, fmt.Sprintf("[line %d] in %s", line, name))
	}
	// Reverse so the innermost frame is printed last.
	for i, j := 0, len(trace)-1; i < j; i, j = i+1, j-1 {
		trace[i], trace[j] = trace[j], trace[i]
	}

	vm.resetStack()
	return &RuntimeError{Message: message, Trace: trace}
}

func isFalsey(v value.Value) bool { return v.IsFalsey() }

func valuesEqual(a, b value.Value) bool { return value.Equal(a, b) }

// run executes bytecode until the outermost frame returns or a runtime
// error occurs.
func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() uint16 {
		hi := readByte()
		lo := readByte()
		return uint16(hi)<<8 | uint16(lo)
	}
	readConstant := func() value.Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *heap.String {
		return readConstant().AsObj().(*heap.String)
	}

	for {
		op := heap.OpCode(readByte())
		switch op {
		case heap.OpConstant:
			vm.push(readConstant())

		case heap.OpNil:
			vm.push(value.Nil)
		case heap.OpTrue:
			vm.push(value.Bool(true))
		case heap.OpFalse:
			vm.push(value.Bool(false))
		case heap.OpPop:
			vm.pop()

		case heap.OpGetLocal:
			slot := readByte()
			vm.push(vm.stack[frame.slotsBase+int(slot)])
		case heap.OpSetLocal:
			slot := readByte()
			vm.stack[frame.slotsBase+int(slot)] = vm.peek(0)

		case heap.OpGetGlobal:
			name := readString()
			v, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.push(v.(value.Value))
		case heap.OpDefineGlobal:
			name := readString()
			vm.globals.Put(name, vm.peek(0))
			vm.pop()
		case heap.OpSetGlobal:
			name := readString()
			if vm.globals.Put(name, vm.peek(0)) {
				vm.globals.Delete(name)
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}

		case heap.OpGetUpvalue:
			slot := readByte()
			vm.push(*frame.closure.Upvalues[slot].Location)
		case heap.OpSetUpvalue:
			slot := readByte()
			*frame.closure.Upvalues[slot].Location = vm.peek(0)

		case heap.OpGetProperty:
			if !vm.peek(0).IsObj() {
				return vm.runtimeError("Only instances have properties.")
			}
			inst, ok := vm.peek(0).AsObj().(*heap.Instance)
			if !ok {
				return vm.runtimeError("Only instances have properties.")
			}
			name := readString()
			if v, ok := inst.Fields.Get(name); ok {
				vm.pop()
				vm.push(v.(value.Value))
				break
			}
			if err := vm.bindMethod(inst.Class, name); err != nil {
				return err
			}
		case heap.OpSetProperty:
			inst, ok := vm.peek(1).AsObj().(*heap.Instance)
			if !vm.peek(1).IsObj() || !ok {
				return vm.runtimeError("Only instances have fields.")
			}
			name := readString()
			inst.Fields.Put(name, vm.peek(0))
			v := vm.pop()
			vm.pop()
			vm.push(v)

		case heap.OpGetSuper:
			name := readString()
			superclass := vm.pop().AsObj().(*heap.Class)
			if err := vm.bindMethod(superclass, name); err != nil {
				return err
			}

		case heap.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(valuesEqual(a, b)))
		case heap.OpGreater:
			if err := vm.binaryNumberOp(op); err != nil {
				return err
			}
		case heap.OpLess:
			if err := vm.binaryNumberOp(op); err != nil {
				return err
			}

		case heap.OpAdd:
			if err := vm.add(); err != nil {
				return err
			}
		case heap.OpSubtract, heap.OpMultiply, heap.OpDivide:
			if err := vm.binaryNumberOp(op); err != nil {
				return err
			}

		case heap.OpNot:
			vm.push(value.Bool(isFalsey(vm.pop())))
		case heap.OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(value.Number(-vm.pop().AsNumber()))

		case heap.OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop().String())

		case heap.OpJump:
			offset := readShort()
			frame.ip += int(offset)
		case heap.OpJumpIfFalse:
			offset := readShort()
			if isFalsey(vm.peek(0)) {
				frame.ip += int(offset)
			}
		case heap.OpLoop:
			offset := readShort()
			frame.ip -= int(offset)

		case heap.OpCall:
			argCount := int(readByte())
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case heap.OpInvoke:
			method := readString()
			argCount := int(readByte())
			if err := vm.invoke(method, argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case heap.OpSuperInvoke:
			method := readString()
			argCount := int(readByte())
			superclass := vm.pop().AsObj().(*heap.Class)
			if err := vm.invokeFromClass(superclass, method, argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case heap.OpClosure:
			fn := readConstant().AsObj().(*heap.Function)
			upvalues := make([]*heap.Upvalue, fn.UpvalueCount)
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := readByte()
				index := int(readByte())
				if isLocal != 0 {
					upvalues[i] = vm.captureUpvalue(frame.slotsBase + index)
				} else {
					upvalues[i] = frame.closure.Upvalues[index]
				}
			}
			closure := vm.heap.NewClosure(fn, upvalues)
			vm.push(value.FromObj(closure))

		case heap.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case heap.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slotsBase)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = frame.slotsBase
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case heap.OpClass:
			name := readString()
			vm.push(value.FromObj(vm.heap.NewClass(name)))

		case heap.OpInherit:
			superVal := vm.peek(1)
			superclass, ok := superVal.AsObj().(*heap.Class)
			if !superVal.IsObj() || !ok {
				return vm.runtimeError("Superclass must be a class.")
			}
			subclass := vm.peek(0).AsObj().(*heap.Class)
			table.AddAll(superclass.Methods, subclass.Methods)
			vm.pop()

		case heap.OpMethod:
			name := readString()
			vm.defineMethod(name)

		default:
			return vm.runtimeError("Unknown opcode %d.", byte(op))
		}
	}
}

func (vm *VM) add() error {
	b, a := vm.peek(0), vm.peek(1)
	switch {
	case a.IsNumber() && b.IsNumber():
		vm.pop()
		vm.pop()
		vm.push(value.Number(a.AsNumber() + b.AsNumber()))
		return nil
	case isString(a) && isString(b):
		vm.pop()
		vm.pop()
		as := a.AsObj().(*heap.String).Chars
		bs := b.AsObj().(*heap.String).Chars
		s := vm.heap.InternString(as + bs)
		vm.push(value.FromObj(s))
		return nil
	default:
		return vm.runtimeError("Operands must be two numbers or two strings.")
	}
}

func isString(v value.Value) bool {
	if !v.IsObj() {
		return false
	}
	_, ok := v.AsObj().(*heap.String)
	return ok
}

func (vm *VM) binaryNumberOp(op heap.OpCode) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	switch op {
	case heap.OpGreater:
		vm.push(value.Bool(a > b))
	case heap.OpLess:
		vm.push(value.Bool(a < b))
	case heap.OpSubtract:
		vm.push(value.Number(a - b))
	case heap.OpMultiply:
		vm.push(value.Number(a * b))
	case heap.OpDivide:
		vm.push(value.Number(a / b))
	}
	return nil
}

func (vm *VM) callValue(callee value.Value, argCount int) error {
	if callee.IsObj() {
		switch obj := callee.AsObj().(type) {
		case *heap.Closure:
			return vm.call(obj, argCount)
		case *heap.Native:
			args := vm.stack[vm.stackTop-argCount : vm.stackTop]
			result, err := obj.Fn(args)
			if err != nil {
				return vm.runtimeError("%s", err.Error())
			}
			vm.stackTop -= argCount + 1
			vm.push(result)
			return nil
		case *heap.Class:
			inst := vm.heap.NewInstance(obj)
			vm.stack[vm.stackTop-argCount-1] = value.FromObj(inst)
			if initializer, ok := obj.Methods.Get(vm.heap.InitString()); ok {
				return vm.call(initializer.(value.Value).AsObj().(*heap.Closure), argCount)
			} else if argCount != 0 {
				return vm.runtimeError("Expected 0 arguments but got %d.", argCount)
			}
			return nil
		case *heap.BoundMethod:
			vm.stack[vm.stackTop-argCount-1] = obj.Receiver
			return vm.call(obj.Method, argCount)
		}
	}
	return vm.runtimeError("Can only call functions and classes.")
}

func (vm *VM) call(closure *heap.Closure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
	}
	if vm.frameCount == FramesMax {
		return vm.runtimeError("Stack overflow.")
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slotsBase = vm.stackTop - argCount - 1
	return nil
}

func (vm *VM) invoke(name *heap.String, argCount int) error {
	receiver := vm.peek(argCount)
	inst, ok := receiver.AsObj().(*heap.Instance)
	if !receiver.IsObj() || !ok {
		return vm.runtimeError("Only instances have methods.")
	}

	if v, ok := inst.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argCount-1] = v.(value.Value)
		return vm.callValue(v.(value.Value), argCount)
	}
	return vm.invokeFromClass(inst.Class, name, argCount)
}

func (vm *VM) invokeFromClass(class *heap.Class, name *heap.String, argCount int) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name.Chars)
	}
	return vm.call(method.(value.Value).AsObj().(*heap.Closure), argCount)
}

func (vm *VM) bindMethod(class *heap.Class, name *heap.String) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name.Chars)
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method.(value.Value).AsObj().(*heap.Closure))
	vm.pop()
	vm.push(value.FromObj(bound))
	return nil
}

func (vm *VM) defineMethod(name *heap.String) {
	method := vm.peek(0)
	class := vm.peek(1).AsObj().(*heap.Class)
	class.Methods.Put(name, method)
	vm.pop()
}

func (vm *VM) captureUpvalue(index int) *heap.Upvalue {
	var prev *heap.Upvalue
	uv := vm.openUpvalues
	for uv != nil && uv.StackIndex > index {
		prev = uv
		uv = uv.NextOpen
	}
	if uv != nil && uv.StackIndex == index {
		return uv
	}

	created := vm.heap.NewUpvalue(&vm.stack[index], index)
	created.NextOpen = uv
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

func (vm *VM) closeUpvalues(fromIndex int) {
	for vm.openUpvalues != nil && vm.openUpvalues.StackIndex >= fromIndex {
		uv := vm.openUpvalues
		next := uv.NextOpen
		uv.Close()
		vm.openUpvalues = next
	}
}
