package vm

import (
	"fmt"

	"github.com/quartz-lang/quartzvm/env"
	"github.com/quartz-lang/quartzvm/internal/invariant"
	"github.com/quartz-lang/quartzvm/module"
	"github.com/quartz-lang/quartzvm/opcode"
	"github.com/quartz-lang/quartzvm/qpath"
	"github.com/quartz-lang/quartzvm/qtype"
	"github.com/quartz-lang/quartzvm/validator"
	"github.com/quartz-lang/quartzvm/value"
)

// Backend bundles the immutable inputs of a run: the validated Module
// and the Environment its struct/enum references and InvokeNative
// targets resolve against. Schema lookups consult the union of both,
// module declarations first.
type Backend struct {
	module *module.Module
	env    *env.Environment
}

func (b *Backend) structSchema(id uint16) (qtype.StructSchema, bool) {
	for _, s := range b.module.Structs {
		if s.ID == id {
			return s, true
		}
	}
	for _, s := range b.env.Structs() {
		if s.ID == id {
			return s, true
		}
	}
	return qtype.StructSchema{}, false
}

func (b *Backend) enumSchema(id uint16) (qtype.EnumSchema, bool) {
	for _, e := range b.module.Enums {
		if e.ID == id {
			return e, true
		}
	}
	for _, e := range b.env.Enums() {
		if e.ID == id {
			return e, true
		}
	}
	return qtype.EnumSchema{}, false
}

// VM executes one Module against one Environment. A VM is single-use in
// the failure direction: the first fault leaves it terminated, and every
// later call fails with Terminated. It is strictly single-threaded;
// Run owns the VM until it returns, and a native function must never
// re-enter Run on the same instance.
type VM struct {
	backend    Backend
	stack      *Stack
	frames     []*ChunkManager
	ctx        *Context
	running    bool
	terminated bool
}

// New validates m against e and constructs a VM over them. A Module that
// fails the validator is never accepted: the validator's error is
// returned and no VM exists to run it.
func New(m *module.Module, e *env.Environment, ctx *Context) (*VM, error) {
	if err := validator.New(m, e).Verify(); err != nil {
		return nil, err
	}
	if !e.CompatibleWith(module.VersionString(m.FormatVersion)) {
		return nil, fmt.Errorf("environment cannot host module version %s", module.VersionString(m.FormatVersion))
	}
	if ctx == nil {
		ctx = NewContext(0)
	}
	return &VM{
		backend: Backend{module: m, env: e},
		stack:   NewStack(),
		ctx:     ctx,
	}, nil
}

// Context exposes the run's metering state, read by hosts after a run
// and mutated by native functions through dispatch.
func (vm *VM) Context() *Context { return vm.ctx }

// InvokeEntryChunk pushes args onto the operand stack, frames chunk id,
// and drives Run to completion. The result is the top-of-stack cell when
// the outermost frame returns, or a Null default cell if the stack is
// empty at that instant.
func (vm *VM) InvokeEntryChunk(id uint16, args []value.Cell) (value.Cell, error) {
	if vm.terminated {
		return value.Cell{}, &Fault{Kind: KindTerminated}
	}
	if int(id) >= len(vm.backend.module.Chunks) {
		return value.Cell{}, &Fault{Kind: KindUnknownChunk, Chunk: id}
	}
	for _, a := range args {
		if err := vm.stack.Push(value.Owned(a)); err != nil {
			return value.Cell{}, err
		}
	}
	vm.frames = append(vm.frames, newChunkManager(id, vm.backend.module.Chunks[id]))
	if err := vm.Run(); err != nil {
		return value.Cell{}, err
	}
	if vm.stack.Len() == 0 {
		return value.NewDefault(value.Null()), nil
	}
	top, err := vm.stack.Pop()
	if err != nil {
		return value.Cell{}, err
	}
	var out value.Cell
	if err := top.WithRead(func(c *value.Cell) error {
		out = c.Clone()
		return nil
	}); err != nil {
		return value.Cell{}, vm.locate(err)
	}
	top.Release()
	return out, nil
}

// Run drives the fetch-decode-dispatch loop until the outermost frame
// returns or a fault occurs. On fault the VM releases everything it
// still owns and transitions to the terminal state.
func (vm *VM) Run() error {
	invariant.Precondition(!vm.running, "vm: Run is not reentrant; a native function must not call Run on its own VM")
	if vm.terminated {
		return &Fault{Kind: KindTerminated}
	}
	vm.running = true
	defer func() { vm.running = false }()

	for len(vm.frames) > 0 {
		frame := vm.frames[len(vm.frames)-1]
		if frame.reader.AtEnd() {
			vm.popFrame()
			continue
		}
		op, err := frame.reader.ReadOp()
		if err != nil {
			return vm.abort(err)
		}
		if err := vm.execute(op, frame); err != nil {
			return vm.abort(err)
		}
	}
	return nil
}

// abort converts err into a located Fault, tears down the run, and
// leaves the VM terminated.
func (vm *VM) abort(err error) error {
	located := vm.locate(err)
	vm.stack.ReleaseAll()
	for len(vm.frames) > 0 {
		vm.popFrame()
	}
	vm.terminated = true
	return located
}

// locate stamps err with the current chunk id and program counter. A
// fresh Fault is always allocated; shared sentinels are never mutated.
func (vm *VM) locate(err error) error {
	chunk, pc := uint16(0), 0
	if len(vm.frames) > 0 {
		frame := vm.frames[len(vm.frames)-1]
		chunk, pc = frame.id, frame.PC()
	}
	if f, ok := err.(*Fault); ok {
		return &Fault{Kind: f.Kind, Chunk: chunk, PC: pc, Cause: f.Cause}
	}
	return &Fault{Kind: faultKindOf(err), Chunk: chunk, PC: pc, Cause: err}
}

func (vm *VM) popFrame() {
	frame := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	frame.release()
}

// popValue pops the top operand and unwraps it to its primitive Value,
// the shape every arithmetic/logic opcode requires. The popped handle is
// released before returning.
func (vm *VM) popValue() (value.Value, error) {
	p, err := vm.stack.Pop()
	if err != nil {
		return value.Value{}, err
	}
	var out value.Value
	rerr := p.WithRead(func(c *value.Cell) error {
		dv, ok := c.DefaultValue()
		if !ok {
			return value.ErrTypeMismatch
		}
		out = dv
		return nil
	})
	p.Release()
	if rerr != nil {
		return value.Value{}, rerr
	}
	return out, nil
}

func (vm *VM) pushValue(v value.Value) error {
	return vm.stack.Push(value.Owned(value.NewDefault(v)))
}

func (vm *VM) charge(op opcode.OpCode, elems int) error {
	return vm.ctx.Charge(vm.ctx.costs.opCost(op, elems))
}

// execute dispatches one fetched opcode. The frame's reader is already
// past the opcode byte; each case consumes exactly the operand bytes the
// validator verified were present.
func (vm *VM) execute(op opcode.OpCode, frame *ChunkManager) error {
	switch op {
	case opcode.LoadConst:
		return vm.opLoadConst(frame)
	case opcode.LoadLocal:
		return vm.opLoadLocal(frame)
	case opcode.StoreLocal:
		return vm.opStoreLocal(frame)
	case opcode.Pop:
		if err := vm.charge(op, 0); err != nil {
			return err
		}
		p, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		p.Release()
		return nil
	case opcode.Copy:
		if err := vm.charge(op, 0); err != nil {
			return err
		}
		top, err := vm.stack.Peek()
		if err != nil {
			return err
		}
		return vm.stack.Push(top.Clone())
	case opcode.Swap:
		if err := vm.charge(op, 0); err != nil {
			return err
		}
		return vm.stack.Swap()

	case opcode.Add, opcode.Sub, opcode.Mul, opcode.Div, opcode.Mod,
		opcode.And, opcode.Or, opcode.Eq, opcode.Ne,
		opcode.Lt, opcode.Le, opcode.Gt, opcode.Ge,
		opcode.BitAnd, opcode.BitOr, opcode.BitXor,
		opcode.Shl, opcode.Shr:
		return vm.opBinary(op)
	case opcode.Neg, opcode.Not, opcode.BitNot:
		return vm.opUnary(op)

	case opcode.Jump:
		return vm.opJump(frame)
	case opcode.JumpIfFalse:
		return vm.opJumpIfFalse(frame)
	case opcode.Call:
		return vm.opCall(frame)
	case opcode.InvokeNative:
		return vm.opInvokeNative(frame)
	case opcode.Return:
		if err := vm.charge(op, 0); err != nil {
			return err
		}
		vm.popFrame()
		return nil

	case opcode.NewArray:
		return vm.opNewArray(frame)
	case opcode.NewStruct:
		return vm.opNewStruct(frame)
	case opcode.NewMap:
		return vm.opNewMap(frame)
	case opcode.NewRange:
		return vm.opNewRange()
	case opcode.NewEnum:
		return vm.opNewEnum(frame)

	case opcode.SubLoad:
		return vm.opSubLoad(frame)
	case opcode.SubStore:
		return vm.opSubStore(frame)
	case opcode.MapGet:
		return vm.opMapGet()
	case opcode.MapSet:
		return vm.opMapSet()
	case opcode.ArrayLen:
		return vm.opArrayLen()

	case opcode.IterBegin:
		return vm.opIterBegin(frame)
	case opcode.IterNext:
		return vm.opIterNext(frame)
	case opcode.IterEnd:
		if err := vm.charge(op, 0); err != nil {
			return err
		}
		if !frame.popIterator() {
			return &Fault{Kind: KindInvalidIterable}
		}
		return nil

	case opcode.CastTo:
		return vm.opCastTo(frame)

	default:
		invariant.Invariant(false, "vm: validator admitted unknown opcode %d", uint8(op))
		return nil
	}
}

func (vm *VM) opLoadConst(frame *ChunkManager) error {
	idx, err := frame.reader.ReadU16()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.LoadConst, 0); err != nil {
		return err
	}
	if int(idx) >= len(vm.backend.module.Constants) {
		return &Fault{Kind: KindIndexOutOfBounds}
	}
	// Constants are immutable: a program receives its own clone, never a
	// handle into the pool.
	return vm.stack.Push(value.Owned(vm.backend.module.Constants[idx].Clone()))
}

func (vm *VM) opLoadLocal(frame *ChunkManager) error {
	slot, err := frame.reader.ReadU8()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.LoadLocal, 0); err != nil {
		return err
	}
	// The local is promoted to shared in place: a SubStore through the
	// loaded handle is a write into the local.
	return vm.stack.Push(frame.local(slot).Shareable())
}

func (vm *VM) opStoreLocal(frame *ChunkManager) error {
	slot, err := frame.reader.ReadU8()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.StoreLocal, 0); err != nil {
		return err
	}
	p, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	frame.setLocal(slot, p)
	return nil
}

func (vm *VM) opBinary(op opcode.OpCode) error {
	if err := vm.charge(op, 0); err != nil {
		return err
	}
	b, err := vm.popValue()
	if err != nil {
		return err
	}
	a, err := vm.popValue()
	if err != nil {
		return err
	}
	var out value.Value
	switch op {
	case opcode.Add:
		out, err = value.Add(a, b)
	case opcode.Sub:
		out, err = value.Sub(a, b)
	case opcode.Mul:
		out, err = value.Mul(a, b)
	case opcode.Div:
		out, err = value.Div(a, b)
	case opcode.Mod:
		out, err = value.Mod(a, b)
	case opcode.And:
		out, err = value.And(a, b)
	case opcode.Or:
		out, err = value.Or(a, b)
	case opcode.Eq:
		out = value.NewBool(a.Equal(b))
	case opcode.Ne:
		out = value.NewBool(!a.Equal(b))
	case opcode.Lt, opcode.Le, opcode.Gt, opcode.Ge:
		var cmp int
		cmp, err = value.Compare(a, b)
		if err == nil {
			switch op {
			case opcode.Lt:
				out = value.NewBool(cmp < 0)
			case opcode.Le:
				out = value.NewBool(cmp <= 0)
			case opcode.Gt:
				out = value.NewBool(cmp > 0)
			case opcode.Ge:
				out = value.NewBool(cmp >= 0)
			}
		}
	case opcode.BitAnd:
		out, err = value.BitAnd(a, b)
	case opcode.BitOr:
		out, err = value.BitOr(a, b)
	case opcode.BitXor:
		out, err = value.BitXor(a, b)
	case opcode.Shl, opcode.Shr:
		big, ok := b.NumericBig()
		if !ok {
			return value.ErrTypeMismatch
		}
		bits := big.Uint64()
		if op == opcode.Shl {
			out, err = value.Shl(a, bits)
		} else {
			out, err = value.Shr(a, bits)
		}
	}
	if err != nil {
		return err
	}
	return vm.pushValue(out)
}

func (vm *VM) opUnary(op opcode.OpCode) error {
	if err := vm.charge(op, 0); err != nil {
		return err
	}
	a, err := vm.popValue()
	if err != nil {
		return err
	}
	var out value.Value
	switch op {
	case opcode.Neg:
		out, err = value.Neg(a)
	case opcode.Not:
		out, err = value.Not(a)
	case opcode.BitNot:
		out, err = value.BitNot(a)
	}
	if err != nil {
		return err
	}
	return vm.pushValue(out)
}

// jumpBy moves the program counter by a signed offset relative to the
// end of the current instruction (the reader is already past both the
// opcode byte and its operands when this is called).
func jumpBy(frame *ChunkManager, offset int16) error {
	if err := frame.reader.Seek(frame.reader.Pos() + int(offset)); err != nil {
		return &Fault{Kind: KindIndexOutOfBounds, Cause: err}
	}
	return nil
}

func (vm *VM) opJump(frame *ChunkManager) error {
	offset, err := frame.reader.ReadI16()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.Jump, 0); err != nil {
		return err
	}
	return jumpBy(frame, offset)
}

func (vm *VM) opJumpIfFalse(frame *ChunkManager) error {
	offset, err := frame.reader.ReadI16()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.JumpIfFalse, 0); err != nil {
		return err
	}
	cond, err := vm.popValue()
	if err != nil {
		return err
	}
	b, ok := cond.Bool()
	if !ok {
		return value.ErrTypeMismatch
	}
	if !b {
		return jumpBy(frame, offset)
	}
	return nil
}

func (vm *VM) opCall(frame *ChunkManager) error {
	chunkID, err := frame.reader.ReadU16()
	if err != nil {
		return err
	}
	argc, err := frame.reader.ReadU8()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.Call, 0); err != nil {
		return err
	}
	if int(chunkID) >= len(vm.backend.module.Chunks) {
		return &Fault{Kind: KindUnknownChunk, Chunk: chunkID}
	}
	if len(vm.frames) >= maxCallDepth {
		return &Fault{Kind: KindStackOverflow}
	}
	callee := newChunkManager(chunkID, vm.backend.module.Chunks[chunkID])
	// Arguments were pushed left-to-right, so they pop in reverse: the
	// first pop fills the last parameter slot.
	for i := int(argc) - 1; i >= 0; i-- {
		p, err := vm.stack.Pop()
		if err != nil {
			callee.release()
			return err
		}
		callee.setLocal(uint8(i), p)
	}
	vm.frames = append(vm.frames, callee)
	return nil
}

func (vm *VM) opInvokeNative(frame *ChunkManager) error {
	fnID, err := frame.reader.ReadU16()
	if err != nil {
		return err
	}
	argc, err := frame.reader.ReadU8()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.InvokeNative, 0); err != nil {
		return err
	}
	fn, err := vm.backend.env.Function(fnID)
	if err != nil {
		return err
	}
	args := make([]qpath.Path, argc)
	for i := int(argc) - 1; i >= 0; i-- {
		p, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		args[i] = qpath.FromPointer(p)
	}
	var receiver *qpath.Path
	if fn.HasReceiver() {
		p, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		r := qpath.FromPointer(p)
		receiver = &r
	}
	// The declared cost is charged before invocation; an over-budget
	// call never runs, and the charge stands.
	if err := vm.ctx.Charge(fn.Cost()); err != nil {
		return err
	}
	out, err := fn.Call(receiver, args, vm.ctx)
	for i := range args {
		p := args[i].IntoPointer()
		p.Release()
	}
	if receiver != nil {
		p := receiver.IntoPointer()
		p.Release()
	}
	if err != nil {
		return err
	}
	if out != nil {
		return vm.pushValue(*out)
	}
	return nil
}

func (vm *VM) opNewArray(frame *ChunkManager) error {
	n, err := frame.reader.ReadU8()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.NewArray, int(n)); err != nil {
		return err
	}
	// Elements were pushed left-to-right; fill back-to-front so source
	// order is preserved.
	elems := make([]value.Pointer, n)
	for i := int(n) - 1; i >= 0; i-- {
		p, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		elems[i] = p
	}
	return vm.stack.Push(value.Owned(value.NewArray(elems)))
}

func (vm *VM) opNewStruct(frame *ChunkManager) error {
	id, err := frame.reader.ReadU16()
	if err != nil {
		return err
	}
	schema, ok := vm.backend.structSchema(id)
	if !ok {
		return &Fault{Kind: KindUnknownStructOrEnum}
	}
	k := len(schema.Fields)
	if err := vm.charge(opcode.NewStruct, k); err != nil {
		return err
	}
	fields := make([]value.Pointer, k)
	for i := k - 1; i >= 0; i-- {
		p, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		fields[i] = p
	}
	return vm.stack.Push(value.Owned(value.NewStruct(id, fields)))
}

func (vm *VM) opNewRange() error {
	if err := vm.charge(opcode.NewRange, 0); err != nil {
		return err
	}
	end, err := vm.popValue()
	if err != nil {
		return err
	}
	start, err := vm.popValue()
	if err != nil {
		return err
	}
	rng, err := value.NewRange(start, end)
	if err != nil {
		return err
	}
	return vm.pushValue(rng)
}

func (vm *VM) opNewMap(frame *ChunkManager) error {
	n, err := frame.reader.ReadU8()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.NewMap, int(n)); err != nil {
		return err
	}
	type pair struct {
		key value.Value
		val value.Pointer
	}
	// Pairs pop in reverse emission order; buffer them so insertion runs
	// in source order and a duplicate key resolves last-writer-wins.
	pairs := make([]pair, n)
	for i := int(n) - 1; i >= 0; i-- {
		val, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		key, err := vm.popMapKey()
		if err != nil {
			val.Release()
			return err
		}
		pairs[i] = pair{key: key, val: val}
	}
	cell, err := value.NewMap(qtype.Any(), qtype.Any())
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if old, found, _ := cell.MapGet(p.key); found {
			old.Release()
		}
		if err := cell.MapSet(p.key, p.val); err != nil {
			return err
		}
	}
	return vm.stack.Push(value.Owned(cell))
}

// popMapKey pops an operand that must be usable as a map key: a
// primitive value, never a composite. A map key faults InvalidKeyType;
// any other composite shape is equally unkeyable here since keys hash
// and compare by primitive equality.
func (vm *VM) popMapKey() (value.Value, error) {
	p, err := vm.stack.Pop()
	if err != nil {
		return value.Value{}, err
	}
	var out value.Value
	rerr := p.WithRead(func(c *value.Cell) error {
		dv, ok := c.DefaultValue()
		if !ok {
			return value.ErrInvalidKeyType
		}
		out = dv
		return nil
	})
	p.Release()
	if rerr != nil {
		return value.Value{}, rerr
	}
	return out, nil
}

func (vm *VM) opNewEnum(frame *ChunkManager) error {
	id, err := frame.reader.ReadU16()
	if err != nil {
		return err
	}
	variantID, err := frame.reader.ReadU8()
	if err != nil {
		return err
	}
	schema, ok := vm.backend.enumSchema(id)
	if !ok {
		return &Fault{Kind: KindUnknownStructOrEnum}
	}
	variant, ok := schema.Variant(variantID)
	if !ok {
		return &Fault{Kind: KindInvalidEnumVariant}
	}
	k := len(variant.Fields)
	if err := vm.charge(opcode.NewEnum, k); err != nil {
		return err
	}
	fields := make([]value.Pointer, k)
	for i := k - 1; i >= 0; i-- {
		p, err := vm.stack.Pop()
		if err != nil {
			return err
		}
		fields[i] = p
	}
	return vm.stack.Push(value.Owned(value.NewEnum(id, variantID, fields)))
}

func (vm *VM) opSubLoad(frame *ChunkManager) error {
	idx, err := frame.reader.ReadU8()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.SubLoad, 0); err != nil {
		return err
	}
	parent, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	path := qpath.FromPointer(parent)
	sub, serr := path.GetSubVariable(uint64(idx))
	// The parent handle is released through the path, which observed any
	// in-place promotion GetSubVariable performed; the popped copy is
	// stale by now.
	released := path.IntoPointer()
	released.Release()
	if serr != nil {
		return serr
	}
	return vm.stack.Push(sub.IntoPointer())
}

func (vm *VM) opSubStore(frame *ChunkManager) error {
	idx, err := frame.reader.ReadU8()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.SubStore, 0); err != nil {
		return err
	}
	val, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	parent, err := vm.stack.Pop()
	if err != nil {
		val.Release()
		return err
	}
	werr := parent.WithWrite(func(c *value.Cell) error {
		return storeChild(c, uint64(idx), val)
	})
	parent.Release()
	if werr != nil {
		val.Release()
	}
	return werr
}

// storeChild replaces the child at idx inside a composite cell,
// releasing the displaced child.
func storeChild(c *value.Cell, idx uint64, p value.Pointer) error {
	switch c.Kind() {
	case value.CellArray:
		old, err := c.Get(idx)
		if err != nil {
			return err
		}
		old.Release()
		return c.Set(idx, p)
	case value.CellStruct:
		old, err := c.Field(uint16(idx))
		if err != nil {
			return err
		}
		old.Release()
		return c.SetField(uint16(idx), p)
	case value.CellEnum:
		fields, _ := c.VariantFields()
		if idx >= uint64(len(fields)) {
			return value.ErrIndexOutOfBounds
		}
		fields[idx].Release()
		fields[idx] = p
		return nil
	case value.CellOptional:
		if idx != 0 {
			return value.ErrIndexOutOfBounds
		}
		if some, _ := c.IsSome(); some {
			old, _ := c.Unwrap()
			old.Release()
		}
		*c = value.NewSome(p)
		return nil
	default:
		return value.ErrTypeMismatch
	}
}

func (vm *VM) opMapGet() error {
	if err := vm.charge(opcode.MapGet, 0); err != nil {
		return err
	}
	key, err := vm.popMapKey()
	if err != nil {
		return err
	}
	m, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	var out value.Pointer
	werr := m.WithWrite(func(c *value.Cell) error {
		stored, found, err := c.MapGet(key)
		if err != nil {
			return err
		}
		if !found {
			return value.ErrIndexOutOfBounds
		}
		// Share the stored value in place so mutations through the
		// yielded handle land in the map.
		out = stored.Shareable()
		return c.MapSet(key, stored)
	})
	m.Release()
	if werr != nil {
		return werr
	}
	return vm.stack.Push(out)
}

func (vm *VM) opMapSet() error {
	if err := vm.charge(opcode.MapSet, 0); err != nil {
		return err
	}
	val, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	key, err := vm.popMapKey()
	if err != nil {
		val.Release()
		return err
	}
	m, err := vm.stack.Pop()
	if err != nil {
		val.Release()
		return err
	}
	werr := m.WithWrite(func(c *value.Cell) error {
		if old, found, _ := c.MapGet(key); found {
			old.Release()
		}
		return c.MapSet(key, val)
	})
	m.Release()
	if werr != nil {
		val.Release()
	}
	return werr
}

func (vm *VM) opArrayLen() error {
	if err := vm.charge(opcode.ArrayLen, 0); err != nil {
		return err
	}
	p, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	var n int
	rerr := p.WithRead(func(c *value.Cell) error {
		length, ok := c.Len()
		if !ok {
			return value.ErrTypeMismatch
		}
		n = length
		return nil
	})
	p.Release()
	if rerr != nil {
		return rerr
	}
	return vm.pushValue(value.NewU32(uint32(n)))
}

func (vm *VM) opIterBegin(frame *ChunkManager) error {
	if err := vm.charge(opcode.IterBegin, 0); err != nil {
		return err
	}
	p, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	it, err := NewPathIterator(p)
	if err != nil {
		p.Release()
		return err
	}
	frame.pushIterator(it)
	return nil
}

func (vm *VM) opIterNext(frame *ChunkManager) error {
	offset, err := frame.reader.ReadI16()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.IterNext, 0); err != nil {
		return err
	}
	it, ok := frame.activeIterator()
	if !ok {
		return &Fault{Kind: KindInvalidIterable}
	}
	elem, more, err := it.Next()
	if err != nil {
		return err
	}
	if !more {
		return jumpBy(frame, offset)
	}
	return vm.stack.Push(elem)
}

func (vm *VM) opCastTo(frame *ChunkManager) error {
	tag, err := frame.reader.ReadU8()
	if err != nil {
		return err
	}
	if err := vm.charge(opcode.CastTo, 0); err != nil {
		return err
	}
	target, ok := qtype.PrimitiveFromTag(tag)
	if !ok {
		return &Fault{Kind: KindInvalidCast}
	}
	v, err := vm.popValue()
	if err != nil {
		return err
	}
	out, err := v.CastTo(target)
	if err != nil {
		return err
	}
	return vm.pushValue(out)
}
