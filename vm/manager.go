package vm

import (
	"github.com/quartz-lang/quartzvm/opcode"
	"github.com/quartz-lang/quartzvm/value"
)

// maxLocals bounds a frame's locals array; slot indices are a single
// byte, so 256 covers every addressable slot.
const maxLocals = 256

// maxCallDepth bounds the call frame stack, the same role maxStackSize
// plays for operands: unbounded recursion through Call faults
// StackOverflow instead of exhausting memory.
const maxCallDepth = 64

// ChunkManager is the per-frame state: the chunk's bytecode
// behind a bounds-checked reader (the program counter lives inside it),
// the locals array, and the frame's iterator stack.
type ChunkManager struct {
	id        uint16
	reader    *opcode.Reader
	locals    []value.Pointer
	iterators []*PathIterator
}

// newChunkManager frames chunk id over its raw bytes, positioned at PC 0.
func newChunkManager(id uint16, code []byte) *ChunkManager {
	return &ChunkManager{
		id:     id,
		reader: opcode.NewReader(code),
	}
}

// PC returns the current program counter, the byte offset the next fetch
// reads from (and the offset a Fault's location hint reports).
func (m *ChunkManager) PC() int { return m.reader.Pos() }

// local returns the Pointer stored at slot, or StackUnderflow-free zero
// handling: a never-written slot reads as an owned Null cell, matching
// the zero value of value.Pointer.
func (m *ChunkManager) local(slot uint8) *value.Pointer {
	if int(slot) >= len(m.locals) {
		grown := make([]value.Pointer, int(slot)+1, maxLocals)
		copy(grown, m.locals)
		m.locals = grown
	}
	return &m.locals[slot]
}

// setLocal stores p at slot, releasing whatever the slot held before.
func (m *ChunkManager) setLocal(slot uint8, p value.Pointer) {
	dst := m.local(slot)
	dst.Release()
	*dst = p
}

// pushIterator makes it the frame's active iterator. Iterators nest:
// IterBegin inside a loop body stacks a fresh iterator over the outer
// one, and IterEnd unwinds back to it.
func (m *ChunkManager) pushIterator(it *PathIterator) {
	m.iterators = append(m.iterators, it)
}

// activeIterator peeks the innermost live iterator.
func (m *ChunkManager) activeIterator() (*PathIterator, bool) {
	if len(m.iterators) == 0 {
		return nil, false
	}
	return m.iterators[len(m.iterators)-1], true
}

// popIterator removes the innermost iterator, releasing its handle on
// the iterated source.
func (m *ChunkManager) popIterator() bool {
	if len(m.iterators) == 0 {
		return false
	}
	it := m.iterators[len(m.iterators)-1]
	m.iterators = m.iterators[:len(m.iterators)-1]
	it.Release()
	return true
}

// release drops everything the frame still owns: locals and any
// iterators left live by an abnormal exit.
func (m *ChunkManager) release() {
	for i := range m.locals {
		m.locals[i].Release()
	}
	m.locals = nil
	for len(m.iterators) > 0 {
		m.popIterator()
	}
}
