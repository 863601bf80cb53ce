package value

import (
	"fmt"
	"sort"

	"github.com/quartz-lang/quartzvm/qtype"
)

// CellKind discriminates the composite Cell sum.
type CellKind uint8

const (
	CellDefault CellKind = iota
	CellArray
	CellStruct
	CellEnum
	CellOptional
	CellMap
)

func (k CellKind) String() string {
	switch k {
	case CellDefault:
		return "default"
	case CellArray:
		return "array"
	case CellStruct:
		return "struct"
	case CellEnum:
		return "enum"
	case CellOptional:
		return "optional"
	case CellMap:
		return "map"
	default:
		return fmt.Sprintf("CellKind(%d)", uint8(k))
	}
}

// mapEntry is one key/value pair of a CellMap, kept in insertion order so
// iteration (IterBegin over a Map, once added) is deterministic.
type mapEntry struct {
	key Value
	val Pointer
}

// Cell is the composite layer: Default wraps a single primitive
// Value, Array/Struct/Enum hold child Pointers so each element can be
// independently aliased and reference-counted, Optional is a nilable
// single child, and Map is an ordered key/value association.
//
// Cell is a value type at the Go level, but its Array/Struct/Enum/Map
// fields share Pointer handles, so copying a Cell (see Pointer.Clone)
// aliases children rather than deep-copying the graph.
type Cell struct {
	kind CellKind

	def Value // CellDefault

	elems []Pointer // CellArray

	structID uint16
	fields   []Pointer // CellStruct

	enumID   uint16
	variant  uint8
	payload  []Pointer // CellEnum

	opt *Pointer // CellOptional; nil means None

	keyType qtype.Type
	valType qtype.Type
	entries []mapEntry // CellMap
}

func (c Cell) Kind() CellKind { return c.kind }

// NewDefault wraps a primitive Value.
func NewDefault(v Value) Cell { return Cell{kind: CellDefault, def: v} }

// DefaultValue returns the wrapped Value; ok is false if c is not CellDefault.
func (c Cell) DefaultValue() (Value, bool) {
	if c.kind != CellDefault {
		return Value{}, false
	}
	return c.def, true
}

// NewArray builds a CellArray from already-constructed element pointers.
func NewArray(elems []Pointer) Cell {
	return Cell{kind: CellArray, elems: elems}
}

// Elements returns the backing slice of a CellArray; ok is false otherwise.
// The returned slice aliases c's storage: mutate through Set/Append, not
// by writing into the returned slice directly.
func (c Cell) Elements() ([]Pointer, bool) {
	if c.kind != CellArray {
		return nil, false
	}
	return c.elems, true
}

func (c Cell) Len() (int, bool) {
	if c.kind != CellArray {
		return 0, false
	}
	return len(c.elems), true
}

// Get returns the element Pointer at idx, faulting IndexOutOfBounds if
// out of range (Open Question 1: never wraps).
func (c Cell) Get(idx uint64) (Pointer, error) {
	if c.kind != CellArray {
		return Pointer{}, ErrTypeMismatch
	}
	if idx >= uint64(len(c.elems)) {
		return Pointer{}, ErrIndexOutOfBounds
	}
	return c.elems[idx], nil
}

// Set replaces the element Pointer at idx in place.
func (c *Cell) Set(idx uint64, p Pointer) error {
	if c.kind != CellArray {
		return ErrTypeMismatch
	}
	if idx >= uint64(len(c.elems)) {
		return ErrIndexOutOfBounds
	}
	c.elems[idx] = p
	return nil
}

// Push appends an element to a CellArray.
func (c *Cell) Push(p Pointer) error {
	if c.kind != CellArray {
		return ErrTypeMismatch
	}
	c.elems = append(c.elems, p)
	return nil
}

// Pop removes and returns the last element.
func (c *Cell) Pop() (Pointer, error) {
	if c.kind != CellArray {
		return Pointer{}, ErrTypeMismatch
	}
	if len(c.elems) == 0 {
		return Pointer{}, ErrIndexOutOfBounds
	}
	last := c.elems[len(c.elems)-1]
	c.elems = c.elems[:len(c.elems)-1]
	return last, nil
}

// NewStruct builds a CellStruct with schema id and already-constructed
// field pointers, ordered to match the schema's declared field order.
func NewStruct(id uint16, fields []Pointer) Cell {
	return Cell{kind: CellStruct, structID: id, fields: fields}
}

func (c Cell) StructID() (uint16, bool) {
	if c.kind != CellStruct {
		return 0, false
	}
	return c.structID, true
}

func (c Cell) Fields() ([]Pointer, bool) {
	if c.kind != CellStruct {
		return nil, false
	}
	return c.fields, true
}

func (c Cell) Field(idx uint16) (Pointer, error) {
	if c.kind != CellStruct {
		return Pointer{}, ErrTypeMismatch
	}
	if int(idx) >= len(c.fields) {
		return Pointer{}, ErrIndexOutOfBounds
	}
	return c.fields[idx], nil
}

func (c *Cell) SetField(idx uint16, p Pointer) error {
	if c.kind != CellStruct {
		return ErrTypeMismatch
	}
	if int(idx) >= len(c.fields) {
		return ErrIndexOutOfBounds
	}
	c.fields[idx] = p
	return nil
}

// NewEnum builds a CellEnum instance of the given variant.
func NewEnum(id uint16, variant uint8, payload []Pointer) Cell {
	return Cell{kind: CellEnum, enumID: id, variant: variant, payload: payload}
}

func (c Cell) EnumID() (uint16, bool) {
	if c.kind != CellEnum {
		return 0, false
	}
	return c.enumID, true
}

func (c Cell) Variant() (uint8, bool) {
	if c.kind != CellEnum {
		return 0, false
	}
	return c.variant, true
}

func (c Cell) VariantFields() ([]Pointer, bool) {
	if c.kind != CellEnum {
		return nil, false
	}
	return c.payload, true
}

// NewNone builds an empty CellOptional.
func NewNone() Cell { return Cell{kind: CellOptional} }

// NewSome builds a populated CellOptional.
func NewSome(p Pointer) Cell {
	return Cell{kind: CellOptional, opt: &p}
}

func (c Cell) IsSome() (bool, bool) {
	if c.kind != CellOptional {
		return false, false
	}
	return c.opt != nil, true
}

func (c Cell) Unwrap() (Pointer, error) {
	if c.kind != CellOptional {
		return Pointer{}, ErrTypeMismatch
	}
	if c.opt == nil {
		return Pointer{}, ErrTypeMismatch
	}
	return *c.opt, nil
}

// NewMap builds an empty CellMap. keyType must not itself be a Map type
// (maps cannot be keyed by maps); violating this faults
// InvalidKeyType at construction time rather than on first insert.
func NewMap(keyType, valType qtype.Type) (Cell, error) {
	if keyType.Tag() == qtype.TagMap {
		return Cell{}, ErrInvalidKeyType
	}
	return Cell{kind: CellMap, keyType: keyType, valType: valType}, nil
}

func (c Cell) MapTypes() (key, val qtype.Type, ok bool) {
	if c.kind != CellMap {
		return qtype.Type{}, qtype.Type{}, false
	}
	return c.keyType, c.valType, true
}

func (c Cell) MapLen() (int, bool) {
	if c.kind != CellMap {
		return 0, false
	}
	return len(c.entries), true
}

func (c Cell) MapGet(key Value) (Pointer, bool, error) {
	if c.kind != CellMap {
		return Pointer{}, false, ErrTypeMismatch
	}
	for _, e := range c.entries {
		if e.key.Equal(key) {
			return e.val, true, nil
		}
	}
	return Pointer{}, false, nil
}

// MapSet inserts or overwrites key. Insertion order is preserved for
// existing keys; new keys are appended.
func (c *Cell) MapSet(key Value, val Pointer) error {
	if c.kind != CellMap {
		return ErrTypeMismatch
	}
	for i, e := range c.entries {
		if e.key.Equal(key) {
			c.entries[i].val = val
			return nil
		}
	}
	c.entries = append(c.entries, mapEntry{key: key, val: val})
	return nil
}

func (c *Cell) MapDelete(key Value) (Pointer, bool, error) {
	if c.kind != CellMap {
		return Pointer{}, false, ErrTypeMismatch
	}
	for i, e := range c.entries {
		if e.key.Equal(key) {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return e.val, true, nil
		}
	}
	return Pointer{}, false, nil
}

// MapKeys returns the keys in insertion order.
func (c Cell) MapKeys() []Value {
	keys := make([]Value, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.key
	}
	return keys
}

// MapSortedKeys returns keys sorted by their String() rendering, used by
// the canonical CBOR diagnostic encoding so Map output is reproducible
// regardless of insertion order.
func (c Cell) MapSortedKeys() []Value {
	keys := c.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Clone deep-clones c: Default values are copied directly (cheap,
// immutable), and every child Pointer is cloned via Pointer.Clone
// (aliasing if already Shared, recursively duplicating if still Owned).
// This backs the copy-on-write promotion a Borrowed Path performs on
// first write.
func (c Cell) Clone() Cell {
	switch c.kind {
	case CellDefault:
		return Cell{kind: CellDefault, def: c.def}
	case CellArray:
		out := make([]Pointer, len(c.elems))
		for i, e := range c.elems {
			out[i] = e.Clone()
		}
		return Cell{kind: CellArray, elems: out}
	case CellStruct:
		out := make([]Pointer, len(c.fields))
		for i, e := range c.fields {
			out[i] = e.Clone()
		}
		return Cell{kind: CellStruct, structID: c.structID, fields: out}
	case CellEnum:
		out := make([]Pointer, len(c.payload))
		for i, e := range c.payload {
			out[i] = e.Clone()
		}
		return Cell{kind: CellEnum, enumID: c.enumID, variant: c.variant, payload: out}
	case CellOptional:
		if c.opt == nil {
			return Cell{kind: CellOptional}
		}
		cloned := c.opt.Clone()
		return Cell{kind: CellOptional, opt: &cloned}
	case CellMap:
		out := make([]mapEntry, len(c.entries))
		for i, e := range c.entries {
			out[i] = mapEntry{key: e.key, val: e.val.Clone()}
		}
		return Cell{kind: CellMap, keyType: c.keyType, valType: c.valType, entries: out}
	default:
		return Cell{}
	}
}
