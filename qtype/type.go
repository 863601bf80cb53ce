// Package qtype implements the closed, statically enumerable type system
// described by the value model: eight primitives, two generic
// placeholders, and six composite shapes built structurally over them.
package qtype

import "fmt"

// Tag identifies the shape of a Type. Primitive tags (U8..String) are
// stable single-byte values persisted in constants; composite tags extend
// the same byte space per the Module binary format.
type Tag uint8

const (
	TagU8 Tag = iota
	TagU16
	TagU32
	TagU64
	TagU128
	TagU256
	TagBool
	TagString

	TagArray
	TagOptional
	TagRange
	TagMap
	TagStruct
	TagEnum
	TagAny
	TagT
)

func (t Tag) String() string {
	switch t {
	case TagU8:
		return "u8"
	case TagU16:
		return "u16"
	case TagU32:
		return "u32"
	case TagU64:
		return "u64"
	case TagU128:
		return "u128"
	case TagU256:
		return "u256"
	case TagBool:
		return "bool"
	case TagString:
		return "string"
	case TagArray:
		return "array"
	case TagOptional:
		return "optional"
	case TagRange:
		return "range"
	case TagMap:
		return "map"
	case TagStruct:
		return "struct"
	case TagEnum:
		return "enum"
	case TagAny:
		return "any"
	case TagT:
		return "T"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// IsPrimitive reports whether tag is one of the eight single-byte
// primitives (U8..String) with a stable wire byte.
func (t Tag) IsPrimitive() bool {
	return t <= TagString
}

// Type is the closed sum of shapes a quartzvm value can carry. It is a
// value type; use Equal to compare, not ==, since composites carry
// pointers to their inner shape.
type Type struct {
	tag     Tag
	elem    *Type // Array / Optional / Range inner type
	key     *Type // Map key type
	val     *Type // Map value type
	id      uint16
	variant uint8 // generic position, for T(n)
}

// Primitive constructors.
func U8() Type     { return Type{tag: TagU8} }
func U16() Type    { return Type{tag: TagU16} }
func U32() Type    { return Type{tag: TagU32} }
func U64() Type    { return Type{tag: TagU64} }
func U128() Type   { return Type{tag: TagU128} }
func U256() Type   { return Type{tag: TagU256} }
func Bool() Type   { return Type{tag: TagBool} }
func String() Type { return Type{tag: TagString} }
func Any() Type    { return Type{tag: TagAny} }

// Generic returns the generic placeholder T(pos).
func Generic(pos uint8) Type { return Type{tag: TagT, variant: pos} }

// Array returns Array(elem).
func Array(elem Type) Type { return Type{tag: TagArray, elem: &elem} }

// Optional returns Optional(elem).
func Optional(elem Type) Type { return Type{tag: TagOptional, elem: &elem} }

// Range returns Range(elem).
func Range(elem Type) Type { return Type{tag: TagRange, elem: &elem} }

// Map returns Map(key, val).
func Map(key, val Type) Type { return Type{tag: TagMap, key: &key, val: &val} }

// Struct returns Struct(id).
func Struct(id uint16) Type { return Type{tag: TagStruct, id: id} }

// Enum returns Enum(id).
func Enum(id uint16) Type { return Type{tag: TagEnum, id: id} }

// Tag returns the shape discriminator.
func (t Type) Tag() Tag { return t.tag }

// StructID returns the struct id for a Struct type; only meaningful when
// Tag() == TagStruct.
func (t Type) StructID() uint16 { return t.id }

// EnumID returns the enum id for an Enum type; only meaningful when
// Tag() == TagEnum.
func (t Type) EnumID() uint16 { return t.id }

// GenericPosition returns the byte position for a T(n) placeholder; only
// meaningful when Tag() == TagT.
func (t Type) GenericPosition() uint8 { return t.variant }

// PrimitiveTag returns the one-byte wire tag (0..7) for a primitive type.
func (t Type) PrimitiveTag() (uint8, bool) {
	if !t.tag.IsPrimitive() {
		return 0, false
	}
	return uint8(t.tag), true
}

// PrimitiveFromTag is the inverse of PrimitiveTag: it maps a wire byte
// (0..7) back to its primitive Type.
func PrimitiveFromTag(b uint8) (Type, bool) {
	if b > uint8(TagString) {
		return Type{}, false
	}
	return Type{tag: Tag(b)}, true
}

// IsPrimitive reports whether t is one of the eight primitives.
func (t Type) IsPrimitive() bool { return t.tag.IsPrimitive() }

// IsNumber reports whether t is one of the six unsigned integer widths.
func (t Type) IsNumber() bool {
	switch t.tag {
	case TagU8, TagU16, TagU32, TagU64, TagU128, TagU256:
		return true
	default:
		return false
	}
}

// IsGeneric reports whether t is Any or a T(n) placeholder.
func (t Type) IsGeneric() bool {
	return t.tag == TagAny || t.tag == TagT
}

// HasInnerType reports whether t wraps exactly one inner type
// (Array/Optional/Range); Map has two and is excluded.
func (t Type) HasInnerType() bool {
	switch t.tag {
	case TagArray, TagOptional, TagRange:
		return true
	default:
		return false
	}
}

// InnerType returns the wrapped type for Array/Optional/Range. It panics
// if t has no single inner type; callers must check HasInnerType first,
// this is a programmer contract not a runtime fault.
func (t Type) InnerType() Type {
	if !t.HasInnerType() {
		panic(fmt.Sprintf("qtype: %s has no single inner type", t))
	}
	return *t.elem
}

// GenericType returns the type bound at generic position id: 0 is the
// key/sole element type of Map/Array/Optional/Range, 1 is the Map value
// type.
func (t Type) GenericType(id uint8) (Type, bool) {
	switch id {
	case 0:
		switch t.tag {
		case TagMap:
			return *t.key, true
		case TagArray, TagOptional, TagRange:
			return *t.elem, true
		}
	case 1:
		if t.tag == TagMap {
			return *t.val, true
		}
	}
	return Type{}, false
}

// AllowsNull reports whether t can hold the absence of a value
// (Optional only).
func (t Type) AllowsNull() bool { return t.tag == TagOptional }

// IsIterable reports whether IterBegin accepts t.
func (t Type) IsIterable() bool {
	return t.tag == TagArray || t.tag == TagRange
}

// Equal is structural equality across the whole type tree.
func (t Type) Equal(o Type) bool {
	if t.tag != o.tag {
		return false
	}
	switch t.tag {
	case TagArray, TagOptional, TagRange:
		return t.elem.Equal(*o.elem)
	case TagMap:
		return t.key.Equal(*o.key) && t.val.Equal(*o.val)
	case TagStruct, TagEnum:
		return t.id == o.id
	case TagT:
		return t.variant == o.variant
	default:
		return true
	}
}

// IsCompatibleWith implements structural unification:
// Any/T(_) unify with anything, composites recurse, primitives
// require equality.
func (t Type) IsCompatibleWith(o Type) bool {
	switch o.tag {
	case TagAny, TagT:
		return true
	case TagRange:
		if t.tag != TagRange {
			return false
		}
		return t.elem.IsCompatibleWith(*o.elem)
	case TagArray:
		if t.tag == TagArray {
			return t.elem.IsCompatibleWith(*o.elem)
		}
		return t.Equal(o) || t.IsCompatibleWith(*o.elem)
	case TagOptional:
		if t.tag == TagOptional {
			return t.elem.IsCompatibleWith(*o.elem)
		}
		return t.Equal(o) || t.IsCompatibleWith(*o.elem)
	case TagMap:
		if t.tag != TagMap {
			return false
		}
		return t.key.IsCompatibleWith(*o.key) && t.val.IsCompatibleWith(*o.val)
	default:
		return t.Equal(o) || t.IsGeneric()
	}
}

var wideningTable = map[Tag][]Tag{
	TagU8:   {TagU16, TagU32, TagU64, TagU128, TagU256, TagString},
	TagU16:  {TagU8, TagU32, TagU64, TagU128, TagU256, TagString},
	TagU32:  {TagU8, TagU16, TagU64, TagU128, TagU256, TagString},
	TagU64:  {TagU8, TagU16, TagU32, TagU128, TagU256, TagString},
	TagU128: {TagU8, TagU16, TagU32, TagU64, TagU256, TagString},
	TagU256: {TagU8, TagU16, TagU32, TagU64, TagU128, TagString},
	TagBool: {TagU8, TagU16, TagU32, TagU64, TagU128, TagU256, TagString},
}

var noLossTable = map[Tag][]Tag{
	TagU8:   {TagU16, TagU32, TagU64, TagU128, TagU256},
	TagU16:  {TagU32, TagU64, TagU128, TagU256},
	TagU32:  {TagU64, TagU128, TagU256},
	TagU64:  {TagU128, TagU256},
	TagU128: {TagU256},
}

// IsCastableTo enumerates the lossy widening/narrowing casts across
// integer widths, bool->integer, and any-numeric/bool to string.
// Range is intentionally absent from this table: it has no primitive
// byte, so CastTo(String) on a Range is handled directly by the cast
// implementation rather than through this table.
func (t Type) IsCastableTo(o Type) bool {
	for _, c := range wideningTable[t.tag] {
		if c == o.tag {
			return true
		}
	}
	return false
}

// IsCastableToNoLoss is the subset of IsCastableTo where no information
// can be lost: widening between integer types only.
func (t Type) IsCastableToNoLoss(o Type) bool {
	for _, c := range noLossTable[t.tag] {
		if c == o.tag {
			return true
		}
	}
	return false
}

// String renders t the way a diagnostic or disassembly would.
func (t Type) String() string {
	switch t.tag {
	case TagAny:
		return "any"
	case TagT:
		return fmt.Sprintf("T%d", t.variant)
	case TagArray:
		return fmt.Sprintf("%s[]", t.elem)
	case TagOptional:
		return fmt.Sprintf("optional<%s>", t.elem)
	case TagRange:
		return fmt.Sprintf("range<%s>", t.elem)
	case TagMap:
		return fmt.Sprintf("map<%s, %s>", t.key, t.val)
	case TagStruct:
		return fmt.Sprintf("struct(%d)", t.id)
	case TagEnum:
		return fmt.Sprintf("enum(%d)", t.id)
	default:
		return t.tag.String()
	}
}
