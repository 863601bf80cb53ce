// Package value implements the two-layer value model: a primitive
// Value layer (Null, the six unsigned integer widths, Bool, String, Range)
// and a composite Cell layer built over it (Default, Array, Struct, Enum,
// Optional, Map), joined by a reference-counted Pointer.
package value

import (
	"fmt"
	"math/big"
)

// Kind discriminates the primitive Value sum.
type Kind uint8

const (
	KindNull Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindU256
	KindBool
	KindString
	KindRange
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindU128:
		return "u128"
	case KindU256:
		return "u256"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindRange:
		return "range"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) isInteger() bool {
	return k >= KindU8 && k <= KindU256
}

// rangeVal is the boxed payload of a KindRange Value. Range bounds are
// themselves primitive numeric Values of identical kind.
type rangeVal struct {
	start Value
	end   Value
}

// Value is a primitive leaf: an immutable small value, never a graph node.
// Once constructed a Value is never mutated in place — every operation
// that "changes" a Value returns a new one — so copying a Value (including
// the *big.Int and *rangeVal it may hold) is always safe to share.
type Value struct {
	kind  Kind
	small uint64 // backing store for U8..U64 and Bool (0/1)
	big   *big.Int
	str   string
	rng   *rangeVal
}

// Null is the absence-of-value marker: the zero Value, and the state an
// emptied Pointer slot is left in after Take (see pointer.go).
func Null() Value { return Value{kind: KindNull} }

func NewU8(v uint8) Value   { return Value{kind: KindU8, small: uint64(v)} }
func NewU16(v uint16) Value { return Value{kind: KindU16, small: uint64(v)} }
func NewU32(v uint32) Value { return Value{kind: KindU32, small: uint64(v)} }
func NewU64(v uint64) Value { return Value{kind: KindU64, small: v} }
func NewBool(v bool) Value {
	if v {
		return Value{kind: KindBool, small: 1}
	}
	return Value{kind: KindBool, small: 0}
}
func NewString(v string) Value { return Value{kind: KindString, str: v} }

// NewU128 and NewU256 validate that v is non-negative and fits within the
// declared width before accepting it.
func NewU128(v *big.Int) (Value, error) { return newWide(KindU128, v) }
func NewU256(v *big.Int) (Value, error) { return newWide(KindU256, v) }

func newWide(k Kind, v *big.Int) (Value, error) {
	if v.Sign() < 0 || v.BitLen() > bitWidth(k) {
		return Value{}, ErrIntegerOverflow
	}
	return Value{kind: k, big: new(big.Int).Set(v)}, nil
}

// NewRange validates that start and end share the same numeric kind, and
// that start <= end (an inverted range is rejected at construction, so
// IterBegin never sees one; an empty range, start == end, is accepted and
// yields no elements).
func NewRange(start, end Value) (Value, error) {
	if !start.kind.isInteger() || start.kind != end.kind {
		return Value{}, ErrTypeMismatch
	}
	c, err := compareSameKind(start, end)
	if err != nil {
		return Value{}, err
	}
	if c > 0 {
		return Value{}, ErrInvalidRange
	}
	return Value{kind: KindRange, rng: &rangeVal{start: start, end: end}}, nil
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsNumber() bool {
	return v.kind.isInteger()
}

// RangeBounds returns the start/end of a KindRange Value.
func (v Value) RangeBounds() (start, end Value, ok bool) {
	if v.kind != KindRange {
		return Value{}, Value{}, false
	}
	return v.rng.start, v.rng.end, true
}

// Bool returns the boolean payload; ok is false if v is not KindBool.
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.small != 0, true
}

// Str returns the string payload; ok is false if v is not KindString.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// NumericBig returns v's value as an arbitrary-precision integer for any
// numeric or boolean kind, used by the Module encoder to serialize
// constants without exposing the small/big split to callers outside this
// package. ok is false for Null, String, and Range.
func (v Value) NumericBig() (*big.Int, bool) {
	b := v.toBig()
	return b, b != nil
}

func (v Value) toBig() *big.Int {
	switch {
	case v.kind == KindU128 || v.kind == KindU256:
		return v.big
	case v.kind == KindBool:
		if v.small != 0 {
			return big.NewInt(1)
		}
		return big.NewInt(0)
	case v.kind.isInteger():
		return new(big.Int).SetUint64(v.small)
	default:
		return nil
	}
}

func fromBigChecked(k Kind, b *big.Int) (Value, error) {
	if b.Sign() < 0 || b.BitLen() > bitWidth(k) {
		return Value{}, ErrIntegerOverflow
	}
	return fromBigUnchecked(k, b), nil
}

func fromBigUnchecked(k Kind, b *big.Int) Value {
	if k == KindU128 || k == KindU256 {
		return Value{kind: k, big: new(big.Int).Set(b)}
	}
	return Value{kind: k, small: b.Uint64()}
}

// String renders v the way a runtime Display would (used both for
// diagnostics and as the implementation of CastTo(String)).
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		b, _ := v.Bool()
		if b {
			return "true"
		}
		return "false"
	case KindString:
		return v.str
	case KindRange:
		return fmt.Sprintf("%s..%s", v.rng.start, v.rng.end)
	case KindU128, KindU256:
		return v.big.String()
	default:
		return fmt.Sprintf("%d", v.small)
	}
}

// Equal is value equality: same kind and same payload. Range equality
// compares bounds structurally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindRange:
		return v.rng.start.Equal(o.rng.start) && v.rng.end.Equal(o.rng.end)
	case KindU128, KindU256:
		return v.big.Cmp(o.big) == 0
	default:
		return v.small == o.small
	}
}

func compareSameKind(a, b Value) (int, error) {
	if a.kind != b.kind || !a.kind.isInteger() {
		return 0, ErrTypeMismatch
	}
	return a.toBig().Cmp(b.toBig()), nil
}

// Compare orders two numeric Values of identical kind.
func Compare(a, b Value) (int, error) { return compareSameKind(a, b) }

func requireSameIntKind(a, b Value) error {
	if a.kind != b.kind || !a.kind.isInteger() {
		return ErrTypeMismatch
	}
	return nil
}

// Add, Sub, Mul, Div, Mod implement checked unsigned arithmetic: every
// result is range-checked against the operand width, underflow (a
// negative intermediate) and overflow both fault with ErrIntegerOverflow,
// division/modulo by zero fault with ErrDivisionByZero. Neither operand
// is ever mutated.
func Add(a, b Value) (Value, error) {
	if err := requireSameIntKind(a, b); err != nil {
		return Value{}, err
	}
	return fromBigChecked(a.kind, new(big.Int).Add(a.toBig(), b.toBig()))
}

func Sub(a, b Value) (Value, error) {
	if err := requireSameIntKind(a, b); err != nil {
		return Value{}, err
	}
	return fromBigChecked(a.kind, new(big.Int).Sub(a.toBig(), b.toBig()))
}

func Mul(a, b Value) (Value, error) {
	if err := requireSameIntKind(a, b); err != nil {
		return Value{}, err
	}
	return fromBigChecked(a.kind, new(big.Int).Mul(a.toBig(), b.toBig()))
}

func Div(a, b Value) (Value, error) {
	if err := requireSameIntKind(a, b); err != nil {
		return Value{}, err
	}
	if b.toBig().Sign() == 0 {
		return Value{}, ErrDivisionByZero
	}
	return fromBigChecked(a.kind, new(big.Int).Quo(a.toBig(), b.toBig()))
}

func Mod(a, b Value) (Value, error) {
	if err := requireSameIntKind(a, b); err != nil {
		return Value{}, err
	}
	if b.toBig().Sign() == 0 {
		return Value{}, ErrDivisionByZero
	}
	return fromBigChecked(a.kind, new(big.Int).Rem(a.toBig(), b.toBig()))
}

// Neg is checked unary negation: only zero can be negated without
// underflowing an unsigned width.
func Neg(a Value) (Value, error) {
	if !a.kind.isInteger() {
		return Value{}, ErrTypeMismatch
	}
	return fromBigChecked(a.kind, new(big.Int).Neg(a.toBig()))
}

// BitAnd, BitOr, BitXor, Shl, Shr implement the bitwise/shift family.
// Shl is checked: any bit shifted past the declared width faults with
// ErrIntegerOverflow, matching the checked-arithmetic rule the rest of the
// family follows. Shr never overflows.
func BitAnd(a, b Value) (Value, error) {
	if err := requireSameIntKind(a, b); err != nil {
		return Value{}, err
	}
	return fromBigUnchecked(a.kind, new(big.Int).And(a.toBig(), b.toBig())), nil
}

func BitOr(a, b Value) (Value, error) {
	if err := requireSameIntKind(a, b); err != nil {
		return Value{}, err
	}
	return fromBigUnchecked(a.kind, new(big.Int).Or(a.toBig(), b.toBig())), nil
}

func BitXor(a, b Value) (Value, error) {
	if err := requireSameIntKind(a, b); err != nil {
		return Value{}, err
	}
	return fromBigUnchecked(a.kind, new(big.Int).Xor(a.toBig(), b.toBig())), nil
}

func BitNot(a Value) (Value, error) {
	if !a.kind.isInteger() {
		return Value{}, ErrTypeMismatch
	}
	full := maxOf(bitWidth(a.kind))
	return fromBigUnchecked(a.kind, new(big.Int).Xor(a.toBig(), full)), nil
}

func Shl(a Value, bits uint64) (Value, error) {
	if !a.kind.isInteger() {
		return Value{}, ErrTypeMismatch
	}
	return fromBigChecked(a.kind, new(big.Int).Lsh(a.toBig(), uint(bits)))
}

func Shr(a Value, bits uint64) (Value, error) {
	if !a.kind.isInteger() {
		return Value{}, ErrTypeMismatch
	}
	return fromBigUnchecked(a.kind, new(big.Int).Rsh(a.toBig(), uint(bits))), nil
}

// Increment is Add(a, 1); used by range iteration to advance the cursor.
func Increment(a Value) (Value, error) {
	one := fromBigUnchecked(a.kind, big.NewInt(1))
	return Add(a, one)
}

// And, Or, Not implement boolean logic.
func And(a, b Value) (Value, error) {
	ab, aok := a.Bool()
	bb, bok := b.Bool()
	if !aok || !bok {
		return Value{}, ErrTypeMismatch
	}
	return NewBool(ab && bb), nil
}

func Or(a, b Value) (Value, error) {
	ab, aok := a.Bool()
	bb, bok := b.Bool()
	if !aok || !bok {
		return Value{}, ErrTypeMismatch
	}
	return NewBool(ab || bb), nil
}

func Not(a Value) (Value, error) {
	ab, ok := a.Bool()
	if !ok {
		return Value{}, ErrTypeMismatch
	}
	return NewBool(!ab), nil
}
