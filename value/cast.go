package value

import (
	"math/big"

	"github.com/quartz-lang/quartzvm/qtype"
)

// Type returns the qtype.Type describing v. Null has no declared type —
// it is an internal marker, never observable as a typed value — so ok is
// false in that case.
func (v Value) Type() (qtype.Type, bool) {
	switch v.kind {
	case KindU8:
		return qtype.U8(), true
	case KindU16:
		return qtype.U16(), true
	case KindU32:
		return qtype.U32(), true
	case KindU64:
		return qtype.U64(), true
	case KindU128:
		return qtype.U128(), true
	case KindU256:
		return qtype.U256(), true
	case KindBool:
		return qtype.Bool(), true
	case KindString:
		return qtype.String(), true
	case KindRange:
		elem, _ := v.rng.start.Type()
		return qtype.Range(elem), true
	default:
		return qtype.Type{}, false
	}
}

func kindForNumericTag(tag qtype.Tag) Kind {
	switch tag {
	case qtype.TagU8:
		return KindU8
	case qtype.TagU16:
		return KindU16
	case qtype.TagU32:
		return KindU32
	case qtype.TagU64:
		return KindU64
	case qtype.TagU128:
		return KindU128
	case qtype.TagU256:
		return KindU256
	default:
		return KindNull
	}
}

// numericBig returns v's value as a big.Int if v is numeric or boolean,
// the two families CastTo accepts as a source.
func (v Value) numericBig() (*big.Int, error) {
	switch {
	case v.kind.isInteger():
		return v.toBig(), nil
	case v.kind == KindBool:
		return v.toBig(), nil
	default:
		return nil, ErrInvalidCast
	}
}

// CastTo implements the runtime CastTo opcode: unlike Add/Sub/etc, a cast
// to a narrower integer width is lossy by design (truncating), not
// checked — only the source/target shapes are validated, never the
// magnitude. Range is legal as a cast source only to String, rendered as "start..end"; it has no
// primitive byte so it can never be a cast target.
func (v Value) CastTo(target qtype.Type) (Value, error) {
	if target.Tag() == qtype.TagString {
		return NewString(v.String()), nil
	}
	if !target.IsNumber() {
		return Value{}, ErrInvalidCast
	}
	b, err := v.numericBig()
	if err != nil {
		return Value{}, err
	}
	k := kindForNumericTag(target.Tag())
	masked := maskTo(b, bitWidth(k))
	return fromBigUnchecked(k, masked), nil
}
