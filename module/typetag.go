package module

import (
	"encoding/binary"
	"fmt"

	"github.com/quartz-lang/quartzvm/qtype"
)

// Wire tags for qtype.Type. The eight primitives keep their stable
// primitive byte (qtype.Tag's iota ordering, 0-7); composites continue
// the same byte space so a TypeTag is always a single self-describing
// byte followed by whatever recursive payload its shape needs.
const (
	tagArray    = 8
	tagOptional = 9
	tagRange    = 10
	tagMap      = 11
	tagStruct   = 12
	tagEnum     = 13
	tagAny      = 14
	tagT        = 15
)

// encodeType appends t's wire TypeTag encoding to buf.
func encodeType(buf []byte, t qtype.Type) []byte {
	if t.IsPrimitive() {
		b, _ := t.PrimitiveTag()
		return append(buf, b)
	}
	switch t.Tag() {
	case qtype.TagArray:
		buf = append(buf, tagArray)
		return encodeType(buf, t.InnerType())
	case qtype.TagOptional:
		buf = append(buf, tagOptional)
		return encodeType(buf, t.InnerType())
	case qtype.TagRange:
		buf = append(buf, tagRange)
		return encodeType(buf, t.InnerType())
	case qtype.TagMap:
		buf = append(buf, tagMap)
		key, _ := t.GenericType(0)
		val, _ := t.GenericType(1)
		buf = encodeType(buf, key)
		return encodeType(buf, val)
	case qtype.TagStruct:
		buf = append(buf, tagStruct)
		return binary.LittleEndian.AppendUint16(buf, t.StructID())
	case qtype.TagEnum:
		buf = append(buf, tagEnum)
		return binary.LittleEndian.AppendUint16(buf, t.EnumID())
	case qtype.TagAny:
		return append(buf, tagAny)
	case qtype.TagT:
		buf = append(buf, tagT)
		return append(buf, t.GenericPosition())
	default:
		panic(fmt.Sprintf("module: unencodable type %s", t))
	}
}

// decodeType reads one TypeTag (and its recursive payload, if any) from r.
func decodeType(r *byteReader) (qtype.Type, error) {
	b, err := r.u8()
	if err != nil {
		return qtype.Type{}, err
	}
	if t, ok := qtype.PrimitiveFromTag(b); ok {
		return t, nil
	}
	switch b {
	case tagArray:
		inner, err := decodeType(r)
		if err != nil {
			return qtype.Type{}, err
		}
		return qtype.Array(inner), nil
	case tagOptional:
		inner, err := decodeType(r)
		if err != nil {
			return qtype.Type{}, err
		}
		return qtype.Optional(inner), nil
	case tagRange:
		inner, err := decodeType(r)
		if err != nil {
			return qtype.Type{}, err
		}
		return qtype.Range(inner), nil
	case tagMap:
		key, err := decodeType(r)
		if err != nil {
			return qtype.Type{}, err
		}
		val, err := decodeType(r)
		if err != nil {
			return qtype.Type{}, err
		}
		return qtype.Map(key, val), nil
	case tagStruct:
		id, err := r.u16()
		if err != nil {
			return qtype.Type{}, err
		}
		return qtype.Struct(id), nil
	case tagEnum:
		id, err := r.u16()
		if err != nil {
			return qtype.Type{}, err
		}
		return qtype.Enum(id), nil
	case tagAny:
		return qtype.Any(), nil
	case tagT:
		pos, err := r.u8()
		if err != nil {
			return qtype.Type{}, err
		}
		return qtype.Generic(pos), nil
	default:
		return qtype.Type{}, ErrMalformed
	}
}
