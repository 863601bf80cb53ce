package module

import (
	"encoding/binary"
	"math/big"

	"github.com/quartz-lang/quartzvm/qtype"
	"github.com/quartz-lang/quartzvm/value"
)

// Wire kind bytes for a ConstantValue's outer Cell shape, followed by the
// payload each shape needs. These mirror the six value.CellKind variants
// one-for-one.
const (
	cvDefault = iota
	cvArray
	cvStruct
	cvEnum
	cvOptional
	cvMap
)

// Wire kind bytes for the primitive Value a cvDefault node carries.
const (
	vvNull = iota
	vvU8
	vvU16
	vvU32
	vvU64
	vvU128
	vvU256
	vvBool
	vvString
	vvRange
)

func encodeValue(buf []byte, v value.Value) []byte {
	switch v.Kind() {
	case value.KindNull:
		return append(buf, vvNull)
	case value.KindU8:
		b, _ := v.NumericBig()
		return append(buf, vvU8, uint8(b.Uint64()))
	case value.KindU16:
		b, _ := v.NumericBig()
		buf = append(buf, vvU16)
		return binary.LittleEndian.AppendUint16(buf, uint16(b.Uint64()))
	case value.KindU32:
		b, _ := v.NumericBig()
		buf = append(buf, vvU32)
		return binary.LittleEndian.AppendUint32(buf, uint32(b.Uint64()))
	case value.KindU64:
		b, _ := v.NumericBig()
		buf = append(buf, vvU64)
		return binary.LittleEndian.AppendUint64(buf, b.Uint64())
	case value.KindU128:
		b, _ := v.NumericBig()
		buf = append(buf, vvU128)
		return appendBigLE(buf, b, 16)
	case value.KindU256:
		b, _ := v.NumericBig()
		buf = append(buf, vvU256)
		return appendBigLE(buf, b, 32)
	case value.KindBool:
		bv, _ := v.Bool()
		b := byte(0)
		if bv {
			b = 1
		}
		return append(buf, vvBool, b)
	case value.KindString:
		s, _ := v.Str()
		buf = append(buf, vvString)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		return append(buf, s...)
	case value.KindRange:
		start, end, _ := v.RangeBounds()
		buf = append(buf, vvRange)
		buf = encodeValue(buf, start)
		return encodeValue(buf, end)
	default:
		return buf
	}
}

// appendBigLE appends b's unsigned magnitude as exactly width little-
// endian bytes, zero-padded, matching the Module format's fixed-width
// U128/U256 wire encoding.
func appendBigLE(buf []byte, b *big.Int, width int) []byte {
	be := b.Bytes() // big-endian, MSB-first, no leading zero padding
	out := make([]byte, width)
	for i := 0; i < len(be); i++ {
		out[i] = be[len(be)-1-i]
	}
	return append(buf, out...)
}

func decodeValue(r *byteReader) (value.Value, error) {
	kind, err := r.u8()
	if err != nil {
		return value.Value{}, err
	}
	switch kind {
	case vvNull:
		return value.Null(), nil
	case vvU8:
		b, err := r.u8()
		if err != nil {
			return value.Value{}, err
		}
		return value.NewU8(b), nil
	case vvU16:
		u, err := r.u16()
		if err != nil {
			return value.Value{}, err
		}
		return value.NewU16(u), nil
	case vvU32:
		u, err := r.u32()
		if err != nil {
			return value.Value{}, err
		}
		return value.NewU32(u), nil
	case vvU64:
		u, err := r.u64()
		if err != nil {
			return value.Value{}, err
		}
		return value.NewU64(u), nil
	case vvU128:
		raw, err := r.bytes(16)
		if err != nil {
			return value.Value{}, err
		}
		v, verr := value.NewU128(bigFromLE(raw))
		if verr != nil {
			return value.Value{}, verr
		}
		return v, nil
	case vvU256:
		raw, err := r.bytes(32)
		if err != nil {
			return value.Value{}, err
		}
		v, verr := value.NewU256(bigFromLE(raw))
		if verr != nil {
			return value.Value{}, verr
		}
		return v, nil
	case vvBool:
		b, err := r.u8()
		if err != nil {
			return value.Value{}, err
		}
		return value.NewBool(b != 0), nil
	case vvString:
		n, err := r.u32()
		if err != nil {
			return value.Value{}, err
		}
		raw, err := r.bytes(int(n))
		if err != nil {
			return value.Value{}, err
		}
		return value.NewString(string(raw)), nil
	case vvRange:
		start, err := decodeValue(r)
		if err != nil {
			return value.Value{}, err
		}
		end, err := decodeValue(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewRange(start, end)
	default:
		return value.Value{}, ErrMalformed
	}
}

func bigFromLE(raw []byte) *big.Int {
	be := make([]byte, len(raw))
	for i, b := range raw {
		be[len(raw)-1-i] = b
	}
	return new(big.Int).SetBytes(be)
}

// encodeCell appends c's ConstantValue wire encoding to buf.
func encodeCell(buf []byte, c value.Cell) []byte {
	switch c.Kind() {
	case value.CellDefault:
		v, _ := c.DefaultValue()
		buf = append(buf, cvDefault)
		return encodeValue(buf, v)
	case value.CellArray:
		elems, _ := c.Elements()
		buf = append(buf, cvArray)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(elems)))
		for _, p := range elems {
			buf = encodePointer(buf, p)
		}
		return buf
	case value.CellStruct:
		id, _ := c.StructID()
		fields, _ := c.Fields()
		buf = append(buf, cvStruct)
		buf = binary.LittleEndian.AppendUint16(buf, id)
		for _, p := range fields {
			buf = encodePointer(buf, p)
		}
		return buf
	case value.CellEnum:
		id, _ := c.EnumID()
		variant, _ := c.Variant()
		fields, _ := c.VariantFields()
		buf = append(buf, cvEnum)
		buf = binary.LittleEndian.AppendUint16(buf, id)
		buf = append(buf, variant)
		for _, p := range fields {
			buf = encodePointer(buf, p)
		}
		return buf
	case value.CellOptional:
		some, _ := c.IsSome()
		buf = append(buf, cvOptional)
		if !some {
			return append(buf, 0)
		}
		buf = append(buf, 1)
		inner, _ := c.Unwrap()
		return encodePointer(buf, inner)
	case value.CellMap:
		keyType, valType, _ := c.MapTypes()
		buf = append(buf, cvMap)
		buf = encodeType(buf, keyType)
		buf = encodeType(buf, valType)
		keys := c.MapSortedKeys()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(keys)))
		for _, k := range keys {
			p, _, _ := c.MapGet(k)
			buf = encodeValue(buf, k)
			buf = encodePointer(buf, p)
		}
		return buf
	default:
		return buf
	}
}

func encodePointer(buf []byte, p value.Pointer) []byte {
	var inner value.Cell
	_ = (&p).WithRead(func(c *value.Cell) error {
		inner = *c
		return nil
	})
	return encodeCell(buf, inner)
}

// decodeCell reconstructs Struct/Enum payload lengths from the schemas
// decoded earlier in the Module: the type, not the wire value, owns the
// field count, so constants carry no redundant length prefix.
func decodeCell(r *byteReader, structs []qtype.StructSchema, enums []qtype.EnumSchema) (value.Cell, error) {
	kind, err := r.u8()
	if err != nil {
		return value.Cell{}, err
	}
	switch kind {
	case cvDefault:
		v, err := decodeValue(r)
		if err != nil {
			return value.Cell{}, err
		}
		return value.NewDefault(v), nil
	case cvArray:
		n, err := r.u32()
		if err != nil {
			return value.Cell{}, err
		}
		// Every element takes at least one byte, so a count above the
		// remaining input is malformed and never sizes an allocation.
		if uint64(n) > uint64(len(r.buf)-r.pos) {
			return value.Cell{}, ErrMalformed
		}
		elems := make([]value.Pointer, 0, n)
		for i := uint32(0); i < n; i++ {
			p, err := decodePointer(r, structs, enums)
			if err != nil {
				return value.Cell{}, err
			}
			elems = append(elems, p)
		}
		return value.NewArray(elems), nil
	case cvStruct:
		id, err := r.u16()
		if err != nil {
			return value.Cell{}, err
		}
		schema, ok := findStruct(structs, id)
		if !ok {
			return value.Cell{}, ErrMalformed
		}
		fields := make([]value.Pointer, 0, len(schema.Fields))
		for range schema.Fields {
			p, err := decodePointer(r, structs, enums)
			if err != nil {
				return value.Cell{}, err
			}
			fields = append(fields, p)
		}
		return value.NewStruct(id, fields), nil
	case cvEnum:
		id, err := r.u16()
		if err != nil {
			return value.Cell{}, err
		}
		variant, err := r.u8()
		if err != nil {
			return value.Cell{}, err
		}
		schema, ok := findEnum(enums, id)
		if !ok {
			return value.Cell{}, ErrMalformed
		}
		v, ok := schema.Variant(variant)
		if !ok {
			return value.Cell{}, ErrMalformed
		}
		fields := make([]value.Pointer, 0, len(v.Fields))
		for range v.Fields {
			p, err := decodePointer(r, structs, enums)
			if err != nil {
				return value.Cell{}, err
			}
			fields = append(fields, p)
		}
		return value.NewEnum(id, variant, fields), nil
	case cvOptional:
		present, err := r.u8()
		if err != nil {
			return value.Cell{}, err
		}
		if present == 0 {
			return value.NewNone(), nil
		}
		p, err := decodePointer(r, structs, enums)
		if err != nil {
			return value.Cell{}, err
		}
		return value.NewSome(p), nil
	case cvMap:
		keyType, err := decodeType(r)
		if err != nil {
			return value.Cell{}, err
		}
		valType, err := decodeType(r)
		if err != nil {
			return value.Cell{}, err
		}
		m, err := value.NewMap(keyType, valType)
		if err != nil {
			return value.Cell{}, err
		}
		n, err := r.u32()
		if err != nil {
			return value.Cell{}, err
		}
		for i := uint32(0); i < n; i++ {
			k, err := decodeValue(r)
			if err != nil {
				return value.Cell{}, err
			}
			p, err := decodePointer(r, structs, enums)
			if err != nil {
				return value.Cell{}, err
			}
			if err := m.MapSet(k, p); err != nil {
				return value.Cell{}, err
			}
		}
		return m, nil
	default:
		return value.Cell{}, ErrMalformed
	}
}

func decodePointer(r *byteReader, structs []qtype.StructSchema, enums []qtype.EnumSchema) (value.Pointer, error) {
	c, err := decodeCell(r, structs, enums)
	if err != nil {
		return value.Pointer{}, err
	}
	return value.Owned(c), nil
}

func findStruct(structs []qtype.StructSchema, id uint16) (qtype.StructSchema, bool) {
	for _, s := range structs {
		if s.ID == id {
			return s, true
		}
	}
	return qtype.StructSchema{}, false
}

func findEnum(enums []qtype.EnumSchema, id uint16) (qtype.EnumSchema, bool) {
	for _, e := range enums {
		if e.ID == id {
			return e, true
		}
	}
	return qtype.EnumSchema{}, false
}
