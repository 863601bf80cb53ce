package module_test

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/quartz-lang/quartzvm/module"
	"github.com/quartz-lang/quartzvm/opcode"
	"github.com/quartz-lang/quartzvm/qtype"
	"github.com/quartz-lang/quartzvm/value"
)

func TestEncodeDecodeRoundTripsEmptyModule(t *testing.T) {
	m := module.New(nil, nil, nil, nil)
	raw := m.Encode()

	got, err := module.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, module.Version, got.FormatVersion)
	require.Empty(t, got.Structs)
	require.Empty(t, got.Constants)
	require.Empty(t, got.Chunks)
}

func TestEncodeDecodeRoundTripsScalarConstants(t *testing.T) {
	u256, err := value.NewU256(big.NewInt(9999))
	require.NoError(t, err)

	constants := []value.Cell{
		value.NewDefault(value.NewU8(7)),
		value.NewDefault(value.NewString("hello")),
		value.NewDefault(value.NewBool(true)),
		value.NewDefault(u256),
	}
	m := module.New(nil, nil, constants, nil)

	got, err := module.Decode(m.Encode())
	require.NoError(t, err)
	require.Len(t, got.Constants, 4)

	v0, _ := got.Constants[0].DefaultValue()
	require.True(t, v0.Equal(value.NewU8(7)))

	v1, _ := got.Constants[1].DefaultValue()
	s, _ := v1.Str()
	require.Equal(t, "hello", s)

	v3, _ := got.Constants[3].DefaultValue()
	require.True(t, v3.Equal(u256))
}

func TestEncodeDecodeRoundTripsRangeConstant(t *testing.T) {
	rng, err := value.NewRange(value.NewU32(1), value.NewU32(10))
	require.NoError(t, err)
	m := module.New(nil, nil, []value.Cell{value.NewDefault(rng)}, nil)

	got, err := module.Decode(m.Encode())
	require.NoError(t, err)
	v, _ := got.Constants[0].DefaultValue()
	require.True(t, v.Equal(rng))
}

func TestEncodeDecodeRoundTripsArrayConstant(t *testing.T) {
	arr := value.NewArray([]value.Pointer{
		value.Owned(value.NewDefault(value.NewU8(1))),
		value.Owned(value.NewDefault(value.NewU8(2))),
	})
	m := module.New(nil, nil, []value.Cell{arr}, nil)

	got, err := module.Decode(m.Encode())
	require.NoError(t, err)
	elems, _ := got.Constants[0].Elements()
	require.Len(t, elems, 2)

	var v value.Value
	require.NoError(t, elems[1].WithRead(func(c *value.Cell) error {
		v, _ = c.DefaultValue()
		return nil
	}))
	require.True(t, v.Equal(value.NewU8(2)))
}

func TestEncodeDecodeRoundTripsStructConstant(t *testing.T) {
	structs := []qtype.StructSchema{{ID: 0, Fields: []qtype.Type{qtype.U8(), qtype.String()}}}
	s := value.NewStruct(0, []value.Pointer{
		value.Owned(value.NewDefault(value.NewU8(5))),
		value.Owned(value.NewDefault(value.NewString("x"))),
	})
	m := module.New(structs, nil, []value.Cell{s}, nil)

	got, err := module.Decode(m.Encode())
	require.NoError(t, err)
	id, _ := got.Constants[0].StructID()
	require.Equal(t, uint16(0), id)
	fields, _ := got.Constants[0].Fields()
	require.Len(t, fields, 2)
}

func TestEncodeDecodeRoundTripsEnumConstant(t *testing.T) {
	enums := []qtype.EnumSchema{{ID: 0, Variants: []qtype.EnumVariant{
		{Fields: nil},
		{Fields: []qtype.Type{qtype.U32()}},
	}}}
	e := value.NewEnum(0, 1, []value.Pointer{value.Owned(value.NewDefault(value.NewU32(42)))})
	m := module.New(nil, enums, []value.Cell{e}, nil)

	got, err := module.Decode(m.Encode())
	require.NoError(t, err)
	id, _ := got.Constants[0].EnumID()
	variant, _ := got.Constants[0].Variant()
	require.Equal(t, uint16(0), id)
	require.Equal(t, uint8(1), variant)
}

func TestEncodeDecodeRoundTripsOptionalConstant(t *testing.T) {
	some := value.NewSome(value.Owned(value.NewDefault(value.NewU8(3))))
	none := value.NewNone()
	m := module.New(nil, nil, []value.Cell{some, none}, nil)

	got, err := module.Decode(m.Encode())
	require.NoError(t, err)

	somePresent, _ := got.Constants[0].IsSome()
	require.True(t, somePresent)
	nonePresent, _ := got.Constants[1].IsSome()
	require.False(t, nonePresent)
}

func TestEncodeDecodeRoundTripsMapConstant(t *testing.T) {
	m0, err := value.NewMap(qtype.String(), qtype.U8())
	require.NoError(t, err)
	require.NoError(t, m0.MapSet(value.NewString("a"), value.Owned(value.NewDefault(value.NewU8(1)))))
	require.NoError(t, m0.MapSet(value.NewString("b"), value.Owned(value.NewDefault(value.NewU8(2)))))

	m := module.New(nil, nil, []value.Cell{m0}, nil)
	got, err := module.Decode(m.Encode())
	require.NoError(t, err)

	n, _ := got.Constants[0].MapLen()
	require.Equal(t, 2, n)
}

func TestEncodeDecodeRoundTripsChunks(t *testing.T) {
	chunk := []byte{byte(opcode.LoadConst), 0x00, 0x00, byte(opcode.Return)}
	m := module.New(nil, nil, nil, [][]byte{chunk})

	got, err := module.Decode(m.Encode())
	require.NoError(t, err)
	require.Equal(t, chunk, got.Chunks[0])
}

func TestReencodeIsByteIdentical(t *testing.T) {
	// Decode then re-encode must reproduce the wire bytes exactly; a
	// structural diff of the two buffers pinpoints any drift in the
	// fixed layout.
	rng, err := value.NewRange(value.NewU16(1), value.NewU16(5))
	require.NoError(t, err)
	m := module.New(
		[]qtype.StructSchema{{ID: 0, Fields: []qtype.Type{qtype.U8(), qtype.Array(qtype.Bool())}}},
		[]qtype.EnumSchema{{ID: 0, Variants: []qtype.EnumVariant{{Fields: []qtype.Type{qtype.String()}}}}},
		[]value.Cell{value.NewDefault(rng), value.NewDefault(value.NewString("k"))},
		[][]byte{{byte(opcode.Return)}},
	)
	raw := m.Encode()

	got, err := module.Decode(raw)
	require.NoError(t, err)
	if diff := cmp.Diff(raw, got.Encode()); diff != "" {
		t.Fatalf("re-encoded module differs from original (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := module.Decode([]byte{0, 0, 0, 0})
	require.ErrorIs(t, err, module.ErrMalformed)
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	m := module.New(nil, nil, []value.Cell{value.NewDefault(value.NewString("hello world"))}, nil)
	raw := m.Encode()
	_, err := module.Decode(raw[:len(raw)-3])
	require.ErrorIs(t, err, module.ErrMalformed)
}

func TestHashIsStableAndContentSensitive(t *testing.T) {
	a := module.New(nil, nil, []value.Cell{value.NewDefault(value.NewU8(1))}, nil)
	b := module.New(nil, nil, []value.Cell{value.NewDefault(value.NewU8(1))}, nil)
	c := module.New(nil, nil, []value.Cell{value.NewDefault(value.NewU8(2))}, nil)

	require.Equal(t, a.Hash(), b.Hash())
	require.NotEqual(t, a.Hash(), c.Hash())
}

func TestVersionStringRendersSemver(t *testing.T) {
	require.Equal(t, "v1.0.0", module.VersionString(module.Version))
}

func TestCanonicalProducesValidCBOR(t *testing.T) {
	m := module.New(
		[]qtype.StructSchema{{ID: 0, Fields: []qtype.Type{qtype.U8()}}},
		nil,
		[]value.Cell{value.NewDefault(value.NewU8(1))},
		[][]byte{{byte(opcode.Return)}},
	)
	out, err := m.Canonical()
	require.NoError(t, err)
	require.NotEmpty(t, out)
}
