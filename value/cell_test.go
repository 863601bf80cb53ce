package value_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quartz-lang/quartzvm/qtype"
	"github.com/quartz-lang/quartzvm/value"
)

func TestArrayGetSetBounds(t *testing.T) {
	arr := value.NewArray([]value.Pointer{
		value.Owned(value.NewDefault(value.NewU8(1))),
		value.Owned(value.NewDefault(value.NewU8(2))),
	})

	p, err := arr.Get(1)
	require.NoError(t, err)
	var got value.Value
	require.NoError(t, p.WithRead(func(c *value.Cell) error {
		got, _ = c.DefaultValue()
		return nil
	}))
	require.True(t, got.Equal(value.NewU8(2)))

	_, err = arr.Get(5)
	require.ErrorIs(t, err, value.ErrIndexOutOfBounds)
}

func TestArrayPushPop(t *testing.T) {
	arr := value.NewArray(nil)
	require.NoError(t, arr.Push(value.Owned(value.NewDefault(value.NewU8(9)))))
	n, _ := arr.Len()
	require.Equal(t, 1, n)

	p, err := arr.Pop()
	require.NoError(t, err)
	var got value.Value
	p.WithRead(func(c *value.Cell) error {
		got, _ = c.DefaultValue()
		return nil
	})
	require.True(t, got.Equal(value.NewU8(9)))

	_, err = arr.Pop()
	require.ErrorIs(t, err, value.ErrIndexOutOfBounds)
}

func TestOptionalNoneAndSome(t *testing.T) {
	none := value.NewNone()
	some, ok := none.IsSome()
	require.True(t, ok)
	require.False(t, some)

	withVal := value.NewSome(value.Owned(value.NewDefault(value.NewU8(3))))
	some, ok = withVal.IsSome()
	require.True(t, ok)
	require.True(t, some)
}

func TestMapRejectsMapTypedKey(t *testing.T) {
	_, err := value.NewMap(qtype.Map(qtype.U8(), qtype.U8()), qtype.U8())
	require.ErrorIs(t, err, value.ErrInvalidKeyType)
}

func TestMapSetGetDeletePreservesOrder(t *testing.T) {
	m, err := value.NewMap(qtype.String(), qtype.U8())
	require.NoError(t, err)

	require.NoError(t, m.MapSet(value.NewString("a"), value.Owned(value.NewDefault(value.NewU8(1)))))
	require.NoError(t, m.MapSet(value.NewString("b"), value.Owned(value.NewDefault(value.NewU8(2)))))
	require.NoError(t, m.MapSet(value.NewString("a"), value.Owned(value.NewDefault(value.NewU8(9)))))

	keys := m.MapKeys()
	require.Len(t, keys, 2)
	require.Equal(t, "a", keys[0].String())
	require.Equal(t, "b", keys[1].String())

	p, found, err := m.MapGet(value.NewString("a"))
	require.NoError(t, err)
	require.True(t, found)
	var got value.Value
	p.WithRead(func(c *value.Cell) error {
		got, _ = c.DefaultValue()
		return nil
	})
	require.True(t, got.Equal(value.NewU8(9)), "overwrite should replace in place, not append")

	_, found, err = m.MapDelete(value.NewString("a"))
	require.NoError(t, err)
	require.True(t, found)
	n, _ := m.MapLen()
	require.Equal(t, 1, n)
}

func TestStructFieldAccess(t *testing.T) {
	s := value.NewStruct(7, []value.Pointer{
		value.Owned(value.NewDefault(value.NewU8(1))),
		value.Owned(value.NewDefault(value.NewBool(true))),
	})

	id, ok := s.StructID()
	require.True(t, ok)
	require.Equal(t, uint16(7), id)

	_, err := s.Field(5)
	require.ErrorIs(t, err, value.ErrIndexOutOfBounds)
}

func TestEnumVariantAccess(t *testing.T) {
	e := value.NewEnum(3, 1, []value.Pointer{value.Owned(value.NewDefault(value.NewU8(5)))})
	id, ok := e.EnumID()
	require.True(t, ok)
	require.Equal(t, uint16(3), id)

	v, ok := e.Variant()
	require.True(t, ok)
	require.Equal(t, uint8(1), v)
}
