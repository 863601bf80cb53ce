package vm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quartz-lang/quartzvm/qtype"
	"github.com/quartz-lang/quartzvm/value"
	"github.com/quartz-lang/quartzvm/vm"
)

func u8Array(vs ...uint8) value.Pointer {
	elems := make([]value.Pointer, len(vs))
	for i, v := range vs {
		elems[i] = value.Owned(value.NewDefault(value.NewU8(v)))
	}
	return value.Owned(value.NewArray(elems))
}

func nextDefault(t *testing.T, it *vm.PathIterator) (value.Value, bool) {
	t.Helper()
	p, more, err := it.Next()
	require.NoError(t, err)
	if !more {
		return value.Value{}, false
	}
	var out value.Value
	require.NoError(t, p.WithRead(func(c *value.Cell) error {
		dv, ok := c.DefaultValue()
		require.True(t, ok)
		out = dv
		return nil
	}))
	p.Release()
	return out, true
}

func TestArrayIterationYieldsEveryElementInOrder(t *testing.T) {
	arr := u8Array(1, 2, 3)
	it, err := vm.NewPathIterator(arr)
	require.NoError(t, err)
	defer it.Release()

	for want := uint8(1); want <= 3; want++ {
		got, more := nextDefault(t, it)
		require.True(t, more)
		require.True(t, got.Equal(value.NewU8(want)))
	}
	_, more := nextDefault(t, it)
	require.False(t, more)
}

func TestRepeatedIterBeginIsIndependent(t *testing.T) {
	arr := u8Array(1, 2, 3)
	first := arr.Shareable()
	second := arr.Shareable()

	outer, err := vm.NewPathIterator(first)
	require.NoError(t, err)
	defer outer.Release()
	inner, err := vm.NewPathIterator(second)
	require.NoError(t, err)
	defer inner.Release()

	// Advancing the outer cursor twice must not move the inner one.
	nextDefault(t, outer)
	nextDefault(t, outer)
	got, more := nextDefault(t, inner)
	require.True(t, more)
	require.True(t, got.Equal(value.NewU8(1)))

	arr.Release()
}

func TestArrayGrowthDuringIterationIsObserved(t *testing.T) {
	arr := u8Array(1, 2)
	handle := arr.Shareable()
	it, err := vm.NewPathIterator(handle)
	require.NoError(t, err)
	defer it.Release()

	nextDefault(t, it)
	require.NoError(t, arr.WithWrite(func(c *value.Cell) error {
		return c.Push(value.Owned(value.NewDefault(value.NewU8(9))))
	}))

	got, _ := nextDefault(t, it)
	require.True(t, got.Equal(value.NewU8(2)))
	got, more := nextDefault(t, it)
	require.True(t, more)
	require.True(t, got.Equal(value.NewU8(9)))

	arr.Release()
}

func TestYieldedArrayElementAliasesTheLiveArray(t *testing.T) {
	arr := u8Array(1, 2)
	handle := arr.Shareable()
	it, err := vm.NewPathIterator(handle)
	require.NoError(t, err)
	defer it.Release()

	elem, more, err := it.Next()
	require.NoError(t, err)
	require.True(t, more)
	require.NoError(t, elem.WithWrite(func(c *value.Cell) error {
		*c = value.NewDefault(value.NewU8(42))
		return nil
	}))
	elem.Release()

	var got value.Value
	require.NoError(t, arr.WithRead(func(c *value.Cell) error {
		first, err := c.Get(0)
		if err != nil {
			return err
		}
		return first.WithRead(func(inner *value.Cell) error {
			dv, _ := inner.DefaultValue()
			got = dv
			return nil
		})
	}))
	require.True(t, got.Equal(value.NewU8(42)))

	arr.Release()
}

func TestRangeIterationYieldsEndMinusStartElements(t *testing.T) {
	rng, err := value.NewRange(value.NewU16(3), value.NewU16(6))
	require.NoError(t, err)
	it, err := vm.NewPathIterator(value.Owned(value.NewDefault(rng)))
	require.NoError(t, err)
	defer it.Release()

	for want := uint16(3); want < 6; want++ {
		got, more := nextDefault(t, it)
		require.True(t, more)
		require.True(t, got.Equal(value.NewU16(want)))
	}
	_, more := nextDefault(t, it)
	require.False(t, more)
}

func TestEmptyRangeYieldsNothing(t *testing.T) {
	rng, err := value.NewRange(value.NewU32(5), value.NewU32(5))
	require.NoError(t, err)
	it, err := vm.NewPathIterator(value.Owned(value.NewDefault(rng)))
	require.NoError(t, err)
	defer it.Release()

	_, more := nextDefault(t, it)
	require.False(t, more)
}

func TestIteratorRejectsNonIterableShapes(t *testing.T) {
	_, err := vm.NewPathIterator(value.Owned(value.NewDefault(value.NewU32(1))))
	requireFault(t, err, vm.KindInvalidIterable)

	m, err := value.NewMap(qtype.Any(), qtype.Any())
	require.NoError(t, err)
	_, err = vm.NewPathIterator(value.Owned(m))
	requireFault(t, err, vm.KindInvalidIterable)
}
