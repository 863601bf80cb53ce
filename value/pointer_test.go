package value_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quartz-lang/quartzvm/value"
)

func TestShareableAliasesSameCell(t *testing.T) {
	p := value.Owned(value.NewDefault(value.NewU8(1)))
	alias := p.Shareable()
	require.True(t, p.IsShared())
	require.True(t, alias.IsShared())

	require.NoError(t, alias.WithWrite(func(c *value.Cell) error {
		*c = value.NewDefault(value.NewU8(99))
		return nil
	}))

	var got value.Value
	require.NoError(t, p.WithRead(func(c *value.Cell) error {
		got, _ = c.DefaultValue()
		return nil
	}))
	require.True(t, got.Equal(value.NewU8(99)), "aliased pointers observe the same cell")
}

func TestWeakUpgradeFailsAfterLastStrongReleased(t *testing.T) {
	p := value.Owned(value.NewDefault(value.NewU8(1)))
	alias := p.Shareable()

	w, err := p.ToWeak()
	require.NoError(t, err)

	p.Release()
	alias.Release()

	_, ok := w.Upgrade()
	require.False(t, ok, "weak reference must not outlive every strong owner")
}

func TestWeakUpgradeSucceedsWhileStrongOwnerLives(t *testing.T) {
	p := value.Owned(value.NewDefault(value.NewU8(1)))
	alias := p.Shareable()
	w, err := alias.ToWeak()
	require.NoError(t, err)

	up, ok := w.Upgrade()
	require.True(t, ok)
	up.Release()
	p.Release()
	alias.Release()
}

func TestToWeakOnOwnedPointerErrors(t *testing.T) {
	p := value.Owned(value.NewDefault(value.NewU8(1)))
	_, err := p.ToWeak()
	require.ErrorIs(t, err, value.ErrTypeMismatch)
}

func TestBorrowConflictOnConcurrentWrite(t *testing.T) {
	p := value.Owned(value.NewDefault(value.NewU8(1)))
	alias := p.Shareable()

	err := p.WithRead(func(c *value.Cell) error {
		// While p holds a read lease, alias (the same SharedCell) must
		// reject a write.
		return alias.WithWrite(func(*value.Cell) error { return nil })
	})
	require.ErrorIs(t, err, value.ErrBorrowConflict)
}

func TestMultipleReadersAllowed(t *testing.T) {
	p := value.Owned(value.NewDefault(value.NewU8(1)))
	alias := p.Shareable()

	err := p.WithRead(func(c *value.Cell) error {
		return alias.WithRead(func(*value.Cell) error { return nil })
	})
	require.NoError(t, err)
}

func TestReleaseIsIterativeOverDeepArrayChain(t *testing.T) {
	// Given: a deeply nested chain of single-element arrays, deep enough
	// that a naive recursive Drop would risk a stack overflow.
	const depth = 50_000
	var cur value.Pointer = value.Owned(value.NewDefault(value.NewU8(0)))
	for i := 0; i < depth; i++ {
		cur = value.Owned(value.NewArray([]value.Pointer{cur}))
	}

	// When/Then: Release must complete without recursing depth times.
	cur.Release()
}

func TestReleaseOfSharedCellInvalidatesWeakObserver(t *testing.T) {
	// Given: a shared cell A with two strong handles and one Weak
	// observer, and an unrelated owned struct cell B. No edge links A and
	// B: a Cell's children are strong Pointers only and cannot hold a Weak.
	aPtr := value.Owned(value.NewDefault(value.NewU8(1)))
	aShared := aPtr.Shareable()
	aWeak, err := aShared.ToWeak()
	require.NoError(t, err)

	bPtr := value.Owned(value.NewStruct(1, nil))
	_ = aWeak

	// When: releasing both strong handles
	aPtr.Release()
	aShared.Release()
	bPtr.Release()

	// Then: the weak observer can no longer upgrade
	_, ok := aWeak.Upgrade()
	require.False(t, ok)
}
