package vm

import (
	"github.com/quartz-lang/quartzvm/value"
)

// PathIterator drives IterBegin/IterNext/IterEnd over the two iterable
// shapes: an Array (walk indices 0..len against the live
// container) and a Range (walk typed integers start..end). It holds a
// strong handle on its source for its whole lifetime, so mutating the
// source mid-iteration is legal and observed: an Array that grows while
// iterated yields its new elements.
type PathIterator struct {
	inner value.Pointer
	// index is a typed Value: U32 for arrays, the range's own primitive
	// type for ranges, so the loop counter overflows exactly when a
	// value of that type would.
	index value.Value
	end   value.Value // range upper bound; Null for arrays
}

// NewPathIterator binds an iterator to the cell behind inner, faulting
// InvalidIterable for any shape other than Array or Range. Each call
// creates an independent cursor: two IterBegins over the same cell never
// share an index.
func NewPathIterator(inner value.Pointer) (*PathIterator, error) {
	it := &PathIterator{inner: inner}
	err := inner.WithRead(func(c *value.Cell) error {
		switch c.Kind() {
		case value.CellArray:
			it.index = value.NewU32(0)
			it.end = value.Null()
			return nil
		case value.CellDefault:
			dv, _ := c.DefaultValue()
			start, end, ok := dv.RangeBounds()
			if !ok {
				return &Fault{Kind: KindInvalidIterable}
			}
			it.index = start
			it.end = end
			return nil
		default:
			return &Fault{Kind: KindInvalidIterable}
		}
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Next produces the next element, or ok=false on exhaustion. Array
// elements come back as shared handles into the live array (a write
// through the yielded pointer is a write into the array); range elements
// are fresh owned integers.
func (it *PathIterator) Next() (value.Pointer, bool, error) {
	if !it.end.IsNull() {
		return it.nextRange()
	}
	return it.nextArray()
}

func (it *PathIterator) nextRange() (value.Pointer, bool, error) {
	cmp, err := value.Compare(it.index, it.end)
	if err != nil {
		return value.Pointer{}, false, err
	}
	if cmp >= 0 {
		return value.Pointer{}, false, nil
	}
	current := it.index
	next, err := value.Increment(it.index)
	if err != nil {
		return value.Pointer{}, false, err
	}
	it.index = next
	return value.Owned(value.NewDefault(current)), true, nil
}

func (it *PathIterator) nextArray() (value.Pointer, bool, error) {
	var out value.Pointer
	var exhausted bool
	err := it.inner.WithWrite(func(c *value.Cell) error {
		n, ok := c.Len()
		if !ok {
			return &Fault{Kind: KindInvalidIterable}
		}
		idx := it.index
		big, _ := idx.NumericBig()
		i := big.Uint64()
		if i >= uint64(n) {
			exhausted = true
			return nil
		}
		child, err := c.Get(i)
		if err != nil {
			return err
		}
		out = child.Shareable()
		if err := c.Set(i, child); err != nil {
			return err
		}
		next, err := value.Increment(it.index)
		if err != nil {
			return err
		}
		it.index = next
		return nil
	})
	if err != nil {
		return value.Pointer{}, false, err
	}
	if exhausted {
		return value.Pointer{}, false, nil
	}
	return out, true, nil
}

// Release drops the iterator's handle on its source.
func (it *PathIterator) Release() {
	it.inner.Release()
}
