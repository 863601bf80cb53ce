// Package qpath implements Path, a transient access token the VM resolves
// a storage location to before reading, writing, or addressing into it.
// Owned holds a cell nobody else can reach, Borrowed references a cell
// that outlives the Path (a constant, a caller-owned slot) and is
// promoted to Owned on first write (copy-on-write), and Wrapper holds a
// cell reached by addressing into a parent through GetSubVariable.
package qpath

import (
	"github.com/quartz-lang/quartzvm/internal/invariant"
	"github.com/quartz-lang/quartzvm/value"
)

type kind uint8

const (
	kindOwned kind = iota
	kindBorrowed
	kindWrapper
)

// Path is a value type; its zero value is not meaningful, always
// construct one via NewOwned/NewBorrowed/GetSubVariable.
type Path struct {
	kind     kind
	owned    value.Cell
	borrowed *value.Cell
	wrapped  value.Pointer
}

// NewOwned wraps a cell the Path exclusively owns (e.g. a freshly
// constructed local before it is stored anywhere).
func NewOwned(c value.Cell) Path { return Path{kind: kindOwned, owned: c} }

// NewBorrowed wraps a cell owned by the caller (a module constant, a
// slot in a frame's locals) that outlives this Path. Writing through a
// Borrowed Path promotes it to Owned via copy-on-write; the caller's
// original cell is never mutated through a Borrowed handle.
func NewBorrowed(c *value.Cell) Path { return Path{kind: kindBorrowed, borrowed: c} }

func newWrapper(p value.Pointer) Path { return Path{kind: kindWrapper, wrapped: p} }

// FromPointer wraps an existing value.Pointer (typically an operand
// popped off the VM's stack) as a Wrapper Path, so SubLoad/SubStore can
// address into it with the same GetSubVariable/Assign machinery used for
// locals and constants.
func FromPointer(p value.Pointer) Path { return newWrapper(p) }

// WithRead runs f with read access to the Path's current cell.
func (p *Path) WithRead(f func(*value.Cell) error) error {
	switch p.kind {
	case kindOwned:
		return f(&p.owned)
	case kindBorrowed:
		return f(p.borrowed)
	case kindWrapper:
		return p.wrapped.WithRead(f)
	default:
		invariant.Invariant(false, "qpath: path has no shape")
		return nil
	}
}

// WithWrite runs f with write access to the Path's current cell. A
// Borrowed Path is promoted to Owned unconditionally once a write is
// attempted, even if f itself returns an error.
func (p *Path) WithWrite(f func(*value.Cell) error) error {
	switch p.kind {
	case kindOwned:
		return f(&p.owned)
	case kindBorrowed:
		cloned := p.borrowed.Clone()
		err := f(&cloned)
		*p = NewOwned(cloned)
		return err
	case kindWrapper:
		return p.wrapped.WithWrite(f)
	default:
		invariant.Invariant(false, "qpath: path has no shape")
		return nil
	}
}

func childCount(c value.Cell) (int, error) {
	switch c.Kind() {
	case value.CellArray:
		n, _ := c.Len()
		return n, nil
	case value.CellStruct:
		f, _ := c.Fields()
		return len(f), nil
	case value.CellEnum:
		f, _ := c.VariantFields()
		return len(f), nil
	case value.CellOptional:
		some, _ := c.IsSome()
		if some {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, value.ErrTypeMismatch
	}
}

func getChild(c *value.Cell, index uint64) (value.Pointer, error) {
	switch c.Kind() {
	case value.CellArray:
		return c.Get(index)
	case value.CellStruct:
		return c.Field(uint16(index))
	case value.CellEnum:
		fields, _ := c.VariantFields()
		if index >= uint64(len(fields)) {
			return value.Pointer{}, value.ErrIndexOutOfBounds
		}
		return fields[index], nil
	case value.CellOptional:
		if index != 0 {
			return value.Pointer{}, value.ErrIndexOutOfBounds
		}
		return c.Unwrap()
	default:
		return value.Pointer{}, value.ErrTypeMismatch
	}
}

func setChild(c *value.Cell, index uint64, p value.Pointer) error {
	switch c.Kind() {
	case value.CellArray:
		return c.Set(index, p)
	case value.CellStruct:
		return c.SetField(uint16(index), p)
	case value.CellEnum:
		fields, _ := c.VariantFields()
		if index >= uint64(len(fields)) {
			return value.ErrIndexOutOfBounds
		}
		fields[index] = p
		return nil
	case value.CellOptional:
		if index != 0 {
			return value.ErrIndexOutOfBounds
		}
		*c = value.NewSome(p)
		return nil
	default:
		return value.ErrTypeMismatch
	}
}

// releaseAllExcept drops every child of c other than keep: when an
// Owned cell is consumed by GetSubVariable, only the addressed child
// survives, the rest must be released so shared children don't keep
// stale strong counts.
func releaseAllExcept(c *value.Cell, keep uint64) {
	n, err := childCount(*c)
	if err != nil {
		return
	}
	for i := 0; i < n; i++ {
		if uint64(i) == keep {
			continue
		}
		p, err := getChild(c, uint64(i))
		if err != nil {
			continue
		}
		p.Release()
	}
}

// GetSubVariable addresses into the Path's current cell at index,
// returning a new Path over that element. Out-of-range faults
// IndexOutOfBounds (Open Question 1: never wraps). The returned Path
// always has Wrapper shape: the addressed child is promoted to a shared
// Pointer (via value.Pointer.Shareable) so the caller holds an aliasable
// handle regardless of how the parent was reached.
func (p *Path) GetSubVariable(index uint64) (Path, error) {
	switch p.kind {
	case kindOwned:
		n, err := childCount(p.owned)
		if err != nil {
			return Path{}, err
		}
		if index >= uint64(n) {
			return Path{}, value.ErrIndexOutOfBounds
		}
		selected, err := getChild(&p.owned, index)
		if err != nil {
			return Path{}, err
		}
		releaseAllExcept(&p.owned, index)
		alias := selected.Shareable()
		// selected is now a second strong handle to the same cell as
		// alias; release it once the shared handle is safely aliasable.
		selected.Release()
		return newWrapper(alias), nil
	case kindBorrowed:
		return getSubVariableFrom(p.borrowed, index)
	case kindWrapper:
		var result Path
		err := p.wrapped.WithWrite(func(c *value.Cell) error {
			sub, err := getSubVariableFrom(c, index)
			if err != nil {
				return err
			}
			result = sub
			return nil
		})
		if err != nil {
			return Path{}, err
		}
		return result, nil
	default:
		invariant.Invariant(false, "qpath: path has no shape")
		return Path{}, nil
	}
}

// getSubVariableFrom addresses into a cell the caller does not own
// outright (a Borrowed slot, or a cell reached through a Wrapper's write
// lease): the targeted child is promoted to shared in place and aliased,
// leaving every sibling untouched since the parent storage survives this
// Path.
func getSubVariableFrom(c *value.Cell, index uint64) (Path, error) {
	n, err := childCount(*c)
	if err != nil {
		return Path{}, err
	}
	if index >= uint64(n) {
		return Path{}, value.ErrIndexOutOfBounds
	}
	child, err := getChild(c, index)
	if err != nil {
		return Path{}, err
	}
	alias := child.Shareable()
	if err := setChild(c, index, child); err != nil {
		return Path{}, err
	}
	return newWrapper(alias), nil
}

// Assign replaces the Path's current cell with v, releasing whatever was
// there before.
func (p *Path) Assign(v value.Cell) error {
	switch p.kind {
	case kindOwned:
		old := value.Owned(p.owned)
		p.owned = v
		old.Release()
		return nil
	case kindBorrowed:
		*p = NewOwned(v)
		return nil
	case kindWrapper:
		return p.wrapped.WithWrite(func(c *value.Cell) error {
			old := value.Owned(*c)
			*c = v
			old.Release()
			return nil
		})
	default:
		invariant.Invariant(false, "qpath: path has no shape")
		return nil
	}
}

// IntoOwned extracts the Path's cell by value, cloning if the Path does
// not already exclusively own it.
func (p Path) IntoOwned() value.Cell {
	switch p.kind {
	case kindOwned:
		return p.owned
	case kindBorrowed:
		return p.borrowed.Clone()
	case kindWrapper:
		var out value.Cell
		_ = p.wrapped.WithRead(func(c *value.Cell) error {
			out = c.Clone()
			return nil
		})
		return out
	default:
		return value.Cell{}
	}
}

// IntoPointer converts the Path into a value.Pointer suitable for storing
// into a container (an array element, a struct field): Owned/Borrowed
// cells become fresh owned pointers, a Wrapper's existing shared pointer
// is handed over directly.
func (p Path) IntoPointer() value.Pointer {
	switch p.kind {
	case kindOwned:
		return value.Owned(p.owned)
	case kindBorrowed:
		return value.Owned(p.borrowed.Clone())
	case kindWrapper:
		return p.wrapped
	default:
		return value.Pointer{}
	}
}
