package value

// ownership discriminates whether a Pointer exclusively owns its Cell or
// aliases one shared with other Pointers/Weaks.
type ownership uint8

const (
	ownedKind ownership = iota
	sharedKind
)

// leaseState implements the dynamically-checked single-threaded borrow
// discipline: 0 is free, a positive count is that many concurrent
// readers, -1 is a single writer. This is deliberately not a
// sync.Mutex/sync.RWMutex: the VM is single-threaded and cooperative, and
// a reentrant same-goroutine nested borrow (a native function that reads
// a cell it is already borrowing, reachable through aliasing) would
// deadlock a real mutex instead of producing a BorrowConflict fault.
type leaseState int32

// SharedCell is the reference-counted box behind a sharedKind Pointer: a
// strong count of live Pointers, a weak count of live Weaks, the Cell
// itself, and its borrow lease.
type SharedCell struct {
	strong int64
	weak   int64
	cell   Cell
	lease  leaseState
}

// Pointer is either the sole owner of a
// Cell, or one of several handles sharing a SharedCell. Its zero value is
// an owned Null default cell, matching the emptied state Release leaves
// behind.
type Pointer struct {
	kind   ownership
	owned  Cell
	shared *SharedCell
}

// Owned wraps c as an exclusively-owned Pointer.
func Owned(c Cell) Pointer { return Pointer{kind: ownedKind, owned: c} }

// IsOwned / IsShared report which ownership mode p is in.
func (p Pointer) IsOwned() bool  { return p.kind == ownedKind }
func (p Pointer) IsShared() bool { return p.kind == sharedKind }

// Shareable converts an owned Pointer into a shared one in place and
// returns a second Pointer aliasing the same underlying cell. Calling it
// again on an already-shared Pointer just clones the handle (increments
// strong). This is how sub-value addressing and any native function
// that wants to retain an aliasable handle obtain one.
func (p *Pointer) Shareable() Pointer {
	if p.kind == ownedKind {
		sc := &SharedCell{strong: 2, cell: p.owned}
		p.kind = sharedKind
		p.shared = sc
		p.owned = Cell{}
		return Pointer{kind: sharedKind, shared: sc}
	}
	p.shared.strong++
	return Pointer{kind: sharedKind, shared: p.shared}
}

// Clone aliases a shared Pointer (bumping its strong count) or
// deep-clones an owned one recursively: cheap sharing only happens
// once a subtree has been promoted with Shareable, a clone of a still-
// Owned chain genuinely duplicates it node by node.
func (p Pointer) Clone() Pointer {
	if p.kind == sharedKind {
		p.shared.strong++
		return Pointer{kind: sharedKind, shared: p.shared}
	}
	return Pointer{kind: ownedKind, owned: p.owned.Clone()}
}

// Weak is a non-owning observer of a SharedCell: it does not keep the
// cell alive, and Upgrade fails once the last strong Pointer is
// released.
type Weak struct {
	shared *SharedCell
}

// ToWeak derives a Weak from a shared Pointer. It errors on an owned
// Pointer: there is nothing to weakly observe until the cell has been
// made shareable at least once.
func (p Pointer) ToWeak() (Weak, error) {
	if p.kind != sharedKind {
		return Weak{}, ErrTypeMismatch
	}
	p.shared.weak++
	return Weak{shared: p.shared}, nil
}

// Upgrade returns a new strong Pointer to the observed cell, or ok=false
// if every strong owner has already released it.
func (w Weak) Upgrade() (Pointer, bool) {
	if w.shared == nil || w.shared.strong <= 0 {
		return Pointer{}, false
	}
	w.shared.strong++
	return Pointer{kind: sharedKind, shared: w.shared}, true
}

// WithRead runs f with shared-read access to p's cell. On an owned
// Pointer this is unconditional (no other handle can exist); on a shared
// Pointer it faults BorrowConflict if a writer currently holds the lease.
func (p *Pointer) WithRead(f func(*Cell) error) error {
	if p.kind == ownedKind {
		return f(&p.owned)
	}
	if p.shared.lease < 0 {
		return ErrBorrowConflict
	}
	p.shared.lease++
	defer func() { p.shared.lease-- }()
	return f(&p.shared.cell)
}

// WithWrite runs f with exclusive write access to p's cell, faulting
// BorrowConflict on a shared Pointer if any reader or writer already
// holds the lease.
func (p *Pointer) WithWrite(f func(*Cell) error) error {
	if p.kind == ownedKind {
		return f(&p.owned)
	}
	if p.shared.lease != 0 {
		return ErrBorrowConflict
	}
	p.shared.lease = -1
	defer func() { p.shared.lease = 0 }()
	return f(&p.shared.cell)
}

// take empties p down to the zero owned-Null Pointer and, if this call
// was the one that dropped the cell's last strong reference, returns the
// freed Cell for the caller to recurse into. ok is false when p was
// already empty, or when a shared cell still has other strong owners.
func (p *Pointer) take() (Cell, bool) {
	switch p.kind {
	case ownedKind:
		c := p.owned
		p.owned = Cell{}
		return c, true
	case sharedKind:
		sc := p.shared
		p.shared = nil
		p.kind = ownedKind
		if sc == nil {
			return Cell{}, false
		}
		sc.strong--
		if sc.strong > 0 {
			return Cell{}, false
		}
		return sc.cell, true
	default:
		return Cell{}, false
	}
}

// children returns the direct child Pointers a Cell owns, the edges
// Release walks to free a whole graph.
func (c *Cell) children() []Pointer {
	switch c.kind {
	case CellArray:
		return c.elems
	case CellStruct:
		return c.fields
	case CellEnum:
		return c.payload
	case CellOptional:
		if c.opt != nil {
			return []Pointer{*c.opt}
		}
		return nil
	case CellMap:
		out := make([]Pointer, len(c.entries))
		for i, e := range c.entries {
			out[i] = e.val
		}
		return out
	default:
		return nil
	}
}

// Release drops p, freeing its cell graph iteratively (an explicit
// work-stack, not recursion) so a drop is O(n) in the number of reachable
// cells and O(d) in memory for the distinct subgraphs it must still
// visit, and so a pointer cycle reachable only through Weak edges cannot
// overflow the call stack or double-free: Weak children are never
// followed here, only strong (Array/Struct/Enum/Optional/Map) ones.
func (p *Pointer) Release() {
	cell, ok := p.take()
	if !ok {
		return
	}
	stack := []Cell{cell}
	for len(stack) > 0 {
		n := len(stack) - 1
		c := stack[n]
		stack = stack[:n]
		for _, child := range c.children() {
			child := child
			if cc, ok := child.take(); ok {
				stack = append(stack, cc)
			}
		}
	}
}
