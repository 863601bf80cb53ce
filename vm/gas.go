package vm

import "github.com/quartz-lang/quartzvm/opcode"

// CostTable prices every opcode in one externalised table: a host
// swaps the whole table on the Context without recompiling the VM. Op is
// the flat charge applied before an opcode executes; PerElement is added
// once per element by the constructor opcodes (NewArray, NewStruct,
// NewEnum: per popped element; NewMap: per key/value pair), so the charge
// grows with what the instruction actually assembles. Native function costs live on the Environment, not
// here.
type CostTable struct {
	Op         [opcode.Count]uint64
	PerElement uint64
}

// DefaultCosts is the table a zero-configured Context charges against:
// stack shuffling is free, arithmetic and comparisons cost one unit,
// constructors cost one unit plus one per element, control flow costs one
// per executed instruction except Return and IterEnd, which are free.
func DefaultCosts() *CostTable {
	t := &CostTable{PerElement: 1}
	for op := opcode.OpCode(0); op < opcode.Count; op++ {
		t.Op[op] = 1
	}
	t.Op[opcode.Pop] = 0
	t.Op[opcode.Copy] = 0
	t.Op[opcode.Swap] = 0
	t.Op[opcode.Return] = 0
	t.Op[opcode.IterEnd] = 0
	return t
}

// opCost returns the flat charge for op, including the per-element part
// for a constructor assembling n elements.
func (t *CostTable) opCost(op opcode.OpCode, n int) uint64 {
	cost := t.Op[op]
	switch op {
	case opcode.NewArray, opcode.NewStruct, opcode.NewMap, opcode.NewEnum:
		cost += t.PerElement * uint64(n)
	}
	return cost
}
