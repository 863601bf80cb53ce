package vm

// Context is the per-invocation mutable state: gas accounting
// plus whatever host data native functions want carried across a run.
// There is no wall-clock deadline anywhere in the VM; a host that wants
// one converts it into a gas limit up front.
type Context struct {
	gasUsed  uint64
	gasLimit uint64
	costs    *CostTable

	// HostData is opaque to the VM; native functions cast it back to
	// whatever the host registered (chain state, a storage handle).
	HostData any
}

// NewContext returns a Context with the given gas limit and the default
// cost table. A limit of 0 means unmetered execution.
func NewContext(gasLimit uint64) *Context {
	return &Context{gasLimit: gasLimit, costs: DefaultCosts()}
}

// SetCostTable swaps the opcode pricing wholesale: hosts retune
// costs without recompiling the VM.
func (c *Context) SetCostTable(t *CostTable) { c.costs = t }

// GasUsed returns the total gas charged so far.
func (c *Context) GasUsed() uint64 { return c.gasUsed }

// GasLimit returns the configured limit, 0 meaning unmetered.
func (c *Context) GasLimit() uint64 { return c.gasLimit }

// Host returns the opaque host state, satisfying env.Context so native
// functions reach it through dispatch.
func (c *Context) Host() any { return c.HostData }

// Charge records amount against the budget. A charge that would exceed
// the limit still consumes the remaining budget (no credit on failure:
// gas_used equals the limit after an OutOfGas abort) and reports
// errOutOfGas.
func (c *Context) Charge(amount uint64) error {
	if c.gasLimit == 0 {
		c.gasUsed += amount
		return nil
	}
	if amount > c.gasLimit-c.gasUsed {
		c.gasUsed = c.gasLimit
		return errOutOfGas
	}
	c.gasUsed += amount
	return nil
}

// errOutOfGas is an internal marker the dispatch loop converts into a
// located Fault.
var errOutOfGas = &Fault{Kind: KindOutOfGas}
