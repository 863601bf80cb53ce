// Package env implements the Environment: the host-provided registry of
// native functions and struct/enum schemas a Module's InvokeNative
// instructions and type references resolve against.
package env

import (
	"github.com/quartz-lang/quartzvm/qpath"
	"github.com/quartz-lang/quartzvm/qtype"
	"github.com/quartz-lang/quartzvm/value"
)

// Context is the slice of per-run VM state a native function may touch:
// gas accounting plus whatever opaque data the host attached when it
// built the run's context. Declared here as an interface (the vm package
// provides the concrete type) so env stays a leaf the VM can depend on.
type Context interface {
	// Charge records gas against the run's budget, surfacing the run's
	// OutOfGas fault when the budget is exhausted. A native doing work
	// proportional to its inputs charges as it goes.
	Charge(amount uint64) error
	// GasUsed and GasLimit expose the metering state read-only.
	GasUsed() uint64
	GasLimit() uint64
	// Host returns the opaque host state attached to the run.
	Host() any
}

// OnCall is a native function's Go implementation: receiver is present
// iff the function was registered with a receiver type (an instance
// method), args holds exactly Parameters() Paths in call order.
type OnCall func(receiver *qpath.Path, args []qpath.Path, ctx Context) (*value.Value, error)

// NativeFunction is one host-provided function a Module can invoke by
// index via InvokeNative.
type NativeFunction struct {
	name       string
	receiver   *qtype.Type
	parameters []qtype.Type
	onCall     OnCall
	cost       uint64
	returnType *qtype.Type
}

// NewNativeFunction constructs a NativeFunction. receiver/returnType may
// be nil for a free function / a function returning nothing.
func NewNativeFunction(name string, receiver *qtype.Type, parameters []qtype.Type, onCall OnCall, cost uint64, returnType *qtype.Type) NativeFunction {
	return NativeFunction{
		name:       name,
		receiver:   receiver,
		parameters: parameters,
		onCall:     onCall,
		cost:       cost,
		returnType: returnType,
	}
}

func (f NativeFunction) Name() string             { return f.name }
func (f NativeFunction) Parameters() []qtype.Type { return f.parameters }
func (f NativeFunction) ReturnType() *qtype.Type  { return f.returnType }
func (f NativeFunction) Cost() uint64             { return f.cost }
func (f NativeFunction) HasReceiver() bool        { return f.receiver != nil }

// SetCost overwrites the gas cost charged per call: costs are mutable
// after registration so a host can retune its standard library without
// recompiling every Module that calls into it.
func (f *NativeFunction) SetCost(cost uint64) { f.cost = cost }

// Call invokes the function. receiver must be non-nil iff HasReceiver,
// and args must have exactly len(Parameters()) entries. A wrong argument
// count faults ArityMismatch, a missing receiver FnExpectedInstance, and
// an unexpected receiver InvalidFnCall, rather than panicking, since a
// malformed Module (not a host bug) can trigger any of them.
func (f NativeFunction) Call(receiver *qpath.Path, args []qpath.Path, ctx Context) (*value.Value, error) {
	if len(args) != len(f.parameters) {
		return nil, &Error{Kind: KindArityMismatch, Message: f.name}
	}
	if f.HasReceiver() && receiver == nil {
		return nil, &Error{Kind: KindFnExpectedInstance, Message: f.name}
	}
	if (receiver != nil) != f.HasReceiver() {
		return nil, &Error{Kind: KindInvalidFnCall, Message: f.name}
	}
	return f.onCall(receiver, args, ctx)
}
