// Package vm implements the bytecode virtual machine: a
// single-threaded, stack-based interpreter driving a fetch-decode-dispatch
// loop over a validated Module's chunks, with gas metering, iterators,
// composite constructors, and native function dispatch against an
// Environment.
package vm

import (
	"errors"
	"fmt"

	"github.com/quartz-lang/quartzvm/env"
	"github.com/quartz-lang/quartzvm/value"
)

// FaultKind enumerates the runtime faults. Faults are ordinary
// returned errors a host inspects with errors.As; implementation bugs
// panic through internal/invariant instead and are never represented
// here.
type FaultKind uint8

const (
	KindStackOverflow FaultKind = iota
	KindStackUnderflow
	KindOutOfGas
	KindTypeMismatch
	KindDivisionByZero
	KindIntegerOverflow
	KindInvalidIterable
	KindIndexOutOfBounds
	KindInvalidKeyType
	KindUnknownNativeFn
	KindArityMismatch
	KindBorrowConflict
	KindWeakValue
	KindInvalidCast
	KindInvalidRange
	KindFnExpectedInstance
	KindInvalidFnCall
	KindUnknownChunk
	KindUnknownStructOrEnum
	KindInvalidEnumVariant
	KindTerminated
)

func (k FaultKind) String() string {
	switch k {
	case KindStackOverflow:
		return "StackOverflow"
	case KindStackUnderflow:
		return "StackUnderflow"
	case KindOutOfGas:
		return "OutOfGas"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindDivisionByZero:
		return "DivisionByZero"
	case KindIntegerOverflow:
		return "IntegerOverflow"
	case KindInvalidIterable:
		return "InvalidIterable"
	case KindIndexOutOfBounds:
		return "IndexOutOfBounds"
	case KindInvalidKeyType:
		return "InvalidKeyType"
	case KindUnknownNativeFn:
		return "UnknownNativeFn"
	case KindArityMismatch:
		return "ArityMismatch"
	case KindBorrowConflict:
		return "BorrowConflict"
	case KindWeakValue:
		return "WeakValue"
	case KindInvalidCast:
		return "InvalidCast"
	case KindInvalidRange:
		return "InvalidRange"
	case KindFnExpectedInstance:
		return "FnExpectedInstance"
	case KindInvalidFnCall:
		return "InvalidFnCall"
	case KindUnknownChunk:
		return "UnknownChunk"
	case KindUnknownStructOrEnum:
		return "UnknownStructOrEnum"
	case KindInvalidEnumVariant:
		return "InvalidEnumVariant"
	case KindTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("FaultKind(%d)", uint8(k))
	}
}

// Fault is the VM's structured error: the fault kind, the location hint
// (the chunk id and program counter at fault, when execution
// had reached a frame at all), and the wrapped cause.
type Fault struct {
	Kind  FaultKind
	Chunk uint16
	PC    int
	Cause error
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s at chunk %d pc %d", f.Kind, f.Chunk, f.PC)
	if f.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, f.Cause)
	}
	return msg
}

func (f *Fault) Unwrap() error { return f.Cause }

// faultKindOf maps an error surfaced by the value/qpath/env layers onto
// the VM-level fault kind a host sees, preserving the original error as
// the wrapped cause.
func faultKindOf(err error) FaultKind {
	var verr *value.Error
	if errors.As(err, &verr) {
		switch verr.Kind {
		case value.KindTypeMismatch:
			return KindTypeMismatch
		case value.KindIntegerOverflow:
			return KindIntegerOverflow
		case value.KindDivisionByZero:
			return KindDivisionByZero
		case value.KindInvalidRange:
			return KindInvalidRange
		case value.KindInvalidCast:
			return KindInvalidCast
		case value.KindInvalidKeyType:
			return KindInvalidKeyType
		case value.KindIndexOutOfBounds:
			return KindIndexOutOfBounds
		case value.KindBorrowConflict:
			return KindBorrowConflict
		}
	}
	var eerr *env.Error
	if errors.As(err, &eerr) {
		switch eerr.Kind {
		case env.KindUnknownNativeFn:
			return KindUnknownNativeFn
		case env.KindFnExpectedInstance:
			return KindFnExpectedInstance
		case env.KindArityMismatch:
			return KindArityMismatch
		default:
			return KindInvalidFnCall
		}
	}
	return KindTypeMismatch
}
