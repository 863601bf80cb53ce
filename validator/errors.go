// Package validator implements the Module Validator: the pass
// that checks a decoded Module is internally sound — bounded counts,
// well-formed constants, non-recursive schemas, and decodable bytecode —
// before the VM is ever allowed to execute it.
package validator

import "fmt"

// ErrorKind enumerates every way a Module can fail validation.
type ErrorKind uint8

const (
	KindTooManyConstants ErrorKind = iota
	KindTooManyChunks
	KindTooManyStructs
	KindTooManyStructFields
	KindRecursiveStruct
	KindTooManyEnums
	KindTooManyEnumVariants
	KindTooManyEnumVariantFields
	KindRecursiveEnum
	KindTooManyTypes
	KindTooMuchMemoryUsage
	KindIncorrectFields
	KindIncorrectVariant
	KindInvalidOpCode
	KindInvalidOpCodeArguments
	KindInvalidRange
	KindInvalidRangeType
	KindUnknownStructOrEnum
)

func (k ErrorKind) String() string {
	switch k {
	case KindTooManyConstants:
		return "TooManyConstants"
	case KindTooManyChunks:
		return "TooManyChunks"
	case KindTooManyStructs:
		return "TooManyStructs"
	case KindTooManyStructFields:
		return "TooManyStructFields"
	case KindRecursiveStruct:
		return "RecursiveStruct"
	case KindTooManyEnums:
		return "TooManyEnums"
	case KindTooManyEnumVariants:
		return "TooManyEnumVariants"
	case KindTooManyEnumVariantFields:
		return "TooManyEnumVariantFields"
	case KindRecursiveEnum:
		return "RecursiveEnum"
	case KindTooManyTypes:
		return "TooManyTypes"
	case KindTooMuchMemoryUsage:
		return "TooMuchMemoryUsage"
	case KindIncorrectFields:
		return "IncorrectFields"
	case KindIncorrectVariant:
		return "IncorrectVariant"
	case KindInvalidOpCode:
		return "InvalidOpCode"
	case KindInvalidOpCodeArguments:
		return "InvalidOpCodeArguments"
	case KindInvalidRange:
		return "InvalidRange"
	case KindInvalidRangeType:
		return "InvalidRangeType"
	case KindUnknownStructOrEnum:
		return "UnknownStructOrEnum"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Error is validator's structured error: a Kind plus a Message. Any
// module-level location (a chunk index and byte offset, or a struct/enum
// id) is given only in the Message text; there is no separate field.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func fail(kind ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
