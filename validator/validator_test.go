package validator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quartz-lang/quartzvm/env"
	"github.com/quartz-lang/quartzvm/module"
	"github.com/quartz-lang/quartzvm/opcode"
	"github.com/quartz-lang/quartzvm/qtype"
	"github.com/quartz-lang/quartzvm/validator"
	"github.com/quartz-lang/quartzvm/value"
)

func asError(t *testing.T, err error) *validator.Error {
	t.Helper()
	var verr *validator.Error
	require.ErrorAs(t, err, &verr)
	return verr
}

func TestValidModulePasses(t *testing.T) {
	chunk := []byte{byte(opcode.LoadConst), 0, 0, byte(opcode.Return)}
	m := module.New(nil, nil, []value.Cell{value.NewDefault(value.NewU8(1))}, [][]byte{chunk})

	err := validator.New(&m, env.New("v1.0.0")).Verify()
	require.NoError(t, err)
}

func TestRejectsStructWhoseSoleFieldIsItself(t *testing.T) {
	structs := []qtype.StructSchema{{ID: 0, Fields: []qtype.Type{qtype.Struct(0)}}}
	m := module.New(structs, nil, nil, nil)

	err := validator.New(&m, env.New("v1.0.0")).Verify()
	e := asError(t, err)
	require.Equal(t, validator.KindRecursiveStruct, e.Kind)
}

func TestRejectsEnumWhoseVariantFieldIsItself(t *testing.T) {
	enums := []qtype.EnumSchema{{ID: 0, Variants: []qtype.EnumVariant{
		{Fields: []qtype.Type{qtype.Enum(0)}},
	}}}
	m := module.New(nil, enums, nil, nil)

	err := validator.New(&m, env.New("v1.0.0")).Verify()
	e := asError(t, err)
	require.Equal(t, validator.KindRecursiveEnum, e.Kind)
}

func TestPermitsNonDirectStructCycle(t *testing.T) {
	// struct 0 has a field of struct 1, struct 1 has a field of struct 0:
	// not a *direct* self-reference, so it must pass.
	structs := []qtype.StructSchema{
		{ID: 0, Fields: []qtype.Type{qtype.Struct(1)}},
		{ID: 1, Fields: []qtype.Type{qtype.Struct(0)}},
	}
	m := module.New(structs, nil, nil, nil)

	err := validator.New(&m, env.New("v1.0.0")).Verify()
	require.NoError(t, err)
}

func TestRejectsInvalidOpcodeByte(t *testing.T) {
	m := module.New(nil, nil, nil, [][]byte{{0xFF}})

	err := validator.New(&m, env.New("v1.0.0")).Verify()
	e := asError(t, err)
	require.Equal(t, validator.KindInvalidOpCode, e.Kind)
}

func TestRejectsTruncatedOpcodeArguments(t *testing.T) {
	m := module.New(nil, nil, nil, [][]byte{{byte(opcode.LoadConst), 0x00}})

	err := validator.New(&m, env.New("v1.0.0")).Verify()
	e := asError(t, err)
	require.Equal(t, validator.KindInvalidOpCodeArguments, e.Kind)
}

func TestRejectsStructFieldCountMismatch(t *testing.T) {
	structs := []qtype.StructSchema{{ID: 0, Fields: []qtype.Type{qtype.U8(), qtype.U8()}}}
	bad := value.NewStruct(0, []value.Pointer{value.Owned(value.NewDefault(value.NewU8(1)))})
	m := module.New(structs, nil, []value.Cell{bad}, nil)

	err := validator.New(&m, env.New("v1.0.0")).Verify()
	e := asError(t, err)
	require.Equal(t, validator.KindIncorrectFields, e.Kind)
}

func TestRejectsUnknownStructReference(t *testing.T) {
	bad := value.NewStruct(5, nil)
	m := module.New(nil, nil, []value.Cell{bad}, nil)

	err := validator.New(&m, env.New("v1.0.0")).Verify()
	e := asError(t, err)
	require.Equal(t, validator.KindUnknownStructOrEnum, e.Kind)
}

func TestRejectsDeeplyNestedConstant(t *testing.T) {
	cell := value.NewDefault(value.NewU8(1))
	for i := 0; i < 20; i++ {
		cell = value.NewArray([]value.Pointer{value.Owned(cell)})
	}
	m := module.New(nil, nil, []value.Cell{cell}, nil)

	err := validator.New(&m, env.New("v1.0.0")).Verify()
	e := asError(t, err)
	require.Equal(t, validator.KindTooManyConstants, e.Kind)
}

func TestRejectsOversizedConstantPool(t *testing.T) {
	elems := make([]value.Pointer, 2000)
	for i := range elems {
		elems[i] = value.Owned(value.NewDefault(value.NewString("xxxxxxxxxx")))
	}
	big := value.NewArray(elems)
	m := module.New(nil, nil, []value.Cell{big}, nil)

	err := validator.New(&m, env.New("v1.0.0")).Verify()
	e := asError(t, err)
	require.Equal(t, validator.KindTooMuchMemoryUsage, e.Kind)
}

func TestAcceptsEnvironmentProvidedStruct(t *testing.T) {
	e := env.New("v1.0.0")
	require.NoError(t, e.AddStruct(qtype.StructSchema{ID: 0, Fields: []qtype.Type{qtype.U8()}}))

	s := value.NewStruct(0, []value.Pointer{value.Owned(value.NewDefault(value.NewU8(1)))})
	m := module.New(nil, nil, []value.Cell{s}, nil)

	err := validator.New(&m, e).Verify()
	require.NoError(t, err)
}
