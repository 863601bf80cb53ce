package env_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quartz-lang/quartzvm/env"
	"github.com/quartz-lang/quartzvm/qpath"
	"github.com/quartz-lang/quartzvm/qtype"
	"github.com/quartz-lang/quartzvm/value"
)

func noopOnCall(receiver *qpath.Path, args []qpath.Path, ctx env.Context) (*value.Value, error) {
	return nil, nil
}

func TestRegisterAndResolveByID(t *testing.T) {
	e := env.New("v1.0.0")
	u8 := qtype.U8()
	id := e.RegisterNative(env.NewNativeFunction("double", nil, []qtype.Type{u8}, noopOnCall, 5, &u8))

	fn, err := e.Function(id)
	require.NoError(t, err)
	require.Equal(t, "double", fn.Name())
	require.Equal(t, uint64(5), fn.Cost())
}

func TestUnknownFunctionIDSuggestsClosestName(t *testing.T) {
	e := env.New("v1.0.0")
	e.RegisterNative(env.NewNativeFunction("to_string", nil, nil, noopOnCall, 1, nil))

	_, err := e.Function(99)
	require.Error(t, err)
	var envErr *env.Error
	require.ErrorAs(t, err, &envErr)
	require.Equal(t, env.KindUnknownNativeFn, envErr.Kind)
	require.Contains(t, err.Error(), "to_string")
}

func TestFunctionByNameSuggestsClosestMatch(t *testing.T) {
	e := env.New("v1.0.0")
	e.RegisterNative(env.NewNativeFunction("to_string", nil, nil, noopOnCall, 1, nil))

	_, _, err := e.FunctionByName("to_strnig")
	require.Error(t, err)
	require.Contains(t, err.Error(), "to_string")
}

func TestSetCostRetunesRegisteredFunction(t *testing.T) {
	e := env.New("v1.0.0")
	id := e.RegisterNative(env.NewNativeFunction("noop", nil, nil, noopOnCall, 1, nil))

	require.True(t, e.SetCost(id, 42))
	fn, _ := e.Function(id)
	require.Equal(t, uint64(42), fn.Cost())
}

func TestSetCostUnknownIDReturnsFalse(t *testing.T) {
	e := env.New("v1.0.0")
	require.False(t, e.SetCost(5, 42))
}

func TestCallArityMismatchFaults(t *testing.T) {
	u8 := qtype.U8()
	fn := env.NewNativeFunction("add", nil, []qtype.Type{u8, u8}, noopOnCall, 1, &u8)

	_, err := fn.Call(nil, nil, nil)
	require.Error(t, err)
	var envErr *env.Error
	require.ErrorAs(t, err, &envErr)
	require.Equal(t, env.KindArityMismatch, envErr.Kind)
}

func TestCallMissingReceiverFaults(t *testing.T) {
	structType := qtype.Struct(0)
	fn := env.NewNativeFunction("len", &structType, nil, noopOnCall, 1, nil)

	_, err := fn.Call(nil, nil, nil)
	require.Error(t, err)
	var envErr *env.Error
	require.ErrorAs(t, err, &envErr)
	require.Equal(t, env.KindFnExpectedInstance, envErr.Kind)
}

func TestCallUnexpectedReceiverFaults(t *testing.T) {
	fn := env.NewNativeFunction("free_fn", nil, nil, noopOnCall, 1, nil)
	p := qpath.NewOwned(value.NewDefault(value.NewU8(1)))

	_, err := fn.Call(&p, nil, nil)
	require.Error(t, err)
	var envErr *env.Error
	require.ErrorAs(t, err, &envErr)
	require.Equal(t, env.KindInvalidFnCall, envErr.Kind)
}

func TestAddStructRejectsDuplicateID(t *testing.T) {
	e := env.New("v1.0.0")
	s := qtype.StructSchema{ID: 0, Fields: []qtype.Type{qtype.U8()}}
	require.NoError(t, e.AddStruct(s))
	err := e.AddStruct(s)
	require.Error(t, err)
	var envErr *env.Error
	require.ErrorAs(t, err, &envErr)
	require.Equal(t, env.KindDuplicateStruct, envErr.Kind)
}

func TestCompatibleWithSameMajorNewerHost(t *testing.T) {
	e := env.New("v1.3.0")
	require.True(t, e.CompatibleWith("v1.0.0"))
}

func TestCompatibleWithRejectsOlderHost(t *testing.T) {
	e := env.New("v1.0.0")
	require.False(t, e.CompatibleWith("v1.3.0"))
}

func TestCompatibleWithRejectsDifferentMajor(t *testing.T) {
	e := env.New("v2.0.0")
	require.False(t, e.CompatibleWith("v1.0.0"))
}
