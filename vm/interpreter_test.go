package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestVM() *VM {
	return NewVMBuilder().Build()
}

// program builds an Assembly, prefixing it with a public entry label so
// Run can resolve it by name.
func program(label string, body ...Asm) Assembly {
	asm := Assembly{PublicLabelAsm(label)}
	return append(asm, body...)
}

func TestHaltPushesExitCode(t *testing.T) {
	vm := newTestVM()
	_, err := vm.Load(program("main",
		PushAsm(NewUInteger(7)),
		Asm{Op: OpHalt},
	))
	require.NoError(t, err)

	code, err := vm.Run("main")
	require.NoError(t, err)
	require.EqualValues(t, 7, code)
}

func TestRunRejectsNonUIntegerExitCode(t *testing.T) {
	vm := newTestVM()
	_, err := vm.Load(program("main",
		PushAsm(NewString("not a code")),
		Asm{Op: OpHalt},
	))
	require.NoError(t, err)

	_, err = vm.Run("main")
	require.Error(t, err)
}

// TestCallReturn is scenario S1: Call pushes a placeholder counter frame,
// the callee runs to Return, and control resumes at the instruction right
// after the Call, with the callee's own result left on the operand stack.
func TestCallReturn(t *testing.T) {
	vm := newTestVM()
	_, err := vm.Load(program("main",
		Asm{Op: OpCall, Loc: MakeLabel("callee")},
		PushAsm(NewUInteger(1)), // proves control resumed here, not lost
		Asm{Op: OpAdd},
		Asm{Op: OpHalt},
		LabelAsm("callee"),
		PushAsm(NewUInteger(41)),
		Asm{Op: OpReturn},
	))
	require.NoError(t, err)

	code, err := vm.Run("main")
	require.NoError(t, err)
	require.EqualValues(t, 42, code)
}

// TestArithmeticOrderObservable pins spec §8 S2 verbatim: Push(Int 10),
// Push(Int 3), Subtract, Push(UInt 0), Add, Return. Non-commutative ops
// read in source/push order (first-pushed minus second-pushed), so
// Subtract computes 10 - 3 = 7; the final Add then mixes an Integer with a
// UInteger 0, which must coerce to UInteger so Return's exit-code check
// (only a UInteger is a valid exit code) accepts the result.
func TestArithmeticOrderObservable(t *testing.T) {
	vm := newTestVM()
	_, err := vm.Load(program("main",
		PushAsm(NewInteger(10)),
		PushAsm(NewInteger(3)),
		Asm{Op: OpSubtract},
		PushAsm(NewUInteger(0)),
		Asm{Op: OpAdd},
		Asm{Op: OpReturn},
	))
	require.NoError(t, err)
	code, err := vm.Run("main")
	require.NoError(t, err)
	require.EqualValues(t, 7, code, "S2: (10 - 3) + 0 must yield UInteger exit code 7")
}

func TestStackUnderflowIsFatalWithoutFaultHandler(t *testing.T) {
	vm := newTestVM()
	_, err := vm.Load(program("main",
		Asm{Op: OpPop},
	))
	require.NoError(t, err)

	_, err = vm.Run("main")
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, string(FaultStackUnderflow), rerr.Kind)
}

func TestGotoAndCondGoto(t *testing.T) {
	vm := newTestVM()
	_, err := vm.Load(program("main",
		PushAsm(NewByte(1)),
		Asm{Op: OpCondGoto, Loc: MakeLabel("skip")},
		PushAsm(NewUInteger(0)),
		Asm{Op: OpHalt},
		LabelAsm("skip"),
		PushAsm(NewUInteger(9)),
		Asm{Op: OpHalt},
	))
	require.NoError(t, err)
	code, err := vm.Run("main")
	require.NoError(t, err)
	require.EqualValues(t, 9, code)
}
