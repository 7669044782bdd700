package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDictionaryPutGetViaSendMessage is scenario S3: SendMessage to a
// Dictionary dispatches "put"/"get" by message name (§4.3), popping
// target, message, then args in that order.
func TestDictionaryPutGetViaSendMessage(t *testing.T) {
	vm := newTestVM()
	_, err := vm.Load(program("main",
		PushAsm(NewDictionaryValue()),
		Asm{Op: OpSetVar, N: 0},

		// put("k", 99)
		PushAsm(NewUInteger(99)),
		PushAsm(NewString("k")),
		Asm{Op: OpPack, N: 2},
		PushAsm(NewString("put")),
		Asm{Op: OpGetVar, N: 0},
		Asm{Op: OpSendMessage},
		Asm{Op: OpPop}, // discard put's Empty() result

		// get("k")
		PushAsm(NewString("k")),
		Asm{Op: OpPack, N: 1},
		PushAsm(NewString("get")),
		Asm{Op: OpGetVar, N: 0},
		Asm{Op: OpSendMessage},

		Asm{Op: OpHalt},
	))
	require.NoError(t, err)

	code, err := vm.Run("main")
	require.NoError(t, err)
	require.EqualValues(t, 99, code)
}

func TestDictionaryContainsRemoveLen(t *testing.T) {
	vm := newTestVM()
	_, err := vm.Load(program("main",
		PushAsm(NewDictionaryValue()),
		Asm{Op: OpSetVar, N: 0},

		PushAsm(NewUInteger(1)),
		PushAsm(NewString("a")),
		Asm{Op: OpPack, N: 2},
		PushAsm(NewString("put")),
		Asm{Op: OpGetVar, N: 0},
		Asm{Op: OpSendMessage},
		Asm{Op: OpPop},

		PushAsm(NewUInteger(2)),
		PushAsm(NewString("b")),
		Asm{Op: OpPack, N: 2},
		PushAsm(NewString("put")),
		Asm{Op: OpGetVar, N: 0},
		Asm{Op: OpSendMessage},
		Asm{Op: OpPop},

		PushAsm(NewString("a")),
		Asm{Op: OpPack, N: 1},
		PushAsm(NewString("contains")),
		Asm{Op: OpGetVar, N: 0},
		Asm{Op: OpSendMessage},
		// top of stack is now Byte(1); discard it
		Asm{Op: OpPop},

		// remove("a") pushes the removed value; the dictionary keeps only "b"
		PushAsm(NewString("a")),
		Asm{Op: OpPack, N: 1},
		PushAsm(NewString("remove")),
		Asm{Op: OpGetVar, N: 0},
		Asm{Op: OpSendMessage},
		Asm{Op: OpPop},

		Asm{Op: OpPack, N: 0},
		PushAsm(NewString("len")),
		Asm{Op: OpGetVar, N: 0},
		Asm{Op: OpSendMessage},

		Asm{Op: OpHalt},
	))
	require.NoError(t, err)

	code, err := vm.Run("main")
	require.NoError(t, err)
	require.EqualValues(t, 1, code)
}

// TestReferenceAliasing is scenario S4: GetVar produces a fresh Reference
// wrapper around the same underlying cell every time it's called, so a
// write through one wrapper (SetRef) is observed by a later, distinct
// wrapper around the same variable (invariant 3).
func TestReferenceAliasing(t *testing.T) {
	vm := newTestVM()
	_, err := vm.Load(program("main",
		PushAsm(NewUInteger(5)),
		Asm{Op: OpSetVar, N: 0},

		PushAsm(NewUInteger(77)), // value
		Asm{Op: OpGetVar, N: 0},  // ptr (on top, popped first by SetRef)
		Asm{Op: OpSetRef},

		Asm{Op: OpGetVar, N: 0}, // a brand new Reference wrapper, same cell
		Asm{Op: OpDeref},

		Asm{Op: OpHalt},
	))
	require.NoError(t, err)

	code, err := vm.Run("main")
	require.NoError(t, err)
	require.EqualValues(t, 77, code, "a write through one Reference wrapper must be visible through another wrapper of the same variable")
}

// TestBytecodeSendMessageCallDispatch is scenario S5: sending CALL to a
// Bytecode value decodes it, mints an anonymous label, loads it, and
// dispatches into it exactly like a Call to a named label — including
// resuming at the instruction after SendMessage once the loaded code
// returns.
func TestBytecodeSendMessageCallDispatch(t *testing.T) {
	vm := newTestVM()
	inner := Assembly{
		PushAsm(NewUInteger(55)),
		Asm{Op: OpReturn},
	}
	encoded, err := EncodeAssembly(inner)
	require.NoError(t, err)

	_, err = vm.Load(program("main",
		PushAsm(NewArray(nil)),
		PushAsm(NewString("CALL")),
		PushAsm(NewBytecode(encoded)),
		Asm{Op: OpSendMessage},
		Asm{Op: OpHalt},
	))
	require.NoError(t, err)

	code, err := vm.Run("main")
	require.NoError(t, err)
	require.EqualValues(t, 55, code)
}
