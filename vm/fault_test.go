package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestUnhandledFaultEscalatesToRuntimeError covers §7's "fatal unless a
// matching fault-table entry exists": with nothing registered, a missing
// label is a fatal RuntimeError, not a silent failure.
func TestUnhandledFaultEscalatesToRuntimeError(t *testing.T) {
	vm := newTestVM()
	_, err := vm.Load(program("main",
		Asm{Op: OpGetSymbol, Str: "nosuchlabel"},
		Asm{Op: OpHalt},
	))
	require.NoError(t, err)

	_, err = vm.Run("main")
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, string(FaultMissingSymbol), rerr.Kind)
}

// TestFaultHandlerStackPushIsDiscarded exercises fault()/endFault()
// directly (bypassing the dispatch loop, which would otherwise re-fault
// forever against a handler that never fixes the missing label): it locks
// in end_fault's unconditional restore (vm.rs's end_fault/
// handle_native_fault, vm/fault.go's endFault) — whatever a handler
// pushes onto the operand stack during its own execution never survives
// past the restore.
func TestFaultHandlerStackPushIsDiscarded(t *testing.T) {
	vm := newTestVM()
	vm.RegisterFault(FaultMissingSymbol, FaultTarget{
		Native: func(h *VMHandle) error {
			h.Stack.Push(NewUInteger(99))
			return nil
		},
	})
	vm.memory.Push(NewUInteger(1))
	vm.memory.Push(NewUInteger(2))
	preLen := vm.memory.StackLen()

	instr := Asm{Op: OpGetSymbol, Str: "nosuchlabel"}
	_, err := vm.fault(FaultMissingSymbol, instr, 1, errUnknownLabel)
	require.NoError(t, err)
	require.NotNil(t, vm.pendingFault)

	vm.endFault()
	require.Equal(t, preLen, vm.memory.StackLen(),
		"a value pushed by the handler must not survive end_fault's restore")
	require.False(t, vm.IsKernelMode())
}

// TestFaultRecoveryViaDynamicLabelBinding is the fault-recovery scenario:
// a Native handler for FaultMissingSymbol binds the missing label on the
// fly (mutating the Loader, which is untouched by end_fault's stack/
// counter/scope restore), so when end_fault restores the pre-fault pc and
// the dispatch loop retries the very same GetSymbol instruction, it now
// succeeds and the program completes normally.
func TestFaultRecoveryViaDynamicLabelBinding(t *testing.T) {
	vm := newTestVM()
	patched := false
	vm.RegisterFault(FaultMissingSymbol, FaultTarget{
		Native: func(h *VMHandle) error {
			patched = true
			_, err := vm.Load(Assembly{LabelAsm("patched")})
			return err
		},
	})
	_, err := vm.Load(program("main",
		Asm{Op: OpGetSymbol, Str: "patched"},
		Asm{Op: OpPop}, // discard the Function value GetSymbol pushes on success
		PushAsm(NewUInteger(42)),
		Asm{Op: OpHalt},
	))
	require.NoError(t, err)

	code, err := vm.Run("main")
	require.NoError(t, err)
	require.True(t, patched, "the fault handler must have run")
	require.EqualValues(t, 42, code)
}

// TestDoubleFaultWhenHandlerTargetIsAlsoMissing covers the recursive
// escalation vm.rs's fault() performs when a Label-target handler itself
// resolves to an unbound label: it re-raises as FaultDoubleFault, which
// with no handler of its own is fatal.
func TestDoubleFaultWhenHandlerTargetIsAlsoMissing(t *testing.T) {
	vm := newTestVM()
	vm.RegisterFault(FaultMissingSymbol, FaultTarget{Label: "ghost-handler"})
	_, err := vm.Load(program("main",
		Asm{Op: OpGetSymbol, Str: "nosuchlabel"},
		Asm{Op: OpHalt},
	))
	require.NoError(t, err)

	_, err = vm.Run("main")
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, string(FaultDoubleFault), rerr.Kind)
}

// TestLabelFaultTargetSetsHandlerEntryPC checks fault()'s Label branch in
// isolation: the returned pc is the handler label's own resolved
// instruction index, not the faulting instruction's pc and not a stale
// pc+1 — the fix described in interp_ops.go's interpret doc comment.
func TestLabelFaultTargetSetsHandlerEntryPC(t *testing.T) {
	vm := newTestVM()
	handlerStart, err := vm.Load(Assembly{
		LabelAsm("fixup"),
		Asm{Op: OpReturn},
	})
	require.NoError(t, err)
	vm.RegisterFault(FaultMissingSymbol, FaultTarget{Label: "fixup"})

	next, err := vm.fault(FaultMissingSymbol, Asm{Op: OpGetSymbol, Str: "x"}, 7, errUnknownLabel)
	require.NoError(t, err)
	require.Equal(t, handlerStart, next)
	require.True(t, vm.IsKernelMode())
}

// TestFaultHandlerHaltTerminatesVM is scenario S6 end to end: a
// MissingSymbol handler that pushes UInt 2 and halts (without repairing
// the missing label) must terminate the whole VM with exit code 2, not
// re-fault forever against the restored GetSymbol instruction. This pins
// runLoop's halted/pendingFault distinction (§5: "the only mechanisms to
// unwind are Halt, Return with an empty call stack, or a fault routed to
// a user-defined handler that ultimately halts").
func TestFaultHandlerHaltTerminatesVM(t *testing.T) {
	vm := newTestVM()
	_, err := vm.Load(program("missing_symbol_handler",
		PushAsm(NewUInteger(2)),
		Asm{Op: OpHalt},
	))
	require.NoError(t, err)
	vm.RegisterFault(FaultMissingSymbol, FaultTarget{Label: "missing_symbol_handler"})

	_, err = vm.Load(program("main",
		Asm{Op: OpGetSymbol, Str: "ghost"},
		Asm{Op: OpHalt},
	))
	require.NoError(t, err)

	code, err := vm.Run("main")
	require.NoError(t, err)
	require.EqualValues(t, 2, code)
}
