package vm

import "go.uber.org/zap"

// FaultKind names a fault category. The built-in kinds below are the ones
// the interpreter raises; VM.RegisterFault accepts a handler under any
// name (§4.6), so FaultKind is an open string type rather
// than a closed enum — the same shape as KTStephano-GVM/vm/bytecode.go's
// public interrupt range [0xA0, 0x100) sitting alongside its five fixed
// hardware exceptions.
type FaultKind string

const (
	FaultStackUnderflow  FaultKind = "stack_underflow"
	FaultTypeMismatch    FaultKind = "type_mismatch"
	FaultDivisionByZero  FaultKind = "division_by_zero"
	FaultUnknownLabel    FaultKind = "unknown_label"
	FaultUnknownNative   FaultKind = "unknown_native"
	FaultIndexOutOfRange FaultKind = "index_out_of_range"
	FaultNotHashable     FaultKind = "not_hashable"
	FaultStackOverflow   FaultKind = "stack_overflow"
	FaultDoubleFault     FaultKind = "double_fault"
	FaultUnboundVariable FaultKind = "unbound_variable"
	FaultMissingSymbol   FaultKind = "missing_symbol"
)

// FaultTarget is where control transfers when a fault of a given kind is
// raised: either a Label to Call into, or a native handler function. This
// mirrors vm.rs's fault() resolving either Function(Label) or Native.
type FaultTarget struct {
	Label  string
	Native func(h *VMHandle) error
}

// faultTable maps a fault kind to its registered handler, populated through
// VM.RegisterFault (§4.6) and consulted by fault().
type faultTable struct {
	entries map[FaultKind]FaultTarget
}

func newFaultTable() *faultTable {
	return &faultTable{entries: make(map[FaultKind]FaultTarget)}
}

func (t *faultTable) register(kind FaultKind, target FaultTarget) {
	t.entries[kind] = target
}

func (t *faultTable) lookup(kind FaultKind) (FaultTarget, bool) {
	target, ok := t.entries[kind]
	return target, ok
}

// fault implements spec §4.6: save both stacks into a FaultHandle, reset
// the program-counter stack, enter kernel mode, and resolve the handler
// target. If no handler is registered for kind the condition is fatal
// ("fatal-unless-fault-table-entry-exists", §4.2/§7): the caller gets a
// *RuntimeError instead. A fault raised while already handling one with no
// handler escalates to FaultDoubleFault, matching vm.rs's recursive
// DoubleFault-on-unresolved-label handling.
func (vm *VM) fault(kind FaultKind, instr Asm, pc int, cause error) (int, error) {
	target, ok := vm.faults.lookup(kind)
	if !ok {
		if kind == FaultDoubleFault {
			return 0, newRuntimeError(string(FaultDoubleFault), instr, pc, errDoubleFault)
		}
		if vm.kernelMode {
			return vm.fault(FaultDoubleFault, instr, pc, cause)
		}
		return 0, newRuntimeError(string(kind), instr, pc, cause)
	}

	vm.logger.Debug("raising fault",
		zap.String("kind", string(kind)),
		zap.Int("pc", pc),
		zap.Error(cause))
	vm.metrics.faultsRaised.Inc()

	handle := vm.memory.SaveForFault()
	vm.pendingFault = handle
	wasKernel := vm.kernelMode
	vm.kernelMode = true
	vm.metrics.setKernelMode(true)

	if target.Native != nil {
		if err := target.Native(vm.handle()); err != nil {
			vm.kernelMode = wasKernel
			return 0, newRuntimeError(string(kind), instr, pc, err)
		}
		// "invoke the native fault handler ... and push 0": pc 0 is
		// outside the valid [1, length) range, so the inner dispatch
		// loop exits on its own and the outer runLoop's
		// pendingFault check calls endFault and re-enters.
		vm.memory.PushCounter(0)
		vm.memory.SetProgramCounter(0)
		return 0, nil
	}

	next, err := vm.resolveLabel(target.Label)
	if err != nil {
		return vm.fault(FaultDoubleFault, instr, pc, err)
	}
	vm.memory.PushCounter(0)
	vm.memory.SetProgramCounter(next)
	return vm.memory.ProgramCounter(), nil
}

// endFault restores the pre-fault stacks and leaves kernel mode, per
// spec §4.6's end_fault step / vm.rs's end_fault(). It is called by runLoop
// and Step; no instruction invokes it.
func (vm *VM) endFault() {
	if vm.pendingFault != nil {
		vm.memory.RestoreFromFault(vm.pendingFault)
		vm.pendingFault = nil
	}
	vm.kernelMode = false
	vm.metrics.setKernelMode(false)
}
