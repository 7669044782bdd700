package vm

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// VM is the execution engine described in spec §1–§4: an instruction
// interpreter over scoped memory, a message-dispatch protocol, a fault
// subsystem with a kernel-mode bit, and a plugin registry. Constructed
// through VMBuilder, mirroring both KTStephano-GVM's
// NewVirtualMachine(...) and the original vm.rs's VMBuilder.
type VM struct {
	memory *Memory
	loader *Loader
	faults *faultTable
	plugins *PluginRegistry

	kernelMode   bool
	pendingFault *FaultHandle

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	logger  *zap.Logger
	metrics *vmMetrics
	bcCache *bytecodeCache

	anonCounter int
}

// VMBuilder configures and constructs a VM, mirroring vm.rs's VMBuilder
// (bottom of vm.rs: arithmetic/memory/stdin/stdout/stderr/object_path
// optional fields) and KTStephano-GVM's NewVirtualMachine(debug, files...)
// constructor shape.
type VMBuilder struct {
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	logger   *zap.Logger
	registry prometheus.Registerer
	store    *ModuleStore
}

func NewVMBuilder() *VMBuilder { return &VMBuilder{} }

func (b *VMBuilder) Stdin(r io.Reader) *VMBuilder  { b.stdin = r; return b }
func (b *VMBuilder) Stdout(w io.Writer) *VMBuilder { b.stdout = w; return b }
func (b *VMBuilder) Stderr(w io.Writer) *VMBuilder { b.stderr = w; return b }
func (b *VMBuilder) Logger(l *zap.Logger) *VMBuilder { b.logger = l; return b }
func (b *VMBuilder) Metrics(r prometheus.Registerer) *VMBuilder { b.registry = r; return b }
func (b *VMBuilder) ModuleStore(s *ModuleStore) *VMBuilder { b.store = s; return b }

// Build finalizes construction, defaulting unset sinks to process stdio
// and an unset logger to a no-op, per §6's "Standard streams ... If not
// set, the VM falls back to process stdio."
func (b *VMBuilder) Build() *VM {
	logger := b.logger
	if logger == nil {
		logger = defaultLogger()
	}
	stdin, stdout, stderr := b.stdin, b.stdout, b.stderr
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	loader := newLoader(logger)
	if b.store != nil {
		loader.AttachStore(b.store)
	}
	return &VM{
		memory:  NewMemory(),
		loader:  loader,
		faults:  newFaultTable(),
		plugins: newPluginRegistry(logger),
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		logger:  logger,
		metrics: newMetrics(b.registry),
		bcCache: newBytecodeCache(),
	}
}

func (vm *VM) Logger() *zap.Logger       { return vm.logger }
func (vm *VM) Plugins() *PluginRegistry  { return vm.plugins }
func (vm *VM) IsKernelMode() bool        { return vm.kernelMode }
func (vm *VM) Loader() *Loader           { return vm.loader }

// RegisterFault binds target as the handler for kind, the host-side
// configuration API behind §4.6's fault table (the spec leaves fault-table
// population to the embedder; there is no Asm instruction for it).
func (vm *VM) RegisterFault(kind FaultKind, target FaultTarget) {
	vm.faults.register(kind, target)
}

// Load appends asm to the instruction vector and immediately executes any
// Static-flagged region, per §4.1.
func (vm *VM) Load(asm Assembly) (int, error) {
	start, statics, err := vm.loader.Load(asm)
	if err != nil {
		return 0, err
	}
	for _, idx := range statics {
		if err := vm.runStatic(idx); err != nil {
			return start, err
		}
	}
	return start, nil
}

// runStatic executes the instruction vector starting at idx in the global
// scope, per §4.1: "push global_scope before, back_scope after", and must
// not leak a non-empty operand stack to the surrounding program. It also
// runs on its own program-counter stack and puts the caller's back
// afterwards, since Load can be reached mid-instruction (a Bytecode CALL)
// with a live call stack whose current pc must survive. Unlike
// Run, a static region is not required to leave a UInteger exit code behind
// (§4.1 says nothing about one) so this drives the dispatch loop directly
// rather than through runFrom's exit-code extraction.
func (vm *VM) runStatic(idx int) error {
	vm.memory.GlobalScopeSwitch()
	defer func() { _ = vm.memory.BackScope() }()

	savedStack := vm.memory.operand
	vm.memory.operand = nil
	defer func() { vm.memory.operand = savedStack }()

	savedCounters := vm.memory.counters
	vm.memory.counters = []int{0}
	defer func() { vm.memory.counters = savedCounters }()

	return vm.runLoop(idx)
}

// Run resolves label to an instruction index, pushes it onto the call
// stack, and enters the interpreter loop (§4.2's run(label)).
func (vm *VM) Run(label string) (uint64, error) {
	idx, err := vm.resolveLabel(label)
	if err != nil {
		return 0, err
	}
	return vm.runFrom(idx)
}

// RunTimed wraps Run and reports elapsed wall-clock time, the supplemented
// feature matching vm.rs's run_with_time (SPEC_FULL.md).
func (vm *VM) RunTimed(label string) (uint64, time.Duration, error) {
	start := time.Now()
	code, err := vm.Run(label)
	return code, time.Since(start), err
}

// runFrom sets the program counter to idx and runs the fetch/execute loop
// to completion, matching vm.rs's run_from_index, then pops and interprets
// the top of the operand stack as the program's exit code per §4.2.
func (vm *VM) runFrom(idx int) (uint64, error) {
	if err := vm.runLoop(idx); err != nil {
		return 0, err
	}

	v, err := vm.memory.Pop()
	if err != nil {
		return 0, fmt.Errorf("%w", errNoExitCode)
	}
	if v.Kind != KindUInteger {
		return 0, fmt.Errorf("%w: got %s", errExitCodeInvalid, v.Kind)
	}
	return v.UInteger, nil
}

// runLoop sets the program counter to idx and drives the dispatch loop to
// completion. Per §5, "the only mechanisms to unwind are Halt, Return with
// an empty call stack, or a fault routed to a user-defined handler that
// ultimately halts" — so an explicit Halt terminates runLoop immediately,
// even when it fires from inside a fault handler's own code (S6), rather
// than being absorbed by the fault-retry loop below. Only a handler exit
// that is NOT a Halt (e.g. the handler's Return empties its call stack, or
// a Native handler returns) is treated as "done with this fault" and sent
// through end_fault to resume the interrupted program.
func (vm *VM) runLoop(idx int) error {
	vm.memory.SetProgramCounter(idx)

	for {
		halted, err := vm.dispatchLoop()
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
		if vm.pendingFault != nil {
			vm.endFault()
			continue
		}
		break
	}
	return nil
}

// dispatchLoop is the inner fetch/decode/dispatch loop of §4.2: while
// pc is in [1, length) and the continue flag is true, fetch, interpret,
// and set the program counter to the result. halted reports whether the
// loop ended because Halt actually executed (cont went false), as opposed
// to simply running off the end of the valid pc range (e.g. a Return that
// emptied the call stack, or a fault handler's pc reset) — the only
// distinction runLoop needs to decide whether to keep driving a pending
// fault or stop the whole VM outright.
func (vm *VM) dispatchLoop() (halted bool, err error) {
	cont := true
	for cont {
		pc := vm.memory.ProgramCounter()
		if pc < 1 || pc >= vm.loader.Len() {
			return false, nil
		}
		instr, ok := vm.loader.Fetch(pc)
		if !ok {
			return false, nil
		}
		vm.logInstruction(instr, pc)
		vm.metrics.instructionsExecuted.Inc()

		next, keepGoing, ierr := vm.interpret(instr, pc)
		if ierr != nil {
			var rerr *RuntimeError
			if !asRuntimeError(ierr, &rerr) {
				rerr = newRuntimeError("RuntimeError", instr, pc, ierr)
			}
			return false, rerr
		}
		cont = keepGoing
		vm.memory.SetProgramCounter(next)
	}
	return true, nil
}

// SeedEntry resolves label and sets it as the current program counter
// without entering the dispatch loop, used by the debug REPL to prime a
// VM for single-stepping via Step.
func (vm *VM) SeedEntry(label string) error {
	idx, err := vm.resolveLabel(label)
	if err != nil {
		return err
	}
	vm.memory.SetProgramCounter(idx)
	return nil
}

// Step executes exactly one instruction for the debug REPL
// (KTStephano-GVM/vm/run.go's RunProgramDebugMode n/next command), returning
// done=true once Halt executes or the program counter leaves the valid range
// with no fault pending. When the program counter leaves the range while a
// fault handle is pending, Step crosses the end_fault boundary instead (as
// runLoop does) and stepping resumes at the restored program counter.
func (vm *VM) Step() (done bool, err error) {
	pc := vm.memory.ProgramCounter()
	if pc < 1 || pc >= vm.loader.Len() {
		if vm.pendingFault != nil {
			vm.endFault()
			return false, nil
		}
		return true, nil
	}
	instr, ok := vm.loader.Fetch(pc)
	if !ok {
		return true, nil
	}
	vm.logInstruction(instr, pc)
	vm.metrics.instructionsExecuted.Inc()

	next, keepGoing, err := vm.interpret(instr, pc)
	if err != nil {
		return true, err
	}
	vm.memory.SetProgramCounter(next)
	return !keepGoing, nil
}

// CurrentInstruction returns the instruction at the current program
// counter, for debug/disassembly display.
func (vm *VM) CurrentInstruction() (Asm, int, bool) {
	pc := vm.memory.ProgramCounter()
	instr, ok := vm.loader.Fetch(pc)
	return instr, pc, ok
}

func (vm *VM) StackSnapshot() []Value {
	out := make([]Value, vm.memory.StackLen())
	copy(out, vm.memory.operand)
	return out
}

func asRuntimeError(err error, out **RuntimeError) bool {
	re, ok := err.(*RuntimeError)
	if !ok {
		return false
	}
	*out = re
	return true
}
