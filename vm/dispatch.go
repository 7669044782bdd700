package vm

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	messageCall     = "CALL"
	messageReceive  = "RECEIVE_MESSAGE"
	maxDispatchDepth = 4096
)

// NativeFunc is a Go-implemented entry in the native-method table (§4.4),
// grounded on vm.rs's native_method() match arms and on
// KTStephano-GVM/vm/devices.go's HardwareDevice interface, which plays the
// same "escape hatch into host code" role for that VM.
type NativeFunc func(vm *VM, h *VMHandle, args []Value) error

// sendMessage implements spec §4.3: dispatch by target's Kind, returning
// (nextPC, consumed, err). consumed is true when the dispatch resolved to
// a new program counter (a Call-style dispatch) rather than pushing a
// result and falling through to pc+1 ("Return convention: ... Call
// dispatches return Some(next_pc) when they consume the program
// counter"). depth enforces the §9 dispatch-depth budget, converting
// runaway recursion into a FaultStackOverflow instead of a Go stack
// overflow.
func (vm *VM) sendMessage(target Value, message string, args []Value, depth int) (int, bool, error) {
	if depth > maxDispatchDepth {
		return 0, false, errDispatchTooDeep
	}

	switch target.Kind {
	case KindDictionary:
		return vm.sendToDictionary(target, message, args, depth)

	case KindReference:
		if target.Ref == nil {
			return 0, false, fmt.Errorf("%w: message to null reference", errTypeMismatch)
		}
		return vm.sendMessage(target.Ref.Get(), message, args, depth+1)

	case KindBytecode:
		if message != messageCall {
			return 0, false, fmt.Errorf("%w: Bytecode only responds to CALL", errTypeMismatch)
		}
		return vm.sendToBytecode(target, args, depth)

	case KindFunction:
		if message != messageCall {
			return 0, false, fmt.Errorf("%w: Function only responds to CALL", errTypeMismatch)
		}
		return vm.call(target.Loc, args)

	case KindNative:
		err := vm.dispatchNative(message, args)
		return 0, false, err

	default:
		return 0, false, fmt.Errorf("%w: no message %q defined for %s", errTypeMismatch, message, target.Kind)
	}
}

func (vm *VM) sendToDictionary(target Value, message string, args []Value, depth int) (int, bool, error) {
	if target.Dict == nil {
		return 0, false, fmt.Errorf("%w: nil dictionary", errTypeMismatch)
	}
	if trampoline, ok := target.Dict.Get(messageReceive); ok && trampoline.Kind != KindNative {
		return vm.sendMessage(trampoline, messageCall, args, depth+1)
	}
	switch message {
	case "get":
		if len(args) < 1 || args[0].Kind != KindString {
			return 0, false, fmt.Errorf("%w: get(key) requires a String key", errTypeMismatch)
		}
		v, ok := target.Dict.Get(args[0].Str)
		if !ok {
			return 0, false, fmt.Errorf("%w: key %q", errIndexOutOfRange, args[0].Str)
		}
		vm.memory.Push(v.Clone())
		return 0, false, nil
	case "put":
		if len(args) < 2 || args[0].Kind != KindString {
			return 0, false, fmt.Errorf("%w: put(key, value) requires a String key", errTypeMismatch)
		}
		target.Dict.Put(args[0].Str, args[1].Clone())
		vm.memory.Push(Empty())
		return 0, false, nil
	case "contains":
		if len(args) < 1 || args[0].Kind != KindString {
			return 0, false, fmt.Errorf("%w: contains(key) requires a String key", errTypeMismatch)
		}
		_, ok := target.Dict.Get(args[0].Str)
		vm.memory.Push(NewBool(ok))
		return 0, false, nil
	case "remove":
		if len(args) < 1 || args[0].Kind != KindString {
			return 0, false, fmt.Errorf("%w: remove(key) requires a String key", errTypeMismatch)
		}
		v, ok := target.Dict.Remove(args[0].Str)
		if !ok {
			return 0, false, fmt.Errorf("%w: key %q", errIndexOutOfRange, args[0].Str)
		}
		vm.memory.Push(v)
		return 0, false, nil
	case "len":
		vm.memory.Push(NewUInteger(uint64(target.Dict.Len())))
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("%w: unknown message %q for Dictionary", errTypeMismatch, message)
	}
}

// sendToBytecode implements §4.3's Bytecode-CALL rule: decode, mint an
// anonymous label, load it, save the current scope under that label's
// hash, and recurse as Function(Label(name)) with CALL. The decoded
// Assembly is memoized in vm.bcCache keyed by the raw bytes (SPEC_FULL.md
// DOMAIN STACK, hashicorp/golang-lru) so repeated invocation of the same
// template does not redundantly decode it.
func (vm *VM) sendToBytecode(target Value, args []Value, depth int) (int, bool, error) {
	asm, ok := vm.bcCache.get(target.Code)
	if !ok {
		decoded, err := DecodeAssembly(target.Code)
		if err != nil {
			return 0, false, err
		}
		asm = decoded
		vm.bcCache.put(target.Code, asm)
	}

	name := vm.nextAnonymousLabel()
	full := append(Assembly{LabelAsm(name)}, asm...)
	// §9 "Loader re-entrancy": Load must tolerate being invoked mid-
	// instruction with a non-empty call stack, and any Static region
	// inside the decoded bytecode must still run in the global scope
	// rather than assuming it already is one — vm.Load's
	// GlobalScopeSwitch/BackScope bracketing around runStatic already
	// guarantees that regardless of reentrancy.
	if _, err := vm.Load(full); err != nil {
		return 0, false, err
	}

	key, err := NewString(name).Hash()
	if err != nil {
		return 0, false, err
	}
	vm.memory.SaveScope(key)

	return vm.sendMessage(NewFunction(MakeLabel(name)), messageCall, args, depth+1)
}

func (vm *VM) nextAnonymousLabel() string {
	vm.anonCounter++
	return fmt.Sprintf("<anonymous function %d>", vm.anonCounter)
}

// call implements §4.5: reverse args onto the operand stack, resolve the
// target, and either dispatch straight to a plugin-provided label (which
// does not consume the program counter) or push a placeholder call-stack
// entry and consume it.
func (vm *VM) call(loc AsmLocation, args []Value) (int, bool, error) {
	for i := len(args) - 1; i >= 0; i-- {
		vm.memory.Push(args[i])
	}

	switch loc.Kind {
	case LocByteIndex:
		vm.memory.PushCounter(0)
		return int(loc.Index), true, nil

	case LocInstructionDiff:
		return 0, false, fmt.Errorf("%w: InstructionDiff is not a legal Call target", errTypeMismatch)

	case LocLabel:
		if fn, ok := vm.plugins.lookupLabelFunc(loc.Label); ok {
			result, err := fn(vm.handle())
			if err != nil {
				return 0, false, err
			}
			vm.memory.Push(result)
			return 0, false, nil
		}
		idx, err := vm.resolveLabel(loc.Label)
		if err != nil {
			return 0, false, err
		}
		vm.memory.PushCounter(0)
		return idx, true, nil

	default:
		return 0, false, fmt.Errorf("%w: unrecognized AsmLocation kind", errTypeMismatch)
	}
}

// dispatchNative implements §4.4 dispatch from send_message(Native, ...)
// and from the NativeMethod instruction.
func (vm *VM) dispatchNative(name string, args []Value) error {
	h := vm.handle()
	h.pendingArgs = args
	return vm.callNative(name, h)
}

func (vm *VM) logInstruction(instr Asm, pc int) {
	vm.logger.Debug("dispatch", zap.Int("pc", pc), zap.String("instr", instr.String()))
}
