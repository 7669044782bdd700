package vm

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// builtinNatives is the core native-method table required by §4.4,
// grounded on vm.rs's native_method() match arms. Names beginning with
// "@" do not push a return value onto the operand stack, per the table's
// closing rule.
var builtinNatives = map[string]NativeFunc{
	"print":         nativePrint,
	"write":         nativeWrite,
	"invoke":        nativeInvoke,
	"ref":           nativeRef,
	"copy":          nativeCopy,
	"dynamic_call":  nativeDynamicCall,
	"@load_scope":   nativeLoadScope,
	"@save_scope":   nativeSaveScope,
	"@push_scope":   nativePushScope,
	"@pop_scope":    nativePopScope,
	"@global_scope": nativeGlobalScope,
	"@back_scope":   nativeBackScope,
	"@call":         nativeCall,
	"@print_stack":  nativePrintStack,
}

func nativePrint(vm *VM, h *VMHandle, args []Value) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: print requires a value", errTypeMismatch)
	}
	_, err := fmt.Fprint(vm.stdout, args[0].String())
	if err != nil {
		return err
	}
	vm.memory.Push(Empty())
	return nil
}

func nativeWrite(vm *VM, h *VMHandle, args []Value) error {
	if len(args) < 2 || args[0].Kind != KindUInteger || args[1].Kind != KindString {
		return fmt.Errorf("%w: write(fd, s) requires a UInteger fd and a String", errTypeMismatch)
	}
	var sink io.Writer
	switch args[0].UInteger {
	case 1:
		sink = vm.stdout
	case 2:
		sink = vm.stderr
	default:
		return fmt.Errorf("%w: invalid fd %d", errTypeMismatch, args[0].UInteger)
	}
	if _, err := io.WriteString(sink, args[1].Str); err != nil {
		return err
	}
	vm.memory.Push(Empty())
	return nil
}

func nativeInvoke(vm *VM, h *VMHandle, args []Value) error {
	if len(args) < 3 || args[1].Kind != KindString || args[2].Kind != KindArray {
		return fmt.Errorf("%w: invoke(target, msg, args) requires target, String msg, Array args", errTypeMismatch)
	}
	next, consumed, err := vm.sendMessage(args[0], args[1].Str, args[2].Array, 0)
	if err != nil {
		return err
	}
	if consumed {
		// sendMessage's underlying call() already pushed the reserved
		// call-stack slot; only the program counter needs updating here.
		vm.memory.SetProgramCounter(next)
	}
	return nil
}

func nativeRef(vm *VM, h *VMHandle, args []Value) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: ref requires a value", errTypeMismatch)
	}
	vm.memory.Push(NewReference(args[0]))
	return nil
}

func nativeCopy(vm *VM, h *VMHandle, args []Value) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: copy requires a value", errTypeMismatch)
	}
	vm.memory.Push(args[0])
	vm.memory.Push(args[0].Clone())
	return nil
}

// nativeDynamicCall implements §4.4's dynamic_call: only the plugin name
// is consumed from args; the plugin pulls whatever further operands it
// needs directly off the live Stack adapter, grounded precisely in
// vm.rs's "dynamic_call" arm, which only pops the function-name string
// and hands the plugin a Stack bound to the still-live operand stack.
func nativeDynamicCall(vm *VM, h *VMHandle, args []Value) error {
	if len(args) < 1 || args[0].Kind != KindString {
		return fmt.Errorf("%w: dynamic_call(name, ...) requires a String name", errTypeMismatch)
	}
	fn, ok := vm.plugins.lookupNative(args[0].Str)
	if !ok {
		return fmt.Errorf("%w: %s", errPluginNotFound, args[0].Str)
	}
	return fn(vm, h, nil)
}

func nativeLoadScope(vm *VM, h *VMHandle, args []Value) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: @load_scope requires a key", errTypeMismatch)
	}
	key, err := args[0].Hash()
	if err != nil {
		return err
	}
	return vm.memory.LoadScope(key)
}

func nativeSaveScope(vm *VM, h *VMHandle, args []Value) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: @save_scope requires a key", errTypeMismatch)
	}
	key, err := args[0].Hash()
	if err != nil {
		return err
	}
	vm.memory.SaveScope(key)
	return nil
}

func nativePushScope(vm *VM, h *VMHandle, args []Value) error {
	vm.memory.PushScope()
	return nil
}

func nativePopScope(vm *VM, h *VMHandle, args []Value) error {
	return vm.memory.PopScope()
}

func nativeGlobalScope(vm *VM, h *VMHandle, args []Value) error {
	vm.memory.GlobalScopeSwitch()
	return nil
}

func nativeBackScope(vm *VM, h *VMHandle, args []Value) error {
	return vm.memory.BackScope()
}

// nativeCall implements §4.4's @call: recurse into native dispatch with a
// new name, letting the nested native pull its own arguments off the
// stack the same way dynamic_call does.
func nativeCall(vm *VM, h *VMHandle, args []Value) error {
	if len(args) < 1 || args[0].Kind != KindString {
		return fmt.Errorf("%w: @call requires a String name", errTypeMismatch)
	}
	return vm.dispatchNative(args[0].Str, nil)
}

// nativePrintStack is a supplemented debug-only native (SPEC_FULL.md):
// dumps the operand stack to the logger at debug level and pushes
// nothing, matching vm.rs's dev-only stack dump helper.
func nativePrintStack(vm *VM, h *VMHandle, args []Value) error {
	depth := vm.memory.StackLen()
	fields := make([]zap.Field, 0, depth)
	for i := 0; i < depth; i++ {
		fields = append(fields, zap.String(fmt.Sprintf("slot_%d", i), vm.memory.operand[i].String()))
	}
	vm.logger.Debug("operand stack", fields...)
	return nil
}
