package vm

import (
	"errors"
	"fmt"
)

// interpret executes one instruction at pc and returns the next program
// counter, whether the outer loop should keep running, and a fatal error
// if one occurred and no fault-table entry absorbed it. This is the
// normative semantics of spec §4.2, one case per Asm variant from §3.
//
// When an instruction raises a fault that IS handled (vm.raise returns
// successfully), next is already the freshly-pushed handler's program
// counter (vm.fault sets it directly on vm.memory) — the caller's
// subsequent SetProgramCounter(next) call is then a harmless no-op rather
// than clobbering the handler's frame with a stale pc+1. This resolves an
// ambiguity between the original Rust vm.rs (whose fault-raising arms
// fall through to the generic pc+1 "next instruction" computation,
// relying on set_program_counter to overwrite it) and spec §4.2's explicit
// statement that on fault, interpret "does not return a next index for
// the faulting instruction" (documented in SPEC_FULL.md Open Questions).
func (vm *VM) interpret(instr Asm, pc int) (next int, cont bool, err error) {
	cont = true
	switch instr.Op {
	case OpNop, OpLabel, OpPublicLabel, OpStatic:
		next = pc + 1

	case OpHalt:
		cont = false
		next = pc + 1

	case OpPush:
		vm.memory.Push(instr.Arg)
		next = pc + 1

	case OpPop:
		if _, err := vm.memory.Pop(); err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		next = pc + 1

	case OpPack:
		// Pop n values, first-popped landing at index 0 (see the DESIGN.md
		// note reconciling this with vm.rs's opposite push_front
		// construction): this keeps Pack consistent with NativeMethod's
		// and popSendArgs' own "first popped is index/arg 0" convention
		// elsewhere in this file, and matches §4.2's literal formula.
		vals := make([]Value, instr.N)
		for i := 0; i < instr.N; i++ {
			v, err := vm.memory.Pop()
			if err != nil {
				return vm.raise(FaultStackUnderflow, instr, pc, err)
			}
			vals[i] = v
		}
		vm.memory.Push(NewArray(vals))
		next = pc + 1

	case OpClear:
		vm.memory.ClearStack()
		next = pc + 1

	case OpSetVar:
		v, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		vm.memory.SetVar(instr.N, v)
		next = pc + 1

	case OpGetVar:
		ref, err := vm.memory.GetVar(instr.N)
		if err != nil {
			return vm.raise(FaultUnboundVariable, instr, pc, err)
		}
		vm.memory.Push(Value{Kind: KindReference, Ref: ref})
		next = pc + 1

	case OpClearVar:
		vm.memory.ClearVar(instr.N)
		next = pc + 1

	case OpNextVar:
		v, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		vm.memory.NextVar(instr.N, v)
		next = pc + 1

	case OpGoto:
		idx, err := vm.resolve(instr.Loc, pc)
		if err != nil {
			return vm.raise(FaultUnknownLabel, instr, pc, err)
		}
		next = idx

	case OpCondGoto:
		v, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		if branchTruthy(v) {
			idx, err := vm.resolve(instr.Loc, pc)
			if err != nil {
				return vm.raise(FaultUnknownLabel, instr, pc, err)
			}
			next = idx
		} else {
			next = pc + 1
		}

	case OpReturn:
		if v, ok := vm.memory.PopCounter(); ok && v != 0 {
			next = v + 1
		} else {
			next = 0
		}

	case OpCall:
		target, consumed, err := vm.call(instr.Loc, nil)
		if err != nil {
			return vm.raise(classify(err), instr, pc, err)
		}
		if consumed {
			next = target
		} else {
			next = pc + 1
		}

	case OpGetSymbol:
		if _, ok := vm.loader.labelIndex(instr.Str); ok {
			vm.memory.Push(NewFunction(MakeLabel(instr.Str)))
			next = pc + 1
		} else {
			return vm.raise(FaultMissingSymbol, instr, pc, fmt.Errorf("%w: %s", errUnknownLabel, instr.Str))
		}

	case OpGetAttribute:
		d, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		v, err := getAttribute(d, instr.Str)
		if err != nil {
			return vm.raise(classify(err), instr, pc, err)
		}
		vm.memory.Push(v)
		next = pc + 1

	case OpIndex:
		arr, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		if arr.Kind != KindArray {
			return vm.raise(FaultTypeMismatch, instr, pc, errTypeMismatch)
		}
		if instr.N < 0 || instr.N >= len(arr.Array) {
			return vm.raise(FaultIndexOutOfRange, instr, pc, errIndexOutOfRange)
		}
		vm.memory.Push(arr.Array[instr.N].Clone())
		next = pc + 1

	case OpSendMessage:
		target, message, args, err := vm.popSendArgs()
		if err != nil {
			return vm.raise(classify(err), instr, pc, err)
		}
		n, consumed, err := vm.sendMessage(target, message.Str, args.Array, 0)
		if err != nil {
			return vm.raise(classify(err), instr, pc, err)
		}
		if consumed {
			next = n
		} else {
			next = pc + 1
		}

	case OpIntoReference:
		v, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		vm.memory.Push(NewReference(v))
		next = pc + 1

	case OpNativeMethod:
		args := make([]Value, instr.N)
		for i := 0; i < instr.N; i++ {
			v, err := vm.memory.Pop()
			if err != nil {
				return vm.raise(FaultStackUnderflow, instr, pc, err)
			}
			args[i] = v
		}
		depthBefore := vm.memory.CallDepth()
		if err := vm.dispatchNative(instr.Str, args); err != nil {
			return vm.raise(classify(err), instr, pc, err)
		}
		if vm.memory.CallDepth() != depthBefore {
			next = vm.memory.ProgramCounter()
		} else {
			next = pc + 1
		}

	case OpDeref:
		r, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		if r.Kind != KindReference {
			return vm.raise(FaultTypeMismatch, instr, pc, errTypeMismatch)
		}
		vm.memory.Push(r.Ref.Get().Clone())
		next = pc + 1

	case OpSetRef:
		ptr, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		val, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		if ptr.Kind != KindReference || ptr.Ref == nil {
			return vm.raise(FaultTypeMismatch, instr, pc, errTypeMismatch)
		}
		ptr.Ref.Set(val)
		next = pc + 1

	case OpAdd, OpSubtract, OpMultiply, OpDivide, OpRemainder:
		left, right, err := vm.popLeftRight()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		// arithOp takes (first-pushed, second-pushed) so that non-commutative
		// ops read in source order: Push(10); Push(3); Subtract computes
		// 10-3, not 3-10 (spec §8 S2). left/right name pop order (left is
		// popped first, i.e. it's the second-pushed operand), so the
		// arguments are passed right-then-left here.
		result, err := arithOp(right, left, arithOpcodeFor(instr.Op))
		if err != nil {
			return vm.raise(classify(err), instr, pc, err)
		}
		vm.memory.Push(result)
		next = pc + 1

	case OpGt:
		left, right, err := vm.popLeftRight()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		cmp, err := compareOp(right, left)
		if err != nil {
			return vm.raise(classify(err), instr, pc, err)
		}
		vm.memory.Push(NewBool(cmp > 0))
		next = pc + 1

	case OpGT0:
		v, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		cmp, err := compareOp(v, NewInteger(0))
		if err != nil {
			return vm.raise(classify(err), instr, pc, err)
		}
		vm.memory.Push(NewBool(cmp > 0))
		next = pc + 1

	case OpAnd, OpOr:
		left, right, err := vm.popLeftRight()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		result, err := bitwiseOp(left, right, bitwiseOpcodeFor(instr.Op))
		if err != nil {
			return vm.raise(classify(err), instr, pc, err)
		}
		vm.memory.Push(result)
		next = pc + 1

	case OpNot:
		v, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		result, err := BitwiseNot(v)
		if err != nil {
			return vm.raise(classify(err), instr, pc, err)
		}
		vm.memory.Push(result)
		next = pc + 1

	case OpBooleanAnd, OpBooleanOr, OpBooleanXor:
		left, right, err := vm.popLeftRight()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		if left.Kind != KindByte || right.Kind != KindByte {
			return vm.raise(FaultTypeMismatch, instr, pc, errTypeMismatch)
		}
		var r bool
		switch instr.Op {
		case OpBooleanAnd:
			r = left.Byte != 0 && right.Byte != 0
		case OpBooleanOr:
			r = left.Byte != 0 || right.Byte != 0
		case OpBooleanXor:
			r = (left.Byte != 0) != (right.Byte != 0)
		}
		vm.memory.Push(NewBool(r))
		next = pc + 1

	case OpBoolify:
		v, err := vm.memory.Pop()
		if err != nil {
			return vm.raise(FaultStackUnderflow, instr, pc, err)
		}
		truthy, ok := v.Truthy()
		if !ok {
			return vm.raise(FaultTypeMismatch, instr, pc, errTypeMismatch)
		}
		vm.memory.Push(NewBool(truthy))
		next = pc + 1

	default:
		return vm.raise(FaultTypeMismatch, instr, pc, fmt.Errorf("unimplemented opcode %s", instr.Op))
	}
	return next, cont, nil
}

// raise routes a failed condition through the fault subsystem, returning
// the handler's program counter on success or a fatal *RuntimeError when
// no fault-table entry exists, per §4.2/§7's "fatal unless a matching
// fault-table entry exists" tie-break.
func (vm *VM) raise(kind FaultKind, instr Asm, pc int, cause error) (int, bool, error) {
	next, err := vm.fault(kind, instr, pc, cause)
	if err != nil {
		return 0, false, err
	}
	return next, true, nil
}

func (vm *VM) resolve(loc AsmLocation, pc int) (int, error) {
	switch loc.Kind {
	case LocByteIndex:
		return int(loc.Index), nil
	case LocInstructionDiff:
		return pc + int(loc.Diff), nil
	case LocLabel:
		return vm.resolveLabel(loc.Label)
	default:
		return 0, fmt.Errorf("%w: unrecognized AsmLocation kind", errTypeMismatch)
	}
}

func (vm *VM) popLeftRight() (Value, Value, error) {
	left, err := vm.memory.Pop()
	if err != nil {
		return Value{}, Value{}, err
	}
	right, err := vm.memory.Pop()
	if err != nil {
		return Value{}, Value{}, err
	}
	return left, right, nil
}

func (vm *VM) popSendArgs() (target, message, args Value, err error) {
	target, err = vm.memory.Pop()
	if err != nil {
		return
	}
	message, err = vm.memory.Pop()
	if err != nil {
		return
	}
	if message.Kind != KindString {
		err = fmt.Errorf("%w: SendMessage requires a String message", errTypeMismatch)
		return
	}
	args, err = vm.memory.Pop()
	if err != nil {
		return
	}
	if args.Kind != KindArray {
		err = fmt.Errorf("%w: SendMessage requires an Array of args", errTypeMismatch)
		return
	}
	return target, message, args, nil
}

func getAttribute(d Value, key string) (Value, error) {
	switch d.Kind {
	case KindDictionary:
		if d.Dict == nil {
			return Value{}, fmt.Errorf("%w: nil dictionary", errTypeMismatch)
		}
		v, ok := d.Dict.Remove(key)
		if !ok {
			return Value{}, fmt.Errorf("%w: key %q", errIndexOutOfRange, key)
		}
		return v, nil
	case KindReference:
		if d.Ref == nil || d.Ref.Get().Kind != KindDictionary {
			return Value{}, fmt.Errorf("%w: GetAttribute target is not a Dictionary", errTypeMismatch)
		}
		inner := d.Ref.Get()
		v, ok := inner.Dict.Get(key)
		if !ok {
			return Value{}, fmt.Errorf("%w: key %q", errIndexOutOfRange, key)
		}
		return v.Clone(), nil
	default:
		return Value{}, fmt.Errorf("%w: GetAttribute target is not a Dictionary", errTypeMismatch)
	}
}

// branchTruthy implements CondGoto's branch predicate (§4.2): true for a
// non-zero Byte or a Reference whose target is not null. Any other Value
// (including wrong types) simply does not branch — this is NOT a fatal
// condition, unlike Boolify's use of Value.Truthy().
func branchTruthy(v Value) bool {
	switch v.Kind {
	case KindByte:
		return v.Byte != 0
	case KindReference:
		return v.Ref != nil
	default:
		return false
	}
}

func arithOpcodeFor(op Op) byte {
	switch op {
	case OpAdd:
		return opAdd
	case OpSubtract:
		return opSub
	case OpMultiply:
		return opMul
	case OpDivide:
		return opDiv
	case OpRemainder:
		return opRem
	default:
		return opAdd
	}
}

func bitwiseOpcodeFor(op Op) byte {
	if op == OpOr {
		return 1
	}
	return 0
}

// classify maps a returned error to the fault kind it should raise under,
// per §7's three error tiers.
func classify(err error) FaultKind {
	switch {
	case errors.Is(err, errStackUnderflow):
		return FaultStackUnderflow
	case errors.Is(err, errDivisionByZero):
		return FaultDivisionByZero
	case errors.Is(err, errUnknownLabel):
		return FaultUnknownLabel
	case errors.Is(err, errUnknownNative):
		return FaultUnknownNative
	case errors.Is(err, errIndexOutOfRange):
		return FaultIndexOutOfRange
	case errors.Is(err, errNotHashable):
		return FaultNotHashable
	case errors.Is(err, errDispatchTooDeep):
		return FaultStackOverflow
	default:
		return FaultTypeMismatch
	}
}
