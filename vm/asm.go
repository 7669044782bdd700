package vm

import "fmt"

// Op identifies one bytecode instruction, the closed instruction set from
// spec §3, mirroring jodin-asm's `Asm` enum
// (_examples/original_source/jodin-asm/src/mvp/bytecode.rs) the way
// KTStephano-GVM/vm/bytecode.go enumerates its own Bytecode opcode set.
type Op int

const (
	OpNop Op = iota
	OpLabel
	OpPublicLabel
	OpHalt
	OpStatic

	OpPush
	OpPop
	OpPack
	OpClear

	OpSetVar
	OpGetVar
	OpClearVar
	OpNextVar

	OpGoto
	OpCondGoto
	OpReturn
	OpCall
	OpGetSymbol

	OpGetAttribute
	OpIndex
	OpSendMessage
	OpIntoReference
	OpNativeMethod
	OpDeref
	OpSetRef

	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpRemainder
	OpAnd
	OpOr
	OpNot
	OpBooleanAnd
	OpBooleanOr
	OpBooleanXor
	OpGt
	OpGT0
	OpBoolify
)

// AsmLocation identifies a branch/call target (§3): an absolute
// byte/instruction index, a signed delta relative to the current program
// counter, or a symbolic label resolved through the label index.
type AsmLocation struct {
	Kind  LocationKind
	Index uint64
	Diff  int64
	Label string
}

type LocationKind int

const (
	LocByteIndex LocationKind = iota
	LocInstructionDiff
	LocLabel
)

func ByteIndex(i uint64) AsmLocation      { return AsmLocation{Kind: LocByteIndex, Index: i} }
func InstructionDiff(d int64) AsmLocation { return AsmLocation{Kind: LocInstructionDiff, Diff: d} }
func MakeLabel(name string) AsmLocation  { return AsmLocation{Kind: LocLabel, Label: name} }

func (l AsmLocation) String() string {
	switch l.Kind {
	case LocByteIndex:
		return fmt.Sprintf("#%d", l.Index)
	case LocInstructionDiff:
		return fmt.Sprintf("%+d", l.Diff)
	case LocLabel:
		return l.Label
	default:
		return "?loc?"
	}
}

// Asm is one decoded instruction plus its operands. Operand meaning is
// per-opcode; see interp_ops.go's interpret switch for the
// authoritative reading of each field.
type Asm struct {
	Op     Op
	Arg    Value       // Push(v)
	Loc    AsmLocation // Goto/CondGoto/Call
	Str    string      // Label/PublicLabel name, GetSymbol/GetAttribute key
	N      int         // Pack/SetVar/GetVar/ClearVar/NextVar/Index/NativeMethod argc
	Static bool        // set when this instruction was emitted as a Static region entry
}

// Assembly is an ordered sequence of instructions as produced by a front
// end or a disassembler; Load (§4.1) appends one Assembly at a time to the
// VM's instruction vector.
type Assembly []Asm

var opNames = map[Op]string{
	OpNop: "Nop", OpLabel: "Label", OpPublicLabel: "PublicLabel",
	OpHalt: "Halt", OpStatic: "Static",
	OpPush: "Push", OpPop: "Pop", OpPack: "Pack", OpClear: "Clear",
	OpSetVar: "SetVar", OpGetVar: "GetVar", OpClearVar: "ClearVar", OpNextVar: "NextVar",
	OpGoto: "Goto", OpCondGoto: "CondGoto", OpReturn: "Return", OpCall: "Call",
	OpGetSymbol: "GetSymbol",
	OpGetAttribute: "GetAttribute", OpIndex: "Index", OpSendMessage: "SendMessage",
	OpIntoReference: "IntoReference", OpNativeMethod: "NativeMethod", OpDeref: "Deref",
	OpSetRef: "SetRef",
	OpAdd: "Add", OpSubtract: "Subtract", OpMultiply: "Multiply", OpDivide: "Divide",
	OpRemainder: "Remainder", OpAnd: "And", OpOr: "Or", OpNot: "Not",
	OpBooleanAnd: "BooleanAnd", OpBooleanOr: "BooleanOr", OpBooleanXor: "BooleanXor",
	OpGt: "Gt", OpGT0: "GT0", OpBoolify: "Boolify",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

func (a Asm) String() string {
	switch a.Op {
	case OpPush:
		return fmt.Sprintf("Push %s", a.Arg.String())
	case OpGoto, OpCondGoto, OpCall:
		return fmt.Sprintf("%s %s", a.Op, a.Loc.String())
	case OpLabel, OpPublicLabel:
		return fmt.Sprintf("%s %s", a.Op, a.Str)
	case OpSetVar, OpGetVar, OpClearVar, OpNextVar, OpPack, OpIndex:
		return fmt.Sprintf("%s %d", a.Op, a.N)
	case OpGetSymbol, OpGetAttribute:
		return fmt.Sprintf("%s %q", a.Op, a.Str)
	case OpNativeMethod:
		return fmt.Sprintf("NativeMethod %q %d", a.Str, a.N)
	default:
		return a.Op.String()
	}
}

// LabelAsm builds a Label(s) instruction.
func LabelAsm(name string) Asm { return Asm{Op: OpLabel, Str: name} }

// PublicLabelAsm builds a PublicLabel(s) instruction.
func PublicLabelAsm(name string) Asm { return Asm{Op: OpPublicLabel, Str: name} }

// PushAsm builds a Push(v) instruction.
func PushAsm(v Value) Asm { return Asm{Op: OpPush, Arg: v} }
