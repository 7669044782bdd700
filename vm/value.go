package vm

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Kind tags the variant currently held by a Value. The VM is dynamically
// typed at the bytecode level; every instruction that cares about shape
// switches on Kind rather than relying on a Go type assertion.
type Kind int

const (
	KindEmpty Kind = iota
	KindByte
	KindFloat
	KindInteger
	KindUInteger
	KindString
	KindDictionary
	KindArray
	KindReference
	KindBytecode
	KindFunction
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "Empty"
	case KindByte:
		return "Byte"
	case KindFloat:
		return "Float"
	case KindInteger:
		return "Integer"
	case KindUInteger:
		return "UInteger"
	case KindString:
		return "String"
	case KindDictionary:
		return "Dictionary"
	case KindArray:
		return "Array"
	case KindReference:
		return "Reference"
	case KindBytecode:
		return "Bytecode"
	case KindFunction:
		return "Function"
	case KindNative:
		return "Native"
	default:
		return "?unknown?"
	}
}

// Reference is a shared, interior-mutable cell. Multiple Value handles of
// Kind Reference may point at the same Reference; writing through any of
// them is observed by every alias. A nil *Reference is the null sentinel.
type Reference struct {
	target Value
}

func newReference(v Value) *Reference {
	return &Reference{target: v}
}

// Get returns the value currently stored in the cell.
func (r *Reference) Get() Value {
	if r == nil {
		return Value{Kind: KindEmpty}
	}
	return r.target
}

// Set overwrites the cell's contents in place, so every alias observes it.
func (r *Reference) Set(v Value) {
	if r == nil {
		return
	}
	r.target = v
}

// Dictionary is an ordered, string-keyed mapping. Insertion order is
// preserved for iteration the same way the original jodin Value::Dictionary
// preserves it; no ecosystem ordered-map library appears anywhere in the
// retrieval pack, so this is a small hand-rolled slice+map pair (see
// DESIGN.md for the justification).
type Dictionary struct {
	order []string
	data  map[string]Value
}

// NewDictionary returns an empty, ready-to-use Dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{data: make(map[string]Value)}
}

func (d *Dictionary) Get(key string) (Value, bool) {
	v, ok := d.data[key]
	return v, ok
}

func (d *Dictionary) Put(key string, v Value) {
	if _, exists := d.data[key]; !exists {
		d.order = append(d.order, key)
	}
	d.data[key] = v
}

func (d *Dictionary) Remove(key string) (Value, bool) {
	v, ok := d.data[key]
	if !ok {
		return Value{}, false
	}
	delete(d.data, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return v, true
}

func (d *Dictionary) Len() int { return len(d.order) }

func (d *Dictionary) Clone() *Dictionary {
	clone := &Dictionary{
		order: append([]string(nil), d.order...),
		data:  make(map[string]Value, len(d.data)),
	}
	for k, v := range d.data {
		clone.data[k] = v.Clone()
	}
	return clone
}

// Value is the tagged variant described in spec §3. Only the fields that
// correspond to the active Kind are meaningful.
type Value struct {
	Kind     Kind
	Byte     byte
	Float    float64
	Integer  int64
	UInteger uint64
	Str      string
	Dict     *Dictionary
	Array    []Value
	Ref      *Reference
	Code     []byte
	Loc      AsmLocation
}

func Empty() Value                  { return Value{Kind: KindEmpty} }
func NewByte(b byte) Value          { return Value{Kind: KindByte, Byte: b} }
func NewFloat(f float64) Value      { return Value{Kind: KindFloat, Float: f} }
func NewInteger(i int64) Value      { return Value{Kind: KindInteger, Integer: i} }
func NewUInteger(u uint64) Value    { return Value{Kind: KindUInteger, UInteger: u} }
func NewString(s string) Value      { return Value{Kind: KindString, Str: s} }
func NewArray(v []Value) Value      { return Value{Kind: KindArray, Array: v} }
func NewDictionaryValue() Value     { return Value{Kind: KindDictionary, Dict: NewDictionary()} }
func NewFunction(l AsmLocation) Value { return Value{Kind: KindFunction, Loc: l} }
func NewBytecode(b []byte) Value    { return Value{Kind: KindBytecode, Code: b} }
func Native() Value                 { return Value{Kind: KindNative} }

// NewReference allocates a fresh cell holding v and returns a Value wrapping it.
func NewReference(v Value) Value {
	return Value{Kind: KindReference, Ref: newReference(v)}
}

// NullReference returns the design-level null-pointer sentinel: a
// Reference Value whose cell pointer is nil.
func NullReference() Value {
	return Value{Kind: KindReference, Ref: nil}
}

func NewBool(b bool) Value {
	if b {
		return NewByte(1)
	}
	return NewByte(0)
}

// Clone returns a copy suitable for Push(v) semantics: Dictionary and Array
// contents are deep-copied, Reference aliasing is preserved (the cell
// pointer is shared, not copied), and everything else is a plain value copy.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindDictionary:
		if v.Dict == nil {
			return v
		}
		return Value{Kind: KindDictionary, Dict: v.Dict.Clone()}
	case KindArray:
		cloned := make([]Value, len(v.Array))
		for i, e := range v.Array {
			cloned[i] = e.Clone()
		}
		return Value{Kind: KindArray, Array: cloned}
	default:
		return v
	}
}

// Truthy implements the Boolify truthiness rule from spec §4.2; the second
// result is false for kinds that have no truthiness. CondGoto does not use
// it: its branch test is branchTruthy in interp_ops.go.
func (v Value) Truthy() (bool, bool) {
	switch v.Kind {
	case KindByte:
		return v.Byte != 0, true
	case KindInteger:
		return v.Integer != 0, true
	case KindUInteger:
		return v.UInteger != 0, true
	case KindReference:
		return v.Ref != nil && v.Ref.Get().Kind != KindEmpty, true
	default:
		return false, false
	}
}

// IsNullReference reports whether v is a Reference whose cell pointer is nil.
func (v Value) IsNullReference() bool {
	return v.Kind == KindReference && v.Ref == nil
}

// Hash produces a 64-bit digest used for scope save/load keys (§4.4
// @save_scope/@load_scope). A Value is hashable iff every contained Value
// is hashable; Reference hashes by the hash of its current target.
func (v Value) Hash() (uint64, error) {
	h := fnv.New64a()
	if err := v.writeHash(h); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func (v Value) writeHash(h interface{ Write([]byte) (int, error) }) error {
	write := func(s string) { _, _ = h.Write([]byte(s)) }
	write(v.Kind.String())
	switch v.Kind {
	case KindByte:
		write(string(rune(v.Byte)))
	case KindFloat:
		write(fmt.Sprintf("%g", v.Float))
	case KindInteger:
		write(fmt.Sprintf("%d", v.Integer))
	case KindUInteger:
		write(fmt.Sprintf("%d", v.UInteger))
	case KindString:
		write(v.Str)
	case KindArray:
		for _, e := range v.Array {
			if err := e.writeHash(h); err != nil {
				return err
			}
		}
	case KindDictionary:
		if v.Dict != nil {
			for _, k := range v.Dict.order {
				write(k)
				val := v.Dict.data[k]
				if err := val.writeHash(h); err != nil {
					return err
				}
			}
		}
	case KindReference:
		if v.Ref == nil {
			write("<null>")
		} else {
			return v.Ref.Get().writeHash(h)
		}
	case KindFunction:
		write(v.Loc.String())
	case KindBytecode:
		_, _ = h.Write(v.Code)
	case KindNative, KindEmpty:
		// nothing further to mix in
	}
	return nil
}

// String renders a pretty-print representation used by the `print` native
// (spec §4.4) and by disassembly/debug output.
func (v Value) String() string {
	switch v.Kind {
	case KindEmpty:
		return "<empty>"
	case KindByte:
		return fmt.Sprintf("%d", v.Byte)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindInteger:
		return fmt.Sprintf("%d", v.Integer)
	case KindUInteger:
		return fmt.Sprintf("%d", v.UInteger)
	case KindString:
		return v.Str
	case KindDictionary:
		if v.Dict == nil {
			return "{}"
		}
		parts := make([]string, 0, len(v.Dict.order))
		for _, k := range v.Dict.order {
			val := v.Dict.data[k]
			parts = append(parts, fmt.Sprintf("%s: %s", k, val.String()))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindArray:
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindReference:
		if v.Ref == nil {
			return "&<null>"
		}
		return "&" + v.Ref.Get().String()
	case KindBytecode:
		return fmt.Sprintf("<bytecode %d bytes>", len(v.Code))
	case KindFunction:
		return fmt.Sprintf("<function %s>", v.Loc.String())
	case KindNative:
		return "<native>"
	default:
		return "<?>"
	}
}
