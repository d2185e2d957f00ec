package chainvalue

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// Kind is the decoded shape of a contract value.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindText
	KindBuffer
	KindTuple
	KindList
	// KindSome never comes out of Decode; it only exists so callers can encode
	// optional arguments.
	KindSome
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindBuffer:
		return "buffer"
	case KindTuple:
		return "tuple"
	case KindList:
		return "list"
	case KindSome:
		return "some"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// wireType narrows how a value is serialized. Decoded values always carry
// wireDefault so that every wire shape of the same logical value decodes to
// the same Value.
type wireType uint8

const (
	wireDefault wireType = iota
	wireUint
	wireInt
	wirePrincipal
	wireASCII
	wireUTF8
)

// Value is a decoded contract value. The zero Value is none.
type Value struct {
	kind   Kind
	wire   wireType
	b      bool
	i      *big.Int
	s      string
	buf    []byte
	fields map[string]Value
	items  []Value
}

func None() Value { return Value{kind: KindNone} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps n. Encode writes it as uint when non-negative.
func Int(n *big.Int) Value {
	return Value{kind: KindInt, i: new(big.Int).Set(n)}
}

func Uint64(n uint64) Value {
	return Value{kind: KindInt, wire: wireUint, i: new(big.Int).SetUint64(n)}
}

// Uint is Int pinned to the unsigned wire type.
func Uint(n *big.Int) Value {
	v := Int(n)
	v.wire = wireUint
	return v
}

// SignedInt is Int pinned to the signed wire type.
func SignedInt(n *big.Int) Value {
	v := Int(n)
	v.wire = wireInt
	return v
}

func Text(s string) Value { return Value{kind: KindText, s: s} }

func StringUTF8(s string) Value { return Value{kind: KindText, wire: wireUTF8, s: s} }

func StringASCII(s string) Value { return Value{kind: KindText, wire: wireASCII, s: s} }

// Principal is a standard (SP.../ST...) or contract (ST....name) principal.
func Principal(addr string) Value { return Value{kind: KindText, wire: wirePrincipal, s: addr} }

func Buffer(b []byte) Value {
	return Value{kind: KindBuffer, buf: append([]byte(nil), b...)}
}

func Tuple(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindTuple, fields: cp}
}

func List(items ...Value) Value {
	return Value{kind: KindList, items: append([]Value(nil), items...)}
}

func Some(v Value) Value {
	return Value{kind: KindSome, items: []Value{v}}
}

// Optional returns Some(v) when ok, otherwise None.
func Optional(v Value, ok bool) Value {
	if !ok {
		return None()
	}
	return Some(v)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNone() bool { return v.kind == KindNone }

// Field returns the named tuple field.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindTuple {
		return Value{}, false
	}
	f, ok := v.fields[name]
	return f, ok
}

// FieldNames returns the tuple's keys in sorted order.
func (v Value) FieldNames() []string {
	names := make([]string, 0, len(v.fields))
	for k := range v.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (v Value) Items() []Value {
	return append([]Value(nil), v.items...)
}

// BigInt returns a copy of the integer. Numeric text is accepted because
// proxies commonly stringify 128-bit integers.
func (v Value) BigInt() (*big.Int, error) {
	switch v.kind {
	case KindInt:
		return new(big.Int).Set(v.i), nil
	case KindText:
		n, ok := new(big.Int).SetString(v.s, 10)
		if !ok {
			return nil, fmt.Errorf("text %q is not an integer", v.s)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("expected int, got %s", v.kind)
	}
}

func (v Value) Uint64() (uint64, error) {
	n, err := v.BigInt()
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("integer %s out of uint64 range", n)
	}
	return n.Uint64(), nil
}

func (v Value) TextValue() (string, error) {
	if v.kind != KindText {
		return "", fmt.Errorf("expected text, got %s", v.kind)
	}
	return v.s, nil
}

func (v Value) BoolValue() (bool, error) {
	if v.kind != KindBool {
		return false, fmt.Errorf("expected bool, got %s", v.kind)
	}
	return v.b, nil
}

func (v Value) Bytes() ([]byte, error) {
	if v.kind != KindBuffer {
		return nil, fmt.Errorf("expected buffer, got %s", v.kind)
	}
	return append([]byte(nil), v.buf...), nil
}

// Equal reports whether both values render identically. Wire hints are
// ignored.
func (v Value) Equal(o Value) bool {
	return v.String() == o.String()
}

// String renders the value in a canonical Clarity-like notation with tuple
// keys sorted.
func (v Value) String() string {
	var sb strings.Builder
	v.render(&sb)
	return sb.String()
}

func (v Value) render(sb *strings.Builder) {
	switch v.kind {
	case KindNone:
		sb.WriteString("none")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		sb.WriteString(v.i.String())
	case KindText:
		sb.WriteString(strconv.Quote(v.s))
	case KindBuffer:
		sb.WriteString("0x")
		sb.WriteString(hex.EncodeToString(v.buf))
	case KindList:
		sb.WriteString("(list")
		for _, it := range v.items {
			sb.WriteByte(' ')
			it.render(sb)
		}
		sb.WriteByte(')')
	case KindTuple:
		sb.WriteString("(tuple")
		for _, k := range v.FieldNames() {
			sb.WriteString(" (")
			sb.WriteString(k)
			sb.WriteByte(' ')
			v.fields[k].render(sb)
			sb.WriteByte(')')
		}
		sb.WriteByte(')')
	case KindSome:
		sb.WriteString("(some ")
		v.items[0].render(sb)
		sb.WriteByte(')')
	}
}
