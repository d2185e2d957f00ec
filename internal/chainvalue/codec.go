package chainvalue

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Consensus serialization type prefixes.
const (
	typeInt               byte = 0x00
	typeUint              byte = 0x01
	typeBuffer            byte = 0x02
	typeTrue              byte = 0x03
	typeFalse             byte = 0x04
	typeStandardPrincipal byte = 0x05
	typeContractPrincipal byte = 0x06
	typeResponseOk        byte = 0x07
	typeResponseErr       byte = 0x08
	typeNone              byte = 0x09
	typeSome              byte = 0x0a
	typeList              byte = 0x0b
	typeTuple             byte = 0x0c
	typeStringASCII       byte = 0x0d
	typeStringUTF8        byte = 0x0e
)

const maxDepth = 64

var (
	two128 = new(big.Int).Lsh(big.NewInt(1), 128)
	two127 = new(big.Int).Lsh(big.NewInt(1), 127)
)

// ParseHex decodes a consensus-serialized value. Responses and optionals are
// unwrapped: (ok x) and (some x) yield x, (err x) fails as malformed.
func ParseHex(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return Value{}, wrapMalformed("", fmt.Errorf("hex: %w", err))
	}
	return ParseBytes(raw)
}

func ParseBytes(raw []byte) (Value, error) {
	r := &reader{buf: raw}
	v, err := r.value(0)
	if err != nil {
		return Value{}, err
	}
	if r.pos != len(raw) {
		return Value{}, Errorf(Malformed, "", "%d trailing bytes", len(raw)-r.pos)
	}
	return v, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, Errorf(Malformed, "", "unexpected end of input at offset %d", r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u32() (int, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(b)
	if int(n) > len(r.buf) {
		return 0, Errorf(Malformed, "", "length %d exceeds input", n)
	}
	return int(n), nil
}

func (r *reader) value(depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, Errorf(Malformed, "", "nesting deeper than %d", maxDepth)
	}
	t, err := r.readByte()
	if err != nil {
		return Value{}, err
	}
	switch t {
	case typeInt, typeUint:
		b, err := r.take(16)
		if err != nil {
			return Value{}, err
		}
		n := new(big.Int).SetBytes(b)
		if t == typeInt && n.Cmp(two127) >= 0 {
			n.Sub(n, two128)
		}
		return Value{kind: KindInt, i: n}, nil
	case typeBuffer:
		n, err := r.u32()
		if err != nil {
			return Value{}, err
		}
		b, err := r.take(n)
		if err != nil {
			return Value{}, err
		}
		return Buffer(b), nil
	case typeTrue:
		return Bool(true), nil
	case typeFalse:
		return Bool(false), nil
	case typeStandardPrincipal, typeContractPrincipal:
		addr, err := r.principal(t == typeContractPrincipal)
		if err != nil {
			return Value{}, err
		}
		return Text(addr), nil
	case typeResponseOk, typeSome:
		return r.value(depth + 1)
	case typeResponseErr:
		inner, err := r.value(depth + 1)
		if err != nil {
			return Value{}, err
		}
		return Value{}, Errorf(Malformed, "", "contract returned (err %s)", inner)
	case typeNone:
		return None(), nil
	case typeList:
		n, err := r.u32()
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, 0, n)
		for i := 0; i < n; i++ {
			it, err := r.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, it)
		}
		return Value{kind: KindList, items: items}, nil
	case typeTuple:
		n, err := r.u32()
		if err != nil {
			return Value{}, err
		}
		fields := make(map[string]Value, n)
		for i := 0; i < n; i++ {
			l, err := r.readByte()
			if err != nil {
				return Value{}, err
			}
			name, err := r.take(int(l))
			if err != nil {
				return Value{}, err
			}
			fv, err := r.value(depth + 1)
			if err != nil {
				return Value{}, err
			}
			fields[string(name)] = fv
		}
		return Value{kind: KindTuple, fields: fields}, nil
	case typeStringASCII, typeStringUTF8:
		n, err := r.u32()
		if err != nil {
			return Value{}, err
		}
		b, err := r.take(n)
		if err != nil {
			return Value{}, err
		}
		if t == typeStringUTF8 && !utf8.Valid(b) {
			return Value{}, Errorf(Malformed, "", "invalid utf-8 string")
		}
		return Text(string(b)), nil
	default:
		return Value{}, Errorf(Malformed, "", "unknown type prefix 0x%02x", t)
	}
}

func (r *reader) principal(contract bool) (string, error) {
	version, err := r.readByte()
	if err != nil {
		return "", err
	}
	hash, err := r.take(20)
	if err != nil {
		return "", err
	}
	addr, err := EncodeAddress(version, hash)
	if err != nil {
		return "", wrapMalformed("", err)
	}
	if !contract {
		return addr, nil
	}
	l, err := r.readByte()
	if err != nil {
		return "", err
	}
	name, err := r.take(int(l))
	if err != nil {
		return "", err
	}
	return addr + "." + string(name), nil
}

// EncodeHex serializes v to 0x-prefixed consensus hex.
func EncodeHex(v Value) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(b), nil
}

// Encode serializes v. Integers without an explicit wire type are written as
// uint when non-negative; text defaults to string-utf8.
func Encode(v Value) ([]byte, error) {
	var out []byte
	if err := encode(&out, v); err != nil {
		return nil, err
	}
	return out, nil
}

func encode(out *[]byte, v Value) error {
	switch v.kind {
	case KindNone:
		*out = append(*out, typeNone)
	case KindSome:
		*out = append(*out, typeSome)
		return encode(out, v.items[0])
	case KindBool:
		if v.b {
			*out = append(*out, typeTrue)
		} else {
			*out = append(*out, typeFalse)
		}
	case KindInt:
		return encodeInt(out, v)
	case KindText:
		return encodeText(out, v)
	case KindBuffer:
		*out = append(*out, typeBuffer)
		*out = binary.BigEndian.AppendUint32(*out, uint32(len(v.buf)))
		*out = append(*out, v.buf...)
	case KindList:
		*out = append(*out, typeList)
		*out = binary.BigEndian.AppendUint32(*out, uint32(len(v.items)))
		for _, it := range v.items {
			if err := encode(out, it); err != nil {
				return err
			}
		}
	case KindTuple:
		*out = append(*out, typeTuple)
		names := v.FieldNames()
		*out = binary.BigEndian.AppendUint32(*out, uint32(len(names)))
		for _, name := range names {
			if len(name) > 128 {
				return fmt.Errorf("tuple key %q too long", name)
			}
			*out = append(*out, byte(len(name)))
			*out = append(*out, name...)
			if err := encode(out, v.fields[name]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("cannot encode %s", v.kind)
	}
	return nil
}

func encodeInt(out *[]byte, v Value) error {
	signed := v.wire == wireInt || (v.wire == wireDefault && v.i.Sign() < 0)
	n := new(big.Int).Set(v.i)
	if signed {
		if n.Cmp(two127) >= 0 || n.Cmp(new(big.Int).Neg(two127)) < 0 {
			return fmt.Errorf("int %s out of 128-bit range", v.i)
		}
		if n.Sign() < 0 {
			n.Add(n, two128)
		}
		*out = append(*out, typeInt)
	} else {
		if n.Sign() < 0 || n.Cmp(two128) >= 0 {
			return fmt.Errorf("uint %s out of 128-bit range", v.i)
		}
		*out = append(*out, typeUint)
	}
	*out = append(*out, n.FillBytes(make([]byte, 16))...)
	return nil
}

func encodeText(out *[]byte, v Value) error {
	switch v.wire {
	case wirePrincipal:
		version, hash, contract, err := ParsePrincipal(v.s)
		if err != nil {
			return err
		}
		if contract == "" {
			*out = append(*out, typeStandardPrincipal, version)
			*out = append(*out, hash...)
			return nil
		}
		*out = append(*out, typeContractPrincipal, version)
		*out = append(*out, hash...)
		*out = append(*out, byte(len(contract)))
		*out = append(*out, contract...)
	case wireASCII:
		for i := 0; i < len(v.s); i++ {
			if v.s[i] > 0x7e || v.s[i] < 0x20 && v.s[i] != '\n' && v.s[i] != '\t' && v.s[i] != '\r' {
				return fmt.Errorf("string %q is not printable ascii", v.s)
			}
		}
		*out = append(*out, typeStringASCII)
		*out = binary.BigEndian.AppendUint32(*out, uint32(len(v.s)))
		*out = append(*out, v.s...)
	default:
		if !utf8.ValidString(v.s) {
			return fmt.Errorf("string is not valid utf-8")
		}
		*out = append(*out, typeStringUTF8)
		*out = binary.BigEndian.AppendUint32(*out, uint32(len(v.s)))
		*out = append(*out, v.s...)
	}
	return nil
}
