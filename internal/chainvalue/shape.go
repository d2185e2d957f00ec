package chainvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// wrapperClass is the closed set of {type, value} wrappers observed from
// proxies and older node versions.
type wrapperClass int

const (
	wrapUnknown wrapperClass = iota
	wrapNone
	wrapSome
	wrapOk
	wrapErr
	wrapInt
	wrapBool
	wrapText
	wrapBuffer
	wrapTuple
	wrapList
)

func classifyWrapper(t string, success *bool) wrapperClass {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case t == "none" || t == "(optional none)" || t == "optional_none":
		return wrapNone
	case t == "some" || t == "optional_some" || strings.HasPrefix(t, "(optional"):
		return wrapSome
	case t == "ok" || t == "response_ok":
		return wrapOk
	case t == "err" || t == "response_err":
		return wrapErr
	case strings.HasPrefix(t, "(response"):
		if success != nil && !*success {
			return wrapErr
		}
		return wrapOk
	case t == "tuple" || strings.HasPrefix(t, "(tuple"):
		return wrapTuple
	case t == "list" || strings.HasPrefix(t, "(list"):
		return wrapList
	case t == "buffer" || strings.HasPrefix(t, "(buff"):
		return wrapBuffer
	case t == "uint" || t == "int" || t == "uint128" || t == "int128":
		return wrapInt
	case t == "bool" || t == "true" || t == "false":
		return wrapBool
	case t == "principal" || strings.Contains(t, "string") || strings.HasSuffix(t, "principal"):
		return wrapText
	default:
		return wrapUnknown
	}
}

// ParseJSON decodes the loosely-shaped JSON rendering of a contract value:
// bare scalars, {type, value} wrappers at any depth, {type: some|none}
// optionals, and tuples given either as flat objects or objects of wrapped
// fields.
func ParseJSON(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Value{}, wrapMalformed("", fmt.Errorf("json: %w", err))
	}
	return fromJSON(doc, wrapUnknown, "", 0)
}

func fromJSON(doc any, hint wrapperClass, field string, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, Errorf(Malformed, field, "nesting deeper than %d", maxDepth)
	}
	switch d := doc.(type) {
	case nil:
		return None(), nil
	case bool:
		return Bool(d), nil
	case json.Number:
		n, ok := new(big.Int).SetString(d.String(), 10)
		if !ok {
			return Value{}, Errorf(Malformed, field, "number %s is not an integer", d)
		}
		return Value{kind: KindInt, i: n}, nil
	case string:
		return scalarFromString(d, hint, field)
	case []any:
		items := make([]Value, 0, len(d))
		for i, it := range d {
			v, err := fromJSON(it, wrapUnknown, fmt.Sprintf("%s[%d]", field, i), depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{kind: KindList, items: items}, nil
	case map[string]any:
		return fromObject(d, hint, field, depth)
	default:
		return Value{}, Errorf(Malformed, field, "unsupported json %T", doc)
	}
}

func fromObject(obj map[string]any, hint wrapperClass, field string, depth int) (Value, error) {
	typ, hasType := obj["type"].(string)
	inner, hasValue := obj["value"]

	if hasType && (hasValue || len(obj) <= 2) {
		var success *bool
		if s, ok := obj["success"].(bool); ok {
			success = &s
		}
		switch class := classifyWrapper(typ, success); class {
		case wrapNone:
			return None(), nil
		case wrapErr:
			return Value{}, Errorf(Malformed, field, "contract returned err %v", inner)
		case wrapSome, wrapOk, wrapUnknown:
			if !hasValue {
				return Value{}, Errorf(Malformed, field, "%q wrapper without value", typ)
			}
			return fromJSON(inner, hint, field, depth+1)
		case wrapTuple:
			m, ok := unwrapToObject(inner)
			if !ok {
				return Value{}, Errorf(Malformed, field, "tuple wrapper without object value")
			}
			return tupleFromObject(m, field, depth)
		default:
			if !hasValue {
				return Value{}, Errorf(Malformed, field, "%q wrapper without value", typ)
			}
			return fromJSON(inner, class, field, depth+1)
		}
	}
	if hasValue && len(obj) == 1 {
		return fromJSON(inner, hint, field, depth+1)
	}
	return tupleFromObject(obj, field, depth)
}

// unwrapToObject peels {value} layers until a plain object remains.
func unwrapToObject(doc any) (map[string]any, bool) {
	for i := 0; i <= maxDepth; i++ {
		m, ok := doc.(map[string]any)
		if !ok {
			return nil, false
		}
		inner, hasValue := m["value"]
		if !hasValue || len(m) > 2 {
			return m, true
		}
		if _, hasType := m["type"]; !hasType && len(m) == 2 {
			return m, true
		}
		if _, isObj := inner.(map[string]any); !isObj {
			return m, true
		}
		doc = inner
	}
	return nil, false
}

func tupleFromObject(obj map[string]any, field string, depth int) (Value, error) {
	fields := make(map[string]Value, len(obj))
	for k, raw := range obj {
		name := k
		if field != "" {
			name = field + "." + k
		}
		v, err := fromJSON(raw, wrapUnknown, name, depth+1)
		if err != nil {
			return Value{}, err
		}
		fields[k] = v
	}
	return Value{kind: KindTuple, fields: fields}, nil
}

func scalarFromString(s string, hint wrapperClass, field string) (Value, error) {
	switch hint {
	case wrapInt:
		n, ok := new(big.Int).SetString(strings.TrimPrefix(s, "u"), 10)
		if !ok {
			return Value{}, Errorf(Malformed, field, "%q is not an integer", s)
		}
		return Value{kind: KindInt, i: n}, nil
	case wrapBool:
		switch s {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
		return Value{}, Errorf(Malformed, field, "%q is not a bool", s)
	case wrapBuffer:
		if !strings.HasPrefix(s, "0x") {
			s = "0x" + s
		}
		b, err := hexutil.Decode(s)
		if err != nil {
			return Value{}, wrapMalformed(field, err)
		}
		return Buffer(b), nil
	default:
		return Text(s), nil
	}
}
