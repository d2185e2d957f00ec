package chainvalue

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"
)

// Envelope is the read-only call response.
type Envelope struct {
	Okay   bool            `json:"okay"`
	Result json.RawMessage `json:"result,omitempty"`
	Cause  string          `json:"cause,omitempty"`
}

// Decode turns one read-only call response into a Value. The result may be
// consensus hex (what nodes emit) or any of the JSON renderings accepted by
// ParseJSON; both decode to the same Value for the same logical value.
func Decode(env Envelope) (Value, error) {
	if !env.Okay {
		cause := env.Cause
		if cause == "" {
			cause = "call failed"
		}
		return Value{}, Errorf(Malformed, "", "remote: %s", cause)
	}
	raw := bytes.TrimSpace(env.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Value{}, Errorf(Malformed, "", "empty result")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, wrapMalformed("", err)
		}
		if strings.HasPrefix(s, "0x") {
			return ParseHex(s)
		}
	}
	return ParseJSON(raw)
}

// Require returns the named tuple field, failing when it is absent or none.
func (v Value) Require(name string) (Value, error) {
	if v.kind != KindTuple {
		return Value{}, Errorf(Malformed, name, "parent is %s, not tuple", v.kind)
	}
	f, ok := v.fields[name]
	if !ok || f.kind == KindNone {
		return Value{}, Errorf(Malformed, name, "required field missing")
	}
	return f, nil
}

// Lookup returns the named field unless it is absent or none.
func (v Value) Lookup(name string) (Value, bool) {
	f, ok := v.Field(name)
	if !ok || f.kind == KindNone {
		return Value{}, false
	}
	return f, true
}

func (v Value) RequireUint(name string) (uint64, error) {
	f, err := v.Require(name)
	if err != nil {
		return 0, err
	}
	n, err := f.Uint64()
	if err != nil {
		return 0, wrapMalformed(name, err)
	}
	return n, nil
}

func (v Value) RequireBigInt(name string) (*big.Int, error) {
	f, err := v.Require(name)
	if err != nil {
		return nil, err
	}
	n, err := f.BigInt()
	if err != nil {
		return nil, wrapMalformed(name, err)
	}
	return n, nil
}

func (v Value) RequireText(name string) (string, error) {
	f, err := v.Require(name)
	if err != nil {
		return "", err
	}
	s, err := f.TextValue()
	if err != nil {
		return "", wrapMalformed(name, err)
	}
	return s, nil
}

// OptionalText distinguishes an unset field (ok=false) from one set to "".
func (v Value) OptionalText(name string) (s string, ok bool, err error) {
	f, present := v.Lookup(name)
	if !present {
		return "", false, nil
	}
	s, err = f.TextValue()
	if err != nil {
		return "", false, wrapMalformed(name, err)
	}
	return s, true, nil
}
