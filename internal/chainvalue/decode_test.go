package chainvalue

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fieldShapes lists equivalent JSON renderings of each field of one logical
// tuple.
var fieldShapes = map[string][]string{
	"budget": {
		`100000000`,
		`{"type":"uint","value":"100000000"}`,
		`{"value":{"type":"uint","value":100000000}}`,
	},
	"creator": {
		`"` + devnetDeployer + `"`,
		`{"type":"principal","value":"` + devnetDeployer + `"}`,
		`{"value":"` + devnetDeployer + `"}`,
	},
	"selected-freelancer": {
		`null`,
		`{"type":"none"}`,
		`{"type":"(optional none)","value":null}`,
	},
	"work-description": {
		`"done"`,
		`{"type":"some","value":"done"}`,
		`{"type":"(optional (string-utf8 500))","value":{"type":"(string-utf8 4)","value":"done"}}`,
	},
	"status": {
		`2`,
		`{"type":"uint","value":"2"}`,
		`{"value":{"value":2}}`,
	},
}

var tupleShapes = []string{
	`%s`,
	`{"type":"(tuple (budget uint))","value":%s}`,
	`{"type":"(optional (tuple (budget uint)))","value":{"type":"(tuple (budget uint))","value":%s}}`,
	`{"type":"(response (optional (tuple)) UnknownType)","success":true,"value":{"type":"some","value":%s}}`,
	`{"value":{"value":%s}}`,
}

const logicalTuple = `(tuple (budget 100000000) (creator "` + devnetDeployer + `") (selected-freelancer none) (status 2) (work-description "done"))`

func envelopeFor(t *testing.T, result string) Envelope {
	t.Helper()
	require.True(t, json.Valid([]byte(result)), result)
	return Envelope{Okay: true, Result: json.RawMessage(result)}
}

func TestDecodeIsShapeAgnostic(t *testing.T) {
	names := make([]string, 0, len(fieldShapes))
	for name := range fieldShapes {
		names = append(names, name)
	}
	sort.Strings(names)

	combos := 1
	for _, name := range names {
		combos *= len(fieldShapes[name])
	}

	seen := 0
	for c := 0; c < combos; c++ {
		idx := c
		parts := make([]string, 0, len(names))
		for _, name := range names {
			shapes := fieldShapes[name]
			parts = append(parts, fmt.Sprintf("%q:%s", name, shapes[idx%len(shapes)]))
			idx /= len(shapes)
		}
		obj := "{" + strings.Join(parts, ",") + "}"
		for _, wrap := range tupleShapes {
			raw := fmt.Sprintf(wrap, obj)
			v, err := Decode(envelopeFor(t, raw))
			require.NoError(t, err, raw)
			require.Equal(t, logicalTuple, v.String(), raw)
			seen++
		}
	}
	require.Equal(t, combos*len(tupleShapes), seen)

	encoded, err := EncodeHex(Some(Tuple(map[string]Value{
		"budget":              Uint64(100000000),
		"creator":             Principal(devnetDeployer),
		"selected-freelancer": None(),
		"work-description":    Some(StringUTF8("done")),
		"status":              Uint64(2),
	})))
	require.NoError(t, err)
	v, err := Decode(envelopeFor(t, `"`+encoded+`"`))
	require.NoError(t, err)
	require.Equal(t, logicalTuple, v.String())
}

func TestDecodeScalarCount(t *testing.T) {
	for _, raw := range []string{
		`"0x070100000000000000000000000000000003"`,
		`3`,
		`{"type":"uint","value":"3"}`,
		`{"type":"(response uint UnknownType)","value":{"type":"uint","value":"3"},"success":true}`,
		`{"value":3}`,
	} {
		v, err := Decode(envelopeFor(t, raw))
		require.NoError(t, err, raw)
		n, err := v.Uint64()
		require.NoError(t, err, raw)
		assert.Equal(t, uint64(3), n, raw)
	}
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"not okay", Envelope{Okay: false, Cause: "Unchecked(NoSuchContract)"}},
		{"not okay without cause", Envelope{Okay: false}},
		{"empty result", Envelope{Okay: true}},
		{"null result", Envelope{Okay: true, Result: json.RawMessage(`null`)}},
		{"err response hex", Envelope{Okay: true, Result: json.RawMessage(`"0x080100000000000000000000000000000001"`)}},
		{"err response json", Envelope{Okay: true, Result: json.RawMessage(`{"type":"(response uint uint)","success":false,"value":"1"}`)}},
		{"fractional number", Envelope{Okay: true, Result: json.RawMessage(`1.5`)}},
		{"typed int not numeric", Envelope{Okay: true, Result: json.RawMessage(`{"type":"uint","value":"abc"}`)}},
		{"wrapper without value", Envelope{Okay: true, Result: json.RawMessage(`{"type":"uint"}`)}},
		{"invalid json", Envelope{Okay: true, Result: json.RawMessage(`{`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.env)
			require.Error(t, err)
			require.Equal(t, Malformed, KindOf(err))
		})
	}
}

func TestRequireDistinguishesNoneFromEmpty(t *testing.T) {
	v, err := ParseJSON([]byte(`{"metadata":{"type":"some","value":""},"dispute-reason":{"type":"none"},"amount":"0"}`))
	require.NoError(t, err)

	meta, ok, err := v.OptionalText("metadata")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "", meta)

	_, ok, err = v.OptionalText("dispute-reason")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = v.OptionalText("missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = v.Require("dispute-reason")
	require.Equal(t, Malformed, KindOf(err))

	_, err = v.RequireUint("missing")
	require.Equal(t, Malformed, KindOf(err))

	amount, err := v.RequireUint("amount")
	require.NoError(t, err)
	require.Zero(t, amount)

	_, err = v.RequireText("amount")
	require.NoError(t, err)
}
