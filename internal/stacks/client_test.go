package stacks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustwork/internal/chainvalue"
)

const contractID = "ST30TRK58DT4P8CJQ8Y9D539X1VET78C63BNF0C9A.trustwork-marketplace-v10"

func testContract(t *testing.T) Contract {
	t.Helper()
	c, err := ParseContract(contractID)
	require.NoError(t, err)
	return c
}

func TestParseContract(t *testing.T) {
	c := testContract(t)
	require.Equal(t, "ST30TRK58DT4P8CJQ8Y9D539X1VET78C63BNF0C9A", c.Address)
	require.Equal(t, "trustwork-marketplace-v10", c.Name)
	require.Equal(t, contractID, c.String())

	for _, bad := range []string{"", "no-dot", "ST30TRK58DT4P8CJQ8Y9D539X1VET78C63BNF0C9A.", "NOTANADDRESS.name"} {
		_, err := ParseContract(bad)
		require.ErrorIs(t, err, ErrInvalidContract, bad)
	}
}

func TestCallReadOnly(t *testing.T) {
	var got readRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/contracts/call-read/ST30TRK58DT4P8CJQ8Y9D539X1VET78C63BNF0C9A/trustwork-marketplace-v10/get-job", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"okay":true,"result":"0x0100000000000000000000000000000003"}`)
	}))
	defer srv.Close()

	env, err := NewClient(srv.URL+"/").CallReadOnly(context.Background(), ReadCall{
		Contract: testContract(t),
		Function: "get-job",
		Args:     []chainvalue.Value{chainvalue.Uint64(7)},
	})
	require.NoError(t, err)
	require.True(t, env.Okay)
	require.Equal(t, "ST30TRK58DT4P8CJQ8Y9D539X1VET78C63BNF0C9A", got.Sender)
	require.Equal(t, []string{"0x0100000000000000000000000000000007"}, got.Arguments)

	v, err := chainvalue.Decode(env)
	require.NoError(t, err)
	n, err := v.Uint64()
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)
}

func TestCallReadOnlyFailures(t *testing.T) {
	t.Run("failed evaluation is an envelope", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"okay":false,"cause":"Unchecked(NoSuchContract)"}`)
		}))
		defer srv.Close()
		env, err := NewClient(srv.URL).CallReadOnly(context.Background(), ReadCall{Contract: testContract(t), Function: "get-total-jobs"})
		require.NoError(t, err)
		require.False(t, env.Okay)
		require.Equal(t, "Unchecked(NoSuchContract)", env.Cause)
	})
	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer srv.Close()
		_, err := NewClient(srv.URL).CallReadOnly(context.Background(), ReadCall{Contract: testContract(t), Function: "get-total-jobs"})
		var remote *RemoteError
		require.True(t, errors.As(err, &remote))
		require.Equal(t, http.StatusTooManyRequests, remote.Status)
		require.Equal(t, "rate limited", remote.Body)
	})
	t.Run("unencodable argument", func(t *testing.T) {
		_, err := NewClient("http://unused").CallReadOnly(context.Background(), ReadCall{
			Contract: testContract(t),
			Function: "get-bid",
			Args:     []chainvalue.Value{chainvalue.Principal("nope")},
		})
		require.Error(t, err)
	})
}

func TestBlockHeightAndBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/extended/v1/block":
			assert.Equal(t, "1", r.URL.Query().Get("limit"))
			_, _ = io.WriteString(w, `{"results":[{"height":180211,"burn_block_height":901234}]}`)
		case "/extended/v1/address/ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ/balances":
			_, _ = io.WriteString(w, `{"stx":{"balance":"123456789012345678901"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)

	h, err := c.BlockHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(901234), h)

	bal, err := c.Balance(context.Background(), "ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ")
	require.NoError(t, err)
	require.Equal(t, "123456789012345678901", bal.String())
}

func TestBlockHeightEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"results":[]}`)
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL).BlockHeight(context.Background())
	require.Error(t, err)
}

func TestBroadcast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/transactions", r.URL.Path)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte{0xde, 0xad}, body)
		_, _ = io.WriteString(w, `"0xabc123"`)
	}))
	defer srv.Close()

	txID, err := NewClient(srv.URL).Broadcast(context.Background(), []byte{0xde, 0xad})
	require.NoError(t, err)
	require.Equal(t, "0xabc123", txID)
}

func TestNonce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/accounts/ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ":
			assert.Equal(t, "0", r.URL.Query().Get("proof"))
			_, _ = io.WriteString(w, `{"balance":"0x0","locked":"0x0","nonce":17}`)
		case "/v2/accounts/ST000000000000000000002AMW42H":
			_, _ = io.WriteString(w, `{"balance":"0x0"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)

	n, err := c.Nonce(context.Background(), "ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ")
	require.NoError(t, err)
	require.Equal(t, uint64(17), n)

	_, err = c.Nonce(context.Background(), "ST000000000000000000002AMW42H")
	require.Error(t, err)
}

func TestActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"results":[
			{"tx_id":"0x01","tx_type":"contract_call","tx_status":"success","burn_block_time":1700000000,
			 "contract_call":{"contract_id":"`+contractID+`","function_name":"submit-bid",
			 "function_args":[{"name":"job-id","repr":"u12"},{"name":"bid-amount","repr":"u5000000"}]}},
			{"tx_id":"0x02","tx_type":"token_transfer","tx_status":"success","burn_block_time":1700000001},
			{"tx_id":"0x03","tx_type":"contract_call","tx_status":"abort_by_response","burn_block_time":1700000002,
			 "contract_call":{"contract_id":"`+contractID+`","function_name":"post-job","function_args":[]}},
			{"tx_id":"0x04","tx_type":"contract_call","tx_status":"pending","burn_block_time":0,
			 "contract_call":{"contract_id":"SP000000000000000000002Q6VF78.other","function_name":"x"}}
		]}`)
	}))
	defer srv.Close()

	acts, err := NewClient(srv.URL).Activity(context.Background(), "ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ", testContract(t))
	require.NoError(t, err)
	require.Len(t, acts, 2)

	require.Equal(t, "submit-bid", acts[0].Function)
	require.Equal(t, TxConfirmed, acts[0].Status)
	require.NotNil(t, acts[0].EntityID)
	require.Equal(t, uint64(12), *acts[0].EntityID)

	require.Equal(t, TxFailed, acts[1].Status)
	require.Nil(t, acts[1].EntityID)
}
