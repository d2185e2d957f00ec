package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trustwork/internal/chainvalue"
)

const deploymentJSON = `{
  "network": "testnet",
  "token": "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM.usdcx",
  "contracts": {"marketplace": "ST30TRK58DT4P8CJQ8Y9D539X1VET78C63BNF0C9A.trustwork-marketplace-v10"}
}`

// fakeNode answers get-total-jobs with 0 and the block height with 1000.
func fakeNode(t *testing.T) *httptest.Server {
	t.Helper()
	zero, err := chainvalue.EncodeHex(chainvalue.Uint64(0))
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/get-total-jobs"):
			_ = json.NewEncoder(w).Encode(map[string]any{"okay": true, "result": zero})
		case r.URL.Path == "/extended/v1/block":
			_, _ = io.WriteString(w, `{"results":[{"burn_block_height":1000}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// downNode fails every read-only call but still reports a height.
func downNode(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/extended/v1/block" {
			_, _ = io.WriteString(w, `{"results":[{"burn_block_height":1000}]}`)
			return
		}
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runAgainst(t, fakeNode(t), args...)
}

func runAgainst(t *testing.T, node *httptest.Server, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deployments.json")
	require.NoError(t, os.WriteFile(path, []byte(deploymentJSON), 0o600))
	t.Setenv("DEPLOYMENTS_PATH", path)
	t.Setenv("STACKS_API_URL", node.URL)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStats(t *testing.T) {
	out, err := run(t, "stats")
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, float64(0), stats["totalJobs"])
	require.Equal(t, float64(1000), stats["height"])
	require.NotContains(t, stats, "totalEscrows")
}

func TestJobsEmpty(t *testing.T) {
	out, err := run(t, "jobs")
	require.NoError(t, err)
	require.Equal(t, "[]\n", out)

	_, err = run(t, "jobs", "--view", "created")
	require.ErrorContains(t, err, "--address is required")
}

func TestJobsCountUnavailablePrintsEmpty(t *testing.T) {
	out, err := runAgainst(t, downNode(t), "jobs")
	require.NoError(t, err)
	require.Equal(t, "[]\n", out)

	_, err = run(t, "escrows")
	require.ErrorContains(t, err, "no escrow contract")
}

func TestPlanPostJob(t *testing.T) {
	deadline := time.Now().Add(10 * 24 * time.Hour).Format(time.DateOnly)
	out, err := run(t, "plan",
		"--action", "post-job",
		"--actor", "ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ",
		"--title", "Logo",
		"--description", "Vector logo",
		"--category", "Design",
		"--amount", "12.5",
		"--deadline", deadline,
	)
	require.NoError(t, err)
	var plan map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Equal(t, "ST30TRK58DT4P8CJQ8Y9D539X1VET78C63BNF0C9A.trustwork-marketplace-v10", plan["contract"])
	require.Equal(t, "post-job", plan["action"])
	require.Equal(t, "deny", plan["postConditionMode"])
	require.True(t, strings.HasPrefix(plan["payload"].(string), "0x"))
}

func TestPlanRejectsBadInput(t *testing.T) {
	_, err := run(t, "plan", "--action", "submit-bid", "--actor", "ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ", "--amount", "abc")
	require.Error(t, err)

	_, err = run(t, "plan", "--action", "post-job", "--actor", "ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ", "--deadline", "next week")
	require.ErrorContains(t, err, "deadline")
}

func TestPlanRejectsResolutionOutOfRange(t *testing.T) {
	for _, res := range []string{"3", "256", "257", "-2"} {
		_, err := run(t, "plan",
			"--action", "resolve-dispute",
			"--actor", "ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ",
			"--id", "1",
			"--resolution="+res,
		)
		require.ErrorContains(t, err, "resolution", res)
	}
}

func TestSubmitNeedsKey(t *testing.T) {
	t.Setenv("SIGNER_PRIVATE_KEY", "")
	_, err := run(t, "submit", "--action", "cancel-job", "--actor", "ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ", "--id", "1")
	require.ErrorContains(t, err, "SIGNER_PRIVATE_KEY")
}
