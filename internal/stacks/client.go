// Package stacks talks to a Stacks node and its extended API over HTTP.
package stacks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trustwork/internal/chainvalue"
)

const defaultTimeout = 30 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

var ErrInvalidContract = errors.New("invalid contract id")

// Contract identifies a deployed contract.
type Contract struct {
	Address string
	Name    string
}

// ParseContract splits "ADDRESS.name".
func ParseContract(id string) (Contract, error) {
	addr, name, ok := strings.Cut(strings.TrimSpace(id), ".")
	if !ok || name == "" {
		return Contract{}, fmt.Errorf("%w: %q", ErrInvalidContract, id)
	}
	if _, _, err := chainvalue.ParseAddress(addr); err != nil {
		return Contract{}, fmt.Errorf("%w: %q: %v", ErrInvalidContract, id, err)
	}
	return Contract{Address: addr, Name: name}, nil
}

func (c Contract) String() string { return c.Address + "." + c.Name }

func (c Contract) IsZero() bool { return c.Address == "" && c.Name == "" }

// ReadCall is one read-only contract function invocation. Sender is the
// query-context principal; it defaults to the contract address.
type ReadCall struct {
	Contract Contract
	Function string
	Args     []chainvalue.Value
	Sender   string
}

// RemoteError is a non-2xx answer from the node.
type RemoteError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("stacks: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client with its 30s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type readRequest struct {
	Sender    string   `json:"sender"`
	Arguments []string `json:"arguments"`
}

// CallReadOnly evaluates a read-only function and returns the node's
// envelope as-is; a failed evaluation is an envelope with Okay false, not an
// error. Errors are transport or HTTP failures.
func (c *Client) CallReadOnly(ctx context.Context, call ReadCall) (chainvalue.Envelope, error) {
	req := readRequest{Sender: call.Sender, Arguments: make([]string, 0, len(call.Args))}
	if req.Sender == "" {
		req.Sender = call.Contract.Address
	}
	for i, arg := range call.Args {
		encoded, err := chainvalue.EncodeHex(arg)
		if err != nil {
			return chainvalue.Envelope{}, fmt.Errorf("encode argument %d of %s: %w", i, call.Function, err)
		}
		req.Arguments = append(req.Arguments, encoded)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return chainvalue.Envelope{}, fmt.Errorf("marshal read call: %w", err)
	}

	path := fmt.Sprintf("/v2/contracts/call-read/%s/%s/%s",
		url.PathEscape(call.Contract.Address), url.PathEscape(call.Contract.Name), url.PathEscape(call.Function))
	var env chainvalue.Envelope
	if err := c.do(ctx, http.MethodPost, path, "application/json", body, &env); err != nil {
		return chainvalue.Envelope{}, err
	}
	return env, nil
}

type blockList struct {
	Results []struct {
		Height          uint64 `json:"height"`
		BurnBlockHeight uint64 `json:"burn_block_height"`
	} `json:"results"`
}

// BlockHeight returns the burn-chain height of the latest block, the clock
// contract deadlines are measured against.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	var blocks blockList
	if err := c.do(ctx, http.MethodGet, "/extended/v1/block?limit=1", "", nil, &blocks); err != nil {
		return 0, err
	}
	if len(blocks.Results) == 0 {
		return 0, errors.New("stacks: no blocks returned")
	}
	return blocks.Results[0].BurnBlockHeight, nil
}

type balances struct {
	STX struct {
		Balance string `json:"balance"`
	} `json:"stx"`
}

// Balance returns the address's STX balance in micro-STX.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	var out balances
	path := "/extended/v1/address/" + url.PathEscape(address) + "/balances"
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	if out.STX.Balance == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(out.STX.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("stacks: bad balance %q", out.STX.Balance)
	}
	return n, nil
}

type account struct {
	Nonce *uint64 `json:"nonce"`
}

// Nonce returns the next nonce the node expects from address.
func (c *Client) Nonce(ctx context.Context, address string) (uint64, error) {
	var out account
	path := "/v2/accounts/" + url.PathEscape(address) + "?proof=0"
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return 0, err
	}
	if out.Nonce == nil {
		return 0, fmt.Errorf("stacks: no nonce for %s", address)
	}
	return *out.Nonce, nil
}

// Broadcast posts a serialized, signed transaction and returns the
// transaction id the node assigned.
func (c *Client) Broadcast(ctx context.Context, payload []byte) (string, error) {
	var txID string
	if err := c.do(ctx, http.MethodPost, "/v2/transactions", "application/octet-stream", payload, &txID); err != nil {
		return "", err
	}
	if txID == "" {
		return "", errors.New("stacks: empty transaction id")
	}
	return txID, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("stacks: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("stacks: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return fmt.Errorf("stacks: read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &RemoteError{Method: method, Path: path, Status: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("stacks: decode %s response: %w", path, err)
	}
	return nil
}
