package query

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustwork/internal/chainvalue"
	"trustwork/internal/escrow"
	"trustwork/internal/market"
	"trustwork/internal/stacks"
	"trustwork/internal/view"
)

const (
	alice = "ST2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKQYAC0RQ"
	bob   = "ST000000000000000000002AMW42H"
)

var (
	marketplace = stacks.Contract{Address: "ST30TRK58DT4P8CJQ8Y9D539X1VET78C63BNF0C9A", Name: "trustwork-marketplace-v10"}
	legacy      = stacks.Contract{Address: "ST30TRK58DT4P8CJQ8Y9D539X1VET78C63BNF0C9A", Name: "usdcx-escrow"}
)

// fakeNode answers read calls from a table keyed by function and arguments.
type fakeNode struct {
	mu          sync.Mutex
	height      uint64
	heightErr   error
	envelopes   map[string]chainvalue.Envelope
	errs        map[string]error
	delay       time.Duration
	inFlight    int
	maxInFlight int
	calls       []string
}

func newFakeNode(height uint64) *fakeNode {
	return &fakeNode{
		height:    height,
		envelopes: map[string]chainvalue.Envelope{},
		errs:      map[string]error{},
	}
}

func callKey(fn string, args ...chainvalue.Value) string {
	parts := []string{fn}
	for _, a := range args {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, " ")
}

func (n *fakeNode) set(t *testing.T, v chainvalue.Value, fn string, args ...chainvalue.Value) {
	t.Helper()
	encoded, err := chainvalue.EncodeHex(v)
	require.NoError(t, err)
	raw, err := json.Marshal(encoded)
	require.NoError(t, err)
	n.envelopes[callKey(fn, args...)] = chainvalue.Envelope{Okay: true, Result: raw}
}

func (n *fakeNode) CallReadOnly(ctx context.Context, call stacks.ReadCall) (chainvalue.Envelope, error) {
	key := callKey(call.Function, call.Args...)
	n.mu.Lock()
	n.calls = append(n.calls, key)
	n.inFlight++
	if n.inFlight > n.maxInFlight {
		n.maxInFlight = n.inFlight
	}
	n.mu.Unlock()

	if n.delay > 0 {
		time.Sleep(n.delay)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.inFlight--
	if err, ok := n.errs[key]; ok {
		return chainvalue.Envelope{}, err
	}
	if env, ok := n.envelopes[key]; ok {
		return env, nil
	}
	return chainvalue.Envelope{Okay: true, Result: json.RawMessage(`"0x09"`)}, nil
}

func (n *fakeNode) BlockHeight(context.Context) (uint64, error) {
	return n.height, n.heightErr
}

type countingObserver struct {
	mu      sync.Mutex
	reads   int
	dropped map[string]int
	done    []string
}

func (c *countingObserver) DetailRead(string) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
}

func (c *countingObserver) Dropped(_, reason string) {
	c.mu.Lock()
	if c.dropped == nil {
		c.dropped = map[string]int{}
	}
	c.dropped[reason]++
	c.mu.Unlock()
}

func (c *countingObserver) ListingDone(entity string, _ time.Duration) {
	c.mu.Lock()
	c.done = append(c.done, entity)
	c.mu.Unlock()
}

func strPtr(s string) *string { return &s }

func job(creator string, status market.JobStatus, freelancer *string) market.Job {
	j := market.Job{
		Creator:            creator,
		Title:              "job",
		Description:        "desc",
		Category:           "Design",
		Budget:             big.NewInt(1_000_000),
		Deadline:           2000,
		Status:             status,
		SelectedFreelancer: freelancer,
		CreatedAt:          100,
	}
	if status == market.JobWorkSubmitted || status == market.JobCompleted {
		j.WorkSubmittedBy = freelancer
		j.WorkDescription = strPtr("done")
	}
	return j
}

func (n *fakeNode) setJobs(t *testing.T, jobs ...market.Job) {
	t.Helper()
	n.set(t, chainvalue.Uint64(uint64(len(jobs))), fnTotalJobs)
	for id, j := range jobs {
		n.set(t, chainvalue.Some(j.Tuple()), fnGetJob, chainvalue.Uint64(uint64(id)))
	}
}

func newTestOrchestrator(node *fakeNode, opts ...Option) *Orchestrator {
	return New(node, view.Projector{}, Config{Marketplace: marketplace, Escrow: legacy}, opts...)
}

func TestListJobsDropsUndecodableEntry(t *testing.T) {
	node := newFakeNode(1500)
	bad := job(alice, market.JobOpen, nil)
	bad.Status = market.JobStatus(9)
	node.setJobs(t, job(alice, market.JobOpen, nil), bad, job(bob, market.JobOpen, nil))
	obs := &countingObserver{}

	listing := newTestOrchestrator(node, WithObserver(obs)).ListJobs(context.Background(), alice)

	require.NoError(t, listing.Err)
	require.True(t, listing.HeightKnown)
	require.Equal(t, uint64(1500), listing.Height)
	require.Len(t, listing.Items, 2)
	require.Equal(t, uint64(2), listing.Items[0].ID)
	require.Equal(t, uint64(0), listing.Items[1].ID)

	require.Len(t, listing.Failures, 1)
	require.Equal(t, uint64(1), listing.Failures[0].ID)
	require.Equal(t, "unknown_status", listing.Failures[0].Reason())
	require.Error(t, listing.Failed())

	require.Equal(t, 3, obs.reads)
	require.Equal(t, map[string]int{"unknown_status": 1}, obs.dropped)
	require.Equal(t, []string{EntityJob}, obs.done)
}

func TestListJobsTransportFailureIsPerItem(t *testing.T) {
	node := newFakeNode(10)
	node.setJobs(t, job(alice, market.JobOpen, nil), job(alice, market.JobOpen, nil))
	node.errs[callKey(fnGetJob, chainvalue.Uint64(0))] = errors.New("connection reset")

	listing := newTestOrchestrator(node).ListJobs(context.Background(), "")
	require.Len(t, listing.Items, 1)
	require.Len(t, listing.Failures, 1)
	require.Equal(t, "query", listing.Failures[0].Reason())
}

func TestListJobsCountFailureIsEmpty(t *testing.T) {
	node := newFakeNode(10)
	node.errs[callKey(fnTotalJobs)] = errors.New("timeout")

	listing := newTestOrchestrator(node).ListJobs(context.Background(), alice)
	require.Error(t, listing.Err)
	require.Empty(t, listing.Items)
	require.NoError(t, listing.Failed())

	var qe *QueryError
	require.True(t, errors.As(listing.Err, &qe))
	require.Equal(t, fnTotalJobs, qe.Function)
}

func TestListJobsImplausibleCountIsEmpty(t *testing.T) {
	node := newFakeNode(10)
	node.set(t, chainvalue.Uint64(1<<62), fnTotalJobs)

	listing := newTestOrchestrator(node).ListJobs(context.Background(), alice)
	require.ErrorIs(t, listing.Err, ErrImplausibleCount)
	require.Empty(t, listing.Items)
	require.Empty(t, listing.Failures)

	for _, call := range node.calls {
		require.False(t, strings.HasPrefix(call, fnGetJob), "unexpected detail read %s", call)
	}
}

func TestListJobsHonoursMaxJobs(t *testing.T) {
	node := newFakeNode(10)
	node.setJobs(t, job(alice, market.JobOpen, nil), job(alice, market.JobOpen, nil), job(alice, market.JobOpen, nil))

	capped := New(node, view.Projector{}, Config{Marketplace: marketplace, MaxJobs: 2})
	require.ErrorIs(t, capped.ListJobs(context.Background(), alice).Err, ErrImplausibleCount)

	full := New(node, view.Projector{}, Config{Marketplace: marketplace, MaxJobs: 3})
	require.Len(t, full.ListJobs(context.Background(), alice).Items, 3)
}

func TestListJobsHeightUnknown(t *testing.T) {
	node := newFakeNode(0)
	node.heightErr = errors.New("extended api down")
	node.setJobs(t, job(alice, market.JobOpen, nil))

	listing := newTestOrchestrator(node).ListJobs(context.Background(), alice)
	require.False(t, listing.HeightKnown)
	require.Len(t, listing.Items, 1)
	require.Equal(t, uint64(0), listing.Items[0].Height)
	require.False(t, listing.Items[0].IsExpired)
}

func TestFanOutIsBounded(t *testing.T) {
	node := newFakeNode(10)
	jobs := make([]market.Job, 25)
	for i := range jobs {
		jobs[i] = job(alice, market.JobOpen, nil)
	}
	node.setJobs(t, jobs...)
	node.delay = 5 * time.Millisecond

	o := New(node, view.Projector{}, Config{Marketplace: marketplace, Concurrency: 3})
	listing := o.ListJobs(context.Background(), alice)

	require.Len(t, listing.Items, 25)
	require.LessOrEqual(t, node.maxInFlight, 3)
	for i, item := range listing.Items {
		require.Equal(t, uint64(24-i), item.ID)
	}
}

func TestJobFilters(t *testing.T) {
	node := newFakeNode(10)
	node.setJobs(t,
		job(alice, market.JobOpen, nil),                  // 0
		job(bob, market.JobOpen, nil),                    // 1
		job(alice, market.JobInProgress, strPtr(bob)),    // 2
		job(alice, market.JobWorkSubmitted, strPtr(bob)), // 3
		job(alice, market.JobCompleted, strPtr(bob)),     // 4
		job(bob, market.JobCancelled, nil),               // 5
	)
	o := newTestOrchestrator(node)
	ctx := context.Background()

	ids := func(l Listing[view.JobView]) []uint64 {
		var out []uint64
		for _, j := range l.Items {
			out = append(out, j.ID)
		}
		return out
	}

	assert.Equal(t, []uint64{4, 3, 2, 0}, ids(o.CreatedBy(ctx, alice)))
	assert.Equal(t, []uint64{0}, ids(o.OpenFor(ctx, bob)))
	assert.Equal(t, []uint64{1}, ids(o.OpenFor(ctx, strings.ToLower(alice))))
	assert.Equal(t, []uint64{3, 2}, ids(o.AssignedTo(ctx, bob)))
	assert.Empty(t, ids(o.AssignedTo(ctx, alice)))
}

func escrowTuple(client, freelancer string, status escrow.Status) chainvalue.Value {
	e := escrow.Escrow{
		Client:     client,
		Freelancer: freelancer,
		Amount:     big.NewInt(5_000_000),
		Deadline:   900,
		Status:     status,
	}
	if status == escrow.StatusDisputed {
		e.DisputeReason = strPtr("late")
	}
	return chainvalue.Some(e.Tuple())
}

func TestListEscrowsScansRecentWindow(t *testing.T) {
	node := newFakeNode(1000)
	node.set(t, chainvalue.Uint64(60), fnTotalEscrows)
	for id := uint64(0); id < 60; id++ {
		node.set(t, escrowTuple(alice, bob, escrow.StatusActive), fnGetEscrow, chainvalue.Uint64(id))
	}

	listing := newTestOrchestrator(node).ListEscrows(context.Background(), alice)
	require.Len(t, listing.Items, DefaultEscrowWindow)
	require.Equal(t, uint64(59), listing.Items[0].ID)
	require.Equal(t, uint64(10), listing.Items[len(listing.Items)-1].ID)
	require.True(t, listing.Items[0].IsExpired)
	require.True(t, listing.Items[0].CanClaimExpiredRefund)

	for _, call := range node.calls {
		require.NotEqual(t, callKey(fnGetEscrow, chainvalue.Uint64(9)), call)
	}
}

func TestInvolvedIn(t *testing.T) {
	node := newFakeNode(10)
	node.set(t, chainvalue.Uint64(3), fnTotalEscrows)
	node.set(t, escrowTuple(alice, bob, escrow.StatusActive), fnGetEscrow, chainvalue.Uint64(0))
	node.set(t, escrowTuple(bob, legacy.Address, escrow.StatusDisputed), fnGetEscrow, chainvalue.Uint64(1))
	node.set(t, escrowTuple(legacy.Address, alice, escrow.StatusCompleted), fnGetEscrow, chainvalue.Uint64(2))

	listing := newTestOrchestrator(node).InvolvedIn(context.Background(), alice)
	require.Len(t, listing.Items, 2)
	require.Equal(t, uint64(2), listing.Items[0].ID)
	require.True(t, listing.Items[0].IsFreelancer)
	require.True(t, listing.Items[0].WorkCompleted)
	require.True(t, listing.Items[1].IsClient)
}

func TestListEscrowsWithoutContract(t *testing.T) {
	o := New(newFakeNode(1), view.Projector{}, Config{Marketplace: marketplace})
	listing := o.ListEscrows(context.Background(), alice)
	require.ErrorIs(t, listing.Err, ErrNoEscrowContract)

	_, err := o.Escrow(context.Background(), 0, alice)
	require.ErrorIs(t, err, ErrNoEscrowContract)
}

func TestBidsBy(t *testing.T) {
	node := newFakeNode(10)
	node.setJobs(t, job(alice, market.JobOpen, nil), job(alice, market.JobOpen, nil), job(alice, market.JobOpen, nil))
	bid := market.Bid{Amount: big.NewInt(900_000), Proposal: "on it", Status: market.BidPending, SubmittedAt: 5}
	node.set(t, chainvalue.Some(bid.Tuple()), fnGetBid, chainvalue.Uint64(0), chainvalue.Principal(bob))
	bid.Status = market.BidWithdrawn
	node.set(t, chainvalue.Some(bid.Tuple()), fnGetBid, chainvalue.Uint64(2), chainvalue.Principal(bob))

	listing := newTestOrchestrator(node).BidsBy(context.Background(), bob)
	require.Empty(t, listing.Failures)
	require.Len(t, listing.Items, 2)
	require.Equal(t, uint64(2), listing.Items[0].JobID)
	require.False(t, listing.Items[0].IsActive)
	require.True(t, listing.Items[1].IsActive)
	require.True(t, listing.Items[1].IsBidder)
	require.False(t, market.HasActiveBid([]market.Bid{listing.Items[0].Bid}, 2, bob))
}

func TestSingleLookups(t *testing.T) {
	node := newFakeNode(1000)
	node.setJobs(t, job(alice, market.JobOpen, nil))
	bad := job(alice, market.JobOpen, strPtr(bob))
	node.set(t, chainvalue.Some(bad.Tuple()), fnGetJob, chainvalue.Uint64(1))
	node.errs[callKey(fnGetJob, chainvalue.Uint64(2))] = errors.New("502 bad gateway")
	o := newTestOrchestrator(node)
	ctx := context.Background()

	v, err := o.Job(ctx, 0, bob)
	require.NoError(t, err)
	require.True(t, v.CanSubmitBid)
	require.Equal(t, uint64(1000), v.Height)

	_, err = o.Job(ctx, 1, bob)
	require.Equal(t, chainvalue.InvariantViolation, chainvalue.KindOf(err))

	_, err = o.Job(ctx, 2, bob)
	require.ErrorIs(t, err, chainvalue.ErrNotFound)

	_, err = o.Job(ctx, 99, bob)
	require.ErrorIs(t, err, chainvalue.ErrNotFound)

	_, err = o.Bid(ctx, 0, bob, bob)
	require.ErrorIs(t, err, chainvalue.ErrNotFound)
}

func TestStats(t *testing.T) {
	node := newFakeNode(77)
	node.set(t, chainvalue.Uint64(12), fnTotalJobs)
	node.set(t, chainvalue.Uint64(4), fnTotalEscrows)

	s, err := newTestOrchestrator(node).Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(12), s.TotalJobs)
	require.Equal(t, uint64(4), *s.TotalEscrows)
	require.Equal(t, uint64(77), s.Height)

	s, err = New(node, view.Projector{}, Config{Marketplace: marketplace}).Stats(context.Background())
	require.NoError(t, err)
	require.Nil(t, s.TotalEscrows)
}

func TestNewestFirstAndWindow(t *testing.T) {
	require.Nil(t, newestFirst(0, 0))
	require.Equal(t, []uint64{2, 1, 0}, newestFirst(0, 3))
	require.Equal(t, []uint64{4, 3}, newestFirst(3, 5))
	require.Equal(t, uint64(0), window(50, 50))
	require.Equal(t, uint64(1), window(51, 50))
}
