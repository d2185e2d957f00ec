// Package query assembles collection views from a count query plus per-id
// detail reads. Reads are snapshots; nothing is cached between calls.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"trustwork/internal/chainvalue"
	"trustwork/internal/escrow"
	"trustwork/internal/market"
	"trustwork/internal/stacks"
	"trustwork/internal/view"
)

const (
	DefaultConcurrency   = 10
	DefaultEscrowWindow  = 50
	DefaultBidScanWindow = 50
	DefaultMaxJobs       = 10_000
)

// Read-only contract functions.
const (
	fnTotalJobs    = "get-total-jobs"
	fnGetJob       = "get-job"
	fnGetBid       = "get-bid"
	fnTotalEscrows = "get-total-escrows"
	fnGetEscrow    = "get-escrow"
)

// Entity names used in logs and metrics.
const (
	EntityJob    = "job"
	EntityBid    = "bid"
	EntityEscrow = "escrow"
)

var (
	ErrNoEscrowContract = errors.New("no escrow contract configured")
	// ErrImplausibleCount is returned when a contract reports more entities
	// than a full listing is allowed to scan.
	ErrImplausibleCount = errors.New("implausible entity count")
)

// Reader is the node read boundary.
type Reader interface {
	CallReadOnly(ctx context.Context, call stacks.ReadCall) (chainvalue.Envelope, error)
	BlockHeight(ctx context.Context) (uint64, error)
}

// Observer receives per-read events. Implementations must be safe for
// concurrent use.
type Observer interface {
	DetailRead(entity string)
	Dropped(entity, reason string)
	ListingDone(entity string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) DetailRead(string)                 {}
func (nopObserver) Dropped(string, string)            {}
func (nopObserver) ListingDone(string, time.Duration) {}

// QueryError is a failed read, as opposed to a value that failed to decode.
type QueryError struct {
	Function string
	Err      error
}

func (e *QueryError) Error() string { return fmt.Sprintf("query %s: %v", e.Function, e.Err) }

func (e *QueryError) Unwrap() error { return e.Err }

type Config struct {
	Marketplace stacks.Contract
	// Escrow is the legacy contract; zero disables escrow reads.
	Escrow stacks.Contract
	// Sender is the query-context principal; empty means the contract itself.
	Sender        string
	Concurrency   int
	EscrowWindow  int
	BidScanWindow int
	// MaxJobs bounds a full job listing; a larger count is a count failure.
	MaxJobs int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.EscrowWindow <= 0 {
		c.EscrowWindow = DefaultEscrowWindow
	}
	if c.BidScanWindow <= 0 {
		c.BidScanWindow = DefaultBidScanWindow
	}
	if c.MaxJobs <= 0 {
		c.MaxJobs = DefaultMaxJobs
	}
	return c
}

type Orchestrator struct {
	reader    Reader
	projector view.Projector
	cfg       Config
	observer  Observer
}

type Option func(*Orchestrator)

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

func New(reader Reader, projector view.Projector, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reader:    reader,
		projector: projector,
		cfg:       cfg.withDefaults(),
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ListJobs projects every job for viewer.
func (o *Orchestrator) ListJobs(ctx context.Context, viewer string) Listing[view.JobView] {
	defer o.timed(EntityJob)()
	p := o.projector.At(time.Now())
	height, known := o.height(ctx)

	count, err := o.count(ctx, o.cfg.Marketplace, fnTotalJobs)
	if err == nil && count > uint64(o.cfg.MaxJobs) {
		err = fmt.Errorf("%s returned %d, limit %d: %w", fnTotalJobs, count, o.cfg.MaxJobs, ErrImplausibleCount)
	}
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("job count unavailable")
		return Listing[view.JobView]{Err: err, Height: height, HeightKnown: known}
	}
	jobs, failures := fanOut(ctx, o, EntityJob, newestFirst(0, count), o.job)
	out := Listing[view.JobView]{Failures: failures, Height: height, HeightKnown: known}
	out.Items = make([]view.JobView, 0, len(jobs))
	for _, job := range jobs {
		out.Items = append(out.Items, p.Job(job, height, viewer))
	}
	return out
}

// CreatedBy lists the jobs addr posted.
func (o *Orchestrator) CreatedBy(ctx context.Context, addr string) Listing[view.JobView] {
	return o.ListJobs(ctx, addr).Filter(func(j view.JobView) bool { return j.IsCreator })
}

// OpenFor lists open jobs addr did not post.
func (o *Orchestrator) OpenFor(ctx context.Context, addr string) Listing[view.JobView] {
	return o.ListJobs(ctx, addr).Filter(func(j view.JobView) bool {
		return j.Status == market.JobOpen && !j.IsCreator
	})
}

// AssignedTo lists jobs where addr is the selected freelancer and work is
// still underway.
func (o *Orchestrator) AssignedTo(ctx context.Context, addr string) Listing[view.JobView] {
	return o.ListJobs(ctx, addr).Filter(func(j view.JobView) bool {
		return j.IsAssignedFreelancer && (j.Status == market.JobInProgress || j.Status == market.JobWorkSubmitted)
	})
}

// ListEscrows projects the most recent EscrowWindow legacy escrows. Older ids
// are not scanned.
func (o *Orchestrator) ListEscrows(ctx context.Context, viewer string) Listing[view.EscrowView] {
	defer o.timed(EntityEscrow)()
	p := o.projector.At(time.Now())
	height, known := o.height(ctx)

	if o.cfg.Escrow.IsZero() {
		return Listing[view.EscrowView]{Err: ErrNoEscrowContract, Height: height, HeightKnown: known}
	}
	count, err := o.count(ctx, o.cfg.Escrow, fnTotalEscrows)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("escrow count unavailable")
		return Listing[view.EscrowView]{Err: err, Height: height, HeightKnown: known}
	}
	escrows, failures := fanOut(ctx, o, EntityEscrow, newestFirst(window(count, o.cfg.EscrowWindow), count), o.escrow)
	out := Listing[view.EscrowView]{Failures: failures, Height: height, HeightKnown: known}
	out.Items = make([]view.EscrowView, 0, len(escrows))
	for _, esc := range escrows {
		out.Items = append(out.Items, p.Escrow(esc, height, viewer))
	}
	return out
}

// InvolvedIn lists escrows where addr is the client or the freelancer.
func (o *Orchestrator) InvolvedIn(ctx context.Context, addr string) Listing[view.EscrowView] {
	return o.ListEscrows(ctx, addr).Filter(func(e view.EscrowView) bool { return e.IsClient || e.IsFreelancer })
}

// BidsBy looks up addr's bid on each of the most recent BidScanWindow jobs.
// The contract has no reverse index, so bids on older jobs are not found.
func (o *Orchestrator) BidsBy(ctx context.Context, addr string) Listing[view.BidView] {
	defer o.timed(EntityBid)()
	height, known := o.height(ctx)

	count, err := o.count(ctx, o.cfg.Marketplace, fnTotalJobs)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("job count unavailable")
		return Listing[view.BidView]{Err: err, Height: height, HeightKnown: known}
	}
	ids := newestFirst(window(count, o.cfg.BidScanWindow), count)
	bids, failures := fanOut(ctx, o, EntityBid, ids, func(ctx context.Context, jobID uint64) (*market.Bid, error) {
		bid, err := o.bid(ctx, jobID, addr)
		if errors.Is(err, chainvalue.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &bid, nil
	})
	out := Listing[view.BidView]{Failures: failures, Height: height, HeightKnown: known}
	for _, bid := range bids {
		if bid != nil {
			out.Items = append(out.Items, o.projector.Bid(*bid, height, addr))
		}
	}
	return out
}

// Job looks up one job. A failed read is reported as not found; a value that
// fails to decode is returned as its DecodeError.
func (o *Orchestrator) Job(ctx context.Context, id uint64, viewer string) (view.JobView, error) {
	job, err := o.job(ctx, id)
	if err != nil {
		return view.JobView{}, o.lookupErr(ctx, EntityJob, err)
	}
	height, _ := o.height(ctx)
	return o.projector.At(time.Now()).Job(job, height, viewer), nil
}

func (o *Orchestrator) Escrow(ctx context.Context, id uint64, viewer string) (view.EscrowView, error) {
	if o.cfg.Escrow.IsZero() {
		return view.EscrowView{}, ErrNoEscrowContract
	}
	esc, err := o.escrow(ctx, id)
	if err != nil {
		return view.EscrowView{}, o.lookupErr(ctx, EntityEscrow, err)
	}
	height, _ := o.height(ctx)
	return o.projector.At(time.Now()).Escrow(esc, height, viewer), nil
}

func (o *Orchestrator) Bid(ctx context.Context, jobID uint64, freelancer, viewer string) (view.BidView, error) {
	bid, err := o.bid(ctx, jobID, freelancer)
	if err != nil {
		return view.BidView{}, o.lookupErr(ctx, EntityBid, err)
	}
	height, _ := o.height(ctx)
	return o.projector.Bid(bid, height, viewer), nil
}

// Stats are contract-wide totals.
type Stats struct {
	TotalJobs    uint64  `json:"totalJobs"`
	TotalEscrows *uint64 `json:"totalEscrows,omitempty"`
	Height       uint64  `json:"height"`
	HeightKnown  bool    `json:"heightKnown"`
}

func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	s.Height, s.HeightKnown = o.height(ctx)
	jobs, err := o.count(ctx, o.cfg.Marketplace, fnTotalJobs)
	if err != nil {
		return Stats{}, err
	}
	s.TotalJobs = jobs
	if !o.cfg.Escrow.IsZero() {
		escrows, err := o.count(ctx, o.cfg.Escrow, fnTotalEscrows)
		if err != nil {
			return Stats{}, err
		}
		s.TotalEscrows = &escrows
	}
	return s, nil
}

// Height returns the current chain height.
func (o *Orchestrator) Height(ctx context.Context) (uint64, error) {
	h, err := o.reader.BlockHeight(ctx)
	if err != nil {
		return 0, &QueryError{Function: "block-height", Err: err}
	}
	return h, nil
}

func (o *Orchestrator) job(ctx context.Context, id uint64) (market.Job, error) {
	v, err := o.read(ctx, o.cfg.Marketplace, fnGetJob, chainvalue.Uint64(id))
	if err != nil {
		return market.Job{}, err
	}
	return market.ToJob(v, id)
}

func (o *Orchestrator) bid(ctx context.Context, jobID uint64, freelancer string) (market.Bid, error) {
	v, err := o.read(ctx, o.cfg.Marketplace, fnGetBid, chainvalue.Uint64(jobID), chainvalue.Principal(freelancer))
	if err != nil {
		return market.Bid{}, err
	}
	return market.ToBid(v, jobID, freelancer)
}

func (o *Orchestrator) escrow(ctx context.Context, id uint64) (escrow.Escrow, error) {
	v, err := o.read(ctx, o.cfg.Escrow, fnGetEscrow, chainvalue.Uint64(id))
	if err != nil {
		return escrow.Escrow{}, err
	}
	return escrow.ToEscrow(v, id)
}

func (o *Orchestrator) read(ctx context.Context, contract stacks.Contract, fn string, args ...chainvalue.Value) (chainvalue.Value, error) {
	env, err := o.reader.CallReadOnly(ctx, stacks.ReadCall{
		Contract: contract,
		Function: fn,
		Args:     args,
		Sender:   o.cfg.Sender,
	})
	if err != nil {
		return chainvalue.Value{}, &QueryError{Function: fn, Err: err}
	}
	return chainvalue.Decode(env)
}

func (o *Orchestrator) count(ctx context.Context, contract stacks.Contract, fn string) (uint64, error) {
	v, err := o.read(ctx, contract, fn)
	if err != nil {
		return 0, err
	}
	n, err := v.Uint64()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", fn, err)
	}
	return n, nil
}

// height falls back to 0 when the node cannot be reached.
func (o *Orchestrator) height(ctx context.Context) (uint64, bool) {
	h, err := o.Height(ctx)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("chain height unavailable, projecting at 0")
		return 0, false
	}
	return h, true
}

func (o *Orchestrator) lookupErr(ctx context.Context, entity string, err error) error {
	var qe *QueryError
	if errors.As(err, &qe) {
		log.Ctx(ctx).Warn().Err(err).Str("entity", entity).Msg("lookup failed")
		return fmt.Errorf("%w: %v", chainvalue.ErrNotFound, err)
	}
	return err
}

func (o *Orchestrator) timed(entity string) func() {
	start := time.Now()
	return func() { o.observer.ListingDone(entity, time.Since(start)) }
}

// fanOut runs one per id, at most cfg.Concurrency at a time, and returns the
// successes in ids order. Failures are logged and recorded, never returned.
func fanOut[T any](ctx context.Context, o *Orchestrator, entity string, ids []uint64, one func(context.Context, uint64) (T, error)) ([]T, []Failure) {
	results := make([]T, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			o.observer.DetailRead(entity)
			results[i], errs[i] = one(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	items := make([]T, 0, len(ids))
	var failures []Failure
	for i, err := range errs {
		if err == nil {
			items = append(items, results[i])
			continue
		}
		f := Failure{ID: ids[i], Err: err}
		failures = append(failures, f)
		o.observer.Dropped(entity, f.Reason())
		log.Ctx(ctx).Warn().Err(err).Str("entity", entity).Uint64("id", f.ID).Str("reason", f.Reason()).Msg("dropping entity")
	}
	return items, failures
}

// newestFirst returns [from, to) in descending order.
func newestFirst(from, to uint64) []uint64 {
	if to <= from {
		return nil
	}
	ids := make([]uint64, 0, to-from)
	for id := to; id > from; id-- {
		ids = append(ids, id-1)
	}
	return ids
}

// window returns the first id of the most recent size ids below count.
func window(count uint64, size int) uint64 {
	if count <= uint64(size) {
		return 0
	}
	return count - uint64(size)
}
