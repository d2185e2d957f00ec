package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"trustwork/internal/chainvalue"
	"trustwork/internal/query"
	"trustwork/internal/stacks"
	"trustwork/internal/txbuild"
)

type failureBody struct {
	ID     uint64 `json:"id"`
	Reason string `json:"reason"`
}

type listingBody[T any] struct {
	Items            []T           `json:"items"`
	Failures         []failureBody `json:"failures,omitempty"`
	Height           uint64        `json:"height"`
	HeightKnown      bool          `json:"heightKnown"`
	CountUnavailable bool          `json:"countUnavailable,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// writeListing renders a listing. A failed count is still a 200 with no
// items and countUnavailable set; dropped items are reported alongside the
// rest. Only a missing escrow contract is a 404.
func writeListing[T any](w http.ResponseWriter, l query.Listing[T]) {
	if errors.Is(l.Err, query.ErrNoEscrowContract) {
		writeError(w, http.StatusNotFound, l.Err.Error())
		return
	}
	body := listingBody[T]{Items: l.Items, Height: l.Height, HeightKnown: l.HeightKnown}
	if l.Err != nil {
		body.CountUnavailable = true
		body.Error = l.Err.Error()
	}
	if body.Items == nil {
		body.Items = []T{}
	}
	for _, f := range l.Failures {
		body.Failures = append(body.Failures, failureBody{ID: f.ID, Reason: f.Reason()})
	}
	writeJSON(w, http.StatusOK, body)
}

// writeLookupErr maps a single-entity lookup error to a status.
func writeLookupErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, query.ErrNoEscrowContract):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chainvalue.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case chainvalue.KindOf(err) != 0:
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": err.Error(),
			"kind":  chainvalue.KindOf(err).String(),
		})
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

func validAddress(w http.ResponseWriter, addr string) bool {
	if !chainvalue.ValidPrincipal(addr) {
		writeError(w, http.StatusBadRequest, "invalid address "+strconv.Quote(addr))
		return false
	}
	return true
}

// handleJobs serves ?view=all|created|open|assigned. Every view but all
// needs ?address=.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr := r.URL.Query().Get("address")
	mode := r.URL.Query().Get("view")
	if mode == "" {
		mode = "all"
	}
	if mode != "all" || addr != "" {
		if !validAddress(w, addr) {
			return
		}
	}
	switch mode {
	case "all":
		writeListing(w, s.queries.ListJobs(ctx, addr))
	case "created":
		writeListing(w, s.queries.CreatedBy(ctx, addr))
	case "open":
		writeListing(w, s.queries.OpenFor(ctx, addr))
	case "assigned":
		writeListing(w, s.queries.AssignedTo(ctx, addr))
	default:
		writeError(w, http.StatusBadRequest, "view must be one of all, created, open, assigned")
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := s.queries.Job(r.Context(), id, r.URL.Query().Get("viewer"))
	if err != nil {
		writeLookupErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	freelancer := r.PathValue("freelancer")
	if !validAddress(w, freelancer) {
		return
	}
	bid, err := s.queries.Bid(r.Context(), id, freelancer, r.URL.Query().Get("viewer"))
	if err != nil {
		writeLookupErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (s *Server) handleBids(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("address")
	if !validAddress(w, addr) {
		return
	}
	writeListing(w, s.queries.BidsBy(r.Context(), addr))
}

// handleEscrows lists the recent escrow window, or with ?address= only
// escrows that address is party to.
func (s *Server) handleEscrows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr := r.URL.Query().Get("address")
	if addr == "" {
		writeListing(w, s.queries.ListEscrows(ctx, r.URL.Query().Get("viewer")))
		return
	}
	if !validAddress(w, addr) {
		return
	}
	writeListing(w, s.queries.InvolvedIn(ctx, addr))
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	esc, err := s.queries.Escrow(r.Context(), id, r.URL.Query().Get("viewer"))
	if err != nil {
		writeLookupErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queries.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHeight(w http.ResponseWriter, r *http.Request) {
	h, err := s.queries.Height(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"height": h})
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	res, err := s.chain.Transaction(r.Context(), r.PathValue("txid"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if !validAddress(w, addr) {
		return
	}
	bal, err := s.chain.Balance(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr,
		"micro":   bal.String(),
		"display": txbuild.FormatMicro(bal),
	})
}

// handleActivity lists the address's recent calls into one contract,
// ?contract=marketplace (default) or escrow.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if !validAddress(w, addr) {
		return
	}
	var contract stacks.Contract
	switch r.URL.Query().Get("contract") {
	case "", "marketplace":
		contract = s.cfg.Chain.Marketplace
	case "escrow":
		contract = s.cfg.Chain.Escrow
	default:
		writeError(w, http.StatusBadRequest, "contract must be marketplace or escrow")
		return
	}
	if contract.IsZero() {
		writeError(w, http.StatusNotFound, query.ErrNoEscrowContract.Error())
		return
	}
	items, err := s.chain.Activity(r.Context(), addr, contract)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if items == nil {
		items = []stacks.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if !validAddress(w, addr) {
		return
	}
	entries, err := s.journal.ByActor(r.Context(), addr, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type item struct {
		Action    string    `json:"action"`
		Outcome   string    `json:"outcome"`
		TxID      string    `json:"txId,omitempty"`
		CreatedAt time.Time `json:"createdAt"`
	}
	out := make([]item, 0, len(entries))
	for _, e := range entries {
		out = append(out, item{Action: e.Action, Outcome: e.Outcome, TxID: e.TxID, CreatedAt: e.CreatedAt.UTC()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
