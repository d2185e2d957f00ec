package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"trustwork/internal/chainvalue"
	"trustwork/internal/journal"
	"trustwork/internal/txbuild"
)

const headerIdempotencyKey = "X-Idempotency-Key"

// pendingTTL bounds how long a crashed submission can hold its key.
const pendingTTL = 5 * time.Minute

var inProgressBody = []byte(`{"error":"submission with this idempotency key is in progress"}`)

type planBody struct {
	Contract   string                   `json:"contract"`
	Function   string                   `json:"function"`
	Args       []string                 `json:"args"`
	Conditions []txbuild.AssetCondition `json:"postConditions"`
	Mode       txbuild.Mode             `json:"postConditionMode"`
	Network    string                   `json:"network"`
	Payload    string                   `json:"payload"`
}

func newPlanBody(req *txbuild.SubmissionRequest) (planBody, error) {
	body := planBody{
		Contract:   req.Contract.String(),
		Function:   string(req.Action),
		Conditions: req.Conditions,
		Mode:       req.Mode,
		Network:    req.Network,
	}
	for _, a := range req.Args {
		enc, err := chainvalue.EncodeHex(a)
		if err != nil {
			return planBody{}, err
		}
		body.Args = append(body.Args, enc)
	}
	payload, err := req.Payload()
	if err != nil {
		return planBody{}, err
	}
	body.Payload = hexutil.Encode(payload)
	return body, nil
}

type submitBody struct {
	Action  txbuild.Action  `json:"action"`
	Outcome txbuild.Outcome `json:"outcome"`
	TxID    string          `json:"txId,omitempty"`
}

// handleSubmit plans, guards and signs one action. The idempotency key makes
// retries safe: the key is reserved before signing, so a concurrent retry
// gets 409 instead of a second signature, and a broadcast is journaled and
// its response replayed. ?dryRun=true stops after planning and returns the
// built call.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dryRun := r.URL.Query().Get("dryRun") == "true"

	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" && !dryRun {
		writeError(w, http.StatusBadRequest, "missing "+headerIdempotencyKey+" header")
		return
	}
	if key != "" {
		if existing, err := s.journal.Get(ctx, key); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("journal lookup failed")
		} else if existing != nil {
			s.replay(w, existing)
			return
		}
	}

	var ar txbuild.ActionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ar); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload: "+err.Error())
		return
	}

	req, err := s.planner.Plan(ctx, ar)
	if err != nil {
		s.metrics.incSubmission(string(ar.Action), submissionLabel(err))
		writeSubmissionErr(w, err)
		return
	}

	if dryRun {
		body, err := newPlanBody(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	if s.signer == nil {
		writeError(w, http.StatusServiceUnavailable, "no signer configured")
		return
	}

	now := time.Now()
	held, err := s.journal.Reserve(ctx, journal.Entry{
		Key:        key,
		Action:     string(req.Action),
		Actor:      req.Actor,
		Outcome:    journal.OutcomePending,
		StatusCode: http.StatusConflict,
		Response:   inProgressBody,
		CreatedAt:  now,
		ExpiresAt:  now.Add(pendingTTL),
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("journal reservation failed")
		writeError(w, http.StatusServiceUnavailable, "idempotency journal unavailable")
		return
	}
	if held != nil {
		s.replay(w, held)
		return
	}
	release := func() {
		if err := s.journal.Release(context.WithoutCancel(ctx), key); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("journal release failed")
		}
	}

	res, err := s.planner.Builder.Submit(ctx, req, s.signer)
	if err != nil {
		release()
		s.metrics.incSubmission(string(req.Action), submissionLabel(err))
		log.Ctx(ctx).Warn().Err(err).Str("action", string(req.Action)).Msg("submission failed")
		writeSubmissionErr(w, err)
		return
	}
	s.metrics.incSubmission(string(req.Action), string(res.Outcome))

	body := submitBody{Action: req.Action, Outcome: res.Outcome, TxID: res.TxID}
	if res.Outcome == txbuild.Cancelled {
		release()
		writeJSON(w, http.StatusOK, body)
		return
	}

	raw, _ := json.Marshal(body)
	now = time.Now()
	entry := journal.Entry{
		Key:        key,
		Action:     string(req.Action),
		Actor:      req.Actor,
		Outcome:    string(res.Outcome),
		TxID:       res.TxID,
		StatusCode: http.StatusCreated,
		Response:   raw,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.Service.JournalTTL),
	}
	if err := s.journal.Save(context.WithoutCancel(ctx), entry); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("tx_id", res.TxID).Msg("journal save failed")
	}
	log.Ctx(ctx).Info().Str("action", string(req.Action)).Str("tx_id", res.TxID).Msg("transaction broadcast")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(raw)
}

// replay answers with a journaled response. A pending entry answers 409.
func (s *Server) replay(w http.ResponseWriter, e *journal.Entry) {
	if e.Outcome != journal.OutcomePending {
		s.metrics.incReplay()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_, _ = w.Write(e.Response)
}

func submissionLabel(err error) string {
	if k := txbuild.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}

func writeSubmissionErr(w http.ResponseWriter, err error) {
	kind := txbuild.KindOf(err)
	status := http.StatusBadGateway
	switch kind {
	case txbuild.InvalidRequest:
		status = http.StatusBadRequest
	case txbuild.PreconditionMissing:
		status = http.StatusUnprocessableEntity
	case txbuild.SignerRejected:
		status = http.StatusForbidden
	}

	body := map[string]any{"error": err.Error()}
	if kind != 0 {
		body["kind"] = kind.String()
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		problems := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			problems = append(problems, e.Error())
		}
		body["problems"] = problems
	}
	writeJSON(w, status, body)
}
