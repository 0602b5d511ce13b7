package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/zombor/utbetaling/internal/avkorting"
	"github.com/zombor/utbetaling/internal/avstemming"
	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/money"
	"github.com/zombor/utbetaling/internal/oppdrag"
	"github.com/zombor/utbetaling/internal/tilbakekreving"
	"github.com/zombor/utbetaling/internal/utbetaling"
)

const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrConcurrentAppend),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, utbetaling.ErrDuplicateCase),
		errors.Is(err, utbetaling.ErrReceiptMismatch):
		return http.StatusConflict
	case errors.Is(err, utbetaling.ErrNotTransmitted):
		return http.StatusBadGateway
	case errors.Is(err, avkorting.ErrUnfulfilled):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utbetaling.ErrInvalidRequest),
		errors.Is(err, ledger.ErrInvalidPeriod),
		errors.Is(err, ledger.ErrDanglingReference),
		errors.Is(err, ledger.ErrNoLines),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, oppdrag.ErrEncoding),
		errors.Is(err, oppdrag.ErrUnparseableReceipt),
		errors.Is(err, avstemming.ErrInvalidWindow),
		errors.Is(err, tilbakekreving.ErrInvalidClaimBasis):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status; server errors are logged and not echoed
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// decode reads a JSON body into v and validates it. An empty body decodes as the zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func parseLimit(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

type openCaseRequest struct {
	Saksnummer string `json:"saksnummer" validate:"required,max=30"`
	PayeeID    string `json:"payee_id" validate:"required,numeric,min=9,max=11"`
}

func (s *Server) handleOpenCase(w http.ResponseWriter, r *http.Request) {
	var req openCaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.payments.OpenCase(req.Saksnummer, req.PayeeID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.payments.ListCases()
	if err != nil {
		fail(w, r, err)
		return
	}
	// Ensure we always return an array, not nil
	if cases == nil {
		cases = []*ledger.Case{}
	}
	writeJSON(w, http.StatusOK, cases)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.payments.GetCase(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.payments.ListPayments(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if payments == nil {
		payments = []*ledger.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

type dispatchRequest struct {
	Behandler string               `json:"behandler" validate:"required,max=8"`
	Linjer    []money.PeriodAmount `json:"linjer" validate:"required,min=1"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.payments.Dispatch(r.Context(), chi.URLParam(r, "id"), req.Linjer, req.Behandler)
	s.writePayment(w, r, http.StatusCreated, p, err)
}

type slotActionRequest struct {
	Fra       string `json:"fra" validate:"required,datetime=2006-01-02"`
	Behandler string `json:"behandler" validate:"required,max=8"`
}

func (s *Server) handleSlotAction(w http.ResponseWriter, r *http.Request) {
	var kind ledger.Kind
	switch action := chi.URLParam(r, "action"); action {
	case "stop":
		kind = ledger.KindStop
	case "reactivate":
		kind = ledger.KindReactivate
	case "terminate":
		kind = ledger.KindChange
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		return
	}

	var req slotActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	from, err := money.ParseDate(req.Fra)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.payments.Supersede(r.Context(), chi.URLParam(r, "id"), []ledger.Change{{
		Kind:          kind,
		SlotID:        chi.URLParam(r, "slot"),
		EffectiveFrom: from,
	}}, req.Behandler)
	s.writePayment(w, r, http.StatusCreated, p, err)
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	p, err := s.payments.Resend(r.Context(), chi.URLParam(r, "id"))
	s.writePayment(w, r, http.StatusOK, p, err)
}

// writePayment reports a payment that was stored but not sent together with the error
func (s *Server) writePayment(w http.ResponseWriter, r *http.Request, status int, p *ledger.Payment, err error) {
	if err != nil {
		if p != nil && errors.Is(err, utbetaling.ErrNotTransmitted) {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "payment": p})
			return
		}
		fail(w, r, err)
		return
	}
	writeJSON(w, status, p)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}
	p, err := s.payments.HandleReceipt(r.Context(), data)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRuns(r.Context(), parseLimit(r.URL.Query().Get("limit"), 50))
	if err != nil {
		fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []*avstemming.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type interfaceRunRequest struct {
	Fra string `json:"fra" validate:"omitempty,numeric"`
	Til string `json:"til" validate:"omitempty,numeric"`
}

// handleInterfaceRun reconciles an explicit key window, or continues from the last run when none is given
func (s *Server) handleInterfaceRun(w http.ResponseWriter, r *http.Request) {
	var req interfaceRunRequest
	if !s.decode(w, r, &req) {
		return
	}
	if (req.Fra == "") != (req.Til == "") {
		writeError(w, http.StatusBadRequest, "fra and til must be given together")
		return
	}

	var (
		run *avstemming.Run
		err error
	)
	if req.Fra == "" {
		run, err = s.runs.RunNextInterface(r.Context())
	} else {
		var from, to ledger.Key
		if from, err = ledger.ParseKey(req.Fra); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if to, err = ledger.ParseKey(req.Til); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		run, err = s.runs.RunInterface(r.Context(), from, to)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

type consistencyRunRequest struct {
	LiveFra  string `json:"live_fra" validate:"required,datetime=2006-01-02"`
	Snapshot string `json:"snapshot" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

func (s *Server) handleConsistencyRun(w http.ResponseWriter, r *http.Request) {
	var req consistencyRunRequest
	if !s.decode(w, r, &req) {
		return
	}
	liveFrom, err := money.ParseDate(req.LiveFra)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snapshot := s.timeSource.Now()
	if req.Snapshot != "" {
		if snapshot, err = time.Parse(time.RFC3339, req.Snapshot); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	run, err := s.runs.RunConsistency(r.Context(), liveFrom, snapshot)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

type avkortingRequest struct {
	Feilutbetalt money.Amount         `json:"feilutbetalt" validate:"gte=0"`
	Ytelser      []money.PeriodAmount `json:"ytelser" validate:"required,min=1"`
	Fradrag      []money.PeriodAmount `json:"fradrag"`
}

func (s *Server) handleAvkortingPlan(w http.ResponseWriter, r *http.Request) {
	var req avkortingRequest
	if !s.decode(w, r, &req) {
		return
	}
	ceilings, err := avkorting.Ceilings(req.Ytelser, req.Fradrag)
	if err != nil {
		fail(w, r, err)
		return
	}
	plan, err := avkorting.Plan(req.Feilutbetalt, ceilings)
	var unfulfilled *avkorting.UnfulfilledError
	if errors.As(err, &unfulfilled) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       err.Error(),
			"gjenstaende": unfulfilled.Remaining,
			"plan":        unfulfilled.Planned,
		})
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tak": ceilings, "plan": plan})
}

type beregnRequest struct {
	Kravgrunnlag string              `json:"kravgrunnlag" validate:"required"`
	Skyld        tilbakekreving.Skyld `json:"skyld" validate:"required"`
}

func (s *Server) handleBeregn(w http.ResponseWriter, r *http.Request) {
	var req beregnRequest
	if !s.decode(w, r, &req) {
		return
	}
	k, err := tilbakekreving.DecodeKravgrunnlag([]byte(req.Kravgrunnlag))
	if err != nil {
		fail(w, r, err)
		return
	}
	decided, err := k.WithSkyld(req.Skyld)
	if err != nil {
		fail(w, r, err)
		return
	}
	b, err := tilbakekreving.Beregn(decided)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"beregning":         b,
		"sum_tilbakekreves": b.SumTilbakekreves(),
	})
}
