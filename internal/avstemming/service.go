package avstemming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/oppdrag"
)

// Publisher transmits one encoded message
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Archive keeps a copy of every transmitted payload
type Archive interface {
	Save(name string, data []byte) (string, error)
}

// Service builds, transmits and records reconciliation runs
type Service struct {
	store       ledger.Store
	runs        RunRepository
	publisher   Publisher
	archive     Archive
	subject     string
	settings    oppdrag.Settings
	idGenerator ledger.IDGenerator
	timeSource  ledger.TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(store ledger.Store, runs RunRepository, publisher Publisher, archive Archive, subject string, settings oppdrag.Settings) *Service {
	return NewServiceWithDeps(store, runs, publisher, archive, subject, settings, ledger.UUIDGenerator{}, ledger.SystemClock{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store ledger.Store, runs RunRepository, publisher Publisher, archive Archive, subject string, settings oppdrag.Settings, idGen ledger.IDGenerator, timeSrc ledger.TimeSource) *Service {
	return &Service{
		store:       store,
		runs:        runs,
		publisher:   publisher,
		archive:     archive,
		subject:     subject,
		settings:    settings,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// RunInterface reconciles every payment dispatched with a key in [from, to]
func (s *Service) RunInterface(ctx context.Context, from, to ledger.Key) (*Run, error) {
	payments, err := s.store.ListPaymentsByKey(from, to)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	cases := make(map[string]*ledger.Case)
	for _, p := range payments {
		if _, ok := cases[p.CaseID]; ok {
			continue
		}
		c, err := s.store.GetCase(p.CaseID)
		if err != nil {
			return nil, fmt.Errorf("loading case %s: %w", p.CaseID, err)
		}
		cases[p.CaseID] = c
	}

	summary, err := BuildInterface(from, to, payments, cases)
	if err != nil {
		return nil, s.buildFailed(oppdrag.Grensesnittavstemming, err)
	}

	runID := s.idGenerator.Generate()
	var payloads [][]byte
	for _, m := range InterfaceMessages(summary, runID, s.settings) {
		data, err := oppdrag.EncodeGrensesnitt(m)
		if err != nil {
			return nil, fmt.Errorf("encoding interface reconciliation: %w", err)
		}
		payloads = append(payloads, data)
	}

	run := &Run{
		ID:     runID,
		Type:   oppdrag.Grensesnittavstemming,
		From:   from,
		To:     to,
		Count:  summary.Total.Count,
		Amount: summary.Total.Amount,
	}
	if err := s.transmit(ctx, run, payloads); err != nil {
		return nil, err
	}

	if err := s.store.MarkReconciled(summary.PaymentIDs, runID); err != nil {
		return nil, fmt.Errorf("marking payments reconciled: %w", err)
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}

	slog.Info("Interface reconciliation sent",
		"run_id", runID,
		"from", from.String(),
		"to", to.String(),
		"confirmed", summary.Confirmed.Count,
		"warning", summary.Warning.Count,
		"rejected", summary.Rejected.Count,
		"missing", summary.Missing.Count,
	)
	return run, nil
}

// RunNextInterface reconciles from just after the previous interface run up to now
func (s *Service) RunNextInterface(ctx context.Context) (*Run, error) {
	var from ledger.Key
	last, err := s.runs.LastRun(ctx, oppdrag.Grensesnittavstemming)
	switch {
	case errors.Is(err, ErrNoRuns):
	case err != nil:
		return nil, fmt.Errorf("loading last run: %w", err)
	default:
		from = last.To.Next()
	}
	return s.RunInterface(ctx, from, ledger.KeyAt(s.timeSource.Now()))
}

// RunConsistency reconciles every line live on or after liveFrom as of snapshotTo
func (s *Service) RunConsistency(ctx context.Context, liveFrom, snapshotTo time.Time) (*Run, error) {
	cases, err := s.store.ListCases()
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}
	payments := make(map[string][]*ledger.Payment, len(cases))
	for _, c := range cases {
		ps, err := s.store.ListPaymentsForCase(c.ID)
		if err != nil {
			return nil, fmt.Errorf("listing payments for case %s: %w", c.ID, err)
		}
		payments[c.ID] = ps
	}

	summary, err := BuildConsistency(liveFrom, snapshotTo, cases, payments)
	if err != nil {
		return nil, s.buildFailed(oppdrag.Konsistensavstemming, err)
	}

	runID := s.idGenerator.Generate()
	messages, err := ConsistencyMessages(summary, runID, s.settings)
	if err != nil {
		return nil, fmt.Errorf("rendering consistency reconciliation: %w", err)
	}
	var payloads [][]byte
	for _, m := range messages {
		data, err := oppdrag.EncodeKonsistens(m)
		if err != nil {
			return nil, fmt.Errorf("encoding consistency reconciliation: %w", err)
		}
		payloads = append(payloads, data)
	}

	run := &Run{
		ID:     runID,
		Type:   oppdrag.Konsistensavstemming,
		From:   ledger.KeyAt(liveFrom),
		To:     ledger.KeyAt(snapshotTo),
		Count:  summary.Total.Count,
		Amount: summary.Total.Amount,
	}
	if err := s.transmit(ctx, run, payloads); err != nil {
		return nil, err
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}

	slog.Info("Consistency reconciliation sent",
		"run_id", runID,
		"live_from", liveFrom.Format(time.DateOnly),
		"snapshot", snapshotTo,
		"cases", len(summary.Cases),
		"lines", summary.Total.Count,
	)
	return run, nil
}

// ListRuns returns the most recent runs first
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	return s.runs.ListRuns(ctx, limit)
}

// transmit archives and publishes the messages of one run in order, stopping at the first failure
func (s *Service) transmit(ctx context.Context, run *Run, payloads [][]byte) error {
	for i, data := range payloads {
		ref, err := s.archive.Save(fmt.Sprintf("avstemming/%s/%s_%03d.xml", run.Type, run.ID, i), data)
		if err != nil {
			return fmt.Errorf("archiving message %d: %w", i, err)
		}
		if i == 0 {
			run.ArchiveRef = ref
		}
		if err := s.publisher.Publish(ctx, s.subject, data); err != nil {
			slog.Error("Reconciliation transmission interrupted",
				"run_id", run.ID,
				"message", i,
				"of", len(payloads),
				"error", err,
			)
			if i > 0 && i < len(payloads)-1 {
				s.abandon(ctx, run, payloads[len(payloads)-1])
			}
			return fmt.Errorf("publishing message %d of run %s: %w", i, run.ID, err)
		}
	}
	run.Messages = len(payloads)
	run.CreatedAt = s.timeSource.Now()
	return nil
}

// abandon closes a run the mainframe has already seen START for, so it is not left open
func (s *Service) abandon(ctx context.Context, run *Run, avsl []byte) {
	if err := s.publisher.Publish(ctx, s.subject, avsl); err != nil {
		slog.Error("Reconciliation run abandoned without AVSL", "run_id", run.ID, "error", err)
		return
	}
	slog.Warn("Reconciliation run abandoned, AVSL sent", "run_id", run.ID)
}

func (s *Service) buildFailed(typ oppdrag.AvstemmingType, err error) error {
	var invariantErr *InvariantError
	if errors.As(err, &invariantErr) {
		slog.Error("Reconciliation failed its sanity check, nothing was sent",
			"type", string(typ),
			"check", invariantErr.Check,
			"detail", invariantErr.Detail,
		)
	}
	return fmt.Errorf("building %s reconciliation: %w", typ, err)
}
