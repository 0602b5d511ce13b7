// Package utbetaling turns approved schedules and lifecycle decisions into dispatched payments
// and files the mainframe's receipts against them.
package utbetaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/money"
	"github.com/zombor/utbetaling/internal/oppdrag"
)

var (
	// ErrInvalidRequest is returned for requests missing required fields
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDuplicateCase is returned when a saksnummer is already in use
	ErrDuplicateCase = errors.New("case already exists")
	// ErrNotTransmitted is returned when a payment was stored but could not be sent; it stays outstanding
	ErrNotTransmitted = errors.New("payment stored but not transmitted")
	// ErrReceiptMismatch is returned when a receipt's fagsystemId does not match the payment's case
	ErrReceiptMismatch = errors.New("receipt does not match payment")
)

// Publisher transmits one encoded message
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Archive keeps a copy of every payload sent or received
type Archive interface {
	Save(name string, data []byte) (string, error)
}

// Service handles case and payment operations
type Service struct {
	store       ledger.Store
	builder     *ledger.Builder
	publisher   Publisher
	archive     Archive
	subject     string
	settings    oppdrag.Settings
	idGenerator ledger.IDGenerator
	timeSource  ledger.TimeSource

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new Service with default ID generator and time source
func NewService(store ledger.Store, publisher Publisher, archive Archive, subject string, settings oppdrag.Settings) *Service {
	return NewServiceWithDeps(store, publisher, archive, subject, settings, ledger.UUIDGenerator{}, ledger.SystemClock{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store ledger.Store, publisher Publisher, archive Archive, subject string, settings oppdrag.Settings, idGen ledger.IDGenerator, timeSrc ledger.TimeSource) *Service {
	return &Service{
		store:       store,
		builder:     ledger.NewBuilderWithDeps(idGen, timeSrc, ledger.NewKeyGenerator(timeSrc)),
		publisher:   publisher,
		archive:     archive,
		subject:     subject,
		settings:    settings,
		idGenerator: idGen,
		timeSource:  timeSrc,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lock serializes appends to one case within this process; the store's head check covers the rest
func (s *Service) lock(caseID string) func() {
	s.mu.Lock()
	l, ok := s.locks[caseID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[caseID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// OpenCase registers a new case
func (s *Service) OpenCase(saksnummer, payeeID string) (*ledger.Case, error) {
	saksnummer = strings.TrimSpace(saksnummer)
	payeeID = strings.TrimSpace(payeeID)
	if saksnummer == "" || payeeID == "" {
		return nil, fmt.Errorf("%w: saksnummer and payee are required", ErrInvalidRequest)
	}

	existing, err := s.store.ListCases()
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}
	for _, c := range existing {
		if c.Saksnummer == saksnummer {
			return nil, fmt.Errorf("%w: saksnummer %s", ErrDuplicateCase, saksnummer)
		}
	}

	c := &ledger.Case{
		ID:         s.idGenerator.Generate(),
		Saksnummer: saksnummer,
		PayeeID:    payeeID,
		CreatedAt:  s.timeSource.Now(),
	}
	if err := s.store.SaveCase(c); err != nil {
		return nil, fmt.Errorf("saving case: %w", err)
	}
	slog.Info("Case opened", "case_id", c.ID, "saksnummer", c.Saksnummer)
	return c, nil
}

// GetCase retrieves a case by ID
func (s *Service) GetCase(id string) (*ledger.Case, error) {
	return s.store.GetCase(id)
}

// ListCases returns all cases
func (s *Service) ListCases() ([]*ledger.Case, error) {
	return s.store.ListCases()
}

// ListPayments returns the payments of a case in append order
func (s *Service) ListPayments(caseID string) ([]*ledger.Payment, error) {
	if _, err := s.store.GetCase(caseID); err != nil {
		return nil, err
	}
	return s.store.ListPaymentsForCase(caseID)
}

// Dispatch appends one new line per schedule entry after the case's current last line,
// stores the payment and transmits it. Entries must already be in period order.
func (s *Service) Dispatch(ctx context.Context, caseID string, entries []money.PeriodAmount, behandler string) (*ledger.Payment, error) {
	if strings.TrimSpace(behandler) == "" {
		return nil, fmt.Errorf("%w: behandler is required", ErrInvalidRequest)
	}
	unlock := s.lock(caseID)
	defer unlock()

	c, h, err := s.load(caseID)
	if err != nil {
		return nil, err
	}
	var prior *ledger.Line
	if last, ok := h.Last(); ok {
		prior = &last
	}

	p, err := s.builder.AppendLines(c, entries, prior, behandler)
	if err != nil {
		return nil, fmt.Errorf("building payment: %w", err)
	}
	return s.send(ctx, c, h, p)
}

// Stop suspends a slot from the given date
func (s *Service) Stop(ctx context.Context, caseID, slotID string, from time.Time, behandler string) (*ledger.Payment, error) {
	return s.Supersede(ctx, caseID, []ledger.Change{{Kind: ledger.KindStop, SlotID: slotID, EffectiveFrom: from}}, behandler)
}

// Reactivate resumes a slot from the given date
func (s *Service) Reactivate(ctx context.Context, caseID, slotID string, from time.Time, behandler string) (*ledger.Payment, error) {
	return s.Supersede(ctx, caseID, []ledger.Change{{Kind: ledger.KindReactivate, SlotID: slotID, EffectiveFrom: from}}, behandler)
}

// Terminate ends a slot from the given date
func (s *Service) Terminate(ctx context.Context, caseID, slotID string, from time.Time, behandler string) (*ledger.Payment, error) {
	return s.Supersede(ctx, caseID, []ledger.Change{{Kind: ledger.KindChange, SlotID: slotID, EffectiveFrom: from}}, behandler)
}

// Supersede appends lifecycle lines on existing slots and transmits them as one payment
func (s *Service) Supersede(ctx context.Context, caseID string, changes []ledger.Change, behandler string) (*ledger.Payment, error) {
	if strings.TrimSpace(behandler) == "" {
		return nil, fmt.Errorf("%w: behandler is required", ErrInvalidRequest)
	}
	unlock := s.lock(caseID)
	defer unlock()

	c, h, err := s.load(caseID)
	if err != nil {
		return nil, err
	}
	p, err := s.builder.Supersede(c, h, changes, behandler)
	if err != nil {
		return nil, fmt.Errorf("building payment: %w", err)
	}
	return s.send(ctx, c, h, p)
}

// Resend transmits a stored payment again under its original key
func (s *Service) Resend(ctx context.Context, paymentID string) (*ledger.Payment, error) {
	p, err := s.store.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if !p.Outstanding() {
		return nil, fmt.Errorf("%w: payment %s already has a receipt", ErrInvalidRequest, p.ID)
	}
	c, err := s.store.GetCase(p.CaseID)
	if err != nil {
		return nil, err
	}
	data, err := oppdrag.EncodePaymentInstruction(p, c, s.settings)
	if err != nil {
		return nil, fmt.Errorf("encoding payment %s: %w", p.ID, err)
	}
	if err := s.transmit(ctx, c, p, data); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Service) load(caseID string) (*ledger.Case, *ledger.History, error) {
	c, err := s.store.GetCase(caseID)
	if err != nil {
		return nil, nil, err
	}
	payments, err := s.store.ListPaymentsForCase(caseID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing payments: %w", err)
	}
	h, err := ledger.NewHistory(caseID, payments)
	if err != nil {
		return nil, nil, fmt.Errorf("replaying case %s: %w", c.Saksnummer, err)
	}
	return c, h, nil
}

// send encodes before storing so that nothing is persisted that cannot be transmitted.
// A transmission failure after the store leaves the payment outstanding and returns it with ErrNotTransmitted.
func (s *Service) send(ctx context.Context, c *ledger.Case, h *ledger.History, p *ledger.Payment) (*ledger.Payment, error) {
	data, err := oppdrag.EncodePaymentInstruction(p, c, s.settings)
	if err != nil {
		return nil, fmt.Errorf("encoding payment: %w", err)
	}

	expected := ""
	if last, ok := h.Last(); ok {
		expected = last.ID
	}
	if err := s.store.AppendPayment(p, expected); err != nil {
		return nil, fmt.Errorf("storing payment: %w", err)
	}

	if err := s.transmit(ctx, c, p, data); err != nil {
		return p, err
	}

	slog.Info("Payment dispatched",
		"case_id", c.ID,
		"saksnummer", c.Saksnummer,
		"payment_id", p.ID,
		"key", p.Key.String(),
		"lines", len(p.Lines),
	)
	return p, nil
}

func (s *Service) transmit(ctx context.Context, c *ledger.Case, p *ledger.Payment, data []byte) error {
	if _, err := s.archive.Save(fmt.Sprintf("oppdrag/%s/%s.xml", c.Saksnummer, p.Key), data); err != nil {
		slog.Error("Failed to archive payment", "payment_id", p.ID, "error", err)
		return fmt.Errorf("%w: archiving: %v", ErrNotTransmitted, err)
	}
	if err := s.publisher.Publish(ctx, s.subject, data); err != nil {
		slog.Error("Failed to transmit payment",
			"payment_id", p.ID,
			"key", p.Key.String(),
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrNotTransmitted, err)
	}
	return nil
}

// HandleReceipt archives a raw receipt, decodes it and attaches it to the payment it answers.
// Unparseable receipts are archived and reported; their payment stays outstanding.
func (s *Service) HandleReceipt(ctx context.Context, data []byte) (*ledger.Payment, error) {
	receivedAt := s.timeSource.Now()
	name, err := s.archive.Save(fmt.Sprintf("kvittering/%d.xml", receivedAt.UnixNano()), data)
	if err != nil {
		return nil, fmt.Errorf("archiving receipt: %w", err)
	}

	k, err := oppdrag.DecodeReceipt(data, receivedAt)
	if err != nil {
		slog.Error("Unparseable receipt",
			"archived_as", name,
			"size", len(data),
			"error", err,
		)
		return nil, err
	}

	p, err := s.store.FindPaymentByKey(k.Key)
	if err != nil {
		return nil, fmt.Errorf("finding payment for key %s: %w", k.Key, err)
	}
	c, err := s.store.GetCase(p.CaseID)
	if err != nil {
		return nil, err
	}
	if c.Saksnummer != k.FagsystemID {
		return nil, fmt.Errorf("%w: key %s belongs to %s, receipt names %s", ErrReceiptMismatch, k.Key, c.Saksnummer, k.FagsystemID)
	}
	if p.Receipt != nil {
		slog.Warn("Replacing receipt",
			"payment_id", p.ID,
			"previous", p.Receipt.Status.String(),
			"new", k.Receipt.Status.String(),
		)
	}

	receipt := k.Receipt
	if err := s.store.AttachReceipt(p.ID, &receipt); err != nil {
		return nil, fmt.Errorf("attaching receipt: %w", err)
	}
	p.Receipt = &receipt

	slog.Info("Receipt filed",
		"payment_id", p.ID,
		"saksnummer", c.Saksnummer,
		"key", k.Key.String(),
		"status", receipt.Status.String(),
		"alvorlighetsgrad", receipt.Severity,
	)
	return p, nil
}

// ReceiptHandler adapts HandleReceipt to a subscription callback
func (s *Service) ReceiptHandler() func(ctx context.Context, subject string, data []byte) error {
	return func(ctx context.Context, _ string, data []byte) error {
		_, err := s.HandleReceipt(ctx, data)
		return err
	}
}
