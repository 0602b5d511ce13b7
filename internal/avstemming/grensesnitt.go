package avstemming

import (
	"fmt"

	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/money"
	"github.com/zombor/utbetaling/internal/oppdrag"
)

// Partition is the count and summed amount of a group of payments
type Partition struct {
	Count  int          `json:"count"`
	Amount money.Amount `json:"amount"`
}

func (p *Partition) add(a money.Amount) {
	p.Count++
	p.Amount += a
}

// Detail points at a payment that was rejected, warned about or never answered
type Detail struct {
	Type       oppdrag.DetaljType
	PaymentID  string
	PayeeID    string
	Saksnummer string
	Key        ledger.Key
	Receipt    *ledger.Receipt
}

// InterfaceSummary is the result of an interface reconciliation over [From, To]
type InterfaceSummary struct {
	From       ledger.Key
	To         ledger.Key
	Total      Partition
	Confirmed  Partition
	Warning    Partition
	Rejected   Partition
	Missing    Partition
	Details    []Detail
	PaymentIDs []string
}

// BuildInterface partitions the payments of a window by receipt status.
// Every payment must have its key inside [from, to] and its case in cases.
func BuildInterface(from, to ledger.Key, payments []*ledger.Payment, cases map[string]*ledger.Case) (*InterfaceSummary, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidWindow, to, from)
	}

	s := &InterfaceSummary{From: from, To: to}
	for _, p := range payments {
		if p.Key.Before(from) || p.Key.After(to) {
			return nil, fmt.Errorf("%w: payment %s has key %s outside [%s, %s]", ErrInvalidWindow, p.ID, p.Key, from, to)
		}
		c, ok := cases[p.CaseID]
		if !ok {
			return nil, fmt.Errorf("payment %s: case %s: %w", p.ID, p.CaseID, ledger.ErrNotFound)
		}

		amount := p.Amount()
		s.Total.add(amount)
		s.PaymentIDs = append(s.PaymentIDs, p.ID)

		detail := Detail{PaymentID: p.ID, PayeeID: c.PayeeID, Saksnummer: c.Saksnummer, Key: p.Key, Receipt: p.Receipt}
		if p.Receipt == nil {
			s.Missing.add(amount)
			detail.Type = oppdrag.DetaljMangler
			s.Details = append(s.Details, detail)
			continue
		}
		switch p.Receipt.Status {
		case ledger.StatusConfirmed:
			s.Confirmed.add(amount)
		case ledger.StatusConfirmedWithWarning:
			s.Warning.add(amount)
			detail.Type = oppdrag.DetaljVarsel
			s.Details = append(s.Details, detail)
		case ledger.StatusRejected:
			s.Rejected.add(amount)
			detail.Type = oppdrag.DetaljAvvist
			s.Details = append(s.Details, detail)
		}
	}

	if err := s.check(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *InterfaceSummary) check() error {
	partitions := s.Confirmed.Count + s.Warning.Count + s.Rejected.Count + s.Missing.Count
	if s.Total.Count != partitions {
		return invariant("total count", "total %d != sum of partitions %d", s.Total.Count, partitions)
	}
	amounts := s.Confirmed.Amount + s.Warning.Amount + s.Rejected.Amount + s.Missing.Amount
	if s.Total.Amount != amounts {
		return invariant("total amount", "total %s != sum of partitions %s", s.Total.Amount, amounts)
	}
	flagged := s.Rejected.Count + s.Warning.Count + s.Missing.Count
	if flagged != len(s.Details) {
		return invariant("details", "%d flagged payments but %d detail records", flagged, len(s.Details))
	}
	return nil
}
