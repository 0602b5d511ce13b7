package ledger

import (
	"fmt"
	"time"

	"github.com/zombor/utbetaling/internal/money"
)

// Kind is the endring kind of a payment line relative to the line it supersedes
type Kind int

const (
	KindNew Kind = iota + 1
	// KindChange ends the slot from EffectiveFrom (opphør)
	KindChange
	// KindStop suspends the slot from EffectiveFrom (hvil)
	KindStop
	// KindReactivate resumes a suspended or ended slot from EffectiveFrom
	KindReactivate
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "NEW"
	case KindChange:
		return "CHANGE"
	case KindStop:
		return "STOP"
	case KindReactivate:
		return "REACTIVATE"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Valid reports whether k is one of the declared kinds
func (k Kind) Valid() bool {
	return k >= KindNew && k <= KindReactivate
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseKind parses the textual form of a kind
func ParseKind(s string) (Kind, error) {
	for k := KindNew; k <= KindReactivate; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

// ReceiptStatus is the outcome the mainframe reports for a payment
type ReceiptStatus int

const (
	StatusConfirmed ReceiptStatus = iota + 1
	StatusConfirmedWithWarning
	StatusRejected
)

func (s ReceiptStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusConfirmedWithWarning:
		return "CONFIRMED_WITH_WARNING"
	case StatusRejected:
		return "REJECTED"
	}
	return fmt.Sprintf("ReceiptStatus(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s ReceiptStatus) MarshalText() ([]byte, error) {
	if s < StatusConfirmed || s > StatusRejected {
		return nil, fmt.Errorf("unknown receipt status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *ReceiptStatus) UnmarshalText(text []byte) error {
	for status := StatusConfirmed; status <= StatusRejected; status++ {
		if status.String() == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown receipt status %q", string(text))
}

// Case is the owner of a payment line chain
type Case struct {
	ID string `json:"id"`
	// Saksnummer is the external case id sent as fagsystemId
	Saksnummer string    `json:"saksnummer"`
	PayeeID    string    `json:"payee_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Line is one chained payment instruction. Lines are never edited; corrections are new lines.
type Line struct {
	ID string `json:"id"`
	// SlotID is the id of the New line that opened the slot; it is the delytelseId on the wire
	SlotID string       `json:"slot_id"`
	CaseID string       `json:"case_id"`
	Kind   Kind         `json:"kind"`
	Period money.Period `json:"period"`
	Amount money.Amount `json:"amount"`
	// EffectiveFrom is set for every kind except New
	EffectiveFrom time.Time `json:"effective_from"`
	PrevID        string    `json:"prev_id,omitempty"`
	// PrevSlotID is the delytelseId of the line PrevID points to
	PrevSlotID string    `json:"prev_slot_id,omitempty"`
	Attestant  string    `json:"attestant"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExternalID returns the id the mainframe knows this line's slot by
func (l Line) ExternalID() string {
	return l.SlotID
}

// EffectivePeriod returns the dates this line governs
func (l Line) EffectivePeriod() money.Period {
	if l.Kind == KindNew {
		return l.Period
	}
	return money.Period{From: l.EffectiveFrom, To: l.Period.To}
}

// Receipt is the mainframe's answer to one payment
type Receipt struct {
	Status ReceiptStatus `json:"status"`
	// Severity is the raw alvorlighetsgrad
	Severity   string    `json:"severity"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Raw        string    `json:"raw"`
	ReceivedAt time.Time `json:"received_at"`
}

// Payment is one dispatch unit of lines created together
type Payment struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	Key       Key       `json:"key"`
	Lines     []Line    `json:"lines"`
	Behandler string    `json:"behandler"`
	CreatedAt time.Time `json:"created_at"`
	Receipt   *Receipt  `json:"receipt,omitempty"`
	// ReconciledBy is the id of the interface reconciliation run that covered this payment
	ReconciledBy string `json:"reconciled_by,omitempty"`
}

// Amount sums the line amounts of the payment
func (p *Payment) Amount() money.Amount {
	var total money.Amount
	for _, l := range p.Lines {
		total += l.Amount
	}
	return total
}

// Outstanding reports whether no receipt has been attached yet
func (p *Payment) Outstanding() bool {
	return p.Receipt == nil
}

// FirstForCase reports whether this payment opens the case at the mainframe
func (p *Payment) FirstForCase() bool {
	return len(p.Lines) > 0 && p.Lines[0].Kind == KindNew && p.Lines[0].PrevID == ""
}

// Last returns the last line of the payment
func (p *Payment) Last() Line {
	return p.Lines[len(p.Lines)-1]
}
