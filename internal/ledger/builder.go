package ledger

import (
	"fmt"
	"time"

	"github.com/zombor/utbetaling/internal/money"
)

// Builder turns approved schedules and lifecycle changes into new immutable payments
type Builder struct {
	ids   IDGenerator
	clock TimeSource
	keys  *KeyGenerator
}

// NewBuilder creates a Builder with random ids and the wall clock
func NewBuilder() *Builder {
	clock := SystemClock{}
	return NewBuilderWithDeps(UUIDGenerator{}, clock, NewKeyGenerator(clock))
}

// NewBuilderWithDeps creates a Builder with custom dependencies for testing
func NewBuilderWithDeps(ids IDGenerator, clock TimeSource, keys *KeyGenerator) *Builder {
	return &Builder{ids: ids, clock: clock, keys: keys}
}

// AppendLines creates one New line per entry. The first line references prior (nil for the case's
// first payment); each later line references the line created just before it.
func (b *Builder) AppendLines(c *Case, entries []money.PeriodAmount, prior *Line, behandler string) (*Payment, error) {
	if len(entries) == 0 {
		return nil, ErrNoLines
	}
	periods := make([]money.Period, len(entries))
	for i, e := range entries {
		periods[i] = e.Period
	}
	if err := money.ValidateSchedule(periods); err != nil {
		return nil, err
	}
	if prior != nil && prior.CaseID != c.ID {
		return nil, fmt.Errorf("%w: prior line %s belongs to case %s, not %s", ErrDanglingReference, prior.ID, prior.CaseID, c.ID)
	}

	now := b.clock.Now()
	lines := make([]Line, 0, len(entries))
	prev := prior
	for _, e := range entries {
		id := b.ids.Generate()
		l := Line{
			ID:        id,
			SlotID:    id,
			CaseID:    c.ID,
			Kind:      KindNew,
			Period:    e.Period,
			Amount:    e.Amount,
			Attestant: behandler,
			CreatedAt: now,
		}
		if prev != nil {
			l.PrevID = prev.ID
			l.PrevSlotID = prev.SlotID
		}
		lines = append(lines, l)
		prev = &lines[len(lines)-1]
	}

	return b.payment(c, lines, behandler, now), nil
}

// Change asks for a lifecycle line on the current state of a slot
type Change struct {
	Kind          Kind
	SlotID        string
	EffectiveFrom time.Time
}

// Supersede creates one line per change, each referencing the latest line of its slot.
// Several changes to the same slot chain on each other in the given order.
func (b *Builder) Supersede(c *Case, h *History, changes []Change, behandler string) (*Payment, error) {
	if len(changes) == 0 {
		return nil, ErrNoLines
	}
	if h.CaseID() != c.ID {
		return nil, fmt.Errorf("%w: history of case %s used for case %s", ErrDanglingReference, h.CaseID(), c.ID)
	}

	now := b.clock.Now()
	pending := make(map[string]Line)
	lines := make([]Line, 0, len(changes))
	for _, ch := range changes {
		if ch.Kind == KindNew {
			return nil, fmt.Errorf("%w: a new line cannot supersede slot %s", ErrInvalidTransition, ch.SlotID)
		}
		if !ch.Kind.Valid() {
			return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidTransition, int(ch.Kind))
		}
		current, ok := pending[ch.SlotID]
		if !ok {
			current, ok = h.Latest(ch.SlotID)
		}
		if !ok {
			return nil, fmt.Errorf("%w: slot %s does not exist in case %s", ErrDanglingReference, ch.SlotID, c.ID)
		}
		if !CanFollow(current.Kind, ch.Kind) {
			return nil, fmt.Errorf("%w: %s cannot follow %s in slot %s", ErrInvalidTransition, ch.Kind, current.Kind, ch.SlotID)
		}
		effective := money.DateOf(ch.EffectiveFrom)
		if !current.Period.Contains(effective) {
			return nil, fmt.Errorf("%w: %s is outside slot period %s", ErrInvalidPeriod, effective.Format(money.DateLayout), current.Period)
		}

		l := Line{
			ID:            b.ids.Generate(),
			SlotID:        current.SlotID,
			CaseID:        c.ID,
			Kind:          ch.Kind,
			Period:        current.Period,
			Amount:        current.Amount,
			EffectiveFrom: effective,
			PrevID:        current.ID,
			PrevSlotID:    current.SlotID,
			Attestant:     behandler,
			CreatedAt:     now,
		}
		pending[ch.SlotID] = l
		lines = append(lines, l)
	}

	return b.payment(c, lines, behandler, now), nil
}

func (b *Builder) payment(c *Case, lines []Line, behandler string, now time.Time) *Payment {
	return &Payment{
		ID:        b.ids.Generate(),
		CaseID:    c.ID,
		Key:       b.keys.Next(),
		Lines:     lines,
		Behandler: behandler,
		CreatedAt: now,
	}
}
