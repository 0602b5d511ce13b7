package avstemming

import (
	"fmt"
	"sort"
	"time"

	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/money"
)

// CaseLines is the live part of one case's chain
type CaseLines struct {
	Case  *ledger.Case
	Lines []ledger.Line
}

// ConsistencySummary is the live state of every case at a snapshot
type ConsistencySummary struct {
	LiveFrom   time.Time
	SnapshotTo time.Time
	Cases      []CaseLines
	Total      Partition
}

// BuildConsistency selects, per case, the lines still in force on or after liveFrom
// using only payments dispatched at or before snapshotTo. payments maps a case id to
// that case's payments in append order. Cases without live lines are left out.
func BuildConsistency(liveFrom, snapshotTo time.Time, cases []*ledger.Case, payments map[string][]*ledger.Payment) (*ConsistencySummary, error) {
	if liveFrom.IsZero() || snapshotTo.IsZero() {
		return nil, fmt.Errorf("%w: live-from and snapshot must be set", ErrInvalidWindow)
	}

	sorted := append([]*ledger.Case(nil), cases...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].Saksnummer < sorted[j].Saksnummer
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	s := &ConsistencySummary{LiveFrom: liveFrom, SnapshotTo: snapshotTo}
	for _, c := range sorted {
		var visible []*ledger.Payment
		for _, p := range payments[c.ID] {
			if !p.Key.Time().After(snapshotTo) {
				visible = append(visible, p)
			}
		}
		if len(visible) == 0 {
			continue
		}

		h, err := ledger.NewHistory(c.ID, visible)
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", c.Saksnummer, err)
		}
		lines := liveLines(h, liveFrom)
		if len(lines) == 0 {
			continue
		}
		for _, l := range lines {
			s.Total.add(l.Amount)
		}
		s.Cases = append(s.Cases, CaseLines{Case: c, Lines: lines})
	}

	if err := s.check(); err != nil {
		return nil, err
	}
	return s, nil
}

// liveLines returns, in append order, the lines of every slot still in force at liveFrom.
// A New line appended later that overlaps an earlier line takes over from its first day,
// so the earlier line only counts up to the day before.
func liveLines(h *ledger.History, liveFrom time.Time) []ledger.Line {
	ends := cutOffEnds(h)
	keep := make(map[string]bool)
	for _, slot := range h.Slots() {
		latest, ok := h.Latest(slot)
		if !ok || !counts(latest.Period, ends[latest.ID], liveFrom) {
			continue
		}

		var live bool
		switch latest.Kind {
		case ledger.KindNew, ledger.KindReactivate:
			live = true
		case ledger.KindChange, ledger.KindStop:
			// a stop or change that took effect on or before liveFrom has ended the slot
			live = latest.EffectiveFrom.After(liveFrom)
		}
		if !live {
			continue
		}

		for _, l := range h.SlotLines(slot) {
			if counts(l.EffectivePeriod(), ends[l.ID], liveFrom) {
				keep[l.ID] = true
			}
		}
	}

	var lines []ledger.Line
	for _, l := range h.Lines() {
		if keep[l.ID] {
			lines = append(lines, l)
		}
	}
	return lines
}

// cutOffEnds maps a line id to the day before the first New line appended after it
// whose period overlaps its own. Lines nothing overrides are absent.
func cutOffEnds(h *ledger.History) map[string]time.Time {
	lines := h.Lines()
	ends := make(map[string]time.Time)
	for i, l := range lines {
		for _, later := range lines[i+1:] {
			if later.Kind == ledger.KindNew && later.Period.Overlaps(l.Period) {
				ends[l.ID] = later.Period.From.AddDate(0, 0, -1)
				break
			}
		}
	}
	return ends
}

// counts reports whether p, cut off at cut, still has days on or after liveFrom.
// A zero cut leaves p whole.
func counts(p money.Period, cut, liveFrom time.Time) bool {
	end := p.To
	if !cut.IsZero() && cut.Before(end) {
		end = cut
	}
	return !end.Before(liveFrom) && !end.Before(p.From)
}

func (s *ConsistencySummary) check() error {
	seen := make(map[string]bool)
	var count int
	for _, c := range s.Cases {
		if len(c.Lines) == 0 {
			return invariant("empty case", "case %s has no live lines", c.Case.Saksnummer)
		}
		for _, l := range c.Lines {
			if l.CaseID != c.Case.ID {
				return invariant("case ownership", "line %s belongs to %s, rendered under %s", l.ID, l.CaseID, c.Case.ID)
			}
			if seen[l.ID] {
				return invariant("duplicate line", "line %s rendered twice", l.ID)
			}
			seen[l.ID] = true
			count++
		}
	}
	if count != s.Total.Count {
		return invariant("total count", "total %d != rendered lines %d", s.Total.Count, count)
	}
	return nil
}
