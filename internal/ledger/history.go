package ledger

import "fmt"

// History is the id-indexed line chain of one case in append order.
// It is rebuilt from stored payments alone; back-references are ids, never pointers.
type History struct {
	caseID string
	lines  map[string]Line
	order  []string
	slots  []string
	latest map[string]string
}

// NewHistory replays the payments of a case, which must be given in append (key) order
func NewHistory(caseID string, payments []*Payment) (*History, error) {
	h := &History{
		caseID: caseID,
		lines:  make(map[string]Line),
		latest: make(map[string]string),
	}
	for _, p := range payments {
		if p.CaseID != caseID {
			return nil, fmt.Errorf("%w: payment %s belongs to case %s, not %s", ErrDanglingReference, p.ID, p.CaseID, caseID)
		}
		for _, l := range p.Lines {
			if err := h.add(l); err != nil {
				return nil, fmt.Errorf("replaying payment %s: %w", p.ID, err)
			}
		}
	}
	return h, nil
}

func (h *History) add(l Line) error {
	if l.CaseID != h.caseID {
		return fmt.Errorf("%w: line %s belongs to case %s, not %s", ErrDanglingReference, l.ID, l.CaseID, h.caseID)
	}
	if _, dup := h.lines[l.ID]; dup {
		return fmt.Errorf("duplicate line id %s", l.ID)
	}
	if !l.Kind.Valid() {
		return fmt.Errorf("line %s has unknown kind %d", l.ID, int(l.Kind))
	}
	if l.PrevID != "" {
		if _, ok := h.lines[l.PrevID]; !ok {
			return fmt.Errorf("%w: line %s references unknown line %s", ErrDanglingReference, l.ID, l.PrevID)
		}
	}

	switch l.Kind {
	case KindNew:
		if l.SlotID != l.ID {
			return fmt.Errorf("new line %s must open its own slot, got %s", l.ID, l.SlotID)
		}
		h.slots = append(h.slots, l.ID)
	case KindChange, KindStop, KindReactivate:
		if l.PrevID == "" {
			return fmt.Errorf("%w: %s line %s has no back-reference", ErrDanglingReference, l.Kind, l.ID)
		}
		current, ok := h.Latest(l.SlotID)
		if !ok {
			return fmt.Errorf("%w: line %s references unknown slot %s", ErrDanglingReference, l.ID, l.SlotID)
		}
		if current.ID != l.PrevID {
			return fmt.Errorf("%w: line %s supersedes %s but slot %s is at %s", ErrDanglingReference, l.ID, l.PrevID, l.SlotID, current.ID)
		}
		if !CanFollow(current.Kind, l.Kind) {
			return fmt.Errorf("%w: %s cannot follow %s in slot %s", ErrInvalidTransition, l.Kind, current.Kind, l.SlotID)
		}
	}

	h.lines[l.ID] = l
	h.order = append(h.order, l.ID)
	h.latest[l.SlotID] = l.ID
	return nil
}

// CaseID returns the id of the case the history belongs to
func (h *History) CaseID() string {
	return h.caseID
}

// Line looks up a line by id
func (h *History) Line(id string) (Line, bool) {
	l, ok := h.lines[id]
	return l, ok
}

// Last returns the most recently appended line
func (h *History) Last() (Line, bool) {
	if len(h.order) == 0 {
		return Line{}, false
	}
	return h.lines[h.order[len(h.order)-1]], true
}

// Lines returns every line in append order
func (h *History) Lines() []Line {
	lines := make([]Line, 0, len(h.order))
	for _, id := range h.order {
		lines = append(lines, h.lines[id])
	}
	return lines
}

// Slots returns slot ids in the order the slots were opened
func (h *History) Slots() []string {
	return append([]string(nil), h.slots...)
}

// Latest returns the most recently appended line of a slot
func (h *History) Latest(slotID string) (Line, bool) {
	id, ok := h.latest[slotID]
	if !ok {
		return Line{}, false
	}
	return h.lines[id], true
}

// Walk follows back-references from id to the root of the chain, newest first
func (h *History) Walk(id string) ([]Line, error) {
	var chain []Line
	seen := make(map[string]bool)
	for id != "" {
		if seen[id] {
			return nil, fmt.Errorf("cycle at line %s", id)
		}
		seen[id] = true
		l, ok := h.lines[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown line %s", ErrDanglingReference, id)
		}
		chain = append(chain, l)
		id = l.PrevID
	}
	return chain, nil
}

// SlotLines returns the lines of one slot in append order, found by walking back from its latest line
func (h *History) SlotLines(slotID string) []Line {
	id, ok := h.latest[slotID]
	if !ok {
		return nil
	}
	var lines []Line
	for id != "" {
		l := h.lines[id]
		if l.SlotID != slotID {
			break
		}
		lines = append(lines, l)
		id = l.PrevID
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}

// CanFollow reports whether a line of kind next may supersede a line of kind current in the same slot
func CanFollow(current, next Kind) bool {
	switch next {
	case KindNew:
		return false
	case KindChange, KindStop:
		return current.Valid()
	case KindReactivate:
		return current.Valid() && current != KindNew
	}
	return false
}
