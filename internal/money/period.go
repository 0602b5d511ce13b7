package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// DateLayout is the calendar date format used on the wire and in JSON
const DateLayout = "2006-01-02"

// ErrInvalidPeriod is returned for inverted, unsorted or overlapping periods
var ErrInvalidPeriod = errors.New("invalid period")

// Date returns midnight UTC of the given calendar date
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf strips the clock from t, keeping the calendar date as seen in t's location
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// ParseDate parses a yyyy-MM-dd date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// Period is a closed date interval [From, To]
type Period struct {
	From time.Time
	To   time.Time
}

// NewPeriod creates a period, truncating both ends to calendar dates
func NewPeriod(from, to time.Time) (Period, error) {
	p := Period{From: DateOf(from), To: DateOf(to)}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Month returns the period covering a whole calendar month
func Month(year int, month time.Month) Period {
	from := Date(year, month, 1)
	return Period{From: from, To: from.AddDate(0, 1, -1)}
}

// Validate checks that From is not after To
func (p Period) Validate() error {
	if p.From.IsZero() || p.To.IsZero() {
		return fmt.Errorf("%w: missing bound in %s", ErrInvalidPeriod, p)
	}
	if p.From.After(p.To) {
		return fmt.Errorf("%w: %s starts after it ends", ErrInvalidPeriod, p)
	}
	return nil
}

// Contains reports whether the date falls inside the period
func (p Period) Contains(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(p.From) && !d.After(p.To)
}

// Overlaps reports whether the two periods share at least one date
func (p Period) Overlaps(other Period) bool {
	return !p.To.Before(other.From) && !other.To.Before(p.From)
}

// Before reports whether p ends strictly before other starts
func (p Period) Before(other Period) bool {
	return p.To.Before(other.From)
}

// Months splits the period into calendar months, clipped to the period bounds
func (p Period) Months() []Period {
	var months []Period
	for cursor := Date(p.From.Year(), p.From.Month(), 1); !cursor.After(p.To); cursor = cursor.AddDate(0, 1, 0) {
		m := Month(cursor.Year(), cursor.Month())
		if m.From.Before(p.From) {
			m.From = p.From
		}
		if m.To.After(p.To) {
			m.To = p.To
		}
		months = append(months, m)
	}
	return months
}

// String renders the period as from–to dates
func (p Period) String() string {
	return p.From.Format(DateLayout) + "/" + p.To.Format(DateLayout)
}

type periodJSON struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// MarshalJSON renders the period with calendar dates
func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(periodJSON{From: p.From.Format(DateLayout), To: p.To.Format(DateLayout)})
}

// UnmarshalJSON parses a period with calendar dates
func (p *Period) UnmarshalJSON(data []byte) error {
	var raw periodJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	from, err := ParseDate(raw.From)
	if err != nil {
		return err
	}
	to, err := ParseDate(raw.To)
	if err != nil {
		return err
	}
	p.From, p.To = from, to
	return nil
}

// PeriodAmount pairs a period with an amount
type PeriodAmount struct {
	Period Period `json:"period"`
	Amount Amount `json:"amount"`
}

// Total sums the amounts of the given entries
func Total(entries []PeriodAmount) Amount {
	var total Amount
	for _, e := range entries {
		total += e.Amount
	}
	return total
}

// SortByPeriod orders entries by period start, keeping the input order for equal starts
func SortByPeriod(entries []PeriodAmount) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Period.From.Before(entries[j].Period.From)
	})
}

// ValidateSchedule checks that every period is valid and that they are sorted ascending and pairwise disjoint
func ValidateSchedule(periods []Period) error {
	for i, p := range periods {
		if err := p.Validate(); err != nil {
			return err
		}
		if i > 0 && !periods[i-1].Before(p) {
			return fmt.Errorf("%w: %s is not after %s", ErrInvalidPeriod, p, periods[i-1])
		}
	}
	return nil
}
