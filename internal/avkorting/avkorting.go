// Package avkorting plans how a known over-payment is deducted from future monthly benefits.
package avkorting

import (
	"errors"
	"fmt"

	"github.com/zombor/utbetaling/internal/money"
)

// ErrUnfulfilled is returned when the ceilings run out before the amount is recovered
var ErrUnfulfilled = errors.New("clawback cannot be fulfilled within the available months")

// UnfulfilledError carries the plan that did fit and what is left over
type UnfulfilledError struct {
	Remaining money.Amount
	Planned   []money.PeriodAmount
}

func (e *UnfulfilledError) Error() string {
	return fmt.Sprintf("%s: %s remaining after %d months", ErrUnfulfilled, e.Remaining, len(e.Planned))
}

func (e *UnfulfilledError) Unwrap() error {
	return ErrUnfulfilled
}

// Plan allocates feilutbetalt over the ceilings in period order, taking at most each month's
// ceiling and carrying the rest forward. Months with a ceiling of zero or less get nothing.
func Plan(feilutbetalt money.Amount, ceilings []money.PeriodAmount) ([]money.PeriodAmount, error) {
	if feilutbetalt < 0 {
		return nil, fmt.Errorf("%w: feilutbetalt %s is negative", money.ErrInvalidAmount, feilutbetalt)
	}
	sorted, err := sortedSchedule(ceilings)
	if err != nil {
		return nil, err
	}

	remaining := feilutbetalt
	plan := []money.PeriodAmount{}
	for _, c := range sorted {
		if remaining == 0 {
			break
		}
		if c.Amount <= 0 {
			continue
		}
		take := money.Min(remaining, c.Amount)
		plan = append(plan, money.PeriodAmount{Period: c.Period, Amount: take})
		remaining -= take
	}

	if remaining > 0 {
		return nil, &UnfulfilledError{Remaining: remaining, Planned: plan}
	}
	return plan, nil
}

// Ceilings derives the monthly deduction ceilings: each month's benefit minus the deductions
// already committed to that month. Months left with nothing to deduct from are dropped.
func Ceilings(benefits, committed []money.PeriodAmount) ([]money.PeriodAmount, error) {
	sorted, err := sortedSchedule(benefits)
	if err != nil {
		return nil, fmt.Errorf("benefits: %w", err)
	}

	index := make(map[string]int, len(sorted))
	for i, b := range sorted {
		index[b.Period.String()] = i
	}
	deducted := make([]money.Amount, len(sorted))
	for _, c := range committed {
		i, ok := index[c.Period.String()]
		if !ok {
			return nil, fmt.Errorf("%w: committed deduction for %s has no benefit month", money.ErrInvalidPeriod, c.Period)
		}
		if c.Amount < 0 {
			return nil, fmt.Errorf("%w: committed deduction for %s is negative", money.ErrInvalidAmount, c.Period)
		}
		deducted[i] += c.Amount
	}

	var ceilings []money.PeriodAmount
	for i, b := range sorted {
		if ceiling := b.Amount - deducted[i]; ceiling > 0 {
			ceilings = append(ceilings, money.PeriodAmount{Period: b.Period, Amount: ceiling})
		}
	}
	return ceilings, nil
}

func sortedSchedule(entries []money.PeriodAmount) ([]money.PeriodAmount, error) {
	sorted := append([]money.PeriodAmount(nil), entries...)
	money.SortByPeriod(sorted)
	periods := make([]money.Period, len(sorted))
	for i, e := range sorted {
		periods[i] = e.Period
	}
	if err := money.ValidateSchedule(periods); err != nil {
		return nil, err
	}
	return sorted, nil
}
