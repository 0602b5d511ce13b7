package ledger

import (
	"errors"

	"github.com/zombor/utbetaling/internal/money"
)

var (
	// ErrInvalidPeriod is returned when line periods are inverted, unsorted or overlapping
	ErrInvalidPeriod = money.ErrInvalidPeriod
	// ErrDanglingReference is returned when a back-reference does not resolve within the same case
	ErrDanglingReference = errors.New("dangling reference")
	// ErrInvalidTransition is returned when a kind cannot follow the slot's current kind
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNoLines is returned when a payment would carry no lines
	ErrNoLines = errors.New("payment has no lines")
	// ErrConcurrentAppend is returned when the case chain moved between read and write
	ErrConcurrentAppend = errors.New("concurrent append to case")
	// ErrNotFound is returned when a case or payment does not exist
	ErrNotFound = errors.New("not found")
)
