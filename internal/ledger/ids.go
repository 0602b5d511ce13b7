package ledger

import (
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique ids for lines, payments and cases
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// delytelseId is limited to 30 characters on the wire
const idLength = 30

// UUIDGenerator generates ids from random UUIDs truncated to the wire limit
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() string {
	return uuid.NewString()[:idLength]
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
