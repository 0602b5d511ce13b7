package ledger

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Key is an avstemmingsnøkkel: the dispatch time in nanoseconds since the epoch.
// Two keys are equal iff their timestamps are equal.
type Key struct {
	nanos int64
}

// KeyAt returns the key for the given instant
func KeyAt(t time.Time) Key {
	return Key{nanos: t.UnixNano()}
}

// KeyFromNanos rebuilds a key from its nanosecond value
func KeyFromNanos(n int64) Key {
	return Key{nanos: n}
}

// ParseKey parses the decimal string form of a key
func ParseKey(s string) (Key, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return Key{}, fmt.Errorf("parsing avstemmingsnøkkel %q: invalid value", s)
	}
	return Key{nanos: n}, nil
}

func (k Key) String() string {
	return strconv.FormatInt(k.nanos, 10)
}

// Time returns the instant the key was derived from
func (k Key) Time() time.Time {
	return time.Unix(0, k.nanos)
}

// Nanos returns the nanoseconds since the epoch
func (k Key) Nanos() int64 {
	return k.nanos
}

// IsZero reports whether the key is unset
func (k Key) IsZero() bool {
	return k.nanos == 0
}

// Compare returns -1, 0 or 1
func (k Key) Compare(other Key) int {
	switch {
	case k.nanos < other.nanos:
		return -1
	case k.nanos > other.nanos:
		return 1
	}
	return 0
}

// Before reports whether k sorts before other
func (k Key) Before(other Key) bool {
	return k.nanos < other.nanos
}

// After reports whether k sorts after other
func (k Key) After(other Key) bool {
	return k.nanos > other.nanos
}

// Next returns the smallest key after k
func (k Key) Next() Key {
	return Key{nanos: k.nanos + 1}
}

// Bytes returns a big-endian encoding that sorts like the key
func (k Key) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k.nanos))
	return b
}

// MarshalText implements encoding.TextMarshaler
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// KeyGenerator hands out strictly increasing keys even when the clock repeats or steps back
type KeyGenerator struct {
	mu    sync.Mutex
	last  int64
	clock TimeSource
}

// NewKeyGenerator creates a generator reading from clock
func NewKeyGenerator(clock TimeSource) *KeyGenerator {
	return &KeyGenerator{clock: clock}
}

// Next returns a key greater than every key returned before
func (g *KeyGenerator) Next() Key {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.clock.Now().UnixNano()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	return Key{nanos: n}
}
