// Package oppdrag renders ledger state into the mainframe's XML request formats and decodes its receipts.
package oppdrag

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/zombor/utbetaling/internal/money"
)

var (
	// ErrEncoding is returned when ledger state cannot be rendered within the protocol's limits
	ErrEncoding = errors.New("encoding error")
	// ErrUnparseableReceipt is returned for receipts that cannot be decoded
	ErrUnparseableReceipt = errors.New("unparseable receipt")
)

const (
	// TimestampLayout is the wire format of tidspktMelding (yyyy-MM-dd-HH.mm.ss.SSSSSS)
	TimestampLayout = "2006-01-02-15.04.05.000000"
	// PeriodLayout is the wire format of reconciled periods (yyyyMMddHH)
	PeriodLayout = "2006010215"

	utbetalingsfrekvens = "MND"
	typeSats            = "MND"
)

// Oslo is the zone every wire timestamp is rendered in
var Oslo = mustLoad("Europe/Oslo")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("loading %s: %v", name, err))
	}
	return loc
}

// Settings holds the fixed identifiers this system sends on every request
type Settings struct {
	// Fagomrade is kodeFagomraade and kodeKlassifik, e.g. SUUFORE
	Fagomrade string
	// Komponent is the sending component, e.g. SU
	Komponent string
	// Enhet is the responsible unit sent in oppdrags-enhet-120
	Enhet string
	// Saksbehandler is saksbehId on the oppdrag level
	Saksbehandler string
}

// DefaultSettings returns the settings for the supplementary benefit
func DefaultSettings() Settings {
	return Settings{
		Fagomrade:     "SUUFORE",
		Komponent:     "SU",
		Enhet:         "8020",
		Saksbehandler: "SU",
	}
}

// KodeEndring tells whether the oppdrag is new or a change to an existing one
type KodeEndring string

const (
	KodeEndringNy      KodeEndring = "NY"
	KodeEndringEndring KodeEndring = "ENDR"
	KodeEndringUendret KodeEndring = "UEND"
)

// Valid reports whether the code is one of the declared codes
func (k KodeEndring) Valid() bool {
	switch k {
	case KodeEndringNy, KodeEndringEndring, KodeEndringUendret:
		return true
	}
	return false
}

// KodeEndringLinje tells whether a line opens a slot or changes one
type KodeEndringLinje string

const (
	KodeEndringLinjeNy      KodeEndringLinje = "NY"
	KodeEndringLinjeEndring KodeEndringLinje = "ENDR"
)

// KodeStatusLinje is the status an ENDR line sets on its slot
type KodeStatusLinje string

const (
	KodeStatusOpphor    KodeStatusLinje = "OPPH"
	KodeStatusHvil      KodeStatusLinje = "HVIL"
	KodeStatusReaktiver KodeStatusLinje = "REAK"
)

// FradragTillegg tells whether a line adds to or deducts from the payee's balance
type FradragTillegg string

const (
	Fradrag FradragTillegg = "F"
	Tillegg FradragTillegg = "T"
)

// Fortegn is the sign indicator on reconciled totals
type Fortegn string

const (
	FortegnTillegg Fortegn = "T"
	FortegnFradrag Fortegn = "F"
)

// FortegnFor returns TILLEGG for non-negative amounts and FRADRAG otherwise
func FortegnFor(a money.Amount) Fortegn {
	if a < 0 {
		return FortegnFradrag
	}
	return FortegnTillegg
}

// FormatTimestamp renders t as tidspktMelding in Oslo time
func FormatTimestamp(t time.Time) string {
	return t.In(Oslo).Format(TimestampLayout)
}

func formatDate(t time.Time) string {
	return t.Format(money.DateLayout)
}

// marshal renders v with an XML declaration
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return buf.Bytes(), nil
}
