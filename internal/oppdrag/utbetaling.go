package oppdrag

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/money"
)

// sats allows 13 integer digits; minor units never carry more than 2 fraction digits
var maxSats = decimal.New(1, 13)

// datoOppdragGjelderFom is fixed for this fagområde
var datoOppdragGjelderFom = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Oppdrag is the root element of payment instructions and of their receipts
type Oppdrag struct {
	XMLName    xml.Name   `xml:"Oppdrag"`
	Mmel       *Mmel      `xml:"mmel,omitempty"`
	Oppdrag110 Oppdrag110 `xml:"oppdrag-110"`
}

// Oppdrag110 is the case level of an instruction
type Oppdrag110 struct {
	KodeAksjon            string             `xml:"kodeAksjon"`
	KodeEndring           KodeEndring        `xml:"kodeEndring"`
	KodeFagomraade        string             `xml:"kodeFagomraade"`
	FagsystemID           string             `xml:"fagsystemId"`
	UtbetFrekvens         string             `xml:"utbetFrekvens"`
	OppdragGjelderID      string             `xml:"oppdragGjelderId"`
	DatoOppdragGjelderFom string             `xml:"datoOppdragGjelderFom"`
	SaksbehID             string             `xml:"saksbehId"`
	Avstemming115         Avstemming115      `xml:"avstemming-115"`
	OppdragsEnhet120      []OppdragsEnhet120 `xml:"oppdrags-enhet-120"`
	OppdragsLinje150      []OppdragsLinje150 `xml:"oppdrags-linje-150"`
}

// Avstemming115 ties an instruction to its reconciliation key
type Avstemming115 struct {
	KodeKomponent    string `xml:"kodeKomponent"`
	NokkelAvstemming string `xml:"nokkelAvstemming"`
	TidspktMelding   string `xml:"tidspktMelding"`
}

// OppdragsEnhet120 names the unit responsible for the case
type OppdragsEnhet120 struct {
	TypeEnhet    string `xml:"typeEnhet"`
	Enhet        string `xml:"enhet"`
	DatoEnhetFom string `xml:"datoEnhetFom"`
}

// OppdragsLinje150 is one payment line on the wire
type OppdragsLinje150 struct {
	KodeEndringLinje KodeEndringLinje `xml:"kodeEndringLinje"`
	KodeStatusLinje  KodeStatusLinje  `xml:"kodeStatusLinje,omitempty"`
	DatoStatusFom    string           `xml:"datoStatusFom,omitempty"`
	DelytelseID      string           `xml:"delytelseId"`
	KodeKlassifik    string           `xml:"kodeKlassifik"`
	DatoVedtakFom    string           `xml:"datoVedtakFom"`
	DatoVedtakTom    string           `xml:"datoVedtakTom"`
	Sats             string           `xml:"sats"`
	FradragTillegg   FradragTillegg   `xml:"fradragTillegg"`
	TypeSats         string           `xml:"typeSats"`
	BrukKjoreplan    string           `xml:"brukKjoreplan"`
	SaksbehID        string           `xml:"saksbehId"`
	UtbetalesTilID   string           `xml:"utbetalesTilId"`
	RefDelytelseID   string           `xml:"refDelytelseId,omitempty"`
	RefFagsystemID   string           `xml:"refFagsystemId,omitempty"`
	Attestant180     []Attestant180   `xml:"attestant-180"`
}

// Attestant180 names one approver of a line
type Attestant180 struct {
	AttestantID string `xml:"attestantId"`
}

// EncodePaymentInstruction renders a payment of the given case as an oppdrag request.
// Lines keep the order they were appended in.
func EncodePaymentInstruction(p *ledger.Payment, c *ledger.Case, settings Settings) ([]byte, error) {
	if len(p.Lines) == 0 {
		return nil, fmt.Errorf("%w: payment %s has no lines", ErrEncoding, p.ID)
	}
	if p.CaseID != c.ID {
		return nil, fmt.Errorf("%w: payment %s belongs to case %s, not %s", ErrEncoding, p.ID, p.CaseID, c.ID)
	}

	kodeEndring := KodeEndringEndring
	if p.FirstForCase() {
		kodeEndring = KodeEndringNy
	}

	lines := make([]OppdragsLinje150, 0, len(p.Lines))
	for _, l := range p.Lines {
		line, err := encodeLine(l, c, settings)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	doc := Oppdrag{
		Oppdrag110: Oppdrag110{
			KodeAksjon:            "1",
			KodeEndring:           kodeEndring,
			KodeFagomraade:        settings.Fagomrade,
			FagsystemID:           c.Saksnummer,
			UtbetFrekvens:         utbetalingsfrekvens,
			OppdragGjelderID:      c.PayeeID,
			DatoOppdragGjelderFom: formatDate(datoOppdragGjelderFom),
			SaksbehID:             settings.Saksbehandler,
			Avstemming115: Avstemming115{
				KodeKomponent:    settings.Komponent,
				NokkelAvstemming: p.Key.String(),
				TidspktMelding:   FormatTimestamp(p.Key.Time()),
			},
			OppdragsEnhet120: []OppdragsEnhet120{{
				TypeEnhet:    "BOS",
				Enhet:        settings.Enhet,
				DatoEnhetFom: formatDate(datoOppdragGjelderFom),
			}},
			OppdragsLinje150: lines,
		},
	}
	return marshal(doc)
}

func encodeLine(l ledger.Line, c *ledger.Case, settings Settings) (OppdragsLinje150, error) {
	sats, err := FormatSats(l.Amount)
	if err != nil {
		return OppdragsLinje150{}, fmt.Errorf("line %s: %w", l.ID, err)
	}

	fradragTillegg := Tillegg
	if l.Amount < 0 {
		fradragTillegg = Fradrag
	}

	line := OppdragsLinje150{
		DelytelseID:    l.ExternalID(),
		KodeKlassifik:  settings.Fagomrade,
		DatoVedtakFom:  formatDate(l.Period.From),
		DatoVedtakTom:  formatDate(l.Period.To),
		Sats:           sats,
		FradragTillegg: fradragTillegg,
		TypeSats:       typeSats,
		BrukKjoreplan:  "N",
		SaksbehID:      l.Attestant,
		UtbetalesTilID: c.PayeeID,
	}
	if l.Attestant != "" {
		line.Attestant180 = []Attestant180{{AttestantID: l.Attestant}}
	}

	switch l.Kind {
	case ledger.KindNew:
		line.KodeEndringLinje = KodeEndringLinjeNy
		if l.PrevID != "" {
			line.RefDelytelseID = l.PrevSlotID
			line.RefFagsystemID = c.Saksnummer
		}
		return line, nil
	case ledger.KindChange:
		line.KodeStatusLinje = KodeStatusOpphor
	case ledger.KindStop:
		line.KodeStatusLinje = KodeStatusHvil
	case ledger.KindReactivate:
		line.KodeStatusLinje = KodeStatusReaktiver
	}
	if line.KodeStatusLinje == "" {
		return OppdragsLinje150{}, fmt.Errorf("%w: line %s has unknown kind %d", ErrEncoding, l.ID, int(l.Kind))
	}
	line.KodeEndringLinje = KodeEndringLinjeEndring
	line.DatoStatusFom = formatDate(l.EffectiveFrom)
	return line, nil
}

// FormatSats renders an amount as sats, failing beyond 13 integer digits
func FormatSats(a money.Amount) (string, error) {
	d := a.Decimal()
	if !d.Abs().LessThan(maxSats) {
		return "", fmt.Errorf("%w: sats %s exceeds 13 integer digits", ErrEncoding, d.StringFixed(2))
	}
	return d.StringFixed(2), nil
}
