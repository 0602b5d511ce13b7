package oppdrag

import (
	"encoding/xml"
	"fmt"

	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/money"
)

// AksjonType orders the messages of one reconciliation run
type AksjonType string

const (
	AksjonStart   AksjonType = "START"
	AksjonData    AksjonType = "DATA"
	AksjonAvslutt AksjonType = "AVSL"
)

// AvstemmingType is the reconciliation variant
type AvstemmingType string

const (
	Grensesnittavstemming AvstemmingType = "GRSN"
	Konsistensavstemming  AvstemmingType = "KONS"
	Periodeavstemming     AvstemmingType = "PERI"
)

// DetaljType classifies a payment that needs attention in an interface reconciliation
type DetaljType string

const (
	DetaljVarsel  DetaljType = "VARS"
	DetaljAvvist  DetaljType = "AVVI"
	DetaljMangler DetaljType = "MANG"
)

const (
	kildeType               = "AVLEV"
	mottakendeKomponentKode = "OS"
)

// Aksjon is the envelope shared by every reconciliation message
type Aksjon struct {
	AksjonType               AksjonType     `xml:"aksjonType"`
	KildeType                string         `xml:"kildeType"`
	AvstemmingType           AvstemmingType `xml:"avstemmingType"`
	AvleverendeKomponentKode string         `xml:"avleverendeKomponentKode"`
	MottakendeKomponentKode  string         `xml:"mottakendeKomponentKode"`
	UnderkomponentKode       string         `xml:"underkomponentKode"`
	NokkelFom                string         `xml:"nokkelFom"`
	NokkelTom                string         `xml:"nokkelTom"`
	TidspunktAvstemmingTom   string         `xml:"tidspunktAvstemmingTom,omitempty"`
	AvleverendeAvstemmingID  string         `xml:"avleverendeAvstemmingId"`
	BrukerID                 string         `xml:"brukerId"`
}

// NewAksjon builds the envelope for one message of a run
func NewAksjon(aksjon AksjonType, avstemming AvstemmingType, from, to, runID string, settings Settings) Aksjon {
	return Aksjon{
		AksjonType:               aksjon,
		KildeType:                kildeType,
		AvstemmingType:           avstemming,
		AvleverendeKomponentKode: settings.Komponent,
		MottakendeKomponentKode:  mottakendeKomponentKode,
		UnderkomponentKode:       settings.Fagomrade,
		NokkelFom:                from,
		NokkelTom:                to,
		AvleverendeAvstemmingID:  runID,
		BrukerID:                 settings.Komponent,
	}
}

// Grensesnittsmelding is one message of an interface reconciliation
type Grensesnittsmelding struct {
	XMLName  xml.Name  `xml:"avstemmingsdata"`
	Aksjon   Aksjon    `xml:"aksjon"`
	Total    *Total    `xml:"total,omitempty"`
	Periode  *Periode  `xml:"periode,omitempty"`
	Grunnlag *Grunnlag `xml:"grunnlag,omitempty"`
	Detaljer []Detalj  `xml:"detalj"`
}

// Total is a count and amount with its sign
type Total struct {
	TotalAntall int     `xml:"totalAntall"`
	TotalBelop  string  `xml:"totalBelop"`
	Fortegn     Fortegn `xml:"fortegn"`
}

// Periode is the reconciled window rendered as yyyyMMddHH
type Periode struct {
	DatoAvstemtFom string `xml:"datoAvstemtFom"`
	DatoAvstemtTom string `xml:"datoAvstemtTom"`
}

// Grunnlag holds the per-status partitions
type Grunnlag struct {
	GodkjentAntall  int     `xml:"godkjentAntall"`
	GodkjentBelop   string  `xml:"godkjentBelop"`
	GodkjentFortegn Fortegn `xml:"godkjentFortegn"`
	VarselAntall    int     `xml:"varselAntall"`
	VarselBelop     string  `xml:"varselBelop"`
	VarselFortegn   Fortegn `xml:"varselFortegn"`
	AvvistAntall    int     `xml:"avvistAntall"`
	AvvistBelop     string  `xml:"avvistBelop"`
	AvvistFortegn   Fortegn `xml:"avvistFortegn"`
	ManglerAntall   int     `xml:"manglerAntall"`
	ManglerBelop    string  `xml:"manglerBelop"`
	ManglerFortegn  Fortegn `xml:"manglerFortegn"`
}

// Detalj points at one payment that was rejected, warned about or never answered
type Detalj struct {
	DetaljType                   DetaljType `xml:"detaljType"`
	Offnr                        string     `xml:"offnr"`
	AvleverendeTransaksjonNokkel string     `xml:"avleverendeTransaksjonNokkel"`
	MeldingKode                  string     `xml:"meldingKode,omitempty"`
	AlvorlighetsGrad             string     `xml:"alvorlighetsgrad,omitempty"`
	TekstMelding                 string     `xml:"tekstMelding,omitempty"`
	Tidspunkt                    string     `xml:"tidspunkt"`
}

// Konsistensmelding is one message of a consistency reconciliation
type Konsistensmelding struct {
	XMLName      xml.Name       `xml:"konsistensavstemmingsdata"`
	Aksjonsdata  Aksjon         `xml:"aksjonsdata"`
	Oppdragsdata []Oppdragsdata `xml:"oppdragsdataListe"`
	Totaldata    *Total         `xml:"totaldata,omitempty"`
}

// Oppdragsdata is the live state of one case
type Oppdragsdata struct {
	FagomradeKode       string          `xml:"fagomradeKode"`
	FagsystemID         string          `xml:"fagsystemId"`
	Utbetalingsfrekvens string          `xml:"utbetalingsfrekvens"`
	OppdragGjelderID    string          `xml:"oppdragGjelderId"`
	OppdragGjelderFom   string          `xml:"oppdragGjelderFom"`
	SaksbehandlerID     string          `xml:"saksbehandlerId"`
	Enheter             []Enhet         `xml:"oppdragsenhetListe"`
	Linjer              []Oppdragslinje `xml:"oppdragslinjeListe"`
}

// Enhet is the responsible unit of a case in a consistency reconciliation
type Enhet struct {
	EnhetType string `xml:"enhetType"`
	Enhet     string `xml:"enhet"`
	EnhetFom  string `xml:"enhetFom"`
}

// Oppdragslinje is one live line in a consistency reconciliation
type Oppdragslinje struct {
	DelytelseID        string          `xml:"delytelseId"`
	KlassifikasjonKode string          `xml:"klassifikasjonKode"`
	Vedtakperiode      Vedtakperiode   `xml:"vedtakPeriode"`
	Sats               string          `xml:"sats"`
	SatstypeKode       string          `xml:"satstypeKode"`
	FradragTillegg     FradragTillegg  `xml:"fradragTillegg"`
	BrukKjoreplan      string          `xml:"brukKjoreplan"`
	UtbetalesTilID     string          `xml:"utbetalesTilId"`
	RefDelytelseID     string          `xml:"refDelytelseId,omitempty"`
	RefFagsystemID     string          `xml:"refFagsystemId,omitempty"`
	KodeStatusLinje    KodeStatusLinje `xml:"kodeStatusLinje,omitempty"`
	DatoStatusFom      string          `xml:"datoStatusFom,omitempty"`
	Attestanter        []Attestant     `xml:"attestantListe"`
}

// Vedtakperiode is the date range of a live line
type Vedtakperiode struct {
	Fom string `xml:"fom"`
	Tom string `xml:"tom"`
}

// Attestant names one approver in a consistency reconciliation
type Attestant struct {
	AttestantID string `xml:"attestantId"`
}

// NewTotal renders a count and amount with the sign carried in fortegn
func NewTotal(count int, amount money.Amount) Total {
	return Total{TotalAntall: count, TotalBelop: FormatBelop(amount), Fortegn: FortegnFor(amount)}
}

// FormatBelop renders the magnitude of an amount; the sign travels in a separate fortegn element
func FormatBelop(a money.Amount) string {
	return a.Abs().Decimal().StringFixed(2)
}

// NewOppdragsdata renders the live lines of one case
func NewOppdragsdata(c *ledger.Case, lines []ledger.Line, settings Settings) (Oppdragsdata, error) {
	data := Oppdragsdata{
		FagomradeKode:       settings.Fagomrade,
		FagsystemID:         c.Saksnummer,
		Utbetalingsfrekvens: utbetalingsfrekvens,
		OppdragGjelderID:    c.PayeeID,
		OppdragGjelderFom:   formatDate(datoOppdragGjelderFom),
		SaksbehandlerID:     settings.Saksbehandler,
		Enheter: []Enhet{{
			EnhetType: "BOS",
			Enhet:     settings.Enhet,
			EnhetFom:  formatDate(datoOppdragGjelderFom),
		}},
	}
	for _, l := range lines {
		sats, err := FormatSats(l.Amount)
		if err != nil {
			return Oppdragsdata{}, fmt.Errorf("line %s: %w", l.ID, err)
		}
		fradragTillegg := Tillegg
		if l.Amount < 0 {
			fradragTillegg = Fradrag
		}
		linje := Oppdragslinje{
			DelytelseID:        l.ExternalID(),
			KlassifikasjonKode: settings.Fagomrade,
			Vedtakperiode:      Vedtakperiode{Fom: formatDate(l.Period.From), Tom: formatDate(l.Period.To)},
			Sats:               sats,
			SatstypeKode:       typeSats,
			FradragTillegg:     fradragTillegg,
			BrukKjoreplan:      "N",
			UtbetalesTilID:     c.PayeeID,
		}
		if l.Attestant != "" {
			linje.Attestanter = []Attestant{{AttestantID: l.Attestant}}
		}
		switch l.Kind {
		case ledger.KindNew:
			if l.PrevID != "" {
				linje.RefDelytelseID = l.PrevSlotID
				linje.RefFagsystemID = c.Saksnummer
			}
		case ledger.KindChange:
			linje.KodeStatusLinje = KodeStatusOpphor
			linje.DatoStatusFom = formatDate(l.EffectiveFrom)
		case ledger.KindStop:
			linje.KodeStatusLinje = KodeStatusHvil
			linje.DatoStatusFom = formatDate(l.EffectiveFrom)
		case ledger.KindReactivate:
			linje.KodeStatusLinje = KodeStatusReaktiver
			linje.DatoStatusFom = formatDate(l.EffectiveFrom)
		}
		data.Linjer = append(data.Linjer, linje)
	}
	return data, nil
}

// EncodeGrensesnitt renders one interface reconciliation message
func EncodeGrensesnitt(m *Grensesnittsmelding) ([]byte, error) {
	return marshal(m)
}

// EncodeKonsistens renders one consistency reconciliation message
func EncodeKonsistens(m *Konsistensmelding) ([]byte, error) {
	return marshal(m)
}
