package tilbakekreving

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/zombor/utbetaling/internal/money"
)

const (
	typeKlasseYtelse        = "YTEL"
	typeKlasseFeilutbetalt  = "FEIL"
	kravgrunnlagMeldingRoot = "detaljertKravgrunnlagMelding"
)

type kravgrunnlagMelding struct {
	XMLName      xml.Name               `xml:"detaljertKravgrunnlagMelding"`
	Kravgrunnlag *detaljertKravgrunnlag `xml:"detaljertKravgrunnlag"`
}

type detaljertKravgrunnlag struct {
	KravgrunnlagID string                `xml:"kravgrunnlagId"`
	VedtakID       string                `xml:"vedtakId"`
	KodeStatusKrav string                `xml:"kodeStatusKrav"`
	FagsystemID    string                `xml:"fagsystemId"`
	Kontrollfelt   string                `xml:"kontrollfelt"`
	SaksbehID      string                `xml:"saksbehId"`
	Perioder       []kravgrunnlagPeriode `xml:"tilbakekrevingsPeriode"`
}

type kravgrunnlagPeriode struct {
	Periode struct {
		Fom string `xml:"fom"`
		Tom string `xml:"tom"`
	} `xml:"periode"`
	BelopSkattMnd string                 `xml:"belopSkattMnd"`
	Belop         []tilbakekrevingsBelop `xml:"tilbakekrevingsBelop"`
}

type tilbakekrevingsBelop struct {
	KodeKlasse     string `xml:"kodeKlasse"`
	TypeKlasse     string `xml:"typeKlasse"`
	BelopOpprUtbet string `xml:"belopOpprUtbet"`
	BelopNy        string `xml:"belopNy"`
}

// DecodeKravgrunnlag parses a detaljertKravgrunnlag message. The ytelse lines of each period
// give the previously paid and new gross amounts; feilutbetaling lines are informational.
// Every period starts out as SkyldIkkeFordelt until a decision is applied with WithSkyld.
func DecodeKravgrunnlag(data []byte) (*Kravgrunnlag, error) {
	var melding kravgrunnlagMelding
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&melding); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrInvalidClaimBasis, kravgrunnlagMeldingRoot, err)
	}
	d := melding.Kravgrunnlag
	if d == nil {
		return nil, fmt.Errorf("%w: missing detaljertKravgrunnlag", ErrInvalidClaimBasis)
	}

	k := &Kravgrunnlag{
		ID:           d.KravgrunnlagID,
		VedtakID:     d.VedtakID,
		Status:       d.KodeStatusKrav,
		Saksnummer:   d.FagsystemID,
		Kontrollfelt: d.Kontrollfelt,
		Behandler:    d.SaksbehID,
	}
	for _, p := range d.Perioder {
		gp, err := decodePeriode(p)
		if err != nil {
			return nil, fmt.Errorf("%w: kravgrunnlag %s: %v", ErrInvalidClaimBasis, d.KravgrunnlagID, err)
		}
		k.Perioder = append(k.Perioder, gp)
	}
	return k, nil
}

func decodePeriode(p kravgrunnlagPeriode) (Grunnlagsperiode, error) {
	from, err := money.ParseDate(p.Periode.Fom)
	if err != nil {
		return Grunnlagsperiode{}, err
	}
	to, err := money.ParseDate(p.Periode.Tom)
	if err != nil {
		return Grunnlagsperiode{}, err
	}
	period, err := money.NewPeriod(from, to)
	if err != nil {
		return Grunnlagsperiode{}, err
	}
	skatt, err := money.ParseDecimal(p.BelopSkattMnd)
	if err != nil {
		return Grunnlagsperiode{}, fmt.Errorf("belopSkattMnd: %w", err)
	}

	gp := Grunnlagsperiode{Period: period, BetaltSkatt: skatt, Skyld: SkyldIkkeFordelt}
	var ytelser int
	for _, b := range p.Belop {
		switch b.TypeKlasse {
		case typeKlasseYtelse:
			ytelser++
			tidligere, err := money.ParseDecimal(b.BelopOpprUtbet)
			if err != nil {
				return Grunnlagsperiode{}, fmt.Errorf("belopOpprUtbet: %w", err)
			}
			ny, err := money.ParseDecimal(b.BelopNy)
			if err != nil {
				return Grunnlagsperiode{}, fmt.Errorf("belopNy: %w", err)
			}
			gp.TidligereUtbetalt += tidligere
			gp.NyUtbetaling += ny
		case typeKlasseFeilutbetalt:
		default:
			return Grunnlagsperiode{}, fmt.Errorf("unknown typeKlasse %q for %s", b.TypeKlasse, b.KodeKlasse)
		}
	}
	if ytelser == 0 {
		return Grunnlagsperiode{}, fmt.Errorf("period %s has no %s line", period, typeKlasseYtelse)
	}
	return gp, nil
}
