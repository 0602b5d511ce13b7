// Package tilbakekreving computes how much of an over-payment is recovered per period,
// from a claim basis (kravgrunnlag) supplied by the mainframe.
package tilbakekreving

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/utbetaling/internal/money"
)

// ErrInvalidClaimBasis is returned when a kravgrunnlag cannot be computed on
var ErrInvalidClaimBasis = errors.New("invalid claim basis")

// Skyld is the fault classification of an over-paid period
type Skyld int

const (
	SkyldBruker Skyld = iota + 1
	SkyldNav
	SkyldIkkeFordelt
)

func (s Skyld) String() string {
	switch s {
	case SkyldBruker:
		return "BRUKER"
	case SkyldNav:
		return "NAV"
	case SkyldIkkeFordelt:
		return "IKKE_FORDELT"
	}
	return fmt.Sprintf("Skyld(%d)", int(s))
}

// Valid reports whether s is a known classification
func (s Skyld) Valid() bool {
	return s >= SkyldBruker && s <= SkyldIkkeFordelt
}

// MarshalText implements encoding.TextMarshaler
func (s Skyld) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown skyld %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Skyld) UnmarshalText(text []byte) error {
	for _, candidate := range []Skyld{SkyldBruker, SkyldNav, SkyldIkkeFordelt} {
		if strings.EqualFold(string(text), candidate.String()) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown skyld %q", string(text))
}

// Resultat says whether a period is recovered
type Resultat string

const (
	ResultatFull  Resultat = "FULL_TILBAKEKREV"
	ResultatIngen Resultat = "INGEN_TILBAKEKREV"
)

// Grunnlagsperiode is one period of a claim basis
type Grunnlagsperiode struct {
	Period money.Period `json:"period"`
	// TidligereUtbetalt is the gross amount paid out before the revision
	TidligereUtbetalt money.Amount `json:"tidligere_utbetalt"`
	// NyUtbetaling is the gross amount the revision says should have been paid
	NyUtbetaling money.Amount `json:"ny_utbetaling"`
	// BetaltSkatt is the tax withheld from the period's payment
	BetaltSkatt money.Amount `json:"betalt_skatt"`
	Skyld       Skyld        `json:"skyld"`
}

// Kravgrunnlag is the claim basis of one recovery
type Kravgrunnlag struct {
	ID           string             `json:"id"`
	VedtakID     string             `json:"vedtak_id"`
	Status       string             `json:"status"`
	Saksnummer   string             `json:"saksnummer"`
	Kontrollfelt string             `json:"kontrollfelt"`
	Behandler    string             `json:"behandler"`
	Perioder     []Grunnlagsperiode `json:"perioder"`
}

// WithSkyld returns a copy with the fault classification applied to the given periods,
// or to every period when none are given
func (k *Kravgrunnlag) WithSkyld(skyld Skyld, periods ...money.Period) (*Kravgrunnlag, error) {
	if !skyld.Valid() {
		return nil, fmt.Errorf("%w: unknown skyld %d", ErrInvalidClaimBasis, int(skyld))
	}
	out := *k
	out.Perioder = append([]Grunnlagsperiode(nil), k.Perioder...)
	if len(periods) == 0 {
		for i := range out.Perioder {
			out.Perioder[i].Skyld = skyld
		}
		return &out, nil
	}
	for _, p := range periods {
		found := false
		for i := range out.Perioder {
			if out.Perioder[i].Period.From.Equal(p.From) && out.Perioder[i].Period.To.Equal(p.To) {
				out.Perioder[i].Skyld = skyld
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: period %s is not in kravgrunnlag %s", ErrInvalidClaimBasis, p, k.ID)
		}
	}
	return &out, nil
}

// Periodeberegning is the outcome for one period
type Periodeberegning struct {
	Period money.Period `json:"period"`
	// Brutto is the gross over-payment
	Brutto money.Amount `json:"brutto"`
	// Skatt is the share of the withheld tax attributable to Brutto
	Skatt money.Amount `json:"skatt"`
	// Netto is Brutto minus Skatt
	Netto             money.Amount `json:"netto"`
	SkalTilbakekreves money.Amount `json:"skal_tilbakekreves"`
	IkkeTilbakekreves money.Amount `json:"ikke_tilbakekreves"`
	Skyld             Skyld        `json:"skyld"`
	Resultat          Resultat     `json:"resultat"`
}

// Beregning is the per-period recovery of one kravgrunnlag, ordered by period
type Beregning struct {
	KravgrunnlagID string             `json:"kravgrunnlag_id"`
	VedtakID       string             `json:"vedtak_id"`
	Kontrollfelt   string             `json:"kontrollfelt"`
	Perioder       []Periodeberegning `json:"perioder"`
}

// SumTilbakekreves is the gross amount recovered over all periods
func (b *Beregning) SumTilbakekreves() money.Amount {
	var total money.Amount
	for _, p := range b.Perioder {
		total += p.SkalTilbakekreves
	}
	return total
}

// Beregn computes the recovery of every period. Any invalid period fails the whole computation.
func Beregn(k *Kravgrunnlag) (*Beregning, error) {
	if err := validate(k); err != nil {
		return nil, err
	}

	b := &Beregning{KravgrunnlagID: k.ID, VedtakID: k.VedtakID, Kontrollfelt: k.Kontrollfelt}
	for _, p := range k.Perioder {
		brutto := money.Max(p.TidligereUtbetalt-p.NyUtbetaling, 0)
		skatt := skattFor(brutto, p.TidligereUtbetalt, p.BetaltSkatt)
		pb := Periodeberegning{
			Period: p.Period,
			Brutto: brutto,
			Skatt:  skatt,
			Netto:  brutto - skatt,
			Skyld:  p.Skyld,
		}
		switch p.Skyld {
		case SkyldBruker:
			pb.Resultat = ResultatFull
			pb.SkalTilbakekreves = brutto
		case SkyldNav, SkyldIkkeFordelt:
			pb.Resultat = ResultatIngen
			pb.IkkeTilbakekreves = brutto
		}
		b.Perioder = append(b.Perioder, pb)
	}
	return b, nil
}

var hundred = decimal.NewFromInt(100)

// skattFor is brutto × betaltSkatt / tidligere, truncated to whole kroner and capped at betaltSkatt
func skattFor(brutto, tidligere, betaltSkatt money.Amount) money.Amount {
	if brutto == 0 || tidligere == 0 || betaltSkatt == 0 {
		return 0
	}
	share := decimal.NewFromInt(int64(brutto)).
		Mul(decimal.NewFromInt(int64(betaltSkatt))).
		Div(decimal.NewFromInt(int64(tidligere)))
	kroner := share.Div(hundred).Truncate(0).Mul(hundred)
	return money.Min(money.Amount(kroner.IntPart()), betaltSkatt)
}

func validate(k *Kravgrunnlag) error {
	if k == nil || len(k.Perioder) == 0 {
		return fmt.Errorf("%w: no periods", ErrInvalidClaimBasis)
	}
	periods := make([]money.Period, len(k.Perioder))
	for i, p := range k.Perioder {
		periods[i] = p.Period
		if p.TidligereUtbetalt < 0 || p.NyUtbetaling < 0 || p.BetaltSkatt < 0 {
			return fmt.Errorf("%w: negative amount in %s", ErrInvalidClaimBasis, p.Period)
		}
		if p.BetaltSkatt > p.TidligereUtbetalt {
			return fmt.Errorf("%w: tax %s exceeds gross %s in %s", ErrInvalidClaimBasis, p.BetaltSkatt, p.TidligereUtbetalt, p.Period)
		}
		if !p.Skyld.Valid() {
			return fmt.Errorf("%w: unknown skyld %d in %s", ErrInvalidClaimBasis, int(p.Skyld), p.Period)
		}
	}
	if err := money.ValidateSchedule(periods); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidClaimBasis, err)
	}
	return nil
}
