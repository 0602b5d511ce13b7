package avstemming

import (
	"fmt"

	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/oppdrag"
)

// detailsPerMessage caps the detail records of one DATA message
const detailsPerMessage = 70

// InterfaceMessages renders the START, DATA and AVSL messages of an interface reconciliation.
// The totals travel in the first DATA message; details are split over as many DATA messages as needed.
func InterfaceMessages(s *InterfaceSummary, runID string, settings oppdrag.Settings) []*oppdrag.Grensesnittsmelding {
	aksjon := func(t oppdrag.AksjonType) oppdrag.Aksjon {
		return oppdrag.NewAksjon(t, oppdrag.Grensesnittavstemming, s.From.String(), s.To.String(), runID, settings)
	}

	total := oppdrag.NewTotal(s.Total.Count, s.Total.Amount)
	first := &oppdrag.Grensesnittsmelding{
		Aksjon: aksjon(oppdrag.AksjonData),
		Total:  &total,
		Periode: &oppdrag.Periode{
			DatoAvstemtFom: s.From.Time().In(oppdrag.Oslo).Format(oppdrag.PeriodLayout),
			DatoAvstemtTom: s.To.Time().In(oppdrag.Oslo).Format(oppdrag.PeriodLayout),
		},
		Grunnlag: &oppdrag.Grunnlag{
			GodkjentAntall:  s.Confirmed.Count,
			GodkjentBelop:   oppdrag.FormatBelop(s.Confirmed.Amount),
			GodkjentFortegn: oppdrag.FortegnFor(s.Confirmed.Amount),
			VarselAntall:    s.Warning.Count,
			VarselBelop:     oppdrag.FormatBelop(s.Warning.Amount),
			VarselFortegn:   oppdrag.FortegnFor(s.Warning.Amount),
			AvvistAntall:    s.Rejected.Count,
			AvvistBelop:     oppdrag.FormatBelop(s.Rejected.Amount),
			AvvistFortegn:   oppdrag.FortegnFor(s.Rejected.Amount),
			ManglerAntall:   s.Missing.Count,
			ManglerBelop:    oppdrag.FormatBelop(s.Missing.Amount),
			ManglerFortegn:  oppdrag.FortegnFor(s.Missing.Amount),
		},
	}

	messages := []*oppdrag.Grensesnittsmelding{{Aksjon: aksjon(oppdrag.AksjonStart)}}
	data := first
	for i, d := range s.Details {
		if i > 0 && i%detailsPerMessage == 0 {
			messages = append(messages, data)
			data = &oppdrag.Grensesnittsmelding{Aksjon: aksjon(oppdrag.AksjonData)}
		}
		data.Detaljer = append(data.Detaljer, detalj(d))
	}
	messages = append(messages, data)
	return append(messages, &oppdrag.Grensesnittsmelding{Aksjon: aksjon(oppdrag.AksjonAvslutt)})
}

func detalj(d Detail) oppdrag.Detalj {
	out := oppdrag.Detalj{
		DetaljType:                   d.Type,
		Offnr:                        d.PayeeID,
		AvleverendeTransaksjonNokkel: d.Saksnummer,
		Tidspunkt:                    oppdrag.FormatTimestamp(d.Key.Time()),
	}
	if d.Receipt != nil {
		out.MeldingKode = d.Receipt.Code
		out.AlvorlighetsGrad = d.Receipt.Severity
		out.TekstMelding = d.Receipt.Message
	}
	return out
}

// ConsistencyMessages renders a consistency reconciliation: START, one DATA per case,
// a DATA carrying the totals, then AVSL.
func ConsistencyMessages(s *ConsistencySummary, runID string, settings oppdrag.Settings) ([]*oppdrag.Konsistensmelding, error) {
	from := ledger.KeyAt(s.LiveFrom).String()
	to := ledger.KeyAt(s.SnapshotTo).String()
	aksjon := func(t oppdrag.AksjonType) oppdrag.Aksjon {
		a := oppdrag.NewAksjon(t, oppdrag.Konsistensavstemming, from, to, runID, settings)
		a.TidspunktAvstemmingTom = oppdrag.FormatTimestamp(s.SnapshotTo)
		return a
	}

	messages := []*oppdrag.Konsistensmelding{{Aksjonsdata: aksjon(oppdrag.AksjonStart)}}
	for _, c := range s.Cases {
		data, err := oppdrag.NewOppdragsdata(c.Case, c.Lines, settings)
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", c.Case.Saksnummer, err)
		}
		messages = append(messages, &oppdrag.Konsistensmelding{
			Aksjonsdata:  aksjon(oppdrag.AksjonData),
			Oppdragsdata: []oppdrag.Oppdragsdata{data},
		})
	}
	total := oppdrag.NewTotal(s.Total.Count, s.Total.Amount)
	messages = append(messages,
		&oppdrag.Konsistensmelding{Aksjonsdata: aksjon(oppdrag.AksjonData), Totaldata: &total},
		&oppdrag.Konsistensmelding{Aksjonsdata: aksjon(oppdrag.AksjonAvslutt)},
	)
	return messages, nil
}
