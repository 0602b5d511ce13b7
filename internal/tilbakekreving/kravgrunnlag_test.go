package tilbakekreving

import (
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/utbetaling/internal/money"
)

const kravgrunnlagXML = `<?xml version="1.0" encoding="utf-8"?>
<urn:detaljertKravgrunnlagMelding xmlns:mmel="urn:no:nav:tilbakekreving:typer:v1"
                                  xmlns:urn="urn:no:nav:tilbakekreving:kravgrunnlag:detalj:v1">
    <urn:detaljertKravgrunnlag>
        <urn:kravgrunnlagId>298604</urn:kravgrunnlagId>
        <urn:vedtakId>436204</urn:vedtakId>
        <urn:kodeStatusKrav>NY</urn:kodeStatusKrav>
        <urn:kodeFagomraade>SUUFORE</urn:kodeFagomraade>
        <urn:fagsystemId>2461</urn:fagsystemId>
        <urn:kontrollfelt>2022-02-07-18.39.46.586953</urn:kontrollfelt>
        <urn:saksbehId>K231B433</urn:saksbehId>
        <urn:tilbakekrevingsPeriode>
            <urn:periode>
                <mmel:fom>2021-10-01</mmel:fom>
                <mmel:tom>2021-10-31</mmel:tom>
            </urn:periode>
            <urn:belopSkattMnd>4395.00</urn:belopSkattMnd>
            <urn:tilbakekrevingsBelop>
                <urn:kodeKlasse>KL_KODE_FEIL_INNT</urn:kodeKlasse>
                <urn:typeKlasse>FEIL</urn:typeKlasse>
                <urn:belopOpprUtbet>0.00</urn:belopOpprUtbet>
                <urn:belopNy>9989.00</urn:belopNy>
            </urn:tilbakekrevingsBelop>
            <urn:tilbakekrevingsBelop>
                <urn:kodeKlasse>SUUFORE</urn:kodeKlasse>
                <urn:typeKlasse>YTEL</urn:typeKlasse>
                <urn:belopOpprUtbet>9989.00</urn:belopOpprUtbet>
                <urn:belopNy>0.00</urn:belopNy>
            </urn:tilbakekrevingsBelop>
        </urn:tilbakekrevingsPeriode>
    </urn:detaljertKravgrunnlag>
</urn:detaljertKravgrunnlagMelding>`

var _ = Describe("DecodeKravgrunnlag", func() {
	It("reads the header and sums the ytelse lines per period", func() {
		k, err := DecodeKravgrunnlag([]byte(kravgrunnlagXML))
		Expect(err).NotTo(HaveOccurred())
		Expect(k.ID).To(Equal("298604"))
		Expect(k.VedtakID).To(Equal("436204"))
		Expect(k.Status).To(Equal("NY"))
		Expect(k.Saksnummer).To(Equal("2461"))
		Expect(k.Kontrollfelt).To(Equal("2022-02-07-18.39.46.586953"))
		Expect(k.Behandler).To(Equal("K231B433"))
		Expect(k.Perioder).To(Equal([]Grunnlagsperiode{{
			Period:            money.Month(2021, time.October),
			TidligereUtbetalt: 998900,
			NyUtbetaling:      0,
			BetaltSkatt:       439500,
			Skyld:             SkyldIkkeFordelt,
		}}))
	})

	It("feeds straight into Beregn once skyld is decided", func() {
		k, err := DecodeKravgrunnlag([]byte(kravgrunnlagXML))
		Expect(err).NotTo(HaveOccurred())
		decided, err := k.WithSkyld(SkyldBruker)
		Expect(err).NotTo(HaveOccurred())
		b, err := Beregn(decided)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Perioder[0].Netto).To(Equal(money.Amount(559400)))
	})

	DescribeTable("rejects broken messages",
		func(payload string) {
			_, err := DecodeKravgrunnlag([]byte(payload))
			Expect(errors.Is(err, ErrInvalidClaimBasis)).To(BeTrue())
		},
		Entry("not xml", "{"),
		Entry("wrong root", "<kravgrunnlag/>"),
		Entry("missing body", "<detaljertKravgrunnlagMelding/>"),
		Entry("bad date", strings.Replace(kravgrunnlagXML, "2021-10-31", "31.10.2021", 1)),
		Entry("bad amount", strings.Replace(kravgrunnlagXML, "<urn:belopSkattMnd>4395.00", "<urn:belopSkattMnd>lots", 1)),
		Entry("unknown klasse", strings.Replace(kravgrunnlagXML, "<urn:typeKlasse>FEIL", "<urn:typeKlasse>SKAT", 1)),
		Entry("no ytelse line", strings.Replace(kravgrunnlagXML, "<urn:typeKlasse>YTEL", "<urn:typeKlasse>FEIL", 1)),
	)
})
