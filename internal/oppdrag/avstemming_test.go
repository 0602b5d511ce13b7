package oppdrag

import (
	"encoding/xml"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/money"
)

var _ = Describe("reconciliation messages", func() {
	var settings Settings

	BeforeEach(func() {
		settings = DefaultSettings()
	})

	Describe("NewAksjon", func() {
		It("fills the fixed envelope fields", func() {
			a := NewAksjon(AksjonStart, Grensesnittavstemming, "1", "2", "run-1", settings)
			Expect(a.KildeType).To(Equal("AVLEV"))
			Expect(a.AvleverendeKomponentKode).To(Equal("SU"))
			Expect(a.MottakendeKomponentKode).To(Equal("OS"))
			Expect(a.UnderkomponentKode).To(Equal("SUUFORE"))
			Expect(a.NokkelFom).To(Equal("1"))
			Expect(a.NokkelTom).To(Equal("2"))
			Expect(a.AvleverendeAvstemmingID).To(Equal("run-1"))
		})
	})

	Describe("NewTotal", func() {
		It("carries the sign separately", func() {
			Expect(NewTotal(2, -12345)).To(Equal(Total{TotalAntall: 2, TotalBelop: "123.45", Fortegn: FortegnFradrag}))
			Expect(NewTotal(0, 0)).To(Equal(Total{TotalAntall: 0, TotalBelop: "0.00", Fortegn: FortegnTillegg}))
		})
	})

	Describe("EncodeGrensesnitt", func() {
		It("renders the avstemmingsdata root and omits absent blocks", func() {
			data, err := EncodeGrensesnitt(&Grensesnittsmelding{
				Aksjon: NewAksjon(AksjonAvslutt, Grensesnittavstemming, "1", "2", "run-1", settings),
			})
			Expect(err).NotTo(HaveOccurred())
			s := string(data)
			Expect(s).To(HavePrefix(xml.Header))
			Expect(s).To(ContainSubstring("<avstemmingsdata>"))
			Expect(s).To(ContainSubstring("<aksjonType>AVSL</aksjonType>"))
			Expect(s).To(ContainSubstring("<avstemmingType>GRSN</avstemmingType>"))
			Expect(s).NotTo(ContainSubstring("<total>"))
			Expect(s).NotTo(ContainSubstring("<detalj>"))
			Expect(s).NotTo(ContainSubstring("tidspunktAvstemmingTom"))
		})
	})

	Describe("NewOppdragsdata", func() {
		It("renders live lines with their status", func() {
			sak := &ledger.Case{ID: "c", Saksnummer: "2021", PayeeID: "123"}
			lines := []ledger.Line{
				{ID: "a", SlotID: "a", CaseID: "c", Kind: ledger.KindNew, Period: money.Month(2021, 1), Amount: 500, Attestant: "Z1"},
				{ID: "b", SlotID: "a", CaseID: "c", Kind: ledger.KindStop, Period: money.Month(2021, 1), EffectiveFrom: money.Date(2021, 1, 15), Amount: 500, PrevID: "a", PrevSlotID: "a"},
			}
			data, err := NewOppdragsdata(sak, lines, settings)
			Expect(err).NotTo(HaveOccurred())
			Expect(data.FagsystemID).To(Equal("2021"))
			Expect(data.Linjer).To(HaveLen(2))
			Expect(data.Linjer[0].Attestanter).To(Equal([]Attestant{{AttestantID: "Z1"}}))
			Expect(data.Linjer[1].KodeStatusLinje).To(Equal(KodeStatusHvil))
			Expect(data.Linjer[1].DatoStatusFom).To(Equal("2021-01-15"))
			Expect(data.Linjer[1].DelytelseID).To(Equal("a"))

			encoded, err := EncodeKonsistens(&Konsistensmelding{
				Aksjonsdata:  NewAksjon(AksjonData, Konsistensavstemming, "1", "2", "run", settings),
				Oppdragsdata: []Oppdragsdata{data},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Count(string(encoded), "<oppdragslinjeListe>")).To(Equal(2))
		})
	})
})
