package ledger

import (
	"errors"
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/utbetaling/internal/money"
)

var _ = Describe("History", func() {
	var (
		ids     *sequenceIDGenerator
		clock   *mockTimeSource
		builder *Builder
		sak     *Case
	)

	BeforeEach(func() {
		ids = &sequenceIDGenerator{prefix: "line"}
		clock = &mockTimeSource{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
		builder = NewBuilderWithDeps(ids, clock, NewKeyGenerator(clock))
		sak = &Case{ID: "case-1"}
	})

	Describe("replaying a chain", func() {
		var (
			payments []*Payment
			history  *History
		)

		BeforeEach(func() {
			first, err := builder.AppendLines(sak, schedule(month(time.January, 100), month(time.February, 200)), nil, "A")
			Expect(err).NotTo(HaveOccurred())
			h, err := NewHistory(sak.ID, []*Payment{first})
			Expect(err).NotTo(HaveOccurred())
			stop, err := builder.Supersede(sak, h, []Change{{Kind: KindStop, SlotID: first.Lines[1].SlotID, EffectiveFrom: money.Date(2020, 2, 10)}}, "B")
			Expect(err).NotTo(HaveOccurred())
			last := stop.Last()
			more, err := builder.AppendLines(sak, schedule(month(time.March, 300)), &last, "C")
			Expect(err).NotTo(HaveOccurred())
			payments = []*Payment{first, stop, more}

			history, err = NewHistory(sak.ID, payments)
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps every line in append order", func() {
			Expect(history.Lines()).To(HaveLen(4))
			last, ok := history.Last()
			Expect(ok).To(BeTrue())
			Expect(last.Period).To(Equal(money.Month(2020, time.March)))
		})

		It("tracks slots in opening order", func() {
			Expect(history.Slots()).To(Equal([]string{
				payments[0].Lines[0].SlotID,
				payments[0].Lines[1].SlotID,
				payments[2].Lines[0].SlotID,
			}))
		})

		It("resolves the latest line of a slot", func() {
			latest, ok := history.Latest(payments[0].Lines[1].SlotID)
			Expect(ok).To(BeTrue())
			Expect(latest.Kind).To(Equal(KindStop))
		})

		It("walks a slot back to its new line", func() {
			lines := history.SlotLines(payments[0].Lines[1].SlotID)
			Expect(lines).To(HaveLen(2))
			Expect(lines[0].Kind).To(Equal(KindNew))
			Expect(lines[1].Kind).To(Equal(KindStop))
		})

		It("references the stop's slot from the next new line", func() {
			Expect(payments[2].Lines[0].PrevID).To(Equal(payments[1].Lines[0].ID))
			Expect(payments[2].Lines[0].PrevSlotID).To(Equal(payments[0].Lines[1].SlotID))
		})

		It("walks the whole chain to the root", func() {
			chain, err := history.Walk(payments[2].Lines[0].ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(chain).To(HaveLen(4))
			Expect(chain[3].PrevID).To(BeEmpty())
		})
	})

	Describe("rejecting broken chains", func() {
		It("rejects a change line without a back-reference", func() {
			broken := &Payment{ID: "p", CaseID: "case-1", Lines: []Line{
				{ID: "a", SlotID: "a", CaseID: "case-1", Kind: KindNew},
				{ID: "b", SlotID: "a", CaseID: "case-1", Kind: KindStop},
			}}
			_, err := NewHistory("case-1", []*Payment{broken})
			Expect(errors.Is(err, ErrDanglingReference)).To(BeTrue())
		})

		It("rejects a reference to an unknown line", func() {
			broken := &Payment{ID: "p", CaseID: "case-1", Lines: []Line{
				{ID: "a", SlotID: "a", CaseID: "case-1", Kind: KindNew, PrevID: "ghost"},
			}}
			_, err := NewHistory("case-1", []*Payment{broken})
			Expect(errors.Is(err, ErrDanglingReference)).To(BeTrue())
		})

		It("rejects a line from another case", func() {
			broken := &Payment{ID: "p", CaseID: "case-1", Lines: []Line{
				{ID: "a", SlotID: "a", CaseID: "case-2", Kind: KindNew},
			}}
			_, err := NewHistory("case-1", []*Payment{broken})
			Expect(errors.Is(err, ErrDanglingReference)).To(BeTrue())
		})

		It("rejects a change that skips the slot's latest line", func() {
			broken := &Payment{ID: "p", CaseID: "case-1", Lines: []Line{
				{ID: "a", SlotID: "a", CaseID: "case-1", Kind: KindNew},
				{ID: "b", SlotID: "a", CaseID: "case-1", Kind: KindStop, PrevID: "a"},
				{ID: "c", SlotID: "a", CaseID: "case-1", Kind: KindChange, PrevID: "a"},
			}}
			_, err := NewHistory("case-1", []*Payment{broken})
			Expect(errors.Is(err, ErrDanglingReference)).To(BeTrue())
		})

		It("rejects a reactivation of a new line", func() {
			broken := &Payment{ID: "p", CaseID: "case-1", Lines: []Line{
				{ID: "a", SlotID: "a", CaseID: "case-1", Kind: KindNew},
				{ID: "b", SlotID: "a", CaseID: "case-1", Kind: KindReactivate, PrevID: "a"},
			}}
			_, err := NewHistory("case-1", []*Payment{broken})
			Expect(errors.Is(err, ErrInvalidTransition)).To(BeTrue())
		})
	})

	Describe("chain integrity over random operation sequences", func() {
		It("always resolves back-references to earlier lines of the same case", func() {
			rng := rand.New(rand.NewSource(42))
			for run := 0; run < 50; run++ {
				var payments []*Payment
				next := money.Date(2020, 1, 1)
				for step := 0; step < 12; step++ {
					h, err := NewHistory(sak.ID, payments)
					Expect(err).NotTo(HaveOccurred())
					clock.now = clock.now.Add(time.Minute)

					var p *Payment
					slots := h.Slots()
					if len(slots) > 0 && rng.Intn(2) == 0 {
						slot := slots[rng.Intn(len(slots))]
						latest, _ := h.Latest(slot)
						kinds := []Kind{KindChange, KindStop, KindReactivate}
						kind := kinds[rng.Intn(len(kinds))]
						if !CanFollow(latest.Kind, kind) {
							kind = KindStop
						}
						p, err = builder.Supersede(sak, h, []Change{{Kind: kind, SlotID: slot, EffectiveFrom: latest.Period.From}}, "x")
					} else {
						var prior *Line
						if last, ok := h.Last(); ok {
							prior = &last
						}
						n := 1 + rng.Intn(3)
						var entries []money.PeriodAmount
						for i := 0; i < n; i++ {
							entries = append(entries, money.PeriodAmount{Period: money.Month(next.Year(), next.Month()), Amount: money.Amount(rng.Intn(10000))})
							next = next.AddDate(0, 1, 0)
						}
						p, err = builder.AppendLines(sak, entries, prior, "x")
					}
					Expect(err).NotTo(HaveOccurred())
					payments = append(payments, p)
				}

				h, err := NewHistory(sak.ID, payments)
				Expect(err).NotTo(HaveOccurred())
				seen := map[string]bool{}
				for _, l := range h.Lines() {
					if l.Kind != KindNew {
						Expect(l.PrevID).NotTo(BeEmpty())
					}
					if l.PrevID != "" {
						Expect(seen).To(HaveKey(l.PrevID))
						ref, ok := h.Line(l.PrevID)
						Expect(ok).To(BeTrue())
						Expect(ref.CaseID).To(Equal(l.CaseID))
					}
					seen[l.ID] = true
					chain, err := h.Walk(l.ID)
					Expect(err).NotTo(HaveOccurred())
					Expect(len(chain)).To(BeNumerically("<=", len(h.Lines())))
				}
			}
		})
	})
})
