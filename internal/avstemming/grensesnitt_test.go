package avstemming

import (
	"errors"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/money"
	"github.com/zombor/utbetaling/internal/oppdrag"
)

var _ = Describe("BuildInterface", func() {
	var (
		cases    map[string]*ledger.Case
		payments []*ledger.Payment
		from, to ledger.Key
		summary  *InterfaceSummary
		err      error
	)

	BeforeEach(func() {
		cases = map[string]*ledger.Case{
			"c1": {ID: "c1", Saksnummer: "2021", PayeeID: "111"},
			"c2": {ID: "c2", Saksnummer: "2022", PayeeID: "222"},
		}
		from = ledger.KeyFromNanos(100)
		to = ledger.KeyFromNanos(200)
		payments = []*ledger.Payment{
			payment("p1", "c1", 110, 1000, receipt(ledger.StatusRejected, "08")),
			payment("p2", "c1", 120, 2000, receipt(ledger.StatusConfirmed, "00")),
			payment("p3", "c2", 130, 4000, nil),
		}
	})

	JustBeforeEach(func() {
		summary, err = BuildInterface(from, to, payments, cases)
	})

	When("one payment is rejected, one confirmed and one unanswered", func() {
		It("counts one of each", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Rejected).To(Equal(Partition{Count: 1, Amount: 1000}))
			Expect(summary.Confirmed).To(Equal(Partition{Count: 1, Amount: 2000}))
			Expect(summary.Missing).To(Equal(Partition{Count: 1, Amount: 4000}))
			Expect(summary.Warning).To(Equal(Partition{}))
			Expect(summary.Total).To(Equal(Partition{Count: 3, Amount: 7000}))
		})

		It("emits exactly the rejected and missing details", func() {
			Expect(summary.Details).To(HaveLen(2))
			Expect(summary.Details[0].Type).To(Equal(oppdrag.DetaljAvvist))
			Expect(summary.Details[0].Saksnummer).To(Equal("2021"))
			Expect(summary.Details[1].Type).To(Equal(oppdrag.DetaljMangler))
			Expect(summary.Details[1].PayeeID).To(Equal("222"))
		})

		It("lists every covered payment", func() {
			Expect(summary.PaymentIDs).To(Equal([]string{"p1", "p2", "p3"}))
		})
	})

	When("a payment was confirmed with a warning", func() {
		BeforeEach(func() {
			payments = []*ledger.Payment{payment("p1", "c1", 150, 500, receipt(ledger.StatusConfirmedWithWarning, "04"))}
		})

		It("gets a warning detail", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Warning.Count).To(Equal(1))
			Expect(summary.Details).To(ConsistOf(HaveField("Type", oppdrag.DetaljVarsel)))
		})
	})

	When("the window is empty", func() {
		BeforeEach(func() {
			payments = nil
		})

		It("produces zero totals", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Total).To(Equal(Partition{}))
			Expect(summary.Details).To(BeEmpty())
		})
	})

	When("to is before from", func() {
		BeforeEach(func() {
			from, to = to, from
		})

		It("rejects the window", func() {
			Expect(errors.Is(err, ErrInvalidWindow)).To(BeTrue())
		})
	})

	When("a payment lies outside the window", func() {
		BeforeEach(func() {
			payments = append(payments, payment("p4", "c1", 201, 1, nil))
		})

		It("rejects the input", func() {
			Expect(errors.Is(err, ErrInvalidWindow)).To(BeTrue())
		})
	})

	When("the case of a payment is unknown", func() {
		BeforeEach(func() {
			payments = append(payments, payment("p4", "c9", 150, 1, nil))
		})

		It("returns not found", func() {
			Expect(errors.Is(err, ledger.ErrNotFound)).To(BeTrue())
		})
	})

	When("a receipt carries a status no branch handles", func() {
		BeforeEach(func() {
			payments = []*ledger.Payment{payment("p1", "c1", 150, 500, &ledger.Receipt{Status: ledger.ReceiptStatus(99)})}
		})

		It("fails the sanity check with an invariant error", func() {
			var invariantErr *InvariantError
			Expect(errors.As(err, &invariantErr)).To(BeTrue())
			Expect(invariantErr.Check).To(Equal("total count"))
			Expect(errors.Is(err, ErrInvariantViolation)).To(BeTrue())
		})
	})

	Describe("arithmetic over random receipt mixes", func() {
		It("always balances counts, amounts and details", func() {
			rng := rand.New(rand.NewSource(7))
			statuses := []*ledger.Receipt{
				nil,
				receipt(ledger.StatusConfirmed, "00"),
				receipt(ledger.StatusConfirmedWithWarning, "04"),
				receipt(ledger.StatusRejected, "08"),
			}
			for run := 0; run < 100; run++ {
				n := rng.Intn(40)
				var ps []*ledger.Payment
				var want money.Amount
				for i := 0; i < n; i++ {
					amount := money.Amount(rng.Int63n(2_000_000) - 500_000)
					want += amount
					ps = append(ps, payment(
						"p"+string(rune('a'+i%26))+string(rune('a'+i/26)),
						"c1",
						int64(100+i),
						amount,
						statuses[rng.Intn(len(statuses))],
					))
				}

				s, buildErr := BuildInterface(ledger.KeyFromNanos(100), ledger.KeyFromNanos(200), ps, cases)
				Expect(buildErr).NotTo(HaveOccurred())
				Expect(s.Total.Count).To(Equal(n))
				Expect(s.Total.Amount).To(Equal(want))
				Expect(s.Confirmed.Count + s.Warning.Count + s.Rejected.Count + s.Missing.Count).To(Equal(n))
				Expect(s.Rejected.Count + s.Warning.Count + s.Missing.Count).To(Equal(len(s.Details)))
			}
		})
	})
})
