package ledger

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/utbetaling/internal/money"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		db     *BoltDB
		sak    *Case
	)

	newPayment := func(id string, nanos int64, lines ...Line) *Payment {
		return &Payment{ID: id, CaseID: sak.ID, Key: KeyAt(time.Unix(0, nanos)), Lines: lines}
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		db, err = NewBoltDB(filepath.Join(tmpDir, "ledger.db"))
		Expect(err).NotTo(HaveOccurred())

		sak = &Case{ID: "case-1", Saksnummer: "2021", PayeeID: "12345678910", CreatedAt: time.Unix(1, 0).UTC()}
		Expect(db.SaveCase(sak)).To(Succeed())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("cases", func() {
		It("stores and lists cases", func() {
			got, err := db.GetCase("case-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Saksnummer).To(Equal("2021"))

			cases, err := db.ListCases()
			Expect(err).NotTo(HaveOccurred())
			Expect(cases).To(HaveLen(1))
		})

		It("returns not found for unknown cases", func() {
			_, err := db.GetCase("nope")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("AppendPayment", func() {
		var (
			first *Payment
			err   error
		)

		BeforeEach(func() {
			first = newPayment("p1", 100, Line{ID: "l1", SlotID: "l1", CaseID: "case-1", Kind: KindNew, Period: money.Month(2020, 1), Amount: 500})
		})

		JustBeforeEach(func() {
			err = db.AppendPayment(first, "")
		})

		When("the case has no payments", func() {
			It("stores the payment", func() {
				Expect(err).NotTo(HaveOccurred())
				got, getErr := db.GetPayment("p1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(got.Lines).To(HaveLen(1))
				Expect(got.Lines[0].Period).To(Equal(money.Month(2020, 1)))
				Expect(got.Key).To(Equal(first.Key))
			})

			It("indexes the payment by key", func() {
				got, getErr := db.FindPaymentByKey(first.Key)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(got.ID).To(Equal("p1"))
			})
		})

		When("the expected head is stale", func() {
			It("rejects the second writer", func() {
				Expect(err).NotTo(HaveOccurred())
				second := newPayment("p2", 200, Line{ID: "l2", SlotID: "l2", CaseID: "case-1", Kind: KindNew, PrevID: "l1"})
				Expect(db.AppendPayment(second, "l1")).To(Succeed())

				racer := newPayment("p3", 300, Line{ID: "l3", SlotID: "l3", CaseID: "case-1", Kind: KindNew, PrevID: "l1"})
				appendErr := db.AppendPayment(racer, "l1")
				Expect(errors.Is(appendErr, ErrConcurrentAppend)).To(BeTrue())

				_, getErr := db.GetPayment("p3")
				Expect(errors.Is(getErr, ErrNotFound)).To(BeTrue())
			})
		})

		When("the case does not exist", func() {
			BeforeEach(func() {
				first.CaseID = "ghost"
			})

			It("returns not found", func() {
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})
	})

	Describe("listing payments", func() {
		BeforeEach(func() {
			other := &Case{ID: "case-2"}
			Expect(db.SaveCase(other)).To(Succeed())

			Expect(db.AppendPayment(newPayment("p1", 100, Line{ID: "a", SlotID: "a", CaseID: "case-1", Kind: KindNew}), "")).To(Succeed())
			Expect(db.AppendPayment(&Payment{ID: "q1", CaseID: "case-2", Key: KeyAt(time.Unix(0, 150)), Lines: []Line{{ID: "x", SlotID: "x", CaseID: "case-2", Kind: KindNew}}}, "")).To(Succeed())
			Expect(db.AppendPayment(newPayment("p2", 200, Line{ID: "b", SlotID: "b", CaseID: "case-1", Kind: KindNew, PrevID: "a"}), "a")).To(Succeed())
			Expect(db.AppendPayment(newPayment("p3", 300, Line{ID: "c", SlotID: "c", CaseID: "case-1", Kind: KindNew, PrevID: "b"}), "b")).To(Succeed())
		})

		It("lists a case's payments in append order", func() {
			payments, err := db.ListPaymentsForCase("case-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(payments).To(HaveLen(3))
			Expect(payments[0].ID).To(Equal("p1"))
			Expect(payments[2].ID).To(Equal("p3"))
		})

		It("returns an empty list for a case without payments", func() {
			payments, err := db.ListPaymentsForCase("case-3")
			Expect(err).NotTo(HaveOccurred())
			Expect(payments).To(BeEmpty())
		})

		It("lists payments in an inclusive key window across cases", func() {
			payments, err := db.ListPaymentsByKey(KeyAt(time.Unix(0, 150)), KeyAt(time.Unix(0, 200)))
			Expect(err).NotTo(HaveOccurred())
			Expect(payments).To(HaveLen(2))
			Expect(payments[0].ID).To(Equal("q1"))
			Expect(payments[1].ID).To(Equal("p2"))
		})
	})

	Describe("receipts and reconciliation marks", func() {
		BeforeEach(func() {
			Expect(db.AppendPayment(newPayment("p1", 100, Line{ID: "a", SlotID: "a", CaseID: "case-1", Kind: KindNew}), "")).To(Succeed())
		})

		It("attaches a receipt", func() {
			receipt := &Receipt{Status: StatusConfirmedWithWarning, Severity: "04", Raw: "<Oppdrag/>"}
			Expect(db.AttachReceipt("p1", receipt)).To(Succeed())

			got, err := db.GetPayment("p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Outstanding()).To(BeFalse())
			Expect(got.Receipt.Status).To(Equal(StatusConfirmedWithWarning))
		})

		It("marks payments as reconciled", func() {
			Expect(db.MarkReconciled([]string{"p1"}, "run-1")).To(Succeed())
			got, err := db.GetPayment("p1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ReconciledBy).To(Equal("run-1"))
		})

		It("fails for unknown payments", func() {
			err := db.AttachReceipt("nope", &Receipt{Status: StatusConfirmed})
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})
})
