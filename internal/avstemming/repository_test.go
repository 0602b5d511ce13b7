package avstemming

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/utbetaling/internal/ledger"
	"github.com/zombor/utbetaling/internal/oppdrag"
)

var _ = Describe("SQLiteRunRepository", func() {
	var (
		ctx  context.Context
		db   *sql.DB
		repo *SQLiteRunRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = InitDB(filepath.Join(GinkgoT().TempDir(), "runs.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
		repo = NewSQLiteRunRepository(db)
	})

	run := func(id string, typ oppdrag.AvstemmingType, to int64, created time.Time) *Run {
		return &Run{
			ID:         id,
			Type:       typ,
			From:       ledger.KeyFromNanos(1),
			To:         ledger.KeyFromNanos(to),
			Count:      3,
			Amount:     -1250,
			Messages:   3,
			ArchiveRef: "avstemming/" + id,
			CreatedAt:  created,
		}
	}

	It("returns ErrNoRuns before anything is saved", func() {
		_, err := repo.LastRun(ctx, oppdrag.Grensesnittavstemming)
		Expect(errors.Is(err, ErrNoRuns)).To(BeTrue())
	})

	It("round-trips a run", func() {
		created := time.Date(2021, 1, 1, 12, 30, 0, 123, time.UTC)
		Expect(repo.SaveRun(ctx, run("r1", oppdrag.Grensesnittavstemming, 500, created))).To(Succeed())

		last, err := repo.LastRun(ctx, oppdrag.Grensesnittavstemming)
		Expect(err).NotTo(HaveOccurred())
		Expect(last).To(Equal(run("r1", oppdrag.Grensesnittavstemming, 500, created)))
	})

	It("picks the run with the latest window end per type", func() {
		now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
		Expect(repo.SaveRun(ctx, run("r1", oppdrag.Grensesnittavstemming, 900, now))).To(Succeed())
		Expect(repo.SaveRun(ctx, run("r2", oppdrag.Grensesnittavstemming, 500, now.Add(time.Hour)))).To(Succeed())
		Expect(repo.SaveRun(ctx, run("r3", oppdrag.Konsistensavstemming, 5000, now.Add(2*time.Hour)))).To(Succeed())

		last, err := repo.LastRun(ctx, oppdrag.Grensesnittavstemming)
		Expect(err).NotTo(HaveOccurred())
		Expect(last.ID).To(Equal("r1"))

		runs, err := repo.ListRuns(ctx, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(2))
		Expect(runs[0].ID).To(Equal("r3"))
		Expect(runs[1].ID).To(Equal("r2"))
	})

	It("rejects a duplicate run id", func() {
		now := time.Now().UTC()
		Expect(repo.SaveRun(ctx, run("r1", oppdrag.Grensesnittavstemming, 1, now))).To(Succeed())
		Expect(repo.SaveRun(ctx, run("r1", oppdrag.Grensesnittavstemming, 2, now))).To(MatchError(ContainSubstring("inserting run r1")))
	})

	When("the database lives in memory", func() {
		BeforeEach(func() {
			var err error
			db, err = InitDB(":memory:")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(db.Close)
			repo = NewSQLiteRunRepository(db)
		})

		It("keeps every statement on the connection that holds the tables", func() {
			Expect(db.Stats().MaxOpenConnections).To(Equal(1))

			now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, id := range []string{"r1", "r2", "r3"} {
				Expect(repo.SaveRun(ctx, run(id, oppdrag.Grensesnittavstemming, int64(100*(i+1)), now))).To(Succeed())
			}
			runs, err := repo.ListRuns(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(3))
		})
	})
})
