package ledger

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Key", func() {
	It("renders nanoseconds since the epoch", func() {
		oslo := time.FixedZone("CET", 3600)
		key := KeyAt(time.Date(2020, 1, 1, 0, 0, 0, 0, oslo))
		Expect(key.String()).To(Equal("1577833200000000000"))
	})

	It("parses its own string form", func() {
		key := KeyAt(time.Date(2021, 3, 4, 5, 6, 7, 8, time.UTC))
		parsed, err := ParseKey(key.String())
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(key))
		Expect(parsed.Time().Equal(key.Time())).To(BeTrue())
	})

	It("rejects garbage", func() {
		_, err := ParseKey("tomorrow")
		Expect(err).To(HaveOccurred())
	})

	It("compares by timestamp", func() {
		a := KeyAt(time.Unix(10, 0))
		b := KeyAt(time.Unix(11, 0))
		Expect(a.Before(b)).To(BeTrue())
		Expect(b.After(a)).To(BeTrue())
		Expect(a.Compare(b)).To(Equal(-1))
		Expect(a.Compare(KeyAt(time.Unix(10, 0)))).To(Equal(0))
		Expect(a.Next().Compare(a)).To(Equal(1))
	})

	It("round-trips through JSON as a string", func() {
		key := KeyAt(time.Unix(1, 5))
		data, err := json.Marshal(struct{ K Key }{K: key})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`{"K":"1000000005"}`))
	})

	Describe("KeyGenerator", func() {
		It("never repeats a key when the clock stands still", func() {
			clock := &mockTimeSource{now: time.Unix(100, 0)}
			gen := NewKeyGenerator(clock)
			first := gen.Next()
			second := gen.Next()
			Expect(second.After(first)).To(BeTrue())
		})

		It("stays monotonic when the clock steps back", func() {
			clock := &mockTimeSource{now: time.Unix(100, 0)}
			gen := NewKeyGenerator(clock)
			first := gen.Next()
			clock.now = time.Unix(50, 0)
			Expect(gen.Next().After(first)).To(BeTrue())
		})
	})
})
