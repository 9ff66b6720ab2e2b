package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riselocal/leadqual/internal/config"
	"github.com/riselocal/leadqual/internal/store"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("rate limit store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		cfg, err := config.NewDefault()
		Expect(err).To(BeNil())
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(Succeed())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM rate_limit_windows;")
	})

	Context("check and increment", func() {
		It("counts requests up to the quota and then denies", func() {
			windowStart := time.Now().UTC().Truncate(time.Minute)
			resetAt := windowStart.Add(time.Minute)

			for i := 0; i < 3; i++ {
				window, allowed, err := s.RateLimit().CheckAndIncrement(context.TODO(), "reviews", 3, windowStart, resetAt)
				Expect(err).To(BeNil())
				Expect(allowed).To(BeTrue())
				Expect(window.RequestCount).To(Equal(i + 1))
			}

			window, allowed, err := s.RateLimit().CheckAndIncrement(context.TODO(), "reviews", 3, windowStart, resetAt)
			Expect(err).To(BeNil())
			Expect(allowed).To(BeFalse())
			// a denied call never bumps the counter
			Expect(window.RequestCount).To(Equal(3))
			Expect(window.Remaining()).To(Equal(0))
		})

		It("accounts services independently", func() {
			windowStart := time.Now().UTC().Truncate(time.Minute)
			resetAt := windowStart.Add(time.Minute)

			_, allowed, err := s.RateLimit().CheckAndIncrement(context.TODO(), "reviews", 1, windowStart, resetAt)
			Expect(err).To(BeNil())
			Expect(allowed).To(BeTrue())

			_, allowed, err = s.RateLimit().CheckAndIncrement(context.TODO(), "reviews", 1, windowStart, resetAt)
			Expect(err).To(BeNil())
			Expect(allowed).To(BeFalse())

			_, allowed, err = s.RateLimit().CheckAndIncrement(context.TODO(), "website", 1, windowStart, resetAt)
			Expect(err).To(BeNil())
			Expect(allowed).To(BeTrue())
		})

		It("starts fresh in a new window", func() {
			windowStart := time.Now().UTC().Truncate(time.Minute)
			resetAt := windowStart.Add(time.Minute)

			_, allowed, err := s.RateLimit().CheckAndIncrement(context.TODO(), "reviews", 1, windowStart, resetAt)
			Expect(err).To(BeNil())
			Expect(allowed).To(BeTrue())

			nextWindow := windowStart.Add(time.Minute)
			window, allowed, err := s.RateLimit().CheckAndIncrement(context.TODO(), "reviews", 1, nextWindow, nextWindow.Add(time.Minute))
			Expect(err).To(BeNil())
			Expect(allowed).To(BeTrue())
			Expect(window.RequestCount).To(Equal(1))
		})

		It("never exceeds the quota under concurrent increments", func() {
			const quota = 10
			windowStart := time.Now().UTC().Truncate(time.Minute)
			resetAt := windowStart.Add(time.Minute)

			var (
				allowed int64
				wg      sync.WaitGroup
			)
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, ok, err := s.RateLimit().CheckAndIncrement(context.TODO(), "reviews", quota, windowStart, resetAt)
					Expect(err).To(BeNil())
					if ok {
						atomic.AddInt64(&allowed, 1)
					}
				}()
			}
			wg.Wait()

			Expect(allowed).To(Equal(int64(quota)))
			window, err := s.RateLimit().Get(context.TODO(), "reviews", windowStart)
			Expect(err).To(BeNil())
			Expect(window.RequestCount).To(Equal(quota))
		})

		It("rejects a non-positive quota", func() {
			windowStart := time.Now().UTC().Truncate(time.Minute)
			_, _, err := s.RateLimit().CheckAndIncrement(context.TODO(), "reviews", 0, windowStart, windowStart.Add(time.Minute))
			Expect(err).ToNot(BeNil())
		})
	})

	Context("gc", func() {
		It("deletes only windows past the cutoff", func() {
			old := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Minute)
			_, _, err := s.RateLimit().CheckAndIncrement(context.TODO(), "reviews", 5, old, old.Add(time.Minute))
			Expect(err).To(BeNil())

			current := time.Now().UTC().Truncate(time.Minute)
			_, _, err = s.RateLimit().CheckAndIncrement(context.TODO(), "reviews", 5, current, current.Add(time.Minute))
			Expect(err).To(BeNil())

			deleted, err := s.RateLimit().DeleteExpired(context.TODO(), time.Now().UTC().Add(-time.Hour))
			Expect(err).To(BeNil())
			Expect(deleted).To(Equal(int64(1)))

			_, err = s.RateLimit().Get(context.TODO(), "reviews", old)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
			_, err = s.RateLimit().Get(context.TODO(), "reviews", current)
			Expect(err).To(BeNil())
		})
	})
})
