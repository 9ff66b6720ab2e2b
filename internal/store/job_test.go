package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/riselocal/leadqual/internal/config"
	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("job store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	newJob := func(kind string) *model.Job {
		return &model.Job{
			Kind:          kind,
			InitiatorName: "tester",
			InitiatorType: "human",
			Parameters:    []byte(`{"lead_id":"lead-1"}`),
		}
	}

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
		gormdb.Exec("DELETE FROM jobs;")
	})

	Context("create and get", func() {
		It("creates a job in queued state", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusQueued))
			Expect(job.ID).ToNot(Equal(uuid.UUID{}))
			Expect(job.StartedAt).To(BeNil())
			Expect(job.CompletedAt).To(BeNil())

			found, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(found.Kind).To(Equal("qualification"))
		})

		It("returns not found for an unknown job", func() {
			_, err := s.Job().Get(context.TODO(), uuid.New())
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("list", func() {
		It("filters by status and kind", func() {
			_, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), newJob("discovery"))
			Expect(err).To(BeNil())

			jobList, err := s.Job().List(context.TODO(), store.NewJobQueryFilter().ByKind("discovery"), store.NewJobQueryOptions())
			Expect(err).To(BeNil())
			Expect(jobList).To(HaveLen(1))
			Expect(jobList[0].Kind).To(Equal("discovery"))

			jobList, err = s.Job().List(context.TODO(), store.NewJobQueryFilter().ByStatus(model.JobStatusQueued), store.NewJobQueryOptions())
			Expect(err).To(BeNil())
			Expect(jobList).To(HaveLen(2))
		})
	})

	Context("claim", func() {
		It("claims the oldest queued job exactly once", func() {
			first, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			time.Sleep(5 * time.Millisecond)
			_, err = s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())

			claimed, err := s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(BeNil())
			Expect(claimed.ID).To(Equal(first.ID))
			Expect(claimed.Status).To(Equal(model.JobStatusRunning))
			Expect(*claimed.ClaimedBy).To(Equal("worker-0"))
			Expect(claimed.StartedAt).ToNot(BeNil())

			// the second claim gets the second job, the third finds nothing
			second, err := s.Job().ClaimNext(context.TODO(), "worker-1", time.Minute)
			Expect(err).To(BeNil())
			Expect(second.ID).ToNot(Equal(first.ID))

			_, err = s.Job().ClaimNext(context.TODO(), "worker-2", time.Minute)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("returns not found on an empty queue", func() {
			_, err := s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("never hands one job to two racing workers", func() {
			const jobCount = 5
			for i := 0; i < jobCount; i++ {
				_, err := s.Job().Create(context.TODO(), newJob("qualification"))
				Expect(err).To(BeNil())
			}

			var (
				mu      sync.Mutex
				claimed = map[uuid.UUID]string{}
				wg      sync.WaitGroup
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(worker string) {
					defer wg.Done()
					defer GinkgoRecover()
					job, err := s.Job().ClaimNext(context.TODO(), worker, time.Minute)
					if err != nil {
						Expect(err).To(MatchError(store.ErrRecordNotFound))
						return
					}
					mu.Lock()
					defer mu.Unlock()
					Expect(claimed).ToNot(HaveKey(job.ID), "job claimed twice")
					claimed[job.ID] = worker
				}(fmt.Sprintf("worker-%d", i))
			}
			wg.Wait()

			Expect(claimed).To(HaveLen(jobCount))
			count, err := s.Job().CountByStatus(context.TODO(), model.JobStatusQueued)
			Expect(err).To(BeNil())
			Expect(count).To(BeZero())
		})
	})

	Context("touch", func() {
		It("extends the claim for the owning worker", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			claimed, err := s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(BeNil())

			Expect(s.Job().Touch(context.TODO(), job.ID, "worker-0", time.Hour)).To(Succeed())

			touched, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(touched.ClaimExpiresAt.After(*claimed.ClaimExpiresAt)).To(BeTrue())
		})

		It("refuses a worker that lost the claim", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(BeNil())

			err = s.Job().Touch(context.TODO(), job.ID, "worker-1", time.Minute)
			Expect(err).To(MatchError(store.ErrInvalidTransition))
		})

		It("refuses a cancelled job", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(BeNil())
			_, err = s.Job().Cancel(context.TODO(), job.ID)
			Expect(err).To(BeNil())

			err = s.Job().Touch(context.TODO(), job.ID, "worker-0", time.Minute)
			Expect(err).To(MatchError(store.ErrInvalidTransition))
		})
	})

	Context("finish", func() {
		It("completes a running job and clears the claim", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(BeNil())

			result := json.RawMessage(`{"outcome":"accepted"}`)
			Expect(s.Job().Complete(context.TODO(), job.ID, "worker-0", result)).To(Succeed())

			completed, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(completed.Status).To(Equal(model.JobStatusCompleted))
			Expect(completed.Result).ToNot(BeEmpty())
			Expect(completed.Error).To(BeNil())
			Expect(completed.CompletedAt).ToNot(BeNil())
			Expect(completed.ClaimedBy).To(BeNil())
		})

		It("refuses to complete a job owned by another worker", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(BeNil())

			err = s.Job().Complete(context.TODO(), job.ID, "worker-1", nil)
			Expect(err).To(MatchError(store.ErrInvalidTransition))
		})

		It("fails a job retaining the error", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(BeNil())

			Expect(s.Job().Fail(context.TODO(), job.ID, "worker-0", "provider exploded")).To(Succeed())

			failed, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(failed.Status).To(Equal(model.JobStatusFailed))
			Expect(*failed.Error).To(Equal("provider exploded"))
			Expect(failed.Result).To(BeEmpty())
		})

		It("requeues a job consuming one retry", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(BeNil())

			Expect(s.Job().Requeue(context.TODO(), job.ID, "worker-0", "transient")).To(Succeed())

			requeued, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(requeued.Status).To(Equal(model.JobStatusQueued))
			Expect(requeued.RetryCount).To(Equal(1))
			Expect(requeued.ClaimedBy).To(BeNil())
		})

		It("keeps started_at from the first run across a requeue", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			claimed, err := s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(BeNil())
			firstStart := *claimed.StartedAt

			Expect(s.Job().Requeue(context.TODO(), job.ID, "worker-0", "transient")).To(Succeed())
			time.Sleep(5 * time.Millisecond)

			reclaimed, err := s.Job().ClaimNext(context.TODO(), "worker-1", time.Minute)
			Expect(err).To(BeNil())
			Expect(reclaimed.StartedAt.Equal(firstStart)).To(BeTrue())
		})
	})

	Context("cancel", func() {
		It("cancels a queued job immediately", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())

			cancelled, err := s.Job().Cancel(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(cancelled.Status).To(Equal(model.JobStatusCancelled))
		})

		It("makes the claim holder's completion miss after a cancel", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(BeNil())

			_, err = s.Job().Cancel(context.TODO(), job.ID)
			Expect(err).To(BeNil())

			err = s.Job().Complete(context.TODO(), job.ID, "worker-0", nil)
			Expect(err).To(MatchError(store.ErrInvalidTransition))

			final, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(final.Status).To(Equal(model.JobStatusCancelled))
		})

		It("refuses to cancel a terminal job", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().ClaimNext(context.TODO(), "worker-0", time.Minute)
			Expect(err).To(BeNil())
			Expect(s.Job().Complete(context.TODO(), job.ID, "worker-0", nil)).To(Succeed())

			_, err = s.Job().Cancel(context.TODO(), job.ID)
			Expect(err).To(MatchError(store.ErrInvalidTransition))
		})
	})

	Context("reclaim", func() {
		It("returns expired claims to the queue with a retry consumed", func() {
			job, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().ClaimNext(context.TODO(), "worker-0", -time.Minute)
			Expect(err).To(BeNil())

			reclaimed, err := s.Job().ReclaimStale(context.TODO(), time.Now().UTC())
			Expect(err).To(BeNil())
			Expect(reclaimed).To(Equal(int64(1)))

			queued, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(queued.Status).To(Equal(model.JobStatusQueued))
			Expect(queued.RetryCount).To(Equal(1))
		})

		It("leaves live claims alone", func() {
			_, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().ClaimNext(context.TODO(), "worker-0", time.Hour)
			Expect(err).To(BeNil())

			reclaimed, err := s.Job().ReclaimStale(context.TODO(), time.Now().UTC())
			Expect(err).To(BeNil())
			Expect(reclaimed).To(Equal(int64(0)))
		})
	})

	Context("count", func() {
		It("counts jobs by status", func() {
			_, err := s.Job().Create(context.TODO(), newJob("qualification"))
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), newJob("enrichment"))
			Expect(err).To(BeNil())

			count, err := s.Job().CountByStatus(context.TODO(), model.JobStatusQueued)
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(2)))
		})
	})
})
