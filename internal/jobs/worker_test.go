package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/riselocal/leadqual/internal/audit"
	"github.com/riselocal/leadqual/internal/config"
	"github.com/riselocal/leadqual/internal/jobs"
	"github.com/riselocal/leadqual/internal/ratelimit"
	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

// scriptedRunner replays a fixed sequence of outcomes, one per invocation.
type scriptedRunner struct {
	mu      sync.Mutex
	errs    []error
	result  json.RawMessage
	calls   int
}

func (r *scriptedRunner) Run(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := r.calls
	r.calls++
	if call < len(r.errs) && r.errs[call] != nil {
		return nil, r.errs[call]
	}
	return r.result, nil
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

var _ = Describe("worker pool", Ordered, func() {
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
		gormdb.Exec("DELETE FROM jobs;")
		gormdb.Exec("DELETE FROM audit_entries;")
	})

	runPool := func(runner jobs.Runner, until func() bool) {
		limiter := ratelimit.New(s.RateLimit(), func(string) int { return 1000 }, time.Minute)
		pool := jobs.NewPool(s,
			map[string]jobs.Runner{"qualification": runner},
			audit.NewWriter(s.Audit()),
			limiter,
			jobs.PoolOptions{
				Count:        1,
				MaxRetries:   2,
				PollInterval: 10 * time.Millisecond,
				ClaimTTL:     time.Minute,
				JobTimeout:   time.Second,
			})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			pool.Run(ctx)
		}()

		Eventually(until, 5*time.Second, 10*time.Millisecond).Should(BeTrue())
		cancel()
		Eventually(done, 5*time.Second).Should(BeClosed())
	}

	jobStatus := func(id interface{ String() string }) string {
		var status string
		gormdb.Raw("SELECT status FROM jobs WHERE id = ?", id).Scan(&status)
		return status
	}

	It("completes a job and stores its result", func() {
		job, err := s.Job().Create(context.TODO(), &model.Job{Kind: "qualification", Parameters: []byte(`{}`)})
		Expect(err).To(BeNil())

		runner := &scriptedRunner{result: json.RawMessage(`{"outcome":"accepted"}`)}
		runPool(runner, func() bool { return jobStatus(job.ID) == model.JobStatusCompleted })

		final, err := s.Job().Get(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		Expect(final.Status).To(Equal(model.JobStatusCompleted))
		Expect(string(final.Result)).To(ContainSubstring("accepted"))
		Expect(final.Error).To(BeNil())
		Expect(final.ClaimedBy).To(BeNil())
	})

	It("retries transient failures until the budget is spent", func() {
		job, err := s.Job().Create(context.TODO(), &model.Job{Kind: "qualification", Parameters: []byte(`{}`)})
		Expect(err).To(BeNil())

		// fails every attempt: 1 initial + 2 retries, then terminal failure
		runner := &scriptedRunner{errs: []error{
			errors.New("transient 1"),
			errors.New("transient 2"),
			errors.New("transient 3"),
			errors.New("transient 4"),
		}}
		runPool(runner, func() bool { return jobStatus(job.ID) == model.JobStatusFailed })

		final, err := s.Job().Get(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		Expect(final.Status).To(Equal(model.JobStatusFailed))
		Expect(final.RetryCount).To(Equal(2))
		Expect(runner.callCount()).To(Equal(3))
	})

	It("recovers when a retry succeeds", func() {
		job, err := s.Job().Create(context.TODO(), &model.Job{Kind: "qualification", Parameters: []byte(`{}`)})
		Expect(err).To(BeNil())

		runner := &scriptedRunner{
			errs:   []error{errors.New("flaky")},
			result: json.RawMessage(`{"ok":true}`),
		}
		runPool(runner, func() bool { return jobStatus(job.ID) == model.JobStatusCompleted })

		final, err := s.Job().Get(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		Expect(final.RetryCount).To(Equal(1))
	})

	It("fails immediately on a permanent error", func() {
		job, err := s.Job().Create(context.TODO(), &model.Job{Kind: "qualification", Parameters: []byte(`{}`)})
		Expect(err).To(BeNil())

		runner := &scriptedRunner{errs: []error{jobs.Permanent(errors.New("bad parameters"))}}
		runPool(runner, func() bool { return jobStatus(job.ID) == model.JobStatusFailed })

		final, err := s.Job().Get(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		Expect(final.RetryCount).To(Equal(0))
		Expect(*final.Error).To(Equal("bad parameters"))
		Expect(runner.callCount()).To(Equal(1))
	})

	It("fails a job whose kind has no runner", func() {
		job, err := s.Job().Create(context.TODO(), &model.Job{Kind: "mystery", Parameters: []byte(`{}`)})
		Expect(err).To(BeNil())

		runner := &scriptedRunner{}
		runPool(runner, func() bool { return jobStatus(job.ID) == model.JobStatusFailed })

		final, err := s.Job().Get(context.TODO(), job.ID)
		Expect(err).To(BeNil())
		Expect(*final.Error).To(ContainSubstring("no runner for job kind"))
		Expect(runner.callCount()).To(Equal(0))
	})

	It("audits terminal transitions", func() {
		job, err := s.Job().Create(context.TODO(), &model.Job{Kind: "qualification", Parameters: []byte(`{}`)})
		Expect(err).To(BeNil())

		runner := &scriptedRunner{result: json.RawMessage(`{}`)}
		runPool(runner, func() bool { return jobStatus(job.ID) == model.JobStatusCompleted })

		entries, err := s.Audit().List(context.TODO(), store.NewAuditQueryFilter().ByAction("job.completed"))
		Expect(err).To(BeNil())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].ResourceID).To(Equal(job.ID.String()))
	})
})
