package service_test

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	api "github.com/riselocal/leadqual/api/v1alpha1"
	"github.com/riselocal/leadqual/internal/audit"
	"github.com/riselocal/leadqual/internal/config"
	"github.com/riselocal/leadqual/internal/service"
	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/internal/store/model"
	"github.com/riselocal/leadqual/pkg/requestid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("job service", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		srv    *service.JobService
	)

	BeforeAll(func() {
		cfg, err := config.NewDefault()
		Expect(err).To(BeNil())
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(Succeed())

		srv = service.NewJobService(s, audit.NewWriter(s.Audit()))
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM jobs;")
		gormdb.Exec("DELETE FROM audit_entries;")
	})

	Context("submit", func() {
		It("queues a valid job and defaults the initiator type", func() {
			job, err := srv.Submit(context.TODO(), api.SubmitJobRequest{
				Kind:       api.JobKindQualification,
				Initiator:  api.Initiator{Name: "sales-ops"},
				Parameters: json.RawMessage(`{"lead_id":"lead-1"}`),
			})
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(api.JobStatusQueued))
			Expect(job.Initiator.Type).To(Equal(api.InitiatorTypeHuman))

			stored, err := s.Job().Get(context.TODO(), job.Id)
			Expect(err).To(BeNil())
			Expect(stored.Kind).To(Equal("qualification"))
		})

		It("rejects parameters that fail structural validation", func() {
			_, err := srv.Submit(context.TODO(), api.SubmitJobRequest{
				Kind:       api.JobKindQualification,
				Parameters: json.RawMessage(`{"adapters":["website"]}`),
			})
			Expect(err).ToNot(BeNil())
			_, ok := err.(*service.ErrInvalidJobRequest)
			Expect(ok).To(BeTrue())
		})

		It("rejects an unknown initiator type", func() {
			_, err := srv.Submit(context.TODO(), api.SubmitJobRequest{
				Kind:       api.JobKindQualification,
				Initiator:  api.Initiator{Name: "bot", Type: api.InitiatorType("robot")},
				Parameters: json.RawMessage(`{"lead_id":"lead-1"}`),
			})
			Expect(err).ToNot(BeNil())
			_, ok := err.(*service.ErrInvalidJobRequest)
			Expect(ok).To(BeTrue())
		})

		It("writes a submission audit entry", func() {
			job, err := srv.Submit(context.TODO(), api.SubmitJobRequest{
				Kind:       api.JobKindEnrichment,
				Initiator:  api.Initiator{Name: "sales-ops"},
				Parameters: json.RawMessage(`{"lead_id":"lead-1"}`),
			})
			Expect(err).To(BeNil())

			entries, err := s.Audit().List(context.TODO(), store.NewAuditQueryFilter().ByAction("job.submitted"))
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ResourceID).To(Equal(job.Id.String()))
			Expect(entries[0].Actor).To(Equal("sales-ops"))
		})
	})

	Context("get", func() {
		It("returns the job", func() {
			created, err := s.Job().Create(context.TODO(), &model.Job{Kind: "qualification", Parameters: []byte(`{}`)})
			Expect(err).To(BeNil())

			job, err := srv.Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(job.Id).To(Equal(created.ID))
		})

		It("maps a missing job to not found", func() {
			_, err := srv.Get(context.TODO(), uuid.New())
			Expect(err).ToNot(BeNil())
			_, ok := err.(*service.ErrResourceNotFound)
			Expect(ok).To(BeTrue())
		})
	})

	Context("list", func() {
		It("filters by status and kind", func() {
			_, err := s.Job().Create(context.TODO(), &model.Job{Kind: "qualification", Parameters: []byte(`{}`)})
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), &model.Job{Kind: "enrichment", Parameters: []byte(`{}`)})
			Expect(err).To(BeNil())

			all, err := srv.List(context.TODO(), "", "")
			Expect(err).To(BeNil())
			Expect(all).To(HaveLen(2))

			qualifications, err := srv.List(context.TODO(), "queued", "qualification")
			Expect(err).To(BeNil())
			Expect(qualifications).To(HaveLen(1))
			Expect(qualifications[0].Kind).To(Equal(api.JobKindQualification))

			none, err := srv.List(context.TODO(), "completed", "")
			Expect(err).To(BeNil())
			Expect(none).To(BeEmpty())
		})
	})

	Context("cancel", func() {
		It("cancels a queued job", func() {
			created, err := s.Job().Create(context.TODO(), &model.Job{Kind: "qualification", Parameters: []byte(`{}`)})
			Expect(err).To(BeNil())

			job, err := srv.Cancel(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(api.JobStatusCancelled))
		})

		It("maps a missing job to not found", func() {
			_, err := srv.Cancel(context.TODO(), uuid.New())
			Expect(err).ToNot(BeNil())
			_, ok := err.(*service.ErrResourceNotFound)
			Expect(ok).To(BeTrue())
		})

		It("records the caller's request id in the audit trail", func() {
			created, err := s.Job().Create(context.TODO(), &model.Job{Kind: "qualification", Parameters: []byte(`{}`)})
			Expect(err).To(BeNil())

			ctx := requestid.ToContext(context.TODO(), "req-42")
			_, err = srv.Cancel(ctx, created.ID)
			Expect(err).To(BeNil())

			entries, err := s.Audit().List(context.TODO(), store.NewAuditQueryFilter().ByAction("job.cancelled"))
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Actor).To(Equal("req-42"))
		})

		It("rejects cancelling a terminal job", func() {
			created, err := s.Job().Create(context.TODO(), &model.Job{Kind: "qualification", Parameters: []byte(`{}`)})
			Expect(err).To(BeNil())
			_, err = srv.Cancel(context.TODO(), created.ID)
			Expect(err).To(BeNil())

			_, err = srv.Cancel(context.TODO(), created.ID)
			Expect(err).ToNot(BeNil())
			_, ok := err.(*service.ErrJobAlreadyFinalized)
			Expect(ok).To(BeTrue())
		})
	})
})
