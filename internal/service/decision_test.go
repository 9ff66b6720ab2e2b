package service_test

import (
	"context"

	api "github.com/riselocal/leadqual/api/v1alpha1"
	"github.com/riselocal/leadqual/internal/audit"
	"github.com/riselocal/leadqual/internal/config"
	"github.com/riselocal/leadqual/internal/service"
	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("decision service", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		srv    *service.DecisionService
	)

	BeforeAll(func() {
		cfg, err := config.NewDefault()
		Expect(err).To(BeNil())
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(Succeed())

		srv = service.NewDecisionService(s, audit.NewWriter(s.Audit()))
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM decisions;")
		gormdb.Exec("DELETE FROM audit_entries;")
	})

	seedDecision := func(leadID string) *model.Decision {
		decision, err := s.Decision().Create(context.TODO(), &model.Decision{
			LeadID:        leadID,
			DecisionKind:  "qualification",
			EvaluatorName: "gating-policy",
			EvaluatorType: "rule-based",
			Outcome:       api.OutcomeAccepted,
			Confidence:    1.0,
			Rationale:     "score 72: outdated-web-presence(+25)",
		})
		Expect(err).To(BeNil())
		return decision
	}

	Context("get latest", func() {
		It("defaults the kind to qualification", func() {
			seeded := seedDecision("lead-1")

			decision, err := srv.GetLatest(context.TODO(), "lead-1", "")
			Expect(err).To(BeNil())
			Expect(decision.Id).To(Equal(seeded.ID))
			Expect(decision.DecisionKind).To(Equal(api.DecisionKindQualification))
		})

		It("maps a missing decision to not found", func() {
			_, err := srv.GetLatest(context.TODO(), "lead-unknown", "")
			Expect(err).ToNot(BeNil())
			_, ok := err.(*service.ErrResourceNotFound)
			Expect(ok).To(BeTrue())
		})
	})

	Context("override", func() {
		It("records the override on the latest decision", func() {
			seeded := seedDecision("lead-1")

			decision, err := srv.Override(context.TODO(), "lead-1", "", api.OverrideRequest{
				By:     "jordan@riselocal.dev",
				Reason: "known existing customer",
			})
			Expect(err).To(BeNil())
			Expect(decision.Id).To(Equal(seeded.ID))
			Expect(decision.Override).ToNot(BeNil())
			Expect(decision.Override.By).To(Equal("jordan@riselocal.dev"))
			// the recorded outcome is untouched, the override sits alongside it
			Expect(decision.Outcome).To(Equal(api.OutcomeAccepted))
		})

		It("rejects a second override", func() {
			seedDecision("lead-1")

			_, err := srv.Override(context.TODO(), "lead-1", "", api.OverrideRequest{By: "a", Reason: "first"})
			Expect(err).To(BeNil())

			_, err = srv.Override(context.TODO(), "lead-1", "", api.OverrideRequest{By: "b", Reason: "second"})
			Expect(err).ToNot(BeNil())
			_, ok := err.(*service.ErrDecisionAlreadyOverridden)
			Expect(ok).To(BeTrue())
		})

		It("maps a missing decision to not found", func() {
			_, err := srv.Override(context.TODO(), "lead-unknown", "", api.OverrideRequest{By: "a", Reason: "r"})
			Expect(err).ToNot(BeNil())
			_, ok := err.(*service.ErrResourceNotFound)
			Expect(ok).To(BeTrue())
		})

		It("writes an override audit entry", func() {
			seeded := seedDecision("lead-1")

			_, err := srv.Override(context.TODO(), "lead-1", "", api.OverrideRequest{By: "a", Reason: "r"})
			Expect(err).To(BeNil())

			entries, err := s.Audit().List(context.TODO(), store.NewAuditQueryFilter().ByAction("decision.overridden"))
			Expect(err).To(BeNil())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ResourceID).To(Equal(seeded.ID.String()))
		})
	})

	Context("audit trail", func() {
		It("scopes the trail to one resource", func() {
			first := seedDecision("lead-1")
			seedDecision("lead-2")

			_, err := srv.Override(context.TODO(), "lead-1", "", api.OverrideRequest{By: "a", Reason: "r"})
			Expect(err).To(BeNil())
			_, err = srv.Override(context.TODO(), "lead-2", "", api.OverrideRequest{By: "a", Reason: "r"})
			Expect(err).To(BeNil())

			all, err := srv.ListAudit(context.TODO(), "")
			Expect(err).To(BeNil())
			Expect(all).To(HaveLen(2))

			scoped, err := srv.ListAudit(context.TODO(), first.ID.String())
			Expect(err).To(BeNil())
			Expect(scoped).To(HaveLen(1))
			Expect(scoped[0].ResourceId).To(Equal(first.ID.String()))
		})
	})
})
