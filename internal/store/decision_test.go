package store_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/riselocal/leadqual/internal/config"
	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("decision store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	newDecision := func(leadID, outcome string) *model.Decision {
		return &model.Decision{
			LeadID:        leadID,
			DecisionKind:  "qualification",
			EvaluatorName: "gating-policy",
			EvaluatorType: "rule-based",
			Outcome:       outcome,
			Confidence:    1.0,
			Rationale:     "score 72: no-online-booking(+20)",
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
		gormdb.Exec("DELETE FROM decisions;")
	})

	Context("create and get", func() {
		It("assigns id and created_at", func() {
			decision, err := s.Decision().Create(context.TODO(), newDecision("lead-1", "accepted"))
			Expect(err).To(BeNil())
			Expect(decision.ID).ToNot(Equal(uuid.UUID{}))
			Expect(decision.CreatedAt).ToNot(BeZero())

			found, err := s.Decision().Get(context.TODO(), decision.ID)
			Expect(err).To(BeNil())
			Expect(found.Outcome).To(Equal("accepted"))
		})
	})

	Context("latest", func() {
		It("returns the most recent decision for the lead and kind", func() {
			_, err := s.Decision().Create(context.TODO(), newDecision("lead-1", "rejected"))
			Expect(err).To(BeNil())
			time.Sleep(5 * time.Millisecond)
			_, err = s.Decision().Create(context.TODO(), newDecision("lead-1", "accepted"))
			Expect(err).To(BeNil())

			latest, err := s.Decision().GetLatest(context.TODO(), "lead-1", "qualification")
			Expect(err).To(BeNil())
			Expect(latest.Outcome).To(Equal("accepted"))
		})

		It("does not cross leads", func() {
			_, err := s.Decision().Create(context.TODO(), newDecision("lead-1", "accepted"))
			Expect(err).To(BeNil())

			_, err = s.Decision().GetLatest(context.TODO(), "lead-2", "qualification")
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("override", func() {
		It("records who, why and when exactly once", func() {
			decision, err := s.Decision().Create(context.TODO(), newDecision("lead-1", "rejected"))
			Expect(err).To(BeNil())

			overridden, err := s.Decision().Override(context.TODO(), decision.ID, "ops@riselocal", "known good customer")
			Expect(err).To(BeNil())
			Expect(*overridden.OverriddenBy).To(Equal("ops@riselocal"))
			Expect(*overridden.OverrideReason).To(Equal("known good customer"))
			Expect(overridden.OverriddenAt).ToNot(BeNil())

			_, err = s.Decision().Override(context.TODO(), decision.ID, "someone-else", "second thoughts")
			Expect(err).To(MatchError(store.ErrAlreadyOverridden))

			// the first override is untouched
			final, err := s.Decision().Get(context.TODO(), decision.ID)
			Expect(err).To(BeNil())
			Expect(*final.OverriddenBy).To(Equal("ops@riselocal"))
		})

		It("returns not found for an unknown decision", func() {
			_, err := s.Decision().Override(context.TODO(), uuid.New(), "ops", "reason")
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("list", func() {
		It("filters by lead", func() {
			_, err := s.Decision().Create(context.TODO(), newDecision("lead-1", "accepted"))
			Expect(err).To(BeNil())
			_, err = s.Decision().Create(context.TODO(), newDecision("lead-2", "rejected"))
			Expect(err).To(BeNil())

			decisions, err := s.Decision().List(context.TODO(), store.NewDecisionQueryFilter().ByLeadID("lead-1"))
			Expect(err).To(BeNil())
			Expect(decisions).To(HaveLen(1))
			Expect(decisions[0].LeadID).To(Equal("lead-1"))
		})
	})
})
