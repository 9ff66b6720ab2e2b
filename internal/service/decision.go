package service

import (
	"context"
	"errors"

	api "github.com/riselocal/leadqual/api/v1alpha1"
	"github.com/riselocal/leadqual/internal/audit"
	"github.com/riselocal/leadqual/internal/store"
	"go.uber.org/zap"
)

type DecisionService struct {
	store store.Store
	audit *audit.Writer
}

func NewDecisionService(s store.Store, auditWriter *audit.Writer) *DecisionService {
	return &DecisionService{store: s, audit: auditWriter}
}

// GetLatest returns the most recent decision of the given kind for a lead.
// An empty kind defaults to qualification.
func (s *DecisionService) GetLatest(ctx context.Context, leadID string, kind string) (api.Decision, error) {
	if kind == "" {
		kind = string(api.DecisionKindQualification)
	}
	decision, err := s.store.Decision().GetLatest(ctx, leadID, kind)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return api.Decision{}, NewErrDecisionNotFound(leadID)
		}
		return api.Decision{}, err
	}
	return decision.ToApiResource(), nil
}

// Override records a manual override on the latest decision for a lead.
// A decision accepts exactly one override; a second attempt is rejected.
func (s *DecisionService) Override(ctx context.Context, leadID string, kind string, request api.OverrideRequest) (api.Decision, error) {
	if kind == "" {
		kind = string(api.DecisionKindQualification)
	}
	decision, err := s.store.Decision().GetLatest(ctx, leadID, kind)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return api.Decision{}, NewErrDecisionNotFound(leadID)
		}
		return api.Decision{}, err
	}

	overridden, err := s.store.Decision().Override(ctx, decision.ID, request.By, request.Reason)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyOverridden) {
			return api.Decision{}, NewErrDecisionAlreadyOverridden(decision.ID)
		}
		return api.Decision{}, err
	}

	zap.S().Named("service").Infow("decision overridden",
		"decision_id", decision.ID, "lead_id", leadID, "by", request.By)
	s.audit.Record(ctx, audit.Entry{
		Actor:        request.By,
		ActorType:    audit.ActorTypeHuman,
		Action:       "decision.overridden",
		ResourceType: "decision",
		ResourceID:   decision.ID.String(),
		Metadata:     map[string]interface{}{"lead_id": leadID, "reason": request.Reason},
	})
	return overridden.ToApiResource(), nil
}

// ListAudit returns the audit trail, optionally scoped to one resource.
func (s *DecisionService) ListAudit(ctx context.Context, resourceID string) (api.AuditEntryList, error) {
	filter := store.NewAuditQueryFilter()
	if resourceID != "" {
		filter = filter.ByResourceID(resourceID)
	}
	entries, err := s.store.Audit().List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return entries.ToApiResource(), nil
}
