package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riselocal/leadqual/internal/store/model"
	"gorm.io/gorm"
)

type Decision interface {
	Create(ctx context.Context, decision *model.Decision) (*model.Decision, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Decision, error)
	GetLatest(ctx context.Context, leadID string, kind string) (*model.Decision, error)
	List(ctx context.Context, filter *DecisionQueryFilter) (model.DecisionList, error)
	Override(ctx context.Context, id uuid.UUID, by string, reason string) (*model.Decision, error)
	InitialMigration() error
}

type DecisionStore struct {
	db *gorm.DB
}

// Make sure we conform to Decision interface
var _ Decision = (*DecisionStore)(nil)

func NewDecisionStore(db *gorm.DB) Decision {
	return &DecisionStore{db: db}
}

func (s *DecisionStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Decision{})
}

func (s *DecisionStore) Create(ctx context.Context, decision *model.Decision) (*model.Decision, error) {
	if decision.ID == (uuid.UUID{}) {
		decision.ID = uuid.New()
	}
	decision.CreatedAt = time.Now().UTC()

	if result := s.getDB(ctx).Create(decision); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating decision: %w", result.Error)
	}
	return decision, nil
}

func (s *DecisionStore) Get(ctx context.Context, id uuid.UUID) (*model.Decision, error) {
	var decision model.Decision
	result := s.getDB(ctx).First(&decision, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying decision: %w", result.Error)
	}
	return &decision, nil
}

// GetLatest returns the most recent decision of the requested kind for a lead.
func (s *DecisionStore) GetLatest(ctx context.Context, leadID string, kind string) (*model.Decision, error) {
	var decision model.Decision
	result := s.getDB(ctx).
		Where("lead_id = ? AND decision_kind = ?", leadID, kind).
		Order("created_at DESC").
		First(&decision)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying decision: %w", result.Error)
	}
	return &decision, nil
}

func (s *DecisionStore) List(ctx context.Context, filter *DecisionQueryFilter) (model.DecisionList, error) {
	var decisions model.DecisionList
	tx := s.getDB(ctx).Model(&model.Decision{})

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if result := tx.Order("created_at DESC").Find(&decisions); result.Error != nil {
		return nil, result.Error
	}
	return decisions, nil
}

// Override records who overrode a decision, why and when. A decision accepts
// at most one override; the conditional update enforces it.
func (s *DecisionStore) Override(ctx context.Context, id uuid.UUID, by string, reason string) (*model.Decision, error) {
	res := s.getDB(ctx).Model(&model.Decision{}).
		Where("id = ? AND overridden_at IS NULL", id).
		Updates(map[string]interface{}{
			"overridden_by":   by,
			"override_reason": reason,
			"overridden_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("overriding decision: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyOverridden
	}
	return s.Get(ctx, id)
}

func (s *DecisionStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
