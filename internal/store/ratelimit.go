package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riselocal/leadqual/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RateLimit interface {
	// CheckAndIncrement atomically counts one request against the
	// (service, windowStart) window, creating the row on first use.
	// The second return value is false when the quota is exhausted;
	// a denied call does not change the counter.
	CheckAndIncrement(ctx context.Context, service string, limit int, windowStart, resetAt time.Time) (*model.RateLimitWindow, bool, error)
	Get(ctx context.Context, service string, windowStart time.Time) (*model.RateLimitWindow, error)
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
	InitialMigration() error
}

type RateLimitStore struct {
	db *gorm.DB
}

// Make sure we conform to RateLimit interface
var _ RateLimit = (*RateLimitStore)(nil)

func NewRateLimitStore(db *gorm.DB) RateLimit {
	return &RateLimitStore{db: db}
}

func (s *RateLimitStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.RateLimitWindow{})
}

func (s *RateLimitStore) CheckAndIncrement(ctx context.Context, service string, limit int, windowStart, resetAt time.Time) (*model.RateLimitWindow, bool, error) {
	if limit < 1 {
		return nil, false, fmt.Errorf("quota limit for %q must be positive, got %d", service, limit)
	}

	window := model.RateLimitWindow{
		ServiceName:  service,
		WindowStart:  windowStart,
		RequestCount: 1,
		QuotaLimit:   limit,
		ResetAt:      resetAt,
	}

	// The insert and the guarded increment are one statement, so concurrent
	// callers can never both observe remaining > 0 and push the counter past
	// the limit. A conflicting update filtered out by the WHERE clause
	// reports zero affected rows, which is the denial signal.
	res := s.getDB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "service_name"}, {Name: "window_start"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"request_count": gorm.Expr("rate_limit_windows.request_count + 1"),
		}),
		Where: clause.Where{
			Exprs: []clause.Expression{
				gorm.Expr("rate_limit_windows.request_count < rate_limit_windows.quota_limit"),
			},
		},
	}).Create(&window)
	if res.Error != nil {
		return nil, false, fmt.Errorf("incrementing quota window: %w", res.Error)
	}

	current, err := s.Get(ctx, service, windowStart)
	if err != nil {
		return nil, false, err
	}
	return current, res.RowsAffected == 1, nil
}

func (s *RateLimitStore) Get(ctx context.Context, service string, windowStart time.Time) (*model.RateLimitWindow, error) {
	var window model.RateLimitWindow
	result := s.getDB(ctx).First(&window, "service_name = ? AND window_start = ?", service, windowStart)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying quota window: %w", result.Error)
	}
	return &window, nil
}

// DeleteExpired garbage-collects windows whose reset time plus the retention
// margin has passed. It is never part of the check-and-increment path.
func (s *RateLimitStore) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.getDB(ctx).Where("reset_at < ?", olderThan).Delete(&model.RateLimitWindow{})
	if res.Error != nil {
		return 0, fmt.Errorf("deleting expired quota windows: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *RateLimitStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
