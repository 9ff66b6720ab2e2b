package store

import (
	"context"
	"fmt"
	"time"

	"github.com/riselocal/leadqual/internal/store/model"
	"gorm.io/gorm"
)

// Audit is append-only by contract: there is no update or delete path.
type Audit interface {
	Append(ctx context.Context, entry *model.AuditEntry) error
	List(ctx context.Context, filter *AuditQueryFilter) (model.AuditEntryList, error)
	InitialMigration() error
}

type AuditStore struct {
	db *gorm.DB
}

// Make sure we conform to Audit interface
var _ Audit = (*AuditStore)(nil)

func NewAuditStore(db *gorm.DB) Audit {
	return &AuditStore{db: db}
}

func (s *AuditStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.AuditEntry{})
}

func (s *AuditStore) Append(ctx context.Context, entry *model.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if result := s.getDB(ctx).Create(entry); result.Error != nil {
		return fmt.Errorf("appending audit entry: %w", result.Error)
	}
	return nil
}

func (s *AuditStore) List(ctx context.Context, filter *AuditQueryFilter) (model.AuditEntryList, error) {
	var entries model.AuditEntryList
	tx := s.getDB(ctx).Model(&model.AuditEntry{})

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if result := tx.Order("id").Find(&entries); result.Error != nil {
		return nil, result.Error
	}
	return entries, nil
}

func (s *AuditStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
