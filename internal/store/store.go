package store

import (
	"context"

	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	Decision() Decision
	RateLimit() RateLimit
	Audit() Audit
	InitialMigration() error
	Ping(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db        *gorm.DB
	job       Job
	decision  Decision
	rateLimit RateLimit
	audit     Audit
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		job:       NewJobStore(db),
		decision:  NewDecisionStore(db),
		rateLimit: NewRateLimitStore(db),
		audit:     NewAuditStore(db),
		db:        db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Decision() Decision {
	return s.decision
}

func (s *DataStore) RateLimit() RateLimit {
	return s.rateLimit
}

func (s *DataStore) Audit() Audit {
	return s.audit
}

func (s *DataStore) InitialMigration() error {
	if err := s.job.InitialMigration(); err != nil {
		return err
	}
	if err := s.decision.InitialMigration(); err != nil {
		return err
	}
	if err := s.rateLimit.InitialMigration(); err != nil {
		return err
	}
	return s.audit.InitialMigration()
}

func (s *DataStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
