package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repos bundles the repositories bound to one database handle, which is
// either the root connection or an open transaction
type Repos struct {
	Accounts     *AccountRepository
	Positions    *PositionRepository
	Transactions *TransactionRepository
	Activity     *ActivityLogRepository
	Outbox       *OutboxRepository
}

func newRepos(db *gorm.DB) *Repos {
	return &Repos{
		Accounts:     NewAccountRepository(db),
		Positions:    NewPositionRepository(db),
		Transactions: NewTransactionRepository(db),
		Activity:     NewActivityLogRepository(db),
		Outbox:       NewOutboxRepository(db),
	}
}

// Store is the persistence entry point. It hands out repositories for point
// reads and runs multi-row mutations as a single commit.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Repos returns repositories outside of any transaction
func (s *Store) Repos(ctx context.Context) *Repos {
	return newRepos(s.db.WithContext(ctx))
}

// Atomic runs fn inside one database transaction. Every repository handed to
// fn writes through that transaction; any error returned by fn, or a panic,
// rolls the whole group back.
func (s *Store) Atomic(ctx context.Context, fn func(r *Repos) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newRepos(tx))
	})
}
