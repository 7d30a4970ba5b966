// Package sqlstore provides the bun-backed persistence layer: the receipt
// ledger, the canonical documents, and the throttle state records.
package sqlstore

import (
	"fmt"

	"github.com/uptrace/bun"
)

// RepositoryFactory wires every SQL-backed store over one bun connection.
type RepositoryFactory struct {
	db *bun.DB

	receiptStore       *ReceiptStore
	accountStore       *AccountStore
	orderStore         *OrderStore
	supportTicketStore *SupportTicketStore
	throttleStateStore *ThrottleStateStore
}

func NewRepositoryFactory(db *bun.DB) (*RepositoryFactory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	factory := &RepositoryFactory{db: db}
	if err := factory.initStores(); err != nil {
		return nil, err
	}
	return factory, nil
}

// NewRepositoryFactoryFromPersistence accepts either a *bun.DB or any
// persistence client exposing DB() *bun.DB.
func NewRepositoryFactoryFromPersistence(persistenceClient any) (*RepositoryFactory, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	return NewRepositoryFactory(db)
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ReceiptStore() *ReceiptStore {
	if f == nil {
		return nil
	}
	return f.receiptStore
}

func (f *RepositoryFactory) AccountStore() *AccountStore {
	if f == nil {
		return nil
	}
	return f.accountStore
}

func (f *RepositoryFactory) OrderStore() *OrderStore {
	if f == nil {
		return nil
	}
	return f.orderStore
}

func (f *RepositoryFactory) SupportTicketStore() *SupportTicketStore {
	if f == nil {
		return nil
	}
	return f.supportTicketStore
}

func (f *RepositoryFactory) ThrottleStateStore() *ThrottleStateStore {
	if f == nil {
		return nil
	}
	return f.throttleStateStore
}

func (f *RepositoryFactory) initStores() error {
	receiptStore, err := NewReceiptStore(f.db)
	if err != nil {
		return err
	}
	f.receiptStore = receiptStore

	accountStore, err := NewAccountStore(f.db)
	if err != nil {
		return err
	}
	f.accountStore = accountStore

	orderStore, err := NewOrderStore(f.db)
	if err != nil {
		return err
	}
	f.orderStore = orderStore

	supportTicketStore, err := NewSupportTicketStore(f.db)
	if err != nil {
		return err
	}
	f.supportTicketStore = supportTicketStore

	throttleStateStore, err := NewThrottleStateStore(f.db)
	if err != nil {
		return err
	}
	f.throttleStateStore = throttleStateStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
