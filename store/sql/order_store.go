package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-intake/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OrderStore keeps the token-keyed order documents with the same version
// guard contract as AccountStore.
type OrderStore struct {
	db   *bun.DB
	repo repository.Repository[*orderRecord]
}

var _ core.OrderStore = (*OrderStore)(nil)

func NewOrderStore(db *bun.DB) (*OrderStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*orderRecord](db, orderHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid order repository wiring: %w", err)
		}
	}
	return &OrderStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *OrderStore) Get(ctx context.Context, orderID string) (core.Order, error) {
	if s == nil || s.db == nil {
		return core.Order{}, fmt.Errorf("sqlstore: order store is not configured")
	}
	record := &orderRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.order_id = ?", strings.TrimSpace(orderID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Order{}, core.ErrNotFound
		}
		return core.Order{}, err
	}
	return orderToDomain(record), nil
}

func (s *OrderStore) Put(ctx context.Context, order core.Order, expectedVersion int64) (core.Order, error) {
	if s == nil || s.db == nil {
		return core.Order{}, fmt.Errorf("sqlstore: order store is not configured")
	}
	orderID := strings.TrimSpace(order.OrderID)
	if orderID == "" {
		return core.Order{}, fmt.Errorf("sqlstore: order id is required")
	}
	now := time.Now().UTC()
	order.OrderID = orderID
	order.Version = expectedVersion + 1
	order.UpdatedAt = now

	if expectedVersion == 0 {
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		record := orderToRecord(order)
		record.ID = uuid.NewString()
		if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return core.Order{}, core.ErrVersionConflict
			}
			return core.Order{}, err
		}
		return order, nil
	}

	record := orderToRecord(order)
	result, err := s.db.NewUpdate().
		Model(record).
		Column(
			"account_id",
			"status",
			"steps",
			"metadata",
			"tracker_ref",
			"version",
			"updated_at",
		).
		Where("order_id = ?", orderID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return core.Order{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Order{}, err
	}
	if affected == 0 {
		return core.Order{}, core.ErrVersionConflict
	}
	return order, nil
}

func orderToRecord(order core.Order) *orderRecord {
	return &orderRecord{
		OrderID:    order.OrderID,
		AccountID:  order.AccountID,
		Status:     order.Status,
		Steps:      core.CloneBoolMap(order.Steps),
		Metadata:   core.CloneMap(order.Metadata),
		TrackerRef: order.TrackerRef,
		Version:    order.Version,
		CreatedAt:  order.CreatedAt,
		UpdatedAt:  order.UpdatedAt,
	}
}

func orderToDomain(record *orderRecord) core.Order {
	if record == nil {
		return core.Order{}
	}
	return core.Order{
		OrderID:    record.OrderID,
		AccountID:  record.AccountID,
		Status:     record.Status,
		Steps:      core.CloneBoolMap(record.Steps),
		Metadata:   core.CloneMap(record.Metadata),
		TrackerRef: record.TrackerRef,
		Version:    record.Version,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
}
