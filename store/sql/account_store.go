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

// AccountStore keeps the canonical account documents. Put is version
// guarded: expected version 0 creates the row and fails when it already
// exists, any other value must match the stored version or the write is
// rejected with core.ErrVersionConflict.
type AccountStore struct {
	db   *bun.DB
	repo repository.Repository[*accountRecord]
}

var _ core.AccountStore = (*AccountStore)(nil)

func NewAccountStore(db *bun.DB) (*AccountStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*accountRecord](db, accountHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid account repository wiring: %w", err)
		}
	}
	return &AccountStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *AccountStore) Get(ctx context.Context, accountID string) (core.Account, error) {
	if s == nil || s.db == nil {
		return core.Account{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	record := &accountRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.account_id = ?", strings.TrimSpace(accountID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Account{}, core.ErrNotFound
		}
		return core.Account{}, err
	}
	return accountToDomain(record), nil
}

func (s *AccountStore) Put(ctx context.Context, account core.Account, expectedVersion int64) (core.Account, error) {
	if s == nil || s.db == nil {
		return core.Account{}, fmt.Errorf("sqlstore: account store is not configured")
	}
	accountID := strings.TrimSpace(account.AccountID)
	if accountID == "" {
		return core.Account{}, fmt.Errorf("sqlstore: account id is required")
	}
	now := time.Now().UTC()
	account.AccountID = accountID
	account.Version = expectedVersion + 1
	account.UpdatedAt = now

	if expectedVersion == 0 {
		if account.CreatedAt.IsZero() {
			account.CreatedAt = now
		}
		record := accountToRecord(account)
		record.ID = uuid.NewString()
		if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return core.Account{}, core.ErrVersionConflict
			}
			return core.Account{}, err
		}
		return account, nil
	}

	record := accountToRecord(account)
	result, err := s.db.NewUpdate().
		Model(record).
		Column(
			"first_name",
			"last_name",
			"primary_email",
			"lifecycle_state",
			"active_orders",
			"metadata",
			"tracker_ref",
			"version",
			"updated_at",
		).
		Where("account_id = ?", accountID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return core.Account{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Account{}, err
	}
	if affected == 0 {
		return core.Account{}, core.ErrVersionConflict
	}
	return account, nil
}

func accountToRecord(account core.Account) *accountRecord {
	return &accountRecord{
		AccountID:      account.AccountID,
		FirstName:      account.FirstName,
		LastName:       account.LastName,
		PrimaryEmail:   account.PrimaryEmail,
		LifecycleState: account.LifecycleState,
		ActiveOrders:   append([]string(nil), account.ActiveOrders...),
		Metadata:       core.CloneMap(account.Metadata),
		TrackerRef:     account.TrackerRef,
		Version:        account.Version,
		CreatedAt:      account.CreatedAt,
		UpdatedAt:      account.UpdatedAt,
	}
}

func accountToDomain(record *accountRecord) core.Account {
	if record == nil {
		return core.Account{}
	}
	return core.Account{
		AccountID:      record.AccountID,
		FirstName:      record.FirstName,
		LastName:       record.LastName,
		PrimaryEmail:   record.PrimaryEmail,
		LifecycleState: record.LifecycleState,
		ActiveOrders:   append([]string(nil), record.ActiveOrders...),
		Metadata:       core.CloneMap(record.Metadata),
		TrackerRef:     record.TrackerRef,
		Version:        record.Version,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}
