package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-intake/ratelimit"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ThrottleStateStore persists the per-identity throttle records the guard
// reads before admitting a submission.
type ThrottleStateStore struct {
	db   *bun.DB
	repo repository.Repository[*throttleStateRecord]
}

var _ ratelimit.StateStore = (*ThrottleStateStore)(nil)

func NewThrottleStateStore(db *bun.DB) (*ThrottleStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*throttleStateRecord](db, throttleStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid throttle state repository wiring: %w", err)
		}
	}
	return &ThrottleStateStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *ThrottleStateStore) Get(ctx context.Context, key string) (ratelimit.State, bool, error) {
	if s == nil || s.db == nil {
		return ratelimit.State{}, false, fmt.Errorf("sqlstore: throttle state store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ratelimit.State{}, false, fmt.Errorf("sqlstore: identity key is required")
	}
	record := &throttleStateRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.identity_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return ratelimit.State{}, false, nil
		}
		return ratelimit.State{}, false, err
	}
	return ratelimit.State{
		Key:        record.IdentityKey,
		LastAt:     record.LastAt,
		CountToday: record.CountToday,
		Day:        record.Day,
	}, true, nil
}

func (s *ThrottleStateStore) Put(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: throttle state store is not configured")
	}
	key := strings.TrimSpace(state.Key)
	if key == "" {
		return fmt.Errorf("sqlstore: identity key is required")
	}
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &throttleStateRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.identity_key = ?", key).
			Limit(1).
			Scan(ctx)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == sql.ErrNoRows {
			record := &throttleStateRecord{
				ID:          uuid.NewString(),
				IdentityKey: key,
				LastAt:      state.LastAt.UTC(),
				CountToday:  state.CountToday,
				Day:         state.Day,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}
		existing.LastAt = state.LastAt.UTC()
		existing.CountToday = state.CountToday
		existing.Day = state.Day
		existing.UpdatedAt = now
		_, updateErr := tx.NewUpdate().
			Model(existing).
			Column("last_at", "count_today", "day", "updated_at").
			Where("id = ?", existing.ID).
			Exec(ctx)
		return updateErr
	})
}

func (s *ThrottleStateStore) PurgeStale(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: throttle state store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*throttleStateRecord)(nil)).
		Where("last_at < ?", olderThan.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
