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

// SupportTicketStore keeps the token-keyed support documents with the same
// version guard contract as AccountStore.
type SupportTicketStore struct {
	db   *bun.DB
	repo repository.Repository[*supportTicketRecord]
}

var _ core.SupportStore = (*SupportTicketStore)(nil)

func NewSupportTicketStore(db *bun.DB) (*SupportTicketStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*supportTicketRecord](db, supportTicketHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid support ticket repository wiring: %w", err)
		}
	}
	return &SupportTicketStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *SupportTicketStore) Get(ctx context.Context, supportID string) (core.SupportTicket, error) {
	if s == nil || s.db == nil {
		return core.SupportTicket{}, fmt.Errorf("sqlstore: support ticket store is not configured")
	}
	record := &supportTicketRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.support_id = ?", strings.TrimSpace(supportID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.SupportTicket{}, core.ErrNotFound
		}
		return core.SupportTicket{}, err
	}
	return supportTicketToDomain(record), nil
}

func (s *SupportTicketStore) Put(ctx context.Context, ticket core.SupportTicket, expectedVersion int64) (core.SupportTicket, error) {
	if s == nil || s.db == nil {
		return core.SupportTicket{}, fmt.Errorf("sqlstore: support ticket store is not configured")
	}
	supportID := strings.TrimSpace(ticket.SupportID)
	if supportID == "" {
		return core.SupportTicket{}, fmt.Errorf("sqlstore: support id is required")
	}
	now := time.Now().UTC()
	ticket.SupportID = supportID
	ticket.Version = expectedVersion + 1
	ticket.UpdatedAt = now

	if expectedVersion == 0 {
		if ticket.CreatedAt.IsZero() {
			ticket.CreatedAt = now
		}
		record := supportTicketToRecord(ticket)
		record.ID = uuid.NewString()
		if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return core.SupportTicket{}, core.ErrVersionConflict
			}
			return core.SupportTicket{}, err
		}
		return ticket, nil
	}

	record := supportTicketToRecord(ticket)
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
		Where("support_id = ?", supportID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return core.SupportTicket{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.SupportTicket{}, err
	}
	if affected == 0 {
		return core.SupportTicket{}, core.ErrVersionConflict
	}
	return ticket, nil
}

func supportTicketToRecord(ticket core.SupportTicket) *supportTicketRecord {
	return &supportTicketRecord{
		SupportID:  ticket.SupportID,
		AccountID:  ticket.AccountID,
		Status:     ticket.Status,
		Steps:      core.CloneBoolMap(ticket.Steps),
		Metadata:   core.CloneMap(ticket.Metadata),
		TrackerRef: ticket.TrackerRef,
		Version:    ticket.Version,
		CreatedAt:  ticket.CreatedAt,
		UpdatedAt:  ticket.UpdatedAt,
	}
}

func supportTicketToDomain(record *supportTicketRecord) core.SupportTicket {
	if record == nil {
		return core.SupportTicket{}
	}
	return core.SupportTicket{
		SupportID:  record.SupportID,
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
