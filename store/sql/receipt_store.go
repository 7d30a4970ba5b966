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

// ReceiptStore persists ledger receipts with a unique (source, event_id)
// constraint. The constraint is the idempotency gate: concurrent inserts
// for the same delivery collapse into one row and later writers get the
// existing receipt back.
type ReceiptStore struct {
	db   *bun.DB
	repo repository.Repository[*receiptRecord]
}

var _ core.ReceiptStore = (*ReceiptStore)(nil)

func NewReceiptStore(db *bun.DB) (*ReceiptStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*receiptRecord](db, receiptHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid receipt repository wiring: %w", err)
		}
	}
	return &ReceiptStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *ReceiptStore) Get(ctx context.Context, source string, eventID string) (core.Receipt, error) {
	if s == nil || s.db == nil {
		return core.Receipt{}, fmt.Errorf("sqlstore: receipt store is not configured")
	}
	record, err := s.find(ctx, source, eventID)
	if err != nil {
		return core.Receipt{}, err
	}
	return receiptToDomain(record), nil
}

func (s *ReceiptStore) Insert(ctx context.Context, receipt core.Receipt) (core.Receipt, bool, error) {
	if s == nil || s.db == nil {
		return core.Receipt{}, false, fmt.Errorf("sqlstore: receipt store is not configured")
	}
	source := strings.TrimSpace(receipt.Source)
	eventID := strings.TrimSpace(receipt.EventID)
	if source == "" || eventID == "" {
		return core.Receipt{}, false, fmt.Errorf("sqlstore: receipt source and event id are required")
	}

	now := time.Now().UTC()
	record := &receiptRecord{
		ID:              uuid.NewString(),
		Source:          source,
		EventID:         eventID,
		EventType:       receipt.Type,
		ReceivedAt:      receipt.ReceivedAt.UTC(),
		RawPayload:      append([]byte(nil), receipt.RawPayload...),
		Normalized:      core.CloneMap(receipt.Normalized),
		Status:          string(receipt.Status),
		ProcessingError: receipt.ProcessingError,
		ProjectionRef:   receipt.ProjectionRef,
		ProjectionError: receipt.ProjectionError,
		Attempts:        receipt.Attempts,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = now
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.Get(ctx, source, eventID)
			if getErr != nil {
				return core.Receipt{}, false, getErr
			}
			return existing, false, nil
		}
		return core.Receipt{}, false, err
	}
	return receiptToDomain(record), true, nil
}

func (s *ReceiptStore) UpdateStatus(ctx context.Context, source string, eventID string, status core.ReceiptStatus, processingError string, attempts int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: receipt store is not configured")
	}
	if !core.ValidReceiptStatus(status) {
		return fmt.Errorf("sqlstore: invalid receipt status %q", status)
	}
	result, err := s.db.NewUpdate().
		Model((*receiptRecord)(nil)).
		Set("status = ?", string(status)).
		Set("processing_error = ?", processingError).
		Set("attempts = ?", attempts).
		Set("updated_at = ?", time.Now().UTC()).
		Where("source = ?", strings.TrimSpace(source)).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireRowsAffected(result)
}

func (s *ReceiptStore) AttachProjection(ctx context.Context, source string, eventID string, ref string, projectionError string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: receipt store is not configured")
	}
	query := s.db.NewUpdate().
		Model((*receiptRecord)(nil)).
		Set("projection_error = ?", projectionError).
		Set("updated_at = ?", time.Now().UTC()).
		Where("source = ?", strings.TrimSpace(source)).
		Where("event_id = ?", strings.TrimSpace(eventID))
	if strings.TrimSpace(ref) != "" {
		query = query.Set("projection_ref = ?", strings.TrimSpace(ref))
	}
	result, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	return requireRowsAffected(result)
}

func (s *ReceiptStore) find(ctx context.Context, source string, eventID string) (*receiptRecord, error) {
	record := &receiptRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.source = ?", strings.TrimSpace(source)).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

func receiptToDomain(record *receiptRecord) core.Receipt {
	if record == nil {
		return core.Receipt{}
	}
	return core.Receipt{
		Source:          record.Source,
		EventID:         record.EventID,
		Type:            record.EventType,
		ReceivedAt:      record.ReceivedAt,
		RawPayload:      append([]byte(nil), record.RawPayload...),
		Normalized:      core.CloneMap(record.Normalized),
		Status:          core.ReceiptStatus(record.Status),
		ProcessingError: record.ProcessingError,
		ProjectionRef:   record.ProjectionRef,
		ProjectionError: record.ProjectionError,
		Attempts:        record.Attempts,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

func requireRowsAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	return nil
}
