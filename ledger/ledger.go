// Package ledger implements the append-only receipt log and the
// idempotency gate in front of the processing pipeline. Begin is the
// pre-write: the verbatim raw payload lands before any side effect, so the
// fact of the delivery survives a crash in any later step.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/core"
)

type Ledger struct {
	store  core.ReceiptStore
	logger core.Logger
	Now    func() time.Time
}

func New(store core.ReceiptStore, logger core.Logger) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: receipt store is required")
	}
	return &Ledger{
		store:  store,
		logger: glog.Ensure(logger),
		Now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// Begin runs the idempotency check and the pre-write for one delivery.
// A committed receipt short-circuits: the caller must return the prior
// success without re-running side effects. A pending or failed receipt is
// re-claimed back to pending, keeping the original raw payload verbatim,
// and the pipeline runs again from normalization.
func (l *Ledger) Begin(ctx context.Context, event core.NormalizedEvent, raw []byte) (core.Receipt, bool, error) {
	if l == nil {
		return core.Receipt{}, false, fmt.Errorf("ledger: ledger is not configured")
	}
	source := strings.TrimSpace(event.Source)
	eventID := strings.TrimSpace(event.EventID)
	if source == "" || eventID == "" {
		return core.Receipt{}, false, fmt.Errorf("ledger: source and event id are required")
	}

	receipt := core.Receipt{
		Source:     source,
		EventID:    eventID,
		Type:       strings.TrimSpace(event.Type),
		ReceivedAt: l.now(),
		RawPayload: append([]byte(nil), raw...),
		Normalized: normalizedSnapshot(event),
		Status:     core.ReceiptStatusPending,
		Attempts:   1,
	}
	inserted, created, err := l.store.Insert(ctx, receipt)
	if err != nil {
		return core.Receipt{}, false, goerrors.Wrap(err, goerrors.CategoryOperation, "ledger: receipt pre-write failed").
			WithTextCode(core.IntakeErrorDependencyFailed)
	}
	if created {
		return inserted, false, nil
	}

	existing := inserted
	if existing.Status == core.ReceiptStatusCommitted {
		l.logger.Info("ledger short-circuit, receipt already committed",
			"event_id", eventID,
			"source", source,
		)
		return existing, true, nil
	}

	// Re-claim: a pending receipt means a prior run crashed mid-pipeline, a
	// failed one means the provider redelivered after a recorded failure.
	// Either way the original payload stays untouched.
	if existing.Status == core.ReceiptStatusFailed {
		if err := core.ValidateTransition(existing.Status, core.ReceiptStatusPending); err != nil {
			return core.Receipt{}, false, err
		}
	}
	attempts := existing.Attempts + 1
	if err := l.store.UpdateStatus(ctx, source, eventID, core.ReceiptStatusPending, "", attempts); err != nil {
		return core.Receipt{}, false, goerrors.Wrap(err, goerrors.CategoryOperation, "ledger: receipt re-claim failed").
			WithTextCode(core.IntakeErrorDependencyFailed)
	}
	existing.Status = core.ReceiptStatusPending
	existing.ProcessingError = ""
	existing.Attempts = attempts
	l.logger.Info("ledger re-claimed receipt for retry",
		"attempts", attempts,
		"event_id", eventID,
		"source", source,
	)
	return existing, false, nil
}

// Commit marks the receipt's pipeline run as fully succeeded.
func (l *Ledger) Commit(ctx context.Context, receipt core.Receipt) error {
	if err := core.ValidateTransition(receipt.Status, core.ReceiptStatusCommitted); err != nil {
		return err
	}
	if err := l.store.UpdateStatus(ctx, receipt.Source, receipt.EventID, core.ReceiptStatusCommitted, "", receipt.Attempts); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "ledger: receipt commit failed").
			WithTextCode(core.IntakeErrorDependencyFailed)
	}
	return nil
}

// Fail records a pipeline failure on the receipt. The raw payload stays;
// redelivery of the same event id retries the run.
func (l *Ledger) Fail(ctx context.Context, receipt core.Receipt, cause error) error {
	if err := core.ValidateTransition(receipt.Status, core.ReceiptStatusFailed); err != nil {
		return err
	}
	message := "processing failed"
	if cause != nil {
		message = cause.Error()
	}
	if err := l.store.UpdateStatus(ctx, receipt.Source, receipt.EventID, core.ReceiptStatusFailed, message, receipt.Attempts); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "ledger: receipt failure write failed").
			WithTextCode(core.IntakeErrorDependencyFailed)
	}
	return nil
}

// AttachProjection records the tracker reference once the projection
// succeeded.
func (l *Ledger) AttachProjection(ctx context.Context, receipt core.Receipt, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("ledger: projection ref is required")
	}
	return l.store.AttachProjection(ctx, receipt.Source, receipt.EventID, ref, "")
}

// NoteProjectionFailure records that the canonical write landed but the
// tracker projection did not. The receipt still commits; the failure is
// informational and must not induce a provider retry.
func (l *Ledger) NoteProjectionFailure(ctx context.Context, receipt core.Receipt, cause error) error {
	message := "projection failed"
	if cause != nil {
		message = cause.Error()
	}
	return l.store.AttachProjection(ctx, receipt.Source, receipt.EventID, receipt.ProjectionRef, message)
}

func (l *Ledger) Get(ctx context.Context, source string, eventID string) (core.Receipt, error) {
	if l == nil {
		return core.Receipt{}, fmt.Errorf("ledger: ledger is not configured")
	}
	return l.store.Get(ctx, source, eventID)
}

func normalizedSnapshot(event core.NormalizedEvent) map[string]any {
	snapshot := map[string]any{
		"source": event.Source,
		"type":   event.Type,
	}
	if event.Email != "" {
		snapshot["email"] = event.Email
	}
	if event.FirstName != "" {
		snapshot["first_name"] = event.FirstName
	}
	if event.LastName != "" {
		snapshot["last_name"] = event.LastName
	}
	if event.OrderToken != "" {
		snapshot["order_token"] = event.OrderToken
	}
	if event.SupportToken != "" {
		snapshot["support_token"] = event.SupportToken
	}
	if event.Step != "" {
		snapshot["step"] = event.Step
	}
	for key, value := range event.Flags {
		snapshot["flag_"+key] = value
	}
	for key, value := range event.Fields {
		snapshot[key] = value
	}
	return snapshot
}
