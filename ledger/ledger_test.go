package ledger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-intake/core"
)

func testEvent() core.NormalizedEvent {
	return core.NormalizedEvent{
		Source:  core.SourceForms,
		Type:    "form.intake",
		EventID: "evt_12345678",
		Email:   "jane@example.com",
	}
}

func newTestLedger(t *testing.T) (*Ledger, *MemoryReceiptStore) {
	t.Helper()
	store := NewMemoryReceiptStore()
	ledger, err := New(store, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger, store
}

func TestBeginPreWritesVerbatimPayload(t *testing.T) {
	ledger, _ := newTestLedger(t)
	raw := []byte(`{"your-email":"jane@example.com"}`)

	receipt, already, err := ledger.Begin(context.Background(), testEvent(), raw)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if already {
		t.Fatal("first delivery must not report already processed")
	}
	if receipt.Status != core.ReceiptStatusPending {
		t.Fatalf("expected pending, got %s", receipt.Status)
	}
	if !bytes.Equal(receipt.RawPayload, raw) {
		t.Fatal("raw payload not stored verbatim")
	}
	if receipt.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", receipt.Attempts)
	}
	if key := receipt.LedgerKey(); key != "receipts/forms/evt_12345678" {
		t.Fatalf("unexpected ledger key %q", key)
	}
}

func TestBeginShortCircuitsCommittedReceipt(t *testing.T) {
	ledger, _ := newTestLedger(t)
	raw := []byte(`{"a":1}`)

	receipt, _, err := ledger.Begin(context.Background(), testEvent(), raw)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := ledger.Commit(context.Background(), receipt); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	again, already, err := ledger.Begin(context.Background(), testEvent(), []byte(`{"replayed":true}`))
	if err != nil {
		t.Fatalf("second begin failed: %v", err)
	}
	if !already {
		t.Fatal("expected already-processed short circuit")
	}
	if again.Status != core.ReceiptStatusCommitted {
		t.Fatalf("expected committed, got %s", again.Status)
	}
	if !bytes.Equal(again.RawPayload, raw) {
		t.Fatal("original raw payload must survive redelivery")
	}
}

func TestBeginReclaimsFailedReceipt(t *testing.T) {
	ledger, _ := newTestLedger(t)
	raw := []byte(`{"a":1}`)

	receipt, _, err := ledger.Begin(context.Background(), testEvent(), raw)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := ledger.Fail(context.Background(), receipt, errors.New("canonical write exploded")); err != nil {
		t.Fatalf("fail write failed: %v", err)
	}

	reclaimed, already, err := ledger.Begin(context.Background(), testEvent(), []byte(`{"redelivered":true}`))
	if err != nil {
		t.Fatalf("redelivery begin failed: %v", err)
	}
	if already {
		t.Fatal("failed receipt must retry, not short-circuit")
	}
	if reclaimed.Status != core.ReceiptStatusPending {
		t.Fatalf("expected pending after re-claim, got %s", reclaimed.Status)
	}
	if reclaimed.ProcessingError != "" {
		t.Fatalf("expected cleared processing error, got %q", reclaimed.ProcessingError)
	}
	if reclaimed.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", reclaimed.Attempts)
	}
	if !bytes.Equal(reclaimed.RawPayload, raw) {
		t.Fatal("re-claim must keep the original raw payload")
	}
}

func TestFailRecordsErrorAndKeepsPayload(t *testing.T) {
	ledger, _ := newTestLedger(t)
	raw := []byte(`{"a":1}`)

	receipt, _, err := ledger.Begin(context.Background(), testEvent(), raw)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := ledger.Fail(context.Background(), receipt, errors.New("tracker down")); err != nil {
		t.Fatalf("fail write failed: %v", err)
	}

	stored, err := ledger.Get(context.Background(), core.SourceForms, "evt_12345678")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != core.ReceiptStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.ProcessingError != "tracker down" {
		t.Fatalf("unexpected processing error %q", stored.ProcessingError)
	}
	if !bytes.Equal(stored.RawPayload, raw) {
		t.Fatal("raw payload altered by failure write")
	}
}

func TestCommittedReceiptCannotFail(t *testing.T) {
	ledger, _ := newTestLedger(t)

	receipt, _, err := ledger.Begin(context.Background(), testEvent(), []byte(`{}`))
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := ledger.Commit(context.Background(), receipt); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	receipt.Status = core.ReceiptStatusCommitted
	if err := ledger.Fail(context.Background(), receipt, errors.New("late failure")); err == nil {
		t.Fatal("expected illegal transition error")
	}
}

func TestAttachProjectionAndFailureNote(t *testing.T) {
	ledger, _ := newTestLedger(t)

	receipt, _, err := ledger.Begin(context.Background(), testEvent(), []byte(`{}`))
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := ledger.AttachProjection(context.Background(), receipt, "trk_001"); err != nil {
		t.Fatalf("attach projection failed: %v", err)
	}
	stored, err := ledger.Get(context.Background(), core.SourceForms, "evt_12345678")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ProjectionRef != "trk_001" {
		t.Fatalf("unexpected projection ref %q", stored.ProjectionRef)
	}

	stored.ProjectionRef = "trk_001"
	if err := ledger.NoteProjectionFailure(context.Background(), stored, errors.New("tracker 502")); err != nil {
		t.Fatalf("note projection failure failed: %v", err)
	}
	noted, err := ledger.Get(context.Background(), core.SourceForms, "evt_12345678")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if noted.ProjectionError != "tracker 502" {
		t.Fatalf("unexpected projection error %q", noted.ProjectionError)
	}
	if noted.ProjectionRef != "trk_001" {
		t.Fatal("projection ref must survive a failure note")
	}
}

func TestGetMissingReceipt(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if _, err := ledger.Get(context.Background(), core.SourceForms, "evt_missing1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
