package core

import (
	"fmt"
	"strings"
	"time"
)

type ReceiptStatus string

const (
	ReceiptStatusPending   ReceiptStatus = "pending"
	ReceiptStatusCommitted ReceiptStatus = "committed"
	ReceiptStatusFailed    ReceiptStatus = "failed"
)

// Receipt is one append-only ledger entry for an inbound event. RawPayload
// holds the verbatim delivery bytes and is immutable after the pre-write;
// only Status, ProcessingError, Attempts, and the projection fields change
// afterwards.
type Receipt struct {
	Source          string
	EventID         string
	Type            string
	ReceivedAt      time.Time
	RawPayload      []byte
	Normalized      map[string]any
	Status          ReceiptStatus
	ProcessingError string
	ProjectionRef   string
	ProjectionError string
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LedgerKey is the logical path of the receipt: receipts/{source}/{event_id}.
func (r Receipt) LedgerKey() string {
	return "receipts/" + strings.TrimSpace(r.Source) + "/" + strings.TrimSpace(r.EventID)
}

func (r Receipt) Terminal() bool {
	return r.Status == ReceiptStatusCommitted
}

// legalTransitions is the full transition table for the receipt state
// machine. A failed receipt may return to pending when an operator or the
// originating provider resubmits the same event id; a committed receipt
// never leaves its terminal state.
var legalTransitions = map[ReceiptStatus][]ReceiptStatus{
	ReceiptStatusPending: {ReceiptStatusCommitted, ReceiptStatusFailed},
	ReceiptStatusFailed:  {ReceiptStatusPending},
}

func CanTransition(from ReceiptStatus, to ReceiptStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func ValidateTransition(from ReceiptStatus, to ReceiptStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("core: illegal receipt transition %s -> %s", from, to)
	}
	return nil
}

func ValidReceiptStatus(status ReceiptStatus) bool {
	switch status {
	case ReceiptStatusPending, ReceiptStatusCommitted, ReceiptStatusFailed:
		return true
	default:
		return false
	}
}

// CloneReceipt copies the receipt including its raw payload so callers
// cannot mutate stored bytes through a returned value.
func CloneReceipt(r Receipt) Receipt {
	cloned := r
	cloned.RawPayload = append([]byte(nil), r.RawPayload...)
	cloned.Normalized = CloneMap(r.Normalized)
	return cloned
}
