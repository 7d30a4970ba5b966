package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-intake/core"
)

// MemoryReceiptStore is the in-process ReceiptStore used by tests and
// single-instance deployments. Insert is atomic under the store mutex, so
// the first writer for a key wins and every later writer sees the
// existing receipt.
type MemoryReceiptStore struct {
	mu       sync.RWMutex
	receipts map[string]core.Receipt
	Now      func() time.Time
}

var _ core.ReceiptStore = (*MemoryReceiptStore)(nil)

func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{
		receipts: map[string]core.Receipt{},
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryReceiptStore) key(source string, eventID string) string {
	return source + "/" + eventID
}

func (s *MemoryReceiptStore) Get(_ context.Context, source string, eventID string) (core.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	receipt, ok := s.receipts[s.key(source, eventID)]
	if !ok {
		return core.Receipt{}, core.ErrNotFound
	}
	return core.CloneReceipt(receipt), nil
}

func (s *MemoryReceiptStore) Insert(_ context.Context, receipt core.Receipt) (core.Receipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(receipt.Source, receipt.EventID)
	if existing, ok := s.receipts[key]; ok {
		return core.CloneReceipt(existing), false, nil
	}
	now := s.Now()
	receipt.CreatedAt = now
	receipt.UpdatedAt = now
	s.receipts[key] = core.CloneReceipt(receipt)
	return core.CloneReceipt(receipt), true, nil
}

func (s *MemoryReceiptStore) UpdateStatus(_ context.Context, source string, eventID string, status core.ReceiptStatus, processingError string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(source, eventID)
	receipt, ok := s.receipts[key]
	if !ok {
		return core.ErrNotFound
	}
	receipt.Status = status
	receipt.ProcessingError = processingError
	receipt.Attempts = attempts
	receipt.UpdatedAt = s.Now()
	s.receipts[key] = receipt
	return nil
}

func (s *MemoryReceiptStore) AttachProjection(_ context.Context, source string, eventID string, ref string, projectionError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(source, eventID)
	receipt, ok := s.receipts[key]
	if !ok {
		return core.ErrNotFound
	}
	if ref != "" {
		receipt.ProjectionRef = ref
	}
	receipt.ProjectionError = projectionError
	receipt.UpdatedAt = s.Now()
	s.receipts[key] = receipt
	return nil
}
