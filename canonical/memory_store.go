package canonical

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-intake/core"
)

// Memory stores honoring the expected-version contract: 0 means create
// and fail if a document already exists, any other value must match the
// stored version or the put returns ErrVersionConflict.

type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]core.Account
}

var _ core.AccountStore = (*MemoryAccountStore)(nil)

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: map[string]core.Account{}}
}

func (s *MemoryAccountStore) Get(_ context.Context, accountID string) (core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[strings.TrimSpace(accountID)]
	if !ok {
		return core.Account{}, core.ErrNotFound
	}
	return cloneAccount(account), nil
}

func (s *MemoryAccountStore) Put(_ context.Context, account core.Account, expectedVersion int64) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(account.AccountID)
	existing, exists := s.accounts[key]
	if expectedVersion == 0 && exists {
		return core.Account{}, core.ErrVersionConflict
	}
	if expectedVersion != 0 && (!exists || existing.Version != expectedVersion) {
		return core.Account{}, core.ErrVersionConflict
	}
	account.Version = expectedVersion + 1
	s.accounts[key] = cloneAccount(account)
	return cloneAccount(account), nil
}

type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]core.Order
}

var _ core.OrderStore = (*MemoryOrderStore)(nil)

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: map[string]core.Order{}}
}

func (s *MemoryOrderStore) Get(_ context.Context, orderID string) (core.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[strings.TrimSpace(orderID)]
	if !ok {
		return core.Order{}, core.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *MemoryOrderStore) Put(_ context.Context, order core.Order, expectedVersion int64) (core.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(order.OrderID)
	existing, exists := s.orders[key]
	if expectedVersion == 0 && exists {
		return core.Order{}, core.ErrVersionConflict
	}
	if expectedVersion != 0 && (!exists || existing.Version != expectedVersion) {
		return core.Order{}, core.ErrVersionConflict
	}
	order.Version = expectedVersion + 1
	s.orders[key] = cloneOrder(order)
	return cloneOrder(order), nil
}

type MemorySupportStore struct {
	mu      sync.RWMutex
	tickets map[string]core.SupportTicket
}

var _ core.SupportStore = (*MemorySupportStore)(nil)

func NewMemorySupportStore() *MemorySupportStore {
	return &MemorySupportStore{tickets: map[string]core.SupportTicket{}}
}

func (s *MemorySupportStore) Get(_ context.Context, supportID string) (core.SupportTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[strings.TrimSpace(supportID)]
	if !ok {
		return core.SupportTicket{}, core.ErrNotFound
	}
	return cloneSupportTicket(ticket), nil
}

func (s *MemorySupportStore) Put(_ context.Context, ticket core.SupportTicket, expectedVersion int64) (core.SupportTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.TrimSpace(ticket.SupportID)
	existing, exists := s.tickets[key]
	if expectedVersion == 0 && exists {
		return core.SupportTicket{}, core.ErrVersionConflict
	}
	if expectedVersion != 0 && (!exists || existing.Version != expectedVersion) {
		return core.SupportTicket{}, core.ErrVersionConflict
	}
	ticket.Version = expectedVersion + 1
	s.tickets[key] = cloneSupportTicket(ticket)
	return cloneSupportTicket(ticket), nil
}

func cloneAccount(account core.Account) core.Account {
	cloned := account
	cloned.ActiveOrders = append([]string(nil), account.ActiveOrders...)
	cloned.Metadata = core.CloneMap(account.Metadata)
	return cloned
}

func cloneOrder(order core.Order) core.Order {
	cloned := order
	cloned.Steps = core.CloneBoolMap(order.Steps)
	cloned.Metadata = core.CloneMap(order.Metadata)
	return cloned
}

func cloneSupportTicket(ticket core.SupportTicket) core.SupportTicket {
	cloned := ticket
	cloned.Steps = core.CloneBoolMap(ticket.Steps)
	cloned.Metadata = core.CloneMap(ticket.Metadata)
	return cloned
}
