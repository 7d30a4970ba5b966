// Package canonical owns the merge-upsert engine for Account, Order, and
// SupportTicket documents. Every write is an optimistic read-merge-write:
// the put carries the version the merge was computed from, the store
// rejects a stale guard with ErrVersionConflict, and the engine re-reads
// and re-merges. Documents are merged field-wise, never replaced, so an
// event that owns only lifecycle fields cannot erase earlier metadata.
package canonical

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/core"
)

const maxConflictRetries = 3

type Engine struct {
	accounts core.AccountStore
	orders   core.OrderStore
	support  core.SupportStore
	logger   core.Logger
	Now      func() time.Time
}

func NewEngine(accounts core.AccountStore, orders core.OrderStore, support core.SupportStore, logger core.Logger) (*Engine, error) {
	if accounts == nil || orders == nil || support == nil {
		return nil, fmt.Errorf("canonical: account, order, and support stores are required")
	}
	return &Engine{
		accounts: accounts,
		orders:   orders,
		support:  support,
		logger:   glog.Ensure(logger),
		Now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// UpsertAccount merges the patch into the current document under a
// version guard. Conflicts re-read and re-merge up to maxConflictRetries
// times; concurrent writers converge because the merge is field-wise.
func (e *Engine) UpsertAccount(ctx context.Context, patch core.AccountPatch) (core.Account, error) {
	if e == nil {
		return core.Account{}, fmt.Errorf("canonical: engine is not configured")
	}
	accountID := strings.TrimSpace(patch.AccountID)
	if accountID == "" {
		return core.Account{}, fmt.Errorf("canonical: account id is required")
	}

	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		existing, err := e.accounts.Get(ctx, accountID)
		var expectedVersion int64
		switch {
		case err == nil:
			expectedVersion = existing.Version
		case errors.Is(err, core.ErrNotFound):
			existing = core.Account{AccountID: accountID, CreatedAt: e.now()}
		default:
			return core.Account{}, fmt.Errorf("canonical: read account %s: %w", accountID, err)
		}

		merged := core.MergeAccount(existing, patch)
		merged.UpdatedAt = e.now()
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = merged.UpdatedAt
		}

		stored, err := e.accounts.Put(ctx, merged, expectedVersion)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, core.ErrVersionConflict) {
			return core.Account{}, fmt.Errorf("canonical: write account %s: %w", accountID, err)
		}
		lastErr = err
		e.logger.Info("canonical account write conflicted, retrying",
			"account_id", accountID,
			"attempt", attempt+1,
		)
	}
	return core.Account{}, fmt.Errorf("canonical: account %s conflicted %d times: %w", accountID, maxConflictRetries, lastErr)
}

func (e *Engine) UpsertOrder(ctx context.Context, patch core.OrderPatch) (core.Order, error) {
	if e == nil {
		return core.Order{}, fmt.Errorf("canonical: engine is not configured")
	}
	orderID := strings.TrimSpace(patch.OrderID)
	if orderID == "" {
		return core.Order{}, fmt.Errorf("canonical: order id is required")
	}

	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		existing, err := e.orders.Get(ctx, orderID)
		var expectedVersion int64
		switch {
		case err == nil:
			expectedVersion = existing.Version
		case errors.Is(err, core.ErrNotFound):
			existing = core.Order{OrderID: orderID, CreatedAt: e.now()}
		default:
			return core.Order{}, fmt.Errorf("canonical: read order %s: %w", orderID, err)
		}

		merged := core.MergeOrder(existing, patch)
		merged.UpdatedAt = e.now()
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = merged.UpdatedAt
		}

		stored, err := e.orders.Put(ctx, merged, expectedVersion)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, core.ErrVersionConflict) {
			return core.Order{}, fmt.Errorf("canonical: write order %s: %w", orderID, err)
		}
		lastErr = err
		e.logger.Info("canonical order write conflicted, retrying",
			"attempt", attempt+1,
			"order_id", orderID,
		)
	}
	return core.Order{}, fmt.Errorf("canonical: order %s conflicted %d times: %w", orderID, maxConflictRetries, lastErr)
}

func (e *Engine) UpsertSupportTicket(ctx context.Context, patch core.SupportPatch) (core.SupportTicket, error) {
	if e == nil {
		return core.SupportTicket{}, fmt.Errorf("canonical: engine is not configured")
	}
	supportID := strings.TrimSpace(patch.SupportID)
	if supportID == "" {
		return core.SupportTicket{}, fmt.Errorf("canonical: support id is required")
	}

	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		existing, err := e.support.Get(ctx, supportID)
		var expectedVersion int64
		switch {
		case err == nil:
			expectedVersion = existing.Version
		case errors.Is(err, core.ErrNotFound):
			existing = core.SupportTicket{SupportID: supportID, CreatedAt: e.now()}
		default:
			return core.SupportTicket{}, fmt.Errorf("canonical: read support ticket %s: %w", supportID, err)
		}

		merged := core.MergeSupportTicket(existing, patch)
		merged.UpdatedAt = e.now()
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = merged.UpdatedAt
		}

		stored, err := e.support.Put(ctx, merged, expectedVersion)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, core.ErrVersionConflict) {
			return core.SupportTicket{}, fmt.Errorf("canonical: write support ticket %s: %w", supportID, err)
		}
		lastErr = err
		e.logger.Info("canonical support write conflicted, retrying",
			"attempt", attempt+1,
			"support_id", supportID,
		)
	}
	return core.SupportTicket{}, fmt.Errorf("canonical: support ticket %s conflicted %d times: %w", supportID, maxConflictRetries, lastErr)
}

// AttachTrackerRef writes the projection cross-reference back onto the
// canonical document. The projection adapter owns only this pointer.
func (e *Engine) AttachTrackerRef(ctx context.Context, kind string, id string, ref string) error {
	if e == nil {
		return fmt.Errorf("canonical: engine is not configured")
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("canonical: tracker ref is required")
	}
	switch kind {
	case core.EntityKindAccount:
		account, err := e.accounts.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("canonical: read account %s: %w", id, err)
		}
		account.TrackerRef = ref
		account.UpdatedAt = e.now()
		_, err = e.accounts.Put(ctx, account, account.Version)
		return err
	case core.EntityKindOrder:
		order, err := e.orders.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("canonical: read order %s: %w", id, err)
		}
		order.TrackerRef = ref
		order.UpdatedAt = e.now()
		_, err = e.orders.Put(ctx, order, order.Version)
		return err
	case core.EntityKindSupport:
		ticket, err := e.support.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("canonical: read support ticket %s: %w", id, err)
		}
		ticket.TrackerRef = ref
		ticket.UpdatedAt = e.now()
		_, err = e.support.Put(ctx, ticket, ticket.Version)
		return err
	default:
		return fmt.Errorf("canonical: unknown entity kind %s", kind)
	}
}

// Read path for the presentation layer: current canonical documents by id.

func (e *Engine) GetAccount(ctx context.Context, accountID string) (core.Account, error) {
	if e == nil {
		return core.Account{}, fmt.Errorf("canonical: engine is not configured")
	}
	return e.accounts.Get(ctx, strings.TrimSpace(accountID))
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (core.Order, error) {
	if e == nil {
		return core.Order{}, fmt.Errorf("canonical: engine is not configured")
	}
	return e.orders.Get(ctx, strings.TrimSpace(orderID))
}

func (e *Engine) GetSupportTicket(ctx context.Context, supportID string) (core.SupportTicket, error) {
	if e == nil {
		return core.SupportTicket{}, fmt.Errorf("canonical: engine is not configured")
	}
	return e.support.Get(ctx, strings.TrimSpace(supportID))
}
