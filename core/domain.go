package core

import (
	"sort"
	"strings"
	"time"
)

// Account is the canonical document for a person, keyed by the
// deterministic id derived from their normalized email. Documents are
// merged, never replaced: an event that owns only lifecycle fields must
// not erase metadata captured by earlier events.
type Account struct {
	AccountID      string
	FirstName      string
	LastName       string
	PrimaryEmail   string
	LifecycleState string
	ActiveOrders   []string
	Metadata       map[string]any
	TrackerRef     string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a Account) CanonicalKey() string {
	return "accounts/" + strings.TrimSpace(a.AccountID)
}

// Order is a token-keyed secondary entity. Steps is the progress map the
// tracker projection summarizes.
type Order struct {
	OrderID    string
	AccountID  string
	Status     string
	Steps      map[string]bool
	Metadata   map[string]any
	TrackerRef string
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (o Order) CanonicalKey() string {
	return "orders/" + strings.TrimSpace(o.OrderID)
}

type SupportTicket struct {
	SupportID  string
	AccountID  string
	Status     string
	Steps      map[string]bool
	Metadata   map[string]any
	TrackerRef string
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (t SupportTicket) CanonicalKey() string {
	return "support/" + strings.TrimSpace(t.SupportID)
}

// AccountPatch carries only the fields the current event owns. Zero-value
// fields are left out of the merge.
type AccountPatch struct {
	AccountID      string
	FirstName      string
	LastName       string
	PrimaryEmail   string
	LifecycleState string
	AddOrders      []string
	Metadata       map[string]any
}

type OrderPatch struct {
	OrderID   string
	AccountID string
	Status    string
	Steps     map[string]bool
	Metadata  map[string]any
}

type SupportPatch struct {
	SupportID string
	AccountID string
	Status    string
	Steps     map[string]bool
	Metadata  map[string]any
}

// MergeAccount applies the patch over the existing document. Unset patch
// fields carry the existing values through; metadata merges key-wise and
// active orders union without duplicates.
func MergeAccount(existing Account, patch AccountPatch) Account {
	merged := existing
	merged.AccountID = firstNonEmpty(patch.AccountID, existing.AccountID)
	merged.FirstName = firstNonEmpty(patch.FirstName, existing.FirstName)
	merged.LastName = firstNonEmpty(patch.LastName, existing.LastName)
	merged.PrimaryEmail = firstNonEmpty(patch.PrimaryEmail, existing.PrimaryEmail)
	merged.LifecycleState = firstNonEmpty(patch.LifecycleState, existing.LifecycleState)
	merged.ActiveOrders = unionStrings(existing.ActiveOrders, patch.AddOrders)
	merged.Metadata = mergeMaps(existing.Metadata, patch.Metadata)
	return merged
}

func MergeOrder(existing Order, patch OrderPatch) Order {
	merged := existing
	merged.OrderID = firstNonEmpty(patch.OrderID, existing.OrderID)
	merged.AccountID = firstNonEmpty(patch.AccountID, existing.AccountID)
	merged.Status = firstNonEmpty(patch.Status, existing.Status)
	merged.Steps = mergeBoolMaps(existing.Steps, patch.Steps)
	merged.Metadata = mergeMaps(existing.Metadata, patch.Metadata)
	return merged
}

func MergeSupportTicket(existing SupportTicket, patch SupportPatch) SupportTicket {
	merged := existing
	merged.SupportID = firstNonEmpty(patch.SupportID, existing.SupportID)
	merged.AccountID = firstNonEmpty(patch.AccountID, existing.AccountID)
	merged.Status = firstNonEmpty(patch.Status, existing.Status)
	merged.Steps = mergeBoolMaps(existing.Steps, patch.Steps)
	merged.Metadata = mergeMaps(existing.Metadata, patch.Metadata)
	return merged
}

func CloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return map[string]any{}
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func CloneBoolMap(src map[string]bool) map[string]bool {
	if len(src) == 0 {
		return map[string]bool{}
	}
	dst := make(map[string]bool, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func mergeMaps(base map[string]any, overlay map[string]any) map[string]any {
	merged := CloneMap(base)
	for key, value := range overlay {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		merged[trimmed] = value
	}
	return merged
}

func mergeBoolMaps(base map[string]bool, overlay map[string]bool) map[string]bool {
	merged := CloneBoolMap(base)
	for key, value := range overlay {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		merged[trimmed] = value
	}
	return merged
}

func unionStrings(base []string, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, value := range append(append([]string(nil), base...), extra...) {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
