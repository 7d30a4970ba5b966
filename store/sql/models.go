package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type receiptRecord struct {
	bun.BaseModel `bun:"table:intake_receipts,alias:ir"`

	ID              string         `bun:"id,pk"`
	Source          string         `bun:"source,notnull"`
	EventID         string         `bun:"event_id,notnull"`
	EventType       string         `bun:"event_type,notnull"`
	ReceivedAt      time.Time      `bun:"received_at,nullzero,notnull"`
	RawPayload      []byte         `bun:"raw_payload,notnull"`
	Normalized      map[string]any `bun:"normalized,type:jsonb,notnull"`
	Status          string         `bun:"status,notnull"`
	ProcessingError string         `bun:"processing_error"`
	ProjectionRef   string         `bun:"projection_ref"`
	ProjectionError string         `bun:"projection_error"`
	Attempts        int            `bun:"attempts,notnull"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type accountRecord struct {
	bun.BaseModel `bun:"table:intake_accounts,alias:ia"`

	ID             string         `bun:"id,pk"`
	AccountID      string         `bun:"account_id,notnull"`
	FirstName      string         `bun:"first_name"`
	LastName       string         `bun:"last_name"`
	PrimaryEmail   string         `bun:"primary_email,notnull"`
	LifecycleState string         `bun:"lifecycle_state"`
	ActiveOrders   []string       `bun:"active_orders,type:jsonb,notnull"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,notnull"`
	TrackerRef     string         `bun:"tracker_ref"`
	Version        int64          `bun:"version,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type orderRecord struct {
	bun.BaseModel `bun:"table:intake_orders,alias:io"`

	ID         string          `bun:"id,pk"`
	OrderID    string          `bun:"order_id,notnull"`
	AccountID  string          `bun:"account_id,notnull"`
	Status     string          `bun:"status"`
	Steps      map[string]bool `bun:"steps,type:jsonb,notnull"`
	Metadata   map[string]any  `bun:"metadata,type:jsonb,notnull"`
	TrackerRef string          `bun:"tracker_ref"`
	Version    int64           `bun:"version,notnull"`
	CreatedAt  time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type supportTicketRecord struct {
	bun.BaseModel `bun:"table:intake_support_tickets,alias:ist"`

	ID         string          `bun:"id,pk"`
	SupportID  string          `bun:"support_id,notnull"`
	AccountID  string          `bun:"account_id,notnull"`
	Status     string          `bun:"status"`
	Steps      map[string]bool `bun:"steps,type:jsonb,notnull"`
	Metadata   map[string]any  `bun:"metadata,type:jsonb,notnull"`
	TrackerRef string          `bun:"tracker_ref"`
	Version    int64           `bun:"version,notnull"`
	CreatedAt  time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type throttleStateRecord struct {
	bun.BaseModel `bun:"table:intake_throttle_state,alias:its"`

	ID          string    `bun:"id,pk"`
	IdentityKey string    `bun:"identity_key,notnull"`
	LastAt      time.Time `bun:"last_at,nullzero,notnull"`
	CountToday  int       `bun:"count_today,notnull"`
	Day         string    `bun:"day,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
