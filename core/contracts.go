package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

const (
	SourceScheduling = "scheduling"
	SourcePayments   = "payments"
	SourceForms      = "forms"
)

const (
	EntityKindAccount = "account"
	EntityKindOrder   = "order"
	EntityKindSupport = "support"
)

var (
	ErrNotFound        = errors.New("core: not found")
	ErrVersionConflict = errors.New("core: version conflict")
)

// InboundRequest carries the exact raw bytes of an inbound delivery plus
// transport metadata. Body must be the bytes the provider signed; nothing
// parses it before verification.
type InboundRequest struct {
	Source      string
	ContentType string
	Headers     map[string]string
	Body        []byte
	Metadata    map[string]any
}

// NormalizedEvent is the strongly typed output of the normalization
// boundary. Everything downstream of the normalizer works on this shape.
type NormalizedEvent struct {
	Source       string
	Type         string
	EventID      string
	Email        string
	FirstName    string
	LastName     string
	OrderToken   string
	SupportToken string
	Step         string
	Flags        map[string]bool
	Fields       map[string]any
}

// IngestResult reports the outcome of one trip through the pipeline.
// Accepted with a populated ProjectionError means the canonical write
// landed but the tracker projection did not; callers must not retry.
type IngestResult struct {
	Accepted          bool
	StatusCode        int
	Source            string
	EventID           string
	AccountID         string
	EntityKind        string
	EntityID          string
	AlreadyProcessed  bool
	Throttled         bool
	RetryAfter        time.Duration
	ProjectionRef     string
	ProjectionError   string
	NotificationError string
	Metadata          map[string]any
}

// ReceiptStore persists the append-only ledger entries keyed by
// {source}/{event_id}. Implementations never delete receipts and never
// rewrite RawPayload after the initial insert.
type ReceiptStore interface {
	Get(ctx context.Context, source string, eventID string) (Receipt, error)
	Insert(ctx context.Context, receipt Receipt) (Receipt, bool, error)
	UpdateStatus(ctx context.Context, source string, eventID string, status ReceiptStatus, processingError string, attempts int) error
	AttachProjection(ctx context.Context, source string, eventID string, ref string, projectionError string) error
}

// AccountStore and the token-keyed stores below take an expected version:
// 0 means "create, fail if present", anything else guards the update.
// A mismatched guard returns ErrVersionConflict.
type AccountStore interface {
	Get(ctx context.Context, accountID string) (Account, error)
	Put(ctx context.Context, account Account, expectedVersion int64) (Account, error)
}

type OrderStore interface {
	Get(ctx context.Context, orderID string) (Order, error)
	Put(ctx context.Context, order Order, expectedVersion int64) (Order, error)
}

type SupportStore interface {
	Get(ctx context.Context, supportID string) (SupportTicket, error)
	Put(ctx context.Context, ticket SupportTicket, expectedVersion int64) (SupportTicket, error)
}

// TrackerRecord is the payload the projection adapter sends to the
// execution tracker. ReceiptKey and CanonicalKey form the cross-reference
// that lets an operator walk a tracker item back to its source of truth.
type TrackerRecord struct {
	Ref          string
	Title        string
	Status       string
	ReceiptKey   string
	CanonicalKey string
	Fields       map[string]any
}

type TrackerClient interface {
	CreateRecord(ctx context.Context, record TrackerRecord) (string, error)
	UpdateRecord(ctx context.Context, ref string, record TrackerRecord) error
	Annotate(ctx context.Context, ref string, note string) error
}

// MailMessage is what the notification dispatcher sends after projection.
type MailMessage struct {
	To       string
	Subject  string
	Template string
	Vars     map[string]any
}

type MailSender interface {
	Send(ctx context.Context, msg MailMessage) error
}

// MaintenanceTask describes operator-scheduled work (throttle purges,
// receipt replays) handed to the job queue adapter.
type MaintenanceTask struct {
	TaskID         string
	Parameters     map[string]any
	IdempotencyKey string
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// NopMetricsRecorder discards every measurement. It is the default when no
// recorder is injected.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}
