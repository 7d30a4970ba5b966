package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/pipeline"
)

const defaultMaxBodyBytes = 1 << 20

// CanonicalReader is the read path toward the presentation layer. The
// canonical engine implements it.
type CanonicalReader interface {
	GetAccount(ctx context.Context, accountID string) (core.Account, error)
	GetOrder(ctx context.Context, orderID string) (core.Order, error)
	GetSupportTicket(ctx context.Context, supportID string) (core.SupportTicket, error)
}

type Dispatcher struct {
	processor    pipeline.Processor
	reader       CanonicalReader
	logger       core.Logger
	MaxBodyBytes int64

	mu      sync.RWMutex
	sources map[string]bool
}

func NewDispatcher(processor pipeline.Processor, reader CanonicalReader, logger core.Logger) (*Dispatcher, error) {
	if processor == nil {
		return nil, fmt.Errorf("inbound: processor is required")
	}
	return &Dispatcher{
		processor:    processor,
		reader:       reader,
		logger:       glog.Ensure(logger),
		MaxBodyBytes: defaultMaxBodyBytes,
		sources:      map[string]bool{},
	}, nil
}

// RegisterSource allows deliveries for one source. Unregistered sources
// are rejected before the pipeline sees them.
func (d *Dispatcher) RegisterSource(source string) error {
	if d == nil {
		return inboundInternal("inbound: dispatcher is nil", nil)
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return inboundBadInput("inbound: source is required", nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sources[source] {
		return inboundError(
			fmt.Sprintf("inbound: source %q already registered", source),
			goerrors.CategoryConflict,
			http.StatusConflict,
			core.IntakeErrorConflict,
			map[string]any{"source": source},
		)
	}
	d.sources[source] = true
	return nil
}

func (d *Dispatcher) sourceAllowed(source string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sources[source]
}

// Routes mounts the intake and read endpoints.
func (d *Dispatcher) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /intake/{source}", d.handleIngest)
	mux.HandleFunc("GET /accounts/{id}", d.handleGetAccount)
	mux.HandleFunc("GET /orders/{id}", d.handleGetOrder)
	mux.HandleFunc("GET /support/{id}", d.handleGetSupport)
}

// handleIngest reads the exact raw bytes first; verification inside the
// pipeline runs against what was actually received on the wire.
func (d *Dispatcher) handleIngest(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(r.PathValue("source"))
	if !d.sourceAllowed(source) {
		d.writeError(w, inboundNotFound(
			fmt.Sprintf("inbound: unknown source %q", source),
			map[string]any{"source": source},
		))
		return
	}

	maxBytes := d.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		d.writeError(w, inboundBadInput("inbound: read request body", nil))
		return
	}
	if int64(len(body)) > maxBytes {
		d.writeError(w, inboundError(
			"inbound: request body too large",
			goerrors.CategoryBadInput,
			http.StatusRequestEntityTooLarge,
			core.IntakeErrorBadInput,
			map[string]any{"max_bytes": maxBytes},
		))
		return
	}

	req := core.InboundRequest{
		Source:      source,
		ContentType: r.Header.Get("Content-Type"),
		Headers:     flattenHeaders(r.Header),
		Body:        body,
	}
	result, err := d.processor.Process(r.Context(), req)
	if err != nil {
		d.writeError(w, err)
		return
	}
	d.writeResult(w, result)
}

func (d *Dispatcher) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	if d.reader == nil {
		d.writeError(w, inboundInternal("inbound: canonical reader is not configured", nil))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	account, err := d.reader.GetAccount(r.Context(), id)
	if err != nil {
		d.writeError(w, readError(err, "account", id))
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (d *Dispatcher) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if d.reader == nil {
		d.writeError(w, inboundInternal("inbound: canonical reader is not configured", nil))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	order, err := d.reader.GetOrder(r.Context(), id)
	if err != nil {
		d.writeError(w, readError(err, "order", id))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (d *Dispatcher) handleGetSupport(w http.ResponseWriter, r *http.Request) {
	if d.reader == nil {
		d.writeError(w, inboundInternal("inbound: canonical reader is not configured", nil))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	ticket, err := d.reader.GetSupportTicket(r.Context(), id)
	if err != nil {
		d.writeError(w, readError(err, "support ticket", id))
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

type ingestResponse struct {
	Accepted          bool           `json:"accepted"`
	Source            string         `json:"source,omitempty"`
	EventID           string         `json:"event_id,omitempty"`
	AccountID         string         `json:"account_id,omitempty"`
	EntityKind        string         `json:"entity_kind,omitempty"`
	EntityID          string         `json:"entity_id,omitempty"`
	AlreadyProcessed  bool           `json:"already_processed,omitempty"`
	Throttled         bool           `json:"throttled,omitempty"`
	RetryAfterSeconds int64          `json:"retry_after_seconds,omitempty"`
	ProjectionRef     string         `json:"projection_ref,omitempty"`
	ProjectionError   string         `json:"projection_error,omitempty"`
	NotificationError string         `json:"notification_error,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func (d *Dispatcher) writeResult(w http.ResponseWriter, result core.IngestResult) {
	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, ingestResponse{
		Accepted:          result.Accepted,
		Source:            result.Source,
		EventID:           result.EventID,
		AccountID:         result.AccountID,
		EntityKind:        result.EntityKind,
		EntityID:          result.EntityID,
		AlreadyProcessed:  result.AlreadyProcessed,
		Throttled:         result.Throttled,
		RetryAfterSeconds: int64(result.RetryAfter / time.Second),
		ProjectionRef:     result.ProjectionRef,
		ProjectionError:   result.ProjectionError,
		NotificationError: result.NotificationError,
		Metadata:          result.Metadata,
	})
}

type errorBody struct {
	Message    string                `json:"message"`
	TextCode   string                `json:"text_code,omitempty"`
	Metadata   map[string]any        `json:"metadata,omitempty"`
	Validation []goerrors.FieldError `json:"validation,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (d *Dispatcher) writeError(w http.ResponseWriter, err error) {
	mapped := core.IntakeErrorMapper(err)
	if mapped == nil {
		mapped = core.IntakeErrorMapper(fmt.Errorf("inbound: unknown error"))
	}
	if mapped.Code >= http.StatusInternalServerError {
		d.logger.Error("inbound request failed",
			"error", err,
		)
	}
	if retryAfter := retryAfterHeader(mapped); retryAfter != "" {
		w.Header().Set("Retry-After", retryAfter)
	}
	writeJSON(w, mapped.Code, errorResponse{Error: errorBody{
		Message:    mapped.Message,
		TextCode:   mapped.TextCode,
		Metadata:   mapped.Metadata,
		Validation: mapped.AllValidationErrors(),
	}})
}

func retryAfterHeader(err *goerrors.Error) string {
	if err.Category != goerrors.CategoryRateLimit {
		return ""
	}
	if seconds, ok := err.Metadata["retry_after_seconds"].(int64); ok && seconds > 0 {
		return fmt.Sprintf("%d", seconds)
	}
	return ""
}

func readError(err error, kind string, id string) error {
	if errors.Is(err, core.ErrNotFound) {
		return goerrors.Wrap(err, goerrors.CategoryNotFound, fmt.Sprintf("inbound: %s %s not found", kind, id)).
			WithCode(http.StatusNotFound).
			WithTextCode(core.IntakeErrorNotFound)
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("inbound: read %s %s", kind, id)).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.IntakeErrorInternal)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) > 0 {
			flat[name] = values[0]
		}
	}
	return flat
}
