// Package pipeline orchestrates one delivery end to end: verify,
// normalize, resolve identity, throttle, ledger pre-write, canonical
// upserts, tracker projection, notification, ledger terminal write. Each
// request is a single sequential chain with no internal retries; the
// idempotency gate makes external resubmission safe.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/canonical"
	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/identity"
	"github.com/goliatone/go-intake/ledger"
	"github.com/goliatone/go-intake/normalize"
	"github.com/goliatone/go-intake/projection"
	"github.com/goliatone/go-intake/ratelimit"
	"github.com/goliatone/go-intake/webhooks"
)

// Processor is the mutating surface the command bus and the HTTP
// dispatcher drive.
type Processor interface {
	Process(ctx context.Context, req core.InboundRequest) (core.IngestResult, error)
	Replay(ctx context.Context, source string, eventID string) (core.IngestResult, error)
}

type Pipeline struct {
	verifiers map[string]webhooks.Verifier
	registry  *normalize.Registry
	guard     *ratelimit.Guard
	ledger    *ledger.Ledger
	engine    *canonical.Engine
	projector *projection.Projector
	mailer    core.MailSender
	logger    core.Logger
}

var _ Processor = (*Pipeline)(nil)

type Options struct {
	Verifiers map[string]webhooks.Verifier
	Registry  *normalize.Registry
	Guard     *ratelimit.Guard
	Ledger    *ledger.Ledger
	Engine    *canonical.Engine
	Projector *projection.Projector
	Mailer    core.MailSender
	Logger    core.Logger
}

func New(opts Options) (*Pipeline, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("pipeline: normalize registry is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("pipeline: ledger is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("pipeline: canonical engine is required")
	}
	verifiers := make(map[string]webhooks.Verifier, len(opts.Verifiers))
	for source, verifier := range opts.Verifiers {
		verifiers[strings.TrimSpace(source)] = verifier
	}
	return &Pipeline{
		verifiers: verifiers,
		registry:  opts.Registry,
		guard:     opts.Guard,
		ledger:    opts.Ledger,
		engine:    opts.Engine,
		projector: opts.Projector,
		mailer:    opts.Mailer,
		logger:    glog.Ensure(opts.Logger),
	}, nil
}

// Process runs the full ordered chain for one inbound delivery. Rejections
// before the ledger pre-write (auth, validation, throttle) leave no trace;
// anything after the pre-write leaves a receipt that records the outcome.
func (p *Pipeline) Process(ctx context.Context, req core.InboundRequest) (core.IngestResult, error) {
	if p == nil {
		return core.IngestResult{}, fmt.Errorf("pipeline: pipeline is not configured")
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return core.IngestResult{}, goerrors.New("pipeline: request source is required", goerrors.CategoryBadInput).
			WithCode(http.StatusUnprocessableEntity).
			WithTextCode(core.IntakeErrorBadInput)
	}

	if verifier, ok := p.verifiers[source]; ok && verifier != nil {
		if err := verifier.Verify(ctx, req); err != nil {
			p.logger.Info("pipeline rejected unverified delivery",
				"error", err,
				"source", source,
			)
			return core.IngestResult{Source: source, StatusCode: http.StatusUnauthorized}, err
		}
	}

	event, err := p.registry.Normalize(source, req.ContentType, req.Body)
	if err != nil {
		return core.IngestResult{Source: source, StatusCode: http.StatusUnprocessableEntity}, err
	}
	if event.EventID == "" {
		event.EventID = webhooks.ExtractEventID(req)
	}

	accountID, err := identity.ResolveAccountID(event.Email)
	if err != nil {
		return core.IngestResult{Source: source, EventID: event.EventID, StatusCode: http.StatusUnprocessableEntity},
			goerrors.Wrap(err, goerrors.CategoryBadInput, "pipeline: identity resolution failed").
				WithCode(http.StatusUnprocessableEntity).
				WithTextCode(core.IntakeErrorBadInput)
	}

	if p.guard != nil {
		if err := p.guard.Check(ctx, accountID); err != nil {
			result := core.IngestResult{
				Source:     source,
				EventID:    event.EventID,
				AccountID:  accountID,
				Throttled:  true,
				StatusCode: http.StatusTooManyRequests,
			}
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				if seconds, ok := richErr.Metadata["retry_after_seconds"].(int64); ok {
					result.RetryAfter = time.Duration(seconds) * time.Second
				}
			}
			return result, err
		}
	}

	result, err := p.execute(ctx, event, accountID, req.Body)
	if err != nil {
		return result, err
	}
	if p.guard != nil && result.Accepted && !result.AlreadyProcessed {
		if err := p.guard.Record(ctx, accountID); err != nil {
			p.logger.Error("pipeline throttle record failed",
				"account_id", accountID,
				"error", err,
			)
		}
	}
	return result, nil
}

// Replay resubmits a stored receipt from the ledger. Signature and
// throttle checks are skipped: the raw fact was already admitted once.
// Committed receipts short-circuit exactly like a provider redelivery.
func (p *Pipeline) Replay(ctx context.Context, source string, eventID string) (core.IngestResult, error) {
	if p == nil {
		return core.IngestResult{}, fmt.Errorf("pipeline: pipeline is not configured")
	}
	receipt, err := p.ledger.Get(ctx, strings.TrimSpace(source), strings.TrimSpace(eventID))
	if err != nil {
		return core.IngestResult{}, goerrors.Wrap(err, goerrors.CategoryNotFound, "pipeline: receipt not found for replay").
			WithCode(http.StatusNotFound).
			WithTextCode(core.IntakeErrorNotFound)
	}

	event := eventFromSnapshot(receipt)
	accountID, err := identity.ResolveAccountID(event.Email)
	if err != nil {
		return core.IngestResult{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "pipeline: replay identity resolution failed").
			WithCode(http.StatusUnprocessableEntity).
			WithTextCode(core.IntakeErrorBadInput)
	}
	return p.execute(ctx, event, accountID, receipt.RawPayload)
}

// execute is the shared tail: ledger pre-write, canonical upserts,
// projection, notification, terminal write.
func (p *Pipeline) execute(ctx context.Context, event core.NormalizedEvent, accountID string, raw []byte) (core.IngestResult, error) {
	result := core.IngestResult{
		Source:    event.Source,
		EventID:   event.EventID,
		AccountID: accountID,
	}

	receipt, already, err := p.ledger.Begin(ctx, event, raw)
	if err != nil {
		result.StatusCode = http.StatusBadGateway
		return result, err
	}
	if already {
		result.Accepted = true
		result.AlreadyProcessed = true
		result.StatusCode = http.StatusOK
		result.ProjectionRef = receipt.ProjectionRef
		result.ProjectionError = receipt.ProjectionError
		return result, nil
	}

	plan := buildPlan(event, accountID)
	result.EntityKind = plan.kind
	result.EntityID = plan.entityID

	account, err := p.engine.UpsertAccount(ctx, plan.account)
	if err != nil {
		return p.failReceipt(ctx, receipt, result, err)
	}

	var existingRef, canonicalKey, title, status string
	switch plan.kind {
	case core.EntityKindOrder:
		order, err := p.engine.UpsertOrder(ctx, *plan.order)
		if err != nil {
			return p.failReceipt(ctx, receipt, result, err)
		}
		existingRef = order.TrackerRef
		canonicalKey = order.CanonicalKey()
		title = "Order " + order.OrderID
		status = order.Status
	case core.EntityKindSupport:
		ticket, err := p.engine.UpsertSupportTicket(ctx, *plan.support)
		if err != nil {
			return p.failReceipt(ctx, receipt, result, err)
		}
		existingRef = ticket.TrackerRef
		canonicalKey = ticket.CanonicalKey()
		title = "Support " + ticket.SupportID
		status = ticket.Status
	default:
		existingRef = account.TrackerRef
		canonicalKey = account.CanonicalKey()
		title = accountTitle(account)
		status = account.LifecycleState
	}

	if p.projector != nil {
		ref, err := p.projector.Sync(ctx, projection.Item{
			Kind:         plan.kind,
			EntityID:     plan.entityID,
			ExistingRef:  existingRef,
			Title:        title,
			Status:       status,
			ReceiptKey:   receipt.LedgerKey(),
			CanonicalKey: canonicalKey,
			Fields:       core.CloneMap(event.Fields),
		})
		if err != nil {
			// Canonical state landed; the projection failure is flagged, not
			// fatal, and must not induce a provider retry.
			result.ProjectionError = err.Error()
			if noteErr := p.ledger.NoteProjectionFailure(ctx, receipt, err); noteErr != nil {
				p.logger.Error("pipeline projection failure note failed",
					"error", noteErr,
					"event_id", receipt.EventID,
				)
			}
			p.logger.Error("pipeline projection failed",
				"error", err,
				"event_id", receipt.EventID,
				"source", receipt.Source,
			)
		} else {
			result.ProjectionRef = ref
			if attachErr := p.ledger.AttachProjection(ctx, receipt, ref); attachErr != nil {
				p.logger.Error("pipeline projection attach failed",
					"error", attachErr,
					"event_id", receipt.EventID,
				)
			}
		}
	}

	if p.mailer != nil && event.Email != "" {
		if err := p.mailer.Send(ctx, mailFor(event, account)); err != nil {
			result.NotificationError = err.Error()
			if p.projector != nil && result.ProjectionRef != "" {
				p.projector.Annotate(ctx, result.ProjectionRef, "notification failed: "+err.Error())
			}
			p.logger.Error("pipeline notification failed",
				"error", err,
				"event_id", receipt.EventID,
			)
		}
	}

	if err := p.ledger.Commit(ctx, receipt); err != nil {
		result.StatusCode = http.StatusBadGateway
		return result, err
	}
	result.Accepted = true
	result.StatusCode = http.StatusOK
	p.logger.Info("pipeline committed delivery",
		"account_id", accountID,
		"entity_id", plan.entityID,
		"entity_kind", plan.kind,
		"event_id", receipt.EventID,
		"source", receipt.Source,
	)
	return result, nil
}

// failReceipt records a canonical failure on the receipt and reports it in
// the response body with a non-retry-inducing status: the receipt holds
// the verbatim payload, so redelivery or operator replay retries safely.
func (p *Pipeline) failReceipt(ctx context.Context, receipt core.Receipt, result core.IngestResult, cause error) (core.IngestResult, error) {
	if err := p.ledger.Fail(ctx, receipt, cause); err != nil {
		p.logger.Error("pipeline receipt failure write failed",
			"error", err,
			"event_id", receipt.EventID,
		)
	}
	p.logger.Error("pipeline canonical write failed",
		"error", cause,
		"event_id", receipt.EventID,
		"source", receipt.Source,
	)
	result.Accepted = false
	result.StatusCode = http.StatusOK
	result.Metadata = map[string]any{
		"processing_error": cause.Error(),
	}
	return result, nil
}

func accountTitle(account core.Account) string {
	name := strings.TrimSpace(account.FirstName + " " + account.LastName)
	if name == "" {
		return account.PrimaryEmail
	}
	return name + " <" + account.PrimaryEmail + ">"
}

func mailFor(event core.NormalizedEvent, account core.Account) core.MailMessage {
	template := "intake-confirmation"
	subject := "We received your submission"
	switch event.Source {
	case core.SourceScheduling:
		template = "booking-confirmation"
		subject = "Your booking update"
	case core.SourcePayments:
		template = "order-confirmation"
		subject = "Your order update"
	}
	return core.MailMessage{
		To:       event.Email,
		Subject:  subject,
		Template: template,
		Vars: map[string]any{
			"first_name": account.FirstName,
			"event_type": event.Type,
			"step":       event.Step,
		},
	}
}
