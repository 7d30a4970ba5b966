package pipeline

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-intake/canonical"
	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/ledger"
	"github.com/goliatone/go-intake/normalize"
	"github.com/goliatone/go-intake/projection"
	"github.com/goliatone/go-intake/ratelimit"
	"github.com/goliatone/go-intake/webhooks"
)

// failingAccountStore lets tests flip the account store into an outage.
type failingAccountStore struct {
	inner    core.AccountStore
	failWith error
}

func (s *failingAccountStore) Get(ctx context.Context, accountID string) (core.Account, error) {
	if s.failWith != nil {
		return core.Account{}, s.failWith
	}
	return s.inner.Get(ctx, accountID)
}

func (s *failingAccountStore) Put(ctx context.Context, account core.Account, expectedVersion int64) (core.Account, error) {
	if s.failWith != nil {
		return core.Account{}, s.failWith
	}
	return s.inner.Put(ctx, account, expectedVersion)
}

type stubTracker struct {
	created  int
	updated  int
	notes    []string
	failWith error
}

func (s *stubTracker) CreateRecord(context.Context, core.TrackerRecord) (string, error) {
	if s.failWith != nil {
		return "", s.failWith
	}
	s.created++
	return "trk_001", nil
}

func (s *stubTracker) UpdateRecord(context.Context, string, core.TrackerRecord) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.updated++
	return nil
}

func (s *stubTracker) Annotate(_ context.Context, _ string, note string) error {
	s.notes = append(s.notes, note)
	return nil
}

type stubMailer struct {
	sent     []core.MailMessage
	failWith error
}

func (s *stubMailer) Send(_ context.Context, msg core.MailMessage) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fixture struct {
	pipeline *Pipeline
	receipts *ledger.MemoryReceiptStore
	accounts *failingAccountStore
	engine   *canonical.Engine
	tracker  *stubTracker
	mailer   *stubMailer
	now      time.Time
}

// breakAccounts flips the account store into an outage and returns the
// restore function.
func (f *fixture) breakAccounts(t *testing.T, cause error) func() {
	t.Helper()
	f.accounts.failWith = cause
	return func() { f.accounts.failWith = nil }
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		receipts: ledger.NewMemoryReceiptStore(),
		accounts: &failingAccountStore{inner: canonical.NewMemoryAccountStore()},
		tracker:  &stubTracker{},
		mailer:   &stubMailer{},
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	ledgerGate, err := ledger.New(f.receipts, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	engine, err := canonical.NewEngine(f.accounts, canonical.NewMemoryOrderStore(), canonical.NewMemorySupportStore(), nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f.engine = engine

	guard, err := ratelimit.NewGuard(ratelimit.NewMemoryStateStore(), core.ThrottleConfig{
		Cooldown:  10 * time.Minute,
		MaxPerDay: 3,
	})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	guard.Now = func() time.Time { return f.now }

	projector, err := projection.NewProjector(f.tracker, engine, nil)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}

	f.pipeline, err = New(Options{
		Verifiers: map[string]webhooks.Verifier{
			core.SourceScheduling: webhooks.NewSchedulingVerifier("sched-secret"),
		},
		Registry:  normalize.DefaultRegistry(),
		Guard:     guard,
		Ledger:    ledgerGate,
		Engine:    engine,
		Projector: projector,
		Mailer:    f.mailer,
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return f
}

func formRequest(email string, eventID string) core.InboundRequest {
	form := url.Values{}
	form.Set("form-type", "form.intake")
	form.Set("your-email", email)
	form.Set("your-first-name", "Jane")
	form.Set("intake-step", "welcome")
	if eventID != "" {
		form.Set("event_id", eventID)
	}
	return core.InboundRequest{
		Source:      core.SourceForms,
		ContentType: "application/x-www-form-urlencoded",
		Body:        []byte(form.Encode()),
	}
}

func TestProcessNewFormSubmission(t *testing.T) {
	f := newFixture(t)

	result, err := f.pipeline.Process(context.Background(), formRequest("jane@example.com", ""))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Accepted || result.AlreadyProcessed {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", result.StatusCode)
	}
	if result.EventID == "" {
		t.Fatal("expected a generated event id")
	}
	if result.ProjectionRef != "trk_001" {
		t.Fatalf("unexpected projection ref %q", result.ProjectionRef)
	}

	account, err := f.engine.GetAccount(context.Background(), result.AccountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.LifecycleState != "welcome" {
		t.Fatalf("lifecycle state does not reflect submitted step: %q", account.LifecycleState)
	}
	if account.TrackerRef != "trk_001" {
		t.Fatal("tracker ref not written back to account")
	}

	receipt, err := f.receipts.Get(context.Background(), core.SourceForms, result.EventID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if receipt.Status != core.ReceiptStatusCommitted {
		t.Fatalf("expected committed receipt, got %s", receipt.Status)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.mailer.sent))
	}
}

func TestProcessDuplicateEventIDShortCircuits(t *testing.T) {
	f := newFixture(t)

	first, err := f.pipeline.Process(context.Background(), formRequest("jane@example.com", "evt_dup12345"))
	if err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	if first.AlreadyProcessed {
		t.Fatal("first submission must not be already processed")
	}

	f.now = f.now.Add(time.Hour)
	second, err := f.pipeline.Process(context.Background(), formRequest("jane@example.com", "evt_dup12345"))
	if err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	if !second.AlreadyProcessed {
		t.Fatal("expected already-processed indicator")
	}
	if f.tracker.created != 1 {
		t.Fatalf("expected exactly 1 tracker record, got %d", f.tracker.created)
	}
	if len(f.mailer.sent) != 1 {
		t.Fatalf("duplicate must not re-send notifications, got %d", len(f.mailer.sent))
	}
}

func TestProcessFormResubmissionWithReturnedEventID(t *testing.T) {
	f := newFixture(t)

	first, err := f.pipeline.Process(context.Background(), formRequest("jane@example.com", ""))
	if err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	if first.EventID == "" {
		t.Fatal("expected a generated event id")
	}

	f.now = f.now.Add(time.Hour)
	second, err := f.pipeline.Process(context.Background(), formRequest("jane@example.com", first.EventID))
	if err != nil {
		t.Fatalf("resubmission failed: %v", err)
	}
	if !second.AlreadyProcessed {
		t.Fatalf("expected already-processed result, got %+v", second)
	}
	if second.EventID != first.EventID {
		t.Fatalf("resubmission minted a new id: %q vs %q", second.EventID, first.EventID)
	}
	if f.tracker.created != 1 {
		t.Fatalf("expected exactly 1 tracker record, got %d", f.tracker.created)
	}
}

func TestProcessMissingRequiredFieldRejectsWithoutReceipt(t *testing.T) {
	f := newFixture(t)

	form := url.Values{}
	form.Set("form-type", "form.intake")
	form.Set("your-first-name", "Jane")
	_, err := f.pipeline.Process(context.Background(), core.InboundRequest{
		Source:      core.SourceForms,
		ContentType: "application/x-www-form-urlencoded",
		Body:        []byte(form.Encode()),
	})
	if err == nil {
		t.Fatal("expected validation rejection")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected goerrors envelope, got %T", err)
	}
	if richErr.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %v", richErr.Category)
	}
	found := false
	for _, issue := range richErr.AllValidationErrors() {
		if issue.Field == "email" {
			found = true
		}
	}
	if !found {
		t.Fatal("rejection must name the missing email field")
	}
}

func TestProcessMutatedWebhookBodyLeavesNoTrace(t *testing.T) {
	f := newFixture(t)

	original := []byte(`{"event_type":"booking.created","invitee_email":"jane@example.com","id":"evt_sig12345"}`)
	mac := hmac.New(sha256.New, []byte("sched-secret"))
	mac.Write(original)
	signature := hex.EncodeToString(mac.Sum(nil))

	mutated := append([]byte(nil), original...)
	mutated[2] = 'E'

	result, err := f.pipeline.Process(context.Background(), core.InboundRequest{
		Source:      core.SourceScheduling,
		ContentType: "application/json",
		Headers:     map[string]string{webhooks.SchedulingSignatureHeader: signature},
		Body:        mutated,
	})
	if err == nil {
		t.Fatal("expected auth rejection")
	}
	if result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", result.StatusCode)
	}
	if _, err := f.receipts.Get(context.Background(), core.SourceScheduling, "evt_sig12345"); !errors.Is(err, core.ErrNotFound) {
		t.Fatal("rejected delivery must leave no ledger entry")
	}
}

func TestProcessThrottleSequence(t *testing.T) {
	f := newFixture(t)
	submit := func(id string) (core.IngestResult, error) {
		return f.pipeline.Process(context.Background(), formRequest("jane@example.com", id))
	}

	if _, err := submit("evt_seq00001"); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}

	f.now = f.now.Add(4 * time.Minute)
	result, err := submit("evt_seq00002")
	if err == nil {
		t.Fatal("expected throttle rejection inside cooldown")
	}
	if !result.Throttled || result.RetryAfter <= 0 {
		t.Fatalf("expected throttled result with retry hint, got %+v", result)
	}
	if _, err := f.receipts.Get(context.Background(), core.SourceForms, "evt_seq00002"); !errors.Is(err, core.ErrNotFound) {
		t.Fatal("throttled delivery must leave no ledger entry")
	}

	f.now = f.now.Add(7 * time.Minute)
	if _, err := submit("evt_seq00002"); err != nil {
		t.Fatalf("post-cooldown submission failed: %v", err)
	}

	f.now = f.now.Add(11 * time.Minute)
	if _, err := submit("evt_seq00003"); err != nil {
		t.Fatalf("third submission failed: %v", err)
	}

	f.now = f.now.Add(11 * time.Minute)
	if _, err := submit("evt_seq00004"); err == nil {
		t.Fatal("expected daily cap rejection regardless of cooldown")
	}
}

func TestProcessCanonicalFailureLeavesFailedReceipt(t *testing.T) {
	f := newFixture(t)
	f.breakAccounts(t, errors.New("storage offline"))

	result, err := f.pipeline.Process(context.Background(), formRequest("jane@example.com", "evt_fail1234"))
	if err != nil {
		t.Fatalf("dependency failure must not surface as transport error: %v", err)
	}
	if result.Accepted {
		t.Fatal("expected rejected result")
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("dependency failure must keep a non-retry-inducing status, got %d", result.StatusCode)
	}

	receipt, err := f.receipts.Get(context.Background(), core.SourceForms, "evt_fail1234")
	if err != nil {
		t.Fatalf("expected pre-written receipt: %v", err)
	}
	if receipt.Status != core.ReceiptStatusFailed {
		t.Fatalf("expected failed receipt, got %s", receipt.Status)
	}
	if receipt.ProcessingError == "" {
		t.Fatal("expected processing error recorded")
	}
	if len(receipt.RawPayload) == 0 {
		t.Fatal("expected verbatim raw payload on the receipt")
	}
	if f.tracker.created != 0 {
		t.Fatal("projection must not run after a failed canonical write")
	}
}

func TestReplayRetriesFailedReceipt(t *testing.T) {
	f := newFixture(t)
	restore := f.breakAccounts(t, errors.New("storage offline"))

	if _, err := f.pipeline.Process(context.Background(), formRequest("jane@example.com", "evt_rep12345")); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	restore()

	result, err := f.pipeline.Replay(context.Background(), core.SourceForms, "evt_rep12345")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !result.Accepted || result.AlreadyProcessed {
		t.Fatalf("unexpected replay result %+v", result)
	}

	receipt, err := f.receipts.Get(context.Background(), core.SourceForms, "evt_rep12345")
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if receipt.Status != core.ReceiptStatusCommitted {
		t.Fatalf("expected committed receipt after replay, got %s", receipt.Status)
	}
	if receipt.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", receipt.Attempts)
	}
}

func TestReplayCommittedReceiptShortCircuits(t *testing.T) {
	f := newFixture(t)

	if _, err := f.pipeline.Process(context.Background(), formRequest("jane@example.com", "evt_done1234")); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	result, err := f.pipeline.Replay(context.Background(), core.SourceForms, "evt_done1234")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !result.AlreadyProcessed {
		t.Fatal("expected already-processed short circuit")
	}
	if f.tracker.created != 1 {
		t.Fatalf("expected exactly 1 tracker record, got %d", f.tracker.created)
	}
}

func TestReplayMissingReceipt(t *testing.T) {
	f := newFixture(t)
	if _, err := f.pipeline.Replay(context.Background(), core.SourceForms, "evt_missing1"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestProcessProjectionFailureStillCommits(t *testing.T) {
	f := newFixture(t)
	f.tracker.failWith = errors.New("tracker 502")

	result, err := f.pipeline.Process(context.Background(), formRequest("jane@example.com", "evt_proj1234"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Accepted {
		t.Fatal("canonical success must report accepted despite projection failure")
	}
	if result.ProjectionError == "" {
		t.Fatal("expected projection error flagged in result")
	}

	receipt, err := f.receipts.Get(context.Background(), core.SourceForms, "evt_proj1234")
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if receipt.Status != core.ReceiptStatusCommitted {
		t.Fatalf("expected committed receipt, got %s", receipt.Status)
	}
	if receipt.ProjectionError == "" {
		t.Fatal("expected projection error on the receipt")
	}
}

func TestProcessNotificationFailureAnnotatesTracker(t *testing.T) {
	f := newFixture(t)
	f.mailer.failWith = errors.New("mailer 502")

	result, err := f.pipeline.Process(context.Background(), formRequest("jane@example.com", "evt_mail1234"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !result.Accepted {
		t.Fatal("notification failure must not reject the delivery")
	}
	if result.NotificationError == "" {
		t.Fatal("expected notification error flagged")
	}
	if len(f.tracker.notes) != 1 {
		t.Fatalf("expected 1 tracker annotation, got %d", len(f.tracker.notes))
	}
}

func TestProcessPaymentsEventCreatesOrder(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{"event_type":"order.paid","customer_email":"jane@example.com","order_id":"ord_tok42","id":"evt_pay12345"}`)
	result, err := f.pipeline.Process(context.Background(), core.InboundRequest{
		Source:      core.SourcePayments,
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.EntityKind != core.EntityKindOrder || result.EntityID != "ord_tok42" {
		t.Fatalf("unexpected entity %s/%s", result.EntityKind, result.EntityID)
	}

	order, err := f.engine.GetOrder(context.Background(), "ord_tok42")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != "paid" {
		t.Fatalf("unexpected order status %q", order.Status)
	}
	account, err := f.engine.GetAccount(context.Background(), result.AccountID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if len(account.ActiveOrders) != 1 || account.ActiveOrders[0] != "ord_tok42" {
		t.Fatalf("order not linked to account: %v", account.ActiveOrders)
	}
}
