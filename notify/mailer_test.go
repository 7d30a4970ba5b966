package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-intake/core"
)

type providerFixture struct {
	server         *httptest.Server
	tokenCalls     atomic.Int64
	sendCalls      atomic.Int64
	lastSendAuth   string
	lastSendBody   []byte
	sendStatusCode int
}

func newProviderFixture(t *testing.T) *providerFixture {
	t.Helper()
	fixture := &providerFixture{sendStatusCode: http.StatusAccepted}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		fixture.tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("client_id") != "client-1" || r.PostForm.Get("client_secret") != "hunter2" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-abc","expires_in":3600}`))
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		fixture.sendCalls.Add(1)
		fixture.lastSendAuth = r.Header.Get("Authorization")
		fixture.lastSendBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(fixture.sendStatusCode)
	})
	fixture.server = httptest.NewServer(mux)
	t.Cleanup(fixture.server.Close)
	return fixture
}

func (f *providerFixture) mailer(t *testing.T) *HTTPMailer {
	t.Helper()
	mailer, err := NewHTTPMailer(core.MailerConfig{
		TokenURL:     f.server.URL + "/oauth/token",
		ClientID:     "client-1",
		ClientSecret: "hunter2",
		SendURL:      f.server.URL + "/messages",
		From:         "intake@example.com",
	}, f.server.Client())
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	return mailer
}

func TestSendExchangesTokenAndDelivers(t *testing.T) {
	fixture := newProviderFixture(t)
	mailer := fixture.mailer(t)

	err := mailer.Send(context.Background(), core.MailMessage{
		To:       "jane@example.com",
		Subject:  "Welcome",
		Template: "intake-confirmation",
		Vars:     map[string]any{"first_name": "Jane"},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if fixture.lastSendAuth != "Bearer tok-abc" {
		t.Fatalf("unexpected auth header %q", fixture.lastSendAuth)
	}

	var payload map[string]any
	if err := json.Unmarshal(fixture.lastSendBody, &payload); err != nil {
		t.Fatalf("decode send body: %v", err)
	}
	if payload["to"] != "jane@example.com" || payload["from"] != "intake@example.com" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestSendReusesCachedToken(t *testing.T) {
	fixture := newProviderFixture(t)
	mailer := fixture.mailer(t)

	for i := 0; i < 3; i++ {
		if err := mailer.Send(context.Background(), core.MailMessage{To: "jane@example.com"}); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	if got := fixture.tokenCalls.Load(); got != 1 {
		t.Fatalf("expected 1 token exchange, got %d", got)
	}
	if got := fixture.sendCalls.Load(); got != 3 {
		t.Fatalf("expected 3 sends, got %d", got)
	}
}

func TestSendRenewsExpiringToken(t *testing.T) {
	fixture := newProviderFixture(t)
	mailer := fixture.mailer(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mailer.Now = func() time.Time { return now }

	if err := mailer.Send(context.Background(), core.MailMessage{To: "jane@example.com"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	// Inside the renew-before margin of the 1h lifetime.
	now = now.Add(59 * time.Minute)
	if err := mailer.Send(context.Background(), core.MailMessage{To: "jane@example.com"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got := fixture.tokenCalls.Load(); got != 2 {
		t.Fatalf("expected renewal exchange, got %d token calls", got)
	}
}

func TestSendProviderFailure(t *testing.T) {
	fixture := newProviderFixture(t)
	fixture.sendStatusCode = http.StatusBadGateway
	mailer := fixture.mailer(t)

	err := mailer.Send(context.Background(), core.MailMessage{To: "jane@example.com"})
	if err == nil {
		t.Fatal("expected provider failure")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected goerrors envelope, got %T", err)
	}
	if richErr.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %v", richErr.Category)
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	fixture := newProviderFixture(t)
	mailer := fixture.mailer(t)
	if err := mailer.Send(context.Background(), core.MailMessage{}); err == nil {
		t.Fatal("expected missing recipient error")
	}
	if got := fixture.tokenCalls.Load(); got != 0 {
		t.Fatalf("expected no token exchange, got %d", got)
	}
}

func TestNewHTTPMailerValidation(t *testing.T) {
	if _, err := NewHTTPMailer(core.MailerConfig{}, nil); err == nil {
		t.Fatal("expected missing token url error")
	}
	if _, err := NewHTTPMailer(core.MailerConfig{
		TokenURL: "http://x/token",
		SendURL:  "http://x/send",
	}, nil); err == nil {
		t.Fatal("expected missing credentials error")
	}
}
