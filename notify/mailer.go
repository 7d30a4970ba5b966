// Package notify sends the best-effort follow-up message after a
// projection. The mailer exchanges a service credential for a short-lived
// bearer token, caches it until shortly before expiry, and calls the
// provider's send API. Failures here never roll back canonical state;
// they surface only as an annotation on the tracker record.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-intake/core"
)

const maxResponseBytes = 1 << 20

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// HTTPMailer implements core.MailSender against a bearer-grant provider.
type HTTPMailer struct {
	config      core.MailerConfig
	client      HTTPDoer
	renewBefore time.Duration
	Now         func() time.Time

	mu    sync.Mutex
	token cachedToken
}

var _ core.MailSender = (*HTTPMailer)(nil)

func NewHTTPMailer(cfg core.MailerConfig, client HTTPDoer) (*HTTPMailer, error) {
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("notify: token url is required")
	}
	if strings.TrimSpace(cfg.SendURL) == "" {
		return nil, fmt.Errorf("notify: send url is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("notify: client credentials are required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPMailer{
		config: core.MailerConfig{
			TokenURL:     strings.TrimSpace(cfg.TokenURL),
			ClientID:     strings.TrimSpace(cfg.ClientID),
			ClientSecret: strings.TrimSpace(cfg.ClientSecret),
			SendURL:      strings.TrimSpace(cfg.SendURL),
			From:         strings.TrimSpace(cfg.From),
		},
		client:      client,
		renewBefore: 2 * time.Minute,
		Now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (m *HTTPMailer) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *HTTPMailer) Send(ctx context.Context, msg core.MailMessage) error {
	if m == nil {
		return fmt.Errorf("notify: mailer is not configured")
	}
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return fmt.Errorf("notify: message recipient is required")
	}
	token, err := m.accessToken(ctx)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"to":       to,
		"from":     m.config.From,
		"subject":  strings.TrimSpace(msg.Subject),
		"template": strings.TrimSpace(msg.Template),
		"vars":     msg.Vars,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.SendURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("notify: build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "notify: send request failed").
			WithCode(http.StatusBadGateway).
			WithTextCode(core.IntakeErrorDependencyFailed)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			m.invalidateToken()
		}
		return goerrors.New(
			fmt.Sprintf("notify: mail provider responded %d", resp.StatusCode),
			goerrors.CategoryExternal,
		).
			WithCode(http.StatusBadGateway).
			WithTextCode(core.IntakeErrorDependencyFailed).
			WithMetadata(map[string]any{
				"provider_status": resp.StatusCode,
				"provider_body":   strings.TrimSpace(string(body)),
			})
	}
	return nil
}

// accessToken returns the cached token when it is still comfortably
// inside its lifetime, otherwise exchanges credentials for a fresh one.
func (m *HTTPMailer) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token.accessToken != "" && m.now().Before(m.token.expiresAt.Add(-m.renewBefore)) {
		return m.token.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.config.ClientID)
	form.Set("client_secret", m.config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("notify: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryExternal, "notify: token exchange failed").
			WithCode(http.StatusBadGateway).
			WithTextCode(core.IntakeErrorDependencyFailed)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryExternal, "notify: read token response").
			WithCode(http.StatusBadGateway).
			WithTextCode(core.IntakeErrorDependencyFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", goerrors.New(
			fmt.Sprintf("notify: token endpoint responded %d", resp.StatusCode),
			goerrors.CategoryExternal,
		).
			WithCode(http.StatusBadGateway).
			WithTextCode(core.IntakeErrorDependencyFailed)
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryExternal, "notify: decode token response").
			WithCode(http.StatusBadGateway).
			WithTextCode(core.IntakeErrorDependencyFailed)
	}
	accessToken := strings.TrimSpace(decoded.AccessToken)
	if accessToken == "" {
		return "", goerrors.New("notify: token endpoint returned no access token", goerrors.CategoryExternal).
			WithCode(http.StatusBadGateway).
			WithTextCode(core.IntakeErrorDependencyFailed)
	}
	ttl := time.Duration(decoded.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	m.token = cachedToken{
		accessToken: accessToken,
		expiresAt:   m.now().Add(ttl),
	}
	return accessToken, nil
}

func (m *HTTPMailer) invalidateToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = cachedToken{}
}
