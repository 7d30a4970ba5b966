// Package projection pushes an operator-facing summary of each canonical
// write into the external execution tracker. The projection is strictly
// best-effort and always runs after the canonical write durably
// succeeded: a tracker outage can never lose the fact or the canonical
// state, only the operator view of it.
package projection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-intake/core"
)

const maxResponseBytes = 1 << 20

// HTTPDoer is the slice of http.Client the tracker client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type TrackerConfig struct {
	BaseURL      string
	CollectionID string
	APIToken     string
}

// HTTPTrackerClient talks to the execution tracker's record API with a
// bearer token.
type HTTPTrackerClient struct {
	config TrackerConfig
	client HTTPDoer
}

var _ core.TrackerClient = (*HTTPTrackerClient)(nil)

func NewHTTPTrackerClient(cfg core.TrackerConfig, client HTTPDoer) (*HTTPTrackerClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("projection: tracker base url is required")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, fmt.Errorf("projection: tracker api token is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTrackerClient{
		config: TrackerConfig{
			BaseURL:      baseURL,
			CollectionID: strings.TrimSpace(cfg.CollectionID),
			APIToken:     strings.TrimSpace(cfg.APIToken),
		},
		client: client,
	}, nil
}

type trackerRecordPayload struct {
	CollectionID string         `json:"collection_id,omitempty"`
	Title        string         `json:"title"`
	Status       string         `json:"status,omitempty"`
	ReceiptKey   string         `json:"receipt_key,omitempty"`
	CanonicalKey string         `json:"canonical_key,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

type trackerRecordResponse struct {
	Ref string `json:"ref"`
	ID  string `json:"id"`
}

func (c *HTTPTrackerClient) CreateRecord(ctx context.Context, record core.TrackerRecord) (string, error) {
	if c == nil {
		return "", fmt.Errorf("projection: tracker client is not configured")
	}
	body, err := c.call(ctx, http.MethodPost, c.config.BaseURL+"/records", trackerRecordPayload{
		CollectionID: c.config.CollectionID,
		Title:        record.Title,
		Status:       record.Status,
		ReceiptKey:   record.ReceiptKey,
		CanonicalKey: record.CanonicalKey,
		Fields:       record.Fields,
	})
	if err != nil {
		return "", err
	}
	var decoded trackerRecordResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", dependencyError("projection: decode tracker create response", err)
	}
	ref := strings.TrimSpace(decoded.Ref)
	if ref == "" {
		ref = strings.TrimSpace(decoded.ID)
	}
	if ref == "" {
		return "", dependencyError("projection: tracker create returned no record ref", nil)
	}
	return ref, nil
}

func (c *HTTPTrackerClient) UpdateRecord(ctx context.Context, ref string, record core.TrackerRecord) error {
	if c == nil {
		return fmt.Errorf("projection: tracker client is not configured")
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("projection: record ref is required")
	}
	_, err := c.call(ctx, http.MethodPatch, c.config.BaseURL+"/records/"+ref, trackerRecordPayload{
		Title:        record.Title,
		Status:       record.Status,
		ReceiptKey:   record.ReceiptKey,
		CanonicalKey: record.CanonicalKey,
		Fields:       record.Fields,
	})
	return err
}

func (c *HTTPTrackerClient) Annotate(ctx context.Context, ref string, note string) error {
	if c == nil {
		return fmt.Errorf("projection: tracker client is not configured")
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("projection: record ref is required")
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return fmt.Errorf("projection: annotation note is required")
	}
	_, err := c.call(ctx, http.MethodPost, c.config.BaseURL+"/records/"+ref+"/annotations", map[string]any{
		"note": note,
	})
	return err
}

func (c *HTTPTrackerClient) call(ctx context.Context, method string, url string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("projection: encode tracker payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("projection: build tracker request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, dependencyError("projection: tracker request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, dependencyError("projection: read tracker response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, goerrors.New(
			fmt.Sprintf("projection: tracker responded %d", resp.StatusCode),
			goerrors.CategoryExternal,
		).
			WithCode(http.StatusBadGateway).
			WithTextCode(core.IntakeErrorDependencyFailed).
			WithMetadata(map[string]any{
				"tracker_status": resp.StatusCode,
				"tracker_body":   strings.TrimSpace(string(body)),
			})
	}
	return body, nil
}

func dependencyError(message string, cause error) error {
	if cause == nil {
		return goerrors.New(message, goerrors.CategoryExternal).
			WithCode(http.StatusBadGateway).
			WithTextCode(core.IntakeErrorDependencyFailed)
	}
	return goerrors.Wrap(cause, goerrors.CategoryExternal, message).
		WithCode(http.StatusBadGateway).
		WithTextCode(core.IntakeErrorDependencyFailed)
}
