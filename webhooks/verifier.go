package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-intake/core"
)

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

// EventIDExtractor pulls the provider's delivery identifier out of a
// request. An empty result means the pipeline generates one.
type EventIDExtractor func(req core.InboundRequest) (string, error)

// HeaderHMACVerifier checks an HMAC-SHA256 signature carried in a header.
// When TimestampHeader is set the digest covers "{timestamp}.{body}" and
// the timestamp must fall inside ReplayWindow of Now; otherwise the digest
// covers the raw body alone. Every entry in Secrets is a candidate:
// acceptance succeeds if any of them matches, which keeps rotation
// windows verifiable.
type HeaderHMACVerifier struct {
	Header          string
	Prefix          string
	Secrets         []string
	Encoding        string // hex | base64
	TimestampHeader string
	ReplayWindow    time.Duration
	Now             func() time.Time
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	header := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if header == "" {
		return authError(fmt.Sprintf("webhooks: %s signature header is required", strings.TrimSpace(v.Header)))
	}
	secrets := trimNonEmpty(v.Secrets)
	if len(secrets) == 0 {
		return authError("webhooks: signature secret is required")
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(v.Prefix)))
	if signature == "" {
		return authError("webhooks: signature value is required")
	}

	signed := req.Body
	if strings.TrimSpace(v.TimestampHeader) != "" {
		timestamp := strings.TrimSpace(headerValue(req.Headers, v.TimestampHeader))
		if timestamp == "" {
			return authError(fmt.Sprintf("webhooks: %s timestamp header is required", strings.TrimSpace(v.TimestampHeader)))
		}
		if err := v.checkFreshness(timestamp); err != nil {
			return err
		}
		composite := make([]byte, 0, len(timestamp)+1+len(req.Body))
		composite = append(composite, timestamp...)
		composite = append(composite, '.')
		composite = append(composite, req.Body...)
		signed = composite
	}

	provided, err := decodeSignature(signature, v.Encoding)
	if err != nil {
		return err
	}
	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		_, _ = mac.Write(signed)
		if subtle.ConstantTimeCompare(provided, mac.Sum(nil)) == 1 {
			return nil
		}
	}
	return authError("webhooks: signature verification failed")
}

// checkFreshness rejects timestamps outside the replay window. A negative
// window disables the check for providers that reuse stale timestamps.
func (v HeaderHMACVerifier) checkFreshness(timestamp string) error {
	window := v.ReplayWindow
	if window < 0 {
		return nil
	}
	if window == 0 {
		window = 5 * time.Minute
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return authError(fmt.Sprintf("webhooks: parse signature timestamp %q", timestamp))
	}
	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}
	delta := now.Sub(time.Unix(unix, 0).UTC())
	if delta < 0 {
		delta = -delta
	}
	if delta > window {
		return authError("webhooks: signature timestamp outside replay window")
	}
	return nil
}

func decodeSignature(signature string, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return nil, authError("webhooks: decode base64 signature")
		}
		return decoded, nil
	default:
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			return nil, authError("webhooks: decode hex signature")
		}
		return decoded, nil
	}
}

func authError(message string) error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.IntakeErrorUnauthorized)
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
