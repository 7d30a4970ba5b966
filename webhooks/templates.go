package webhooks

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/goliatone/go-intake/core"
	"github.com/google/uuid"
)

const (
	SchedulingSignatureHeader = "X-Booking-Signature"
	SchedulingEventIDHeader   = "X-Booking-Event-Id"

	PaymentsSignatureHeader = "X-Pay-Signature"
	PaymentsTimestampHeader = "X-Pay-Timestamp"
	PaymentsEventIDHeader   = "X-Pay-Event-Id"
)

// NewSchedulingVerifier signs the raw body with a single shared secret and
// carries the hex digest directly in the signature header.
func NewSchedulingVerifier(secret string) HeaderHMACVerifier {
	return HeaderHMACVerifier{
		Header:   SchedulingSignatureHeader,
		Secrets:  []string{secret},
		Encoding: "hex",
	}
}

// NewPaymentsVerifier signs "{timestamp}.{body}" and prefixes the hex digest
// with "v1=". All supplied secrets are accepted to cover rotation.
func NewPaymentsVerifier(replayWindow time.Duration, secrets ...string) HeaderHMACVerifier {
	return HeaderHMACVerifier{
		Header:          PaymentsSignatureHeader,
		Prefix:          "v1=",
		Secrets:         secrets,
		Encoding:        "hex",
		TimestampHeader: PaymentsTimestampHeader,
		ReplayWindow:    replayWindow,
	}
}

var eventIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{8,128}$`)

// ExtractEventID resolves the delivery identifier for a request: a header
// when the source carries one, the payload's event_id field otherwise, and
// a generated identifier as the last resort. Malformed identifiers are
// replaced rather than rejected so a sloppy provider cannot block intake.
func ExtractEventID(req core.InboundRequest) string {
	var candidate string
	switch req.Source {
	case core.SourceScheduling:
		candidate = headerValue(req.Headers, SchedulingEventIDHeader)
	case core.SourcePayments:
		candidate = headerValue(req.Headers, PaymentsEventIDHeader)
	}
	if candidate == "" {
		candidate = payloadEventID(req.Body)
	}
	if eventIDPattern.MatchString(candidate) {
		return candidate
	}
	return "gen_" + uuid.NewString()
}

func payloadEventID(body []byte) string {
	var envelope struct {
		EventID string `json:"event_id"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if id := strings.TrimSpace(envelope.EventID); id != "" {
			return id
		}
		return strings.TrimSpace(envelope.ID)
	}
	// Form sources resubmit url-encoded bodies carrying the id that the
	// first ingest returned.
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}
	if id := strings.TrimSpace(values.Get("event_id")); id != "" {
		return id
	}
	return strings.TrimSpace(values.Get("id"))
}
