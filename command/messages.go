// Package command exposes the pipeline's two mutating operations as
// go-command messages so operator tooling and schedulers drive them
// through one validated bus.
package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-intake/core"
)

const (
	TypeIngestEvent   = "intake.command.event.ingest"
	TypeReplayReceipt = "intake.command.receipt.replay"
)

type IngestEventMessage struct {
	Source      string
	ContentType string
	Headers     map[string]string
	Body        []byte
}

func (IngestEventMessage) Type() string { return TypeIngestEvent }

func (m IngestEventMessage) Validate() error {
	if strings.TrimSpace(m.Source) == "" {
		return fmt.Errorf("command: source is required")
	}
	if len(m.Body) == 0 {
		return fmt.Errorf("command: body is required")
	}
	return nil
}

func (m IngestEventMessage) Request() core.InboundRequest {
	return core.InboundRequest{
		Source:      strings.TrimSpace(m.Source),
		ContentType: strings.TrimSpace(m.ContentType),
		Headers:     m.Headers,
		Body:        m.Body,
	}
}

type ReplayReceiptMessage struct {
	Source  string
	EventID string
}

func (ReplayReceiptMessage) Type() string { return TypeReplayReceipt }

func (m ReplayReceiptMessage) Validate() error {
	if strings.TrimSpace(m.Source) == "" {
		return fmt.Errorf("command: source is required")
	}
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("command: event id is required")
	}
	return nil
}
