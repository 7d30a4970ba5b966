package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-intake/core"
)

// Processor is the slice of the pipeline the bus mutates through.
type Processor interface {
	Process(ctx context.Context, req core.InboundRequest) (core.IngestResult, error)
	Replay(ctx context.Context, source string, eventID string) (core.IngestResult, error)
}

type IngestEventCommand struct {
	processor Processor
}

func NewIngestEventCommand(processor Processor) *IngestEventCommand {
	return &IngestEventCommand{processor: processor}
}

func (c *IngestEventCommand) Execute(ctx context.Context, msg IngestEventMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: ingest processor is required")
	}
	if err := msg.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid ingest message")
	}
	out, err := c.processor.Process(ctx, msg.Request())
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplayReceiptCommand struct {
	processor Processor
}

func NewReplayReceiptCommand(processor Processor) *ReplayReceiptCommand {
	return &ReplayReceiptCommand{processor: processor}
}

func (c *ReplayReceiptCommand) Execute(ctx context.Context, msg ReplayReceiptMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: replay processor is required")
	}
	if err := msg.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid replay message")
	}
	out, err := c.processor.Replay(ctx, msg.Source, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
