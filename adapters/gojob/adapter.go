// Package gojob hands intake maintenance work (throttle-state purges,
// operator-scheduled receipt replays) to a go-job queue. The pipeline
// itself never schedules anything; only maintenance flows through here.
package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-intake/core"
)

const (
	JobIDThrottlePurge = "intake.throttle.purge"
	JobIDReceiptReplay = "intake.receipt.replay"
)

// RetryPolicy bounds queue retries so a poisoned maintenance task cannot
// loop forever.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt clamps a nack into the policy's bounds.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage maps a maintenance task onto the go-job message.
// The idempotency key deduplicates replays of the same receipt.
func ToExecutionMessage(task core.MaintenanceTask) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(task.TaskID),
		Parameters:     core.CloneMap(task.Parameters),
		IdempotencyKey: strings.TrimSpace(task.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy("ignore"),
	}
}

// MaintenanceEnqueuer builds and enqueues the two maintenance tasks.
type MaintenanceEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewMaintenanceEnqueuer(enqueuer queue.Enqueuer) *MaintenanceEnqueuer {
	return &MaintenanceEnqueuer{enqueuer: enqueuer}
}

func (e *MaintenanceEnqueuer) Enqueue(ctx context.Context, task core.MaintenanceTask) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(task.TaskID) == "" {
		return fmt.Errorf("gojob: task id is required")
	}
	return e.enqueuer.Enqueue(ctx, ToExecutionMessage(task))
}

// EnqueueThrottlePurge schedules one purge pass over stale throttle state.
func (e *MaintenanceEnqueuer) EnqueueThrottlePurge(ctx context.Context) error {
	return e.Enqueue(ctx, core.MaintenanceTask{
		TaskID:         JobIDThrottlePurge,
		IdempotencyKey: JobIDThrottlePurge,
	})
}

// EnqueueReceiptReplay schedules an operator replay of one receipt. The
// ledger key doubles as the idempotency key, so scheduling the same
// receipt twice collapses into one queued task.
func (e *MaintenanceEnqueuer) EnqueueReceiptReplay(ctx context.Context, source string, eventID string) error {
	source = strings.TrimSpace(source)
	eventID = strings.TrimSpace(eventID)
	if source == "" || eventID == "" {
		return fmt.Errorf("gojob: source and event id are required")
	}
	return e.Enqueue(ctx, core.MaintenanceTask{
		TaskID: JobIDReceiptReplay,
		Parameters: map[string]any{
			"source":   source,
			"event_id": eventID,
		},
		IdempotencyKey: "receipts/" + source + "/" + eventID,
	})
}
