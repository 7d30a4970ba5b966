package pipeline

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-intake/core"
	"github.com/goliatone/go-intake/identity"
)

// entityPlan decides which canonical documents one event touches. The
// account is always upserted; payments events additionally own an order,
// support forms a ticket. Tokens key the secondary entities; a missing
// token gets a generated id.
type entityPlan struct {
	kind     string
	entityID string
	account  core.AccountPatch
	order    *core.OrderPatch
	support  *core.SupportPatch
}

func buildPlan(event core.NormalizedEvent, accountID string) entityPlan {
	plan := entityPlan{
		kind:     core.EntityKindAccount,
		entityID: accountID,
		account: core.AccountPatch{
			AccountID:      accountID,
			FirstName:      event.FirstName,
			LastName:       event.LastName,
			PrimaryEmail:   event.Email,
			LifecycleState: lifecycleFor(event),
			Metadata:       eventMetadata(event),
		},
	}

	switch {
	case event.Source == core.SourcePayments || event.OrderToken != "":
		orderID := strings.TrimSpace(event.OrderToken)
		if orderID == "" {
			orderID = identity.NewEntityID("ord")
		}
		plan.kind = core.EntityKindOrder
		plan.entityID = orderID
		plan.order = &core.OrderPatch{
			OrderID:   orderID,
			AccountID: accountID,
			Status:    orderStatusFor(event),
			Steps:     stepMap(event),
			Metadata:  eventMetadata(event),
		}
		plan.account.AddOrders = []string{orderID}
	case event.SupportToken != "" || event.Type == "form.support":
		supportID := strings.TrimSpace(event.SupportToken)
		if supportID == "" {
			supportID = identity.NewEntityID("sup")
		}
		plan.kind = core.EntityKindSupport
		plan.entityID = supportID
		plan.support = &core.SupportPatch{
			SupportID: supportID,
			AccountID: accountID,
			Status:    supportStatusFor(event),
			Steps:     stepMap(event),
			Metadata:  eventMetadata(event),
		}
	}
	return plan
}

// lifecycleFor maps the event onto the account lifecycle. An explicit
// step wins; otherwise the event type decides.
func lifecycleFor(event core.NormalizedEvent) string {
	if step := strings.TrimSpace(event.Step); step != "" {
		return step
	}
	switch event.Type {
	case "booking.created", "booking.rescheduled":
		return "scheduled"
	case "booking.canceled":
		return "lapsed"
	case "order.paid":
		return "customer"
	case "order.refunded", "order.failed":
		return "at-risk"
	case "form.intake":
		return "intake"
	case "form.support", "form.followup":
		return ""
	default:
		return ""
	}
}

func orderStatusFor(event core.NormalizedEvent) string {
	switch event.Type {
	case "order.paid":
		return "paid"
	case "order.refunded":
		return "refunded"
	case "order.failed":
		return "failed"
	default:
		return "open"
	}
}

func supportStatusFor(event core.NormalizedEvent) string {
	if event.Type == "form.followup" {
		return "waiting"
	}
	return "open"
}

// stepMap records the event as progress: the step name plus every true
// flag becomes a completed step.
func stepMap(event core.NormalizedEvent) map[string]bool {
	steps := map[string]bool{}
	if step := strings.TrimSpace(event.Step); step != "" {
		steps[step] = true
	}
	if event.Type != "" {
		steps[event.Type] = true
	}
	for name, value := range event.Flags {
		if value {
			steps[name] = true
		}
	}
	return steps
}

func eventMetadata(event core.NormalizedEvent) map[string]any {
	metadata := core.CloneMap(event.Fields)
	for name, value := range event.Flags {
		metadata[name] = value
	}
	return metadata
}

// eventFromSnapshot rebuilds the normalized event stored on a receipt so
// an operator replay re-runs the pipeline from the normalization output
// onward without the original transport envelope.
func eventFromSnapshot(receipt core.Receipt) core.NormalizedEvent {
	event := core.NormalizedEvent{
		Source:  receipt.Source,
		Type:    receipt.Type,
		EventID: receipt.EventID,
		Flags:   map[string]bool{},
		Fields:  map[string]any{},
	}
	for key, value := range receipt.Normalized {
		switch key {
		case "source", "type":
		case "email":
			event.Email = fmt.Sprint(value)
		case "first_name":
			event.FirstName = fmt.Sprint(value)
		case "last_name":
			event.LastName = fmt.Sprint(value)
		case "order_token":
			event.OrderToken = fmt.Sprint(value)
		case "support_token":
			event.SupportToken = fmt.Sprint(value)
		case "step":
			event.Step = fmt.Sprint(value)
		default:
			if strings.HasPrefix(key, "flag_") {
				if flag, ok := value.(bool); ok {
					event.Flags[strings.TrimPrefix(key, "flag_")] = flag
					continue
				}
			}
			event.Fields[key] = value
		}
	}
	return event
}
