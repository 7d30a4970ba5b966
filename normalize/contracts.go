package normalize

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-intake/core"
)

// Default contracts. Aliases carry every historical wire label a source
// has used; adding a new label is a contract version bump, never a code
// change downstream of the normalizer.

func SchedulingContract() Contract {
	return Contract{
		Source:  core.SourceScheduling,
		Version: "2024-11",
		Fields: []FieldSpec{
			{Canonical: "type", Aliases: []string{"event_type", "action"}, Kind: KindEnum, Required: true,
				Enum: []string{"booking.created", "booking.rescheduled", "booking.canceled"}},
			{Canonical: "event_id", Aliases: []string{"id"}, Kind: KindString},
			{Canonical: "email", Aliases: []string{"invitee_email", "attendee_email"}, Kind: KindEmail, Required: true},
			{Canonical: "first_name", Aliases: []string{"invitee_first_name", "fname"}, Kind: KindString},
			{Canonical: "last_name", Aliases: []string{"invitee_last_name", "lname"}, Kind: KindString},
			{Canonical: "step", Aliases: []string{"booking_step"}, Kind: KindString},
			{Canonical: "scheduled_at", Aliases: []string{"start_time", "event_start"}, Kind: KindString},
		},
	}
}

func PaymentsContract() Contract {
	return Contract{
		Source:  core.SourcePayments,
		Version: "2025-02",
		Fields: []FieldSpec{
			{Canonical: "type", Aliases: []string{"event_type"}, Kind: KindEnum, Required: true,
				Enum: []string{"order.paid", "order.refunded", "order.failed"}},
			{Canonical: "event_id", Aliases: []string{"id"}, Kind: KindString},
			{Canonical: "email", Aliases: []string{"customer_email", "payer_email"}, Kind: KindEmail, Required: true},
			{Canonical: "order_token", Aliases: []string{"order_id", "reference"}, Kind: KindString, Required: true},
			{Canonical: "amount", Aliases: []string{"total", "amount_cents"}, Kind: KindString},
			{Canonical: "currency", Kind: KindString},
		},
	}
}

func FormsContract() Contract {
	return Contract{
		Source:  core.SourceForms,
		Version: "2023-06",
		Fields: []FieldSpec{
			{Canonical: "type", Aliases: []string{"form-type", "form_name"}, Kind: KindEnum, Required: true,
				Enum: []string{"form.intake", "form.support", "form.followup"}},
			{Canonical: "event_id", Aliases: []string{"submission-id", "entry_id"}, Kind: KindString},
			{Canonical: "email", Aliases: []string{"your-email", "contact_email", "e-mail"}, Kind: KindEmail, Required: true},
			{Canonical: "first_name", Aliases: []string{"your-first-name", "first-name"}, Kind: KindString, Required: true},
			{Canonical: "last_name", Aliases: []string{"your-last-name", "last-name"}, Kind: KindString},
			{Canonical: "support_token", Aliases: []string{"ticket-token", "case_id"}, Kind: KindString},
			{Canonical: "step", Aliases: []string{"intake-step", "form-step"}, Kind: KindString},
			{Canonical: "consent", Aliases: []string{"consent-checkbox", "agree"}, Kind: KindBool},
			{Canonical: "newsletter", Aliases: []string{"newsletter-opt-in"}, Kind: KindBool},
			{Canonical: "message", Aliases: []string{"your-message", "comments"}, Kind: KindString},
		},
	}
}

// Registry resolves the contract for a source. Unknown sources are a
// configuration error, not a payload error.
type Registry struct {
	contracts map[string]Contract
}

func NewRegistry(contracts ...Contract) (*Registry, error) {
	registry := &Registry{contracts: map[string]Contract{}}
	for _, contract := range contracts {
		if err := contract.Validate(); err != nil {
			return nil, err
		}
		source := strings.TrimSpace(contract.Source)
		if _, exists := registry.contracts[source]; exists {
			return nil, fmt.Errorf("normalize: duplicate contract for source %s", source)
		}
		registry.contracts[source] = contract
	}
	return registry, nil
}

func DefaultRegistry() *Registry {
	registry, err := NewRegistry(SchedulingContract(), PaymentsContract(), FormsContract())
	if err != nil {
		panic(err)
	}
	return registry
}

func (r *Registry) Contract(source string) (Contract, error) {
	if r == nil {
		return Contract{}, fmt.Errorf("normalize: registry is not configured")
	}
	contract, ok := r.contracts[strings.TrimSpace(source)]
	if !ok {
		return Contract{}, fmt.Errorf("normalize: no contract registered for source %s", source)
	}
	return contract, nil
}

func (r *Registry) Normalize(source string, contentType string, body []byte) (core.NormalizedEvent, error) {
	contract, err := r.Contract(source)
	if err != nil {
		return core.NormalizedEvent{}, err
	}
	return contract.Normalize(contentType, body)
}
