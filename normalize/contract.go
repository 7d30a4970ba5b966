package normalize

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-intake/core"
)

type FieldKind string

const (
	KindString FieldKind = "string"
	KindEmail  FieldKind = "email"
	KindBool   FieldKind = "bool"
	KindEnum   FieldKind = "enum"
)

// FieldSpec maps one canonical field onto the names a source uses on the
// wire. Lookup tries Canonical first, then each alias in order.
type FieldSpec struct {
	Canonical string
	Aliases   []string
	Kind      FieldKind
	Required  bool
	Enum      []string
}

// Contract describes how one source's payloads become a NormalizedEvent.
type Contract struct {
	Source  string
	Version string
	Fields  []FieldSpec
}

func (c Contract) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("normalize: contract source is required")
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("normalize: contract %s declares no fields", c.Source)
	}
	seen := map[string]bool{}
	for _, field := range c.Fields {
		name := strings.TrimSpace(field.Canonical)
		if name == "" {
			return fmt.Errorf("normalize: contract %s has a field without a canonical name", c.Source)
		}
		if seen[name] {
			return fmt.Errorf("normalize: contract %s declares field %s twice", c.Source, name)
		}
		seen[name] = true
		if field.Kind == KindEnum && len(field.Enum) == 0 {
			return fmt.Errorf("normalize: contract %s field %s is enum without values", c.Source, name)
		}
	}
	return nil
}

// Normalize decodes body per contentType and applies the contract. All
// field failures are collected and returned together as one validation
// error so the caller can report the full list.
func (c Contract) Normalize(contentType string, body []byte) (core.NormalizedEvent, error) {
	if err := c.Validate(); err != nil {
		return core.NormalizedEvent{}, err
	}
	raw, err := decodePayload(contentType, body)
	if err != nil {
		return core.NormalizedEvent{}, err
	}

	event := core.NormalizedEvent{
		Source: c.Source,
		Flags:  map[string]bool{},
		Fields: map[string]any{},
	}

	var issues []goerrors.FieldError
	for _, field := range c.Fields {
		value, found := lookupField(raw, field)
		if !found || strings.TrimSpace(fmt.Sprint(value)) == "" {
			if field.Required {
				issues = append(issues, goerrors.FieldError{
					Field:   field.Canonical,
					Message: "value is required",
				})
			}
			continue
		}
		coerced, issue := coerceValue(field, value)
		if issue != nil {
			issues = append(issues, *issue)
			continue
		}
		assignField(&event, field, coerced)
	}
	if len(issues) > 0 {
		return core.NormalizedEvent{}, goerrors.NewValidation("normalize: payload validation failed", issues...).
			WithCode(http.StatusUnprocessableEntity).
			WithTextCode(core.IntakeErrorBadInput)
	}
	return event, nil
}

func decodePayload(contentType string, body []byte) (map[string]any, error) {
	media := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(media, ";"); idx >= 0 {
		media = strings.TrimSpace(media[:idx])
	}
	switch media {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, badPayloadError("normalize: parse form payload")
		}
		raw := make(map[string]any, len(values))
		for key := range values {
			raw[key] = values.Get(key)
		}
		return raw, nil
	default:
		raw := map[string]any{}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, badPayloadError("normalize: parse json payload")
		}
		return raw, nil
	}
}

func badPayloadError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(core.IntakeErrorBadInput)
}

func lookupField(raw map[string]any, field FieldSpec) (any, bool) {
	names := append([]string{field.Canonical}, field.Aliases...)
	for _, name := range names {
		if value, ok := raw[name]; ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

func coerceValue(field FieldSpec, value any) (any, *goerrors.FieldError) {
	switch field.Kind {
	case KindEmail:
		email := strings.ToLower(strings.TrimSpace(fmt.Sprint(value)))
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, &goerrors.FieldError{Field: field.Canonical, Message: "value is not a valid email address"}
		}
		return email, nil
	case KindBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			trimmed := strings.TrimSpace(v)
			// HTML checkboxes submit "on" when checked; some form
			// builders send yes/no instead.
			switch strings.ToLower(trimmed) {
			case "on", "yes":
				return true, nil
			case "off", "no":
				return false, nil
			}
			parsed, err := strconv.ParseBool(trimmed)
			if err != nil {
				return nil, &goerrors.FieldError{Field: field.Canonical, Message: "value is not a valid boolean"}
			}
			return parsed, nil
		default:
			return nil, &goerrors.FieldError{Field: field.Canonical, Message: "value is not a valid boolean"}
		}
	case KindEnum:
		candidate := strings.TrimSpace(fmt.Sprint(value))
		for _, allowed := range field.Enum {
			if candidate == allowed {
				return candidate, nil
			}
		}
		return nil, &goerrors.FieldError{
			Field:   field.Canonical,
			Message: fmt.Sprintf("value must be one of: %s", strings.Join(field.Enum, ", ")),
		}
	default:
		return strings.TrimSpace(fmt.Sprint(value)), nil
	}
}

func assignField(event *core.NormalizedEvent, field FieldSpec, value any) {
	if flag, ok := value.(bool); ok {
		event.Flags[field.Canonical] = flag
		return
	}
	text := fmt.Sprint(value)
	switch field.Canonical {
	case "type":
		event.Type = text
	case "event_id":
		event.EventID = text
	case "email":
		event.Email = text
	case "first_name":
		event.FirstName = text
	case "last_name":
		event.LastName = text
	case "order_token":
		event.OrderToken = text
	case "support_token":
		event.SupportToken = text
	case "step":
		event.Step = text
	default:
		event.Fields[field.Canonical] = value
	}
}
