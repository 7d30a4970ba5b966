package projection

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/core"
)

// Item is one canonical write to mirror into the tracker. ExistingRef is
// the TrackerRef already carried by the canonical document; when present
// the projector updates that record instead of creating a second one.
type Item struct {
	Kind         string
	EntityID     string
	ExistingRef  string
	Title        string
	Status       string
	ReceiptKey   string
	CanonicalKey string
	Fields       map[string]any
}

// RefWriter persists the tracker cross-reference back onto the canonical
// document. The canonical engine implements it.
type RefWriter interface {
	AttachTrackerRef(ctx context.Context, kind string, id string, ref string) error
}

type Projector struct {
	tracker core.TrackerClient
	refs    RefWriter
	logger  core.Logger
}

func NewProjector(tracker core.TrackerClient, refs RefWriter, logger core.Logger) (*Projector, error) {
	if tracker == nil {
		return nil, fmt.Errorf("projection: tracker client is required")
	}
	if refs == nil {
		return nil, fmt.Errorf("projection: ref writer is required")
	}
	return &Projector{
		tracker: tracker,
		refs:    refs,
		logger:  glog.Ensure(logger),
	}, nil
}

// Sync mirrors one canonical write into the tracker. Exactly one record
// exists per canonical document: the first sync creates it, every later
// sync updates it through the stored ref.
func (p *Projector) Sync(ctx context.Context, item Item) (string, error) {
	if p == nil {
		return "", fmt.Errorf("projection: projector is not configured")
	}
	if strings.TrimSpace(item.EntityID) == "" {
		return "", fmt.Errorf("projection: item entity id is required")
	}
	record := core.TrackerRecord{
		Ref:          strings.TrimSpace(item.ExistingRef),
		Title:        strings.TrimSpace(item.Title),
		Status:       strings.TrimSpace(item.Status),
		ReceiptKey:   strings.TrimSpace(item.ReceiptKey),
		CanonicalKey: strings.TrimSpace(item.CanonicalKey),
		Fields:       core.CloneMap(item.Fields),
	}

	if record.Ref != "" {
		if err := p.tracker.UpdateRecord(ctx, record.Ref, record); err != nil {
			return "", err
		}
		p.logger.Info("projection updated tracker record",
			"entity_id", item.EntityID,
			"kind", item.Kind,
			"ref", record.Ref,
		)
		return record.Ref, nil
	}

	ref, err := p.tracker.CreateRecord(ctx, record)
	if err != nil {
		return "", err
	}
	if err := p.refs.AttachTrackerRef(ctx, item.Kind, item.EntityID, ref); err != nil {
		// The record exists but the back-pointer write failed; surface the
		// error so the receipt notes it, the next sync may create a
		// duplicate record until an operator reconciles.
		return ref, fmt.Errorf("projection: tracker ref write-back for %s %s: %w", item.Kind, item.EntityID, err)
	}
	p.logger.Info("projection created tracker record",
		"entity_id", item.EntityID,
		"kind", item.Kind,
		"ref", ref,
	)
	return ref, nil
}

// Annotate is the best-effort note channel used for notification
// failures. Errors are logged, never propagated.
func (p *Projector) Annotate(ctx context.Context, ref string, note string) {
	if p == nil || strings.TrimSpace(ref) == "" {
		return
	}
	if err := p.tracker.Annotate(ctx, ref, note); err != nil {
		p.logger.Error("projection annotation failed",
			"error", err,
			"ref", ref,
		)
	}
}
