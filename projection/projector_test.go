package projection

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-intake/core"
)

type fakeTracker struct {
	created  []core.TrackerRecord
	updated  map[string]core.TrackerRecord
	notes    map[string][]string
	nextRef  string
	failWith error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		updated: map[string]core.TrackerRecord{},
		notes:   map[string][]string{},
		nextRef: "trk_001",
	}
}

func (f *fakeTracker) CreateRecord(_ context.Context, record core.TrackerRecord) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	f.created = append(f.created, record)
	return f.nextRef, nil
}

func (f *fakeTracker) UpdateRecord(_ context.Context, ref string, record core.TrackerRecord) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.updated[ref] = record
	return nil
}

func (f *fakeTracker) Annotate(_ context.Context, ref string, note string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.notes[ref] = append(f.notes[ref], note)
	return nil
}

type fakeRefWriter struct {
	refs     map[string]string
	failWith error
}

func (f *fakeRefWriter) AttachTrackerRef(_ context.Context, kind string, id string, ref string) error {
	if f.failWith != nil {
		return f.failWith
	}
	if f.refs == nil {
		f.refs = map[string]string{}
	}
	f.refs[kind+"/"+id] = ref
	return nil
}

func TestSyncCreatesOnFirstWrite(t *testing.T) {
	tracker := newFakeTracker()
	refs := &fakeRefWriter{}
	projector, err := NewProjector(tracker, refs, nil)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}

	ref, err := projector.Sync(context.Background(), Item{
		Kind:         core.EntityKindAccount,
		EntityID:     "acc_abc",
		Title:        "Jane Doe",
		Status:       "intake",
		ReceiptKey:   "receipts/forms/evt_12345678",
		CanonicalKey: "accounts/acc_abc",
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if ref != "trk_001" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if len(tracker.created) != 1 {
		t.Fatalf("expected 1 create, got %d", len(tracker.created))
	}
	if refs.refs["account/acc_abc"] != "trk_001" {
		t.Fatal("tracker ref not written back")
	}
}

func TestSyncUpdatesWhenRefExists(t *testing.T) {
	tracker := newFakeTracker()
	projector, err := NewProjector(tracker, &fakeRefWriter{}, nil)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}

	ref, err := projector.Sync(context.Background(), Item{
		Kind:        core.EntityKindAccount,
		EntityID:    "acc_abc",
		ExistingRef: "trk_001",
		Status:      "scheduled",
	})
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if ref != "trk_001" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if len(tracker.created) != 0 {
		t.Fatal("existing ref must update, not create a second record")
	}
	if tracker.updated["trk_001"].Status != "scheduled" {
		t.Fatal("update payload lost")
	}
}

func TestSyncSurfacesTrackerFailure(t *testing.T) {
	tracker := newFakeTracker()
	tracker.failWith = errors.New("tracker 502")
	projector, err := NewProjector(tracker, &fakeRefWriter{}, nil)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}

	if _, err := projector.Sync(context.Background(), Item{
		Kind:     core.EntityKindAccount,
		EntityID: "acc_abc",
	}); err == nil {
		t.Fatal("expected tracker failure to surface")
	}
}

func TestSyncSurfacesRefWriteBackFailure(t *testing.T) {
	tracker := newFakeTracker()
	refs := &fakeRefWriter{failWith: errors.New("version conflict exhausted")}
	projector, err := NewProjector(tracker, refs, nil)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}

	ref, err := projector.Sync(context.Background(), Item{
		Kind:     core.EntityKindAccount,
		EntityID: "acc_abc",
	})
	if err == nil {
		t.Fatal("expected write-back failure to surface")
	}
	if ref != "trk_001" {
		t.Fatalf("expected created ref returned alongside error, got %q", ref)
	}
}

func TestAnnotateSwallowsErrors(t *testing.T) {
	tracker := newFakeTracker()
	projector, err := NewProjector(tracker, &fakeRefWriter{}, nil)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}

	projector.Annotate(context.Background(), "trk_001", "notification failed")
	if len(tracker.notes["trk_001"]) != 1 {
		t.Fatal("expected annotation recorded")
	}

	tracker.failWith = errors.New("tracker down")
	projector.Annotate(context.Background(), "trk_001", "second note")
}
