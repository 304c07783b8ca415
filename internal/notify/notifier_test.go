package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/database"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
	"github.com/Spatial-NVR/bagwatch/internal/events"
)

type recordingSink struct {
	name string

	mu      sync.Mutex
	alerts  []Alert
	cancels []abandon.Event
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Alert(_ context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

type cancellingSink struct {
	recordingSink
}

func (c *cancellingSink) Cancel(_ context.Context, ev abandon.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels = append(c.cancels, ev)
	return nil
}

func testEvent() abandon.Event {
	return abandon.Event{
		Type:        abandon.EventAlert,
		CameraID:    "lobby",
		TrackID:     5,
		FrameNumber: 30,
		Label:       "suitcase",
		IdleFrames:  30,
		Position:    detection.Point{X: 110, Y: 220},
		BoundingBox: detection.BoundingBox{X1: 100, Y1: 200, X2: 120, Y2: 240},
	}
}

func TestNotifier_FansOutAlert(t *testing.T) {
	d := NewDispatcher(2, 16)
	plain := &recordingSink{name: "plain"}
	cancelling := &cancellingSink{recordingSink{name: "cancelling"}}
	snap := NewSnapshot(SnapshotConfig{Dir: t.TempDir()})

	n := NewNotifier(d, plain, cancelling)
	n.AddSink(snap)

	n.EmitAlert(testEvent())
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, s := range []*recordingSink{plain, &cancelling.recordingSink} {
		if len(s.alerts) != 1 {
			t.Fatalf("Sink %s: expected 1 alert, got %d", s.name, len(s.alerts))
		}
	}

	a, b := plain.alerts[0], cancelling.alerts[0]
	if a.ID == "" || a.ID != b.ID {
		t.Errorf("Sinks should share one alert id, got %q and %q", a.ID, b.ID)
	}
	if a.RaisedAt.IsZero() {
		t.Error("Expected RaisedAt to be set")
	}
	if !strings.HasSuffix(a.SnapshotPath, "alert_lobby_frame_30_id_5.jpg") {
		t.Errorf("Unexpected snapshot path: %s", a.SnapshotPath)
	}
	if a.TrackID != 5 || a.FrameNumber != 30 {
		t.Errorf("Unexpected event: %+v", a.Event)
	}
}

func TestNotifier_CancelOnlyReachesCancelSinks(t *testing.T) {
	d := NewDispatcher(1, 16)
	plain := &recordingSink{name: "plain"}
	cancelling := &cancellingSink{recordingSink{name: "cancelling"}}
	n := NewNotifier(d, plain, cancelling)

	ev := testEvent()
	ev.Type = abandon.EventCancel
	ev.FrameNumber = 45
	ev.Reason = abandon.ReasonOwnerReturned
	n.EmitCancel(ev)

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(plain.alerts) != 0 || len(plain.cancels) != 0 {
		t.Error("Plain sink should not see cancellations")
	}
	if len(cancelling.cancels) != 1 || cancelling.cancels[0].FrameNumber != 45 {
		t.Errorf("Unexpected cancels: %+v", cancelling.cancels)
	}
}

func TestNotifier_Sinks(t *testing.T) {
	d := NewDispatcher(1, 1)
	defer func() { _ = d.Close(context.Background()) }()

	n := NewNotifier(d, &recordingSink{name: "b"}, &recordingSink{name: "a"})
	names := n.Sinks()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Unexpected sink names: %v", names)
	}
}

func TestNotifier_ImplementsEmitter(t *testing.T) {
	var _ abandon.Emitter = (*Notifier)(nil)
}

type lockedBroadcaster struct {
	mu    sync.Mutex
	order map[int64][]string
}

func (b *lockedBroadcaster) BroadcastToCamera(_ string, msg interface{}) {
	m := msg.(map[string]interface{})
	var trackID int64
	switch data := m["data"].(type) {
	case Alert:
		trackID = data.TrackID
	case abandon.Event:
		trackID = data.TrackID
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.order[trackID] = append(b.order[trackID], m["type"].(string))
}

func TestNotifier_AlertThenCancelLifecycle(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenAndMigrate(ctx, &database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	history := events.NewService(db)
	ui := &lockedBroadcaster{order: make(map[int64][]string)}

	const tracks = 300
	d := NewDispatcher(4, 4*tracks)
	n := NewNotifier(d, NewHistory(history), NewUI(ui))

	for id := int64(1); id <= tracks; id++ {
		ev := testEvent()
		ev.TrackID = id
		n.EmitAlert(ev)

		ev.Type = abandon.EventCancel
		ev.FrameNumber += 10
		ev.Reason = abandon.ReasonOwnerReturned
		n.EmitCancel(ev)
	}

	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if stats := d.Stats(); stats.Dropped != 0 || stats.Failed != 0 {
		t.Fatalf("Unexpected dispatcher stats: %+v", stats)
	}

	active := true
	open, total, err := history.List(ctx, events.ListOptions{Active: &active})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 0 || len(open) != 0 {
		t.Errorf("Expected every alert cancelled, %d still active", total)
	}

	_, total, err = history.List(ctx, events.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != tracks {
		t.Errorf("Expected %d stored alerts, got %d", tracks, total)
	}

	want := []string{MessageAlert, MessageAlertCancelled}
	for id := int64(1); id <= tracks; id++ {
		got := ui.order[id]
		if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("Track %d: expected %v, got %v", id, want, got)
		}
	}
}
