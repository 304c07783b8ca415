package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
	"github.com/Spatial-NVR/bagwatch/internal/tracker"
)

type recorder struct {
	mu     sync.Mutex
	events []abandon.Event
}

func (r *recorder) EmitAlert(ev abandon.Event)  { r.add(ev) }
func (r *recorder) EmitCancel(ev abandon.Event) { r.add(ev) }

func (r *recorder) add(ev abandon.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []abandon.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]abandon.Event(nil), r.events...)
}

func bagFrame(camera string, n int64, dets ...detection.Detection) detection.Frame {
	return detection.Frame{CameraID: camera, FrameNumber: n, Detections: dets}
}

func bagAt(id int64, cx, cy float64) detection.Detection {
	return detection.Detection{
		Label:       "suitcase",
		BoundingBox: detection.BoundingBox{X1: cx - 10, Y1: cy - 10, X2: cx + 10, Y2: cy + 10},
	}.WithTrackID(id)
}

func personAt(id int64, cx, cy float64) detection.Detection {
	d := bagAt(id, cx, cy)
	d.Label = "person"
	return d
}

func waitForFrames(t *testing.T, e *Engine, camera string, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := e.Status(camera); ok && st.Frames >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d frames on %s", n, camera)
}

func TestEngine_IndependentCameras(t *testing.T) {
	rec := &recorder{}
	e := New(Options{Settings: abandon.DefaultSettings(), Emitter: rec, QueueSize: 4})
	ctx := context.Background()

	for n := int64(1); n <= 35; n++ {
		// Same track id on both cameras; only lobby's bag is unattended
		if err := e.Submit(ctx, bagFrame("lobby", n, bagAt(1, 100, 100))); err != nil {
			t.Fatalf("Failed to submit lobby frame: %v", err)
		}
		if err := e.Submit(ctx, bagFrame("gate", n, bagAt(1, 100, 100), personAt(9, 120, 100))); err != nil {
			t.Fatalf("Failed to submit gate frame: %v", err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Failed to close engine: %v", err)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d: %+v", len(events), events)
	}
	if events[0].CameraID != "lobby" || events[0].FrameNumber != 30 {
		t.Errorf("Expected lobby alert at frame 30, got %s at %d", events[0].CameraID, events[0].FrameNumber)
	}

	cams := e.Cameras()
	if len(cams) != 2 || cams[0] != "gate" || cams[1] != "lobby" {
		t.Errorf("Expected cameras [gate lobby], got %v", cams)
	}

	lobby, ok := e.Status("lobby")
	if !ok {
		t.Fatal("Expected lobby status")
	}
	if lobby.Frames != 35 || lobby.Alerts != 1 {
		t.Errorf("Expected 35 frames and 1 alert, got %d and %d", lobby.Frames, lobby.Alerts)
	}
	if lobby.Snapshot.ActiveAlerts != 1 || lobby.Snapshot.FrameNumber != 35 {
		t.Errorf("Unexpected lobby snapshot: %+v", lobby.Snapshot)
	}

	gate, _ := e.Status("gate")
	if len(gate.Snapshot.Tracks) != 1 || gate.Snapshot.Tracks[0].OwnerID == nil || *gate.Snapshot.Tracks[0].OwnerID != 9 {
		t.Errorf("Expected gate bag owned by person 9, got %+v", gate.Snapshot.Tracks)
	}
}

func TestEngine_UpdateSettingsBetweenFrames(t *testing.T) {
	rec := &recorder{}
	e := New(Options{Settings: abandon.DefaultSettings(), Emitter: rec})
	ctx := context.Background()

	for n := int64(1); n <= 3; n++ {
		if err := e.Submit(ctx, bagFrame("cam1", n, bagAt(4, 50, 50))); err != nil {
			t.Fatalf("Failed to submit frame: %v", err)
		}
	}
	waitForFrames(t, e, "cam1", 3)

	s := e.Settings()
	s.AbandonThreshold = 5
	e.UpdateSettings(s)

	for n := int64(4); n <= 6; n++ {
		if err := e.Submit(ctx, bagFrame("cam1", n, bagAt(4, 50, 50))); err != nil {
			t.Fatalf("Failed to submit frame: %v", err)
		}
	}
	_ = e.Close()

	events := rec.all()
	if len(events) != 1 || events[0].FrameNumber != 5 {
		t.Fatalf("Expected a single alert at frame 5, got %+v", events)
	}
	if got := e.Settings().AbandonThreshold; got != 5 {
		t.Errorf("Expected abandon threshold 5, got %d", got)
	}
}

func TestEngine_ByteTrackMode(t *testing.T) {
	rec := &recorder{}
	e := New(Options{
		Settings: abandon.Settings{AbandonThreshold: 3},
		Tracker:  tracker.Config{Mode: tracker.ModeByteTrack},
		Emitter:  rec,
	})

	unlabelled := detection.Detection{
		Label:       "backpack",
		Confidence:  0.9,
		BoundingBox: detection.BoundingBox{X1: 10, Y1: 10, X2: 50, Y2: 50},
	}
	for n := int64(1); n <= 4; n++ {
		if err := e.Submit(context.Background(), bagFrame("cam1", n, unlabelled)); err != nil {
			t.Fatalf("Failed to submit frame: %v", err)
		}
	}
	_ = e.Close()

	events := rec.all()
	if len(events) != 1 || events[0].TrackID != 1 || events[0].FrameNumber != 3 {
		t.Fatalf("Expected alert for tracker id 1 at frame 3, got %+v", events)
	}
}

func TestEngine_PersonLabelChangeRebuildsTracker(t *testing.T) {
	rec := &recorder{}
	e := New(Options{
		Settings: abandon.Settings{AbandonThreshold: 3},
		Tracker:  tracker.Config{Mode: tracker.ModeByteTrack},
		Emitter:  rec,
	})

	bag := detection.Detection{
		Label:       "backpack",
		Confidence:  0.9,
		BoundingBox: detection.BoundingBox{X1: 10, Y1: 10, X2: 50, Y2: 50},
	}
	guard := detection.Detection{
		Label:       "guard",
		Confidence:  0.9,
		BoundingBox: detection.BoundingBox{X1: 60, Y1: 10, X2: 100, Y2: 90},
	}

	if err := e.Submit(context.Background(), bagFrame("cam1", 1, bag)); err != nil {
		t.Fatalf("Failed to submit frame: %v", err)
	}
	waitForFrames(t, e, "cam1", 1)

	settings := e.Settings()
	settings.PersonLabel = "guard"
	e.UpdateSettings(settings)

	for n := int64(2); n <= 6; n++ {
		if err := e.Submit(context.Background(), bagFrame("cam1", n, bag, guard)); err != nil {
			t.Fatalf("Failed to submit frame: %v", err)
		}
	}
	_ = e.Close()

	e.mu.Lock()
	w := e.workers["cam1"]
	e.mu.Unlock()

	bt, ok := w.assigner.(*tracker.ByteTrack)
	if !ok {
		t.Fatalf("Expected ByteTrack assigner, got %T", w.assigner)
	}
	if bt.PersonLabel() != "guard" {
		t.Errorf("Expected tracker person label guard, got %q", bt.PersonLabel())
	}
	if w.label != "guard" {
		t.Errorf("Expected worker label guard, got %q", w.label)
	}

	// The guard standing beside the bag owns it, so nothing alerts
	for _, ev := range rec.all() {
		if ev.Type == abandon.EventAlert {
			t.Errorf("Expected no alert while the guard is nearby, got %+v", ev)
		}
	}
}

func TestEngine_SubmitErrors(t *testing.T) {
	e := New(Options{Tracker: tracker.Config{Mode: "nope"}})

	if err := e.Submit(context.Background(), detection.Frame{}); err == nil {
		t.Error("Expected error for frame without camera")
	}
	if err := e.Submit(context.Background(), bagFrame("cam1", 1)); err == nil {
		t.Error("Expected error for invalid tracker mode")
	}

	ok := New(Options{})
	_ = ok.Close()
	if err := ok.Submit(context.Background(), bagFrame("cam1", 1)); err == nil {
		t.Error("Expected error after close")
	}
	if err := ok.Close(); err != nil {
		t.Errorf("Close should be idempotent, got %v", err)
	}
}

func TestEngine_SubmitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	emitter := abandon.EmitterFunc(func(abandon.Event) { <-block })

	e := New(Options{Settings: abandon.Settings{AbandonThreshold: 1}, Emitter: emitter, QueueSize: 1})
	defer func() {
		close(block)
		_ = e.Close()
	}()

	// Frame 1 blocks the worker inside the emitter, frame 2 fills the queue
	_ = e.Submit(context.Background(), bagFrame("cam1", 1, bagAt(1, 0, 0)))
	short, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_ = e.Submit(short, bagFrame("cam1", 2, bagAt(1, 0, 0)))
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.Submit(ctx, bagFrame("cam1", 3, bagAt(1, 0, 0))); err == nil {
		t.Error("Expected Submit to give up when the context expires")
	}
}
