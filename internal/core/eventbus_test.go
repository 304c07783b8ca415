package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
)

func newTestBus(t *testing.T) *EventBus {
	t.Helper()
	eb, err := NewEventBus(EventBusConfig{Port: -1}, slog.Default())
	if err != nil {
		t.Fatalf("Failed to start event bus: %v", err)
	}
	t.Cleanup(eb.Stop)
	return eb
}

func TestEventBus_SubscribeFrames(t *testing.T) {
	eb := newTestBus(t)

	got := make(chan detection.Frame, 2)
	if _, err := eb.SubscribeFrames(func(f detection.Frame) { got <- f }); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if err := eb.Conn().Publish(FrameSubject("lobby"), []byte(`{"frame_number":7,"detections":[]}`)); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	// Malformed message is dropped, the next one still arrives
	_ = eb.Conn().Publish(FrameSubject("lobby"), []byte(`{`))
	_ = eb.Publish(FrameSubject("gate"), detection.Frame{CameraID: "gate-2", FrameNumber: 8})

	for _, want := range []struct {
		camera string
		frame  int64
	}{{"lobby", 7}, {"gate-2", 8}} {
		select {
		case f := <-got:
			if f.CameraID != want.camera || f.FrameNumber != want.frame {
				t.Errorf("Expected %s frame %d, got %s frame %d", want.camera, want.frame, f.CameraID, f.FrameNumber)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for frame %d", want.frame)
		}
	}
}

func TestEventBus_PublishAlertAndCancel(t *testing.T) {
	eb := newTestBus(t)

	msgs := make(chan *nats.Msg, 2)
	if _, err := eb.Subscribe("alerts.>", func(m *nats.Msg) { msgs <- m }); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	ev := abandon.Event{Type: abandon.EventAlert, CameraID: "lobby", TrackID: 5, FrameNumber: 30}
	if err := eb.PublishAlert(ev); err != nil {
		t.Fatalf("Failed to publish alert: %v", err)
	}
	ev.Type = abandon.EventCancel
	ev.FrameNumber = 41
	if err := eb.PublishCancel(ev); err != nil {
		t.Fatalf("Failed to publish cancel: %v", err)
	}

	for _, subject := range []string{"alerts.abandoned.lobby", "alerts.cancelled.lobby"} {
		select {
		case m := <-msgs:
			if m.Subject != subject {
				t.Errorf("Expected subject %s, got %s", subject, m.Subject)
			}
			var decoded abandon.Event
			if err := json.Unmarshal(m.Data, &decoded); err != nil {
				t.Fatalf("Failed to decode event: %v", err)
			}
			if decoded.TrackID != 5 {
				t.Errorf("Expected track 5, got %d", decoded.TrackID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for %s", subject)
		}
	}
}

func TestEventBus_UnsubscribeAndHealth(t *testing.T) {
	eb := newTestBus(t)

	if _, err := eb.Subscribe("test.subject", func(*nats.Msg) {}); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	eb.Unsubscribe("test.subject")

	eb.subsMu.RLock()
	_, exists := eb.subs["test.subject"]
	eb.subsMu.RUnlock()
	if exists {
		t.Error("Expected subscriptions to be removed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := eb.HealthCheck(ctx); err != nil {
		t.Errorf("Health check failed: %v", err)
	}
	if err := eb.Flush(time.Second); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
}
