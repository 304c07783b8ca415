package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/events"
)

// HistoryStore persists alert rows
type HistoryStore interface {
	Create(ctx context.Context, alert *events.Alert) error
	Cancel(ctx context.Context, cameraID string, trackID, frame int64, reason string) (*events.Alert, error)
}

// History records each alert episode in the alert history
type History struct {
	store HistoryStore
}

// NewHistory creates the history sink
func NewHistory(store HistoryStore) *History {
	return &History{store: store}
}

// Name implements Sink
func (h *History) Name() string { return "history" }

// Alert implements Sink
func (h *History) Alert(ctx context.Context, alert Alert) error {
	row := events.AlertFromEvent(alert.Event)
	row.ID = alert.ID
	row.RaisedAt = alert.RaisedAt
	row.SnapshotPath = alert.SnapshotPath
	return h.store.Create(ctx, row)
}

// Cancel implements CancelSink
func (h *History) Cancel(ctx context.Context, ev abandon.Event) error {
	_, err := h.store.Cancel(ctx, ev.CameraID, ev.TrackID, ev.FrameNumber, ev.Reason)
	return err
}

// Publisher publishes events on the message bus
type Publisher interface {
	PublishAlert(ev abandon.Event) error
	PublishCancel(ev abandon.Event) error
}

// Bus forwards alert events to the event bus
type Bus struct {
	pub Publisher
}

// NewBus creates the bus sink
func NewBus(pub Publisher) *Bus {
	return &Bus{pub: pub}
}

// Name implements Sink
func (b *Bus) Name() string { return "bus" }

// Alert implements Sink
func (b *Bus) Alert(_ context.Context, alert Alert) error {
	return b.pub.PublishAlert(alert.Event)
}

// Cancel implements CancelSink
func (b *Bus) Cancel(_ context.Context, ev abandon.Event) error {
	return b.pub.PublishCancel(ev)
}

// Broadcaster sends a message to UI clients watching a camera
type Broadcaster interface {
	BroadcastToCamera(cameraID string, msg interface{})
}

// UI message types
const (
	MessageAlert          = "alert"
	MessageAlertCancelled = "alert_cancelled"
)

// UI pushes alert overlays to connected WebSocket clients
type UI struct {
	b Broadcaster
}

// NewUI creates the UI sink
func NewUI(b Broadcaster) *UI {
	return &UI{b: b}
}

// Name implements Sink
func (u *UI) Name() string { return "ui" }

// Alert implements Sink
func (u *UI) Alert(_ context.Context, alert Alert) error {
	u.b.BroadcastToCamera(alert.CameraID, map[string]interface{}{
		"type":      MessageAlert,
		"timestamp": time.Now(),
		"data":      alert,
	})
	return nil
}

// Cancel implements CancelSink
func (u *UI) Cancel(_ context.Context, ev abandon.Event) error {
	u.b.BroadcastToCamera(ev.CameraID, map[string]interface{}{
		"type":      MessageAlertCancelled,
		"timestamp": time.Now(),
		"data":      ev,
	})
	return nil
}

// CuePlayer plays the audible alert
type CuePlayer interface {
	Alert(ctx context.Context, cameraID string, trackID int64) error
}

// Audio plays the alert sound
type Audio struct {
	player CuePlayer
}

// NewAudio creates the audio sink
func NewAudio(player CuePlayer) *Audio {
	return &Audio{player: player}
}

// Name implements Sink
func (a *Audio) Name() string { return "audio" }

// Alert implements Sink
func (a *Audio) Alert(ctx context.Context, alert Alert) error {
	if err := a.player.Alert(ctx, alert.CameraID, alert.TrackID); err != nil {
		return fmt.Errorf("failed to play alert cue: %w", err)
	}
	return nil
}
