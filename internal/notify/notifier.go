package notify

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
)

// Alert is an abandonment event enriched once, before fan-out, so every
// sink reports the same id and snapshot path.
type Alert struct {
	abandon.Event
	ID           string    `json:"id"`
	RaisedAt     time.Time `json:"raised_at"`
	SnapshotPath string    `json:"snapshot_path,omitempty"`
}

// Sink performs one side effect for a raised alert
type Sink interface {
	Name() string
	Alert(ctx context.Context, alert Alert) error
}

// CancelSink is implemented by sinks that also react to cancellations
type CancelSink interface {
	Cancel(ctx context.Context, ev abandon.Event) error
}

// snapshotNamer is implemented by sinks that write a file other sinks reference
type snapshotNamer interface {
	PathFor(ev abandon.Event) string
}

// Notifier implements abandon.Emitter by queueing one task per sink
type Notifier struct {
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu    sync.RWMutex
	sinks []Sink
}

// NewNotifier creates a notifier on top of a dispatcher
func NewNotifier(d *Dispatcher, sinks ...Sink) *Notifier {
	return &Notifier{
		dispatcher: d,
		sinks:      sinks,
		logger:     slog.Default().With("component", "notifier"),
	}
}

// AddSink registers another sink
func (n *Notifier) AddSink(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// Sinks returns the registered sink names
func (n *Notifier) Sinks() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, len(n.sinks))
	for i, s := range n.sinks {
		names[i] = s.Name()
	}
	return names
}

func (n *Notifier) snapshot() []Sink {
	n.mu.RLock()
	defer n.mu.RUnlock()
	sinks := make([]Sink, len(n.sinks))
	copy(sinks, n.sinks)
	return sinks
}

// taskKey keeps a track's alert and cancel for one sink on the same worker
func taskKey(sink string, ev abandon.Event) string {
	return sink + "/" + ev.CameraID + "/" + strconv.FormatInt(ev.TrackID, 10)
}

// EmitAlert implements abandon.Emitter
func (n *Notifier) EmitAlert(ev abandon.Event) {
	alert := Alert{
		Event:    ev,
		ID:       uuid.New().String(),
		RaisedAt: time.Now(),
	}

	sinks := n.snapshot()
	for _, s := range sinks {
		if namer, ok := s.(snapshotNamer); ok {
			alert.SnapshotPath = namer.PathFor(ev)
			break
		}
	}

	n.logger.Info("Abandoned bag alert",
		"camera_id", ev.CameraID, "track_id", ev.TrackID, "frame", ev.FrameNumber, "alert_id", alert.ID)

	for _, sink := range sinks {
		n.dispatcher.GoKeyed(taskKey(sink.Name(), ev), sink.Name()+".alert", func(ctx context.Context) error {
			return sink.Alert(ctx, alert)
		})
	}
}

// EmitCancel implements abandon.Emitter
func (n *Notifier) EmitCancel(ev abandon.Event) {
	n.logger.Info("Abandoned bag alert cancelled",
		"camera_id", ev.CameraID, "track_id", ev.TrackID, "frame", ev.FrameNumber, "reason", ev.Reason)

	for _, s := range n.snapshot() {
		cs, ok := s.(CancelSink)
		if !ok {
			continue
		}
		name := s.Name()
		n.dispatcher.GoKeyed(taskKey(name, ev), name+".cancel", func(ctx context.Context) error {
			return cs.Cancel(ctx, ev)
		})
	}
}
