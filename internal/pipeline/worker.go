package pipeline

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
	"github.com/Spatial-NVR/bagwatch/internal/tracker"
)

// worker is the only goroutine that touches its session
type worker struct {
	cameraID string
	engine   *Engine
	queue    chan detection.Frame
	session  *abandon.TrackingSession
	assigner tracker.Assigner
	label    string
	version  uint64
	logger   *slog.Logger

	frames  atomic.Int64
	alerts  atomic.Int64
	cancels atomic.Int64
	state   atomic.Pointer[published]
}

type published struct {
	snapshot abandon.Snapshot
	at       time.Time
}

func (w *worker) run() {
	defer w.engine.wg.Done()

	for {
		select {
		case frame := <-w.queue:
			w.process(frame)
		case <-w.engine.done:
			// Drain what was queued before close
			for {
				select {
				case frame := <-w.queue:
					w.process(frame)
				default:
					return
				}
			}
		}
	}
}

// rebuildTracker restarts id assignment so the new person label gets its
// own id space. Ids handed out by the old tracker are not carried over.
func (w *worker) rebuildTracker(personLabel string) {
	assigner, err := tracker.New(w.engine.trackerCfg, personLabel)
	if err != nil {
		w.logger.Error("Failed to rebuild tracker, keeping previous person label", "person_label", personLabel, "error", err)
		return
	}
	w.assigner = assigner
	w.label = personLabel
	w.logger.Info("Tracker rebuilt for new person label", "person_label", personLabel)
}

func (w *worker) process(frame detection.Frame) {
	if v := w.engine.version.Load(); v != w.version {
		w.version = v
		w.session.UpdateSettings(w.engine.Settings())
		if label := w.session.Settings().PersonLabel; label != w.label {
			w.rebuildTracker(label)
		}
	}

	assigned, err := w.assigner.Assign(frame)
	if err != nil {
		w.logger.Warn("Tracker failed, using detector ids", "error", err)
		assigned = frame
	}

	for _, ev := range w.session.ProcessFrame(assigned) {
		switch ev.Type {
		case abandon.EventAlert:
			w.alerts.Add(1)
		case abandon.EventCancel:
			w.cancels.Add(1)
		}
	}
	w.frames.Add(1)

	at := frame.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	w.publish(at)
}

func (w *worker) publish(at time.Time) {
	w.state.Store(&published{snapshot: w.session.Snapshot(), at: at})
}

func (w *worker) status() CameraStatus {
	p := w.state.Load()
	return CameraStatus{
		CameraID:    w.cameraID,
		Frames:      w.frames.Load(),
		Alerts:      w.alerts.Load(),
		Cancels:     w.cancels.Load(),
		QueueDepth:  len(w.queue),
		LastFrameAt: p.at,
		Snapshot:    p.snapshot,
	}
}
