// Package pipeline runs one tracking session per camera, each on its own
// goroutine, and fans frames out to them.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
	"github.com/Spatial-NVR/bagwatch/internal/tracker"
)

// DefaultQueueSize is the per-camera frame backlog
const DefaultQueueSize = 64

// Options configures the engine
type Options struct {
	Settings  abandon.Settings
	Tracker   tracker.Config
	Emitter   abandon.Emitter
	QueueSize int
}

// CameraStatus is a read-only view of one camera's session
type CameraStatus struct {
	CameraID    string           `json:"camera_id"`
	Frames      int64            `json:"frames"`
	Alerts      int64            `json:"alerts"`
	Cancels     int64            `json:"cancels"`
	QueueDepth  int              `json:"queue_depth"`
	LastFrameAt time.Time        `json:"last_frame_at"`
	Snapshot    abandon.Snapshot `json:"snapshot"`
}

// Engine owns the per-camera workers
type Engine struct {
	mu      sync.RWMutex
	workers map[string]*worker
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup

	settingsMu sync.RWMutex
	settings   abandon.Settings
	version    atomic.Uint64

	trackerCfg tracker.Config
	emitter    abandon.Emitter
	queueSize  int
	logger     *slog.Logger
}

// New creates an engine; workers are started lazily per camera
func New(opts Options) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Engine{
		workers:    make(map[string]*worker),
		done:       make(chan struct{}),
		settings:   opts.Settings,
		trackerCfg: opts.Tracker,
		emitter:    opts.Emitter,
		queueSize:  opts.QueueSize,
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// Submit queues a frame for its camera. It blocks while the camera's queue is full.
func (e *Engine) Submit(ctx context.Context, frame detection.Frame) error {
	if frame.CameraID == "" {
		return fmt.Errorf("frame has no camera_id")
	}

	w, err := e.worker(frame.CameraID)
	if err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("pipeline is closed")
	}

	select {
	case w.queue <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settings returns the thresholds currently in effect
func (e *Engine) Settings() abandon.Settings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings
}

// UpdateSettings swaps thresholds; every worker applies them before its next frame
func (e *Engine) UpdateSettings(settings abandon.Settings) {
	e.settingsMu.Lock()
	e.settings = settings
	e.settingsMu.Unlock()
	e.version.Add(1)

	e.logger.Info("Settings updated",
		"distance_threshold", settings.DistanceThreshold,
		"abandon_threshold", settings.AbandonThreshold)
}

// Cameras returns the ids of cameras with a live session, sorted
func (e *Engine) Cameras() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.workers))
	for id := range e.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status returns the latest published state of one camera
func (e *Engine) Status(cameraID string) (CameraStatus, bool) {
	e.mu.RLock()
	w, ok := e.workers[cameraID]
	e.mu.RUnlock()
	if !ok {
		return CameraStatus{}, false
	}
	return w.status(), true
}

// Statuses returns the state of every camera, sorted by id
func (e *Engine) Statuses() []CameraStatus {
	ids := e.Cameras()
	out := make([]CameraStatus, 0, len(ids))
	for _, id := range ids {
		if st, ok := e.Status(id); ok {
			out = append(out, st)
		}
	}
	return out
}

// Close stops accepting frames and waits for every queued frame to be processed
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.done)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("Pipeline stopped")
	return nil
}

func (e *Engine) worker(cameraID string) (*worker, error) {
	e.mu.RLock()
	w, ok := e.workers[cameraID]
	e.mu.RUnlock()
	if ok {
		return w, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("pipeline is closed")
	}
	if w, ok := e.workers[cameraID]; ok {
		return w, nil
	}

	session := abandon.NewTrackingSession(cameraID, e.Settings(), e.emitter)
	personLabel := session.Settings().PersonLabel
	assigner, err := tracker.New(e.trackerCfg, personLabel)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker for camera %s: %w", cameraID, err)
	}

	w = &worker{
		cameraID: cameraID,
		engine:   e,
		queue:    make(chan detection.Frame, e.queueSize),
		session:  session,
		assigner: assigner,
		label:    personLabel,
		version:  e.version.Load(),
		logger:   e.logger.With("camera", cameraID),
	}
	w.publish(time.Time{})
	e.workers[cameraID] = w

	e.wg.Add(1)
	go w.run()

	e.logger.Info("Camera session started", "camera", cameraID)
	return w, nil
}
