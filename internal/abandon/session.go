// Package abandon implements the abandoned-bag core: the spatial matcher, the
// per-stream track registry, ownership inference, the abandonment state
// machine and the alert lifecycle.
//
// A TrackingSession is owned by exactly one goroutine. Streams that run in
// parallel each need their own session because track ids are only unique
// within one stream.
package abandon

import (
	"log/slog"
	"sort"

	"github.com/Spatial-NVR/bagwatch/internal/detection"
)

// TrackingSession is the track registry of one video stream
type TrackingSession struct {
	cameraID  string
	settings  Settings
	tracks    map[int64]*BagTrack
	lifecycle *alertLifecycle
	frame     int64
	dropped   int64
	logger    *slog.Logger
}

// Snapshot is a copy of a session's state that is safe to share
type Snapshot struct {
	CameraID          string     `json:"camera_id"`
	FrameNumber       int64      `json:"frame_number"`
	Tracks            []BagTrack `json:"tracks"`
	ActiveAlerts      int        `json:"active_alerts"`
	DroppedDetections int64      `json:"dropped_detections"`
}

// NewTrackingSession creates an empty registry for a stream.
// A nil emitter discards events; they are still returned by ProcessFrame.
func NewTrackingSession(cameraID string, settings Settings, emitter Emitter) *TrackingSession {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &TrackingSession{
		cameraID:  cameraID,
		settings:  settings.withDefaults(),
		tracks:    make(map[int64]*BagTrack),
		lifecycle: &alertLifecycle{cameraID: cameraID, emitter: emitter},
		logger:    slog.Default().With("component", "abandon", "camera", cameraID),
	}
}

// CameraID returns the stream this session belongs to
func (s *TrackingSession) CameraID() string {
	return s.cameraID
}

// Settings returns the thresholds in effect
func (s *TrackingSession) Settings() Settings {
	return s.settings
}

// UpdateSettings replaces the thresholds; they apply from the next frame on
func (s *TrackingSession) UpdateSettings(settings Settings) {
	s.settings = settings.withDefaults()
}

// FrameNumber returns the number of the last processed frame
func (s *TrackingSession) FrameNumber() int64 {
	return s.frame
}

// Len returns the number of bag tracks in the registry
func (s *TrackingSession) Len() int {
	return len(s.tracks)
}

// Track returns a copy of a bag track
func (s *TrackingSession) Track(id int64) (BagTrack, bool) {
	t, ok := s.tracks[id]
	if !ok {
		return BagTrack{}, false
	}
	return t.clone(), true
}

// Snapshot copies the registry, tracks ordered by id
func (s *TrackingSession) Snapshot() Snapshot {
	snap := Snapshot{
		CameraID:          s.cameraID,
		FrameNumber:       s.frame,
		Tracks:            make([]BagTrack, 0, len(s.tracks)),
		DroppedDetections: s.dropped,
	}
	for _, id := range s.sortedIDs() {
		t := s.tracks[id]
		if t.Alerted {
			snap.ActiveAlerts++
		}
		snap.Tracks = append(snap.Tracks, t.clone())
	}
	return snap
}

// ProcessFrame runs one frame through matcher, resolver, state machine and
// lifecycle, returning the Alert/Cancel events it produced in order.
//
// Frames carrying detection.NoFrameNumber are numbered after the previous one.
func (s *TrackingSession) ProcessFrame(frame detection.Frame) []Event {
	frameNumber := frame.FrameNumber
	if frameNumber < 0 {
		frameNumber = s.frame + 1
	}
	s.frame = frameNumber
	settings := s.settings

	persons, bags := s.classify(frame.Detections)

	var events []Event
	seen := make(map[int64]struct{}, len(bags))
	for _, d := range bags {
		id := *d.TrackID
		// A tracker reporting the same id twice in one frame still advances the track once
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		track, exists := s.tracks[id]
		if !exists {
			track = &BagTrack{TrackID: id, FirstSeenFrame: frameNumber}
			s.tracks[id] = track
			s.logger.Debug("Bag track created", "track_id", id, "label", d.Label, "frame", frameNumber)
		}
		track.observe(d, frameNumber)

		present, assigned := resolveOwner(track, persons, settings.DistanceThreshold)
		if assigned {
			s.logger.Info("Owner assigned", "track_id", id, "owner_id", *track.OwnerID, "frame", frameNumber)
		}

		switch step(track, present, settings.AbandonThreshold) {
		case transitionAbandoned:
			if ev, ok := s.lifecycle.raise(track, frameNumber); ok {
				s.logger.Warn("Abandoned bag detected", "track_id", id, "label", track.Label, "frame", frameNumber)
				events = append(events, ev)
			}
		case transitionReturned:
			if ev, ok := s.lifecycle.cancel(track, frameNumber, ReasonOwnerReturned); ok {
				s.logger.Info("Owner returned, alert cancelled", "track_id", id, "frame", frameNumber)
				events = append(events, ev)
				if settings.ClearOwnerOnCancel {
					track.OwnerID = nil
				}
			}
		}
	}

	return append(events, s.evict(frameNumber, settings.EvictionFrames)...)
}

// classify splits detections into identified persons and trackable bags
func (s *TrackingSession) classify(detections []detection.Detection) (persons, bags []detection.Detection) {
	for _, d := range detections {
		switch {
		case s.settings.IsPerson(d.Label):
			persons = append(persons, d)
		case s.settings.IsBag(d.Label):
			if !d.HasTrackID() {
				s.dropped++
				s.logger.Debug("Dropping bag detection without track id", "label", d.Label)
				continue
			}
			if !d.BoundingBox.Valid() {
				s.dropped++
				s.logger.Debug("Dropping bag detection with empty box", "track_id", *d.TrackID)
				continue
			}
			bags = append(bags, d)
		}
	}
	return persons, bags
}

// evict removes tracks unseen for evictionFrames frames, cancelling their alerts first
func (s *TrackingSession) evict(frameNumber int64, evictionFrames int) []Event {
	if evictionFrames <= 0 {
		return nil
	}

	var events []Event
	for _, id := range s.sortedIDs() {
		track := s.tracks[id]
		if frameNumber-track.LastSeenFrame < int64(evictionFrames) {
			continue
		}
		if ev, ok := s.lifecycle.cancel(track, frameNumber, ReasonEvicted); ok {
			events = append(events, ev)
		}
		delete(s.tracks, id)
		s.logger.Debug("Bag track evicted", "track_id", id, "last_seen", track.LastSeenFrame)
	}
	return events
}

func (s *TrackingSession) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
