package abandon

import "github.com/Spatial-NVR/bagwatch/internal/detection"

// EventType distinguishes alert events from their cancellation
type EventType string

const (
	EventAlert  EventType = "alert"
	EventCancel EventType = "cancel"
)

// Cancel reasons
const (
	ReasonOwnerReturned = "owner_returned"
	ReasonEvicted       = "evicted"
)

// Event is an Alert or Cancel produced by the lifecycle manager
type Event struct {
	Type        EventType             `json:"type"`
	CameraID    string                `json:"camera_id"`
	TrackID     int64                 `json:"track_id"`
	FrameNumber int64                 `json:"frame_number"`
	Label       string                `json:"label,omitempty"`
	OwnerID     *int64                `json:"owner_id,omitempty"`
	IdleFrames  int                   `json:"idle_frames"`
	Position    detection.Point       `json:"position"`
	BoundingBox detection.BoundingBox `json:"bounding_box"`
	Reason      string                `json:"reason,omitempty"`
}

// Emitter receives the final Alert/Cancel events.
// Implementations must return quickly; slow work belongs on a task queue.
type Emitter interface {
	EmitAlert(Event)
	EmitCancel(Event)
}

// EmitterFunc adapts a single function to the Emitter interface
type EmitterFunc func(Event)

// EmitAlert implements Emitter
func (f EmitterFunc) EmitAlert(ev Event) { f(ev) }

// EmitCancel implements Emitter
func (f EmitterFunc) EmitCancel(ev Event) { f(ev) }

type nopEmitter struct{}

func (nopEmitter) EmitAlert(Event)  {}
func (nopEmitter) EmitCancel(Event) {}

// alertLifecycle guards the alerted flag so each episode yields one Alert and at most one Cancel
type alertLifecycle struct {
	cameraID string
	emitter  Emitter
}

// raise emits an Alert unless one is already active for the track
func (l *alertLifecycle) raise(track *BagTrack, frame int64) (Event, bool) {
	if track.Alerted {
		return Event{}, false
	}
	track.Alerted = true

	ev := l.event(EventAlert, track, frame)
	l.emitter.EmitAlert(ev)
	return ev, true
}

// cancel emits a Cancel only when an Alert is active for the track
func (l *alertLifecycle) cancel(track *BagTrack, frame int64, reason string) (Event, bool) {
	if !track.Alerted {
		return Event{}, false
	}
	track.Alerted = false

	ev := l.event(EventCancel, track, frame)
	ev.Reason = reason
	l.emitter.EmitCancel(ev)
	return ev, true
}

func (l *alertLifecycle) event(typ EventType, track *BagTrack, frame int64) Event {
	snapshot := track.clone()
	return Event{
		Type:        typ,
		CameraID:    l.cameraID,
		TrackID:     track.TrackID,
		FrameNumber: frame,
		Label:       track.Label,
		OwnerID:     snapshot.OwnerID,
		IdleFrames:  track.IdleFrames,
		Position:    track.LastPosition,
		BoundingBox: track.BoundingBox,
	}
}
