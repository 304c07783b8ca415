package abandon

import "github.com/Spatial-NVR/bagwatch/internal/detection"

// State is the abandonment state of a bag track
type State string

const (
	StateFresh     State = "fresh"
	StateIdle      State = "idle"
	StateAbandoned State = "abandoned"
)

// BagTrack is the durable per-track state of one bag across frames
type BagTrack struct {
	TrackID        int64                 `json:"track_id"`
	Label          string                `json:"label"`
	IdleFrames     int                   `json:"idle_frames"`
	LastPosition   detection.Point       `json:"last_position"`
	BoundingBox    detection.BoundingBox `json:"bounding_box"`
	OwnerID        *int64                `json:"owner_id,omitempty"`
	Alerted        bool                  `json:"alerted"`
	FirstSeenFrame int64                 `json:"first_seen_frame"`
	LastSeenFrame  int64                 `json:"last_seen_frame"`
}

// HasOwner reports whether an owner has been inferred
func (t *BagTrack) HasOwner() bool {
	return t.OwnerID != nil
}

// State derives the abandonment state from the counters
func (t *BagTrack) State() State {
	switch {
	case t.Alerted:
		return StateAbandoned
	case t.IdleFrames > 0:
		return StateIdle
	default:
		return StateFresh
	}
}

// clone returns a deep copy safe to hand outside the session
func (t *BagTrack) clone() BagTrack {
	c := *t
	if t.OwnerID != nil {
		owner := *t.OwnerID
		c.OwnerID = &owner
	}
	return c
}

// observe records this frame's sighting of the bag
func (t *BagTrack) observe(d detection.Detection, frame int64) {
	t.Label = d.Label
	t.BoundingBox = d.BoundingBox
	t.LastPosition = d.Center()
	t.LastSeenFrame = frame
}
