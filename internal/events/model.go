// Package events stores the alert history: one row per abandonment episode
package events

import (
	"time"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
)

// Status is the lifecycle state of a stored alert
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
)

// Alert is a persisted abandoned-bag alert
type Alert struct {
	ID             string                `json:"id"`
	CameraID       string                `json:"camera_id"`
	TrackID        int64                 `json:"track_id"`
	Label          string                `json:"label"`
	OwnerID        *int64                `json:"owner_id,omitempty"`
	FrameNumber    int64                 `json:"frame_number"`
	IdleFrames     int                   `json:"idle_frames"`
	Position       detection.Point       `json:"position"`
	BoundingBox    detection.BoundingBox `json:"bounding_box"`
	SnapshotPath   string                `json:"snapshot_path,omitempty"`
	Status         Status                `json:"status"`
	RaisedAt       time.Time             `json:"raised_at"`
	CancelledAt    *time.Time            `json:"cancelled_at,omitempty"`
	CancelFrame    *int64                `json:"cancel_frame,omitempty"`
	CancelReason   string                `json:"cancel_reason,omitempty"`
	Acknowledged   bool                  `json:"acknowledged"`
	AcknowledgedAt *time.Time            `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// AlertFromEvent builds a history row from a core Alert event
func AlertFromEvent(ev abandon.Event) *Alert {
	return &Alert{
		CameraID:    ev.CameraID,
		TrackID:     ev.TrackID,
		Label:       ev.Label,
		OwnerID:     ev.OwnerID,
		FrameNumber: ev.FrameNumber,
		IdleFrames:  ev.IdleFrames,
		Position:    ev.Position,
		BoundingBox: ev.BoundingBox,
	}
}

// ListOptions represents filters for querying alerts
type ListOptions struct {
	CameraID  string    `json:"camera_id,omitempty"`
	Active    *bool     `json:"active,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// Stats summarises the alert history
type Stats struct {
	Total          int            `json:"total"`
	Active         int            `json:"active"`
	Today          int            `json:"today"`
	Unacknowledged int            `json:"unacknowledged"`
	ByCamera       map[string]int `json:"by_camera"`
}
