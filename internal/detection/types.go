// Package detection provides the detection wire types consumed by the
// abandonment core, plus frame sources and the snapshot frame grabber.
package detection

import (
	"encoding/json"
	"image"
	"math"
	"time"
)

// Detection represents a single object reported by the upstream detector/tracker
type Detection struct {
	Label       string      `json:"label"`
	TrackID     *int64      `json:"track_id,omitempty"`
	Confidence  float64     `json:"confidence,omitempty"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// HasTrackID reports whether the tracker assigned an identifier
func (d Detection) HasTrackID() bool {
	return d.TrackID != nil
}

// Center returns the midpoint of the detection's bounding box
func (d Detection) Center() Point {
	return d.BoundingBox.Center()
}

// WithTrackID returns a copy of the detection carrying the given id
func (d Detection) WithTrackID(id int64) Detection {
	d.TrackID = &id
	return d
}

// Point is a position in pixel coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DistanceTo returns the straight-line distance between two points
func (p Point) DistanceTo(other Point) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// BoundingBox is an axis-aligned rectangle in pixel coordinates
type BoundingBox struct {
	X1 float64 `json:"x1"` // Top-left X
	Y1 float64 `json:"y1"` // Top-left Y
	X2 float64 `json:"x2"` // Bottom-right X
	Y2 float64 `json:"y2"` // Bottom-right Y
}

// Center returns the center point of the bounding box
func (b BoundingBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Width returns the box width
func (b BoundingBox) Width() float64 {
	return b.X2 - b.X1
}

// Height returns the box height
func (b BoundingBox) Height() float64 {
	return b.Y2 - b.Y1
}

// Area returns the area of the bounding box
func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

// Valid reports whether the box has positive extent
func (b BoundingBox) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Rect converts the box to an integer image rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// IoU calculates Intersection over Union with another box
func (b BoundingBox) IoU(other BoundingBox) float64 {
	x1 := max(b.X1, other.X1)
	y1 := max(b.Y1, other.Y1)
	x2 := min(b.X2, other.X2)
	y2 := min(b.Y2, other.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := b.Area() + other.Area() - intersection

	if union == 0 {
		return 0
	}

	return intersection / union
}

// NoFrameNumber marks a frame whose source did not number it
const NoFrameNumber int64 = -1

// Frame is one video frame's worth of detections
type Frame struct {
	CameraID    string      `json:"camera_id"`
	FrameNumber int64       `json:"frame_number"`
	Timestamp   time.Time   `json:"timestamp,omitempty"`
	Detections  []Detection `json:"detections"`
}

// UnmarshalJSON decodes a frame, mapping a missing or null frame_number to
// NoFrameNumber so that sources numbering from 0 keep their frame 0
func (f *Frame) UnmarshalJSON(data []byte) error {
	type plain Frame
	aux := struct {
		*plain
		FrameNumber *int64 `json:"frame_number"`
	}{plain: (*plain)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	f.FrameNumber = NoFrameNumber
	if aux.FrameNumber != nil {
		f.FrameNumber = *aux.FrameNumber
	}
	return nil
}
