// Package tracker assigns per-camera track ids to detections that arrive
// without them, using ByteTrack.
package tracker

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/LdDl/mot-go/mot"
	"github.com/google/uuid"

	"github.com/Spatial-NVR/bagwatch/internal/detection"
)

// Tracker modes
const (
	ModeUpstream  = "upstream"
	ModeByteTrack = "bytetrack"
)

// Config holds the ByteTrack parameters
type Config struct {
	Mode           string  `json:"mode"`
	MaxDisappeared int     `json:"max_disappeared"`
	MinIoU         float64 `json:"min_iou"`
	HighThreshold  float64 `json:"high_threshold"`
	LowThreshold   float64 `json:"low_threshold"`
}

// DefaultConfig returns upstream mode with ByteTrack defaults ready for bytetrack mode
func DefaultConfig() Config {
	return Config{
		Mode:           ModeUpstream,
		MaxDisappeared: 30,
		MinIoU:         0.3,
		HighThreshold:  0.5,
		LowThreshold:   0.3,
	}
}

// Assigner fills in missing track ids on a frame
type Assigner interface {
	Assign(frame detection.Frame) (detection.Frame, error)
}

// New creates an assigner for one camera.
// personLabel separates the person id space from everything else.
func New(cfg Config, personLabel string) (Assigner, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", ModeUpstream:
		return passthrough{}, nil
	case ModeByteTrack:
		return NewByteTrack(cfg, personLabel), nil
	default:
		return nil, fmt.Errorf("unknown tracker mode: %s", cfg.Mode)
	}
}

type passthrough struct{}

func (passthrough) Assign(frame detection.Frame) (detection.Frame, error) {
	return frame, nil
}

// ByteTrack assigns ids with one ByteTrack instance per class family.
// Not safe for concurrent use; the owning camera worker calls it.
type ByteTrack struct {
	cfg         Config
	personLabel string
	families    map[string]*family
	logger      *slog.Logger
}

// NewByteTrack creates an in-process tracker
func NewByteTrack(cfg Config, personLabel string) *ByteTrack {
	def := DefaultConfig()
	if cfg.MaxDisappeared <= 1 {
		cfg.MaxDisappeared = def.MaxDisappeared
	}
	if cfg.MinIoU <= 0 {
		cfg.MinIoU = def.MinIoU
	}
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = def.HighThreshold
	}
	if cfg.LowThreshold <= 0 {
		cfg.LowThreshold = def.LowThreshold
	}
	return &ByteTrack{
		cfg:         cfg,
		personLabel: personLabel,
		families:    make(map[string]*family),
		logger:      slog.Default().With("component", "tracker"),
	}
}

// Assign gives every id-less detection the id of the ByteTrack track it
// matched or started. Detections that already carry an id are left alone.
func (b *ByteTrack) Assign(frame detection.Frame) (detection.Frame, error) {
	out := frame
	out.Detections = make([]detection.Detection, len(frame.Detections))
	copy(out.Detections, frame.Detections)

	byFamily := make(map[string][]int)
	for i, d := range out.Detections {
		if d.HasTrackID() || !d.BoundingBox.Valid() {
			continue
		}
		name := b.familyOf(d.Label)
		byFamily[name] = append(byFamily[name], i)
	}

	// Every known family steps each frame so unseen tracks age out
	for name := range b.families {
		if _, ok := byFamily[name]; !ok {
			byFamily[name] = nil
		}
	}

	for name, idx := range byFamily {
		f, ok := b.families[name]
		if !ok {
			f = newFamily(b.cfg)
			b.families[name] = f
		}
		if err := f.assign(out.Detections, idx); err != nil {
			return frame, fmt.Errorf("failed to track %s detections: %w", name, err)
		}
	}

	return out, nil
}

// PersonLabel returns the label tracked in the person id space
func (b *ByteTrack) PersonLabel() string {
	return b.personLabel
}

// ActiveTracks returns the number of live ByteTrack tracks per family
func (b *ByteTrack) ActiveTracks() map[string]int {
	counts := make(map[string]int, len(b.families))
	for name, f := range b.families {
		counts[name] = len(f.tracker.GetActiveTracks())
	}
	return counts
}

func (b *ByteTrack) familyOf(label string) string {
	if strings.EqualFold(label, b.personLabel) {
		return "person"
	}
	return "object"
}

type family struct {
	tracker *mot.ByteTracker[*mot.BlobBBox]
	ids     map[uuid.UUID]int64
	next    int64
}

func newFamily(cfg Config) *family {
	return &family{
		tracker: mot.NewByteTracker[*mot.BlobBBox](
			cfg.MaxDisappeared, cfg.MinIoU, cfg.HighThreshold, cfg.LowThreshold,
			mot.MatchingAlgorithmHungarian,
		),
		ids: make(map[uuid.UUID]int64),
	}
}

type candidate struct {
	det   int
	track uuid.UUID
	iou   float64
}

func (f *family) assign(dets []detection.Detection, idx []int) error {
	blobs := make([]*mot.BlobBBox, len(idx))
	confidences := make([]float64, len(idx))
	for i, di := range idx {
		blobs[i] = mot.NewBlobBBox(toRect(dets[di].BoundingBox))
		confidences[i] = dets[di].Confidence
		// Detectors that do not report a score are trusted
		if confidences[i] <= 0 {
			confidences[i] = 1
		}
	}

	if err := f.tracker.MatchObjects(blobs, confidences); err != nil {
		return err
	}

	assigned := make([]bool, len(idx))

	// A detection that started a track is stored as the track itself
	for i, blob := range blobs {
		if obj, ok := f.tracker.Objects[blob.GetID()]; ok && obj == blob {
			dets[idx[i]] = dets[idx[i]].WithTrackID(f.idFor(blob.GetID()))
			assigned[i] = true
		}
	}

	// Matched tracks were updated in place and had their miss counter reset.
	// Pair them back to the remaining detections by IoU.
	var candidates []candidate
	for i, blob := range blobs {
		if assigned[i] {
			continue
		}
		for id, obj := range f.tracker.Objects {
			if obj.GetNoMatchTimes() != 0 {
				continue
			}
			if iou := mot.IoU(blob.GetBBox(), obj.GetBBox()); iou > 0 {
				candidates = append(candidates, candidate{det: i, track: id, iou: iou})
			}
		}
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].iou != candidates[b].iou {
			return candidates[a].iou > candidates[b].iou
		}
		return candidates[a].det < candidates[b].det
	})

	taken := make(map[uuid.UUID]struct{})
	for _, c := range candidates {
		if assigned[c.det] {
			continue
		}
		if _, ok := taken[c.track]; ok {
			continue
		}
		taken[c.track] = struct{}{}
		assigned[c.det] = true
		dets[idx[c.det]] = dets[idx[c.det]].WithTrackID(f.idFor(c.track))
	}

	// Forget ids of tracks ByteTrack has dropped
	for id := range f.ids {
		if _, ok := f.tracker.Objects[id]; !ok {
			delete(f.ids, id)
		}
	}

	return nil
}

func (f *family) idFor(id uuid.UUID) int64 {
	if n, ok := f.ids[id]; ok {
		return n
	}
	f.next++
	f.ids[id] = f.next
	return f.next
}

func toRect(b detection.BoundingBox) mot.Rectangle {
	return mot.Rectangle{X: b.X1, Y: b.Y1, Width: b.Width(), Height: b.Height()}
}
