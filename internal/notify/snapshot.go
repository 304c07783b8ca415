package notify

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Banner is drawn across the top of every alert snapshot
const Banner = "ALERT: Abandoned Bag!"

const (
	defaultFrameWidth  = 1280
	defaultFrameHeight = 720
	snapshotQuality    = 90
)

var alertRed = color.RGBA{R: 255, A: 255}

// ImageSource returns the current still of a camera
type ImageSource interface {
	HasSource(cameraID string) bool
	GrabImage(ctx context.Context, cameraID string) (*detection.Image, error)
}

// SnapshotConfig configures the snapshot sink
type SnapshotConfig struct {
	Dir string
	// Source is optional; without one a blank canvas is annotated
	Source ImageSource
	// FrameSize returns the canvas size for cameras without a source
	FrameSize func(cameraID string) (int, int)
	// Radius returns the current ownership distance threshold
	Radius func() float64
}

// Snapshot writes an annotated JPEG per alert
type Snapshot struct {
	cfg    SnapshotConfig
	logger *slog.Logger
}

// NewSnapshot creates the snapshot sink
func NewSnapshot(cfg SnapshotConfig) *Snapshot {
	if cfg.Radius == nil {
		cfg.Radius = func() float64 { return abandon.DefaultDistanceThreshold }
	}
	return &Snapshot{
		cfg:    cfg,
		logger: slog.Default().With("component", "snapshot"),
	}
}

// Name implements Sink
func (s *Snapshot) Name() string { return "snapshot" }

// SnapshotFileName returns the file name used for an alert's snapshot. The
// track id keeps bags alerting on the same frame apart.
func SnapshotFileName(ev abandon.Event) string {
	camera := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, ev.CameraID)
	return fmt.Sprintf("alert_%s_frame_%d_id_%d.jpg", camera, ev.FrameNumber, ev.TrackID)
}

// PathFor returns where the snapshot for ev is written
func (s *Snapshot) PathFor(ev abandon.Event) string {
	return filepath.Join(s.cfg.Dir, SnapshotFileName(ev))
}

// Alert implements Sink
func (s *Snapshot) Alert(ctx context.Context, alert Alert) error {
	base := s.baseImage(ctx, alert.CameraID)
	annotated := Annotate(base, alert.Event, s.cfg.Radius())

	data, err := detection.ImageToBytes(annotated, snapshotQuality)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	path := alert.SnapshotPath
	if path == "" {
		path = s.PathFor(alert.Event)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	s.logger.Info("Saved alert frame", "path", path, "camera_id", alert.CameraID)
	return nil
}

// writeFileAtomic writes through a uniquely named temp file in the target
// directory and renames it into place
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	name := tmp.Name()

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(name, 0644)
	}
	if err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *Snapshot) baseImage(ctx context.Context, cameraID string) image.Image {
	if s.cfg.Source != nil && s.cfg.Source.HasSource(cameraID) {
		img, err := s.cfg.Source.GrabImage(ctx, cameraID)
		if err == nil {
			return img.Image
		}
		s.logger.Warn("Failed to grab frame, annotating blank canvas", "camera_id", cameraID, "error", err)
	}

	w, h := defaultFrameWidth, defaultFrameHeight
	if s.cfg.FrameSize != nil {
		if fw, fh := s.cfg.FrameSize(cameraID); fw > 0 && fh > 0 {
			w, h = fw, fh
		}
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// Annotate draws the bag box, the ownership radius and the banner onto a
// copy of img.
func Annotate(img image.Image, ev abandon.Event, radius float64) image.Image {
	dc := gg.NewContextForImage(img)

	if ev.BoundingBox.Valid() {
		drawRectangleEmpty(dc, ev.BoundingBox.Rect(), alertRed, 3)
	}

	if radius > 0 {
		dc.SetColor(alertRed)
		dc.SetLineWidth(3)
		dc.DrawCircle(ev.Position.X, ev.Position.Y, radius)
		dc.Stroke()
	}

	drawString(dc, Banner, image.Pt(50, 20), alertRed, 36)
	if ev.Label != "" {
		label := fmt.Sprintf("%s ID %d", ev.Label, ev.TrackID)
		drawString(dc, label, image.Pt(50, 64), alertRed, 20)
	}

	return dc.Image()
}

func drawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

func drawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}
