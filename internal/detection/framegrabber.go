package detection

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Image is a decoded still pulled from a camera
type Image struct {
	CameraID  string
	Timestamp time.Time
	Image     image.Image
	Data      []byte // Raw JPEG
	Width     int
	Height    int
}

// SnapshotGrabber fetches the current JPEG still of a camera over HTTP.
// URLs may contain "{camera}", replaced by the go2rtc-style stream name.
type SnapshotGrabber struct {
	mu         sync.RWMutex
	urls       map[string]string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSnapshotGrabber creates a grabber with per-camera snapshot URLs
func NewSnapshotGrabber(urls map[string]string) *SnapshotGrabber {
	g := &SnapshotGrabber{
		urls: make(map[string]string),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default().With("component", "snapshot_grabber"),
	}
	g.SetURLs(urls)
	return g
}

// SetURLs replaces the camera URL table (used on config reload)
func (g *SnapshotGrabber) SetURLs(urls map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.urls = make(map[string]string, len(urls))
	for cameraID, url := range urls {
		if url != "" {
			g.urls[cameraID] = url
		}
	}
}

// HasSource reports whether a snapshot URL is configured for the camera
func (g *SnapshotGrabber) HasSource(cameraID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.urls[cameraID]
	return ok
}

// GrabImage grabs a single still from a camera
func (g *SnapshotGrabber) GrabImage(ctx context.Context, cameraID string) (*Image, error) {
	g.mu.RLock()
	url, ok := g.urls[cameraID]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no snapshot url for camera: %s", cameraID)
	}

	// go2rtc uses lowercase stream names
	streamName := strings.ToLower(strings.ReplaceAll(cameraID, " ", "_"))
	url = strings.ReplaceAll(url, "{camera}", streamName)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame data: %w", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	g.logger.Debug("Grabbed snapshot", "camera", cameraID, "width", bounds.Dx(), "height", bounds.Dy())

	return &Image{
		CameraID:  cameraID,
		Timestamp: time.Now(),
		Image:     img,
		Data:      data,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}, nil
}

// ImageToBytes converts an image to JPEG bytes
func ImageToBytes(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
