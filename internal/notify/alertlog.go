package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
)

// AlertLogConfig configures the rotating alert log
type AlertLogConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// AlertLog appends one line per alert (and per cancellation) to a file
type AlertLog struct {
	mu  sync.Mutex
	out io.WriteCloser
	now func() time.Time
}

// NewAlertLog opens a size-rotated alert log
func NewAlertLog(cfg AlertLogConfig) *AlertLog {
	return newAlertLog(&lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
}

func newAlertLog(out io.WriteCloser) *AlertLog {
	return &AlertLog{out: out, now: time.Now}
}

// Name implements Sink
func (l *AlertLog) Name() string { return "alert_log" }

// Alert implements Sink
func (l *AlertLog) Alert(_ context.Context, alert Alert) error {
	return l.write(alert.CameraID, fmt.Sprintf("ALERT at frame %d: %s ID %d", alert.FrameNumber, alert.Label, alert.TrackID))
}

// Cancel implements CancelSink
func (l *AlertLog) Cancel(_ context.Context, ev abandon.Event) error {
	return l.write(ev.CameraID, fmt.Sprintf("CANCEL at frame %d: %s ID %d (%s)", ev.FrameNumber, ev.Label, ev.TrackID, ev.Reason))
}

func (l *AlertLog) write(cameraID, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := fmt.Fprintf(l.out, "%s [%s] %s\n", l.now().Format(time.RFC3339), cameraID, line); err != nil {
		return fmt.Errorf("failed to write alert log: %w", err)
	}
	return nil
}

// Close closes the underlying file
func (l *AlertLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
