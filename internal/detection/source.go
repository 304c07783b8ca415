package detection

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// maxLineSize bounds a single JSON frame line
const maxLineSize = 4 * 1024 * 1024

// FrameHandler is called for each decoded frame, in input order
type FrameHandler func(ctx context.Context, frame Frame) error

// LineReader decodes frames from a JSON-lines stream (one Frame object per line)
type LineReader struct {
	r             io.Reader
	defaultCamera string
	logger        *slog.Logger

	lines   int64
	skipped int64
}

// NewLineReader creates a reader. Frames without a camera_id get defaultCamera.
func NewLineReader(r io.Reader, defaultCamera string) *LineReader {
	return &LineReader{
		r:             r,
		defaultCamera: defaultCamera,
		logger:        slog.Default().With("component", "frame_source"),
	}
}

// Run decodes every line and passes it to fn until EOF, ctx is done, or fn fails.
// Malformed lines are logged and skipped. EOF is not an error.
func (lr *LineReader) Run(ctx context.Context, fn FrameHandler) error {
	scanner := bufio.NewScanner(lr.r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lr.lines++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var frame Frame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			lr.skipped++
			lr.logger.Warn("Skipping malformed frame line", "line", lr.lines, "error", err)
			continue
		}
		if frame.CameraID == "" {
			frame.CameraID = lr.defaultCamera
		}

		if err := fn(ctx, frame); err != nil {
			return fmt.Errorf("failed to handle frame at line %d: %w", lr.lines, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read frames: %w", err)
	}
	return nil
}

// Lines returns the number of lines read so far
func (lr *LineReader) Lines() int64 {
	return lr.lines
}

// Skipped returns the number of malformed lines skipped
func (lr *LineReader) Skipped() int64 {
	return lr.skipped
}

// DecodeFrame parses a single JSON frame, as received over the bus or HTTP
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if frame.CameraID == "" {
		return Frame{}, fmt.Errorf("frame has no camera_id")
	}
	return frame, nil
}
