package api

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Spatial-NVR/bagwatch/internal/config"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field, format string, args ...interface{}) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Upper bounds for tunables. Anything larger is almost certainly a typo.
const (
	maxDistanceThreshold = 10000.0
	maxAbandonThreshold  = 1000000
	maxLabelLength       = 64
)

// ValidateAbandonment checks a settings update before it reaches the engine
func ValidateAbandonment(cfg config.AbandonmentConfig) ValidationErrors {
	errs := make(ValidationErrors, 0)

	if cfg.DistanceThreshold <= 0 || cfg.DistanceThreshold > maxDistanceThreshold {
		errs.add("distance_threshold", "must be greater than 0 and at most %g pixels", maxDistanceThreshold)
	}
	if cfg.AbandonThreshold < 1 || cfg.AbandonThreshold > maxAbandonThreshold {
		errs.add("abandon_threshold", "must be between 1 and %d frames", maxAbandonThreshold)
	}
	if cfg.EvictionFrames < 0 {
		errs.add("eviction_frames", "must not be negative (0 disables eviction)")
	}

	person := strings.TrimSpace(cfg.PersonLabel)
	if person == "" {
		errs.add("person_label", "person label is required")
	} else if len(person) > maxLabelLength {
		errs.add("person_label", "must be at most %d characters", maxLabelLength)
	}

	if len(cfg.BagLabels) == 0 {
		errs.add("bag_labels", "at least one bag label is required")
	}
	seen := make(map[string]bool, len(cfg.BagLabels))
	for i, label := range cfg.BagLabels {
		field := fmt.Sprintf("bag_labels[%d]", i)
		label = strings.TrimSpace(label)
		switch {
		case label == "":
			errs.add(field, "label must not be empty")
		case len(label) > maxLabelLength:
			errs.add(field, "must be at most %d characters", maxLabelLength)
		case label == person:
			errs.add(field, "the person label cannot also be a bag label")
		case seen[label]:
			errs.add(field, "duplicate label %q", label)
		}
		seen[label] = true
	}

	return errs
}

// ValidateFrame checks an ingested frame
func ValidateFrame(frame detection.Frame) ValidationErrors {
	errs := make(ValidationErrors, 0)

	if err := ValidateCameraID(frame.CameraID); err != nil {
		errs.add("camera_id", "%s", err.Error())
	}
	if frame.FrameNumber < detection.NoFrameNumber {
		errs.add("frame_number", "must not be negative")
	}
	for i, d := range frame.Detections {
		field := fmt.Sprintf("detections[%d]", i)
		if d.Label == "" {
			errs.add(field+".label", "label is required")
		}
		if !d.BoundingBox.Valid() {
			errs.add(field+".bbox", "x2/y2 must be greater than x1/y1")
		}
	}

	return errs
}

var cameraIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateCameraID validates a camera ID format
func ValidateCameraID(id string) error {
	if id == "" {
		return fmt.Errorf("camera ID is required")
	}
	if !cameraIDPattern.MatchString(id) {
		return fmt.Errorf("camera ID must contain only letters, numbers, underscores, and hyphens")
	}
	if len(id) > 50 {
		return fmt.Errorf("camera ID must be less than 50 characters")
	}
	return nil
}

// SanitizeURL removes credentials from a URL before it is shown or logged
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "[invalid-url]"
	}
	u.User = nil
	return u.String()
}
