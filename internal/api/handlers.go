package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/config"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
	"github.com/Spatial-NVR/bagwatch/internal/events"
	"github.com/Spatial-NVR/bagwatch/internal/logging"
	"github.com/Spatial-NVR/bagwatch/internal/pipeline"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxFrameBody     = 4 << 20
)

// ListAlerts lists stored alerts, newest first
func (s *Server) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := events.ListOptions{
		CameraID: q.Get("camera_id"),
		Limit:    defaultListLimit,
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > maxListLimit {
			BadRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
			return
		}
		opts.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			BadRequest(w, "offset must be a non-negative integer")
			return
		}
		opts.Offset = offset
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "active must be true or false")
			return
		}
		opts.Active = &active
	}

	start, end, err := parseTimeRange(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	opts.StartTime, opts.EndTime = start, end

	alerts, total, err := s.opts.Alerts.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list alerts", "error", err)
		InternalError(w, "failed to list alerts")
		return
	}

	List(w, alerts, len(alerts), total, opts.Limit, opts.Offset)
}

func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	var start, end time.Time
	if v := r.URL.Query().Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, fmt.Errorf("invalid start_time: %s", v)
		}
		start = t
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, fmt.Errorf("invalid end_time: %s", v)
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, errors.New("end_time must not be before start_time")
	}
	return start, end, nil
}

// GetAlert returns one alert
func (s *Server) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.opts.Alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.alertError(w, err)
		return
	}
	OK(w, alert)
}

// AcknowledgeAlert marks an alert as seen
func (s *Server) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.opts.Alerts.Acknowledge(r.Context(), id); err != nil {
		s.alertError(w, err)
		return
	}

	alert, err := s.opts.Alerts.Get(r.Context(), id)
	if err != nil {
		s.alertError(w, err)
		return
	}
	OK(w, alert)
}

// GetAlertStats returns alert counters
func (s *Server) GetAlertStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.opts.Alerts.GetStats(r.Context(), r.URL.Query().Get("camera_id"))
	if err != nil {
		s.logger.Error("Failed to get alert stats", "error", err)
		InternalError(w, "failed to get alert stats")
		return
	}
	OK(w, stats)
}

func (s *Server) alertError(w http.ResponseWriter, err error) {
	if errors.Is(err, events.ErrNotFound) {
		NotFound(w, err.Error())
		return
	}
	s.logger.Error("Alert store error", "error", err)
	InternalError(w, "alert store error")
}

// CameraInfo merges configured cameras with live sessions
type CameraInfo struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name,omitempty"`
	Configured  bool                   `json:"configured"`
	SnapshotURL string                 `json:"snapshot_url,omitempty"`
	Status      *pipeline.CameraStatus `json:"status,omitempty"`
}

// ListCameras lists cameras from config plus any camera that has sent frames
func (s *Server) ListCameras(w http.ResponseWriter, r *http.Request) {
	cameras := []CameraInfo{}
	index := make(map[string]int)

	if s.opts.Settings != nil {
		for _, cam := range s.opts.Settings.GetCameras() {
			info := CameraInfo{ID: cam.ID, Name: cam.Name, Configured: true}
			if cam.SnapshotURL != "" {
				info.SnapshotURL = SanitizeURL(cam.SnapshotURL)
			}
			index[cam.ID] = len(cameras)
			cameras = append(cameras, info)
		}
	}

	if s.opts.Engine != nil {
		for _, st := range s.opts.Engine.Statuses() {
			if i, ok := index[st.CameraID]; ok {
				cameras[i].Status = &st
				continue
			}
			cameras = append(cameras, CameraInfo{ID: st.CameraID, Status: &st})
		}
	}

	OK(w, cameras)
}

// GetTracks returns the live bag tracks of one camera
func (s *Server) GetTracks(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "cameraId")
	if s.opts.Engine == nil {
		Unavailable(w, "pipeline not running")
		return
	}

	st, ok := s.opts.Engine.Status(cameraID)
	if !ok {
		NotFound(w, "no session for camera: "+cameraID)
		return
	}
	OK(w, st.Snapshot)
}

// GetSettings returns the thresholds in effect
func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	if s.opts.Engine != nil {
		OK(w, config.AbandonmentFromSettings(s.opts.Engine.Settings()))
		return
	}
	if s.opts.Settings != nil {
		OK(w, s.opts.Settings.GetAbandonment())
		return
	}
	OK(w, config.AbandonmentFromSettings(abandon.DefaultSettings()))
}

// UpdateSettings validates, persists and applies new thresholds. Fields
// missing from the body keep their current value.
func (s *Server) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var current config.AbandonmentConfig
	switch {
	case s.opts.Settings != nil:
		current = s.opts.Settings.GetAbandonment()
	case s.opts.Engine != nil:
		current = config.AbandonmentFromSettings(s.opts.Engine.Settings())
	default:
		current = config.AbandonmentFromSettings(abandon.DefaultSettings())
	}

	updated := current
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if errs := ValidateAbandonment(updated); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	if s.opts.Settings != nil {
		if err := s.opts.Settings.SetAbandonment(updated); err != nil {
			s.logger.Error("Failed to save settings", "error", err)
			InternalError(w, "failed to save settings")
			return
		}
	}
	if s.opts.Engine != nil {
		s.opts.Engine.UpdateSettings(updated.Settings())
	}
	s.opts.Hub.Broadcast(SettingsMessage(updated))

	s.logger.Info("Settings changed via API",
		"distance_threshold", updated.DistanceThreshold,
		"abandon_threshold", updated.AbandonThreshold)
	OK(w, updated)
}

// IngestFrame accepts one frame of detections
func (s *Server) IngestFrame(w http.ResponseWriter, r *http.Request) {
	if s.opts.Engine == nil {
		Unavailable(w, "pipeline not running")
		return
	}

	var frame detection.Frame
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBody)).Decode(&frame); err != nil {
		BadRequest(w, "invalid frame: "+err.Error())
		return
	}
	if errs := ValidateFrame(frame); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	if err := s.opts.Engine.Submit(r.Context(), frame); err != nil {
		s.logger.Warn("Frame rejected", "camera_id", frame.CameraID, "error", err)
		Unavailable(w, err.Error())
		return
	}

	Accepted(w, map[string]interface{}{
		"camera_id":    frame.CameraID,
		"frame_number": frame.FrameNumber,
		"detections":   len(frame.Detections),
	})
}

// GetLogs returns recent log entries
func (s *Server) GetLogs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		OK(w, []logging.LogEntry{})
		return
	}

	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, logging.DefaultBufferSize)
	}

	filter := logging.Filter{
		MinLevel:  slog.LevelDebug,
		Component: q.Get("component"),
	}
	if v := q.Get("level"); v != "" {
		filter.MinLevel = logging.ParseLevel(v)
	}

	OK(w, s.opts.Logs.GetRecent(limit, filter))
}
