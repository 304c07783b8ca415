package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/config"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
	"github.com/Spatial-NVR/bagwatch/internal/events"
	"github.com/Spatial-NVR/bagwatch/internal/logging"
	"github.com/Spatial-NVR/bagwatch/internal/notify"
	"github.com/Spatial-NVR/bagwatch/internal/pipeline"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// AlertStore is the alert history used by the alert endpoints
type AlertStore interface {
	Get(ctx context.Context, id string) (*events.Alert, error)
	List(ctx context.Context, opts events.ListOptions) ([]*events.Alert, int, error)
	Acknowledge(ctx context.Context, id string) error
	GetStats(ctx context.Context, cameraID string) (*events.Stats, error)
}

// Pipeline is the per-camera engine
type Pipeline interface {
	Submit(ctx context.Context, frame detection.Frame) error
	Settings() abandon.Settings
	UpdateSettings(settings abandon.Settings)
	Status(cameraID string) (pipeline.CameraStatus, bool)
	Statuses() []pipeline.CameraStatus
}

// SettingsStore persists threshold changes
type SettingsStore interface {
	GetAbandonment() config.AbandonmentConfig
	SetAbandonment(a config.AbandonmentConfig) error
	GetCameras() []config.CameraConfig
}

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// Options wires the server to the rest of the service
type Options struct {
	Alerts      AlertStore
	Engine      Pipeline
	Settings    SettingsStore
	Hub         *Hub
	Logs        *logging.RingBuffer
	Dispatcher  func() notify.DispatcherStats
	Checks      map[string]HealthCheck
	CORSOrigins []string
}

// Server serves the REST API and the WebSocket hub
type Server struct {
	opts      Options
	startedAt time.Time
	logger    *slog.Logger
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	return &Server{
		opts:      opts,
		startedAt: time.Now(),
		logger:    slog.Default().With("component", "api"),
	}
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.opts.Hub.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		if s.opts.Alerts != nil {
			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", s.ListAlerts)
				r.Get("/stats", s.GetAlertStats)
				r.Get("/{id}", s.GetAlert)
				r.Post("/{id}/acknowledge", s.AcknowledgeAlert)
			})
		}

		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", s.ListCameras)
			r.Get("/{cameraId}/tracks", s.GetTracks)
		})

		r.Get("/settings", s.GetSettings)
		r.Put("/settings", s.UpdateSettings)

		r.Post("/frames", s.IngestFrame)

		r.Get("/logs", s.GetLogs)
	})

	return r
}

type healthResponse struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]string       `json:"checks"`
	Cameras    int                     `json:"cameras"`
	WSClients  int                     `json:"ws_clients"`
	Dispatcher *notify.DispatcherStats `json:"dispatcher,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]string, len(s.opts.Checks)),
		WSClients: s.opts.Hub.ClientCount(),
	}

	names := make([]string, 0, len(s.opts.Checks))
	for name := range s.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.opts.Checks[name](r.Context()); err != nil {
			resp.Checks[name] = "error: " + err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	if s.opts.Engine != nil {
		resp.Cameras = len(s.opts.Engine.Statuses())
	}
	if s.opts.Dispatcher != nil {
		stats := s.opts.Dispatcher()
		resp.Dispatcher = &stats
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, resp)
}
