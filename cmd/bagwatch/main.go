// Package main runs the abandoned-bag detection service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/Spatial-NVR/bagwatch/internal/api"
	"github.com/Spatial-NVR/bagwatch/internal/audio"
	"github.com/Spatial-NVR/bagwatch/internal/config"
	"github.com/Spatial-NVR/bagwatch/internal/core"
	"github.com/Spatial-NVR/bagwatch/internal/database"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
	"github.com/Spatial-NVR/bagwatch/internal/events"
	"github.com/Spatial-NVR/bagwatch/internal/logging"
	"github.com/Spatial-NVR/bagwatch/internal/notify"
	"github.com/Spatial-NVR/bagwatch/internal/pipeline"
)

const (
	defaultConfigPath = "/data/config.yaml"
	tracksInterval    = time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", defaultConfigPath), "path to config.yaml")
	input := flag.String("input", "", "JSONL detection frames to read (file path or - for stdin)")
	camera := flag.String("camera", "default", "camera id for input frames that carry none")
	flag.Parse()

	if err := run(*configPath, *input, *camera); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

// service holds everything main has to shut down
type service struct {
	cfg        *config.Config
	db         *database.DB
	bus        *core.EventBus
	hub        *api.Hub
	dispatcher *notify.Dispatcher
	alertLog   *notify.AlertLog
	engine     *pipeline.Engine
	server     *http.Server
	logs       *logging.RingBuffer
}

func run(configPath, input, camera string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	svc := &service{cfg: cfg}
	svc.logs = logging.Setup(os.Stdout, getEnv("LOG_LEVEL", cfg.System.Logging.Level), cfg.System.Logging.Format)

	slog.Info("Starting bagwatch",
		"version", api.Version,
		"config_path", configPath,
		"distance_threshold", cfg.Abandonment.DistanceThreshold,
		"abandon_threshold", cfg.Abandonment.AbandonThreshold,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.System.StoragePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage path: %w", err)
	}

	if err := svc.start(ctx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return multierr.Append(err, svc.shutdown(shutdownCtx))
	}

	inputDone := make(chan error, 1)
	if input != "" {
		go func() { inputDone <- svc.readInput(ctx, input, camera) }()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-inputDone:
		if err != nil {
			slog.Error("Frame input failed", "error", err)
		}
		if svc.server != nil || svc.bus != nil {
			slog.Info("Frame input finished, still serving")
			sig := <-sigChan
			slog.Info("Received signal", "signal", sig.String())
		}
	}

	slog.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := svc.shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("Stopped")
	return nil
}

func (s *service) start(ctx context.Context) error {
	cfg := s.cfg

	dbCfg := database.DefaultConfig(cfg.System.StoragePath)
	dbCfg.Path = cfg.System.Database.Path
	db, err := database.OpenAndMigrate(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db
	history := events.NewService(db)

	if cfg.EventBus.Enabled {
		bus, err := core.NewEventBus(core.EventBusConfig{
			Host:            cfg.EventBus.Host,
			Port:            cfg.EventBus.Port,
			StoreDir:        cfg.EventBus.StoreDir,
			EnableJetStream: cfg.EventBus.JetStream,
		}, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
		s.bus = bus
	}

	s.hub = api.NewHub()
	go s.hub.Run(ctx)
	broadcaster := api.NewHubBroadcaster(s.hub)

	s.dispatcher = notify.NewDispatcher(cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize)
	notifier := notify.NewNotifier(s.dispatcher)

	// engine is assigned below; the snapshot radius reads it lazily
	var engine *pipeline.Engine
	grabber := detection.NewSnapshotGrabber(cfg.SnapshotURLs())

	n := cfg.Notifications
	if n.Log.Enabled {
		s.alertLog = notify.NewAlertLog(notify.AlertLogConfig{
			Path:       n.Log.Path,
			MaxSizeMB:  n.Log.MaxSizeMB,
			MaxBackups: n.Log.MaxBackups,
			Compress:   true,
		})
		notifier.AddSink(s.alertLog)
	}
	if n.Snapshot.Enabled {
		notifier.AddSink(notify.NewSnapshot(notify.SnapshotConfig{
			Dir:    n.Snapshot.Dir,
			Source: grabber,
			FrameSize: func(cameraID string) (int, int) {
				if cam := cfg.GetCamera(cameraID); cam != nil {
					return cam.FrameWidth, cam.FrameHeight
				}
				return 0, 0
			},
			Radius: func() float64 { return engine.Settings().DistanceThreshold },
		}))
	}
	if n.Audio.Enabled {
		player := audio.NewPlayer(audio.Config{
			Command:   n.Audio.Command,
			SoundFile: n.Audio.SoundFile,
		})
		player.SetBroadcaster(broadcaster)
		notifier.AddSink(notify.NewAudio(player))
	}
	if n.Email.Enabled {
		notifier.AddSink(notify.NewEmail(notify.EmailConfig{
			Host:         n.Email.SMTP.Host,
			Port:         n.Email.SMTP.Port,
			Username:     n.Email.SMTP.Username,
			Password:     n.Email.SMTP.Password,
			From:         n.Email.SMTP.From,
			To:           n.Email.SMTP.To,
			MaxPerMinute: n.Email.MaxPerMinute,
		}))
	}
	notifier.AddSink(notify.NewHistory(history))
	if s.bus != nil {
		notifier.AddSink(notify.NewBus(s.bus))
	}
	notifier.AddSink(notify.NewUI(broadcaster))
	slog.Info("Alert sinks ready", "sinks", notifier.Sinks())

	engine = pipeline.New(pipeline.Options{
		Settings: cfg.GetAbandonment().Settings(),
		Tracker:  cfg.Tracker.Tracker(),
		Emitter:  notifier,
	})
	s.engine = engine

	cfg.OnChange(func(c *config.Config) {
		engine.UpdateSettings(c.GetAbandonment().Settings())
		grabber.SetURLs(c.SnapshotURLs())
		s.hub.Broadcast(api.SettingsMessage(c.GetAbandonment()))
	})
	if err := cfg.Watch(); err != nil {
		// defaults without a file on disk cannot be watched
		slog.Warn("Config watch disabled", "path", cfg.GetPath(), "error", err)
	}

	if s.bus != nil {
		if _, err := s.bus.SubscribeFrames(func(frame detection.Frame) {
			if err := engine.Submit(ctx, frame); err != nil {
				slog.Warn("Dropped frame from event bus", "camera_id", frame.CameraID, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("failed to subscribe to frames: %w", err)
		}
		slog.Info("Listening for frames", "subject", core.FrameSubject("*"), "url", s.bus.ClientURL())
	}

	go s.broadcastTracks(ctx)

	if cfg.API.Enabled {
		checks := map[string]api.HealthCheck{"database": db.Health}
		if s.bus != nil {
			checks["eventbus"] = s.bus.HealthCheck
		}

		srv := api.NewServer(api.Options{
			Alerts:     history,
			Engine:     engine,
			Settings:   cfg,
			Hub:        s.hub,
			Logs:       s.logs,
			Dispatcher: s.dispatcher.Stats,
			Checks:     checks,
		})

		s.server = &http.Server{
			Addr:         cfg.API.Address,
			Handler:      srv.Router(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			slog.Info("Server starting", "address", cfg.API.Address)
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
			}
		}()
	}

	return nil
}

// readInput feeds a JSONL file (or stdin) into the engine
func (s *service) readInput(ctx context.Context, input, camera string) error {
	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	lr := detection.NewLineReader(r, camera)
	err := lr.Run(ctx, func(frame detection.Frame) error {
		return s.engine.Submit(ctx, frame)
	})
	slog.Info("Frame input finished", "lines", lr.Lines(), "skipped", lr.Skipped())
	return err
}

// broadcastTracks pushes each camera's live tracks to WebSocket clients
func (s *service) broadcastTracks(ctx context.Context) {
	ticker := time.NewTicker(tracksInterval)
	defer ticker.Stop()

	lastFrame := make(map[string]int64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			for _, st := range s.engine.Statuses() {
				if lastFrame[st.CameraID] == st.Snapshot.FrameNumber {
					continue
				}
				lastFrame[st.CameraID] = st.Snapshot.FrameNumber
				s.hub.BroadcastToCamera(st.CameraID,
					api.TracksMessage(st.CameraID, st.Snapshot.FrameNumber, st.Snapshot.Tracks))
			}
		}
	}
}

// shutdown stops components in reverse dependency order: stop intake,
// drain the engine, then flush side effects before closing storage
func (s *service) shutdown(ctx context.Context) error {
	var errs error

	if s.server != nil {
		errs = multierr.Append(errs, s.server.Shutdown(ctx))
	}
	if s.engine != nil {
		errs = multierr.Append(errs, s.engine.Close())
	}
	if s.dispatcher != nil {
		errs = multierr.Append(errs, s.dispatcher.Close(ctx))
	}
	if s.alertLog != nil {
		errs = multierr.Append(errs, s.alertLog.Close())
	}
	if s.bus != nil {
		s.bus.Stop()
	}
	if s.db != nil {
		errs = multierr.Append(errs, s.db.Close())
	}

	return errs
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
