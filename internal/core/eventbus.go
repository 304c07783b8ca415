// Package core provides the embedded event bus: frame ingest from upstream
// detectors and publication of alert events.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/detection"
)

// Subjects
const (
	SubjectFrames         = "detections.frames"
	SubjectAlertAbandoned = "alerts.abandoned"
	SubjectAlertCancelled = "alerts.cancelled"
	SubjectConfigChanged  = "config.changed"
)

// DefaultNATSPort is the default port for the embedded server
const DefaultNATSPort = 4222

// FrameSubject returns the ingest subject for a camera
func FrameSubject(cameraID string) string {
	return SubjectFrames + "." + cameraID
}

// EventBus provides pub/sub messaging using embedded NATS
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.RWMutex
}

// EventBusConfig configures the event bus
type EventBusConfig struct {
	// Host for the NATS server (default: 127.0.0.1)
	Host string
	// Port for the NATS server; -1 picks a random free port
	Port int
	// StoreDir for JetStream persistence (optional)
	StoreDir string
	// EnableJetStream enables JetStream for persistent messaging
	EnableJetStream bool
}

// NewEventBus starts an embedded NATS server and connects to it
func NewEventBus(cfg EventBusConfig, logger *slog.Logger) (*EventBus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultNATSPort
	}
	if cfg.Port > 0 {
		port, err := ResolvePort(cfg.Host, cfg.Port)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate NATS port: %w", err)
		}
		if port != cfg.Port {
			logger.Warn("NATS port in use, using fallback", "preferred", cfg.Port, "port", port)
		}
		cfg.Port = port
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}
	if cfg.EnableJetStream {
		opts.JetStream = true
		if cfg.StoreDir != "" {
			opts.StoreDir = cfg.StoreDir
		}
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("bagwatch"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}

	eb.logger.Info("Event bus started", "url", ns.ClientURL(), "jetstream", cfg.EnableJetStream)

	return eb, nil
}

// Conn returns the NATS connection for direct use
func (eb *EventBus) Conn() *nats.Conn {
	return eb.conn
}

// ClientURL returns the NATS client URL
func (eb *EventBus) ClientURL() string {
	return eb.server.ClientURL()
}

// Publish publishes a JSON message to a subject
func (eb *EventBus) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// PublishAlert publishes an Alert event on alerts.abandoned.<camera>
func (eb *EventBus) PublishAlert(ev abandon.Event) error {
	return eb.Publish(SubjectAlertAbandoned+"."+ev.CameraID, ev)
}

// PublishCancel publishes a Cancel event on alerts.cancelled.<camera>
func (eb *EventBus) PublishCancel(ev abandon.Event) error {
	return eb.Publish(SubjectAlertCancelled+"."+ev.CameraID, ev)
}

// Subscribe subscribes to a subject
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	eb.subsMu.Lock()
	eb.subs[subject] = append(eb.subs[subject], sub)
	eb.subsMu.Unlock()

	return sub, nil
}

// SubscribeFrames delivers frames published on detections.frames.<camera>.
// A frame without camera_id takes it from the subject. Undecodable messages are logged and dropped.
func (eb *EventBus) SubscribeFrames(handler func(detection.Frame)) (*nats.Subscription, error) {
	prefix := SubjectFrames + "."
	return eb.Subscribe(prefix+">", func(msg *nats.Msg) {
		var frame detection.Frame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			eb.logger.Warn("Dropping malformed frame message", "subject", msg.Subject, "error", err)
			return
		}
		if frame.CameraID == "" {
			frame.CameraID = strings.TrimPrefix(msg.Subject, prefix)
		}
		handler(frame)
	})
}

// Unsubscribe removes all subscriptions for a subject
func (eb *EventBus) Unsubscribe(subject string) {
	eb.subsMu.Lock()
	defer eb.subsMu.Unlock()

	if subs, ok := eb.subs[subject]; ok {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		delete(eb.subs, subject)
	}
}

// Flush waits until the server has processed everything published so far
func (eb *EventBus) Flush(timeout time.Duration) error {
	return eb.conn.FlushTimeout(timeout)
}

// Stop drains the connection and shuts down the server
func (eb *EventBus) Stop() {
	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("Event bus stopped")
}

// HealthCheck performs a health check on the event bus
func (eb *EventBus) HealthCheck(ctx context.Context) error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}

	_, err := eb.conn.RequestWithContext(ctx, "_health", []byte("ping"))
	if err == nats.ErrNoResponders {
		// No responders just means no one is listening
		return nil
	}
	return err
}
