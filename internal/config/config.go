// Package config provides configuration management for the bag watch service
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Spatial-NVR/bagwatch/internal/abandon"
	"github.com/Spatial-NVR/bagwatch/internal/tracker"
)

// Config represents the main service configuration
type Config struct {
	Version       string              `yaml:"version"`
	System        SystemConfig        `yaml:"system"`
	Abandonment   AbandonmentConfig   `yaml:"abandonment"`
	Tracker       TrackerConfig       `yaml:"tracker"`
	Cameras       []CameraConfig      `yaml:"cameras"`
	EventBus      EventBusConfig      `yaml:"eventbus"`
	API           APIConfig           `yaml:"api"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
	encKey   []byte          `yaml:"-"`
}

// SystemConfig holds system-wide settings
type SystemConfig struct {
	Name        string         `yaml:"name"`
	StoragePath string         `yaml:"storage_path"`
	Database    DatabaseConfig `yaml:"database"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite path
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// AbandonmentConfig holds the detection thresholds
type AbandonmentConfig struct {
	DistanceThreshold  float64  `yaml:"distance_threshold" json:"distance_threshold"`
	AbandonThreshold   int      `yaml:"abandon_threshold" json:"abandon_threshold"`
	BagLabels          []string `yaml:"bag_labels" json:"bag_labels"`
	PersonLabel        string   `yaml:"person_label" json:"person_label"`
	EvictionFrames     int      `yaml:"eviction_frames" json:"eviction_frames"`
	ClearOwnerOnCancel bool     `yaml:"clear_owner_on_cancel" json:"clear_owner_on_cancel"`
}

// Settings converts the section into core thresholds
func (a AbandonmentConfig) Settings() abandon.Settings {
	return abandon.Settings{
		DistanceThreshold:  a.DistanceThreshold,
		AbandonThreshold:   a.AbandonThreshold,
		BagLabels:          append([]string(nil), a.BagLabels...),
		PersonLabel:        a.PersonLabel,
		EvictionFrames:     a.EvictionFrames,
		ClearOwnerOnCancel: a.ClearOwnerOnCancel,
	}
}

// AbandonmentFromSettings is the inverse of Settings
func AbandonmentFromSettings(s abandon.Settings) AbandonmentConfig {
	return AbandonmentConfig{
		DistanceThreshold:  s.DistanceThreshold,
		AbandonThreshold:   s.AbandonThreshold,
		BagLabels:          append([]string(nil), s.BagLabels...),
		PersonLabel:        s.PersonLabel,
		EvictionFrames:     s.EvictionFrames,
		ClearOwnerOnCancel: s.ClearOwnerOnCancel,
	}
}

// TrackerConfig holds id assignment settings
type TrackerConfig struct {
	Mode           string  `yaml:"mode"` // upstream or bytetrack
	MaxDisappeared int     `yaml:"max_disappeared"`
	MinIoU         float64 `yaml:"min_iou"`
	HighThreshold  float64 `yaml:"high_threshold"`
	LowThreshold   float64 `yaml:"low_threshold"`
}

// Tracker converts the section into tracker parameters
func (t TrackerConfig) Tracker() tracker.Config {
	return tracker.Config{
		Mode:           t.Mode,
		MaxDisappeared: t.MaxDisappeared,
		MinIoU:         t.MinIoU,
		HighThreshold:  t.HighThreshold,
		LowThreshold:   t.LowThreshold,
	}
}

// CameraConfig holds configuration for a single camera
type CameraConfig struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	SnapshotURL string `yaml:"snapshot_url,omitempty" json:"snapshot_url,omitempty"`
	FrameWidth  int    `yaml:"frame_width,omitempty" json:"frame_width,omitempty"`
	FrameHeight int    `yaml:"frame_height,omitempty" json:"frame_height,omitempty"`
}

// EventBusConfig holds embedded NATS settings
type EventBusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	JetStream bool   `yaml:"jetstream"`
	StoreDir  string `yaml:"store_dir,omitempty"`
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// NotificationsConfig holds alert sink settings
type NotificationsConfig struct {
	Log      AlertLogConfig `yaml:"log"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Audio    AudioConfig    `yaml:"audio"`
	Email    EmailConfig    `yaml:"email"`
}

// AlertLogConfig holds the rotating alert log settings
type AlertLogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// SnapshotConfig holds annotated snapshot settings
type SnapshotConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// AudioConfig holds the audible cue settings
type AudioConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Command   string `yaml:"command"`
	SoundFile string `yaml:"sound_file"`
}

// EmailConfig holds email notification settings
type EmailConfig struct {
	Enabled      bool       `yaml:"enabled"`
	MaxPerMinute int        `yaml:"max_per_minute"` // 0 sends every alert
	SMTP         SMTPConfig `yaml:"smtp"`
}

// SMTPConfig holds SMTP settings
type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// DispatcherConfig holds side-effect task queue settings
type DispatcherConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"` // per worker
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.encKey = getEncryptionKey()

	// Decrypt sensitive fields
	if err := cfg.decryptSecrets(); err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a configuration with every default applied, bound to path
func Default(path string) *Config {
	cfg := &Config{path: path, encKey: getEncryptionKey()}
	cfg.setDefaults()
	return cfg
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Info("Config file not found, using defaults", "path", path)
		return Default(path), nil
	}
	return Load(path)
}

// Save saves the configuration to a YAML file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

// saveUnlocked saves without acquiring lock (caller must hold lock)
func (c *Config) saveUnlocked() error {
	cfgCopy := &Config{
		Version:       c.Version,
		System:        c.System,
		Abandonment:   c.Abandonment,
		Tracker:       c.Tracker,
		Cameras:       c.Cameras,
		EventBus:      c.EventBus,
		API:           c.API,
		Notifications: c.Notifications,
		Dispatcher:    c.Dispatcher,
		path:          c.path,
		encKey:        c.encKey,
	}
	if err := cfgCopy.encryptSecrets(); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# Bag Watch Configuration\n# Auto-generated - manual edits are preserved\n\n"
	data = append([]byte(header), data...)

	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch starts watching for configuration file changes
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.GetPath())
}

// OnChange registers a callback for config changes
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk
func (c *Config) reload() {
	newCfg, err := Load(c.GetPath())
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.Abandonment = newCfg.Abandonment
	c.Tracker = newCfg.Tracker
	c.Cameras = newCfg.Cameras
	c.EventBus = newCfg.EventBus
	c.API = newCfg.API
	c.Notifications = newCfg.Notifications
	c.Dispatcher = newCfg.Dispatcher
	c.encKey = newCfg.encKey
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// GetAbandonment returns a copy of the threshold section
func (c *Config) GetAbandonment() AbandonmentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a := c.Abandonment
	a.BagLabels = append([]string(nil), a.BagLabels...)
	return a
}

// SetAbandonment replaces the threshold section and saves the file
func (c *Config) SetAbandonment(a AbandonmentConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Abandonment = a
	return c.saveUnlocked()
}

// GetCamera returns a camera by ID
func (c *Config) GetCamera(id string) *CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			return &c.Cameras[i]
		}
	}
	return nil
}

// GetCameras returns a copy of the camera list
func (c *Config) GetCameras() []CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cams := make([]CameraConfig, len(c.Cameras))
	copy(cams, c.Cameras)
	return cams
}

// SnapshotURLs returns the snapshot URL of every camera that has one
func (c *Config) SnapshotURLs() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	urls := make(map[string]string, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.SnapshotURL != "" {
			urls[cam.ID] = cam.SnapshotURL
		}
	}
	return urls
}

// SetPath sets the path for the config file (used for saving)
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the current config file path
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// setDefaults sets default values for unset fields
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.Name == "" {
		c.System.Name = "bagwatch"
	}
	if c.System.StoragePath == "" {
		c.System.StoragePath = "/data"
	}
	if c.System.Database.Path == "" {
		c.System.Database.Path = filepath.Join(c.System.StoragePath, "bagwatch.db")
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.System.Logging.Format == "" {
		c.System.Logging.Format = "json"
	}

	if c.Abandonment.DistanceThreshold <= 0 {
		c.Abandonment.DistanceThreshold = abandon.DefaultDistanceThreshold
	}
	if c.Abandonment.AbandonThreshold <= 0 {
		c.Abandonment.AbandonThreshold = abandon.DefaultAbandonThreshold
	}
	if len(c.Abandonment.BagLabels) == 0 {
		c.Abandonment.BagLabels = append([]string(nil), abandon.DefaultBagLabels...)
	}
	if c.Abandonment.PersonLabel == "" {
		c.Abandonment.PersonLabel = abandon.DefaultPersonLabel
	}

	def := tracker.DefaultConfig()
	if c.Tracker.Mode == "" {
		c.Tracker.Mode = def.Mode
	}
	if c.Tracker.MaxDisappeared <= 0 {
		c.Tracker.MaxDisappeared = def.MaxDisappeared
	}
	if c.Tracker.MinIoU <= 0 {
		c.Tracker.MinIoU = def.MinIoU
	}
	if c.Tracker.HighThreshold <= 0 {
		c.Tracker.HighThreshold = def.HighThreshold
	}
	if c.Tracker.LowThreshold <= 0 {
		c.Tracker.LowThreshold = def.LowThreshold
	}

	for i := range c.Cameras {
		if c.Cameras[i].Name == "" {
			c.Cameras[i].Name = c.Cameras[i].ID
		}
		if c.Cameras[i].FrameWidth <= 0 {
			c.Cameras[i].FrameWidth = 1280
		}
		if c.Cameras[i].FrameHeight <= 0 {
			c.Cameras[i].FrameHeight = 720
		}
	}

	if c.EventBus.Host == "" {
		c.EventBus.Host = "127.0.0.1"
	}
	if c.EventBus.Port == 0 {
		c.EventBus.Port = 4222
	}
	if c.EventBus.JetStream && c.EventBus.StoreDir == "" {
		c.EventBus.StoreDir = filepath.Join(c.System.StoragePath, "nats")
	}

	if c.API.Address == "" {
		c.API.Address = ":8080"
	}

	if c.Notifications.Log.Path == "" {
		c.Notifications.Log.Path = filepath.Join(c.System.StoragePath, "alerts.log")
	}
	if c.Notifications.Log.MaxSizeMB <= 0 {
		c.Notifications.Log.MaxSizeMB = 10
	}
	if c.Notifications.Log.MaxBackups <= 0 {
		c.Notifications.Log.MaxBackups = 5
	}
	if c.Notifications.Snapshot.Dir == "" {
		c.Notifications.Snapshot.Dir = filepath.Join(c.System.StoragePath, "snapshots")
	}
	if c.Notifications.Audio.Command == "" {
		c.Notifications.Audio.Command = "aplay"
	}
	if c.Notifications.Audio.SoundFile == "" {
		c.Notifications.Audio.SoundFile = "alert.wav"
	}
	if c.Notifications.Email.MaxPerMinute < 0 {
		c.Notifications.Email.MaxPerMinute = 0
	}
	if c.Notifications.Email.SMTP.Host == "" {
		c.Notifications.Email.SMTP.Host = "smtp.gmail.com"
	}
	if c.Notifications.Email.SMTP.Port == 0 {
		c.Notifications.Email.SMTP.Port = 587
	}

	if c.Dispatcher.Workers <= 0 {
		c.Dispatcher.Workers = 4
	}
	if c.Dispatcher.QueueSize <= 0 {
		c.Dispatcher.QueueSize = 256
	}
}

// encryptSecrets encrypts sensitive fields
func (c *Config) encryptSecrets() error {
	pw := c.Notifications.Email.SMTP.Password
	if pw != "" && !strings.HasPrefix(pw, "encrypted:") {
		encrypted, err := encrypt(c.encKey, pw)
		if err != nil {
			return err
		}
		c.Notifications.Email.SMTP.Password = "encrypted:" + encrypted
	}
	return nil
}

// decryptSecrets decrypts sensitive fields
func (c *Config) decryptSecrets() error {
	pw := c.Notifications.Email.SMTP.Password
	if strings.HasPrefix(pw, "encrypted:") {
		decrypted, err := decrypt(c.encKey, strings.TrimPrefix(pw, "encrypted:"))
		if err != nil {
			return err
		}
		c.Notifications.Email.SMTP.Password = decrypted
	}
	return nil
}
