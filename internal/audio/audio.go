// Package audio plays the audible alert cue and mirrors it to UI clients
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Broadcaster interface for sending WebSocket messages
type Broadcaster interface {
	Broadcast(msg interface{})
	BroadcastToCamera(cameraID string, msg interface{})
}

// Config selects the player command and the sound it plays
type Config struct {
	Command   string // e.g. aplay, paplay, afplay
	SoundFile string
	Timeout   time.Duration
}

// DefaultTimeout bounds a single playback
const DefaultTimeout = 15 * time.Second

// Player runs an external audio player for alert cues
type Player struct {
	cfg         Config
	broadcaster Broadcaster
	logger      *slog.Logger

	mu      sync.Mutex
	playing bool
	played  int64
}

// Cue is the payload of an audio_cue message
type Cue struct {
	CameraID  string    `json:"camera_id"`
	TrackID   int64     `json:"track_id"`
	SoundFile string    `json:"sound_file,omitempty"`
	Played    bool      `json:"played"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPlayer creates a new cue player
func NewPlayer(cfg Config) *Player {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Player{
		cfg:    cfg,
		logger: slog.Default().With("component", "audio"),
	}
}

// SetBroadcaster sets the WebSocket broadcaster for cue notifications
func (p *Player) SetBroadcaster(b Broadcaster) {
	p.broadcaster = b
}

// Played returns how many cues actually reached the player command
func (p *Player) Played() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

// Play runs the player command once. Overlapping cues collapse into the
// one already playing.
func (p *Player) Play(ctx context.Context) (bool, error) {
	if p.cfg.Command == "" {
		return false, nil
	}
	if p.cfg.SoundFile != "" {
		if _, err := os.Stat(p.cfg.SoundFile); err != nil {
			return false, fmt.Errorf("sound file unavailable: %w", err)
		}
	}

	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		p.logger.Debug("Cue already playing, skipping")
		return false, nil
	}
	p.playing = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var args []string
	if p.cfg.SoundFile != "" {
		args = append(args, p.cfg.SoundFile)
	}
	cmd := exec.CommandContext(ctx, p.cfg.Command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return false, fmt.Errorf("failed to play sound: %w (%s)", err, string(out))
	}

	p.mu.Lock()
	p.played++
	p.mu.Unlock()
	return true, nil
}

// Alert plays the cue for an abandoned bag and notifies UI clients.
// The broadcast goes out even when playback fails so browsers can chime.
func (p *Player) Alert(ctx context.Context, cameraID string, trackID int64) error {
	played, err := p.Play(ctx)

	if p.broadcaster != nil {
		p.broadcaster.BroadcastToCamera(cameraID, map[string]interface{}{
			"type":      "audio_cue",
			"timestamp": time.Now(),
			"data": Cue{
				CameraID:  cameraID,
				TrackID:   trackID,
				SoundFile: p.cfg.SoundFile,
				Played:    played,
				Timestamp: time.Now(),
			},
		})
	}

	if err != nil {
		return err
	}
	p.logger.Debug("Audio cue", "camera_id", cameraID, "track_id", trackID, "played", played)
	return nil
}
