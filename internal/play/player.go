package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/voxcollect/internal/config"
)

// players in order of preference
var players = []string{"ffplay", "mpv", "vlc", "aplay"}

type Player struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
}

func New(cfg *config.Config) *Player {
	return &Player{cfg: cfg, lookPath: exec.LookPath}
}

// PlayFile plays a WAV file and blocks until playback ends or ctx is cancelled
func (p *Player) PlayFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audio file not found: %s", path)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	args := playerArgs(player, path)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	slog.Debug("Starting playback", "command", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	return nil
}

// Play writes audio to a temporary file and plays it
func (p *Player) Play(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return fmt.Errorf("nothing to play")
	}

	tmp, err := os.CreateTemp("", "voxcollect-preview-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create preview file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write preview file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write preview file: %w", err)
	}

	return p.PlayFile(ctx, tmp.Name())
}

func (p *Player) findAudioPlayer() (string, error) {
	if configured := p.cfg.Audio.Player; configured != "" {
		if _, err := p.lookPath(configured); err != nil {
			return "", fmt.Errorf("configured player %s not found: %w", configured, err)
		}
		return configured, nil
	}

	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}

func playerArgs(player, path string) []string {
	switch player {
	case "vlc":
		return []string{"vlc", "--intf", "dummy", "--play-and-exit", path}
	case "mpv":
		return []string{"mpv", "--no-video", "--really-quiet", path}
	case "ffplay":
		return []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", path}
	default:
		// aplay and anything configured by the user take the file as sole argument
		return []string{player, path}
	}
}
