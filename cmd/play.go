package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voxcollect/internal/audio"
	"github.com/audiolibrelab/voxcollect/internal/play"
)

var playCmd = &cobra.Command{
	Use:   "play <file.wav>",
	Short: "Play a stored recording",
	Long: `Play a WAV recording through the first available player (ffplay, mpv, vlc, aplay),
or audio.player when configured.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		if info, err := audio.InspectFile(path); err == nil {
			fmt.Printf("Playing: %s (%s, %d Hz)\n", path, info.Duration.Round(100*time.Millisecond), info.SampleRate)
		} else {
			fmt.Printf("Playing: %s\n", path)
		}

		if err := play.New(cfg).PlayFile(cmd.Context(), path); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		fmt.Println("Playback completed")
		return nil
	},
}
