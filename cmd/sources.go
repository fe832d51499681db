package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voxcollect/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture sources",
	Long:  `List the capture sources of the configured audio backend (or --backend), as accepted by audio.source.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := cfg.Audio.Backend
		if flag, _ := cmd.Flags().GetString("backend"); flag != "" {
			name = flag
		}
		backend, err := audio.ParseBackend(name)
		if err != nil {
			return err
		}

		sources, err := audio.ListSources(backend)
		if err != nil {
			return fmt.Errorf("failed to list %s sources: %w", backend, err)
		}

		fmt.Printf("🎙️  %s sources (%d found):\n", backend, len(sources))
		for i, source := range sources {
			marker := " "
			if source == cfg.Audio.Source {
				marker = "*"
			}
			fmt.Printf(" %s %d. %s\n", marker, i+1, source)
		}

		fmt.Printf("\n💡 Set audio.source to one of these names")
		if backend != audio.BackendTypePipeWire {
			fmt.Printf(" (or \"default\")")
		}
		fmt.Println()
		return nil
	},
}

func init() {
	sourcesCmd.Flags().String("backend", "", "audio backend to query: pulse, alsa or pipewire")
}
