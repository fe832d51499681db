package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voxcollect/internal/corpus"
)

var infoCmd = &cobra.Command{
	Use:   "info [cutset]",
	Short: "Show corpus progress",
	Long:  `Show how many utterances of the cutset are recorded or assigned, and per-user recording counts. Files are only read.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cutset := cfg.Corpus.Cutset
		if len(args) == 1 {
			cutset = args[0]
		}

		var utterances []corpus.Utterance
		if cutset != "" {
			var err error
			utterances, err = corpus.LoadCutset(cutset)
			if err != nil {
				return err
			}
		}

		stats, err := corpus.ReadStats(cfg.Corpus, utterances)
		if err != nil {
			return fmt.Errorf("failed to read corpus state: %w", err)
		}

		fmt.Printf("=== CORPUS ===\n")
		if cutset != "" {
			fmt.Printf("cutset: %s\n", cutset)
			fmt.Printf("total: %d\n", stats.Total)
		}
		fmt.Printf("recorded: %d\n", stats.Recorded)
		fmt.Printf("active: %d\n", stats.Active)
		if stats.Total > 0 {
			fmt.Printf("remaining: %d (%.1f%% done)\n",
				stats.Total-stats.Recorded, 100*float64(stats.Recorded)/float64(stats.Total))
		}

		fmt.Printf("\n=== FILES ===\n")
		fmt.Printf("recordings_dir: %s\n", cfg.Corpus.RecordingsDir)
		fmt.Printf("metadata_file: %s\n", cfg.Corpus.MetadataFile)
		fmt.Printf("active_file: %s\n", cfg.Corpus.ActiveFile)

		fmt.Printf("\n=== USERS (%d) ===\n", len(stats.Users))
		users := make([]string, 0, len(stats.Users))
		for u := range stats.Users {
			users = append(users, u)
		}
		sort.Slice(users, func(i, j int) bool {
			if stats.Users[users[i]] != stats.Users[users[j]] {
				return stats.Users[users[i]] > stats.Users[users[j]]
			}
			return users[i] < users[j]
		})
		for _, u := range users {
			fmt.Printf("%-24s %d\n", u, stats.Users[u])
		}
		return nil
	},
}
