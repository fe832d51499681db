package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/audiolibrelab/voxcollect/internal/config"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	logFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "voxcollect",
	Short: "Collect read-aloud voice recordings for a speech corpus",
	Long: `voxcollect hands out prompt sentences from a corpus and collects recordings of
contributors reading them aloud.

Run 'voxcollect serve' on the collection host and 'voxcollect record' on a
contributor's machine (after 'voxcollect login <name>').`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel, nil)

		// Use default config path if not specified
		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/voxcollect.yaml")
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		path := logFile
		if path == "" {
			path = cfg.Logging.File
		}
		if path != "" {
			setupLogging(verboseLevel, &lumberjack.Logger{
				Filename:   path,
				MaxSize:    cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				Compress:   true,
			})
		}

		slog.Debug("Configuration loaded", "file", cfgFile, "profile", profile)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/voxcollect.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated (overrides logging.file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg tracing")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging configures slog based on the verbose level. When file is set,
// records go to stderr and to the rotating file.
func setupLogging(level int, file io.Writer) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if file != nil {
		out = io.MultiWriter(os.Stderr, file)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))

	if level >= 2 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
}
