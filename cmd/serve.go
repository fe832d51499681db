package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voxcollect/internal/audio"
	"github.com/audiolibrelab/voxcollect/internal/backup"
	"github.com/audiolibrelab/voxcollect/internal/corpus"
	"github.com/audiolibrelab/voxcollect/internal/identity"
	"github.com/audiolibrelab/voxcollect/internal/metrics"
	"github.com/audiolibrelab/voxcollect/internal/server"
	"github.com/audiolibrelab/voxcollect/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve [cutset]",
	Short: "Start the collection server",
	Long: `Start the collection server. It hands out sentences from the cutset
(a JSON-lines file, optionally gzipped) and stores uploaded recordings.

With a password and a backup bucket configured the server requires basic auth
and backs the corpus up to S3. Otherwise it runs in local dev mode.

With --capture the server also drives a recording session on its own
microphone, controlled through /api/session/*.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			cfg.Corpus.Cutset = args[0]
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Server.Port = port
		}
		if bucket, _ := cmd.Flags().GetString("bucket"); bucket != "" {
			cfg.Backup.Bucket = bucket
		}
		if password, _ := cmd.Flags().GetString("password"); password != "" {
			cfg.Server.Password = password
		}
		if cfg.Corpus.Cutset == "" {
			return fmt.Errorf("no cutset given: pass it as an argument or set corpus.cutset")
		}

		utterances, err := corpus.LoadCutset(cfg.Corpus.Cutset)
		if err != nil {
			return err
		}
		catalog, err := corpus.Open(cfg.Corpus, utterances)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m := metrics.New()
		var opts []server.Option

		if capture, _ := cmd.Flags().GetBool("capture"); capture {
			ctrl, err := newCaptureController(ctx, catalog, m)
			if err != nil {
				return err
			}
			defer func() {
				if err := ctrl.Close(); err != nil {
					slog.Error("Failed to close recording session", "error", err)
				}
			}()
			opts = append(opts, server.WithController(ctrl))
		}

		if !cfg.LocalDev() {
			b, err := backup.NewS3(cfg)
			if err != nil {
				return err
			}
			b.OnPass = m.RecordBackup
			go func() {
				if err := b.Run(ctx); err != nil {
					slog.Error("Backup stopped", "error", err)
				}
			}()
		}

		srv := server.New(cfg, catalog, m, opts...)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

// newCaptureController binds a server-side recording session to the local microphone
func newCaptureController(ctx context.Context, catalog *corpus.Catalog, m *metrics.Metrics) (*session.Controller, error) {
	device, err := audio.NewDevice(cfg)
	if err != nil {
		return nil, err
	}

	ctrl := session.New(device, catalog, catalog,
		session.WithIdentity(identity.NewFileStore(cfg.Client.IdentityFile)),
		session.WithAccent(cfg.Audio.Accent))
	ctrl.OnTransition(func(from, to session.State) {
		m.RecordTransition(string(from), string(to))
	})

	if err := ctrl.Init(ctx); err != nil {
		return nil, err
	}
	return ctrl, nil
}

func init() {
	serveCmd.Flags().Int("port", 0, "port for the web server (overrides server.port)")
	serveCmd.Flags().String("bucket", "", "S3 bucket for backups (overrides backup.bucket)")
	serveCmd.Flags().String("password", "", "shared password for basic auth (overrides server.password)")
	serveCmd.Flags().Bool("capture", false, "enable the server-side recording session")
}
