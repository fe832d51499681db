package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voxcollect/internal/audio"
	"github.com/audiolibrelab/voxcollect/internal/client"
	"github.com/audiolibrelab/voxcollect/internal/identity"
	"github.com/audiolibrelab/voxcollect/internal/play"
	"github.com/audiolibrelab/voxcollect/internal/session"
)

const recordHelp = `  [Enter] start/stop recording   p  play preview   s  submit
  c  record again (discard)        k  skip sentence   q  quit`

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record prompted sentences and upload them to the server",
	Long: `Interactive recording client. It fetches a sentence from the collection
server, records you reading it aloud, and lets you preview the take before you
submit or discard it.

Log in first with 'voxcollect login <name>'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if accent, _ := cmd.Flags().GetString("accent"); accent != "" {
			cfg.Audio.Accent = accent
		}

		device, err := audio.NewDevice(cfg)
		if err != nil {
			return err
		}
		api := client.New(cfg.Client)
		store := identity.NewFileStore(cfg.Client.IdentityFile)

		ctrl := session.New(device, api, api,
			session.WithIdentity(store),
			session.WithAccent(cfg.Audio.Accent),
			session.WithNotifier(session.NotifierFunc(func(err error) {
				fmt.Fprintf(os.Stderr, "\n⚠️  %v\n", err)
			})))
		defer ctrl.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := ctrl.Init(ctx); err != nil {
			return err
		}
		if !ctrl.Snapshot().LoggedIn {
			fmt.Println("Not logged in. Run 'voxcollect login <name>' first.")
			return nil
		}

		return runRecordLoop(ctx, ctrl, play.New(cfg))
	},
}

// runRecordLoop reads single-key commands from stdin until quit or ctx is cancelled
func runRecordLoop(ctx context.Context, ctrl *session.Controller, player *play.Player) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(strings.ToLower(scanner.Text()))
		}
	}()

	fmt.Println(recordHelp)
	printSession(ctrl.Snapshot())

	for {
		var line string
		select {
		case <-ctx.Done():
			fmt.Println("\nStopping...")
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		switch line {
		case "":
			if ctrl.State() == session.StateCapturing {
				ctrl.Stop(ctx)
			} else {
				ctrl.Start(ctx)
			}
		case "p":
			if rec, ok := ctrl.Preview(); ok {
				if err := player.Play(ctx, rec.Audio); err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
				}
			} else {
				fmt.Println("Nothing to play yet.")
			}
		case "s":
			ctrl.Submit(ctx, session.Metadata{})
		case "c":
			ctrl.Cancel()
		case "k":
			ctrl.Skip(ctx)
		case "q":
			return nil
		case "?", "h":
			fmt.Println(recordHelp)
		default:
			fmt.Printf("Unknown command %q\n", line)
		}

		printSession(ctrl.Snapshot())
	}
}

func printSession(snap session.Snapshot) {
	var status string
	switch snap.State {
	case session.StateIdle:
		status = "⏺  press Enter to record"
	case session.StateCapturing:
		status = "🔴 recording... press Enter to stop"
	case session.StatePreviewing:
		status = "▶️  p=play  s=submit  c=record again"
	case session.StateSubmitting:
		status = "⬆️  uploading..."
	}

	fmt.Printf("\n[%s · %d recorded]\n  %s\n%s\n> ", snap.UserID, snap.Prompt.CompletedCount, snap.Prompt.Text, status)
}

func init() {
	recordCmd.Flags().String("accent", "", "accent tag sent with every recording (overrides audio.accent)")
}
