package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voxcollect/internal/client"
	"github.com/audiolibrelab/voxcollect/internal/identity"
)

var loginCmd = &cobra.Command{
	Use:   "login <name>",
	Short: "Store the name recordings are submitted under",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(args[0])
		store := identity.NewFileStore(cfg.Client.IdentityFile)
		if err := store.Save(name); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s\n", name)

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if err := client.New(cfg.Client).Health(ctx); err != nil {
			slog.Warn("Collection server is not reachable", "url", cfg.Client.ServerURL, "error", err)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored name",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := identity.NewFileStore(cfg.Client.IdentityFile).Clear(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored name and server",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := identity.NewFileStore(cfg.Client.IdentityFile)
		name, err := store.Load()
		if err != nil {
			return err
		}
		if name == "" {
			fmt.Println("Not logged in")
		} else {
			fmt.Printf("user: %s\n", name)
		}
		fmt.Printf("server: %s\n", cfg.Client.ServerURL)
		fmt.Printf("identity_file: %s\n", store.Path())
		return nil
	},
}
