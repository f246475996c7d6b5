package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/anpx/internal/command"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload a running daemon's configuration",
	Long: `Ask a running daemon to re-read its config file.

Hot-reloadable: log level. Changes to listen addresses, the WebSocket
path, or TLS material require a restart and are reported as such.`,
	Run: func(cmd *cobra.Command, args []string) {
		runReloadCommand()
	},
}

func runReloadCommand() {
	client := command.NewUDSClient(controlSocket(), 10*time.Second)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		exitWithError("daemon is not running or socket is inaccessible", err)
	}

	resp, err := client.ConfigReload(ctx)
	if err != nil {
		exitWithError("failed to send reload command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("reload failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("configuration reloaded")
}
