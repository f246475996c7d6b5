package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/anpx/internal/command"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Gracefully stop a running daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runStopCommand()
	},
}

func runStopCommand() {
	client := command.NewUDSClient(controlSocket(), 10*time.Second)
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		exitWithError("daemon is not running or socket is inaccessible", err)
	}

	resp, err := client.Shutdown(ctx)
	if err != nil {
		exitWithError("failed to send shutdown command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("shutdown failed: %s", resp.Error.Message), nil)
	}

	fmt.Println("shutdown requested")
}
