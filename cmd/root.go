// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	socketPath string
)

const defaultSocketPath = "/var/run/anpx.sock"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "anpx",
	Short: "ANPX - reverse tunnel gateway and receiver",
	Long: `ANPX is a reverse tunnel: external HTTP clients reach private-network
backends through a public gateway that multiplexes requests over long-lived
WebSocket connections dialed out by receivers running beside those backends.

Subcommands:
  gateway   run the public-side gateway daemon (HTTPS front + WebSocket acceptor)
  receiver  run the private-side receiver daemon (WebSocket client + local app)
  status    query a running daemon over its control socket
  stop      gracefully stop a running daemon
  reload    reload a running daemon's configuration`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/anpx/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "",
		"daemon control socket path (default from config, or "+defaultSocketPath+")")

	// Add subcommands
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(receiverCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}

// controlSocket resolves the socket path for client commands.
func controlSocket() string {
	if socketPath != "" {
		return socketPath
	}
	return defaultSocketPath
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
