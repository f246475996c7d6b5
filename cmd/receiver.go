package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"firestige.xyz/anpx/internal/config"
	"firestige.xyz/anpx/internal/daemon"
	"firestige.xyz/anpx/internal/didauth/stub"
	"firestige.xyz/anpx/internal/log"
	"firestige.xyz/anpx/internal/receiver"
)

var receiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "Run the receiver daemon in foreground",
	Long: `Run the private-side receiver daemon.

The receiver will:
  1. Load global configuration from the config file
  2. Dial the gateway's WebSocket endpoint with DID-WBA credentials,
     reconnecting with exponential backoff on failure
  3. Decode forwarded requests and replay them against the local backend
  4. Send the backend's responses back over the same connection
  5. Serve a UDS control socket for the CLI
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Run: func(cmd *cobra.Command, args []string) {
		runReceiver()
	},
}

var receiverPIDFile string

func init() {
	receiverCmd.Flags().StringVarP(&receiverPIDFile, "pidfile", "p", "",
		"PID file path (default from config)")
}

func runReceiver() {
	d, err := daemon.New("receiver", configFile, socketPath, receiverPIDFile, buildReceiverService)
	if err != nil {
		exitWithError("failed to create receiver daemon", err)
	}
	if err := d.Start(); err != nil {
		exitWithError("failed to start receiver daemon", err)
	}
	if err := d.Run(); err != nil {
		exitWithError("receiver daemon exited", err)
	}
}

func buildReceiverService(cfg *config.GlobalConfig) (daemon.Service, error) {
	if cfg.Receiver.GatewayURL == "" {
		return nil, errors.New("receiver.gateway_url is required")
	}
	if cfg.Receiver.BackendAddr == "" {
		return nil, errors.New("receiver.backend_addr is required")
	}
	if cfg.Receiver.DID == "" {
		return nil, errors.New("receiver.did is required")
	}

	app := receiver.NewHTTPBackend(cfg.Receiver.BackendAddr, cfg.Receiver.BackendTimeout)
	signer := stub.NewHeaderSigner(cfg.Receiver.DID)
	observer := func(from, to receiver.State) {
		log.GetLogger().WithFields(map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		}).Info("receiver state changed")
	}
	return receiver.New(cfg.Receiver, app, signer, observer), nil
}
