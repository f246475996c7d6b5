package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/anpx/internal/config"
	"firestige.xyz/anpx/internal/daemon"
	"firestige.xyz/anpx/internal/didauth"
	"firestige.xyz/anpx/internal/didauth/stub"
	"firestige.xyz/anpx/internal/gateway"
	"firestige.xyz/anpx/internal/log"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the gateway daemon in foreground",
	Long: `Run the public-side gateway daemon.

The gateway will:
  1. Load global configuration from the config file
  2. Initialize logging and the metrics server
  3. Accept receiver WebSocket connections on the configured ws_path,
     verifying DID-WBA credentials and registering advertised paths
  4. Forward incoming HTTP requests over the matching receiver connection
  5. Serve /health and /stats, and a UDS control socket for the CLI
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

var gatewayPIDFile string

func init() {
	gatewayCmd.Flags().StringVarP(&gatewayPIDFile, "pidfile", "p", "",
		"PID file path (default from config)")
}

func runGateway() {
	d, err := daemon.New("gateway", configFile, socketPath, gatewayPIDFile, buildGatewayService)
	if err != nil {
		exitWithError("failed to create gateway daemon", err)
	}
	if err := d.Start(); err != nil {
		exitWithError("failed to start gateway daemon", err)
	}
	if err := d.Run(); err != nil {
		exitWithError("gateway daemon exited", err)
	}
}

func buildGatewayService(cfg *config.GlobalConfig) (daemon.Service, error) {
	verifier, oracle := buildAuthCollaborators(cfg)
	return gateway.New(cfg.Gateway, verifier, oracle, cfg.Auth.AllowedDIDs)
}

// buildAuthCollaborators wires the DID-WBA verifier and path oracle. No
// client for verifier_endpoint/oracle_endpoint exists, so the stub pair is
// always wired, with a loud warning so nobody runs an open gateway by
// accident; configured endpoints only add a warning of their own.
func buildAuthCollaborators(cfg *config.GlobalConfig) (didauth.Verifier, didauth.PathOracle) {
	logger := log.GetLogger()
	if cfg.Auth.VerifierEndpoint != "" || cfg.Auth.OracleEndpoint != "" {
		logger.WithFields(map[string]interface{}{
			"verifier_endpoint": cfg.Auth.VerifierEndpoint,
			"oracle_endpoint":   cfg.Auth.OracleEndpoint,
		}).Warn("external auth endpoints configured but no client implementation is wired; falling back to stub")
	}
	logger.Warn("using stub DID-WBA verifier and path oracle; do not expose this gateway publicly")

	oracle := stub.NewPathOracle()
	for did, paths := range cfg.Auth.StaticPaths {
		oracle.Register(did, paths)
	}
	return stub.NewVerifier(), oracle
}
