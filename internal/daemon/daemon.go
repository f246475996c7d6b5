// Package daemon implements the shared process lifecycle for the gateway
// and receiver binaries: config loading, logging, PID file, metrics server,
// UDS control socket, signal handling, and ordered shutdown.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"firestige.xyz/anpx/internal/command"
	"firestige.xyz/anpx/internal/config"
	"firestige.xyz/anpx/internal/log"
	"firestige.xyz/anpx/internal/metrics"
)

// Service is the daemon's payload: the gateway or the receiver client. The
// daemon owns its lifecycle and exposes its stats over the control socket.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stats() map[string]interface{}
}

// BuildService constructs the payload once configuration is loaded.
type BuildService func(cfg *config.GlobalConfig) (Service, error)

// Daemon manages one anpx process.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string
	name       string

	build         BuildService
	service       Service
	cmdHandler    *command.Handler
	udsServer     *command.UDSServer
	metricsServer *metrics.Server

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New loads configuration and prepares a daemon named name (shows up in
// logs) whose payload is constructed by build during Start.
func New(name, configPath, socketPath, pidFile string, build BuildService) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		name:         name,
		build:        build,
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts all daemon components in order: logging, PID
// file, metrics, the service payload, then the control socket.
func (d *Daemon) Start() error {
	log.Init(d.config.Log)
	logger := log.GetLogger()

	logger.WithFields(map[string]interface{}{
		"daemon":   d.name,
		"hostname": d.config.Node.Hostname,
		"config":   d.configPath,
		"socket":   d.socketPath,
	}).Info("starting daemon")

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if d.config.Metrics.Enabled {
		d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
		if err := d.metricsServer.Start(d.ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	service, err := d.build(d.config)
	if err != nil {
		return fmt.Errorf("failed to build %s service: %w", d.name, err)
	}
	d.service = service
	if err := d.service.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start %s service: %w", d.name, err)
	}

	d.cmdHandler = command.NewHandler(d, d)
	d.cmdHandler.SetShutdownFunc(func() {
		logger.Info("shutdown triggered via control socket")
		d.TriggerShutdown()
	})

	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("uds server failed")
		}
	}()

	logger.Info("daemon started")
	return nil
}

// Stats implements command.StatsProvider by delegating to the service.
func (d *Daemon) Stats() map[string]interface{} {
	if d.service == nil {
		return map[string]interface{}{}
	}
	stats := d.service.Stats()
	stats["daemon"] = d.name
	return stats
}

// Stop performs ordered graceful shutdown. Errors along the way are
// combined rather than short-circuiting: every component still gets its
// stop call.
func (d *Daemon) Stop() {
	logger := log.GetLogger()
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs error

	if d.udsServer != nil {
		if err := d.udsServer.Stop(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if d.service != nil {
		if err := d.service.Stop(shutdownCtx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		logger.WithError(errs).Warn("shutdown completed with errors")
	} else {
		logger.Info("daemon stopped gracefully")
	}
	log.Flush()
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT, the control
// socket's shutdown command, or external context cancellation. SIGHUP
// triggers a config reload.
func (d *Daemon) Run() error {
	logger := log.GetLogger()

	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	logger.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logger.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil

			case syscall.SIGHUP:
				logger.Info("received reload signal")
				if err := d.Reload(); err != nil {
					logger.WithError(err).Error("failed to reload config")
				}
			}

		case <-d.shutdownChan:
			d.Stop()
			return nil

		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads configuration. Hot: log level. Cold (listed in the reload
// log entry as requiring a restart): listen addresses, ws path, receiver
// gateway URL, tls material.
func (d *Daemon) Reload() error {
	logger := log.GetLogger()

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if newConfig.Log.Level != d.config.Log.Level {
		log.SetLevel(newConfig.Log.Level)
		hotReloaded = append(hotReloaded, "log.level")
	}

	requiresRestart := []string{}
	if newConfig.Gateway.Listen != d.config.Gateway.Listen {
		requiresRestart = append(requiresRestart, "gateway.listen")
	}
	if newConfig.Gateway.WSPath != d.config.Gateway.WSPath {
		requiresRestart = append(requiresRestart, "gateway.ws_path")
	}
	if newConfig.Gateway.TLSCert != d.config.Gateway.TLSCert || newConfig.Gateway.TLSKey != d.config.Gateway.TLSKey {
		requiresRestart = append(requiresRestart, "gateway.tls")
	}
	if newConfig.Receiver.GatewayURL != d.config.Receiver.GatewayURL {
		requiresRestart = append(requiresRestart, "receiver.gateway_url")
	}
	if newConfig.Metrics.Listen != d.config.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}

	d.config = newConfig

	logger.WithFields(map[string]interface{}{
		"hot_reloaded":     hotReloaded,
		"requires_restart": requiresRestart,
	}).Info("configuration reloaded")
	return nil
}

// TriggerShutdown requests graceful shutdown from an external caller.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
