// Package daemon implements the vrouter process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/vrouter/internal/config"
	"firestige.xyz/vrouter/internal/console"
	"firestige.xyz/vrouter/internal/link"
	logpkg "firestige.xyz/vrouter/internal/log"
	"firestige.xyz/vrouter/internal/metrics"
	"firestige.xyz/vrouter/internal/router"
	"firestige.xyz/vrouter/internal/tcp"
)

// Daemon manages the vrouter process: logging, metrics, links, the router
// loop and the operator console.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	pidFile    string
	in         io.Reader
	out        io.Writer

	// Core components
	links         []link.Link
	tap           *link.Tap // nil if capture disabled
	router        *router.Router
	console       *console.Console
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	routerErr chan error
	sigChan   chan os.Signal
	stopOnce  sync.Once
	tcpOpts   []tcp.Option
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithPIDFile writes the process id to path while running.
func WithPIDFile(path string) Option {
	return func(d *Daemon) { d.pidFile = path }
}

// WithConsole replaces stdin and stdout as the operator console.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(d *Daemon) {
		d.in = in
		d.out = out
	}
}

// WithLinks uses the given links instead of opening the configured ones.
// There must be one per interface.
func WithLinks(links []link.Link) Option {
	return func(d *Daemon) { d.links = links }
}

// WithTCPOptions passes options to the TCP endpoint.
func WithTCPOptions(opts ...tcp.Option) Option {
	return func(d *Daemon) { d.tcpOpts = append(d.tcpOpts, opts...) }
}

// New loads the configuration at configPath and creates a Daemon. An empty
// path runs on the built-in defaults.
func New(configPath string, opts ...Option) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(cfg, configPath, opts...), nil
}

// NewWithConfig creates a Daemon from an already validated configuration.
func NewWithConfig(cfg *config.GlobalConfig, configPath string, opts ...Option) *Daemon {
	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		in:         os.Stdin,
		out:        os.Stdout,
		routerErr:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Router returns the running router, nil before Start.
func (d *Daemon) Router() *router.Router { return d.router }

// Start initializes every component and starts the router loop.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.Info("starting vrouter daemon",
		"config", d.configPath,
		"interfaces", len(d.config.Interfaces),
		"routes", len(d.config.Routes),
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.shutdown()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Open links, wrapped by the capture tap
	if err := d.openLinks(); err != nil {
		d.shutdown()
		return fmt.Errorf("failed to open links: %w", err)
	}

	// 5. Build the router and the console
	rcfg, err := routerConfig(d.config)
	if err != nil {
		d.shutdown()
		return err
	}
	printer := logpkg.NewConsoleLogger(d.out, d.config.Console.Pattern, d.config.Console.TimeFormat)
	d.router, err = router.New(rcfg, d.links, printer, d.tcpOpts...)
	if err != nil {
		d.shutdown()
		return fmt.Errorf("failed to create router: %w", err)
	}
	d.console = console.New(d.router.TCP(), printer)

	if d.config.Console.Banner {
		console.PrintBanner(d.out, console.UseColor(d.config.Console.Color, d.out))
	}

	// 6. Run the router loop
	lines := console.ReadLines(d.ctx, d.in, printer)
	go func() {
		d.routerErr <- d.router.Run(d.ctx, lines, d.console.HandleLine)
	}()

	slog.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all components. It is safe to call
// more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		slog.Info("initiating graceful shutdown")
		d.shutdown()
		slog.Info("daemon stopped gracefully")
		logpkg.Close()
	})
}

func (d *Daemon) shutdown() {
	// 1. Cancel context and wait for the router loop
	d.cancel()
	if d.router != nil {
		select {
		case err := <-d.routerErr:
			if err != nil {
				slog.Error("router stopped with error", "error", err)
			}
		case <-time.After(5 * time.Second):
			slog.Warn("router did not stop in time")
		}
	}

	// 2. Close links and the capture file
	for i, l := range d.links {
		if err := l.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			slog.Warn("error closing link", "index", i, "error", err)
		}
	}
	if d.tap != nil {
		if err := d.tap.Close(); err != nil {
			slog.Error("error closing capture file", "error", err)
		}
	}

	// 3. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 4. Unregister signal handler
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 5. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}
}

// Run blocks until SIGTERM or SIGINT, or until the router loop ends, then
// stops the daemon. SIGHUP reloads the log settings.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case err := <-d.routerErr:
			// Put it back for shutdown, which waits on it.
			d.routerErr <- err
			slog.Info("router loop ended", "error", err)
			d.Stop()
			return err

		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// TriggerShutdown stops a running Run loop.
func (d *Daemon) TriggerShutdown() {
	d.cancel()
}

// Reload re-reads the configuration file. Only the log settings are applied
// at runtime; topology changes need a restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	requiresRestart := []string{}
	if len(newConfig.Interfaces) != len(d.config.Interfaces) {
		requiresRestart = append(requiresRestart, "interfaces")
	}
	if len(newConfig.Routes) != len(d.config.Routes) {
		requiresRestart = append(requiresRestart, "routes")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}

	d.config.Log = newConfig.Log
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", []string{"log"},
		"requires_restart", requiresRestart,
	)
	return nil
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}

	slog.Info("metrics server started",
		"addr", d.metricsServer.Addr(),
		"path", d.config.Metrics.Path,
	)
	return nil
}

// openLinks opens one link per interface unless links were injected, and
// wraps each in the capture tap when capture is enabled.
func (d *Daemon) openLinks() error {
	if d.links == nil {
		for i, ic := range d.config.Interfaces {
			l, err := link.Open(ic.Link)
			if err != nil {
				return fmt.Errorf("interface %d (%s): %w", i, ic.Name, err)
			}
			d.links = append(d.links, l)
			slog.Info("link opened", "interface", ic.Name, "type", ic.Link.Type)
		}
	}

	if !d.config.Capture.Enabled {
		return nil
	}
	tap, err := link.NewTap(d.config.Capture.Path, d.config.Capture.SnapLen)
	if err != nil {
		return err
	}
	d.tap = tap
	for i, l := range d.links {
		d.links[i] = tap.Wrap(l)
	}
	slog.Info("capturing frames", "path", d.config.Capture.Path)
	return nil
}

// routerConfig converts the validated configuration into router settings.
func routerConfig(cfg *config.GlobalConfig) (router.Config, error) {
	ifaces, err := cfg.CoreInterfaces()
	if err != nil {
		return router.Config{}, err
	}
	routes, err := cfg.CoreRoutes()
	if err != nil {
		return router.Config{}, err
	}
	entries, err := cfg.CoreARP()
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{
		Interfaces: ifaces,
		Routes:     routes,
		ARP:        entries,
		TCP: tcp.Config{
			Listening:  cfg.TCP.Ports(),
			ActivePort: uint16(cfg.TCP.ActivePort),
			Window:     uint16(cfg.TCP.Window),
		},
		ICMPTTL:   uint8(cfg.ICMP.TTL),
		ICMPRate:  cfg.ICMP.RateLimit,
		ICMPBurst: cfg.ICMP.Burst,
	}, nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}
