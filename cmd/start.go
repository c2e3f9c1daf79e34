package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/vrouter/internal/daemon"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the router in the foreground",
	Long: `Run the router in the foreground with the operator console on stdin/stdout.

The daemon will:
  1. Load configuration from the config file (or the built-in topology)
  2. Initialize logging and metrics
  3. Open one link per interface, with pcap capture if enabled
  4. Process frames and console lines until SIGTERM or SIGINT
  5. Reload log settings on SIGHUP

Examples:
  vrouter start
  vrouter start -c vrouter.yml --pidfile /run/vrouter.pid`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart()
	},
}

func init() {
	startCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "", "PID file path")
}

func runStart() error {
	d, err := daemon.New(configFile, daemon.WithPIDFile(pidFile))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
