package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/vrouter/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without starting the router.

Examples:
  vrouter validate -c vrouter.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		if configFile == "" {
			exitWithError("validate requires --config", nil)
		}
		if err := runValidate(configFile, cmd.OutOrStdout()); err != nil {
			os.Exit(1)
		}
	},
}

func runValidate(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(w, "INVALID: %v\n", err)
		return err
	}
	fmt.Fprintf(w, "VALID: %d interface(s), %d route(s), %d arp entr(ies), %d listening port(s)\n",
		len(cfg.Interfaces),
		len(cfg.Routes),
		len(cfg.ARP),
		len(cfg.TCP.ListeningPorts),
	)
	return nil
}
