package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/vrouter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration the router would run with: the file given by
--config merged with environment overrides (VROUTER_*) and defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow(configFile, cmd.OutOrStdout())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]*config.GlobalConfig{"vrouter": cfg}); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
