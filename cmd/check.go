package cmd

import (
	"fmt"

	"github.com/encodeous/trustbgp/core"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var printExpanded bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validates the boot document and prints the topology",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := core.ReadCentralConfig(configPath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "config is valid: %d routers, %d links\n", len(cfg.Routers), len(cfg.Edges()))
		for _, e := range cfg.Edges() {
			fmt.Fprintf(out, "  %s <-> %s\n", e.V1, e.V2)
		}
		if printExpanded {
			cfgYaml, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(cfgYaml))
		}
		return nil
	},
	GroupID: "config",
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVarP(&printExpanded, "print", "p", false, "print the config with defaults filled in")
}
