package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/encodeous/trustbgp/core"
	"github.com/spf13/cobra"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Generates a static hosts override naming every router address",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := core.ReadCentralConfig(configPath)
		if err != nil {
			return err
		}
		hosts := make(map[string][]string)
		for _, r := range cfg.Routers {
			ip := r.Ip.String()
			hosts[ip] = append(hosts[ip], strings.ToLower(r.Id.String()))
		}
		sb := strings.Builder{}
		for _, ip := range slices.Sorted(maps.Keys(hosts)) {
			sb.WriteString(ip)
			for _, name := range slices.Sorted(slices.Values(hosts[ip])) {
				sb.WriteString(fmt.Sprintf("\t%s", name))
			}
			sb.WriteString("\n")
		}
		fmt.Fprint(cmd.OutOrStdout(), sb.String())
		return nil
	},
	GroupID: "config",
}

func init() {
	rootCmd.AddCommand(hostsCmd)
}
