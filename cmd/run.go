package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/encodeous/trustbgp/core"
	"github.com/encodeous/trustbgp/state"
	"github.com/spf13/cobra"
)

// routerIdEnv selects the router when --id is not given
const routerIdEnv = "ROUTER_ID"

var runOpts core.Options

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a router",
	Long:  `Runs the router selected by --id (or the ROUTER_ID environment variable) until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("id") {
			env, ok := os.LookupEnv(routerIdEnv)
			if !ok {
				return fmt.Errorf("no router selected, pass --id or set %s", routerIdEnv)
			}
			id, err := strconv.Atoi(env)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", routerIdEnv, err)
			}
			runOpts.Id = state.RouterId(id)
		}
		runOpts.ConfigPath = configPath
		return core.Bootstrap(runOpts)
	},
	GroupID: "router",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVarP((*int)(&runOpts.Id), "id", "i", 0, "id of the router to run")
	runCmd.Flags().BoolVarP(&runOpts.Verbose, "verbose", "v", false, "Verbose output")
	runCmd.Flags().StringVarP(&runOpts.LogPath, "log", "l", "", "also write logs to this file")
	runCmd.Flags().StringVarP(&runOpts.DebugAddr, "debug-addr", "d", "", "serve status and metrics on this address, e.g. 127.0.0.1:9179")
}
