package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath = "routers.yaml"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "trustbgp",
	Short: "Trust-aware BGP router simulator",
	Long: `trustbgp runs one router of a simulated BGP network.
Every router reads the same boot document, connects to its neighbours over TCP and only accepts routes from neighbours it trusts.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "router",
		Title: "Router Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "config",
		Title: "Configuration Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "network-wide boot document")
}
