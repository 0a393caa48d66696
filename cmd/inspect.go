package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var inspectPath string

var inspectCmd = &cobra.Command{
	Use:     "inspect <debug-addr>",
	Aliases: []string{"i"},
	Short:   "Inspects the current state of a running router",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://%s/%s", args[0], inspectPath))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: %s", resp.Status, body)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(body))
		return nil
	},
	GroupID: "router",
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectPath, "path", "p", "status", "debug endpoint to read: status, routes or metrics")
}
