// Package cli implements the rnshub command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultAPIURL = "http://localhost:6001"
	apiURLEnv     = "RNSHUB_API_URL"
	configName    = "config.yaml"
)

// NewRootCmd builds the rnshub command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rnshub",
		Short:         "LXMF propagation node hub",
		Long:          "rnshub tracks LXMF propagation nodes heard on a Reticulum mesh and selects the best one for outbound delivery.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("api", "", "Gateway base URL (default $"+apiURLEnv+" or "+defaultAPIURL+")")

	root.AddCommand(newServeCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newNodesCmd())
	root.AddCommand(newBestCmd())
	root.AddCommand(newAnnounceCmd())
	return root
}

func apiURL(cmd *cobra.Command) string {
	if v, _ := cmd.Flags().GetString("api"); v != "" {
		return v
	}
	if v := os.Getenv(apiURLEnv); v != "" {
		return v
	}
	return defaultAPIURL
}
