package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pathrtr",
	Short: "pathrtr overlay path-vector router",
	Long: `pathrtr participates with peers over an emulated overlay link
layer to exchange reachability information using a path-vector routing
protocol, maintains a longest-prefix-match forwarding table, and
forwards datagrams across the overlay.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "core",
		Title: "pathrtr Commands",
	})
}
