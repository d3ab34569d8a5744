package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pathvec/pathrtr/internal/config"
)

// validateCmd loads and sanity-checks a config file without starting
// any component, mirroring the teacher's side-channel "verify" command.
var validateCmd = &cobra.Command{
	Use:     "validate <configFile>",
	Short:   "Validate a config file without starting the router",
	Args:    cobra.ExactArgs(1),
	GroupID: "core",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}
		fmt.Printf("ok: myIp=%s hostIp=%s neighbors=%d prefixes=%d\n",
			cfg.MyIP, cfg.HostIP, len(cfg.Neighbors), len(cfg.Prefixes))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
