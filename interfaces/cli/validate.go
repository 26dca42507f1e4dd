package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/sourcing-go/infrastructure/config"
)

// newValidateCmd creates the validate command.
func (a *App) newValidateCmd() *cobra.Command {
	var strictEnv bool

	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a runtime configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			loader.StrictEnv = strictEnv

			cfg, err := loader.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s is valid (journal backend: %s)\n", args[0], cfg.Journal.Backend)
			return nil
		},
	}

	cmd.Flags().BoolVar(&strictEnv, "strict-env", false, "fail on unset ${VAR} references")
	return cmd
}
