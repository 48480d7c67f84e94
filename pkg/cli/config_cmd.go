package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DeBrosOfficial/rnshub/pkg/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect hub configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := config.DefaultConfig().Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE:  runConfigValidate,
	}
	validate.Flags().String("config", "", "Path to config YAML")
	cmd.AddCommand(validate)

	return cmd
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	errs := cfg.Validate()
	if len(errs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	}
	for _, e := range errs {
		fmt.Fprintln(cmd.ErrOrStderr(), "  -", e)
	}
	return fmt.Errorf("%d configuration error(s)", len(errs))
}
