package cli

import (
	"fmt"
	"os"

	"voice-command-router/config"

	"github.com/spf13/cobra"
)

func newConfigCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			out, err := o.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(o.out, out)
			return err
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to --config",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if _, err := os.Stat(o.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", o.configPath)
			}

			if err := config.Save(o.cfg, o.configPath); err != nil {
				return err
			}

			fmt.Fprintln(o.out, "wrote", o.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file location",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintln(o.out, o.configPath)
		},
	}

	cmd.AddCommand(show, initCmd, path)

	return cmd
}
