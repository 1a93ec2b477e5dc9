package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"seriesresolver/pkg/config"
	"seriesresolver/pkg/registry"
	"seriesresolver/pkg/serialization"
)

var builtinsCmd = &cobra.Command{
	Use:   "builtins",
	Short: "Print the built-in configurations as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for i, c := range registry.Builtins(cfg.ToleranceOverrides()) {
			text, err := serialization.Serialize(c)
			if err != nil {
				return err
			}
			if i > 0 {
				fmt.Fprintln(out, "---")
			}
			subtleColor.Fprintf(out, "# %s (%s)\n", c.Description(), serialization.Fingerprint(text))
			fmt.Fprint(out, text)
		}
		return nil
	},
}

var showConfigCmd = &cobra.Command{
	Use:   "show-config <file>",
	Short: "Validate a serialized configuration and print it in canonical form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := serialization.ReadFile(args[0])
		if err != nil {
			return err
		}
		text, err := serialization.Serialize(c)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		headerColor.Fprintf(out, "%s\n", c.Label())
		fmt.Fprintf(out, "fingerprint: %s\n\n", serialization.Fingerprint(text))
		fmt.Fprint(out, text)
		return nil
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write a default application config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.CreateDefaultConfigFile(path); err != nil {
			return err
		}
		okColor.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
		return nil
	},
}
