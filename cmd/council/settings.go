package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsResetCmd, settingsPathCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or reset the persisted council settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		s, err := rt.settings()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore and persist the default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		if _, err := rt.store.Reset(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "settings reset: %s\n", rt.store.Path())
		return nil
	},
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rt.store.Path())
		return nil
	},
}
