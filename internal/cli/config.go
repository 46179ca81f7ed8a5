package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage poectl configuration",
		Long: `Manage poectl configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (POE_*)
3. Config file (~/.poe/config.yaml)
4. Defaults`,
	}
	cmd.AddCommand(a.configShowCommand(), a.configInitCommand())
	return cmd
}

func (a *app) configShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n", used)
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "No configuration file found (using defaults)")
			}
			s := a.settings()
			if s.Token != "" {
				s.Token = "<redacted>"
			}
			data, err := yaml.Marshal(s)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func (a *app) configInitCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file already exists: %s", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			data, err := yaml.Marshal(DefaultSettings())
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			header := "# poectl configuration\n# Every key can be overridden with POE_<KEY> or the matching flag.\n"
			if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created default configuration: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", defaultPath("config.yaml"), "where to write the config file")
	return cmd
}
