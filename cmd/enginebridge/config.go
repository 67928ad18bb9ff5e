package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-dev/enginebridge/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the enginebridge configuration file",
	}
	cmd.AddCommand(configInitCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		dir    string
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write enginebridge.json (or enginebridge.yaml with --format=yaml)
with every section set to its defaults.

Examples:
  enginebridge config init
  enginebridge config init --dir=deploy --format=yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := config.ConfigFileName
			switch format {
			case "json":
			case "yaml", "yml":
				name = config.YAMLConfigFileName
			default:
				return fmt.Errorf("unknown format %q (want json or yaml)", format)
			}

			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			if err := config.Default().SaveTo(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory to write the config file to")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "File format: json or yaml")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}
