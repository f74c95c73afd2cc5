package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tturner/modsim/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(newPrintDefaultCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newInitCmd())
	return cmd
}

func newPrintDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-default",
		Short: "Print the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.Marshal(config.CreateDefaultConfig())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath == "" {
				cfgPath = config.DefaultPath
			}
			if _, err := config.LoadConfig(cfgPath, false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config OK: %s\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "Config file path (default \"modsim.yaml\")")
	return cmd
}

func newInitCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath == "" {
				cfgPath = config.DefaultPath
			}
			if err := config.WriteDefaultConfig(cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "Destination path (default \"modsim.yaml\")")
	return cmd
}
