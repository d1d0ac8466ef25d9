package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/motogarage/garage/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Inspect garage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after applying the config file, GARAGE_*
environment variables and defaults.

The output is a valid config file in the chosen format.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		format, _ := cmd.Flags().GetString("format")

		data, err := cfg.Encode(format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		source := cfg.File
		if source == "" {
			source = "defaults"
		}
		fmt.Fprintf(os.Stderr, "%s\n", ui.RenderMuted("# source: "+source))
		os.Stdout.Write(data)
	},
}

func init() {
	configShowCmd.Flags().StringP("format", "f", "yaml", "output format: yaml, toml or json")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
