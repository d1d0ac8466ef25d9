// Package main provides the garage CLI: the offline-first client for the
// motorcycle-garage backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configFile is set by the --config flag.
	configFile string

	// dataDirFlag overrides data_dir from the config.
	dataDirFlag string

	// offlineFlag forces the connectivity monitor offline.
	offlineFlag bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "garage",
	Short: "Offline-first client for the garage backend",
	Long: `garage keeps a local copy of jobs, customers, services and bikes.

Every change is applied locally first and queued. Queued changes are sent to
the backend in order as soon as it is reachable, and the local copy is
refreshed from the backend on every full sync.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "records", Title: "Record Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./garage.yaml or ~/.garage/garage.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory (overrides data_dir)")
	rootCmd.PersistentFlags().BoolVar(&offlineFlag, "offline", false, "treat the backend as unreachable")
}
