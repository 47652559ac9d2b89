// sensorhub ingests simulated IoT telemetry into a time-series store and
// answers the windowed queries a dashboard polls.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/sensorhub-io/sensorhub/internal/loader"
	"github.com/sensorhub-io/sensorhub/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	cfgPath   string
	logLevel  string
	logFormat string

	// cfg is loaded once in the root PersistentPreRunE.
	cfg *loader.Config
)

var rootCmd = &cobra.Command{
	Use:   "sensorhub",
	Short: "IoT telemetry ingestion and query engine",
	Long: `sensorhub simulates a fleet of IoT devices emitting temperature,
humidity and motion readings, persists them into a time-series store
partitioned by device, and answers the recent-window and aggregate
queries a live dashboard polls.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loader.Load(cfgPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				cfg = loader.DefaultConfig()
			} else {
				return err
			}
		}

		// CLI overrides
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}

		logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format == "json")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sensorhub version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sensorhub %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
