// Package main provides the entry point for the report-viewer service and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "report-viewer",
		Short: "Diagnostic report viewer and remediation tracker",
		Long: `report-viewer parses SEO diagnostic reports, interprets detected drops
and tracks remediation runs per anomaly.

Commands:
  serve     Run the gRPC, REST and metrics servers
  parse     Parse a report file and print its tables`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newParseCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
