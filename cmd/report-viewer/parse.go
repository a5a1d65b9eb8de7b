package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/report-viewer/internal/config"
	"github.com/miradorstack/report-viewer/internal/engine"
	"github.com/miradorstack/report-viewer/internal/parser"
	"github.com/miradorstack/report-viewer/internal/utils"
)

func newParseCommand() *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "parse <report-file>",
		Short: "Parse a report file and print its tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read report: %w", err)
			}

			path := rulesPath
			if path == "" && configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				path = cfg.Rules.Path
			}
			level := logLevel
			if level == "" {
				level = "warn"
			}
			interp, err := engine.NewInterpreter(path, utils.NewLoggerTo(cmd.ErrOrStderr(), level, false))
			if err != nil {
				return err
			}

			report, stats := parser.ParseWithStats(string(raw))
			renderReport(cmd.OutOrStdout(), report, interp, stats)
			return nil
		},
	}

	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "interpretation rule pack (YAML)")

	return cmd
}
