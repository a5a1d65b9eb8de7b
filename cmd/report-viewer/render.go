package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/miradorstack/report-viewer/internal/engine"
	"github.com/miradorstack/report-viewer/internal/models"
	"github.com/miradorstack/report-viewer/internal/parser"
)

func renderReport(w io.Writer, report models.DiagnosticReport, interp *engine.Interpreter, stats parser.ParseStats) {
	fmt.Fprintf(w, "Domain: %s\nPeriod: %s\nDeclared drops: %d\n\n", orDash(report.Domain), orDash(report.Period), report.TotalDropsDeclared)

	health := newTable(w)
	health.AppendHeader(table.Row{"Check", "Status"})
	for _, check := range report.HealthChecks {
		health.AppendRow(table.Row{check.Name, check.Status})
	}
	health.Render()
	fmt.Fprintln(w)

	drops := newTable(w)
	drops.AppendHeader(table.Row{"ID", "Severity", "Drop %", "Value", "7d Avg", "Z", "Primary action"})
	for _, view := range interp.Views(report) {
		drops.AppendRow(table.Row{
			view.ID,
			view.Severity,
			fmt.Sprintf("%.1f", view.DropPercent),
			fmt.Sprintf("%.0f", view.CurrentValue),
			fmt.Sprintf("%.0f", view.Avg7d),
			fmt.Sprintf("%.2f", view.ZScore),
			view.PrimaryAction,
		})
	}
	drops.AppendFooter(table.Row{"", "", "", "", "", "anomalies", len(report.Anomalies)})
	drops.Render()
	fmt.Fprintln(w)

	causes := newTable(w)
	causes.AppendHeader(table.Row{"Root cause", "Confidence"})
	for _, cause := range report.RootCauses {
		causes.AppendRow(table.Row{cause.Title, cause.Confidence})
	}
	causes.Render()

	if stats.SkippedRows > 0 {
		fmt.Fprintf(w, "\n%d malformed rows skipped\n", stats.SkippedRows)
	}
}

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	return tbl
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
