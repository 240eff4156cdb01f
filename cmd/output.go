package cmd

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/ddbot/internal/config"
	"github.com/JakeFAU/ddbot/internal/history"
	"github.com/JakeFAU/ddbot/internal/notifier"
	"github.com/JakeFAU/ddbot/internal/scheduler"
)

var validSlug = config.ValidSlug

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(header)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderCycle(w io.Writer, report scheduler.CycleReport) {
	outcomes := make(map[string]string, len(report.Alerts))
	for _, a := range report.Alerts {
		outcomes[a.Service] = a.Outcome
	}

	t := newTable(w, table.Row{"Service", "Reports", "Status", "Tier", "Alert", "Error"})
	for _, r := range report.Results {
		alert := outcomes[r.Service]
		if alert == "" {
			alert = "-"
		}
		t.AppendRow(table.Row{
			strings.ToUpper(r.Service),
			r.ReportCount,
			string(r.Status),
			string(r.Tier),
			alert,
			r.Error,
		})
	}
	t.Render()
}

func renderHistory(w io.Writer, records []history.Record) {
	t := newTable(w, table.Row{"Time", "Service", "Reports", "Recipients"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.Timestamp,
			strings.ToUpper(r.Service),
			r.ReportCount,
			strings.Join(r.Recipients, ", "),
		})
	}
	t.Render()
}

func renderTestResults(w io.Writer, results []notifier.TestResult) {
	t := newTable(w, table.Row{"Channel", "Targets", "Delivered"})
	for _, r := range results {
		t.AppendRow(table.Row{r.Channel, r.Targets, strings.Join(r.Delivered, ", ")})
	}
	t.Render()
}
