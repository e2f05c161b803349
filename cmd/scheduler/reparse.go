package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/example/facility-scheduler/internal/application"
)

func (c *cli) newReparseCommand() *cobra.Command {
	var opts application.ReparseOptions
	cmd := &cobra.Command{
		Use:   "reparse",
		Short: "Re-parse work item frequencies and refresh cached intervals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := c.open(ctx, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			report, err := rt.service.ReparseFrequencies(ctx, opts)
			if err != nil {
				return err
			}
			renderReparse(cmd.OutOrStdout(), report, opts.DryRun)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.SiteID, "site", "", "limit to one site")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report drift without writing")
	return cmd
}

func renderReparse(w io.Writer, report application.ReparseReport, dryRun bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Work Item", "Title", "Frequency", "Interval", "Rule", "Class", "Cached", "Result"})
	for _, e := range report.Entries {
		cached := "-"
		if e.CachedDays != nil {
			cached = strconv.FormatFloat(*e.CachedDays, 'f', -1, 64)
		}
		result := "ok"
		switch {
		case e.Unparsed:
			result = "unparsed"
		case e.Refreshed && dryRun:
			result = "stale"
		case e.Refreshed:
			result = "refreshed"
		}
		interval := e.Interval
		if e.OnDemand {
			interval = "on demand"
		}
		t.AppendRow(table.Row{e.WorkItemID, e.Title, e.FrequencySpec, interval, e.Rule, string(e.Class), cached, result})
	}
	label := "Refreshed"
	if dryRun {
		label = "Stale"
	}
	t.AppendFooter(table.Row{"Items", len(report.Entries), "", "", "", label, report.Refreshed, fmt.Sprintf("unparsed %d", report.Unparsed)})
	t.Render()
}
