package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/example/facility-scheduler/internal/application"
	"github.com/example/facility-scheduler/internal/scheduler"
)

type calendarFlags struct {
	siteID     string
	assigneeID string
	from       string
	to         string
	statuses   []string
}

func (c *cli) newCalendarCommand() *cobra.Command {
	var flags calendarFlags
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Print the projected task calendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query, err := flags.query()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := c.open(ctx, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			view, err := rt.service.ProjectCalendar(ctx, query)
			if err != nil {
				return err
			}
			renderCalendar(cmd.OutOrStdout(), view)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.siteID, "site", "", "site id")
	cmd.Flags().StringVar(&flags.assigneeID, "assignee", "", "assignee id")
	cmd.Flags().StringVar(&flags.from, "from", "", "window start (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&flags.to, "to", "", "window end, inclusive (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringSliceVar(&flags.statuses, "status", nil, "keep only these statuses")
	return cmd
}

func (f calendarFlags) query() (application.CalendarQuery, error) {
	query := application.CalendarQuery{SiteID: f.siteID, AssigneeID: f.assigneeID}
	var err error
	if query.From, err = parseBound(f.from, false); err != nil {
		return query, fmt.Errorf("--from: %w", err)
	}
	if query.To, err = parseBound(f.to, true); err != nil {
		return query, fmt.Errorf("--to: %w", err)
	}
	for _, raw := range f.statuses {
		status, err := scheduler.ParseStatus(raw)
		if err != nil {
			return query, fmt.Errorf("--status: %w", err)
		}
		query.Statuses = append(query.Statuses, status)
	}
	return query, nil
}

// parseBound accepts RFC3339 timestamps or civil dates in UTC. A date used as
// an end bound covers the whole day.
func parseBound(raw string, end bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", raw)
	}
	if end {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return t, nil
}

func renderCalendar(w io.Writer, view application.CalendarView) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Calendar %s to %s", view.From.UTC().Format(time.DateOnly), view.To.UTC().Format(time.DateOnly))
	t.AppendHeader(table.Row{"Bucket", "Date", "Time", "Site", "Title", "Status", "Kind"})

	buckets := []struct {
		name string
		occs []application.Occurrence
	}{
		{"overdue", view.Overdue},
		{"today", view.Today},
		{"upcoming", view.Upcoming},
		{"completed", view.Completed},
	}
	for _, b := range buckets {
		for _, occ := range b.occs {
			kind := "durable"
			if occ.Virtual {
				kind = "virtual"
			}
			title := occ.Title
			if occ.UnparsedFrequency {
				title += " (!)"
			}
			t.AppendRow(table.Row{
				b.name,
				occ.ScheduledDate,
				occ.ScheduledFor.Format("15:04 MST"),
				occ.SiteID,
				title,
				string(occ.Status),
				kind,
			})
		}
		if len(b.occs) > 0 {
			t.AppendSeparator()
		}
	}
	t.AppendFooter(table.Row{"Total", view.Total(), "", "", fmt.Sprintf("weekly %d / monthly %d", len(view.Weekly), len(view.Monthly)), "", ""})
	t.Render()
}
