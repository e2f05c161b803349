package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	yaml "go.yaml.in/yaml/v3"

	"github.com/example/facility-scheduler/internal/application"
	"github.com/example/facility-scheduler/internal/config"
	"github.com/example/facility-scheduler/internal/persistence"
	"github.com/example/facility-scheduler/internal/scheduler"
)

// seedFile declares sites, work items and historical executions.
type seedFile struct {
	Sites     []seedSite      `yaml:"sites"`
	WorkItems []seedWorkItem  `yaml:"work_items"`
	History   []seedExecution `yaml:"history"`
}

type seedSite struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Timezone       string   `yaml:"timezone"`
	WorkingDays    []string `yaml:"working_days"`
	RequirePhoto   bool     `yaml:"require_photo"`
	RequireComment bool     `yaml:"require_comment"`
}

type seedWorkItem struct {
	ID            string `yaml:"id"`
	SiteID        string `yaml:"site_id"`
	ChecklistID   string `yaml:"checklist_id"`
	AssigneeID    string `yaml:"assignee_id"`
	Title         string `yaml:"title"`
	WorkType      string `yaml:"work_type"`
	Frequency     string `yaml:"frequency"`
	PreferredTime string `yaml:"preferred_time"`
	MaxDelay      string `yaml:"max_delay"`
	Active        *bool  `yaml:"active"`
	AutoGenerate  *bool  `yaml:"auto_generate"`
	CreatedAt     string `yaml:"created_at"`
}

type seedExecution struct {
	WorkItemID    string   `yaml:"work_item_id"`
	ScheduledDate string   `yaml:"scheduled_date"`
	ExecutedAt    string   `yaml:"executed_at"`
	ExecutedBy    string   `yaml:"executed_by"`
	Status        string   `yaml:"status"`
	Comment       string   `yaml:"comment"`
	Photos        []string `yaml:"photos"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func (c *cli) newSeedCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load sites, work items and execution history from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			seed, err := parseSeed(data)
			if err != nil {
				return fmt.Errorf("seed file %s: %w", path, err)
			}

			ctx := cmd.Context()
			rt, err := c.open(ctx, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			summary, err := applySeed(ctx, rt, seed, time.Now().UTC())
			if err != nil {
				return err
			}
			renderSeed(cmd.OutOrStdout(), seed, summary)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "seed.yaml", "seed file")
	return cmd
}

func parseSeed(data []byte) (seedFile, error) {
	var seed seedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return seedFile{}, fmt.Errorf("yaml unmarshal: %w", err)
	}
	return seed, nil
}

func (s seedSite) toSite(now time.Time) (persistence.Site, error) {
	if strings.TrimSpace(s.ID) == "" {
		return persistence.Site{}, errors.New("site id is required")
	}
	days, err := parseWeekdays(s.WorkingDays)
	if err != nil {
		return persistence.Site{}, fmt.Errorf("site %s: %w", s.ID, err)
	}
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	return persistence.Site{
		ID:             s.ID,
		Name:           s.Name,
		Timezone:       tz,
		WorkingDays:    days,
		RequirePhoto:   s.RequirePhoto,
		RequireComment: s.RequireComment,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (w seedWorkItem) toWorkItem(now time.Time) (persistence.RecurringWorkItem, error) {
	if strings.TrimSpace(w.ID) == "" || strings.TrimSpace(w.SiteID) == "" {
		return persistence.RecurringWorkItem{}, errors.New("work item id and site_id are required")
	}
	maxDelay, err := config.ParseDurationOrDefault("work_items."+w.ID+".max_delay", w.MaxDelay, 0)
	if err != nil {
		return persistence.RecurringWorkItem{}, err
	}
	createdAt := now
	if raw := strings.TrimSpace(w.CreatedAt); raw != "" {
		createdAt, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return persistence.RecurringWorkItem{}, fmt.Errorf("work item %s: created_at: %w", w.ID, err)
		}
	}
	return persistence.RecurringWorkItem{
		ID:            w.ID,
		SiteID:        w.SiteID,
		ChecklistID:   optional(w.ChecklistID),
		AssigneeID:    optional(w.AssigneeID),
		Title:         w.Title,
		WorkType:      w.WorkType,
		FrequencySpec: w.Frequency,
		PreferredTime: w.PreferredTime,
		MaxDelay:      maxDelay,
		IsActive:      w.Active == nil || *w.Active,
		AutoGenerate:  w.AutoGenerate == nil || *w.AutoGenerate,
		CreatedAt:     createdAt.UTC(),
		UpdatedAt:     now,
	}, nil
}

func (e seedExecution) record() (application.ImportRecord, error) {
	var executedAt time.Time
	if raw := strings.TrimSpace(e.ExecutedAt); raw != "" {
		var err error
		executedAt, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return application.ImportRecord{}, fmt.Errorf("history %s: executed_at: %w", e.WorkItemID, err)
		}
	}
	return application.ImportRecord{
		WorkItemID:    e.WorkItemID,
		ScheduledDate: e.ScheduledDate,
		ExecutedAt:    executedAt,
		ExecutedBy:    e.ExecutedBy,
		Status:        scheduler.Status(strings.TrimSpace(e.Status)),
		Comment:       e.Comment,
		Photos:        e.Photos,
	}, nil
}

// applySeed upserts sites and work items, then imports the history through
// the scheduler so duplicates are skipped.
func applySeed(ctx context.Context, rt *runtime, seed seedFile, now time.Time) (application.ImportSummary, error) {
	for _, s := range seed.Sites {
		site, err := s.toSite(now)
		if err != nil {
			return application.ImportSummary{}, err
		}
		if err := rt.store.sites.UpsertSite(ctx, site); err != nil {
			return application.ImportSummary{}, fmt.Errorf("upsert site %s: %w", site.ID, err)
		}
	}
	for _, w := range seed.WorkItems {
		item, err := w.toWorkItem(now)
		if err != nil {
			return application.ImportSummary{}, err
		}
		if err := rt.store.workItems.UpsertWorkItem(ctx, item); err != nil {
			return application.ImportSummary{}, fmt.Errorf("upsert work item %s: %w", item.ID, err)
		}
	}
	records := make([]application.ImportRecord, 0, len(seed.History))
	for _, e := range seed.History {
		record, err := e.record()
		if err != nil {
			return application.ImportSummary{}, err
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return application.ImportSummary{}, nil
	}
	return rt.service.ImportHistory(ctx, records)
}

func renderSeed(w io.Writer, seed seedFile, summary application.ImportSummary) {
	fmt.Fprintf(w, "sites %d, work items %d, history imported %d, skipped %d, rejected %d\n",
		len(seed.Sites), len(seed.WorkItems), summary.Imported, summary.Skipped, len(summary.Rejected))
	if len(summary.Rejected) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Work Item", "Reason"})
	for _, r := range summary.Rejected {
		workItem := ""
		if r.Index >= 0 && r.Index < len(seed.History) {
			workItem = seed.History[r.Index].WorkItemID
		}
		t.AppendRow(table.Row{r.Index, workItem, r.Reason})
	}
	t.Render()
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		days = append(days, day)
	}
	return days, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
