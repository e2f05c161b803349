package main

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func (c *cli) newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQLite migrations and list the applied ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := c.open(ctx, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if rt.store.sqlite == nil {
				return errors.New("migrate requires the sqlite storage driver")
			}
			status, err := rt.store.sqlite.MigrationStatus(ctx, rt.logger)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Version", "Applied At", "Duration", "Checksum"})
			for _, applied := range status.AppliedMigrations {
				checksum := applied.Checksum
				if len(checksum) > 12 {
					checksum = checksum[:12]
				}
				t.AppendRow(table.Row{applied.Version, applied.AppliedAt.UTC().Format("2006-01-02 15:04:05"), applied.ExecutionTime, checksum})
			}
			t.AppendFooter(table.Row{"Current", status.CurrentVersion, "Pending", status.PendingCount})
			t.Render()
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}
