package cli

// This file contains the list command for displaying previous test runs.

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/perfgo/testrunner/history"
	"github.com/urfave/cli/v2"
)

func (a *App) list(ctx *cli.Context) error {
	limit := ctx.Int("limit")
	w := ctx.App.Writer

	entries, err := history.LoadEntries(a.logger, history.Root(ctx.String("outdir")))
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history entries found")
		return nil
	}

	// Entries are sorted newest first
	displayRuns := entries
	if limit > 0 && limit < len(displayRuns) {
		displayRuns = displayRuns[:limit]
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("History (%d total)", len(entries)))
	t.AppendHeader(table.Row{"", "ID", "Time", "Duration", "Exit", "Tests", "Failed", "Variants", "Commit"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
	})

	for _, entry := range displayRuns {
		tr := entry.History

		status := "✓"
		if tr.ExitCode != 0 {
			status = "✗"
		}

		tests, failed, vars := "", "", ""
		if s := tr.Summary; s != nil {
			tests = fmt.Sprint(s.Total)
			failed = fmt.Sprint(len(s.Failed))
			vars = strings.Join(s.Variants, ",")
		}

		commit := ""
		if tr.Git != nil {
			commit = shorten(tr.Git.Commit)
			if tr.Git.Branch != "" {
				commit += " (" + tr.Git.Branch + ")"
			}
		}

		t.AppendRow(table.Row{
			status,
			shorten(tr.ID),
			tr.Timestamp.Format("2006-01-02 15:04:05"),
			tr.Duration.Round(time.Millisecond),
			tr.ExitCode,
			tests,
			failed,
			vars,
			commit,
		})
	}

	t.SetStyle(table.StyleLight)
	t.Render()

	fmt.Fprintf(w, "\nHistory is stored in %s\n", history.Root(ctx.String("outdir")))
	return nil
}

// shorten returns the first 8 characters of an ID or commit hash.
func shorten(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
