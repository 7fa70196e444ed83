package cli

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/perfgo/testrunner/variants"
	"github.com/urfave/cli/v2"
)

func (a *App) variants(ctx *cli.Context) error {
	t := table.NewWriter()
	t.SetOutputMirror(ctx.App.Writer)
	t.SetTitle("Variants")
	t.AppendHeader(table.Row{"Variant", "Flag sets", "Fast flag sets"})

	for _, name := range variants.All.Sorted() {
		t.AppendRow(table.Row{name, flagSets(variants.AllFlags[name]), flagSets(variants.FastFlags[name])})
	}

	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}

func flagSets(sets [][]string) string {
	lines := make([]string, 0, len(sets))
	for _, flags := range sets {
		if len(flags) == 0 {
			lines = append(lines, "(none)")
			continue
		}
		lines = append(lines, strings.Join(flags, " "))
	}
	return strings.Join(lines, "\n")
}
