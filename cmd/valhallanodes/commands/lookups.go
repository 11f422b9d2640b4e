package commands

import (
	"os"
	"sort"

	"valhallanodes/lib/registry"
	"valhallanodes/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var lookupsDir *string

func init() {
	lookupsDir = lookupsCmd.Flags().String("lookups", "lookups", "Directory holding the id lookup tables.")
	rootCmd.AddCommand(lookupsCmd)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

var lookupsCmd = &cobra.Command{
	Use:   "lookups [--lookups <dir>]",
	Short: "Validates the lookup tables and summarizes what they cover.",
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := registry.Load(*lookupsDir)
		if err != nil {
			serviceutil.Fatal("failed to load lookup tables", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Expansion", "Zones in scope"})
		expansions := reg.Expansions()
		sort.Strings(expansions)
		for _, name := range expansions {
			scope, _ := reg.ExpansionZones(name)
			t.AppendRow(table.Row{name, scope.Len()})
		}
		t.AppendFooter(table.Row{"Known zones / nodes", reg.ZoneCount() + reg.NodeCount()})
		t.Render()
	},
}
