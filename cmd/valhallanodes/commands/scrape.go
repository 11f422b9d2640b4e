package commands

import (
	"log/slog"
	"time"

	"valhallanodes/lib/registry"
	"valhallanodes/lib/restyutil"
	"valhallanodes/lib/serviceutil"
	"valhallanodes/lib/telemetry"
	"valhallanodes/lib/wowhead"
	"valhallanodes/services/harvest"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	scrapeExpansion  *string
	scrapeCategories *[]string
	scrapeOut        *string
	scrapeLookups    *string
	scrapeWorkers    *int
	scrapeDumpHttp   *bool
)

func init() {
	scrapeExpansion = scrapeCmd.Flags().String("expansion", "", "Expansion whose zones are in scope (required).")
	scrapeCategories = scrapeCmd.Flags().StringSlice("categories", []string{"herbalism", "mining"}, "Gathering categories to scrape.")
	scrapeOut = scrapeCmd.Flags().String("out", "out", "Directory to write the addon data files to.")
	scrapeLookups = scrapeCmd.Flags().String("lookups", "lookups", "Directory holding the id lookup tables.")
	scrapeWorkers = scrapeCmd.Flags().Int("workers", 4, "Concurrent page fetches.")
	scrapeDumpHttp = scrapeCmd.Flags().Bool("dump-http", false, "Dump raw HTTP exchanges to .dev/resty for debugging.")
	scrapeCmd.MarkFlagRequired("expansion")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape --expansion <name> [--categories herbalism,mining] [--out <dir>]",
	Short: "Scrapes node locations for an expansion and exports one data file per category.",
	Run: func(cmd *cobra.Command, args []string) {
		if *verbose {
			telemetry.InitSlog(true)
		}

		reg, err := registry.Load(*scrapeLookups)
		if err != nil {
			serviceutil.Fatal("failed to load lookup tables", err)
		}

		clientOpts := wowhead.ClientOptions{}
		if *scrapeDumpHttp {
			clientOpts.InstrumentOutput = restyutil.NewFilesystemOutput(".dev/resty")
		}
		client, err := wowhead.NewClient(clientOpts)
		if err != nil {
			serviceutil.Fatal("failed to initialize client", err)
		}

		pipeline, err := harvest.NewPipeline(harvest.Options{
			Registry:  reg,
			Catalog:   wowhead.NewCatalog(client),
			Fetcher:   client,
			Extractor: wowhead.MapExtractor{},
			Workers:   *scrapeWorkers,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize pipeline", err)
		}

		t1 := time.Now()
		summary, err := pipeline.Run(cmd.Context(), harvest.Request{
			Expansion:  *scrapeExpansion,
			Categories: *scrapeCategories,
			OutputDir:  *scrapeOut,
		})
		if err != nil {
			slog.Error("run finished with errors", "err", err)
		}
		slog.Info("scraping time", "seconds", time.Since(t1).Seconds())

		renderSummary(summary)
	},
}

func renderSummary(summary harvest.Summary) {
	t := newTable()
	t.AppendHeader(table.Row{
		"Category", "Included", "Out of scope", "Unresolved", "Fetch failures", "Extract failures", "File",
	})

	var included, excluded, dropped, fetchFails, extractFails int
	for _, cat := range summary.Categories {
		t.AppendRow(table.Row{
			cat.Category,
			cat.Included,
			cat.ExcludedByScope,
			cat.DroppedUnresolved,
			cat.FetchFailures,
			cat.ExtractFailures,
			cat.OutputFile,
		})
		included += cat.Included
		excluded += cat.ExcludedByScope
		dropped += cat.DroppedUnresolved
		fetchFails += cat.FetchFailures
		extractFails += cat.ExtractFailures
	}
	t.AppendFooter(table.Row{
		"Total", included, excluded, dropped, fetchFails, extractFails, "",
	})
	t.Render()
}
