package harvest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"valhallanodes/lib/registry"
	"valhallanodes/lib/telemetry"
	"valhallanodes/lib/wowhead"

	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	objects map[string][]wowhead.Object
}

func (c fakeCatalog) ListObjects(_ context.Context, category string) ([]wowhead.Object, error) {
	objects, ok := c.objects[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", wowhead.ErrUnknownCategory, category)
	}
	return objects, nil
}

type fakeFetcher struct {
	failing map[int64]error
	calls   atomic.Int32
	// invoked after every fetch, used to trigger cancellation mid-run
	afterFetch func()
}

func (f *fakeFetcher) ObjectPage(ctx context.Context, obj wowhead.Object) ([]byte, error) {
	f.calls.Add(1)
	defer func() {
		if f.afterFetch != nil {
			f.afterFetch()
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.failing[obj.ID]; ok {
		return nil, err
	}
	return []byte(obj.Name), nil
}

// canned sightings per object name, keyed off the page body the fake
// fetcher produced
type fakeExtractor struct {
	sightings map[string][]wowhead.Sighting
	err       error
}

func (e fakeExtractor) Extract(page []byte, object string) ([]wowhead.Sighting, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.sightings[string(page)], nil
}

func testRegistry(t *testing.T) *registry.Registry {
	reg, err := registry.Load("testdata/lookups")
	require.NoError(t, err)
	return reg
}

func TestRunEndToEnd(t *testing.T) {
	defer telemetry.SetupForTesting("test:harvest")()

	outDir := t.TempDir()
	pipeline, err := NewPipeline(Options{
		Registry: testRegistry(t),
		Catalog: fakeCatalog{objects: map[string][]wowhead.Object{
			"Herbalism": {{ID: 1618, Name: "Peacebloom"}},
		}},
		Fetcher: &fakeFetcher{},
		Extractor: fakeExtractor{sightings: map[string][]wowhead.Sighting{
			"Peacebloom": {
				{Object: "Peacebloom", ZoneKey: 1411, ZoneName: "Durotar", X: 12.5, Y: 80.0},
			},
		}},
	})
	require.NoError(t, err)

	summary, err := pipeline.Run(context.Background(), Request{
		Expansion:  "Classic",
		Categories: []string{"Herbalism"},
		OutputDir:  outDir,
	})
	require.NoError(t, err)

	require.Len(t, summary.Categories, 1)
	cat := summary.Categories[0]
	require.Equal(t, 1, cat.Included)
	require.Zero(t, cat.ExcludedByScope)
	require.Zero(t, cat.DroppedUnresolved)
	require.Zero(t, cat.FetchFailures)
	require.Zero(t, cat.ExtractFailures)

	require.Len(t, summary.Files, 1)
	require.Equal(t, filepath.Join(outDir, "valhallanodes_herbalism.lua"), summary.Files[0])

	content, err := os.ReadFile(summary.Files[0])
	require.NoError(t, err)
	want := `ValhallaNodesData.Herbalism = {
	[1411] = {
		[201] = { 12.50, 80.00 },
	},
}
`
	require.Equal(t, want, string(content))
}

func TestRunScopeFiltering(t *testing.T) {
	defer telemetry.SetupForTesting("test:harvest")()

	outDir := t.TempDir()
	pipeline, err := NewPipeline(Options{
		Registry: testRegistry(t),
		Catalog: fakeCatalog{objects: map[string][]wowhead.Object{
			"Herbalism": {{ID: 1618, Name: "Peacebloom"}},
		}},
		Fetcher: &fakeFetcher{},
		Extractor: fakeExtractor{sightings: map[string][]wowhead.Sighting{
			"Peacebloom": {
				{Object: "Peacebloom", ZoneKey: 1411, ZoneName: "Durotar", X: 12.5, Y: 80.0},
				// resolvable, but belongs to Dragonflight
				{Object: "Peacebloom", ZoneKey: 2022, ZoneName: "The Waking Shores", X: 30.0, Y: 40.0},
			},
		}},
	})
	require.NoError(t, err)

	summary, err := pipeline.Run(context.Background(), Request{
		Expansion:  "Classic",
		Categories: []string{"Herbalism"},
		OutputDir:  outDir,
	})
	require.NoError(t, err)

	cat := summary.Categories[0]
	require.Equal(t, 1, cat.Included)
	require.Equal(t, 1, cat.ExcludedByScope)

	content, err := os.ReadFile(summary.Files[0])
	require.NoError(t, err)
	require.Contains(t, string(content), "[1411]")
	require.NotContains(t, string(content), "[2022]")
}

func TestRunUnresolvedDropped(t *testing.T) {
	defer telemetry.SetupForTesting("test:harvest")()

	pipeline, err := NewPipeline(Options{
		Registry: testRegistry(t),
		Catalog: fakeCatalog{objects: map[string][]wowhead.Object{
			"Herbalism": {
				{ID: 1618, Name: "Peacebloom"},
				{ID: 9999, Name: "Fel Lotus"}, // not in node_ids
			},
		}},
		Fetcher: &fakeFetcher{},
		Extractor: fakeExtractor{sightings: map[string][]wowhead.Sighting{
			"Peacebloom": {
				{Object: "Peacebloom", ZoneKey: 1411, ZoneName: "Durotar", X: 12.5, Y: 80.0},
				// zone missing from map_ids
				{Object: "Peacebloom", ZoneName: "Shadowmoon Valley", X: 1.0, Y: 2.0},
			},
			"Fel Lotus": {
				{Object: "Fel Lotus", ZoneKey: 1411, ZoneName: "Durotar", X: 3.0, Y: 4.0},
			},
		}},
		Workers: 1,
	})
	require.NoError(t, err)

	summary, err := pipeline.Run(context.Background(), Request{
		Expansion:  "Classic",
		Categories: []string{"Herbalism"},
		OutputDir:  t.TempDir(),
	})
	require.NoError(t, err)

	cat := summary.Categories[0]
	// one sighting survives, one dropped on zone, one dropped on object
	require.Equal(t, 1, cat.Included)
	require.Equal(t, 2, cat.DroppedUnresolved)
}

func TestRunFetchAndExtractFailures(t *testing.T) {
	defer telemetry.SetupForTesting("test:harvest")()

	outDir := t.TempDir()
	pipeline, err := NewPipeline(Options{
		Registry: testRegistry(t),
		Catalog: fakeCatalog{objects: map[string][]wowhead.Object{
			"Herbalism": {{ID: 404404, Name: "Ghost Mushroom"}},
			"Mining":    {{ID: 1731, Name: "Copper Vein"}},
		}},
		Fetcher: &fakeFetcher{failing: map[int64]error{
			404404: fmt.Errorf("%w: /object=404404", wowhead.ErrPageMissing),
		}},
		Extractor: fakeExtractor{err: fmt.Errorf("decode mapper payload: boom")},
	})
	require.NoError(t, err)

	summary, err := pipeline.Run(context.Background(), Request{
		Expansion:  "Classic",
		Categories: []string{"Herbalism", "Mining"},
		OutputDir:  outDir,
	})
	// the run itself still succeeds, failures are data
	require.NoError(t, err)

	require.Equal(t, 1, summary.Categories[0].FetchFailures)
	require.Equal(t, 1, summary.Categories[1].ExtractFailures)

	// empty output files are still produced for attempted categories
	require.Len(t, summary.Files, 2)
	for _, path := range summary.Files {
		_, err := os.Stat(path)
		require.NoError(t, err)
	}
}

func TestRunUnknownExpansion(t *testing.T) {
	defer telemetry.SetupForTesting("test:harvest")()

	pipeline, err := NewPipeline(Options{
		Registry:  testRegistry(t),
		Catalog:   fakeCatalog{},
		Fetcher:   &fakeFetcher{},
		Extractor: fakeExtractor{},
	})
	require.NoError(t, err)

	_, err = pipeline.Run(context.Background(), Request{
		Expansion:  "Mists of Pandaria",
		Categories: []string{"Herbalism"},
		OutputDir:  t.TempDir(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown expansion")
}

func TestRunUnknownCategorySkipped(t *testing.T) {
	defer telemetry.SetupForTesting("test:harvest")()

	fetcher := &fakeFetcher{}
	pipeline, err := NewPipeline(Options{
		Registry:  testRegistry(t),
		Catalog:   fakeCatalog{objects: map[string][]wowhead.Object{}},
		Fetcher:   fetcher,
		Extractor: fakeExtractor{},
	})
	require.NoError(t, err)

	summary, err := pipeline.Run(context.Background(), Request{
		Expansion:  "Classic",
		Categories: []string{"Archaeology"},
		OutputDir:  t.TempDir(),
	})
	require.NoError(t, err)

	require.Len(t, summary.Categories, 1)
	require.Zero(t, summary.Categories[0].Included)
	require.Empty(t, summary.Categories[0].OutputFile)
	require.Empty(t, summary.Files)
	require.Zero(t, fetcher.calls.Load())
}

func TestRunCancellationFlushes(t *testing.T) {
	defer telemetry.SetupForTesting("test:harvest")()

	ctx, cancel := context.WithCancel(context.Background())

	outDir := t.TempDir()
	fetcher := &fakeFetcher{}
	// cancel as soon as the first page came back, the rest of the
	// queue is abandoned but the first result must still be flushed
	fetcher.afterFetch = func() { cancel() }

	pipeline, err := NewPipeline(Options{
		Registry: testRegistry(t),
		Catalog: fakeCatalog{objects: map[string][]wowhead.Object{
			"Herbalism": {
				{ID: 1, Name: "Peacebloom"},
				{ID: 2, Name: "Silverleaf"},
				{ID: 3, Name: "Earthroot"},
			},
		}},
		Fetcher: fetcher,
		Extractor: fakeExtractor{sightings: map[string][]wowhead.Sighting{
			"Peacebloom": {
				{Object: "Peacebloom", ZoneKey: 1411, ZoneName: "Durotar", X: 12.5, Y: 80.0},
			},
			"Silverleaf": {
				{Object: "Silverleaf", ZoneKey: 1411, ZoneName: "Durotar", X: 20.0, Y: 21.0},
			},
			"Earthroot": {
				{Object: "Earthroot", ZoneKey: 1411, ZoneName: "Durotar", X: 30.0, Y: 31.0},
			},
		}},
		Workers: 1,
	})
	require.NoError(t, err)

	summary, err := pipeline.Run(ctx, Request{
		Expansion:  "Classic",
		Categories: []string{"Herbalism"},
		OutputDir:  outDir,
	})
	require.ErrorIs(t, err, context.Canceled)

	cat := summary.Categories[0]
	require.GreaterOrEqual(t, cat.Included, 1)
	require.Less(t, cat.Included, 3)

	content, err := os.ReadFile(filepath.Join(outDir, "valhallanodes_herbalism.lua"))
	require.NoError(t, err)
	require.Contains(t, string(content), "[201]")
}
