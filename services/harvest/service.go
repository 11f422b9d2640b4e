// Package harvest orchestrates a scrape run: enumerate the objects of
// each requested gathering category, fetch and extract their map
// sightings, resolve names into addon ids, filter by expansion scope and
// export one addon table file per category.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"valhallanodes/lib/gathermate"
	"valhallanodes/lib/registry"
	"valhallanodes/lib/wowhead"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("valhallanodes.harvest")

// Catalog enumerates the object names belonging to a gathering category.
type Catalog interface {
	ListObjects(ctx context.Context, category string) ([]wowhead.Object, error)
}

// Fetcher retrieves the detail page for one object.
type Fetcher interface {
	ObjectPage(ctx context.Context, obj wowhead.Object) ([]byte, error)
}

// Extractor recovers map sightings from a fetched page. the parsing
// strategy is deliberately swappable, source markup shifts over time.
type Extractor interface {
	Extract(page []byte, object string) ([]wowhead.Sighting, error)
}

type Options struct {
	Registry  *registry.Registry
	Catalog   Catalog
	Fetcher   Fetcher
	Extractor Extractor
	// concurrent object fetches per category, defaults to 4
	Workers int
}

type Pipeline struct {
	registry  *registry.Registry
	catalog   Catalog
	fetcher   Fetcher
	extractor Extractor
	workers   int

	sightingCounter metric.Int64Counter
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("harvest: registry is required")
	}
	if opts.Catalog == nil || opts.Fetcher == nil || opts.Extractor == nil {
		return nil, fmt.Errorf("harvest: catalog, fetcher and extractor are required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	meter := otel.Meter("valhallanodes.harvest")
	sightingCounter, err := meter.Int64Counter(
		"harvest.sightings",
		metric.WithDescription("sightings by terminal state"),
	)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		registry:        opts.Registry,
		catalog:         opts.Catalog,
		fetcher:         opts.Fetcher,
		extractor:       opts.Extractor,
		workers:         workers,
		sightingCounter: sightingCounter,
	}, nil
}

type Request struct {
	Expansion  string
	Categories []string
	OutputDir  string
}

// CategorySummary reports the terminal state counts of one category.
// sightings land in exactly one of Included / ExcludedByScope /
// DroppedUnresolved; objects that never produced sightings show up in
// FetchFailures / ExtractFailures instead.
type CategorySummary struct {
	Category          string
	Included          int
	ExcludedByScope   int
	DroppedUnresolved int
	FetchFailures     int
	ExtractFailures   int
	OutputFile        string
}

type Summary struct {
	Expansion  string
	Categories []CategorySummary
	Files      []string
}

// Run executes a full scrape for one expansion. per-object and
// per-sighting failures are folded into the summary, never returned:
// partial success is the normal case. the returned error covers only
// configuration problems, failed file writes and cancellation.
//
// cancellation is cooperative and checked between objects; whatever was
// already resolved when the context fired is still flushed to disk.
func (p *Pipeline) Run(ctx context.Context, req Request) (Summary, error) {
	ctx, span := tracer.Start(ctx, "Run", trace.WithAttributes(
		attribute.String("expansion", req.Expansion),
	))
	defer span.End()

	scope, ok := p.registry.ExpansionZones(req.Expansion)
	if !ok {
		err := fmt.Errorf("harvest: unknown expansion %q", req.Expansion)
		span.SetStatus(codes.Error, "unknown expansion")
		return Summary{}, err
	}

	slog.InfoContext(
		ctx, "starting run",
		"expansion", req.Expansion,
		"zones_in_scope", scope.Len(),
		"categories", req.Categories,
	)

	summary := Summary{Expansion: req.Expansion}
	writer := gathermate.Writer{Dir: req.OutputDir}
	var errlist []error

	for _, category := range req.Categories {
		catSummary, nodes, listed := p.runCategory(ctx, category, scope)
		if listed {
			path, err := writer.Write(category, nodes)
			if err != nil {
				slog.ErrorContext(ctx, "failed to write category file", "category", category, "err", err)
				errlist = append(errlist, err)
			} else {
				catSummary.OutputFile = path
				summary.Files = append(summary.Files, path)
			}
		}
		summary.Categories = append(summary.Categories, catSummary)

		if ctx.Err() != nil {
			break
		}
	}

	if ctx.Err() != nil {
		slog.WarnContext(ctx, "run cancelled, partial output flushed")
		errlist = append(errlist, ctx.Err())
	}
	return summary, errors.Join(errlist...)
}

// runCategory scrapes one category on a bounded worker pool. the third
// return is false when the category could not even be listed, in which
// case no output file should be produced.
func (p *Pipeline) runCategory(ctx context.Context, category string, scope registry.Scope) (CategorySummary, []gathermate.Node, bool) {
	ctx, span := tracer.Start(ctx, "category", trace.WithAttributes(
		attribute.String("category", category),
	))
	defer span.End()

	sum := CategorySummary{Category: category}

	objects, err := p.catalog.ListObjects(ctx, category)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing failed")
		slog.WarnContext(ctx, "skipping category", "category", category, "err", err)
		return sum, nil, false
	}
	slog.InfoContext(ctx, "category listed", "category", category, "objects", len(objects))

	var (
		mu    sync.Mutex
		nodes []gathermate.Node
		wg    sync.WaitGroup
	)

	jobs := make(chan wowhead.Object)
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for obj := range jobs {
				p.scrapeObject(ctx, obj, scope, &mu, &sum, &nodes)
			}
		}()
	}

	// cancellation is only honored between objects so that in-flight
	// work still lands in the summary
	for _, obj := range objects {
		if ctx.Err() != nil {
			break
		}
		select {
		case jobs <- obj:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	p.recordCounts(ctx, sum)
	return sum, nodes, true
}

func (p *Pipeline) scrapeObject(
	ctx context.Context,
	obj wowhead.Object,
	scope registry.Scope,
	mu *sync.Mutex,
	sum *CategorySummary,
	nodes *[]gathermate.Node,
) {
	page, err := p.fetcher.ObjectPage(ctx, obj)
	if err != nil {
		if errors.Is(err, wowhead.ErrPageMissing) {
			slog.WarnContext(ctx, "object page missing", "object", obj.Name, "id", obj.ID)
		} else {
			slog.WarnContext(ctx, "object fetch failed", "object", obj.Name, "id", obj.ID, "err", err)
		}
		mu.Lock()
		sum.FetchFailures++
		mu.Unlock()
		return
	}

	sightings, err := p.extractor.Extract(page, obj.Name)
	if err != nil {
		slog.WarnContext(ctx, "object extraction failed", "object", obj.Name, "id", obj.ID, "err", err)
		mu.Lock()
		sum.ExtractFailures++
		mu.Unlock()
		return
	}
	if len(sightings) == 0 {
		// quest or vendor entries slip into listings without ever
		// having mapped locations
		slog.DebugContext(ctx, "object has no mapped locations", "object", obj.Name, "id", obj.ID)
		return
	}

	nodeId, ok := p.registry.Node(obj.Name)
	if !ok {
		slog.WarnContext(
			ctx, "unresolved object name, sightings dropped",
			"object", obj.Name,
			"sightings", len(sightings),
			"nearest_known", p.registry.NearestNode(obj.Name),
		)
		mu.Lock()
		sum.DroppedUnresolved += len(sightings)
		mu.Unlock()
		return
	}

	mu.Lock()
	defer mu.Unlock()
	for _, s := range sightings {
		zoneId, ok := p.resolveZone(s)
		if !ok {
			slog.WarnContext(
				ctx, "unresolved zone name, sighting dropped",
				"object", obj.Name,
				"zone", s.ZoneName,
				"nearest_known", p.registry.NearestZone(s.ZoneName),
			)
			sum.DroppedUnresolved++
			continue
		}
		if !scope.Contains(zoneId) {
			sum.ExcludedByScope++
			continue
		}
		sum.Included++
		*nodes = append(*nodes, gathermate.Node{
			NodeID: nodeId,
			ZoneID: zoneId,
			X:      s.X,
			Y:      s.Y,
		})
	}
}

// resolveZone prefers the zone display name through the user-editable
// lookup table; a payload entry with no name falls back to its numeric
// zone key, which shares the addon's map id space.
func (p *Pipeline) resolveZone(s wowhead.Sighting) (int64, bool) {
	if s.ZoneName != "" {
		return p.registry.Zone(s.ZoneName)
	}
	if s.ZoneKey > 0 {
		return s.ZoneKey, true
	}
	return 0, false
}

func (p *Pipeline) recordCounts(ctx context.Context, sum CategorySummary) {
	states := []struct {
		name  string
		count int
	}{
		{"included", sum.Included},
		{"excluded_by_scope", sum.ExcludedByScope},
		{"dropped_unresolved", sum.DroppedUnresolved},
		{"fetch_failures", sum.FetchFailures},
		{"extract_failures", sum.ExtractFailures},
	}
	for _, state := range states {
		p.sightingCounter.Add(ctx, int64(state.count), metric.WithAttributes(
			attribute.String("category", sum.Category),
			attribute.String("state", state.name),
		))
	}
}
