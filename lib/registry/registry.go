// Package registry loads the user-editable lookup tables that translate
// display names scraped off the source site into the addon's numeric id
// space: zone name -> map id, object name -> node type id, and expansion
// name -> the set of map ids it covers.
package registry

import (
	"fmt"
	"path/filepath"
	"strings"

	"valhallanodes/lib/configutil"

	"github.com/antzucaro/matchr"
)

const (
	mapIdsFile     = "map_ids.json5"
	nodeIdsFile    = "node_ids.json5"
	expansionsFile = "expansions.json5"
)

// Scope is the set of map ids belonging to one expansion.
type Scope map[int64]struct{}

func (s Scope) Contains(mapId int64) bool {
	_, ok := s[mapId]
	return ok
}

func (s Scope) Len() int {
	return len(s)
}

// Registry is constructed once per run and read-only afterwards, so it is
// safe to share between concurrent fetch workers.
type Registry struct {
	zones      map[string]int64
	nodes      map[string]int64
	expansions map[string]Scope
}

// Load reads the three lookup tables from dir. each table supports a
// `.local.json5` override next to it so users can patch ids without
// touching the shipped files.
func Load(dir string) (*Registry, error) {
	zones, err := configutil.ReadConfig[map[string]int64](filepath.Join(dir, mapIdsFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", mapIdsFile, err)
	}
	nodes, err := configutil.ReadConfig[map[string]int64](filepath.Join(dir, nodeIdsFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", nodeIdsFile, err)
	}
	expansionLists, err := configutil.ReadConfig[map[string][]int64](filepath.Join(dir, expansionsFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", expansionsFile, err)
	}

	expansions := make(map[string]Scope, len(expansionLists))
	for name, ids := range expansionLists {
		scope := make(Scope, len(ids))
		for _, id := range ids {
			scope[id] = struct{}{}
		}
		expansions[name] = scope
	}

	return &Registry{
		zones:      zones,
		nodes:      nodes,
		expansions: expansions,
	}, nil
}

// Zone resolves a zone display name to its addon map id. the match is
// case-sensitive and exact after trimming surrounding whitespace.
func (r *Registry) Zone(name string) (int64, bool) {
	id, ok := r.zones[strings.TrimSpace(name)]
	return id, ok
}

// Node resolves an object display name to its node type id.
func (r *Registry) Node(name string) (int64, bool) {
	id, ok := r.nodes[strings.TrimSpace(name)]
	return id, ok
}

func (r *Registry) ExpansionZones(name string) (Scope, bool) {
	scope, ok := r.expansions[name]
	return scope, ok
}

func (r *Registry) Expansions() []string {
	names := make([]string, 0, len(r.expansions))
	for name := range r.expansions {
		names = append(names, name)
	}
	return names
}

func (r *Registry) ZoneCount() int {
	return len(r.zones)
}

func (r *Registry) NodeCount() int {
	return len(r.nodes)
}

// NearestZone returns the known zone name most similar to the given one.
// it only ever informs unresolved-name warnings, resolution itself stays
// exact-match.
func (r *Registry) NearestZone(name string) string {
	return nearest(name, r.zones)
}

func (r *Registry) NearestNode(name string) string {
	return nearest(name, r.nodes)
}

func nearest(name string, table map[string]int64) string {
	name = strings.TrimSpace(name)

	mostSimilar := ""
	var similarity float64
	for candidate := range table {
		sim := matchr.JaroWinkler(name, candidate, false)
		if sim > similarity {
			similarity = sim
			mostSimilar = candidate
		}
	}
	return mostSimilar
}
