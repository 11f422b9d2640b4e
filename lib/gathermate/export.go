// Package gathermate renders resolved node sightings into the Lua data
// tables the tracking addon loads, one file per gathering category.
package gathermate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Namespace is the addon-side table the generated files assign into.
const Namespace = "ValhallaNodesData"

// Node is one fully resolved sighting: both ids live in the addon's id
// space and the coordinates are map percentages.
type Node struct {
	NodeID int64
	ZoneID int64
	X      float64
	Y      float64
}

// Filename returns the deterministic output name for a category.
func Filename(category string) string {
	return fmt.Sprintf("valhallanodes_%s.lua", strings.ToLower(strings.TrimSpace(category)))
}

type Writer struct {
	// destination directory, created on demand
	Dir string
}

// Write renders one category table and writes it atomically: the whole
// file is built in memory, written to a temp file and renamed into place,
// so a failure never leaves a truncated file behind. returns the path of
// the written file.
//
// rendering is deterministic for any permutation of nodes: entries are
// sorted by node, zone and coordinates before grouping.
func (w Writer) Write(category string, nodes []Node) (string, error) {
	text := Render(category, nodes)

	err := os.MkdirAll(w.Dir, 0777)
	if err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(w.Dir, Filename(category))
	tmp, err := os.CreateTemp(w.Dir, Filename(category)+".tmp*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	_, err = tmp.Write(text)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	err = tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	err = os.Rename(tmp.Name(), path)
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("replace %s: %w", path, err)
	}
	return path, nil
}

// Render builds the table literal for one category:
//
//	ValhallaNodesData.Herbalism = {
//		[<zone id>] = {
//			[<node type id>] = { x1, y1, x2, y2, ... },
//		},
//	}
//
// grouped by zone then node type, coordinate pairs flattened in sort
// order, coordinates fixed to two decimals.
func Render(category string, nodes []Node) []byte {
	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		if a.ZoneID != b.ZoneID {
			return a.ZoneID < b.ZoneID
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})

	type zoneGroup struct {
		zone    int64
		nodeIds []int64
		coords  map[int64][]Node
	}
	var zones []*zoneGroup
	byZone := map[int64]*zoneGroup{}
	for _, n := range sorted {
		group, ok := byZone[n.ZoneID]
		if !ok {
			group = &zoneGroup{zone: n.ZoneID, coords: map[int64][]Node{}}
			byZone[n.ZoneID] = group
			zones = append(zones, group)
		}
		if _, ok := group.coords[n.NodeID]; !ok {
			group.nodeIds = append(group.nodeIds, n.NodeID)
		}
		group.coords[n.NodeID] = append(group.coords[n.NodeID], n)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].zone < zones[j].zone })

	var out bytes.Buffer
	fmt.Fprintf(&out, "%s.%s = {\n", Namespace, titleCase(category))
	for _, group := range zones {
		fmt.Fprintf(&out, "\t[%d] = {\n", group.zone)
		sort.Slice(group.nodeIds, func(i, j int) bool { return group.nodeIds[i] < group.nodeIds[j] })
		for _, nodeId := range group.nodeIds {
			fmt.Fprintf(&out, "\t\t[%d] = {", nodeId)
			for i, n := range group.coords[nodeId] {
				if i > 0 {
					out.WriteString(",")
				}
				fmt.Fprintf(&out, " %.2f, %.2f", n.X, n.Y)
			}
			out.WriteString(" },\n")
		}
		out.WriteString("\t},\n")
	}
	out.WriteString("}\n")
	return out.Bytes()
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
