package gathermate

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	nodes := []Node{
		{NodeID: 202, ZoneID: 1429, X: 41.7, Y: 65.8},
		{NodeID: 201, ZoneID: 1411, X: 55.1, Y: 36.2},
		{NodeID: 201, ZoneID: 1411, X: 52.9, Y: 34.3},
	}

	want := `ValhallaNodesData.Herbalism = {
	[1411] = {
		[201] = { 52.90, 34.30, 55.10, 36.20 },
	},
	[1429] = {
		[202] = { 41.70, 65.80 },
	},
}
`
	require.Equal(t, want, string(Render("herbalism", nodes)))
}

func TestRenderEmpty(t *testing.T) {
	want := "ValhallaNodesData.Fishing = {\n}\n"
	require.Equal(t, want, string(Render("Fishing", nil)))
}

func TestWriteDeterministic(t *testing.T) {
	dir := t.TempDir()
	w := Writer{Dir: dir}

	nodes := []Node{
		{NodeID: 201, ZoneID: 1411, X: 52.9, Y: 34.3},
		{NodeID: 202, ZoneID: 1429, X: 41.7, Y: 65.8},
	}
	// any permutation renders identically
	permuted := []Node{nodes[1], nodes[0]}

	path1, err := w.Write("Herbalism", nodes)
	require.NoError(t, err)
	first, err := os.ReadFile(path1)
	require.NoError(t, err)

	path2, err := w.Write("Herbalism", permuted)
	require.NoError(t, err)
	require.Equal(t, path1, path2)
	require.Equal(t, filepath.Join(dir, "valhallanodes_herbalism.lua"), path2)

	second, err := os.ReadFile(path2)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// no temp file residue
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteBadDestination(t *testing.T) {
	w := Writer{Dir: filepath.Join(t.TempDir(), "occupied")}
	require.NoError(t, os.WriteFile(w.Dir, []byte("a file, not a dir"), 0600))

	_, err := w.Write("Herbalism", nil)
	require.Error(t, err)
}

var (
	zoneBlockRegex = regexp.MustCompile(`(?s)\[(\d+)\] = \{\n(.*?)\n\t\}`)
	nodeLineRegex  = regexp.MustCompile(`\[(\d+)\] = \{([^}]*)\}`)
	numberRegex    = regexp.MustCompile(`\d+\.\d+`)
)

// re-parses rendered output back into triples to check nothing is lost
// or distorted past the fixed precision.
func TestRoundTrip(t *testing.T) {
	nodes := []Node{
		{NodeID: 201, ZoneID: 1411, X: 52.912, Y: 34.3},
		{NodeID: 203, ZoneID: 1411, X: 7.0, Y: 99.99},
		{NodeID: 202, ZoneID: 1429, X: 41.7, Y: 65.8},
	}
	rendered := string(Render("herbalism", nodes))

	var parsed []Node
	for _, zone := range zoneBlockRegex.FindAllStringSubmatch(rendered, -1) {
		zoneId, err := strconv.ParseInt(zone[1], 10, 64)
		require.NoError(t, err)
		for _, line := range nodeLineRegex.FindAllStringSubmatch(zone[2], -1) {
			nodeId, err := strconv.ParseInt(line[1], 10, 64)
			require.NoError(t, err)
			coords := numberRegex.FindAllString(line[2], -1)
			require.True(t, len(coords)%2 == 0)
			for i := 0; i < len(coords); i += 2 {
				x, err := strconv.ParseFloat(coords[i], 64)
				require.NoError(t, err)
				y, err := strconv.ParseFloat(coords[i+1], 64)
				require.NoError(t, err)
				parsed = append(parsed, Node{NodeID: nodeId, ZoneID: zoneId, X: x, Y: y})
			}
		}
	}

	want := []Node{
		{NodeID: 201, ZoneID: 1411, X: 52.91, Y: 34.30},
		{NodeID: 203, ZoneID: 1411, X: 7.00, Y: 99.99},
		{NodeID: 202, ZoneID: 1429, X: 41.70, Y: 65.80},
	}
	require.Empty(t, cmp.Diff(want, parsed))
}
