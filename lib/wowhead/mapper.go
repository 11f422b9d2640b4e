package wowhead

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// Sighting is one occurrence of an object at a map location, exactly as
// extracted from the page. coordinates are percentages of the zone's map
// image. ZoneName may be empty when the payload entry carried no display
// name, in which case ZoneKey is the only handle on the zone.
type Sighting struct {
	Object   string
	ZoneKey  int64
	ZoneName string
	X        float64
	Y        float64
}

// MapExtractor recovers the "Maps" tab payload from an object detail
// page. the payload rides in a script as `g_mapperData = {...};`, keyed
// by zone, holding the object's coordinates within each zone. located by
// marker rather than DOM position so markup reshuffles don't break it.
type MapExtractor struct{}

var mapperDataRegex = regexp.MustCompile(`(?s)g_mapperData\s*=\s*(\{.*?\});`)

// mapperEntry is the current payload shape: one entry per map pin group.
type mapperEntry struct {
	UIMapName string      `json:"uiMapName"`
	Coords    [][]float64 `json:"coords"`
}

// Extract fans the payload out into one sighting per coordinate pair,
// stamped with the object display name supplied by the caller (the page
// itself only repeats the name in its title).
//
// a page without the payload yields no sightings and no error: plenty of
// listed objects have no mapped spawn points. a payload that fails to
// decode is an error for this object alone.
func (MapExtractor) Extract(page []byte, object string) ([]Sighting, error) {
	groups := mapperDataRegex.FindSubmatch(page)
	if len(groups) < 2 {
		return nil, nil
	}

	var zones map[string]json.RawMessage
	err := json.Unmarshal(groups[1], &zones)
	if err != nil {
		return nil, fmt.Errorf("decode mapper payload: %w", err)
	}

	// zone keys sorted for reproducible fan-out order
	zoneKeys := make([]string, 0, len(zones))
	for zoneKey := range zones {
		zoneKeys = append(zoneKeys, zoneKey)
	}
	sort.Strings(zoneKeys)

	var sightings []Sighting
	for _, zoneKey := range zoneKeys {
		// zone keys are stringified map ids
		key, _ := strconv.ParseInt(zoneKey, 10, 64)

		var entries []json.RawMessage
		err := json.Unmarshal(zones[zoneKey], &entries)
		if err != nil {
			return nil, fmt.Errorf("decode mapper zone %q: %w", zoneKey, err)
		}

		for _, rawEntry := range entries {
			// current shape: entry objects with a coords list.
			// an object without coords is a pin with no locations.
			var entry mapperEntry
			if err := json.Unmarshal(rawEntry, &entry); err == nil {
				for _, pair := range entry.Coords {
					if len(pair) < 2 {
						continue
					}
					sightings = append(sightings, Sighting{
						Object:   object,
						ZoneKey:  key,
						ZoneName: entry.UIMapName,
						X:        pair[0],
						Y:        pair[1],
					})
				}
				continue
			}

			// older payloads carry bare [x, y] pairs instead of
			// entry objects
			var pair []float64
			if err := json.Unmarshal(rawEntry, &pair); err == nil && len(pair) >= 2 {
				sightings = append(sightings, Sighting{
					Object:  object,
					ZoneKey: key,
					X:       pair[0],
					Y:       pair[1],
				})
				continue
			}

			return nil, fmt.Errorf("unrecognized mapper entry in zone %q", zoneKey)
		}
	}
	return sightings, nil
}
