package wowhead

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"valhallanodes/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// ErrUnknownCategory marks a gathering category with no listing page on
// the site (archaeology digs, for one, are not listed as objects).
var ErrUnknownCategory = errors.New("wowhead: no listing page for category")

// listing pages for gathering object categories, keyed by lowercase
// category name.
var listingPages = map[string]string{
	"herbalism": "/objects/herbs",
	"mining":    "/objects/mining",
	"fishing":   "/objects/fishing",
	"gas":       "/objects/gas-clouds",
	"treasure":  "/objects/treasure",
}

// Object is one entry of a category listing.
type Object struct {
	ID   int64
	Name string
}

// Catalog enumerates the objects belonging to each gathering category by
// parsing the category's listing page.
type Catalog struct {
	client *Client
}

func NewCatalog(client *Client) Catalog {
	return Catalog{client: client}
}

func (c Catalog) ListObjects(ctx context.Context, category string) ([]Object, error) {
	path, ok := listingPages[strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	page, err := c.client.Page(ctx, path)
	if err != nil {
		return nil, err
	}

	return parseListing(page)
}

// the listing table is not part of the rendered markup, it rides in a
// script payload of the form `new Listview({...});`.
var listviewRegex = regexp.MustCompile(`(?s)new Listview\((\{.*?\})\);`)

// extraCols carries raw JS function literals which the json decoder
// chokes on, so it is cut out before decoding.
var extraColsRegex = regexp.MustCompile(`(?s),\s*"extraCols":\[.*?\]\s*`)

type listviewPayload struct {
	Data []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"data"`
}

func parseListing(page []byte) ([]Object, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(page))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	var payload string
	for _, text := range htmlutil.ScriptTexts(doc) {
		if !strings.Contains(text, "new Listview") {
			continue
		}
		groups := listviewRegex.FindStringSubmatch(text)
		if len(groups) < 2 {
			continue
		}
		payload = groups[1]
		break
	}
	if payload == "" {
		// an empty category legitimately renders no listview
		return nil, nil
	}

	payload = extraColsRegex.ReplaceAllString(payload, "")

	var listview listviewPayload
	err = json.Unmarshal([]byte(payload), &listview)
	if err != nil {
		return nil, fmt.Errorf("decode listview payload: %w", err)
	}

	seenIds := map[int64]bool{}
	seenNames := map[string]bool{}
	var objects []Object
	for _, entry := range listview.Data {
		if entry.ID == 0 {
			continue
		}
		name := entry.DisplayName
		if name == "" {
			name = entry.Name
		}
		if seenIds[entry.ID] || seenNames[name] {
			continue
		}
		seenIds[entry.ID] = true
		seenNames[name] = true
		objects = append(objects, Object{ID: entry.ID, Name: name})
	}
	return objects, nil
}
