// Package listing implements the real-estate listing adapters. The
// static adapter fetches server-rendered pages over plain HTTP; the
// browser adapter drives headless Chrome for JS-rendered sites. Both feed
// the same selector-table extraction, configured per source.
package listing

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/mwirth/immoharvest/internal/config"
	"github.com/mwirth/immoharvest/internal/domain"
	"github.com/mwirth/immoharvest/internal/source"
)

// imageAttrs are tried in order when extracting an image URL; lazy-loaded
// galleries stash the real URL in a data attribute.
var imageAttrs = []string{"src", "data-src", "data-lazy-src"}

// seeds builds the first-page work units for a source.
func seeds(cfg *config.SourceConfig) []domain.WorkUnit {
	units := make([]domain.WorkUnit, 0, len(cfg.Seeds))
	for _, raw := range cfg.Seeds {
		units = append(units, domain.WorkUnit{
			Source:  cfg.ID,
			Locator: withPage(raw, cfg.PageParam, 1),
			Kind:    domain.UnitKindPage,
			Page:    1,
		})
	}
	return units
}

// withPage sets the pagination query parameter on a URL.
func withPage(raw, param string, page int) string {
	if param == "" {
		param = "page"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// buildResult turns a parsed document into the adapter's FetchResult.
// Shared by the static and browser adapters.
func buildResult(doc *goquery.Document, unit domain.WorkUnit, cfg *config.SourceConfig, maxPages int) (*source.FetchResult, error) {
	if unit.Kind == domain.UnitKindDetail {
		rec, assets := parseDetail(doc, unit, &cfg.Listing)
		return &source.FetchResult{Record: rec, Assets: assets}, nil
	}

	links, empty := parseResultPage(doc, unit.Locator, &cfg.Listing)

	res := &source.FetchResult{}
	for _, link := range links {
		res.Children = append(res.Children, domain.WorkUnit{
			Source:  unit.Source,
			Locator: link,
			Kind:    domain.UnitKindDetail,
		})
	}

	// Continuation: only while the current page still yielded listings and
	// the page cap is not reached. An error page means the site told us
	// there is nothing more, so the branch ends.
	if !empty && len(links) > 0 && (maxPages <= 0 || unit.Page < maxPages) {
		next := domain.WorkUnit{
			Source:  unit.Source,
			Locator: withPage(unit.Locator, cfg.PageParam, unit.Page+1),
			Kind:    domain.UnitKindPage,
			Page:    unit.Page + 1,
		}
		res.Next = &next
	}

	return res, nil
}

// parseResultPage extracts detail links from a result page and detects
// site-level "no results" markers.
func parseResultPage(doc *goquery.Document, pageURL string, cfg *config.ListingConfig) ([]string, bool) {
	if len(cfg.EmptyMarkers) > 0 {
		body := strings.ToLower(doc.Find("body").Text())
		for _, marker := range cfg.EmptyMarkers {
			if strings.Contains(body, strings.ToLower(marker)) {
				return nil, true
			}
		}
	}

	base, _ := url.Parse(pageURL)
	seen := make(map[string]struct{})
	var links []string

	doc.Find(cfg.CardSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		abs := resolveURL(base, href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})

	return links, false
}

// parseDetail extracts one record and its image references from a detail
// page using the configured selector table.
func parseDetail(doc *goquery.Document, unit domain.WorkUnit, cfg *config.ListingConfig) (*domain.Record, []domain.AssetRef) {
	listingID := listingIDFromURL(unit.Locator)

	rec := &domain.Record{
		ID:        uuid.New().String(),
		Source:    unit.Source,
		ListingID: listingID,
		Unit:      unit.Locator,
		Fields:    make(map[string]string, len(cfg.Fields)),
		ScrapedAt: time.Now(),
	}

	for name, selector := range cfg.Fields {
		rec.Fields[name] = strings.TrimSpace(doc.Find(selector).First().Text())
	}

	var assets []domain.AssetRef
	if cfg.ImageSelector != "" {
		base, _ := url.Parse(unit.Locator)
		seen := make(map[string]struct{})

		doc.Find(cfg.ImageSelector).Each(func(_ int, sel *goquery.Selection) {
			var src string
			for _, attr := range imageAttrs {
				if v, ok := sel.Attr(attr); ok && v != "" && !strings.HasPrefix(v, "data:") {
					src = v
					break
				}
			}
			if src == "" {
				return
			}
			abs := resolveURL(base, src)
			if abs == "" {
				return
			}
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}

			assets = append(assets, domain.AssetRef{
				RecordID: rec.ID,
				Source:   unit.Source,
				URL:      abs,
				Key:      fmt.Sprintf("%s/image_%d.jpg", listingID, len(seen)),
			})
		})
	}

	rec.Assets = assets
	return rec, assets
}

// listingIDFromURL returns the last non-empty path segment.
func listingIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] != "" {
			return segs[i]
		}
	}
	return u.Host
}

func resolveURL(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}
