package domain

import "time"

// Record is the structured output of parsing one detail work unit.
// Immutable once created; written exactly once to the output sink.
type Record struct {
	ID        string            // run-unique record id
	Source    string            // owning source identifier
	ListingID string            // site-level listing identifier
	Unit      string            // locator of the unit that produced the record
	Fields    map[string]string // field name -> extracted value
	Assets    []AssetRef
	ScrapedAt time.Time
}

// AssetRef points at a binary resource (an image) tied to a Record.
// Key is the target storage key; it doubles as the progress key so a
// listing re-scraped under a different URL still skips downloaded files.
type AssetRef struct {
	RecordID string
	Source   string
	URL      string // remote locator
	Key      string // target storage key, e.g. "<listing id>/image_3.jpg"
}
