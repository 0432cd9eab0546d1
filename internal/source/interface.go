package source

import (
	"context"

	"github.com/mwirth/immoharvest/internal/domain"
)

// FetchResult is what an adapter produces for one work unit.
//
// Next carries the explicit continuation for page units: the adapter is the
// only party that knows the site's pagination scheme, so the coordinator
// never infers exhaustion from an empty page. A nil Next means the adapter
// asserts there is no further page behind this unit.
type FetchResult struct {
	Record   *domain.Record    // parsed listing, nil for pure index pages
	Children []domain.WorkUnit // detail units discovered on this page
	Assets   []domain.AssetRef // image references owned by Record
	Next     *domain.WorkUnit  // continuation page, nil when exhausted
}

// Adapter is the per-site capability the harvest engine drives.
// Implementations wrap whatever fetch mechanism the site needs (plain HTTP,
// headless browser) and all site-specific extraction.
type Adapter interface {
	// SourceID returns the stable identifier of the source this adapter serves.
	SourceID() string

	// DisplayName returns a human-readable name for logs and reports.
	DisplayName() string

	// Seeds returns the initial work units for a run.
	Seeds() []domain.WorkUnit

	// Fetch retrieves and parses one work unit. Errors must be classified
	// with Transient, Permanent, or Fatal from this package; unclassified
	// errors are treated as transient.
	Fetch(ctx context.Context, unit domain.WorkUnit) (*FetchResult, error)
}
