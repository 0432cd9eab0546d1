package domain

// UnitKind distinguishes paginated result pages from single-listing detail pages.
type UnitKind string

const (
	UnitKindPage   UnitKind = "page"
	UnitKindDetail UnitKind = "detail"
)

// UnitStatus represents the lifecycle state of a work unit within a run.
// Values include UnitStatusPending, UnitStatusInProgress, UnitStatusCompleted,
// UnitStatusRetrying, and UnitStatusFailedPermanently.
type UnitStatus string

const (
	UnitStatusPending           UnitStatus = "pending"
	UnitStatusInProgress        UnitStatus = "in_progress"
	UnitStatusCompleted         UnitStatus = "completed"
	UnitStatusRetrying          UnitStatus = "retrying"
	UnitStatusFailedPermanently UnitStatus = "failed_permanently"
)

// WorkUnit is one fetchable item: a result page or a listing detail page.
// Units are deduplicated by Locator, so a unit can never re-enqueue an
// ancestor and the frontier stays acyclic.
type WorkUnit struct {
	Source   string   // owning source identifier
	Locator  string   // URL or equivalent, unique within the source
	Kind     UnitKind // page vs detail
	Page     int      // pagination position, 0 for detail units
	Attempts int      // transient failures so far in this run
}

// Key returns the dedup/progress key for the unit.
func (u WorkUnit) Key() string {
	return u.Locator
}
