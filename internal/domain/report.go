package domain

import "time"

// SourceReport aggregates the outcome of one source's harvest.
type SourceReport struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	RunID            string     `gorm:"type:text;not null;index" json:"run_id"`
	Source           string     `gorm:"type:text;not null;index" json:"source"`
	UnitsAttempted   int64      `json:"units_attempted"`
	UnitsCompleted   int64      `json:"units_completed"`
	UnitsFailed      int64      `json:"units_failed"`
	UnitsSkipped     int64      `json:"units_skipped"`
	Retries          int64      `json:"retries"`
	RecordsWritten   int64      `json:"records_written"`
	AssetsDownloaded int64      `json:"assets_downloaded"`
	AssetsFailed     int64      `json:"assets_failed"`
	FatalError       string     `gorm:"type:text" json:"fatal_error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// TableName returns the database table name for SourceReport.
func (SourceReport) TableName() string {
	return "source_reports"
}

// Fatal reports whether the source ended with an unrecoverable error.
// Per-unit permanent failures are expected and do not count as fatal.
func (r *SourceReport) Fatal() bool {
	return r.FatalError != ""
}

// Elapsed returns the wall-clock duration of the source's harvest.
func (r *SourceReport) Elapsed() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunReport is the aggregate outcome of one supervisor run across sources.
type RunReport struct {
	RunID      string
	Sources    []*SourceReport
	StartedAt  time.Time
	FinishedAt time.Time
}

// OK reports whether every source finished without a fatal error.
func (r *RunReport) OK() bool {
	for _, s := range r.Sources {
		if s.Fatal() {
			return false
		}
	}
	return true
}
