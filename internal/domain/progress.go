package domain

import "time"

// ProgressStatus is the state recorded for a unit or asset. Completed,
// Failed, and Skipped are terminal; Pending marks a discovered asset whose
// download has not yet reached a terminal state, so a later run can pick
// it up again.
type ProgressStatus string

const (
	ProgressPending   ProgressStatus = "pending"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
	ProgressSkipped   ProgressStatus = "skipped"
)

// EntryKind separates unit progress from asset progress in the store.
type EntryKind string

const (
	EntryKindUnit  EntryKind = "unit"
	EntryKindAsset EntryKind = "asset"
)

// ProgressEntry is a durable, append-only marker that a unit or asset
// reached a terminal state. Rows are never updated or deleted; the unique
// index includes the status so a later run can append a Completed entry
// for a key that previously failed.
type ProgressEntry struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Source    string         `gorm:"type:text;not null;uniqueIndex:idx_progress_key" json:"source"`
	Kind      EntryKind      `gorm:"type:text;not null;uniqueIndex:idx_progress_key" json:"kind"`
	Key       string         `gorm:"type:text;not null;uniqueIndex:idx_progress_key" json:"key"`
	Status    ProgressStatus `gorm:"type:text;not null;uniqueIndex:idx_progress_key;index:idx_progress_status" json:"status"`
	Attempts  int            `gorm:"default:0" json:"attempts"`
	Ref       string         `gorm:"type:text" json:"ref,omitempty"` // remote locator, set on Pending asset entries
	Reason    string         `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName returns the database table name for ProgressEntry.
func (ProgressEntry) TableName() string {
	return "progress_entries"
}
