// Package sink writes completed records to their export target.
package sink

import (
	"context"

	"github.com/mwirth/immoharvest/internal/domain"
)

// Sink receives each completed record exactly once. Write failures are
// treated as transient by the coordinator: the owning unit is retried and
// the record is re-produced, so implementations must tolerate duplicate
// writes for units that failed after a partially acknowledged Write.
type Sink interface {
	Write(ctx context.Context, record *domain.Record) error
	Close() error
}
