// Package harvest contains the per-source coordinator and the run
// supervisor that together drive configured sources to exhaustion with
// bounded concurrency and crash-resume semantics.
package harvest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mwirth/immoharvest/internal/config"
	"github.com/mwirth/immoharvest/internal/domain"
	"github.com/mwirth/immoharvest/internal/logger"
	"github.com/mwirth/immoharvest/internal/metrics"
	"github.com/mwirth/immoharvest/internal/progress"
	"github.com/mwirth/immoharvest/internal/retry"
	"github.com/mwirth/immoharvest/internal/sink"
	"github.com/mwirth/immoharvest/internal/source"
)

// AssetQueue is the slice of the downloader the coordinator needs.
// Enqueued downloads belong to the run, not to this coordinator: they may
// still be in flight after Run returns, and the supervisor drains them.
type AssetQueue interface {
	Enqueue(ctx context.Context, ref domain.AssetRef) (bool, error)
}

type counters struct {
	attempted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	retries   atomic.Int64
	records   atomic.Int64
}

// SourceSnapshot is a point-in-time view of one coordinator for the
// status endpoint.
type SourceSnapshot struct {
	Source         string `json:"source"`
	Running        bool   `json:"running"`
	UnitsAttempted int64  `json:"units_attempted"`
	UnitsCompleted int64  `json:"units_completed"`
	UnitsFailed    int64  `json:"units_failed"`
	UnitsSkipped   int64  `json:"units_skipped"`
	Retries        int64  `json:"retries"`
	RecordsWritten int64  `json:"records_written"`
	FatalError     string `json:"fatal_error,omitempty"`
}

// Coordinator drives one source from its seeds to exhaustion.
//
// It owns the work unit lifecycle exclusively: the frontier, the seen-set,
// and the retry counters are all private. The only shared resources it
// touches are the progress store and the asset queue.
type Coordinator struct {
	adapter  source.Adapter
	progress progress.Store
	sink     sink.Sink
	assets   AssetQueue
	log      *logger.Logger
	policy   retry.Policy
	workers  int
	timeout  time.Duration
	runID    string

	front  *frontier
	counts counters

	mu        sync.Mutex
	seen      map[string]struct{} // locators enqueued this run
	completed map[string]struct{} // locators completed in earlier runs
	fatalErr  error
	running   atomic.Bool
}

// NewCoordinator wires a coordinator for one source.
func NewCoordinator(
	adapter source.Adapter,
	prog progress.Store,
	out sink.Sink,
	assets AssetQueue,
	log *logger.Logger,
	cfg *config.HarvestConfig,
	runID string,
) *Coordinator {
	workers := cfg.PageWorkers
	if workers < 1 {
		workers = 1
	}
	timeout := cfg.PageTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{
		adapter:  adapter,
		progress: prog,
		sink:     out,
		assets:   assets,
		log:      log.WithField(logger.FieldSource, adapter.SourceID()),
		policy: retry.Policy{
			Budget: cfg.RetryBudget,
			Base:   cfg.BackoffBase,
			Cap:    cfg.BackoffCap,
			Jitter: cfg.Jitter,
		},
		workers:   workers,
		timeout:   timeout,
		runID:     runID,
		front:     newFrontier(),
		seen:      make(map[string]struct{}),
		completed: make(map[string]struct{}),
	}
}

// SourceID returns the identifier of the source this coordinator drives.
func (c *Coordinator) SourceID() string {
	return c.adapter.SourceID()
}

// Run processes the source until the frontier is exhausted, the context is
// cancelled, or a fatal error occurs. Unit-level failures never abort the
// run; they are contained by the retry state machine.
func (c *Coordinator) Run(ctx context.Context) *domain.SourceReport {
	c.running.Store(true)
	defer c.running.Store(false)

	started := time.Now()
	ctx = logger.SetSource(ctx, c.adapter.SourceID())
	c.log.WithField("display_name", c.adapter.DisplayName()).Info("Starting source harvest")

	report := &domain.SourceReport{
		RunID:     c.runID,
		Source:    c.adapter.SourceID(),
		StartedAt: started,
	}

	// Resume: everything completed in earlier runs is never re-attempted.
	err := c.progress.LoadCompleted(ctx, c.adapter.SourceID(), domain.EntryKindUnit, func(key string) error {
		c.completed[key] = struct{}{}
		return nil
	})
	if err != nil {
		c.log.WithError(err).Error("Progress store unavailable")
		c.setFatal(fmt.Errorf("failed to load progress: %w", err))
		return c.finalize(report, started)
	}

	// Assets discovered by an earlier run that never finished downloading
	// are re-adopted here; their parent units are already completed and
	// will never be fetched again.
	err = c.progress.LoadPending(ctx, c.adapter.SourceID(), domain.EntryKindAsset, func(key, ref string) error {
		_, aerr := c.assets.Enqueue(ctx, domain.AssetRef{
			Source: c.adapter.SourceID(),
			URL:    ref,
			Key:    key,
		})
		return aerr
	})
	if err != nil {
		c.log.WithError(err).Error("Progress store unavailable")
		c.setFatal(fmt.Errorf("failed to load pending assets: %w", err))
		return c.finalize(report, started)
	}

	for _, seed := range c.adapter.Seeds() {
		c.enqueue(seed)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock Pop when the run is cancelled or a fatal error fires.
	go func() {
		<-runCtx.Done()
		c.front.Close()
	}()

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(runCtx, cancel)
		}()
	}
	wg.Wait()

	return c.finalize(report, started)
}

// Snapshot returns the live counters for the status endpoint.
func (c *Coordinator) Snapshot() SourceSnapshot {
	snap := SourceSnapshot{
		Source:         c.adapter.SourceID(),
		Running:        c.running.Load(),
		UnitsAttempted: c.counts.attempted.Load(),
		UnitsCompleted: c.counts.completed.Load(),
		UnitsFailed:    c.counts.failed.Load(),
		UnitsSkipped:   c.counts.skipped.Load(),
		Retries:        c.counts.retries.Load(),
		RecordsWritten: c.counts.records.Load(),
	}
	c.mu.Lock()
	if c.fatalErr != nil {
		snap.FatalError = c.fatalErr.Error()
	}
	c.mu.Unlock()
	return snap
}

func (c *Coordinator) worker(ctx context.Context, abort context.CancelFunc) {
	for {
		unit, ok := c.front.Pop()
		if !ok {
			return
		}
		c.processUnit(ctx, unit, abort)
		c.front.Done()
	}
}

func (c *Coordinator) processUnit(ctx context.Context, unit domain.WorkUnit, abort context.CancelFunc) {
	if ctx.Err() != nil {
		// Abandoned: no progress mark, so the next run retries it cleanly.
		return
	}

	if unit.Attempts == 0 {
		c.counts.attempted.Add(1)
	}

	log := c.log.WithField(logger.FieldUnit, unit.Locator)

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	start := time.Now()
	res, err := c.adapter.Fetch(fetchCtx, unit)
	cancel()
	metrics.FetchDuration.WithLabelValues(unit.Source).Observe(time.Since(start).Seconds())

	if err != nil {
		c.handleFailure(ctx, unit, err, abort)
		return
	}

	if res.Record != nil {
		if werr := c.sink.Write(ctx, res.Record); werr != nil {
			// Output sink failures are transient: the unit is retried and
			// re-produces the record.
			log.WithError(werr).Warn("Sink write failed")
			c.handleFailure(ctx, unit, source.Transient(werr), abort)
			return
		}
		c.counts.records.Add(1)

		for _, ref := range res.Assets {
			// The discovery mark must be durable before the unit can be
			// completed: a crash after unit completion would otherwise
			// strand the asset, because the unit is never fetched again.
			if perr := c.progress.MarkPending(ctx, ref.Source, domain.EntryKindAsset, ref.Key, ref.URL); perr != nil {
				log.WithError(perr).Error("Failed to record asset discovery")
				c.setFatal(fmt.Errorf("progress store write failed: %w", perr))
				abort()
				return
			}
			if _, aerr := c.assets.Enqueue(ctx, ref); aerr != nil {
				log.WithError(aerr).Warn("Failed to enqueue asset")
			}
		}
	}

	for _, child := range res.Children {
		c.enqueue(child)
	}
	if res.Next != nil {
		c.enqueue(*res.Next)
	}

	if merr := c.progress.MarkCompleted(ctx, unit.Source, domain.EntryKindUnit, unit.Key(), unit.Attempts+1); merr != nil {
		// Losing the ability to record progress breaks resumability for
		// everything after this point; treat it as fatal.
		log.WithError(merr).Error("Failed to record unit completion")
		c.setFatal(fmt.Errorf("progress store write failed: %w", merr))
		abort()
		return
	}

	c.counts.completed.Add(1)
	metrics.UnitsTotal.WithLabelValues(unit.Source, "completed").Inc()
	log.WithField("kind", string(unit.Kind)).Debug("Unit completed")
}

func (c *Coordinator) handleFailure(ctx context.Context, unit domain.WorkUnit, err error, abort context.CancelFunc) {
	if ctx.Err() != nil {
		return
	}

	log := c.log.WithField(logger.FieldUnit, unit.Locator).WithError(err)

	switch source.Classify(err) {
	case source.ClassFatal:
		log.Error("Fatal source error")
		c.setFatal(err)
		abort()

	case source.ClassPermanent:
		log.Warn("Unit failed permanently")
		c.markFailed(ctx, unit, unit.Attempts+1, err)

	default: // transient
		unit.Attempts++
		if c.policy.Exhausted(unit.Attempts) {
			log.WithField("attempts", unit.Attempts).Warn("Retry budget exhausted")
			c.markFailed(ctx, unit, unit.Attempts, err)
			return
		}

		c.counts.retries.Add(1)
		metrics.UnitRetries.WithLabelValues(unit.Source).Inc()
		log.WithField("attempt", unit.Attempts).Info("Transient failure, backing off")

		if c.policy.Sleep(ctx, unit.Attempts) != nil {
			return
		}
		c.front.Push(unit)
	}
}

func (c *Coordinator) markFailed(ctx context.Context, unit domain.WorkUnit, attempts int, cause error) {
	if merr := c.progress.MarkFailed(ctx, unit.Source, domain.EntryKindUnit, unit.Key(), attempts, cause.Error()); merr != nil {
		c.log.WithError(merr).Error("Failed to record unit failure")
	}
	c.counts.failed.Add(1)
	metrics.UnitsTotal.WithLabelValues(unit.Source, "failed").Inc()
}

// enqueue pushes a unit unless its locator was already seen this run or
// completed in an earlier one. This is the cycle guard: a unit can never
// re-enqueue an ancestor because the ancestor's locator is in the seen-set.
func (c *Coordinator) enqueue(unit domain.WorkUnit) {
	key := unit.Key()

	c.mu.Lock()
	if _, ok := c.seen[key]; ok {
		c.mu.Unlock()
		return
	}
	c.seen[key] = struct{}{}
	_, done := c.completed[key]
	c.mu.Unlock()

	if done {
		c.counts.skipped.Add(1)
		metrics.UnitsTotal.WithLabelValues(unit.Source, "skipped").Inc()
		return
	}

	c.front.Push(unit)
}

func (c *Coordinator) setFatal(err error) {
	c.mu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	c.mu.Unlock()
}

func (c *Coordinator) finalize(report *domain.SourceReport, started time.Time) *domain.SourceReport {
	now := time.Now()
	report.FinishedAt = &now
	report.UnitsAttempted = c.counts.attempted.Load()
	report.UnitsCompleted = c.counts.completed.Load()
	report.UnitsFailed = c.counts.failed.Load()
	report.UnitsSkipped = c.counts.skipped.Load()
	report.Retries = c.counts.retries.Load()
	report.RecordsWritten = c.counts.records.Load()

	c.mu.Lock()
	if c.fatalErr != nil {
		report.FatalError = c.fatalErr.Error()
	}
	c.mu.Unlock()

	c.log.WithFields(logger.Fields{
		"completed":   report.UnitsCompleted,
		"failed":      report.UnitsFailed,
		"skipped":     report.UnitsSkipped,
		"retries":     report.Retries,
		"records":     report.RecordsWritten,
		"duration_ms": now.Sub(started).Milliseconds(),
	}).Info("Source harvest finished")

	return report
}
