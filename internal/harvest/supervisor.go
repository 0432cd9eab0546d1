package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mwirth/immoharvest/internal/assets"
	"github.com/mwirth/immoharvest/internal/domain"
	"github.com/mwirth/immoharvest/internal/logger"
	"github.com/mwirth/immoharvest/internal/progress"
)

// Supervisor launches one coordinator per source and aggregates the run
// report. Sources are fully isolated: a panic or fatal error in one never
// prevents the others from finishing.
type Supervisor struct {
	coordinators []*Coordinator
	downloader   *assets.Downloader
	store        progress.Store
	log          *logger.Logger
	runID        string
}

// NewSupervisor wires the top-level run driver.
func NewSupervisor(
	coordinators []*Coordinator,
	downloader *assets.Downloader,
	store progress.Store,
	log *logger.Logger,
	runID string,
) *Supervisor {
	return &Supervisor{
		coordinators: coordinators,
		downloader:   downloader,
		store:        store,
		log:          log,
		runID:        runID,
	}
}

// Run executes all coordinators concurrently and blocks until every
// source has finished and the asset pool has drained.
func (s *Supervisor) Run(ctx context.Context) *domain.RunReport {
	started := time.Now()
	s.log.WithFields(logger.Fields{
		logger.FieldRunID: s.runID,
		"sources":         len(s.coordinators),
	}).Info("Starting run")

	reports := make([]*domain.SourceReport, len(s.coordinators))

	var wg sync.WaitGroup
	for i, c := range s.coordinators {
		wg.Add(1)
		go func(i int, c *Coordinator) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.WithField(logger.FieldSource, c.SourceID()).
						Errorf("Coordinator panicked: %v", r)
					now := time.Now()
					reports[i] = &domain.SourceReport{
						RunID:      s.runID,
						Source:     c.SourceID(),
						FatalError: fmt.Sprintf("panic: %v", r),
						StartedAt:  started,
						FinishedAt: &now,
					}
				}
			}()
			reports[i] = c.Run(ctx)
		}(i, c)
	}
	wg.Wait()

	// Coordinators stop producing asset refs once they return; drain the
	// shared pool before closing the books.
	s.downloader.Wait()

	for _, report := range reports {
		stats := s.downloader.Stats(report.Source)
		report.AssetsDownloaded = stats.Downloaded
		report.AssetsFailed = stats.Failed

		if err := s.store.SaveReport(ctx, report); err != nil {
			s.log.WithError(err).WithField(logger.FieldSource, report.Source).
				Warn("Failed to persist source report")
		}
	}

	run := &domain.RunReport{
		RunID:      s.runID,
		Sources:    reports,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}

	s.log.WithFields(logger.Fields{
		logger.FieldRunID: s.runID,
		"duration_ms":     run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		"ok":              run.OK(),
	}).Info("Run finished")

	return run
}

// Snapshot returns the live state of every coordinator.
func (s *Supervisor) Snapshot() []SourceSnapshot {
	snaps := make([]SourceSnapshot, 0, len(s.coordinators))
	for _, c := range s.coordinators {
		snaps = append(snaps, c.Snapshot())
	}
	return snaps
}
