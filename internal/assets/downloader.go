// Package assets implements the shared bounded-concurrency image
// downloader. One pool serves all sources; page fetching and asset
// fetching scale independently.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	_ "golang.org/x/image/webp"

	"github.com/mwirth/immoharvest/internal/config"
	"github.com/mwirth/immoharvest/internal/domain"
	"github.com/mwirth/immoharvest/internal/logger"
	"github.com/mwirth/immoharvest/internal/metrics"
	"github.com/mwirth/immoharvest/internal/progress"
	"github.com/mwirth/immoharvest/internal/retry"
	"github.com/mwirth/immoharvest/internal/source"
	"github.com/mwirth/immoharvest/internal/storage"
)

// Stats holds per-source asset counters.
type Stats struct {
	Downloaded int64
	Failed     int64
	Skipped    int64
}

type sourceCounters struct {
	downloaded atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
}

// Downloader fetches binary assets with bounded parallelism.
//
// Concurrency discipline: the semaphore bounds in-flight downloads across
// all sources, and the inflight set guarantees at most one download per
// target key at any time, so two records referencing the same image can
// never write the same file concurrently.
type Downloader struct {
	client   *resty.Client
	store    storage.Store
	progress progress.Store
	policy   retry.Policy
	log      *logger.Logger

	// runCtx scopes every download to the run, not to the caller that
	// enqueued it. Coordinators finish and tear their contexts down while
	// their last assets are still in flight; those downloads must keep
	// going until the supervisor drains the pool or the run is cancelled.
	runCtx context.Context

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}

	cmu      sync.Mutex
	counters map[string]*sourceCounters
}

// New creates the shared downloader pool. ctx is the run-level context;
// cancelling it abandons in-flight downloads without terminal marks.
func New(ctx context.Context, cfg *config.AssetsConfig, store storage.Store, prog progress.Store, log *logger.Logger) *Downloader {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	if ctx == nil {
		ctx = context.Background()
	}

	return &Downloader{
		client:   client,
		store:    store,
		progress: prog,
		runCtx:   ctx,
		policy: retry.Policy{
			Budget: cfg.RetryBudget,
			Base:   retry.DefaultPolicy().Base,
			Cap:    retry.DefaultPolicy().Cap,
			Jitter: retry.DefaultPolicy().Jitter,
		},
		log:      log,
		sem:      make(chan struct{}, workers),
		inflight: make(map[string]struct{}),
		counters: make(map[string]*sourceCounters),
	}
}

// Enqueue schedules one asset download. ctx covers only the bookkeeping
// lookups; the download itself runs under the run context and may outlive
// the caller. Enqueue returns false without error when the asset is
// already completed, already in flight for the same target key, already
// on disk, or not downloadable (empty or data: locator). All of these are
// normal on resume.
func (d *Downloader) Enqueue(ctx context.Context, ref domain.AssetRef) (bool, error) {
	if ref.URL == "" || strings.HasPrefix(ref.URL, "data:") {
		d.forSource(ref.Source).skipped.Add(1)
		metrics.AssetsTotal.WithLabelValues(ref.Source, "skipped").Inc()
		return false, nil
	}

	done, err := d.progress.IsCompleted(ctx, ref.Source, domain.EntryKindAsset, ref.Key)
	if err != nil {
		return false, fmt.Errorf("failed to check asset progress: %w", err)
	}
	if done {
		d.forSource(ref.Source).skipped.Add(1)
		metrics.AssetsTotal.WithLabelValues(ref.Source, "skipped").Inc()
		return false, nil
	}

	// Storage writes are atomic, so a present object is a complete one.
	// No mark next to it means the previous run crashed between the write
	// and the progress append; adopt the object instead of re-downloading.
	if exists, serr := d.store.Exists(ctx, ref.Key); serr == nil && exists {
		if perr := d.progress.MarkCompleted(ctx, ref.Source, domain.EntryKindAsset, ref.Key, 0); perr != nil {
			return false, fmt.Errorf("failed to record adopted asset: %w", perr)
		}
		d.forSource(ref.Source).skipped.Add(1)
		metrics.AssetsTotal.WithLabelValues(ref.Source, "skipped").Inc()
		return false, nil
	}

	d.mu.Lock()
	if _, busy := d.inflight[ref.Key]; busy {
		d.mu.Unlock()
		return false, nil
	}
	d.inflight[ref.Key] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(d.runCtx, ref)
	return true, nil
}

// Wait blocks until every enqueued download has reached a terminal state
// or been abandoned by cancellation.
func (d *Downloader) Wait() {
	d.wg.Wait()
}

// Stats returns the counters accumulated for one source.
func (d *Downloader) Stats(source string) Stats {
	c := d.forSource(source)
	return Stats{
		Downloaded: c.downloaded.Load(),
		Failed:     c.failed.Load(),
		Skipped:    c.skipped.Load(),
	}
}

func (d *Downloader) forSource(source string) *sourceCounters {
	d.cmu.Lock()
	defer d.cmu.Unlock()
	c, ok := d.counters[source]
	if !ok {
		c = &sourceCounters{}
		d.counters[source] = c
	}
	return c
}

func (d *Downloader) run(ctx context.Context, ref domain.AssetRef) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, ref.Key)
		d.mu.Unlock()
	}()

	// Bound in-flight downloads. On cancellation the asset is abandoned
	// without any progress mark, so the next run retries it cleanly.
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-d.sem }()

	log := d.log.WithFields(logger.Fields{
		logger.FieldSource: ref.Source,
		"asset_key":        ref.Key,
	})

	attempts := 0
	for {
		attempts++
		err := d.attempt(ctx, ref)
		if err == nil {
			if perr := d.progress.MarkCompleted(ctx, ref.Source, domain.EntryKindAsset, ref.Key, attempts); perr != nil {
				log.WithError(perr).Error("Failed to record asset completion")
				d.forSource(ref.Source).failed.Add(1)
				metrics.AssetsTotal.WithLabelValues(ref.Source, "failed").Inc()
				return
			}
			d.forSource(ref.Source).downloaded.Add(1)
			metrics.AssetsTotal.WithLabelValues(ref.Source, "downloaded").Inc()
			log.WithField("stored_url", d.store.URL(ref.Key)).Debug("Asset stored")
			return
		}

		if ctx.Err() != nil {
			// Abandoned mid-run; no terminal mark.
			return
		}

		if source.IsPermanent(err) || d.policy.Exhausted(attempts) {
			log.WithError(err).WithField("attempts", attempts).Warn("Asset download failed permanently")
			if perr := d.progress.MarkFailed(ctx, ref.Source, domain.EntryKindAsset, ref.Key, attempts, err.Error()); perr != nil {
				log.WithError(perr).Error("Failed to record asset failure")
			}
			d.forSource(ref.Source).failed.Add(1)
			metrics.AssetsTotal.WithLabelValues(ref.Source, "failed").Inc()
			return
		}

		log.WithError(err).WithField("attempt", attempts).Debug("Transient asset failure, backing off")
		if d.policy.Sleep(ctx, attempts) != nil {
			return
		}
	}
}

// attempt performs one download try and commits the bytes to storage.
func (d *Downloader) attempt(ctx context.Context, ref domain.AssetRef) error {
	resp, err := d.client.R().SetContext(ctx).Get(ref.URL)
	if err != nil {
		return source.Transient(err)
	}

	code := resp.StatusCode()
	switch {
	case code == 200:
	case code == 404 || code == 410:
		return source.Permanent(fmt.Errorf("asset gone: status %d", code))
	default:
		return source.Transient(fmt.Errorf("unexpected status %d", code))
	}

	body := resp.Body()
	if len(body) == 0 {
		return source.Transient(fmt.Errorf("empty response body"))
	}

	contentType := resp.Header().Get("Content-Type")
	if w, h, format, perr := probeImage(body); perr == nil {
		if contentType == "" {
			contentType = "image/" + format
		}
		d.log.WithFields(logger.Fields{
			logger.FieldSource: ref.Source,
			"asset_key":        ref.Key,
			"width":            w,
			"height":           h,
			"format":           format,
		}).Debug("Probed image")
	}

	if err := d.store.Put(ctx, ref.Key, bytes.NewReader(body), int64(len(body)), contentType); err != nil {
		return source.Transient(err)
	}

	metrics.AssetBytes.WithLabelValues(ref.Source).Add(float64(len(body)))
	return nil
}

// probeImage decodes the image header for dimensions and format.
func probeImage(data []byte) (int, int, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", err
	}
	return cfg.Width, cfg.Height, format, nil
}
