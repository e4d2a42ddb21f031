package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"redeemworker/internal/crawler"
	"redeemworker/internal/extractor"
	"redeemworker/internal/ledger"
	"redeemworker/internal/sites"
	"redeemworker/logger"
	"redeemworker/services/publisher"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// StreamKey is the field key under which new codes are published.
const StreamKey = "b64_codes"

// RenderSession is a browser session created for one crawl run and closed
// when the run ends.
type RenderSession interface {
	crawler.FeedRenderer
	Close()
}

// RendererFactory opens a fresh render session. Feed crawls are rare
// enough that the browser is not kept alive between runs.
type RendererFactory func(ctx context.Context) RenderSession

// SnapshotProvider hands out the site configuration at crawl start.
type SnapshotProvider interface {
	Snapshot() sites.Snapshot
}

// Worker orchestrates crawl runs: it iterates the enabled sources in
// order, builds the matching crawler, records codes through the ledger and
// publishes the newly stored ones.
type Worker struct {
	registry    SnapshotProvider
	store       ledger.Ledger
	pub         publisher.Publisher
	fetcher     crawler.DocumentFetcher
	newRenderer RendererFactory
	limits      crawler.Limits
	interval    time.Duration

	state *RunState
	cron  *cron.Cron
	log   *logger.Logger
}

// New creates a worker.
func New(registry SnapshotProvider, store ledger.Ledger, pub publisher.Publisher,
	fetcher crawler.DocumentFetcher, newRenderer RendererFactory,
	limits crawler.Limits, interval, triggerCooldown time.Duration) *Worker {
	return &Worker{
		registry:    registry,
		store:       store,
		pub:         pub,
		fetcher:     fetcher,
		newRenderer: newRenderer,
		limits:      limits,
		interval:    interval,
		state:       NewRunState(triggerCooldown),
		log:         logger.ForWorker(),
	}
}

// State exposes the run state to the dashboard.
func (w *Worker) State() *RunState {
	return w.state
}

// Start schedules crawl runs at the configured interval and fires the
// first one immediately. Overlapping runs are skipped.
func (w *Worker) Start(ctx context.Context) error {
	w.cron = cron.New()
	_, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.interval), func() {
		if !w.state.BeginScheduled() {
			w.log.Warn().Msg("Previous crawl still running, skipping this tick")
			return
		}
		w.run(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule crawl: %w", err)
	}
	w.cron.Start()

	if w.state.BeginScheduled() {
		go w.run(ctx)
	}
	return nil
}

// Stop stops the scheduler and waits for a running job to return.
func (w *Worker) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

// Trigger starts a manual crawl run. Refused while a run is in flight or
// within the cooldown window.
func (w *Worker) Trigger(ctx context.Context) (bool, time.Duration) {
	ok, remaining := w.state.TryTrigger()
	if !ok {
		return false, remaining
	}
	go w.run(ctx)
	return true, 0
}

// run executes one crawl run and releases the run state. The caller must
// have claimed the running flag.
func (w *Worker) run(ctx context.Context) {
	summary := w.crawlAll(ctx)
	w.state.Finish(summary)
	w.log.Info().
		Str("run_id", summary.RunID).
		Int("sources", summary.Sources).
		Int("new_codes", summary.NewCodes).
		Int("duplicates", summary.Duplicates).
		Int("errors", summary.Errors).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Crawl run finished")
}

// crawlAll walks the enabled sources sequentially with one configuration
// snapshot; edits made while the run is in flight wait for the next run.
func (w *Worker) crawlAll(ctx context.Context) *RunSummary {
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	snap := w.registry.Snapshot()

	enabled := snap.EnabledSources()
	if len(enabled) == 0 {
		w.log.Warn().Msg("No enabled sources configured")
	}

	var renderer RenderSession
	defer func() {
		if renderer != nil {
			renderer.Close()
		}
	}()

	for _, src := range enabled {
		deps := crawler.Deps{
			Fetcher:   w.fetcher,
			Ledger:    w.store,
			Extractor: extractor.New(),
			Snapshot:  snap,
			Limits:    w.limits,
		}
		if src.Type == sites.TypeFeed {
			if renderer == nil && w.newRenderer != nil {
				renderer = w.newRenderer(ctx)
			}
			deps.Renderer = renderer
		}

		c, err := crawler.New(src, deps)
		if err != nil {
			logger.LogError("worker", err, "Cannot build crawler for %s", src.Name)
			summary.Errors++
			continue
		}

		results, err := c.Crawl(ctx)
		if err != nil {
			logger.LogError("worker", err, "Crawl failed for %s", src.Name)
			summary.Errors++
			continue
		}
		summary.Sources++

		for _, r := range results {
			if err := w.saveAndPublish(ctx, r); err != nil {
				if errors.Is(err, ledger.ErrCodeExists) {
					summary.Duplicates++
					continue
				}
				logger.LogError("worker", err, "Failed to store code %s", r.Code)
				summary.Errors++
				continue
			}
			summary.NewCodes++
		}
	}

	if w.pub != nil {
		if err := w.pub.TrimStreams(); err != nil {
			logger.LogError("worker", err, "Stream trimming failed")
		}
	}

	summary.FinishedAt = time.Now()
	return summary
}

func (w *Worker) saveAndPublish(ctx context.Context, r crawler.CodeResult) error {
	err := w.store.SaveCode(ctx, r.Code, r.Game, r.SourceURL, r.SourceTitle, r.PostedAt)
	if err != nil {
		return err
	}
	w.log.Info().Str("code", r.Code).Str("game", r.Game).Msg("New code stored")

	if w.pub == nil {
		return nil
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := w.pub.Publish(StreamKey, payload); err != nil {
		// The code is stored; losing one notification is acceptable.
		logger.LogError("worker", err, "Failed to publish code %s", r.Code)
	}
	return nil
}
