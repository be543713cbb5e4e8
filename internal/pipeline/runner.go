package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"repin/internal/logging"
	"repin/internal/models"
	"repin/internal/retry"
	"repin/internal/telemetry"
)

// Runner drives work items through fetch, enrich, and publish. A single
// Runner owns the process-wide exclusive guard: triggers may fire
// concurrently, but only one run is ever in flight.
type Runner struct {
	store     Store
	fetcher   Fetcher
	enricher  Enricher
	publisher Publisher
	limiter   Limiter
	archiver  Archiver
	policy    retry.Policy
	interval  time.Duration

	busy atomic.Bool
	now  func() time.Time
}

// Option tweaks Runner construction.
type Option func(*Runner)

// WithArchiver retains published artifacts through the given archiver.
func WithArchiver(a Archiver) Option {
	return func(r *Runner) { r.archiver = a }
}

// WithClock overrides the runner's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner wires the pipeline. interval is the cadence of the background
// trigger loop started by Run.
func NewRunner(st Store, f Fetcher, e Enricher, p Publisher, l Limiter, policy retry.Policy, interval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		store:     st,
		fetcher:   f,
		enricher:  e,
		publisher: p,
		limiter:   l,
		policy:    policy,
		interval:  interval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run ticks RunOnce until the context is cancelled. This is the periodic
// trigger; the manual trigger calls RunOnce directly from the API.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if depth, err := r.store.CountEligible(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		outcome := r.RunOnce(ctx)
		if outcome != models.OutcomeIdle && outcome != models.OutcomeBusy {
			logging.WithField("outcome", outcome).Info("pipeline run finished")
		}
	}
}

// RunOnce attempts a single pipeline run. If a run is already in flight it
// returns busy immediately; that is a no-op, not an error. The guard is
// released on every exit path, including panics inside collaborators.
func (r *Runner) RunOnce(ctx context.Context) models.RunOutcome {
	if !r.busy.CompareAndSwap(false, true) {
		return models.OutcomeBusy
	}
	defer r.busy.Store(false)

	started := r.now()
	outcome := r.runOnce(ctx)
	telemetry.RunsTotal.WithLabelValues(string(outcome)).Inc()
	if outcome != models.OutcomeIdle {
		telemetry.RunDurationHisto.Observe(r.now().Sub(started).Seconds())
	}
	return outcome
}

func (r *Runner) runOnce(ctx context.Context) models.RunOutcome {
	item, err := r.store.NextEligible(ctx)
	if err != nil {
		logging.WithField("error", err).Error("next eligible item lookup failed")
		return models.OutcomeIdle
	}
	if item == nil {
		return models.OutcomeIdle
	}

	log := logging.WithFields(logrus.Fields{
		"item_id":  item.ID,
		"owner_id": item.OwnerID,
		"attempts": item.Attempts,
	})

	if item.Status == models.StatusQueued {
		ok, err := r.store.MarkProcessing(ctx, item.ID)
		if err != nil {
			log.WithField("error", err).Error("mark processing failed")
			return models.OutcomeIdle
		}
		if !ok {
			// Lost the compare-and-set; item is no longer queued.
			return models.OutcomeIdle
		}

		log.WithField("source_url", item.SourceURL).Info("fetching source media")
		res, ferr := r.fetch(ctx, item.SourceURL)
		if ferr != nil {
			return r.settleFailure(ctx, log, item, "fetch", ferr)
		}
		if err := r.store.MarkDownloaded(ctx, item.ID, res.ArtifactPath, res.Metadata); err != nil {
			log.WithField("error", err).Error("persist downloaded state failed")
			r.removeArtifact(log, &res.ArtifactPath)
			return models.OutcomeIdle
		}
		item.Status = models.StatusDownloaded
		item.ArtifactPath = &res.ArtifactPath
		item.Source = res.Metadata
	}

	allowed, err := r.limiter.CanPublish(ctx, item.OwnerID, r.now())
	if err != nil {
		// Limiter outage: defer rather than risk breaching the publish
		// window. The item stays in downloaded and costs no attempt.
		log.WithField("error", err).Warn("rate limiter unavailable, deferring")
		telemetry.DeferralsTotal.Inc()
		return models.OutcomeDeferred
	}
	if !allowed {
		log.Info("publish window not yet open, deferring")
		telemetry.DeferralsTotal.Inc()
		return models.OutcomeDeferred
	}

	artifact := ""
	if item.ArtifactPath != nil {
		artifact = *item.ArtifactPath
	}

	enrichment, eerr := r.enrich(ctx, artifact, item.Source)
	if eerr != nil {
		return r.settleFailure(ctx, log, item, "enrich", eerr)
	}

	videoID, perr := r.publish(ctx, artifact, enrichment, item.OwnerID)
	if perr != nil {
		return r.settleFailure(ctx, log, item, "publish", perr)
	}

	publishedAt := r.now()
	r.archiveArtifact(ctx, log, item, artifact)
	r.removeArtifact(log, item.ArtifactPath)

	if err := r.limiter.RecordPublish(ctx, item.OwnerID, publishedAt); err != nil {
		log.WithField("error", err).Warn("record publish timestamp failed")
	}
	if err := r.store.MarkPublished(ctx, item.ID, videoID, publishedAt); err != nil {
		log.WithField("error", err).Error("persist published state failed")
	}

	telemetry.PublishesTotal.Inc()
	log.WithField("published_id", videoID).Info("item published")
	return models.OutcomePublished
}

// settleFailure classifies a collaborator error, releases the artifact, and
// either requeues the item with backoff or fails it terminally.
func (r *Runner) settleFailure(ctx context.Context, log *logrus.Entry, item *models.WorkItem, stage string, cause error) models.RunOutcome {
	kind := KindOf(cause)
	msg := fmt.Sprintf("%s: %v", stage, cause)
	r.removeArtifact(log, item.ArtifactPath)

	decision := r.policy.Decide(item.Attempts, kind)
	if decision.Retry {
		attempts := item.Attempts + 1
		nextAttempt := r.now().Add(decision.Delay)
		if err := r.store.RequeueForRetry(ctx, item.ID, attempts, nextAttempt, msg); err != nil {
			log.WithField("error", err).Error("requeue for retry failed")
		}
		telemetry.RetriesTotal.Inc()
		log.WithFields(logrus.Fields{
			"stage":        stage,
			"error":        cause.Error(),
			"next_attempt": nextAttempt.UTC().Format(time.RFC3339),
		}).Warn("attempt failed, requeued")
		return models.OutcomeRequeued
	}

	attempts := item.Attempts + 1
	if attempts > item.MaxAttempts {
		attempts = item.MaxAttempts
	}
	if err := r.store.MarkFailed(ctx, item.ID, attempts, msg); err != nil {
		log.WithField("error", err).Error("mark failed failed")
	}
	telemetry.FailuresTotal.WithLabelValues(string(kind)).Inc()
	log.WithFields(logrus.Fields{
		"stage": stage,
		"error": cause.Error(),
		"kind":  kind,
	}).Error("item failed terminally")
	return models.OutcomeFailed
}

// Recover requeues items stranded in processing by a crash mid-attempt. The
// interruption is treated as a transient failure: the attempt counts, and
// the item comes back with the policy's backoff or fails if exhausted.
func (r *Runner) Recover(ctx context.Context) error {
	items, err := r.store.ListProcessing(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		item := &items[i]
		log := logging.WithFields(logrus.Fields{"item_id": item.ID, "attempts": item.Attempts})
		outcome := r.settleFailure(ctx, log, item, "recover", Transient("attempt interrupted by restart"))
		log.WithField("outcome", outcome).Info("recovered interrupted item")
	}
	return nil
}

func (r *Runner) removeArtifact(log *logrus.Entry, path *string) {
	if path == nil || *path == "" {
		return
	}
	if err := os.Remove(*path); err != nil && !os.IsNotExist(err) {
		log.WithFields(logrus.Fields{"artifact": *path, "error": err}).Warn("remove artifact failed")
	}
}

func (r *Runner) archiveArtifact(ctx context.Context, log *logrus.Entry, item *models.WorkItem, artifact string) {
	if r.archiver == nil || artifact == "" {
		return
	}
	key := fmt.Sprintf("%s/%s.mp4", item.OwnerID, item.ID)
	location, err := r.archiver.Archive(ctx, artifact, key)
	if err != nil {
		log.WithField("error", err).Warn("archive artifact failed")
		return
	}
	log.WithField("archive", location).Info("artifact archived")
}

// Collaborator invocations are fenced so a panic inside an adapter surfaces
// as a transient failure instead of escaping past the guard.

func (r *Runner) fetch(ctx context.Context, sourceURL string) (res FetchResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Transient("fetcher panic: %v", p)
		}
	}()
	return r.fetcher.Fetch(ctx, sourceURL)
}

func (r *Runner) enrich(ctx context.Context, artifact string, meta models.SourceMetadata) (enr models.Enrichment, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Transient("enricher panic: %v", p)
		}
	}()
	return r.enricher.Generate(ctx, artifact, meta)
}

func (r *Runner) publish(ctx context.Context, artifact string, enr models.Enrichment, ownerID string) (id string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Transient("publisher panic: %v", p)
		}
	}()
	return r.publisher.Publish(ctx, artifact, enr, ownerID)
}
