package pipeline

import (
	"context"
	"time"

	"repin/internal/models"
)

// FetchResult is a successfully downloaded artifact plus the metadata the
// fetcher scraped from the source page.
type FetchResult struct {
	ArtifactPath string
	Metadata     models.SourceMetadata
}

// Fetcher turns a source URL into a local media artifact. Invoked once per
// attempt; any internal retrying belongs to the policy layer, not here.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) (FetchResult, error)
}

// Enricher produces publish-ready title/description/tags for an artifact.
type Enricher interface {
	Generate(ctx context.Context, artifactPath string, meta models.SourceMetadata) (models.Enrichment, error)
}

// Publisher uploads the artifact under the owner's credential and returns
// the platform video id.
type Publisher interface {
	Publish(ctx context.Context, artifactPath string, enrichment models.Enrichment, ownerID string) (string, error)
}

// Limiter gates publishes per owner. A false CanPublish is a deferral, not a
// failure: the item waits in downloaded without consuming an attempt.
type Limiter interface {
	CanPublish(ctx context.Context, ownerID string, now time.Time) (bool, error)
	RecordPublish(ctx context.Context, ownerID string, now time.Time) error
}

// Archiver retains a copy of the artifact after a successful publish, before
// the local file is removed. Optional; archive errors never fail a run.
type Archiver interface {
	Archive(ctx context.Context, artifactPath, key string) (string, error)
}

// Store is the slice of the work item store the runner drives transitions
// through. *store.Store satisfies it.
type Store interface {
	NextEligible(ctx context.Context) (*models.WorkItem, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkDownloaded(ctx context.Context, id, artifactPath string, meta models.SourceMetadata) error
	RequeueForRetry(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error
	MarkPublished(ctx context.Context, id, publishedID string, publishedAt time.Time) error
	ListProcessing(ctx context.Context) ([]models.WorkItem, error)
	CountEligible(ctx context.Context) (int64, error)
}
