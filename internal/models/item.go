package models

import (
	"time"
)

// Work item lifecycle states persisted in Postgres.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDownloaded = "downloaded"
	StatusPublished  = "published"
	StatusFailed     = "failed"
)

// FailureKind classifies a collaborator failure for retry purposes.
type FailureKind string

const (
	// FailureTransient covers network errors, timeouts, and external 5xx.
	FailureTransient FailureKind = "transient"
	// FailurePermanent covers malformed sources, unauthorized credentials,
	// and not-found responses. Never retried.
	FailurePermanent FailureKind = "permanent"
)

// RunOutcome is the structured result of a single pipeline run.
type RunOutcome string

const (
	OutcomePublished RunOutcome = "published"
	OutcomeRequeued  RunOutcome = "requeued"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeDeferred  RunOutcome = "deferred"
	OutcomeIdle      RunOutcome = "idle"
	OutcomeBusy      RunOutcome = "busy"
)

// SourceMetadata is what the fetcher scraped off the source page. It seeds
// the enrichment prompt and is persisted alongside the item.
type SourceMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// Enrichment is the publish-ready metadata produced for an artifact.
type Enrichment struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// WorkItem represents one source-to-published unit tracked in Postgres.
type WorkItem struct {
	ID            string         `json:"id"`
	SourceURL     string         `json:"source_url"`
	OwnerID       string         `json:"owner_id"`
	Status        string         `json:"status"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"max_attempts"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	LastError     *string        `json:"last_error,omitempty"`
	ArtifactPath  *string        `json:"artifact_path,omitempty"`
	Source        SourceMetadata `json:"source"`
	PublishedID   *string        `json:"published_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	PublishedAt   *time.Time     `json:"published_at,omitempty"`
}
