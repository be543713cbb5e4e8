package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"repin/internal/models"
)

// Store wraps pgxpool for work item persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const itemColumns = `id, source_url, owner_id, status, attempts, max_attempts, next_attempt_at,
	last_error, artifact_path, source_title, source_description, source_keywords,
	published_id, created_at, updated_at, published_at`

// CreateItemParams collects inputs required to insert a work item.
type CreateItemParams struct {
	SourceURL   string
	OwnerID     string
	MaxAttempts int
}

// CreateItem inserts a new work item in status queued.
func (s *Store) CreateItem(ctx context.Context, p CreateItemParams) (models.WorkItem, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO work_items (id, source_url, owner_id, status, attempts, max_attempts, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $6, $6)
	`, id, p.SourceURL, p.OwnerID, models.StatusQueued, p.MaxAttempts, now)
	if err != nil {
		return models.WorkItem{}, fmt.Errorf("insert work item: %w", err)
	}

	return models.WorkItem{
		ID:            id,
		SourceURL:     p.SourceURL,
		OwnerID:       p.OwnerID,
		Status:        models.StatusQueued,
		Attempts:      0,
		MaxAttempts:   p.MaxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// GetItem fetches a work item by id.
func (s *Store) GetItem(ctx context.Context, id string) (models.WorkItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WorkItem{}, fmt.Errorf("work item not found: %w", err)
	}
	return item, err
}

// ListItems returns the most recently created items, newest first.
func (s *Store) ListItems(ctx context.Context, limit int) ([]models.WorkItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM work_items ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []models.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextEligible selects the next item the pipeline should work on: queued
// items whose due time has passed, plus downloaded items waiting out the
// publish rate limit. FIFO by created_at across both pools, so selection is
// deterministic. Returns nil when nothing is due.
func (s *Store) NextEligible(ctx context.Context) (*models.WorkItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+itemColumns+` FROM work_items
		WHERE (status = $1 AND next_attempt_at <= NOW()) OR status = $2
		ORDER BY created_at
		LIMIT 1
	`, models.StatusQueued, models.StatusDownloaded)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// MarkProcessing transitions a queued item to processing. The WHERE clause is
// the compare-and-set backing the exclusivity guard: it reports false if the
// item is no longer queued.
func (s *Store) MarkProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE work_items SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.StatusProcessing, models.StatusQueued)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkDownloaded records a fetched artifact and the scraped source metadata.
func (s *Store) MarkDownloaded(ctx context.Context, id, artifactPath string, meta models.SourceMetadata) error {
	keywords := meta.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE work_items
		SET status = $2, artifact_path = $3, source_title = $4, source_description = $5,
		    source_keywords = $6, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusDownloaded, artifactPath, meta.Title, meta.Description, keywords)
	return err
}

// RequeueForRetry returns an item to queued with a scheduled due time after a
// retryable failure. The artifact reference is dropped; the runner has
// already released the file.
func (s *Store) RequeueForRetry(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE work_items
		SET status = $2, attempts = $3, next_attempt_at = $4, last_error = $5,
		    artifact_path = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusQueued, attempts, nextAttempt, lastErr)
	return err
}

// MarkFailed moves an item to its terminal failed state.
func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE work_items
		SET status = $2, attempts = $3, last_error = $4, artifact_path = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusFailed, attempts, lastErr)
	return err
}

// MarkPublished records the platform video id and completes the item.
func (s *Store) MarkPublished(ctx context.Context, id, publishedID string, publishedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE work_items
		SET status = $2, published_id = $3, published_at = $4,
		    artifact_path = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusPublished, publishedID, publishedAt)
	return err
}

// ListProcessing returns items left in processing, which after a restart can
// only mean an interrupted attempt.
func (s *Store) ListProcessing(ctx context.Context) ([]models.WorkItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM work_items WHERE status = $1 ORDER BY created_at
	`, models.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("list processing items: %w", err)
	}
	defer rows.Close()

	var items []models.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountEligible reports how many items are currently due, for the queue depth gauge.
func (s *Store) CountEligible(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM work_items
		WHERE (status = $1 AND next_attempt_at <= NOW()) OR status = $2
	`, models.StatusQueued, models.StatusDownloaded).Scan(&n); err != nil {
		return 0, fmt.Errorf("count eligible items: %w", err)
	}
	return n, nil
}

func scanItem(row pgx.Row) (models.WorkItem, error) {
	var item models.WorkItem
	var lastErr, artifact, title, desc, publishedID pgtype.Text
	var publishedAt pgtype.Timestamptz

	if err := row.Scan(
		&item.ID, &item.SourceURL, &item.OwnerID, &item.Status,
		&item.Attempts, &item.MaxAttempts, &item.NextAttemptAt,
		&lastErr, &artifact, &title, &desc, &item.Source.Keywords,
		&publishedID, &item.CreatedAt, &item.UpdatedAt, &publishedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.WorkItem{}, err
		}
		return models.WorkItem{}, fmt.Errorf("scan work item: %w", err)
	}

	item.LastError = textPtr(lastErr)
	item.ArtifactPath = textPtr(artifact)
	item.Source.Title = title.String
	item.Source.Description = desc.String
	item.PublishedID = textPtr(publishedID)
	if publishedAt.Valid {
		t := publishedAt.Time
		item.PublishedAt = &t
	}
	return item, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
