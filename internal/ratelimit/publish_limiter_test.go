package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, interval time.Duration) *PublishLimiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewPublishLimiter(client, interval)
}

func TestPublishLimiter_FirstPublishAllowed(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, 2*time.Hour)

	allowed, err := limiter.CanPublish(ctx, "owner-1", time.Now())
	if err != nil {
		t.Fatalf("can publish: %v", err)
	}
	if !allowed {
		t.Fatalf("expected first publish to be allowed")
	}
}

func TestPublishLimiter_WithinIntervalRejected(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, 2*time.Hour)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := limiter.RecordPublish(ctx, "owner-1", base); err != nil {
		t.Fatalf("record publish: %v", err)
	}

	allowed, err := limiter.CanPublish(ctx, "owner-1", base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("can publish: %v", err)
	}
	if allowed {
		t.Fatalf("expected publish 30m after last one to be rejected")
	}

	allowed, _ = limiter.CanPublish(ctx, "owner-1", base.Add(2*time.Hour))
	if !allowed {
		t.Fatalf("expected publish exactly at the interval boundary to be allowed")
	}
}

func TestPublishLimiter_OwnersIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, 2*time.Hour)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := limiter.RecordPublish(ctx, "owner-1", base); err != nil {
		t.Fatalf("record publish: %v", err)
	}

	allowed, err := limiter.CanPublish(ctx, "owner-2", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("can publish: %v", err)
	}
	if !allowed {
		t.Fatalf("expected other owner to be unaffected")
	}
}

func TestPublishLimiter_RecordKeepsLatest(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t, time.Hour)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := limiter.RecordPublish(ctx, "owner-1", base); err != nil {
		t.Fatalf("record publish: %v", err)
	}
	// A stale record must not roll the window back.
	if err := limiter.RecordPublish(ctx, "owner-1", base.Add(-30*time.Minute)); err != nil {
		t.Fatalf("record stale publish: %v", err)
	}

	allowed, _ := limiter.CanPublish(ctx, "owner-1", base.Add(45*time.Minute))
	if allowed {
		t.Fatalf("expected stale record to be ignored, publish still rejected")
	}
}
