package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"repin/internal/models"
	"repin/internal/pipeline"
)

func completionServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Bearer ") {
			t.Errorf("missing bearer auth, got %q", auth)
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]string{"content": content}},
				},
			})
		}
	}))
}

func TestGenerate_ParsesModelOutput(t *testing.T) {
	content := "```json\n" + `{"title": "Perfect Lemon Tart in 60 Seconds", "description": "A quick tart.", "tags": ["baking", "dessert"]}` + "\n```"
	srv := completionServer(t, http.StatusOK, content)
	defer srv.Close()

	e := NewLLMEnricher(srv.URL, "test-key", "test-model")
	got, err := e.Generate(context.Background(), "/tmp/video.mp4", models.SourceMetadata{Title: "Lemon tart"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Title != "Perfect Lemon Tart in 60 Seconds" {
		t.Fatalf("title = %q", got.Title)
	}
	if len(got.Tags) != 2 {
		t.Fatalf("tags = %v", got.Tags)
	}
}

func TestGenerate_TruncatesLongTitle(t *testing.T) {
	long := strings.Repeat("a", 150)
	srv := completionServer(t, http.StatusOK, `{"title": "`+long+`", "description": "d", "tags": []}`)
	defer srv.Close()

	e := NewLLMEnricher(srv.URL, "test-key", "test-model")
	got, err := e.Generate(context.Background(), "", models.SourceMetadata{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got.Title) != maxTitleLen {
		t.Fatalf("title length = %d, want %d", len(got.Title), maxTitleLen)
	}
}

func TestGenerate_ServerErrorIsTransient(t *testing.T) {
	srv := completionServer(t, http.StatusBadGateway, "")
	defer srv.Close()

	e := NewLLMEnricher(srv.URL, "test-key", "test-model")
	_, err := e.Generate(context.Background(), "", models.SourceMetadata{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if pipeline.KindOf(err) != models.FailureTransient {
		t.Fatalf("kind = %s, want transient", pipeline.KindOf(err))
	}
}

func TestGenerate_UnauthorizedIsPermanent(t *testing.T) {
	srv := completionServer(t, http.StatusUnauthorized, "")
	defer srv.Close()

	e := NewLLMEnricher(srv.URL, "bad-key", "test-model")
	_, err := e.Generate(context.Background(), "", models.SourceMetadata{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if pipeline.KindOf(err) != models.FailurePermanent {
		t.Fatalf("kind = %s, want permanent", pipeline.KindOf(err))
	}
}

func TestGenerate_GarbageOutputIsTransient(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "Sure! Here are some ideas for your video...")
	defer srv.Close()

	e := NewLLMEnricher(srv.URL, "test-key", "test-model")
	_, err := e.Generate(context.Background(), "", models.SourceMetadata{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if pipeline.KindOf(err) != models.FailureTransient {
		t.Fatalf("kind = %s, want transient", pipeline.KindOf(err))
	}
}

func TestGenerate_NoKeyFallsBackToSourceMetadata(t *testing.T) {
	e := NewLLMEnricher("http://unused", "", "test-model")
	got, err := e.Generate(context.Background(), "", models.SourceMetadata{
		Title:       "Lemon tart",
		Description: "Crispy base.",
		Keywords:    []string{"baking"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Title != "Lemon tart" || got.Description != "Crispy base." || len(got.Tags) != 1 {
		t.Fatalf("fallback enrichment = %+v", got)
	}
}
