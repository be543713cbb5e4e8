package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"repin/internal/models"
	"repin/internal/pipeline"
)

// writeStubScript drops a shell script that mimics the downloader's JSON
// contract, so these tests need no Python installation.
func writeStubScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub script: %v", err)
	}
	return path
}

func newStubFetcher(t *testing.T, body string) *ScriptFetcher {
	t.Helper()
	script := writeStubScript(t, body)
	return NewScriptFetcher("/bin/sh", script, t.TempDir(), 10*time.Second)
}

func TestFetch_Success(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(artifact, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	body := fmt.Sprintf(`echo '{"success": true, "filePath": "%s", "metadata": {"title": "Tart", "description": "A tart.", "keywords": ["baking", "dessert"]}}'`, artifact)
	f := newStubFetcher(t, body)

	res, err := f.Fetch(context.Background(), "https://pin.it/abc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.ArtifactPath != artifact {
		t.Fatalf("artifact path = %s, want %s", res.ArtifactPath, artifact)
	}
	want := models.SourceMetadata{Title: "Tart", Description: "A tart.", Keywords: []string{"baking", "dessert"}}
	if res.Metadata.Title != want.Title || res.Metadata.Description != want.Description {
		t.Fatalf("metadata = %+v, want %+v", res.Metadata, want)
	}
	if len(res.Metadata.Keywords) != 2 {
		t.Fatalf("keywords = %v", res.Metadata.Keywords)
	}
}

func TestFetch_SkipsProgressNoise(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(artifact, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	body := fmt.Sprintf("echo 'downloading 45%%'\necho '{\"success\": true, \"filePath\": \"%s\", \"metadata\": {}}'", artifact)
	f := newStubFetcher(t, body)

	res, err := f.Fetch(context.Background(), "https://pin.it/abc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.ArtifactPath != artifact {
		t.Fatalf("artifact path = %s", res.ArtifactPath)
	}
}

func TestFetch_PermanentScriptError(t *testing.T) {
	body := `echo '{"success": false, "error": "Could not find video URL on Pinterest page"}'
exit 1`
	f := newStubFetcher(t, body)

	_, err := f.Fetch(context.Background(), "https://pin.it/abc")
	if err == nil {
		t.Fatalf("expected error")
	}
	if pipeline.KindOf(err) != models.FailurePermanent {
		t.Fatalf("kind = %s, want permanent: %v", pipeline.KindOf(err), err)
	}
}

func TestFetch_TransientScriptError(t *testing.T) {
	body := `echo '{"success": false, "error": "Failed to fetch Pinterest page"}'
exit 1`
	f := newStubFetcher(t, body)

	_, err := f.Fetch(context.Background(), "https://pin.it/abc")
	if err == nil {
		t.Fatalf("expected error")
	}
	if pipeline.KindOf(err) != models.FailureTransient {
		t.Fatalf("kind = %s, want transient: %v", pipeline.KindOf(err), err)
	}
}

func TestFetch_CrashWithoutJSONIsTransient(t *testing.T) {
	body := `echo 'Traceback (most recent call last):' >&2
exit 2`
	f := newStubFetcher(t, body)

	_, err := f.Fetch(context.Background(), "https://pin.it/abc")
	if err == nil {
		t.Fatalf("expected error")
	}
	if pipeline.KindOf(err) != models.FailureTransient {
		t.Fatalf("kind = %s, want transient: %v", pipeline.KindOf(err), err)
	}
}

func TestFetch_TimeoutIsTransient(t *testing.T) {
	script := writeStubScript(t, "sleep 5")
	f := NewScriptFetcher("/bin/sh", script, t.TempDir(), 100*time.Millisecond)

	_, err := f.Fetch(context.Background(), "https://pin.it/abc")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if pipeline.KindOf(err) != models.FailureTransient {
		t.Fatalf("kind = %s, want transient: %v", pipeline.KindOf(err), err)
	}
}

func TestFetch_MissingFileIsTransient(t *testing.T) {
	body := `echo '{"success": true, "filePath": "/nonexistent/video.mp4", "metadata": {}}'`
	f := newStubFetcher(t, body)

	_, err := f.Fetch(context.Background(), "https://pin.it/abc")
	if err == nil {
		t.Fatalf("expected error")
	}
	if pipeline.KindOf(err) != models.FailureTransient {
		t.Fatalf("kind = %s, want transient: %v", pipeline.KindOf(err), err)
	}
}
