// Package fetch adapts the out-of-process Pinterest downloader script to the
// pipeline's Fetcher contract. The script does its own HLS negotiation and
// ffmpeg merging; this side only spawns it and consumes the JSON result.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"repin/internal/models"
	"repin/internal/pipeline"
)

// ScriptFetcher runs `python3 <script> <url> <output_dir>` and parses the
// single JSON object the script prints on stdout.
type ScriptFetcher struct {
	PythonBin  string
	ScriptPath string
	OutputDir  string
	Timeout    time.Duration
}

// NewScriptFetcher builds a fetcher with defaults filled in.
func NewScriptFetcher(pythonBin, scriptPath, outputDir string, timeout time.Duration) *ScriptFetcher {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &ScriptFetcher{
		PythonBin:  pythonBin,
		ScriptPath: scriptPath,
		OutputDir:  outputDir,
		Timeout:    timeout,
	}
}

type scriptResult struct {
	Success  bool   `json:"success"`
	FilePath string `json:"filePath"`
	Error    string `json:"error"`
	Metadata struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Keywords    []string `json:"keywords"`
	} `json:"metadata"`
}

// Fetch downloads the media behind sourceURL into the output directory.
func (f *ScriptFetcher) Fetch(ctx context.Context, sourceURL string) (pipeline.FetchResult, error) {
	if err := os.MkdirAll(f.OutputDir, 0o755); err != nil {
		return pipeline.FetchResult{}, pipeline.Transient("create download dir: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.PythonBin, f.ScriptPath, sourceURL, f.OutputDir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pipeline.FetchResult{}, pipeline.Transient("downloader timed out after %s", f.Timeout)
	}

	res, parseErr := parseResult(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return pipeline.FetchResult{}, pipeline.Transient("downloader exited: %v, stderr: %s", runErr, strings.TrimSpace(stderr.String()))
		}
		return pipeline.FetchResult{}, pipeline.Transient("downloader produced unreadable output: %v", parseErr)
	}

	if !res.Success {
		return pipeline.FetchResult{}, classifyScriptError(res.Error)
	}
	if res.FilePath == "" {
		return pipeline.FetchResult{}, pipeline.Transient("downloader reported success without a file path")
	}
	if _, err := os.Stat(res.FilePath); err != nil {
		return pipeline.FetchResult{}, pipeline.Transient("downloaded file missing: %v", err)
	}

	return pipeline.FetchResult{
		ArtifactPath: res.FilePath,
		Metadata: models.SourceMetadata{
			Title:       res.Metadata.Title,
			Description: res.Metadata.Description,
			Keywords:    res.Metadata.Keywords,
		},
	}, nil
}

func parseResult(out []byte) (scriptResult, error) {
	var res scriptResult
	// The script may emit progress noise before the result object; take the
	// last non-empty line.
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &res); err == nil {
			return res, nil
		}
	}
	return res, errors.New("no JSON result line found")
}

// Source-side failures that retrying cannot fix.
var permanentMarkers = []string{
	"invalid url",
	"could not find video",
	"could not find downloadable video",
	"usage:",
}

func classifyScriptError(msg string) error {
	lowered := strings.ToLower(msg)
	for _, marker := range permanentMarkers {
		if strings.Contains(lowered, marker) {
			return pipeline.Permanent("downloader: %s", msg)
		}
	}
	return pipeline.Transient("downloader: %s", msg)
}
