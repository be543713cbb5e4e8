// Package enrich generates publish-ready video metadata from the scraped
// source metadata, via an OpenAI-compatible chat completions endpoint.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"repin/internal/models"
	"repin/internal/pipeline"
)

const (
	maxTitleLen = 100
	maxTags     = 15
)

// LLMEnricher calls a chat completions API with bearer auth. With an empty
// API key it falls back to metadata derived directly from the source page,
// which keeps local development runnable without credentials.
type LLMEnricher struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

func NewLLMEnricher(baseURL, apiKey, model string) *LLMEnricher {
	return &LLMEnricher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Generate produces title/description/tags for the artifact.
func (e *LLMEnricher) Generate(ctx context.Context, artifactPath string, meta models.SourceMetadata) (models.Enrichment, error) {
	if e.APIKey == "" {
		return fallbackEnrichment(meta), nil
	}

	content, err := e.complete(ctx, buildPrompt(meta))
	if err != nil {
		return models.Enrichment{}, err
	}

	enrichment, err := parseEnrichment(content)
	if err != nil {
		return models.Enrichment{}, pipeline.Transient("unparseable model output: %v", err)
	}
	return clamp(enrichment, meta), nil
}

func buildPrompt(meta models.SourceMetadata) string {
	var b strings.Builder
	b.WriteString("You write metadata for short food and lifestyle videos republished to YouTube.\n")
	b.WriteString("Given the source page metadata below, respond with a single JSON object with keys ")
	b.WriteString(`"title" (under 100 characters, no hashtags), "description" (2-3 sentences), and "tags" (up to 15 short strings).`)
	b.WriteString("\n\nSource title: ")
	b.WriteString(meta.Title)
	b.WriteString("\nSource description: ")
	b.WriteString(meta.Description)
	if len(meta.Keywords) > 0 {
		b.WriteString("\nSource keywords: ")
		b.WriteString(strings.Join(meta.Keywords, ", "))
	}
	return b.String()
}

func (e *LLMEnricher) complete(ctx context.Context, prompt string) (string, error) {
	payload := map[string]interface{}{
		"model": e.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.7,
	}

	payloadBytes, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/chat/completions", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", pipeline.Transient("build llm request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := e.Client.Do(req)
	if err != nil {
		return "", pipeline.Transient("llm request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pipeline.Transient("read llm response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", pipeline.Permanent("llm rejected credentials: status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return "", pipeline.Transient("llm server error: status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", pipeline.Transient("llm rate limited: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", pipeline.Permanent("llm rejected request: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", pipeline.Transient("decode llm response: %v", err)
	}
	if len(result.Choices) == 0 {
		return "", pipeline.Transient("llm returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

func parseEnrichment(content string) (models.Enrichment, error) {
	// Models frequently wrap JSON in a markdown fence.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var enrichment models.Enrichment
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &enrichment); err != nil {
		return models.Enrichment{}, err
	}
	if enrichment.Title == "" {
		return models.Enrichment{}, fmt.Errorf("missing title")
	}
	return enrichment, nil
}

func clamp(enrichment models.Enrichment, meta models.SourceMetadata) models.Enrichment {
	enrichment.Title = truncate(enrichment.Title, maxTitleLen)
	if len(enrichment.Tags) > maxTags {
		enrichment.Tags = enrichment.Tags[:maxTags]
	}
	if enrichment.Description == "" {
		enrichment.Description = meta.Description
	}
	return enrichment
}

func fallbackEnrichment(meta models.SourceMetadata) models.Enrichment {
	title := meta.Title
	if title == "" {
		title = "Untitled video"
	}
	return models.Enrichment{
		Title:       truncate(title, maxTitleLen),
		Description: meta.Description,
		Tags:        meta.Keywords,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
