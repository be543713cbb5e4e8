// Package publish uploads finished artifacts to YouTube under the owning
// user's OAuth credential.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"repin/internal/models"
	"repin/internal/pipeline"
)

const (
	defaultUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos"
	defaultTokenURL  = "https://oauth2.googleapis.com/token"
)

// CredentialStore resolves the OAuth refresh token for an owner. Token
// acquisition and storage is outside the pipeline; this is the narrow
// interface it is consumed through.
type CredentialStore interface {
	Credential(ctx context.Context, ownerID string) (*oauth2.Token, error)
}

// StaticCredentials serves one refresh token for every owner. Single-channel
// deployments configure it straight from the environment.
type StaticCredentials struct {
	RefreshToken string
}

func (s StaticCredentials) Credential(_ context.Context, ownerID string) (*oauth2.Token, error) {
	if s.RefreshToken == "" {
		return nil, pipeline.Permanent("no credential configured for owner %s", ownerID)
	}
	return &oauth2.Token{RefreshToken: s.RefreshToken}, nil
}

// YouTubePublisher performs the two-step resumable upload: an init request
// carrying snippet/status JSON, then a PUT of the media bytes to the session
// URI YouTube hands back.
type YouTubePublisher struct {
	conf      *oauth2.Config
	creds     CredentialStore
	uploadURL string
	privacy   string
	client    *http.Client
}

// NewYouTubePublisher wires the OAuth config and credential source. privacy
// is the privacyStatus applied to uploads (private by default).
func NewYouTubePublisher(clientID, clientSecret, privacy string, creds CredentialStore) *YouTubePublisher {
	if privacy == "" {
		privacy = "private"
	}
	return &YouTubePublisher{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: defaultTokenURL},
			Scopes:       []string{"https://www.googleapis.com/auth/youtube.upload"},
		},
		creds:     creds,
		uploadURL: defaultUploadURL,
		privacy:   privacy,
		client:    &http.Client{Timeout: 15 * time.Minute},
	}
}

// WithEndpoints overrides the upload and token URLs. Test hook.
func (p *YouTubePublisher) WithEndpoints(uploadURL, tokenURL string) *YouTubePublisher {
	p.uploadURL = uploadURL
	p.conf.Endpoint = oauth2.Endpoint{TokenURL: tokenURL}
	return p
}

type videoSnippet struct {
	Snippet struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags,omitempty"`
		CategoryID  string   `json:"categoryId"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status"`
}

// Publish uploads the artifact and returns the YouTube video id.
func (p *YouTubePublisher) Publish(ctx context.Context, artifactPath string, enrichment models.Enrichment, ownerID string) (string, error) {
	token, err := p.creds.Credential(ctx, ownerID)
	if err != nil {
		return "", err
	}

	access, err := p.conf.TokenSource(ctx, token).Token()
	if err != nil {
		return "", classifyTokenError(err)
	}

	sessionURI, err := p.initUpload(ctx, access.AccessToken, enrichment)
	if err != nil {
		return "", err
	}

	return p.uploadMedia(ctx, access.AccessToken, sessionURI, artifactPath)
}

func (p *YouTubePublisher) initUpload(ctx context.Context, accessToken string, enrichment models.Enrichment) (string, error) {
	var body videoSnippet
	body.Snippet.Title = enrichment.Title
	body.Snippet.Description = enrichment.Description
	body.Snippet.Tags = enrichment.Tags
	body.Snippet.CategoryID = "22" // People & Blogs
	body.Status.PrivacyStatus = p.privacy

	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.uploadURL+"?uploadType=resumable&part=snippet,status", bytes.NewReader(payload))
	if err != nil {
		return "", pipeline.Transient("build upload init request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", pipeline.Transient("upload init request: %v", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("upload init", resp); err != nil {
		return "", err
	}

	sessionURI := resp.Header.Get("Location")
	if sessionURI == "" {
		return "", pipeline.Transient("upload init returned no session uri")
	}
	return sessionURI, nil
}

func (p *YouTubePublisher) uploadMedia(ctx context.Context, accessToken, sessionURI, artifactPath string) (string, error) {
	file, err := os.Open(artifactPath)
	if err != nil {
		return "", pipeline.Transient("open artifact: %v", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", pipeline.Transient("stat artifact: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURI, file)
	if err != nil {
		return "", pipeline.Transient("build media upload request: %v", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", pipeline.Transient("media upload request: %v", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus("media upload", resp); err != nil {
		return "", err
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", pipeline.Transient("decode upload response: %v", err)
	}
	if result.ID == "" {
		return "", pipeline.Transient("upload response missing video id")
	}
	return result.ID, nil
}

func classifyStatus(stage string, resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return pipeline.Permanent("%s unauthorized: status %d", stage, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return pipeline.Transient("%s rate limited: status %d", stage, resp.StatusCode)
	case resp.StatusCode >= 500:
		return pipeline.Transient("%s server error: status %d", stage, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pipeline.Permanent("%s rejected: status %d: %s", stage, resp.StatusCode, bytes.TrimSpace(body))
	}
}

func classifyTokenError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		// A 4xx from the token endpoint (invalid_grant, revoked or expired
		// refresh token) cannot be fixed by retrying.
		if retrieve.Response != nil && retrieve.Response.StatusCode < 500 {
			return pipeline.Permanent("refresh access token: %v", err)
		}
	}
	return pipeline.Transient("refresh access token: %v", err)
}
