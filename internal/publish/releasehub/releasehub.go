// Package releasehub implements the release-store publish target: it creates
// a release record on a source-control hosting API and uploads the artifact
// bytes as release assets.
package releasehub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/autoship/autoship/internal/build"
	"github.com/autoship/autoship/internal/gitops"
	"github.com/autoship/autoship/internal/publish"
)

// HTTPClient is the transport surface the target needs. *http.Client
// satisfies it; tests substitute a fake.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the release-store target.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.example.com".
	BaseURL string

	// Token authenticates API calls.
	Token string

	// Project is the project identifier releases are created under.
	Project string

	// Mandatory marks this target's failure as fatal for the run.
	Mandatory bool

	// Policy overrides the default retry policy when non-zero.
	Policy publish.Policy
}

// Target publishes releases to a release-store API.
type Target struct {
	config Config
	client HTTPClient
}

// New creates the release-store target. A nil client defaults to
// http.DefaultClient.
func New(config Config, client HTTPClient) *Target {
	if client == nil {
		client = http.DefaultClient
	}
	return &Target{config: config, client: client}
}

// Name returns the target identifier.
func (t *Target) Name() string { return "release-store" }

// Mandatory reports whether this target's failure fails the whole run.
func (t *Target) Mandatory() bool { return t.config.Mandatory }

// Policy returns the target's retry policy.
func (t *Target) Policy() publish.Policy {
	if t.config.Policy.MaxAttempts > 0 {
		return t.config.Policy
	}
	return publish.DefaultPolicy()
}

// releaseRequest is the JSON body for release creation.
type releaseRequest struct {
	TagName  string          `json:"tag_name"`
	Commit   string          `json:"commit"`
	Name     string          `json:"name"`
	Body     string          `json:"body"`
	Manifest *build.Manifest `json:"manifest,omitempty"`
}

// Publish creates the release record and uploads every artifact.
// Missing endpoint or credentials yield publish.ErrNotConfigured.
func (t *Target) Publish(ctx context.Context, tag *gitops.ReleaseTag, artifacts []build.Artifact, manifest *build.Manifest) error {
	if t.config.BaseURL == "" || t.config.Token == "" || t.config.Project == "" {
		return fmt.Errorf("%w: release-store needs base URL, token, and project", publish.ErrNotConfigured)
	}

	if err := t.createRelease(ctx, tag, manifest); err != nil {
		return err
	}
	for _, artifact := range artifacts {
		if err := t.uploadAsset(ctx, tag, artifact); err != nil {
			return err
		}
	}
	return nil
}

func (t *Target) createRelease(ctx context.Context, tag *gitops.ReleaseTag, manifest *build.Manifest) error {
	body, err := json.Marshal(releaseRequest{
		TagName:  tag.Name,
		Commit:   tag.Commit,
		Name:     tag.Name,
		Body:     tag.Annotation,
		Manifest: manifest,
	})
	if err != nil {
		return fmt.Errorf("failed to encode release: %w", err)
	}

	endpoint := fmt.Sprintf("%s/projects/%s/releases",
		t.config.BaseURL, url.PathEscape(t.config.Project))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// A retried Publish re-creates the release; the store answering
	// conflict means the record from an earlier attempt is already in
	// place, so the retry proceeds to the asset uploads.
	return t.do(req, "create release", http.StatusConflict)
}

func (t *Target) uploadAsset(ctx context.Context, tag *gitops.ReleaseTag, artifact build.Artifact) error {
	endpoint := fmt.Sprintf("%s/projects/%s/releases/%s/assets/%s",
		t.config.BaseURL,
		url.PathEscape(t.config.Project),
		url.PathEscape(tag.Name),
		url.PathEscape(artifact.Name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(artifact.Bytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Checksum-Sha256", artifact.SHA256)

	return t.do(req, fmt.Sprintf("upload asset %q", artifact.Name))
}

func (t *Target) do(req *http.Request, op string, tolerate ...int) error {
	req.Header.Set("Authorization", "Bearer "+t.config.Token)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	for _, code := range tolerate {
		if resp.StatusCode == code {
			return nil
		}
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, detail)
}
