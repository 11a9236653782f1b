// Package objectstore implements the object-storage publish target: release
// artifacts and the build manifest are uploaded to an S3 bucket under a
// per-version key prefix.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"github.com/autoship/autoship/internal/build"
	"github.com/autoship/autoship/internal/gitops"
	"github.com/autoship/autoship/internal/publish"
)

// S3API is the S3 surface the target needs. *s3.Client satisfies it;
// tests substitute a fake.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config configures the object-storage target.
type Config struct {
	// Bucket is the destination bucket. Empty means not configured.
	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	// Region is the bucket's region.
	Region string

	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string

	// Mandatory marks this target's failure as fatal for the run.
	Mandatory bool

	// Policy overrides the default retry policy when non-zero.
	Policy publish.Policy
}

// Target publishes releases to object storage.
type Target struct {
	config Config
	client S3API
}

// New creates the object-storage target over an existing S3 client.
func New(config Config, client S3API) *Target {
	return &Target{config: config, client: client}
}

// NewFromEnv creates the target with a real S3 client built from the
// default AWS credential chain. It is not an error to call this without
// credentials: the target reports itself skipped at publish time.
func NewFromEnv(ctx context.Context, config Config) (*Target, error) {
	if config.Bucket == "" {
		return New(config, nil), nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if config.Region != "" {
		cfg.Region = config.Region
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(config, client), nil
}

// Name returns the target identifier.
func (t *Target) Name() string { return "object-storage" }

// Mandatory reports whether this target's failure fails the whole run.
func (t *Target) Mandatory() bool { return t.config.Mandatory }

// Policy returns the target's retry policy.
func (t *Target) Policy() publish.Policy {
	if t.config.Policy.MaxAttempts > 0 {
		return t.config.Policy
	}
	return publish.DefaultPolicy()
}

// Publish uploads every artifact plus the manifest under the version's key
// prefix. A missing bucket or client yields publish.ErrNotConfigured.
func (t *Target) Publish(ctx context.Context, tag *gitops.ReleaseTag, artifacts []build.Artifact, manifest *build.Manifest) error {
	if t.config.Bucket == "" || t.client == nil {
		return fmt.Errorf("%w: object storage needs a bucket and credentials", publish.ErrNotConfigured)
	}

	for _, artifact := range artifacts {
		key := t.key(tag, artifact.Name)
		if err := t.put(ctx, key, artifact.Bytes, artifact.SHA256); err != nil {
			return err
		}
	}

	data, err := manifestJSON(manifest)
	if err != nil {
		return err
	}
	return t.put(ctx, t.key(tag, "manifest.json"), data, "")
}

func (t *Target) key(tag *gitops.ReleaseTag, name string) string {
	return path.Join(t.config.Prefix, tag.Name, name)
}

func (t *Target) put(ctx context.Context, key string, data []byte, checksum string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(t.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimetype.Detect(data).String()),
	}
	if checksum != "" {
		input.Metadata = map[string]string{"sha256": checksum}
	}

	if _, err := t.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %q: %w", key, err)
	}
	return nil
}

func manifestJSON(manifest *build.Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return data, nil
}
