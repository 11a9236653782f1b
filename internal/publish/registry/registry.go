// Package registry implements the artifact-repository publish target:
// release artifacts are pushed to an OCI registry as blobs of a packed
// OCI 1.1 manifest tagged with the release tag.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/autoship/autoship/internal/build"
	"github.com/autoship/autoship/internal/gitops"
	"github.com/autoship/autoship/internal/publish"
)

// ArtifactType identifies release manifests pushed by this target.
const ArtifactType = "application/vnd.autoship.release.v1"

// mediaTypes maps artifact kinds to OCI layer media types.
var mediaTypes = map[build.ArtifactKind]string{
	build.KindBinary:        "application/vnd.autoship.artifact.binary.v1",
	build.KindSourceArchive: "application/vnd.autoship.artifact.source.v1.tar+gzip",
}

// manifestMediaType is the layer media type for the build manifest.
const manifestMediaType = "application/vnd.autoship.manifest.v1+json"

// Config configures the artifact-repository target.
type Config struct {
	// Reference is the repository reference without a tag,
	// e.g. "ghcr.io/acme/calculator". Empty means not configured.
	Reference string

	// Username and Password authenticate against the registry.
	Username string
	Password string

	// PlainHTTP uses HTTP instead of HTTPS, for local registries.
	PlainHTTP bool

	// Mandatory marks this target's failure as fatal for the run.
	Mandatory bool

	// Policy overrides the default retry policy when non-zero.
	Policy publish.Policy
}

// Target publishes releases to an OCI artifact repository.
type Target struct {
	config Config

	// dest overrides the remote repository when set; tests point it at an
	// in-memory ORAS store.
	dest oras.Target
}

// New creates the artifact-repository target.
func New(config Config) *Target {
	return &Target{config: config}
}

// NewWithDestination creates the target over an explicit ORAS destination.
func NewWithDestination(config Config, dest oras.Target) *Target {
	return &Target{config: config, dest: dest}
}

// Name returns the target identifier.
func (t *Target) Name() string { return "artifact-repository" }

// Mandatory reports whether this target's failure fails the whole run.
func (t *Target) Mandatory() bool { return t.config.Mandatory }

// Policy returns the target's retry policy.
func (t *Target) Policy() publish.Policy {
	if t.config.Policy.MaxAttempts > 0 {
		return t.config.Policy
	}
	return publish.DefaultPolicy()
}

// Publish pushes every artifact blob and the build manifest, packs an
// OCI 1.1 manifest over them, and tags it with the release tag. A missing
// repository reference yields publish.ErrNotConfigured.
func (t *Target) Publish(ctx context.Context, tag *gitops.ReleaseTag, artifacts []build.Artifact, manifest *build.Manifest) error {
	dest, err := t.destination(ctx)
	if err != nil {
		return err
	}

	layers := make([]ocispec.Descriptor, 0, len(artifacts)+1)
	for _, artifact := range artifacts {
		desc, pushErr := oras.PushBytes(ctx, dest, mediaTypes[artifact.Kind], artifact.Bytes)
		if pushErr != nil {
			return fmt.Errorf("failed to push %q: %w", artifact.Name, pushErr)
		}
		if desc.Digest != digest.FromBytes(artifact.Bytes) {
			return fmt.Errorf("digest mismatch pushing %q", artifact.Name)
		}
		desc.Annotations = map[string]string{
			ocispec.AnnotationTitle: artifact.Name,
			"io.autoship.sha256":    artifact.SHA256,
		}
		layers = append(layers, desc)
	}

	manifestData, err := manifestJSON(manifest)
	if err != nil {
		return err
	}
	manifestDesc, err := oras.PushBytes(ctx, dest, manifestMediaType, manifestData)
	if err != nil {
		return fmt.Errorf("failed to push build manifest: %w", err)
	}
	manifestDesc.Annotations = map[string]string{ocispec.AnnotationTitle: "manifest.json"}
	layers = append(layers, manifestDesc)

	packed, err := oras.PackManifest(ctx, dest, oras.PackManifestVersion1_1, ArtifactType,
		oras.PackManifestOptions{
			Layers: layers,
			ManifestAnnotations: map[string]string{
				ocispec.AnnotationVersion:  tag.Version.String(),
				ocispec.AnnotationRevision: tag.Commit,
			},
		})
	if err != nil {
		return fmt.Errorf("failed to pack manifest: %w", err)
	}

	if err := dest.Tag(ctx, packed, tag.Name); err != nil {
		return fmt.Errorf("failed to tag manifest: %w", err)
	}
	return nil
}

// destination returns the configured ORAS destination, building the remote
// repository client on first use.
func (t *Target) destination(ctx context.Context) (oras.Target, error) {
	if t.dest != nil {
		return t.dest, nil
	}
	if t.config.Reference == "" {
		return nil, fmt.Errorf("%w: artifact repository needs a reference", publish.ErrNotConfigured)
	}

	repo, err := remote.NewRepository(t.config.Reference)
	if err != nil {
		return nil, fmt.Errorf("invalid repository reference %q: %w", t.config.Reference, err)
	}
	repo.PlainHTTP = t.config.PlainHTTP

	client := &auth.Client{
		Client: &http.Client{Transport: retry.NewTransport(http.DefaultTransport)},
		Cache:  auth.NewCache(),
	}
	if t.config.Username != "" {
		client.Credential = auth.StaticCredential(repo.Reference.Registry, auth.Credential{
			Username: t.config.Username,
			Password: t.config.Password,
		})
	}
	repo.Client = client

	t.dest = repo
	return repo, nil
}

func manifestJSON(manifest *build.Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode build manifest: %w", err)
	}
	return data, nil
}
