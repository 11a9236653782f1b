// Package build implements the build stage of the release pipeline: the
// verification gate against the external test-suite collaborator, and
// artifact production via the build-toolchain collaborator. Artifacts are
// immutable once produced and partial artifact sets are never returned.
package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ErrVerification is returned when the test-suite collaborator could not be
// invoked. A test suite that runs and fails is not an error: the TestResult
// reports it and the pipeline aborts on the result.
var ErrVerification = errors.New("verification failed to run")

// ErrBuild is returned when any configured artifact kind cannot be produced.
// The wrapped message carries the toolchain diagnostic. This is fatal for
// the whole run.
var ErrBuild = errors.New("build failed")

// ArtifactKind identifies a distributable artifact flavor.
type ArtifactKind string

const (
	// KindBinary is a built binary distribution.
	KindBinary ArtifactKind = "binary"

	// KindSourceArchive is a source archive of the tagged tree.
	KindSourceArchive ArtifactKind = "source-archive"
)

// TestResult is the pass/fail signal from the test-suite collaborator.
type TestResult struct {
	// Passed reports whether the suite ran clean.
	Passed bool

	// Summary is the collaborator's human-readable output tail.
	Summary string
}

// Artifact is one immutable build output.
type Artifact struct {
	// Kind is the artifact flavor.
	Kind ArtifactKind

	// Name is the artifact file name.
	Name string

	// Bytes is the artifact content.
	Bytes []byte

	// SHA256 is the hex-encoded checksum of Bytes.
	SHA256 string
}

// ManifestEntry describes one artifact in a build manifest.
type ManifestEntry struct {
	Kind   ArtifactKind `json:"kind"`
	Name   string       `json:"name"`
	Size   int          `json:"size"`
	SHA256 string       `json:"sha256"`
}

// Manifest lists every artifact produced for a version.
type Manifest struct {
	Version   string          `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Artifacts []ManifestEntry `json:"artifacts"`
}

// TestSuite is the external test-suite collaborator. It is invoked with a
// working-tree reference and reports only pass/fail plus a summary.
type TestSuite interface {
	Run(ctx context.Context, ref string) (*TestResult, error)
}

// Toolchain is the external build-toolchain collaborator. It is invoked with
// a version and an artifact kind and returns the artifact name and bytes, or
// a diagnostic error.
type Toolchain interface {
	Produce(ctx context.Context, version string, kind ArtifactKind) (name string, data []byte, err error)
}

// Stage sequences verification and artifact production for one release.
type Stage struct {
	suite     TestSuite
	toolchain Toolchain
	kinds     []ArtifactKind
}

// NewStage creates a build stage over the given collaborators.
// At least one artifact kind must be configured.
func NewStage(suite TestSuite, toolchain Toolchain, kinds []ArtifactKind) (*Stage, error) {
	if suite == nil {
		return nil, errors.New("test suite is required")
	}
	if toolchain == nil {
		return nil, errors.New("toolchain is required")
	}
	if len(kinds) == 0 {
		return nil, errors.New("at least one artifact kind is required")
	}
	return &Stage{suite: suite, toolchain: toolchain, kinds: kinds}, nil
}

// Kinds returns the configured artifact kinds.
func (s *Stage) Kinds() []ArtifactKind {
	return s.kinds
}

// Verify invokes the test-suite collaborator against the given working-tree
// reference. The pipeline runs this gate before any mutation and again after
// tagging, against the tagged commit.
func (s *Stage) Verify(ctx context.Context, ref string) (*TestResult, error) {
	result, err := s.suite.Run(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	return result, nil
}

// Build produces one artifact per configured kind, with checksums and a
// manifest. If any kind fails, no artifacts are returned: partial artifact
// sets are never published.
func (s *Stage) Build(ctx context.Context, version *semver.Version) ([]Artifact, *Manifest, error) {
	artifacts := make([]Artifact, 0, len(s.kinds))
	for _, kind := range s.kinds {
		name, data, err := s.toolchain.Produce(ctx, version.String(), kind)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: artifact kind %q: %v", ErrBuild, kind, err)
		}
		if len(data) == 0 {
			return nil, nil, fmt.Errorf("%w: artifact kind %q produced no content", ErrBuild, kind)
		}

		sum := sha256.Sum256(data)
		artifacts = append(artifacts, Artifact{
			Kind:   kind,
			Name:   name,
			Bytes:  data,
			SHA256: hex.EncodeToString(sum[:]),
		})
	}

	manifest := &Manifest{
		Version:   version.String(),
		CreatedAt: time.Now().UTC(),
	}
	for _, a := range artifacts {
		manifest.Artifacts = append(manifest.Artifacts, ManifestEntry{
			Kind:   a.Kind,
			Name:   a.Name,
			Size:   len(a.Bytes),
			SHA256: a.SHA256,
		})
	}

	return artifacts, manifest, nil
}
