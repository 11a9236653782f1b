// Package gitops provides source-control operations for the release pipeline.
// This file contains the tag-and-commit writer: the component that turns a
// computed version into a pushed release commit and annotated tag, as one
// logical unit with rollback.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ReleaseTag describes the annotated tag created for one release.
// It is created exactly once per successful run and never mutated.
type ReleaseTag struct {
	// Version is the released semantic version.
	Version *semver.Version

	// Name is the tag name, including the configured prefix.
	Name string

	// Commit is the hash of the release commit the tag points at.
	Commit string

	// CreatedAt is the tag creation timestamp.
	CreatedAt time.Time

	// Annotation is the tag's annotation text.
	Annotation string
}

// RepoAPI is the subset of repository operations the writer needs.
// *Repo satisfies it; tests substitute a fake to exercise rollback paths.
type RepoAPI interface {
	CurrentBranch(ctx context.Context) (string, error)
	IsClean(ctx context.Context) (bool, error)
	Head(ctx context.Context) (string, error)
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, msg string, who Signature) (string, error)
	CreateTag(ctx context.Context, name, target, message string, tagger Signature) error
	DeleteTag(ctx context.Context, name string) error
	ResetHard(ctx context.Context, commit string) error
	Push(ctx context.Context, branch, tag string) error
	HasRemote(ctx context.Context) bool
	Refresh(ctx context.Context, branch string) error
}

// VersionSink is the version store surface the writer needs.
type VersionSink interface {
	// Current reads the persisted version and arms the store's optimistic
	// concurrency check for the following Write.
	Current() (*semver.Version, error)

	// Write persists the version to every tracked location, or none.
	Write(next *semver.Version) error

	// Locations returns the tracked version-bearing file paths.
	Locations() []string
}

// WriterConfig configures the tag-and-commit writer.
type WriterConfig struct {
	// Trunk is the only branch releases may be cut from.
	Trunk string

	// TagPrefix is prepended to the version when naming tags, usually "v".
	TagPrefix string

	// Committer signs the release commit and tag.
	Committer Signature
}

// Writer materializes a computed version: it writes the version files,
// commits, tags, and pushes commit and tag together. Any failure rolls the
// repository back to its pre-release state. A rejected push triggers one
// refresh from the remote and a single retry; a second rejection is fatal.
type Writer struct {
	repo   RepoAPI
	store  VersionSink
	config WriterConfig
}

// NewWriter creates a Writer over the given repository and version store.
func NewWriter(repo RepoAPI, store VersionSink, config WriterConfig) (*Writer, error) {
	if repo == nil {
		return nil, WrapError(ErrInvalidRef, "repository is required")
	}
	if store == nil {
		return nil, WrapError(ErrInvalidRef, "version store is required")
	}
	if config.Trunk == "" {
		return nil, WrapError(ErrInvalidRef, "trunk branch is required")
	}
	if config.Committer.Name == "" || config.Committer.Email == "" {
		return nil, WrapError(ErrInvalidRef, "committer name and email are required")
	}
	return &Writer{repo: repo, store: store, config: config}, nil
}

// TagName returns the tag name for a version, including the prefix.
func (w *Writer) TagName(v *semver.Version) string {
	return w.config.TagPrefix + v.String()
}

// Apply writes the version into every tracked location, commits the change,
// creates an annotated tag at the release commit, and pushes commit and tag
// together. It requires a clean worktree on the trunk branch and returns
// ErrPrecondition otherwise, before any mutation.
//
// If the push is rejected because the remote advanced concurrently, the
// local commit and tag are rolled back, the branch is refreshed from the
// remote, and the whole unit is retried once. A second rejection returns
// ErrConcurrentModification.
func (w *Writer) Apply(ctx context.Context, next *semver.Version, annotation string) (*ReleaseTag, error) {
	if next == nil {
		return nil, WrapError(ErrInvalidRef, "version cannot be nil")
	}

	branch, err := w.repo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	if branch != w.config.Trunk {
		return nil, WrapErrorf(ErrPrecondition,
			"releases are cut from %q, currently on %q", w.config.Trunk, branch)
	}

	clean, err := w.repo.IsClean(ctx)
	if err != nil {
		return nil, err
	}
	if !clean {
		return nil, WrapError(ErrPrecondition, "working tree has uncommitted changes")
	}

	tag, err := w.applyOnce(ctx, next, annotation)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, ErrNotFastForward) {
		return nil, err
	}

	// The remote advanced underneath us: refresh and retry exactly once.
	if err := w.repo.Refresh(ctx, w.config.Trunk); err != nil {
		return nil, err
	}

	tag, err = w.applyOnce(ctx, next, annotation)
	if err == nil {
		return tag, nil
	}
	if errors.Is(err, ErrNotFastForward) {
		return nil, WrapError(ErrConcurrentModification, "push rejected twice")
	}
	return nil, err
}

// applyOnce performs one write-commit-tag-push sequence, rolling the
// repository back to its starting commit on any failure.
func (w *Writer) applyOnce(ctx context.Context, next *semver.Version, annotation string) (*ReleaseTag, error) {
	base, err := w.repo.Head(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := w.store.Current(); err != nil {
		return nil, err
	}
	if err := w.store.Write(next); err != nil {
		return nil, err
	}

	if err := w.repo.Add(ctx, w.store.Locations()...); err != nil {
		return nil, w.rollback(ctx, base, "", err)
	}

	tagName := w.TagName(next)
	commitMsg := fmt.Sprintf("chore(release): %s", tagName)
	commit, err := w.repo.Commit(ctx, commitMsg, w.config.Committer)
	if err != nil {
		return nil, w.rollback(ctx, base, "", err)
	}

	if err := w.repo.CreateTag(ctx, tagName, commit, annotation, w.config.Committer); err != nil {
		return nil, w.rollback(ctx, base, "", err)
	}

	if w.repo.HasRemote(ctx) {
		if err := w.repo.Push(ctx, w.config.Trunk, tagName); err != nil &&
			!errors.Is(err, ErrAlreadyUpToDate) {
			return nil, w.rollback(ctx, base, tagName, err)
		}
	}

	return &ReleaseTag{
		Version:    next,
		Name:       tagName,
		Commit:     commit,
		CreatedAt:  time.Now(),
		Annotation: annotation,
	}, nil
}

// rollback restores the repository to the given base commit and removes the
// tag if it was created, then returns the original failure.
func (w *Writer) rollback(ctx context.Context, base, tag string, cause error) error {
	if tag != "" {
		// The tag may not exist if creation itself failed.
		_ = w.repo.DeleteTag(ctx, tag)
	}
	if err := w.repo.ResetHard(ctx, base); err != nil {
		return WrapErrorf(cause, "rollback to %s also failed (%v)", base, err)
	}
	return cause
}
