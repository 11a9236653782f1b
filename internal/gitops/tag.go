// Package gitops provides source-control operations for the release pipeline.
// This file contains tag operations. Release tags are always annotated and a
// tag name is never reused: creating an existing tag is an error.
package gitops

import (
	"context"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CreateTag creates an annotated tag at the specified target revision.
// Returns ErrTagExists if a tag with the same name already exists.
func (r *Repo) CreateTag(ctx context.Context, name, target, message string, tagger Signature) error {
	if name == "" {
		return WrapError(ErrInvalidRef, "tag name cannot be empty")
	}
	if target == "" {
		return WrapError(ErrInvalidRef, "target revision cannot be empty")
	}

	hash, err := r.repo.ResolveRevision(plumbing.Revision(target))
	if err != nil {
		return WrapError(ErrResolveFailed, "failed to resolve target revision")
	}

	if _, err := r.repo.Reference(plumbing.NewTagReferenceName(name), true); err == nil {
		return WrapErrorf(ErrTagExists, "tag %q", name)
	}

	_, err = r.repo.CreateTag(name, *hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  tagger.Name,
			Email: tagger.Email,
			When:  time.Now(),
		},
		Message: message,
	})
	if err != nil {
		return WrapError(err, "failed to create annotated tag")
	}

	return nil
}

// DeleteTag deletes the specified tag from the repository.
// Returns ErrTagMissing if the tag does not exist.
func (r *Repo) DeleteTag(ctx context.Context, name string) error {
	if name == "" {
		return WrapError(ErrInvalidRef, "tag name cannot be empty")
	}

	tagRefName := plumbing.NewTagReferenceName(name)
	if _, err := r.repo.Reference(tagRefName, true); err != nil {
		return WrapErrorf(ErrTagMissing, "tag %q", name)
	}

	if err := r.repo.Storer.RemoveReference(tagRefName); err != nil {
		return WrapError(err, "failed to delete tag")
	}
	return nil
}

// TagExists reports whether the named tag exists.
func (r *Repo) TagExists(ctx context.Context, name string) (bool, error) {
	_, err := r.repo.Reference(plumbing.NewTagReferenceName(name), true)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// TagCommit resolves the named tag to the commit hash it points at,
// following annotated tag objects. Returns ErrTagMissing if the tag
// does not exist.
func (r *Repo) TagCommit(ctx context.Context, name string) (string, error) {
	ref, err := r.repo.Reference(plumbing.NewTagReferenceName(name), true)
	if err != nil {
		return "", WrapErrorf(ErrTagMissing, "tag %q", name)
	}

	// Annotated tags point at a tag object, lightweight tags at the commit.
	if tagObj, tagErr := r.repo.TagObject(ref.Hash()); tagErr == nil {
		commit, commitErr := tagObj.Commit()
		if commitErr != nil {
			return "", WrapError(commitErr, "failed to resolve tag object commit")
		}
		return commit.Hash.String(), nil
	}
	return ref.Hash().String(), nil
}
