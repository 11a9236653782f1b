// Package gitops provides source-control operations for the release pipeline.
// This file contains history operations for building classification windows.
package gitops

import (
	"context"
	"errors"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Commit is one commit in a history window.
type Commit struct {
	// Hash is the commit identifier.
	Hash string

	// Message is the full commit message.
	Message string
}

// CommitsSince returns the commits between the given release tag and HEAD,
// oldest first and exclusive of the tagged commit. If sinceTag is empty or
// does not exist, the whole history is returned: the first release of a
// repository classifies over everything.
func (r *Repo) CommitsSince(ctx context.Context, sinceTag string) ([]Commit, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, WrapError(err, "failed to get HEAD reference")
	}

	var boundary plumbing.Hash
	if sinceTag != "" {
		hash, tagErr := r.TagCommit(ctx, sinceTag)
		if tagErr == nil {
			boundary = plumbing.NewHash(hash)
		} else if !errors.Is(tagErr, ErrTagMissing) {
			return nil, tagErr
		}
	}

	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, WrapError(err, "failed to create commit iterator")
	}
	defer iter.Close()

	// Walk newest-to-oldest until the boundary commit, then reverse.
	var window []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash == boundary {
			return storer.ErrStop
		}
		window = append(window, Commit{Hash: c.Hash.String(), Message: c.Message})
		return nil
	})
	if err != nil {
		return nil, WrapError(err, "failed to iterate commits")
	}

	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window, nil
}
