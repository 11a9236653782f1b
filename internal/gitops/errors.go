// Package gitops provides sentinel errors for source-control operations.
// All errors can be checked using errors.Is() for programmatic handling.
package gitops

import (
	"errors"
	"fmt"
)

// ErrPrecondition is returned when a release cannot start because the
// working tree is dirty or the checked-out branch is not the trunk branch.
// No mutation has been attempted when this error is returned.
var ErrPrecondition = errors.New("release precondition not met")

// ErrConcurrentModification is returned when the remote advanced underneath
// a release and the push was still rejected after one refresh-and-retry.
var ErrConcurrentModification = errors.New("remote concurrently modified")

// ErrTagExists is returned when attempting to create a tag that already exists.
// Version tags are never reused, so this is always fatal for the run.
var ErrTagExists = errors.New("tag already exists")

// ErrTagMissing is returned when attempting to operate on a tag that does not exist.
var ErrTagMissing = errors.New("tag does not exist")

// ErrNotFastForward is returned when a push cannot be performed as a
// fast-forward update because the remote advanced concurrently.
var ErrNotFastForward = errors.New("not a fast-forward")

// ErrAlreadyUpToDate is returned when a fetch or push results in no changes.
var ErrAlreadyUpToDate = errors.New("already up to date")

// ErrInvalidRef is returned when a reference name or revision specification
// is malformed or missing.
var ErrInvalidRef = errors.New("invalid reference")

// ErrResolveFailed is returned when a revision specification cannot be
// resolved to a valid commit hash.
var ErrResolveFailed = errors.New("cannot resolve revision")

// ErrEmptyCommit is returned when a commit is attempted with no staged changes.
var ErrEmptyCommit = errors.New("no changes staged for commit")

// WrapError wraps an error with additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
