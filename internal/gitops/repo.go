// Package gitops is the source-control collaborator for the release
// pipeline. It wraps go-git with the task-oriented operations a release
// needs: precondition checks, staging and committing version bumps,
// annotated tags, history windows, and pushing commit and tag together.
package gitops

import (
	"context"
	"errors"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

const (
	// DefaultStorerCacheSize is the default size for the LRU object cache.
	DefaultStorerCacheSize = 1000

	// DefaultRemoteName is the default remote name used for operations.
	DefaultRemoteName = "origin"
)

// Signature represents an author/committer signature for commits and tags.
type Signature struct {
	// Name is the author's or committer's name.
	Name string

	// Email is the author's or committer's email address.
	Email string
}

// Options configures repository discovery and remote access.
type Options struct {
	// FS is the REQUIRED filesystem holding the worktree root.
	// The .git directory is expected directly beneath it.
	FS billy.Filesystem

	// Remote is the remote used for push and fetch operations.
	// Defaults to "origin". An empty RemoteURL on the repository means
	// the writer operates locally and skips pushing.
	Remote string

	// Auth is an optional authentication method for remote operations.
	Auth transport.AuthMethod

	// StorerCacheSize sets the LRU object cache entries.
	// Defaults to DefaultStorerCacheSize.
	StorerCacheSize int
}

// Validate checks that the Options are properly configured.
func (o *Options) Validate() error {
	if o.FS == nil {
		return WrapError(ErrInvalidRef, "FS is required")
	}
	if o.StorerCacheSize < 0 {
		return WrapError(ErrInvalidRef, "StorerCacheSize cannot be negative")
	}
	return nil
}

func (o *Options) applyDefaults() {
	if o.Remote == "" {
		o.Remote = DefaultRemoteName
	}
	if o.StorerCacheSize == 0 {
		o.StorerCacheSize = DefaultStorerCacheSize
	}
}

// Repo represents a git repository and provides the release-oriented
// operations the pipeline needs.
type Repo struct {
	repo     *git.Repository
	worktree *git.Worktree
	fs       billy.Filesystem
	options  Options
}

// Init creates a new non-bare repository rooted at the filesystem.
func Init(ctx context.Context, opts *Options) (*Repo, error) {
	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	storage, err := newStorage(opts)
	if err != nil {
		return nil, err
	}

	repo, err := git.Init(storage, opts.FS)
	if err != nil {
		return nil, WrapError(err, "failed to initialize repository")
	}

	return newRepo(repo, opts)
}

// Open opens an existing repository rooted at the filesystem.
func Open(ctx context.Context, opts *Options) (*Repo, error) {
	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	storage, err := newStorage(opts)
	if err != nil {
		return nil, err
	}

	repo, err := git.Open(storage, opts.FS)
	if err != nil {
		return nil, WrapError(err, "failed to open repository")
	}

	return newRepo(repo, opts)
}

func newStorage(opts *Options) (*filesystem.Storage, error) {
	dotGitFS, err := opts.FS.Chroot(git.GitDirName)
	if err != nil {
		return nil, WrapError(err, "failed to access .git directory")
	}
	objCache := cache.NewObjectLRU(cache.FileSize(opts.StorerCacheSize))
	return filesystem.NewStorage(dotGitFS, objCache), nil
}

func newRepo(repo *git.Repository, opts *Options) (*Repo, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, WrapError(err, "failed to get worktree")
	}
	return &Repo{
		repo:     repo,
		worktree: worktree,
		fs:       opts.FS,
		options:  *opts,
	}, nil
}

// FS returns the filesystem holding the worktree. The version store
// operates on the same filesystem so bump writes land in the worktree.
func (r *Repo) FS() billy.Filesystem {
	return r.fs
}

// CurrentBranch returns the name of the currently checked out branch.
// It returns an error if HEAD is in a detached state.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", WrapError(err, "failed to get HEAD reference")
	}
	if !head.Name().IsBranch() {
		return "", WrapError(ErrResolveFailed, "HEAD is detached")
	}
	return head.Name().Short(), nil
}

// Head returns the commit hash HEAD currently points at.
func (r *Repo) Head(ctx context.Context) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", WrapError(err, "failed to get HEAD reference")
	}
	return head.Hash().String(), nil
}

// IsClean reports whether the worktree has no uncommitted changes.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	status, err := r.worktree.Status()
	if err != nil {
		return false, WrapError(err, "failed to get worktree status")
	}
	return status.IsClean(), nil
}

// Add stages the given paths for the next commit.
func (r *Repo) Add(ctx context.Context, paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := r.worktree.Add(path); err != nil {
			return WrapErrorf(err, "failed to add path %q", path)
		}
	}
	return nil
}

// Commit creates a new commit with the specified message and signature.
// It returns the SHA of the new commit.
func (r *Repo) Commit(ctx context.Context, msg string, who Signature) (string, error) {
	if msg == "" {
		return "", WrapError(ErrInvalidRef, "commit message cannot be empty")
	}
	if who.Name == "" || who.Email == "" {
		return "", WrapError(ErrInvalidRef, "committer name and email are required")
	}

	now := time.Now()
	hash, err := r.worktree.Commit(msg, &git.CommitOptions{
		Author:    &object.Signature{Name: who.Name, Email: who.Email, When: now},
		Committer: &object.Signature{Name: who.Name, Email: who.Email, When: now},
	})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return "", ErrEmptyCommit
		}
		return "", WrapError(err, "failed to create commit")
	}

	return hash.String(), nil
}

// ResetHard resets the current branch and worktree to the given commit.
// The writer uses it to roll back a partially applied release.
func (r *Repo) ResetHard(ctx context.Context, commit string) error {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(commit))
	if err != nil {
		return WrapError(ErrResolveFailed, "failed to resolve reset target")
	}
	err = r.worktree.Reset(&git.ResetOptions{Commit: *hash, Mode: git.HardReset})
	if err != nil {
		return WrapError(err, "failed to reset worktree")
	}
	return nil
}

// Push pushes the given branch, and optionally a tag, to the configured
// remote in a single operation. Returns ErrNotFastForward if the remote
// advanced concurrently and ErrAlreadyUpToDate if there is nothing to push.
func (r *Repo) Push(ctx context.Context, branch, tag string) error {
	refspecs := []config.RefSpec{
		config.RefSpec(plumbing.NewBranchReferenceName(branch) + ":" + plumbing.NewBranchReferenceName(branch)),
	}
	if tag != "" {
		refspecs = append(refspecs,
			config.RefSpec(plumbing.NewTagReferenceName(tag)+":"+plumbing.NewTagReferenceName(tag)))
	}

	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: r.options.Remote,
		RefSpecs:   refspecs,
		Auth:       r.options.Auth,
	})
	if err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return ErrAlreadyUpToDate
		}
		if errors.Is(err, git.ErrNonFastForwardUpdate) {
			return ErrNotFastForward
		}
		return WrapError(err, "failed to push to remote")
	}
	return nil
}

// HasRemote reports whether the configured remote exists on the repository.
// Without a remote the writer operates locally and skips pushing.
func (r *Repo) HasRemote(ctx context.Context) bool {
	_, err := r.repo.Remote(r.options.Remote)
	return err == nil
}

// Refresh fetches the configured remote and hard-resets the given branch
// to its remote counterpart. Used after a rejected push to pick up the
// remote's view before retrying a release.
func (r *Repo) Refresh(ctx context.Context, branch string) error {
	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: r.options.Remote,
		Auth:       r.options.Auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return WrapError(err, "failed to fetch from remote")
	}

	remoteRef := plumbing.NewRemoteReferenceName(r.options.Remote, branch)
	ref, err := r.repo.Reference(remoteRef, true)
	if err != nil {
		return WrapError(ErrResolveFailed, "failed to resolve remote branch")
	}

	return r.ResetHard(ctx, ref.Hash().String())
}
