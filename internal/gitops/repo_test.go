package gitops

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name        string
		opts        Options
		expectError bool
	}{
		{
			name:        "valid",
			opts:        Options{FS: memfs.New()},
			expectError: false,
		},
		{
			name:        "missing filesystem",
			opts:        Options{},
			expectError: true,
		},
		{
			name:        "negative cache size",
			opts:        Options{FS: memfs.New(), StorerCacheSize: -1},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidRef)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestInitAndOpen(t *testing.T) {
	fs := memfs.New()
	ctx := context.Background()

	repo, err := Init(ctx, &Options{FS: fs})
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, fs, repo.FS())

	// The same filesystem opens as an existing repository.
	reopened, err := Open(ctx, &Options{FS: fs})
	require.NoError(t, err)
	require.NotNil(t, reopened)
}

func TestOpenMissingRepository(t *testing.T) {
	_, err := Open(context.Background(), &Options{FS: memfs.New()})
	assert.Error(t, err)
}

func TestCurrentBranchAndHead(t *testing.T) {
	tr := newTestRepo(t)
	hash := tr.commitFile("file.txt", "content", "initial commit")

	branch, err := tr.repo.CurrentBranch(tr.ctx)
	require.NoError(t, err)
	assert.Equal(t, "master", branch)

	head, err := tr.repo.Head(tr.ctx)
	require.NoError(t, err)
	assert.Equal(t, hash, head)
}

func TestIsClean(t *testing.T) {
	tr := newTestRepo(t)
	tr.commitFile("file.txt", "content", "initial commit")

	clean, err := tr.repo.IsClean(tr.ctx)
	require.NoError(t, err)
	assert.True(t, clean)

	require.NoError(t, util.WriteFile(tr.fs, "file.txt", []byte("modified"), 0o644))

	clean, err = tr.repo.IsClean(tr.ctx)
	require.NoError(t, err)
	assert.False(t, clean)
}

func TestCommit(t *testing.T) {
	t.Run("empty message", func(t *testing.T) {
		tr := newTestRepo(t)
		_, err := tr.repo.Commit(tr.ctx, "", tr.sig)
		assert.ErrorIs(t, err, ErrInvalidRef)
	})

	t.Run("missing signature", func(t *testing.T) {
		tr := newTestRepo(t)
		_, err := tr.repo.Commit(tr.ctx, "message", Signature{})
		assert.ErrorIs(t, err, ErrInvalidRef)
	})

	t.Run("nothing staged", func(t *testing.T) {
		tr := newTestRepo(t)
		tr.commitFile("file.txt", "content", "initial commit")

		_, err := tr.repo.Commit(tr.ctx, "empty", tr.sig)
		assert.ErrorIs(t, err, ErrEmptyCommit)
	})
}

func TestResetHard(t *testing.T) {
	tr := newTestRepo(t)
	first := tr.commitFile("file.txt", "first", "first commit")
	tr.commitFile("file.txt", "second", "second commit")

	require.NoError(t, tr.repo.ResetHard(tr.ctx, first))

	head, err := tr.repo.Head(tr.ctx)
	require.NoError(t, err)
	assert.Equal(t, first, head)

	data, err := util.ReadFile(tr.fs, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestResetHardUnresolvable(t *testing.T) {
	tr := newTestRepo(t)
	tr.commitFile("file.txt", "content", "initial commit")

	err := tr.repo.ResetHard(tr.ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrResolveFailed)
}

func TestHasRemote(t *testing.T) {
	tr := newTestRepo(t)
	assert.False(t, tr.repo.HasRemote(tr.ctx))
}
