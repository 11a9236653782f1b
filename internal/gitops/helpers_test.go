package gitops

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
)

// testRepo bundles an in-memory repository with the helpers the tests need.
type testRepo struct {
	t    *testing.T
	ctx  context.Context
	repo *Repo
	fs   billy.Filesystem
	sig  Signature
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	fs := memfs.New()
	repo, err := Init(context.Background(), &Options{FS: fs})
	require.NoError(t, err)

	return &testRepo{
		t:    t,
		ctx:  context.Background(),
		repo: repo,
		fs:   fs,
		sig:  Signature{Name: "Test", Email: "test@example.com"},
	}
}

// commitFile writes a file, stages it, and commits. Returns the commit hash.
func (tr *testRepo) commitFile(path, content, msg string) string {
	tr.t.Helper()
	require.NoError(tr.t, util.WriteFile(tr.fs, path, []byte(content), 0o644))
	require.NoError(tr.t, tr.repo.Add(tr.ctx, path))
	hash, err := tr.repo.Commit(tr.ctx, msg, tr.sig)
	require.NoError(tr.t, err)
	return hash
}
