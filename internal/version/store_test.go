package version

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs billy.Filesystem, path, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fs, path, []byte(content), 0o644))
}

func readFile(t *testing.T, fs billy.Filesystem, path string) string {
	t.Helper()
	data, err := util.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name        string
		fs          billy.Filesystem
		locations   []Location
		expectError bool
	}{
		{
			name:        "valid single location",
			fs:          memfs.New(),
			locations:   []Location{{Path: "VERSION"}},
			expectError: false,
		},
		{
			name:        "nil filesystem",
			fs:          nil,
			locations:   []Location{{Path: "VERSION"}},
			expectError: true,
		},
		{
			name:        "no locations",
			fs:          memfs.New(),
			locations:   nil,
			expectError: true,
		},
		{
			name:        "empty path",
			fs:          memfs.New(),
			locations:   []Location{{Path: ""}},
			expectError: true,
		},
		{
			name:        "invalid pattern",
			fs:          memfs.New(),
			locations:   []Location{{Path: "VERSION", Pattern: "("}},
			expectError: true,
		},
		{
			name:        "pattern without capture group",
			fs:          memfs.New(),
			locations:   []Location{{Path: "VERSION", Pattern: `\d+\.\d+\.\d+`}},
			expectError: true,
		},
		{
			name:        "pattern with two capture groups",
			fs:          memfs.New(),
			locations:   []Location{{Path: "VERSION", Pattern: `(\d+)\.(\d+)`}},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore(tt.fs, tt.locations)
			if tt.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrPersistence)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, store)
		})
	}
}

func TestCurrent(t *testing.T) {
	t.Run("reads bare version file", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "VERSION", "1.2.0\n")

		store, err := NewStore(fs, []Location{{Path: "VERSION"}})
		require.NoError(t, err)

		current, err := store.Current()
		require.NoError(t, err)
		assert.Equal(t, "1.2.0", current.String())
	})

	t.Run("reads version via capture group", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "app.yaml", "name: calculator\nversion: 2.0.1\n")

		store, err := NewStore(fs, []Location{
			{Path: "app.yaml", Pattern: `version: (\d+\.\d+\.\d+)`},
		})
		require.NoError(t, err)

		current, err := store.Current()
		require.NoError(t, err)
		assert.Equal(t, "2.0.1", current.String())
	})

	t.Run("missing file", func(t *testing.T) {
		store, err := NewStore(memfs.New(), []Location{{Path: "VERSION"}})
		require.NoError(t, err)

		_, err = store.Current()
		assert.ErrorIs(t, err, ErrPersistence)
	})

	t.Run("malformed version", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "VERSION", "not-a-version\n")

		store, err := NewStore(fs, []Location{{Path: "VERSION"}})
		require.NoError(t, err)

		_, err = store.Current()
		assert.ErrorIs(t, err, ErrPersistence)
	})

	t.Run("partial semver is rejected", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "VERSION", "1.2\n")

		store, err := NewStore(fs, []Location{{Path: "VERSION"}})
		require.NoError(t, err)

		_, err = store.Current()
		assert.ErrorIs(t, err, ErrPersistence)
	})

	t.Run("drift between locations", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "VERSION", "1.2.0\n")
		writeFile(t, fs, "app.yaml", "version: 1.1.0\n")

		store, err := NewStore(fs, []Location{
			{Path: "VERSION"},
			{Path: "app.yaml", Pattern: `version: (\d+\.\d+\.\d+)`},
		})
		require.NoError(t, err)

		_, err = store.Current()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPersistence)
		assert.Contains(t, err.Error(), "drift")
	})
}

func TestWrite(t *testing.T) {
	t.Run("updates every location", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "VERSION", "1.2.0\n")
		writeFile(t, fs, "app.yaml", "name: calculator\nversion: 1.2.0\n")

		store, err := NewStore(fs, []Location{
			{Path: "VERSION"},
			{Path: "app.yaml", Pattern: `version: (\d+\.\d+\.\d+)`},
		})
		require.NoError(t, err)

		_, err = store.Current()
		require.NoError(t, err)

		require.NoError(t, store.Write(semver.MustParse("1.3.0")))

		assert.Equal(t, "1.3.0\n", readFile(t, fs, "VERSION"))
		assert.Equal(t, "name: calculator\nversion: 1.3.0\n", readFile(t, fs, "app.yaml"))
	})

	t.Run("requires a prior read", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "VERSION", "1.2.0\n")

		store, err := NewStore(fs, []Location{{Path: "VERSION"}})
		require.NoError(t, err)

		err = store.Write(semver.MustParse("1.3.0"))
		assert.ErrorIs(t, err, ErrPersistence)
	})

	t.Run("refuses concurrent modification", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "VERSION", "1.2.0\n")

		store, err := NewStore(fs, []Location{{Path: "VERSION"}})
		require.NoError(t, err)

		_, err = store.Current()
		require.NoError(t, err)

		// Another writer bumps the file between read and write.
		writeFile(t, fs, "VERSION", "1.2.1\n")

		err = store.Write(semver.MustParse("1.3.0"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPersistence)
		assert.Equal(t, "1.2.1\n", readFile(t, fs, "VERSION"))
	})

	t.Run("sequential writes after re-read", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "VERSION", "1.2.0\n")

		store, err := NewStore(fs, []Location{{Path: "VERSION"}})
		require.NoError(t, err)

		_, err = store.Current()
		require.NoError(t, err)
		require.NoError(t, store.Write(semver.MustParse("1.3.0")))

		current, err := store.Current()
		require.NoError(t, err)
		assert.Equal(t, "1.3.0", current.String())
		require.NoError(t, store.Write(semver.MustParse("2.0.0")))
		assert.Equal(t, "2.0.0\n", readFile(t, fs, "VERSION"))
	})

	t.Run("nil version", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "VERSION", "1.2.0\n")

		store, err := NewStore(fs, []Location{{Path: "VERSION"}})
		require.NoError(t, err)

		err = store.Write(nil)
		assert.ErrorIs(t, err, ErrPersistence)
	})
}

func TestLocations(t *testing.T) {
	store, err := NewStore(memfs.New(), []Location{
		{Path: "VERSION"},
		{Path: "app.yaml", Pattern: `version: (\d+\.\d+\.\d+)`},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"VERSION", "app.yaml"}, store.Locations())
}
