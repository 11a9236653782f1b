package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autoship.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("reads yaml file", func(t *testing.T) {
		path := writeConfigFile(t, `
trunk: develop
tag_prefix: release-
committer:
  name: Release Bot
  email: bot@example.com
version_files:
  - path: VERSION
    pattern: '^(\d+\.\d+\.\d+)\s*$'
  - path: pyproject.toml
    pattern: 'version = "(\d+\.\d+\.\d+)"'
verify:
  command: ["pytest", "-q"]
  timeout: 5m
build:
  source_archive: true
  archive_prefix: calculator
targets:
  object_store:
    bucket: my-releases
    mandatory: true
`)

		cfg, err := NewLoader().Load(path)
		require.NoError(t, err)

		assert.Equal(t, "develop", cfg.Trunk)
		assert.Equal(t, "release-", cfg.TagPrefix)
		assert.Equal(t, "Release Bot", cfg.Committer.Name)
		require.Len(t, cfg.VersionFiles, 2)
		assert.Equal(t, "pyproject.toml", cfg.VersionFiles[1].Path)
		assert.Equal(t, []string{"pytest", "-q"}, cfg.Verify.Command)
		assert.Equal(t, 5*time.Minute, cfg.Verify.Timeout)
		assert.True(t, cfg.Build.SourceArchive)
		assert.Equal(t, "my-releases", cfg.Targets.ObjectStore.Bucket)
		assert.True(t, cfg.Targets.ObjectStore.Mandatory)
	})

	t.Run("explicit missing file is an error", func(t *testing.T) {
		_, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := writeConfigFile(t, "trunk: [unclosed")
		_, err := NewLoader().Load(path)
		assert.Error(t, err)
	})

	t.Run("environment overrides file values", func(t *testing.T) {
		path := writeConfigFile(t, "trunk: main\n")
		t.Setenv("AUTOSHIP_TRUNK", "hotfix")

		cfg, err := NewLoader().Load(path)
		require.NoError(t, err)
		assert.Equal(t, "hotfix", cfg.Trunk)
	})

	t.Run("secrets come from dedicated env variables", func(t *testing.T) {
		path := writeConfigFile(t, "trunk: main\n")
		t.Setenv("AUTOSHIP_RELEASE_STORE_TOKEN", "sekrit")
		t.Setenv("AUTOSHIP_REGISTRY_USERNAME", "robot")

		cfg, err := NewLoader().Load(path)
		require.NoError(t, err)
		assert.Equal(t, "sekrit", cfg.Targets.ReleaseStore.Token)
		assert.Equal(t, "robot", cfg.Targets.Registry.Username)
	})
}

func TestLoadWithDefaults(t *testing.T) {
	t.Run("applies defaults and validates", func(t *testing.T) {
		path := writeConfigFile(t, `
verify:
  command: ["pytest"]
build:
  source_archive: true
`)

		cfg, err := NewLoader().LoadWithDefaults(path)
		require.NoError(t, err)
		assert.Equal(t, "main", cfg.Trunk)
		assert.Equal(t, "v", cfg.TagPrefix)
	})

	t.Run("invalid configuration is rejected", func(t *testing.T) {
		path := writeConfigFile(t, "trunk: main\n")

		_, err := NewLoader().LoadWithDefaults(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}
