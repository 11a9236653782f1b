// Package config provides configuration loading and management for the
// release pipeline.
package config

import (
	"errors"
	"fmt"
	"time"
)

// VersionFile names one file that carries the project version.
type VersionFile struct {
	// Path is the file path relative to the repository root.
	Path string `mapstructure:"path"`

	// Pattern is a regular expression with exactly one capture group
	// matching the version string inside the file.
	Pattern string `mapstructure:"pattern"`
}

// CommitterConfig identifies the author of release commits and tags.
type CommitterConfig struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

// VerifyConfig describes the test-suite gate.
type VerifyConfig struct {
	// Command is the test command and its arguments.
	Command []string `mapstructure:"command"`

	// Dir is the working directory for the command. Empty means the
	// current directory.
	Dir string `mapstructure:"dir"`

	// Timeout bounds one invocation of the suite.
	Timeout time.Duration `mapstructure:"timeout"`
}

// BinaryConfig describes one compiled-binary artifact.
type BinaryConfig struct {
	// Command is the build command and its arguments.
	Command []string `mapstructure:"command"`

	// Output is the produced file; "{version}" expands to the release
	// version.
	Output string `mapstructure:"output"`

	// Dir is the working directory for the command.
	Dir string `mapstructure:"dir"`
}

// BuildConfig describes the artifacts a release produces.
type BuildConfig struct {
	// Binary builds the compiled-binary artifact when set.
	Binary *BinaryConfig `mapstructure:"binary"`

	// SourceArchive includes a source tarball in the release.
	SourceArchive bool `mapstructure:"source_archive"`

	// ArchivePrefix names the tarball and its root directory,
	// e.g. "calculator" yields calculator-1.3.0.tar.gz.
	ArchivePrefix string `mapstructure:"archive_prefix"`
}

// ReleaseStoreConfig configures the release-store publish target.
type ReleaseStoreConfig struct {
	// BaseURL is the API root. Env: AUTOSHIP_TARGETS_RELEASE_STORE_BASE_URL
	BaseURL string `mapstructure:"base_url"`

	// Token authenticates API calls. Env: AUTOSHIP_TARGETS_RELEASE_STORE_TOKEN
	Token string `mapstructure:"token"`

	// Project is the project identifier releases are created under.
	Project string `mapstructure:"project"`

	// Mandatory makes this target's failure fail the run.
	Mandatory bool `mapstructure:"mandatory"`
}

// ObjectStoreConfig configures the object-storage publish target.
type ObjectStoreConfig struct {
	// Bucket is the destination bucket. Env: AUTOSHIP_TARGETS_OBJECT_STORE_BUCKET
	Bucket string `mapstructure:"bucket"`

	// Prefix is prepended to every object key.
	Prefix string `mapstructure:"prefix"`

	// Region is the bucket's region.
	Region string `mapstructure:"region"`

	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string `mapstructure:"endpoint"`

	// Mandatory makes this target's failure fail the run.
	Mandatory bool `mapstructure:"mandatory"`
}

// RegistryConfig configures the artifact-repository publish target.
type RegistryConfig struct {
	// Reference is the repository reference without a tag,
	// e.g. "ghcr.io/acme/calculator".
	Reference string `mapstructure:"reference"`

	// Username and Password authenticate against the registry.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// PlainHTTP uses HTTP instead of HTTPS, for local registries.
	PlainHTTP bool `mapstructure:"plain_http"`

	// Mandatory makes this target's failure fail the run.
	Mandatory bool `mapstructure:"mandatory"`
}

// TargetsConfig groups the publish targets. A target with no settings is
// treated as not configured and reported skipped at publish time.
type TargetsConfig struct {
	ReleaseStore ReleaseStoreConfig `mapstructure:"release_store"`
	ObjectStore  ObjectStoreConfig  `mapstructure:"object_store"`
	Registry     RegistryConfig     `mapstructure:"registry"`
}

// Config is the pipeline configuration, loaded from autoship.yaml with
// AUTOSHIP_* environment overrides.
type Config struct {
	// Trunk is the branch releases are cut from. Default: "main".
	Trunk string `mapstructure:"trunk"`

	// Remote is the git remote to push to. Default: "origin".
	Remote string `mapstructure:"remote"`

	// TagPrefix is prepended to the version in tag names. Default: "v".
	TagPrefix string `mapstructure:"tag_prefix"`

	// Committer authors release commits and tags.
	Committer CommitterConfig `mapstructure:"committer"`

	// VersionFiles are the files the project version is persisted in.
	VersionFiles []VersionFile `mapstructure:"version_files"`

	// Verify is the test-suite gate.
	Verify VerifyConfig `mapstructure:"verify"`

	// Build describes the release artifacts.
	Build BuildConfig `mapstructure:"build"`

	// Targets are the publish destinations.
	Targets TargetsConfig `mapstructure:"targets"`
}

// WithDefaults returns the config with default values applied to unset
// fields.
func (c *Config) WithDefaults() *Config {
	out := *c
	if out.Trunk == "" {
		out.Trunk = "main"
	}
	if out.Remote == "" {
		out.Remote = "origin"
	}
	if out.TagPrefix == "" {
		out.TagPrefix = "v"
	}
	if out.Committer.Name == "" {
		out.Committer.Name = "autoship"
	}
	if out.Committer.Email == "" {
		out.Committer.Email = "autoship@localhost"
	}
	if len(out.VersionFiles) == 0 {
		out.VersionFiles = []VersionFile{{
			Path:    "VERSION",
			Pattern: `^(\d+\.\d+\.\d+)\s*$`,
		}}
	}
	if out.Verify.Timeout == 0 {
		out.Verify.Timeout = 10 * time.Minute
	}
	if out.Build.ArchivePrefix == "" {
		out.Build.ArchivePrefix = "release"
	}
	return &out
}

// Validate checks the config for contradictions that would make a run
// unsound.
func (c *Config) Validate() error {
	if c.Trunk == "" {
		return errors.New("trunk branch is required")
	}
	if len(c.Verify.Command) == 0 {
		return errors.New("verify command is required")
	}
	if c.Build.Binary == nil && !c.Build.SourceArchive {
		return errors.New("at least one artifact kind must be enabled")
	}
	if c.Build.Binary != nil {
		if len(c.Build.Binary.Command) == 0 {
			return errors.New("binary build command is required")
		}
		if c.Build.Binary.Output == "" {
			return errors.New("binary build output is required")
		}
	}
	for i, f := range c.VersionFiles {
		if f.Path == "" {
			return fmt.Errorf("version file %d: path is required", i)
		}
		if f.Pattern == "" {
			return fmt.Errorf("version file %d: pattern is required", i)
		}
	}
	return nil
}
