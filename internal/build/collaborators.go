package build

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/autoship/autoship/internal/executor"
)

// summaryLimit caps the test summary carried into the run report.
const summaryLimit = 2048

// CommandTestSuite runs a configured test command as the external
// test-suite collaborator. A non-zero exit is a failed suite, not an error.
type CommandTestSuite struct {
	runner  executor.Runner
	program string
	args    []string
	dir     string
	timeout time.Duration
}

// NewCommandTestSuite creates a test suite collaborator from an argv-style
// command, e.g. ["pytest", "-q"].
func NewCommandTestSuite(runner executor.Runner, command []string, dir string, timeout time.Duration) (*CommandTestSuite, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if len(command) == 0 {
		return nil, errors.New("test command is required")
	}
	return &CommandTestSuite{
		runner:  runner,
		program: command[0],
		args:    command[1:],
		dir:     dir,
		timeout: timeout,
	}, nil
}

// Run invokes the test command against the given working-tree reference,
// exported to the command as RELEASE_REF.
func (s *CommandTestSuite) Run(ctx context.Context, ref string) (*TestResult, error) {
	result, err := s.runner.Run(ctx, s.program, s.args,
		executor.WithWorkingDir(s.dir),
		executor.WithTimeout(s.timeout),
		executor.WithEnv(map[string]string{"RELEASE_REF": ref}),
	)
	if err != nil {
		return nil, err
	}

	return &TestResult{
		Passed:  result.ExitCode == 0,
		Summary: tail(result.Stdout+result.Stderr, summaryLimit),
	}, nil
}

// CommandSpec describes how to produce one artifact kind: the command to
// run and the output file it leaves behind.
type CommandSpec struct {
	// Command is the argv-style build command. The version is exported to
	// it as RELEASE_VERSION.
	Command []string

	// Output is the path of the file the command produces.
	Output string

	// Dir is the working directory for the command.
	Dir string
}

// CommandToolchain produces artifacts by running per-kind build commands
// and collecting their output files.
type CommandToolchain struct {
	runner executor.Runner
	specs  map[ArtifactKind]CommandSpec
}

// NewCommandToolchain creates a toolchain collaborator from per-kind specs.
func NewCommandToolchain(runner executor.Runner, specs map[ArtifactKind]CommandSpec) (*CommandToolchain, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if len(specs) == 0 {
		return nil, errors.New("at least one command spec is required")
	}
	return &CommandToolchain{runner: runner, specs: specs}, nil
}

// Produce runs the build command for the kind and returns the output file's
// name and content. Command failure or a missing output file carries the
// toolchain diagnostic in the error.
func (t *CommandToolchain) Produce(ctx context.Context, version string, kind ArtifactKind) (string, []byte, error) {
	spec, ok := t.specs[kind]
	if !ok {
		return "", nil, fmt.Errorf("no build command configured for kind %q", kind)
	}

	result, err := t.runner.Run(ctx, spec.Command[0], spec.Command[1:],
		executor.WithWorkingDir(spec.Dir),
		executor.WithEnv(map[string]string{"RELEASE_VERSION": version}),
	)
	if err != nil {
		return "", nil, err
	}
	if result.ExitCode != 0 {
		return "", nil, fmt.Errorf("build command exited %d: %s",
			result.ExitCode, tail(result.Stderr, summaryLimit))
	}

	// A relative output path is relative to the command's working
	// directory, not the process's.
	output := strings.ReplaceAll(spec.Output, "{version}", version)
	if !filepath.IsAbs(output) && spec.Dir != "" {
		output = filepath.Join(spec.Dir, output)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		return "", nil, fmt.Errorf("build output %q: %w", output, err)
	}
	return filepath.Base(output), data, nil
}

// SourceArchiver produces a gzipped tarball of the worktree as the
// source-archive artifact kind. The .git directory is excluded.
type SourceArchiver struct {
	fs     billy.Filesystem
	prefix string
}

// NewSourceArchiver creates an archiver over the given worktree filesystem.
// prefix names the top-level directory inside the archive, e.g. the project
// name.
func NewSourceArchiver(fs billy.Filesystem, prefix string) (*SourceArchiver, error) {
	if fs == nil {
		return nil, errors.New("filesystem is required")
	}
	if prefix == "" {
		return nil, errors.New("archive prefix is required")
	}
	return &SourceArchiver{fs: fs, prefix: prefix}, nil
}

// Produce builds the source archive for the given version. Only the
// source-archive kind is supported.
func (a *SourceArchiver) Produce(ctx context.Context, version string, kind ArtifactKind) (string, []byte, error) {
	if kind != KindSourceArchive {
		return "", nil, fmt.Errorf("source archiver cannot produce kind %q", kind)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	root := fmt.Sprintf("%s-%s", a.prefix, version)
	err := util.Walk(a.fs, "/", func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		name := strings.TrimPrefix(p, "/")
		if name == "" || name == ".git" || strings.HasPrefix(name, ".git/") {
			return nil
		}
		if info.IsDir() {
			return nil
		}

		hdr := &tar.Header{
			Name:    path.Join(root, name),
			Mode:    0o644,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := a.fs.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to archive worktree: %w", err)
	}

	if err := tw.Close(); err != nil {
		return "", nil, err
	}
	if err := gz.Close(); err != nil {
		return "", nil, err
	}

	return root + ".tar.gz", buf.Bytes(), nil
}

// RoutingToolchain dispatches artifact kinds to dedicated toolchains,
// letting a binary command toolchain and the source archiver serve one
// build stage together.
type RoutingToolchain map[ArtifactKind]Toolchain

// Produce routes to the toolchain registered for the kind.
func (r RoutingToolchain) Produce(ctx context.Context, version string, kind ArtifactKind) (string, []byte, error) {
	tc, ok := r[kind]
	if !ok {
		return "", nil, fmt.Errorf("no toolchain registered for kind %q", kind)
	}
	return tc.Produce(ctx, version, kind)
}

func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
