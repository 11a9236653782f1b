// Package version implements the version store for release automation.
// It reads and writes the current semantic version across all tracked
// version-bearing files, with an optimistic concurrency check so two release
// runs can never interleave their writes.
package version

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// ErrPersistence is returned when the version source is missing, malformed,
// or was modified since the store last read it.
var ErrPersistence = errors.New("version persistence error")

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

// Location identifies one version-bearing file tracked by the store.
type Location struct {
	// Path is the file path relative to the filesystem root.
	Path string

	// Pattern is a regular expression with exactly one capture group that
	// locates the version string inside the file. If empty, the whole file
	// is treated as a bare version string.
	Pattern string
}

// Store reads and writes the project version across all tracked locations.
// Writes are all-or-nothing: a partial update is rolled back and reported
// as an error, never silently tolerated.
type Store struct {
	fs        billy.Filesystem
	locations []Location

	// lastRead is the value observed by the most recent Current() call.
	// Write() refuses to proceed if the on-disk version no longer matches.
	lastRead *semver.Version
}

// NewStore creates a Store over the given filesystem and locations.
// At least one location is required; the first location is authoritative
// when reading.
func NewStore(fs billy.Filesystem, locations []Location) (*Store, error) {
	if fs == nil {
		return nil, WrapError(ErrPersistence, "filesystem is required")
	}
	if len(locations) == 0 {
		return nil, WrapError(ErrPersistence, "at least one version location is required")
	}
	for _, loc := range locations {
		if loc.Path == "" {
			return nil, WrapError(ErrPersistence, "version location path cannot be empty")
		}
		if loc.Pattern != "" {
			re, err := regexp.Compile(loc.Pattern)
			if err != nil {
				return nil, WrapErrorf(ErrPersistence, "invalid pattern for %q", loc.Path)
			}
			if re.NumSubexp() != 1 {
				return nil, WrapErrorf(ErrPersistence, "pattern for %q must have exactly one capture group", loc.Path)
			}
		}
	}
	return &Store{fs: fs, locations: locations}, nil
}

// Current reads the version from the authoritative location and verifies
// every other tracked location agrees. Disagreement between locations means
// a previous write was partial and is reported as ErrPersistence.
func (s *Store) Current() (*semver.Version, error) {
	var current *semver.Version
	for _, loc := range s.locations {
		v, err := s.readLocation(loc)
		if err != nil {
			return nil, err
		}
		if current == nil {
			current = v
			continue
		}
		if !v.Equal(current) {
			return nil, WrapErrorf(ErrPersistence,
				"version drift: %q holds %s, expected %s", loc.Path, v, current)
		}
	}
	s.lastRead = current
	return current, nil
}

// Write persists the new version to every tracked location, or none.
// It performs an optimistic check against the last value read by Current():
// if any location changed underneath the store, the write is refused.
// On a mid-write failure all already-written locations are restored.
func (s *Store) Write(next *semver.Version) error {
	if next == nil {
		return WrapError(ErrPersistence, "version cannot be nil")
	}
	if s.lastRead == nil {
		return WrapError(ErrPersistence, "Current() must be called before Write()")
	}

	// Stage every rendered file before touching any of them.
	type staged struct {
		loc      Location
		original []byte
		updated  []byte
	}
	stage := make([]staged, 0, len(s.locations))
	for _, loc := range s.locations {
		original, err := util.ReadFile(s.fs, loc.Path)
		if err != nil {
			return WrapErrorf(ErrPersistence, "failed to read %q", loc.Path)
		}

		onDisk, err := extractVersion(loc, original)
		if err != nil {
			return err
		}
		if !onDisk.Equal(s.lastRead) {
			return WrapErrorf(ErrPersistence,
				"%q was concurrently modified: holds %s, last read %s", loc.Path, onDisk, s.lastRead)
		}

		updated, err := renderVersion(loc, original, next)
		if err != nil {
			return err
		}
		stage = append(stage, staged{loc: loc, original: original, updated: updated})
	}

	// Apply the staged writes, restoring originals on any failure.
	for i, st := range stage {
		if err := util.WriteFile(s.fs, st.loc.Path, st.updated, 0o644); err != nil {
			for j := 0; j < i; j++ {
				// Restore errors are unrecoverable here; the write error wins.
				_ = util.WriteFile(s.fs, stage[j].loc.Path, stage[j].original, 0o644)
			}
			return WrapErrorf(ErrPersistence, "failed to write %q (rolled back)", st.loc.Path)
		}
	}

	s.lastRead = next
	return nil
}

// Locations returns the paths of every tracked version-bearing file.
// The tag writer stages exactly these paths when committing a bump.
func (s *Store) Locations() []string {
	paths := make([]string, 0, len(s.locations))
	for _, loc := range s.locations {
		paths = append(paths, loc.Path)
	}
	return paths
}

func (s *Store) readLocation(loc Location) (*semver.Version, error) {
	f, err := s.fs.Open(loc.Path)
	if err != nil {
		return nil, WrapErrorf(ErrPersistence, "version source %q is missing", loc.Path)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, WrapErrorf(ErrPersistence, "failed to read %q", loc.Path)
	}
	return extractVersion(loc, data)
}

func extractVersion(loc Location, data []byte) (*semver.Version, error) {
	raw := strings.TrimSpace(string(data))
	if loc.Pattern != "" {
		re := regexp.MustCompile(loc.Pattern)
		m := re.FindStringSubmatch(raw)
		if m == nil {
			return nil, WrapErrorf(ErrPersistence, "no version found in %q", loc.Path)
		}
		raw = m[1]
	}

	v, err := semver.StrictNewVersion(raw)
	if err != nil {
		return nil, WrapErrorf(ErrPersistence, "malformed version %q in %q", raw, loc.Path)
	}
	return v, nil
}

func renderVersion(loc Location, original []byte, next *semver.Version) ([]byte, error) {
	if loc.Pattern == "" {
		return []byte(next.String() + "\n"), nil
	}

	re := regexp.MustCompile(loc.Pattern)
	m := re.FindSubmatchIndex(original)
	if m == nil {
		return nil, WrapErrorf(ErrPersistence, "no version found in %q", loc.Path)
	}

	// Replace only the capture group, keeping the surrounding content intact.
	var b strings.Builder
	b.Write(original[:m[2]])
	b.WriteString(next.String())
	b.Write(original[m[3]:])
	return []byte(b.String()), nil
}
