// Package publish defines the publish-target abstraction for the release
// pipeline: a uniform interface over destinations (release store, artifact
// repository, object storage), each invoked independently with its own
// bounded-backoff retry policy. One target's failure never prevents another
// target from being attempted.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/autoship/autoship/internal/build"
	"github.com/autoship/autoship/internal/gitops"
)

// ErrNotConfigured marks a target whose required configuration (credentials,
// endpoint) is absent. The target is recorded as skipped, which is distinct
// from failure and never counts toward overall pipeline failure.
var ErrNotConfigured = errors.New("publish target not configured")

// ErrPublish marks a target that exhausted its retries without succeeding.
var ErrPublish = errors.New("publish failed")

// Status is the outcome of one target for one run.
type Status string

const (
	// StatusSuccess means the target published all artifacts.
	StatusSuccess Status = "success"

	// StatusFailure means the target exhausted its retries.
	StatusFailure Status = "failure"

	// StatusSkipped means the target's required configuration was absent.
	StatusSkipped Status = "skipped"
)

// Result records one (run, target) outcome.
type Result struct {
	// Target is the target identifier.
	Target string

	// Status is the outcome.
	Status Status

	// Mandatory mirrors the target's mandatory flag so the overall run
	// status can be derived from results alone.
	Mandatory bool

	// Attempts is the number of publish attempts made.
	Attempts int

	// Detail is a human-readable outcome description.
	Detail string

	// Err is the captured cause for a failure result.
	Err error
}

// Policy is a target's transient-failure retry policy: bounded exponential
// backoff with a fixed attempt ceiling and a per-attempt timeout.
type Policy struct {
	// MaxAttempts is the total attempt ceiling, including the first try.
	MaxAttempts uint64

	// InitialInterval is the first backoff pause.
	InitialInterval time.Duration

	// MaxInterval caps the backoff pause.
	MaxInterval time.Duration

	// AttemptTimeout bounds each individual attempt. A timeout is a
	// retryable failure, not a distinct error kind.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns the retry policy targets use unless they override it.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		AttemptTimeout:  30 * time.Second,
	}
}

// Target is one publish destination. Implementations must be safe for a
// single concurrent Publish call per run; artifact bytes are read-only.
type Target interface {
	// Name returns the target identifier used in results and reports.
	Name() string

	// Mandatory reports whether this target's failure fails the whole run.
	Mandatory() bool

	// Policy returns the target's retry policy.
	Policy() Policy

	// Publish pushes the release to the destination. Returning
	// ErrNotConfigured marks the target skipped without retries.
	Publish(ctx context.Context, tag *gitops.ReleaseTag, artifacts []build.Artifact, manifest *build.Manifest) error
}

// Registry holds publish targets in registration order.
type Registry struct {
	mu      sync.Mutex
	order   []string
	targets map[string]Target
}

// NewRegistry creates an empty target registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]Target)}
}

// Register adds a target to the registry. Registering two targets with the
// same name is an error.
func (r *Registry) Register(t Target) error {
	if t == nil {
		return errors.New("target cannot be nil")
	}
	name := t.Name()
	if name == "" {
		return errors.New("target name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.targets[name]; exists {
		return fmt.Errorf("target %q already registered", name)
	}
	r.targets[name] = t
	r.order = append(r.order, name)
	return nil
}

// Targets returns the registered targets in registration order.
func (r *Registry) Targets() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Target, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.targets[name])
	}
	return out
}

// MandatoryFailed reports whether any mandatory target failed.
// Skipped targets never count toward failure.
func MandatoryFailed(results []Result) bool {
	for _, res := range results {
		if res.Mandatory && res.Status == StatusFailure {
			return true
		}
	}
	return false
}
