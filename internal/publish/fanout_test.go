package publish

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoship/autoship/internal/build"
	"github.com/autoship/autoship/internal/gitops"
)

// fakeTarget is a scriptable publish target: it fails the first failures
// attempts, then succeeds.
type fakeTarget struct {
	name      string
	mandatory bool
	policy    Policy
	failures  int
	err       error

	calls atomic.Int32
}

func (f *fakeTarget) Name() string    { return f.name }
func (f *fakeTarget) Mandatory() bool { return f.mandatory }

func (f *fakeTarget) Policy() Policy {
	if f.policy.MaxAttempts > 0 {
		return f.policy
	}
	return Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func (f *fakeTarget) Publish(_ context.Context, _ *gitops.ReleaseTag, _ []build.Artifact, _ *build.Manifest) error {
	n := int(f.calls.Add(1))
	if f.err != nil {
		return f.err
	}
	if n <= f.failures {
		return errors.New("transient failure")
	}
	return nil
}

// funcTarget delegates Publish to a closure.
type funcTarget struct {
	name    string
	policy  Policy
	publish func(ctx context.Context) error
}

func (f *funcTarget) Name() string    { return f.name }
func (f *funcTarget) Mandatory() bool { return false }
func (f *funcTarget) Policy() Policy  { return f.policy }

func (f *funcTarget) Publish(ctx context.Context, _ *gitops.ReleaseTag, _ []build.Artifact, _ *build.Manifest) error {
	return f.publish(ctx)
}

func testRelease() (*gitops.ReleaseTag, []build.Artifact, *build.Manifest) {
	tag := &gitops.ReleaseTag{
		Version: semver.MustParse("1.3.0"),
		Name:    "v1.3.0",
		Commit:  "abc123",
	}
	artifacts := []build.Artifact{
		{Kind: build.KindBinary, Name: "app-1.3.0.bin", Bytes: []byte("bin"), SHA256: "aa"},
	}
	manifest := &build.Manifest{Version: "1.3.0"}
	return tag, artifacts, manifest
}

func TestFanout(t *testing.T) {
	ctx := context.Background()
	tag, artifacts, manifest := testRelease()

	t.Run("results come back in target order", func(t *testing.T) {
		targets := []Target{
			&fakeTarget{name: "alpha"},
			&fakeTarget{name: "beta"},
			&fakeTarget{name: "gamma"},
		}

		results := Fanout(ctx, targets, tag, artifacts, manifest)
		require.Len(t, results, 3)
		assert.Equal(t, "alpha", results[0].Target)
		assert.Equal(t, "beta", results[1].Target)
		assert.Equal(t, "gamma", results[2].Target)
		for _, res := range results {
			assert.Equal(t, StatusSuccess, res.Status)
			assert.Equal(t, 1, res.Attempts)
		}
	})

	t.Run("one target failing never stops the others", func(t *testing.T) {
		failing := &fakeTarget{name: "bad", err: errors.New("endpoint down")}
		ok := &fakeTarget{name: "good"}

		results := Fanout(ctx, []Target{failing, ok}, tag, artifacts, manifest)
		require.Len(t, results, 2)

		assert.Equal(t, StatusFailure, results[0].Status)
		assert.ErrorIs(t, results[0].Err, ErrPublish)
		assert.Equal(t, 3, results[0].Attempts)

		assert.Equal(t, StatusSuccess, results[1].Status)
	})

	t.Run("transient failures are retried until success", func(t *testing.T) {
		flaky := &fakeTarget{name: "flaky", failures: 2}

		results := Fanout(ctx, []Target{flaky}, tag, artifacts, manifest)
		require.Len(t, results, 1)
		assert.Equal(t, StatusSuccess, results[0].Status)
		assert.Equal(t, 3, results[0].Attempts)
	})

	t.Run("not configured is skipped without retries", func(t *testing.T) {
		unconfigured := &fakeTarget{name: "skippy", err: ErrNotConfigured}

		results := Fanout(ctx, []Target{unconfigured}, tag, artifacts, manifest)
		require.Len(t, results, 1)
		assert.Equal(t, StatusSkipped, results[0].Status)
		assert.Equal(t, 1, results[0].Attempts)
		assert.Nil(t, results[0].Err)
	})

	t.Run("no targets yields no results", func(t *testing.T) {
		results := Fanout(ctx, nil, tag, artifacts, manifest)
		assert.Empty(t, results)
	})

	t.Run("aborting the run lets the in-flight attempt finish", func(t *testing.T) {
		runCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		started := make(chan struct{})
		target := &funcTarget{
			name:   "slow",
			policy: Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
			publish: func(ctx context.Context) error {
				close(started)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(50 * time.Millisecond):
					return nil
				}
			},
		}

		go func() {
			<-started
			cancel()
		}()

		results := Fanout(runCtx, []Target{target}, tag, artifacts, manifest)
		require.Len(t, results, 1)
		assert.Equal(t, StatusSuccess, results[0].Status)
		assert.Equal(t, 1, results[0].Attempts)
	})

	t.Run("aborting the run issues no new attempts", func(t *testing.T) {
		runCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var attempts atomic.Int32
		target := &funcTarget{
			name:   "doomed",
			policy: Policy{MaxAttempts: 5, InitialInterval: 10 * time.Millisecond, MaxInterval: 10 * time.Millisecond},
			publish: func(context.Context) error {
				attempts.Add(1)
				cancel()
				return errors.New("transient failure")
			},
		}

		results := Fanout(runCtx, []Target{target}, tag, artifacts, manifest)
		require.Len(t, results, 1)
		assert.Equal(t, StatusFailure, results[0].Status)
		assert.Equal(t, int32(1), attempts.Load())
		assert.Equal(t, 1, results[0].Attempts)
	})
}

func TestMandatoryFailed(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    bool
	}{
		{
			name: "all success",
			results: []Result{
				{Status: StatusSuccess, Mandatory: true},
				{Status: StatusSuccess},
			},
			want: false,
		},
		{
			name: "optional failure",
			results: []Result{
				{Status: StatusFailure, Mandatory: false},
				{Status: StatusSuccess, Mandatory: true},
			},
			want: false,
		},
		{
			name: "mandatory failure",
			results: []Result{
				{Status: StatusFailure, Mandatory: true},
			},
			want: true,
		},
		{
			name: "mandatory skipped is not a failure",
			results: []Result{
				{Status: StatusSkipped, Mandatory: true},
			},
			want: false,
		},
		{
			name:    "empty",
			results: nil,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MandatoryFailed(tt.results))
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Run("preserves registration order", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(&fakeTarget{name: "one"}))
		require.NoError(t, reg.Register(&fakeTarget{name: "two"}))

		targets := reg.Targets()
		require.Len(t, targets, 2)
		assert.Equal(t, "one", targets[0].Name())
		assert.Equal(t, "two", targets[1].Name())
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(&fakeTarget{name: "dup"}))
		assert.Error(t, reg.Register(&fakeTarget{name: "dup"}))
	})

	t.Run("rejects nil and unnamed targets", func(t *testing.T) {
		reg := NewRegistry()
		assert.Error(t, reg.Register(nil))
		assert.Error(t, reg.Register(&fakeTarget{}))
	})
}
