package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/autoship/autoship/internal/build"
	"github.com/autoship/autoship/internal/gitops"
)

// Fanout publishes the release to every target concurrently and waits for
// all of them to finish or exhaust their retries. Results are returned in
// target order. Target failures are recorded, never propagated: the returned
// slice always has one entry per target.
//
// Cancelling the context lets in-flight attempts finish but issues no new
// attempts.
func Fanout(ctx context.Context, targets []Target, tag *gitops.ReleaseTag, artifacts []build.Artifact, manifest *build.Manifest) []Result {
	results := make([]Result, len(targets))

	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			results[i] = attempt(ctx, target, tag, artifacts, manifest)
			return nil
		})
	}
	// Goroutines never return errors; Wait is purely the join point.
	_ = g.Wait()

	return results
}

// attempt drives one target through its retry policy and maps the outcome
// to a Result.
func attempt(ctx context.Context, target Target, tag *gitops.ReleaseTag, artifacts []build.Artifact, manifest *build.Manifest) Result {
	policy := target.Policy()
	if policy.MaxAttempts == 0 {
		policy = DefaultPolicy()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		// An aborted run issues no new attempts, but an attempt already
		// started is allowed to finish: the attempt context carries only
		// the per-attempt timeout, not the run cancellation.
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++

		attemptCtx := context.WithoutCancel(ctx)
		if policy.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(attemptCtx, policy.AttemptTimeout)
			defer cancel()
		}

		err := target.Publish(attemptCtx, tag, artifacts, manifest)
		if errors.Is(err, ErrNotConfigured) {
			return backoff.Permanent(err)
		}
		// Timeouts are retryable failures like any other transient error.
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, policy.MaxAttempts-1), ctx))

	result := Result{
		Target:    target.Name(),
		Mandatory: target.Mandatory(),
		Attempts:  attempts,
	}
	switch {
	case err == nil:
		result.Status = StatusSuccess
		result.Detail = fmt.Sprintf("published %d artifacts", len(artifacts))
	case errors.Is(err, ErrNotConfigured):
		result.Status = StatusSkipped
		result.Detail = err.Error()
	default:
		result.Status = StatusFailure
		result.Err = fmt.Errorf("%w: %v", ErrPublish, err)
		result.Detail = err.Error()
	}
	return result
}
