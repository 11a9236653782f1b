// Package pipeline implements the release orchestrator: a state machine that
// sequences verification, classification, tagging, building, and publishing
// with strict ordering and failure containment, and records every run as an
// append-only audit record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/autoship/autoship/internal/build"
	"github.com/autoship/autoship/internal/classify"
	"github.com/autoship/autoship/internal/gitops"
	"github.com/autoship/autoship/internal/output"
	"github.com/autoship/autoship/internal/publish"
)

// ErrRunInProgress is returned when a trigger arrives while another run
// holds the release lock. Interleaving two bump/tag sequences would corrupt
// version ordering, so a concurrent trigger is rejected, never queued behind
// a mutation in flight.
var ErrRunInProgress = errors.New("a release run is already in progress")

// State identifies a stage of the release state machine.
type State string

const (
	// StateIdle is the initial state before any stage has run.
	StateIdle State = "idle"

	// StateVerifying runs the test-suite gate.
	StateVerifying State = "verifying"

	// StateClassifying computes the bump decision.
	StateClassifying State = "classifying"

	// StateTagging materializes the new version as a commit and tag.
	StateTagging State = "tagging"

	// StateBuilding re-verifies at the tagged commit and produces artifacts.
	StateBuilding State = "building"

	// StatePublishing fans out to all publish targets.
	StatePublishing State = "publishing"

	// StateNotifying emits the final run report, best effort.
	StateNotifying State = "notifying"
)

// Status is the terminal status of a run.
type Status string

const (
	// StatusSuccess means a release was published; optional targets may
	// still have failed individually.
	StatusSuccess Status = "success"

	// StatusFailed means a stage halted the pipeline or a mandatory
	// publish target failed.
	StatusFailed Status = "failed"

	// StatusNoOp means no release was required. This is a normal outcome,
	// not a failure.
	StatusNoOp Status = "noop"
)

// Trigger describes the event that starts a run.
type Trigger struct {
	// Branch is the branch the trigger fired on.
	Branch string

	// HeadCommit is the commit the run releases.
	HeadCommit string

	// Override forces the bump kind instead of classifying commits.
	Override *classify.Kind
}

// StageTiming records how long one stage ran.
type StageTiming struct {
	Stage    State
	Duration time.Duration
}

// Run is the append-only audit record of one pipeline run.
// It is immutable once the run reaches a terminal status.
type Run struct {
	// Trigger is the event that started the run.
	Trigger Trigger

	// StartedAt is when the run began.
	StartedAt time.Time

	// Decision is the bump decision, once classified.
	Decision classify.Decision

	// NextVersion is the version the run released (or would release,
	// for a dry run).
	NextVersion *semver.Version

	// Tag is the release tag, once created. A created tag is never
	// deleted, even when a later stage fails.
	Tag *gitops.ReleaseTag

	// Artifacts are the build outputs, once built.
	Artifacts []build.Artifact

	// Manifest lists the artifacts with checksums.
	Manifest *build.Manifest

	// Results holds one publish outcome per configured target.
	Results []publish.Result

	// Timings records per-stage durations.
	Timings []StageTiming

	// OverallStatus is the terminal status.
	OverallStatus Status

	// HaltedStage names the stage that halted the pipeline, if any.
	HaltedStage State

	// Err is the failure that halted the pipeline, if any.
	Err error
}

// SourceControl is the source-control surface the orchestrator needs.
// *gitops.Repo satisfies it.
type SourceControl interface {
	CommitsSince(ctx context.Context, sinceTag string) ([]gitops.Commit, error)
}

// TagWriter materializes a version as a release commit and tag.
// *gitops.Writer satisfies it.
type TagWriter interface {
	TagName(v *semver.Version) string
	Apply(ctx context.Context, next *semver.Version, annotation string) (*gitops.ReleaseTag, error)
}

// BuildStage is the verification gate and artifact producer.
// *build.Stage satisfies it.
type BuildStage interface {
	Verify(ctx context.Context, ref string) (*build.TestResult, error)
	Build(ctx context.Context, version *semver.Version) ([]build.Artifact, *build.Manifest, error)
}

// VersionSource reads the current persisted version.
// *version.Store satisfies it.
type VersionSource interface {
	Current() (*semver.Version, error)
}

// Notifier receives the final run report. Notification is best effort and
// never changes a run's recorded status.
type Notifier interface {
	Notify(ctx context.Context, run *Run) error
}

// Config configures the orchestrator.
type Config struct {
	// DryRun stops after classification and reports the would-be version
	// without mutating anything.
	DryRun bool
}

// Orchestrator drives the release state machine. Runs for the same trunk
// are serialized: the orchestrator holds a lock for the duration of a run
// and rejects triggers that arrive while it is held.
type Orchestrator struct {
	source     SourceControl
	writer     TagWriter
	stage      BuildStage
	versions   VersionSource
	classifier *classify.Classifier
	targets    []publish.Target
	notifier   Notifier
	config     Config

	mu sync.Mutex
}

// New creates an Orchestrator. The notifier may be nil.
func New(source SourceControl, writer TagWriter, stage BuildStage, versions VersionSource, targets []publish.Target, notifier Notifier, config Config) (*Orchestrator, error) {
	if source == nil {
		return nil, errors.New("source control is required")
	}
	if writer == nil {
		return nil, errors.New("tag writer is required")
	}
	if stage == nil {
		return nil, errors.New("build stage is required")
	}
	if versions == nil {
		return nil, errors.New("version source is required")
	}
	return &Orchestrator{
		source:     source,
		writer:     writer,
		stage:      stage,
		versions:   versions,
		classifier: classify.New(),
		targets:    targets,
		notifier:   notifier,
		config:     config,
	}, nil
}

// Execute runs the pipeline once for the trigger. The returned Run is
// terminal and immutable; its OverallStatus distinguishes success, failure,
// and the no-release-required outcome. Execute returns an error only when
// the run could not start at all.
func (o *Orchestrator) Execute(ctx context.Context, trigger Trigger) (*Run, error) {
	if !o.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.mu.Unlock()

	run := &Run{
		Trigger:   trigger,
		StartedAt: time.Now(),
	}

	o.runStages(ctx, run)
	o.notify(ctx, run)

	return run, nil
}

// runStages drives the run to a terminal status.
func (o *Orchestrator) runStages(ctx context.Context, run *Run) {
	// The version store is the pipeline's root state: a persistence error
	// surfaces before any other stage runs.
	current, err := o.versions.Current()
	if err != nil {
		o.fail(run, StateIdle, err)
		return
	}

	// Verifying: the test gate runs before any mutation.
	var verdict *build.TestResult
	o.timed(run, StateVerifying, func() {
		verdict, err = o.stage.Verify(ctx, run.Trigger.HeadCommit)
	})
	if err != nil {
		o.fail(run, StateVerifying, err)
		return
	}
	if !verdict.Passed {
		o.fail(run, StateVerifying, fmt.Errorf("test suite failed: %s", verdict.Summary))
		return
	}

	// Classifying: fold the commit window into a bump decision.
	var commits []gitops.Commit
	o.timed(run, StateClassifying, func() {
		commits, err = o.source.CommitsSince(ctx, o.writer.TagName(current))
		if err == nil {
			window := make([]classify.Commit, len(commits))
			for i, c := range commits {
				window[i] = classify.Commit(c)
			}
			run.Decision = o.classifier.Classify(window, run.Trigger.Override)
		}
	})
	if err != nil {
		o.fail(run, StateClassifying, err)
		return
	}
	if run.Decision.Kind == classify.None {
		output.Info("no release required", "commits", len(commits))
		run.OverallStatus = StatusNoOp
		return
	}

	run.NextVersion = run.Decision.Kind.Next(current)
	output.Info("bump decided",
		"kind", run.Decision.Kind.String(),
		"current", current.String(),
		"next", run.NextVersion.String(),
	)

	if o.config.DryRun {
		run.OverallStatus = StatusNoOp
		return
	}

	// Tagging: version write, commit, tag, and push as one unit with rollback.
	o.timed(run, StateTagging, func() {
		run.Tag, err = o.writer.Apply(ctx, run.NextVersion, annotation(run.Decision, run.NextVersion))
	})
	if err != nil {
		o.fail(run, StateTagging, err)
		return
	}

	// Building: re-verify at the tagged commit, then produce artifacts.
	// The tag is retained on failure: a tag always denotes an intended
	// version, and version numbers are never reused.
	o.timed(run, StateBuilding, func() {
		verdict, err = o.stage.Verify(ctx, run.Tag.Commit)
		if err == nil && !verdict.Passed {
			err = fmt.Errorf("test suite failed at tagged commit: %s", verdict.Summary)
		}
		if err == nil {
			run.Artifacts, run.Manifest, err = o.stage.Build(ctx, run.NextVersion)
		}
	})
	if err != nil {
		o.fail(run, StateBuilding, err)
		return
	}

	// Publishing: fan out to every target; failures are collected, never
	// propagated, until all targets have concluded.
	o.timed(run, StatePublishing, func() {
		run.Results = publish.Fanout(ctx, o.targets, run.Tag, run.Artifacts, run.Manifest)
	})
	for _, res := range run.Results {
		output.Info("publish target concluded",
			"target", res.Target,
			"status", string(res.Status),
			"attempts", res.Attempts,
		)
	}

	if publish.MandatoryFailed(run.Results) {
		run.OverallStatus = StatusFailed
		run.HaltedStage = StatePublishing
		run.Err = fmt.Errorf("%w: a mandatory target failed", publish.ErrPublish)
		return
	}
	run.OverallStatus = StatusSuccess
}

// fail marks the run failed at the given stage.
func (o *Orchestrator) fail(run *Run, stage State, err error) {
	run.OverallStatus = StatusFailed
	run.HaltedStage = stage
	run.Err = err
	output.Error("pipeline halted", "stage", string(stage), "err", err)
}

// notify emits the final report. Best effort: a notification failure never
// changes the recorded status.
func (o *Orchestrator) notify(ctx context.Context, run *Run) {
	if o.notifier == nil {
		return
	}
	o.timed(run, StateNotifying, func() {
		if err := o.notifier.Notify(ctx, run); err != nil {
			output.Warn("notification failed", "err", err)
		}
	})
}

// timed runs fn and records its duration against the stage.
func (o *Orchestrator) timed(run *Run, stage State, fn func()) {
	start := time.Now()
	fn()
	run.Timings = append(run.Timings, StageTiming{
		Stage:    stage,
		Duration: time.Since(start),
	})
}

// annotation renders the tag annotation from the bump decision: the release
// version followed by the commits that drove it.
func annotation(decision classify.Decision, next *semver.Version) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Release %s (%s bump)\n", next, decision.Kind)
	if decision.Overridden {
		fmt.Fprintf(&b, "Manual override; automatic classification was %s.\n", decision.Automatic)
	}
	for _, ref := range decision.Rationale {
		fmt.Fprintf(&b, "\n* %s (%s)", ref.Subject, ref.Marker)
	}
	return b.String()
}
