package main

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/autoship/autoship/internal/build"
	"github.com/autoship/autoship/internal/classify"
	"github.com/autoship/autoship/internal/config"
	"github.com/autoship/autoship/internal/executor"
	"github.com/autoship/autoship/internal/gitops"
	"github.com/autoship/autoship/internal/output"
	"github.com/autoship/autoship/internal/pipeline"
	"github.com/autoship/autoship/internal/publish"
	"github.com/autoship/autoship/internal/publish/objectstore"
	"github.com/autoship/autoship/internal/publish/registry"
	"github.com/autoship/autoship/internal/publish/releasehub"
	"github.com/autoship/autoship/internal/version"
)

func newReleaseCmd() *cobra.Command {
	var (
		flagDryRun bool
		flagBump   string
	)

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Run the release pipeline once",
		Long: `Run the release pipeline once against the repository's trunk branch.

The pipeline verifies the head commit, classifies the commits since the
last release into a bump decision, writes and tags the new version, builds
the artifacts, and publishes them. A run that decides no release is
required exits successfully without mutating anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.NewLoader().LoadWithDefaults(flagConfig)
			if err != nil {
				return err
			}

			var override *classify.Kind
			if flagBump != "" {
				kind, ok := classify.ParseKind(flagBump)
				if !ok {
					return fmt.Errorf("invalid bump kind %q", flagBump)
				}
				override = &kind
			}

			orch, repo, err := buildOrchestrator(cmd, cfg, flagDryRun)
			if err != nil {
				return err
			}

			branch, err := repo.CurrentBranch(ctx)
			if err != nil {
				return err
			}
			head, err := repo.Head(ctx)
			if err != nil {
				return err
			}

			run, err := orch.Execute(ctx, pipeline.Trigger{
				Branch:     branch,
				HeadCommit: head,
				Override:   override,
			})
			if err != nil {
				return err
			}
			if run.OverallStatus == pipeline.StatusFailed {
				return fmt.Errorf("release failed at %s stage: %w", run.HaltedStage, run.Err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "classify and report the next version without releasing")
	cmd.Flags().StringVar(&flagBump, "bump", "", "override the bump kind (major, minor, patch)")

	return cmd
}

// buildOrchestrator wires the pipeline from the configuration: repository,
// version store, tag writer, build stage, and publish targets.
func buildOrchestrator(cmd *cobra.Command, cfg *config.Config, dryRun bool) (*pipeline.Orchestrator, *gitops.Repo, error) {
	ctx := cmd.Context()

	repo, err := gitops.Open(ctx, &gitops.Options{
		FS:     osfs.New(flagRepo),
		Remote: cfg.Remote,
	})
	if err != nil {
		return nil, nil, err
	}

	locations := make([]version.Location, len(cfg.VersionFiles))
	for i, f := range cfg.VersionFiles {
		locations[i] = version.Location{Path: f.Path, Pattern: f.Pattern}
	}
	store, err := version.NewStore(repo.FS(), locations)
	if err != nil {
		return nil, nil, err
	}

	writer, err := gitops.NewWriter(repo, store, gitops.WriterConfig{
		Trunk:     cfg.Trunk,
		TagPrefix: cfg.TagPrefix,
		Committer: gitops.Signature{
			Name:  cfg.Committer.Name,
			Email: cfg.Committer.Email,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	stage, err := buildStage(repo, cfg)
	if err != nil {
		return nil, nil, err
	}

	targets, err := buildTargets(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	orch, err := pipeline.New(repo, writer, stage, store, targets,
		pipeline.ConsoleNotifier{}, pipeline.Config{DryRun: dryRun})
	if err != nil {
		return nil, nil, err
	}
	return orch, repo, nil
}

// buildStage assembles the verification gate and artifact toolchain from
// the build configuration.
func buildStage(repo *gitops.Repo, cfg *config.Config) (*build.Stage, error) {
	runner := executor.New()

	suite, err := build.NewCommandTestSuite(runner, cfg.Verify.Command, cfg.Verify.Dir, cfg.Verify.Timeout)
	if err != nil {
		return nil, err
	}

	routing := build.RoutingToolchain{}
	var kinds []build.ArtifactKind

	if cfg.Build.Binary != nil {
		toolchain, err := build.NewCommandToolchain(runner, map[build.ArtifactKind]build.CommandSpec{
			build.KindBinary: {
				Command: cfg.Build.Binary.Command,
				Output:  cfg.Build.Binary.Output,
				Dir:     cfg.Build.Binary.Dir,
			},
		})
		if err != nil {
			return nil, err
		}
		routing[build.KindBinary] = toolchain
		kinds = append(kinds, build.KindBinary)
	}

	if cfg.Build.SourceArchive {
		archiver, err := build.NewSourceArchiver(repo.FS(), cfg.Build.ArchivePrefix)
		if err != nil {
			return nil, err
		}
		routing[build.KindSourceArchive] = archiver
		kinds = append(kinds, build.KindSourceArchive)
	}

	return build.NewStage(suite, routing, kinds)
}

// buildTargets assembles the publish targets into a registry. Every
// configured target kind is wired; a target with missing settings reports
// itself skipped at publish time rather than failing the run.
func buildTargets(ctx context.Context, cfg *config.Config) ([]publish.Target, error) {
	hub := releasehub.New(releasehub.Config{
		BaseURL:   cfg.Targets.ReleaseStore.BaseURL,
		Token:     cfg.Targets.ReleaseStore.Token,
		Project:   cfg.Targets.ReleaseStore.Project,
		Mandatory: cfg.Targets.ReleaseStore.Mandatory,
	}, nil)

	store, err := objectstore.NewFromEnv(ctx, objectstore.Config{
		Bucket:    cfg.Targets.ObjectStore.Bucket,
		Prefix:    cfg.Targets.ObjectStore.Prefix,
		Region:    cfg.Targets.ObjectStore.Region,
		Endpoint:  cfg.Targets.ObjectStore.Endpoint,
		Mandatory: cfg.Targets.ObjectStore.Mandatory,
	})
	if err != nil {
		return nil, err
	}

	repo := registry.New(registry.Config{
		Reference: cfg.Targets.Registry.Reference,
		Username:  cfg.Targets.Registry.Username,
		Password:  cfg.Targets.Registry.Password,
		PlainHTTP: cfg.Targets.Registry.PlainHTTP,
		Mandatory: cfg.Targets.Registry.Mandatory,
	})

	reg := publish.NewRegistry()
	for _, target := range []publish.Target{hub, store, repo} {
		if err := reg.Register(target); err != nil {
			return nil, err
		}
	}

	output.Debug("publish targets wired",
		"release_store", cfg.Targets.ReleaseStore.BaseURL != "",
		"object_store", cfg.Targets.ObjectStore.Bucket != "",
		"registry", cfg.Targets.Registry.Reference != "",
	)
	return reg.Targets(), nil
}
