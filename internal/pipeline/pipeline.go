// Package pipeline sequences a full delivery run: checkout, build and
// publish, dev deployment, the optional QA gate, and the optional prod
// deployment.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"convoy/internal/artifact"
	"convoy/internal/config"
	"convoy/internal/deploy"
	"convoy/internal/qa"
)

// Stage names the pipeline stages, in execution order.
type Stage string

const (
	StageCheckout   Stage = "checkout"
	StageBuild      Stage = "build"
	StagePublish    Stage = "publish"
	StageDeployDev  Stage = "deploy_dev"
	StageQAGate     Stage = "qa_gate"
	StageDeployProd Stage = "deploy_prod"
)

// Outcome is the terminal state of a pipeline run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Options are the per-run parameters of the trigger surface.
type Options struct {
	// Branch to build and deploy. Defaults to the configured branch.
	Branch string

	// RunQATests inserts the QA gate between the dev and prod deployments.
	// When false the gate is skipped entirely, not auto-passed.
	RunQATests bool

	// DeployToProd requests the prod deployment. It still only runs when
	// the dev deployment succeeded and the QA gate, if enabled, passed.
	DeployToProd bool

	// BuildID feeds the build-revision tag policy. Empty means a
	// timestamp-derived identifier.
	BuildID string
}

// Run aggregates everything produced by one pipeline execution.
type Run struct {
	ID        uuid.UUID
	Branch    string
	BuildID   string
	Revision  string
	StartedAt time.Time
	Duration  time.Duration

	Artifact   artifact.Reference
	DevResult  *deploy.Result
	QAOutcome  qa.Outcome // empty when the gate was skipped
	ProdResult *deploy.Result

	Outcome     Outcome
	FailedStage Stage
	Err         error
}

// Source produces a checked-out working tree for a branch and reports the
// revision it resolved to.
type Source interface {
	Checkout(ctx context.Context, branch string) (revision string, err error)
}

// Publisher builds and pushes the artifact for a run.
type Publisher interface {
	Publish(ctx context.Context, srcDir string, policy artifact.TagPolicy, buildID, revision string) (artifact.Reference, error)
}

// Deployer converges one environment to an artifact.
type Deployer interface {
	Deploy(ctx context.Context, env *config.Environment, ref artifact.Reference) *deploy.Result
}

// Controller executes pipeline runs. Stages run strictly sequentially;
// every stage failure is fatal to its run, and the only recovery mechanism
// is an operator re-running the whole pipeline.
type Controller struct {
	Settings *config.Settings
	Source   Source
	Publish  Publisher
	Deployer Deployer

	// Gate is nil when no QA job is configured.
	Gate qa.Gate

	Logger *slog.Logger
}

// Execute runs the pipeline once. The returned Run always carries a
// terminal Outcome; the error inside it is the first stage failure.
func (c *Controller) Execute(ctx context.Context, opts Options) *Run {
	run := &Run{
		ID:        uuid.New(),
		Branch:    opts.Branch,
		BuildID:   opts.BuildID,
		StartedAt: time.Now().UTC(),
	}
	if run.Branch == "" {
		run.Branch = c.Settings.Branch
	}
	if run.BuildID == "" {
		run.BuildID = run.StartedAt.Format("20060102150405")
	}
	defer func() { run.Duration = time.Since(run.StartedAt) }()

	c.Logger.Info("pipeline run started",
		"run_id", run.ID.String(), "branch", run.Branch,
		"run_qa_tests", opts.RunQATests, "deploy_to_prod", opts.DeployToProd)

	// Preflight: every collaborator a requested gate needs must exist
	// before any remote step runs.
	if opts.RunQATests && c.Gate == nil {
		return c.failed(run, StageQAGate,
			fmt.Errorf("%w: qa tests requested but no qa job configured", config.ErrConfigMissing))
	}
	dev, err := c.Settings.Resolve(config.EnvDev)
	if err != nil {
		return c.failed(run, StageDeployDev, err)
	}
	var prod *config.Environment
	if opts.DeployToProd {
		if prod, err = c.Settings.Resolve(config.EnvProd); err != nil {
			return c.failed(run, StageDeployProd, err)
		}
	}

	// Checkout
	revision, err := c.Source.Checkout(ctx, run.Branch)
	if err != nil {
		return c.failed(run, StageCheckout, err)
	}
	run.Revision = revision

	// Build + publish. The publisher does both; the error taxonomy tells
	// the stages apart.
	policy := artifact.TagPolicy{}
	if c.Settings.Tag.Policy == config.TagPolicyFixed {
		policy.Fixed = c.Settings.Tag.Fixed
	}
	ref, err := c.Publish.Publish(ctx, c.Settings.WorkDir, policy, run.BuildID, revision)
	if err != nil {
		stage := StagePublish
		if errors.Is(err, artifact.ErrBuildFailed) {
			stage = StageBuild
		}
		return c.failed(run, stage, err)
	}
	run.Artifact = ref

	// Deploy dev. A dev failure deterministically prevents any prod attempt.
	run.DevResult = c.Deployer.Deploy(ctx, dev, run.Artifact)
	if run.DevResult.Outcome != deploy.OutcomeSuccess {
		return c.failed(run, StageDeployDev, run.DevResult.Cause)
	}

	// QA gate, only when requested.
	if opts.RunQATests {
		outcome, err := c.Gate.Run(ctx)
		run.QAOutcome = outcome
		if err != nil {
			return c.failed(run, StageQAGate, err)
		}
	}

	// Deploy prod, only when explicitly requested and every prior gate passed.
	if opts.DeployToProd {
		run.ProdResult = c.Deployer.Deploy(ctx, prod, run.Artifact)
		if run.ProdResult.Outcome != deploy.OutcomeSuccess {
			return c.failed(run, StageDeployProd, run.ProdResult.Cause)
		}
	}

	run.Outcome = OutcomeSuccess
	c.Logger.Info("pipeline run succeeded",
		"run_id", run.ID.String(), "artifact", run.Artifact.String())
	return run
}

func (c *Controller) failed(run *Run, stage Stage, cause error) *Run {
	run.Outcome = OutcomeFailed
	run.FailedStage = stage
	run.Err = cause
	c.Logger.Error("pipeline run failed",
		"run_id", run.ID.String(), "stage", string(stage), "error", cause)
	return run
}
