// Package deploy converges a target environment's running state to a
// published artifact through an ordered sequence of idempotent steps.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"convoy/internal/artifact"
	"convoy/internal/config"
	"convoy/internal/remote"
)

// Step names the convergence steps, in execution order.
type Step string

const (
	StepEnsureDirectory     Step = "ensure_directory"
	StepClearPreviousConfig Step = "clear_previous_config"
	StepUploadConfig        Step = "upload_config"
	StepStopPrevious        Step = "stop_previous"
	StepPullAndStart        Step = "pull_and_start"
)

// Outcome is the terminal state of one environment's deployment.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

const (
	// DefaultStopTimeout bounds stack teardown in StopPrevious.
	DefaultStopTimeout = 30 * time.Second

	// DefaultStepTimeout is the wall-clock bound for a single remote unit.
	DefaultStepTimeout = 5 * time.Minute

	// stopGrace is added to the teardown bound for the ssh round trip, so
	// compose gets its full teardown window before the wall clock cuts in.
	stopGrace = 15 * time.Second

	envFileName     = ".env"
	composeFileName = "docker-compose.yml"
)

// Result reports how a single environment's deployment ended.
// It is consumed by the pipeline controller for gating decisions only.
type Result struct {
	Environment string
	Outcome     Outcome
	FailedStep  Step
	Cause       error
	Duration    time.Duration
}

// Orchestrator drives the convergence sequence for one environment at a
// time. Steps run strictly in order; the first failure aborts the rest.
// There is no automatic rollback to the previously running version: the
// operator's recovery path is re-running the pipeline, which is safe
// because every step is idempotent.
type Orchestrator struct {
	Executor remote.Executor
	Registry config.Registry
	Logger   *slog.Logger

	// StopTimeout is passed to compose as its teardown bound.
	StopTimeout time.Duration

	// StepTimeout bounds each remote unit's wall clock.
	StepTimeout time.Duration
}

// NewOrchestrator creates an orchestrator with default timeouts.
func NewOrchestrator(executor remote.Executor, registry config.Registry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Executor:    executor,
		Registry:    registry,
		Logger:      logger,
		StopTimeout: DefaultStopTimeout,
		StepTimeout: DefaultStepTimeout,
	}
}

type step struct {
	name Step
	run  func(ctx context.Context) error
}

// Deploy converges env to the given artifact. Safe to re-run after a
// partial earlier run. Cancellation is honored between steps, never
// mid-step, so the host is never left between two steps' states.
func (o *Orchestrator) Deploy(ctx context.Context, env *config.Environment, ref artifact.Reference) *Result {
	target := remote.Target{Host: env.Host, User: env.User, KeyPath: env.SSHKey}
	start := time.Now()

	steps := []step{
		{StepEnsureDirectory, func(ctx context.Context) error { return o.ensureDirectory(ctx, target, env) }},
		{StepClearPreviousConfig, func(ctx context.Context) error { return o.clearPreviousConfig(ctx, target, env) }},
		{StepUploadConfig, func(ctx context.Context) error { return o.uploadConfig(ctx, target, env) }},
		{StepStopPrevious, func(ctx context.Context) error { return o.stopPrevious(ctx, target, env) }},
		{StepPullAndStart, func(ctx context.Context) error { return o.pullAndStart(ctx, target, env, ref) }},
	}

	for _, s := range steps {
		select {
		case <-ctx.Done():
			return o.failed(env, s.name, fmt.Errorf("deployment cancelled before %s: %w", s.name, ctx.Err()), start)
		default:
		}

		o.Logger.Info("deployment step", "environment", env.Name, "step", string(s.name))
		if err := s.run(ctx); err != nil {
			o.Logger.Error("deployment step failed",
				"environment", env.Name, "step", string(s.name), "error", err)
			return o.failed(env, s.name, err, start)
		}
	}

	o.Logger.Info("deployment succeeded", "environment", env.Name, "artifact", ref.String())
	return &Result{
		Environment: env.Name,
		Outcome:     OutcomeSuccess,
		Duration:    time.Since(start),
	}
}

func (o *Orchestrator) failed(env *config.Environment, s Step, cause error, start time.Time) *Result {
	return &Result{
		Environment: env.Name,
		Outcome:     OutcomeFailed,
		FailedStep:  s,
		Cause:       cause,
		Duration:    time.Since(start),
	}
}

// ensureDirectory creates the remote directory if absent and normalizes its
// ownership and mode. mkdir -p keeps this a no-op for an existing directory.
func (o *Orchestrator) ensureDirectory(ctx context.Context, target remote.Target, env *config.Environment) error {
	req := remote.Request{
		Commands: []remote.Command{
			{"mkdir", "-p", env.RemoteDir},
			{"chown", env.User + ":" + env.User, env.RemoteDir},
			{"chmod", "0755", env.RemoteDir},
		},
		Timeout: o.StepTimeout,
	}
	_, err := o.Executor.Run(ctx, target, req)
	return err
}

// clearPreviousConfig removes previously staged files. rm -f makes absence
// of anything to remove a success.
func (o *Orchestrator) clearPreviousConfig(ctx context.Context, target remote.Target, env *config.Environment) error {
	req := remote.Request{
		Commands: []remote.Command{
			{"rm", "-f",
				path.Join(env.RemoteDir, envFileName),
				path.Join(env.RemoteDir, composeFileName)},
		},
		Timeout: o.StepTimeout,
	}
	_, err := o.Executor.Run(ctx, target, req)
	return err
}

// uploadConfig stages the secret file and the compose definition. Files are
// copied to a temporary name and renamed into place, so a concurrent reader
// never observes a partial file as the final state.
func (o *Orchestrator) uploadConfig(ctx context.Context, target remote.Target, env *config.Environment) error {
	uploads := []struct {
		local  string
		remote string
		mode   string
	}{
		{env.EnvFile, path.Join(env.RemoteDir, envFileName), "0600"},
		{env.ComposeFile, path.Join(env.RemoteDir, composeFileName), "0644"},
	}

	for _, u := range uploads {
		staging := u.remote + ".tmp"
		if _, err := o.Executor.Copy(ctx, target, u.local, staging, o.StepTimeout); err != nil {
			return fmt.Errorf("upload %s: %w", u.remote, err)
		}

		req := remote.Request{
			Commands: []remote.Command{
				{"chmod", u.mode, staging},
				{"mv", "-f", staging, u.remote},
			},
			Timeout: o.StepTimeout,
		}
		if _, err := o.Executor.Run(ctx, target, req); err != nil {
			return fmt.Errorf("activate %s: %w", u.remote, err)
		}
	}

	return nil
}

// stopPrevious brings down any running stack, removing volumes and orphaned
// containers. A clean "nothing was running" state is success.
func (o *Orchestrator) stopPrevious(ctx context.Context, target remote.Target, env *config.Environment) error {
	seconds := int(o.StopTimeout.Seconds())
	req := remote.Request{
		Commands: []remote.Command{
			{"docker", "compose", "--project-directory", env.RemoteDir,
				"down", "--volumes", "--remove-orphans", "--timeout", fmt.Sprintf("%d", seconds)},
		},
		Timeout: o.StopTimeout + stopGrace,
	}
	_, err := o.Executor.Run(ctx, target, req)
	return err
}

// pullAndStart authenticates to the registry, pulls the exact artifact tag,
// and starts the stack detached. The login credential travels over stdin.
func (o *Orchestrator) pullAndStart(ctx context.Context, target remote.Target, env *config.Environment, ref artifact.Reference) error {
	req := remote.Request{
		Commands: []remote.Command{
			{"docker", "login", o.Registry.Host, "--username", o.Registry.Username, "--password-stdin"},
			{"docker", "pull", ref.String()},
			{"docker", "compose", "--project-directory", env.RemoteDir, "up", "-d"},
		},
		Stdin:   o.Registry.Password,
		Timeout: o.StepTimeout,
	}
	_, err := o.Executor.Run(ctx, target, req)
	return err
}
