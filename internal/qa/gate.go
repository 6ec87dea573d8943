// Package qa runs the external QA job as a gate in the pipeline.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"convoy/internal/config"
)

// Outcome is the result of a QA gate run.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeUnstable Outcome = "unstable"
)

var (
	// ErrFailed indicates the QA job completed with a failing conclusion.
	ErrFailed = errors.New("qa job failed")

	// ErrUnstable indicates the QA job completed without a clear pass.
	ErrUnstable = errors.New("qa job unstable")
)

const (
	DefaultPollInterval = 15 * time.Second

	// dispatchSettle gives the dispatched run time to appear in listings
	// before the first poll.
	dispatchSettle = 3 * time.Second
)

// Gate blocks until the external QA job completes and reports its outcome.
// The wait is bounded and honors context cancellation.
type Gate interface {
	Run(ctx context.Context) (Outcome, error)
}

// GitHubGate triggers a GitHub Actions workflow by file name and polls the
// dispatched run until it concludes.
type GitHubGate struct {
	Owner    string
	Repo     string
	Workflow string
	Ref      string

	Timeout      time.Duration
	PollInterval time.Duration

	Logger *slog.Logger

	// Client is the GitHub API client. Replaceable for testing against a
	// local API server.
	Client *github.Client

	// settle is the wait after dispatch before the first poll.
	settle time.Duration
}

// NewGitHubGate creates a gate from validated QA configuration.
func NewGitHubGate(cfg config.QA, logger *slog.Logger) *GitHubGate {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(context.Background(), ts)

	return &GitHubGate{
		Owner:        cfg.Owner,
		Repo:         cfg.Repo,
		Workflow:     cfg.Workflow,
		Ref:          cfg.Ref,
		Timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
		PollInterval: DefaultPollInterval,
		Logger:       logger,
		Client:       github.NewClient(httpClient),
		settle:       dispatchSettle,
	}
}

// Run dispatches the workflow and blocks until it completes, the bounded
// wait expires, or the context is cancelled.
func (g *GitHubGate) Run(ctx context.Context) (Outcome, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	// Runs that already exist cannot be ours. Snapshot them before the
	// dispatch so a recently finished run is never mistaken for the one we
	// are about to create.
	known, err := g.listRunIDs(ctx)
	if err != nil {
		return OutcomeFailed, err
	}

	g.Logger.Info("dispatching qa workflow",
		"owner", g.Owner, "repo", g.Repo, "workflow", g.Workflow, "ref", g.Ref)

	_, err = g.Client.Actions.CreateWorkflowDispatchEventByFileName(
		ctx, g.Owner, g.Repo, g.Workflow,
		github.CreateWorkflowDispatchEventRequest{Ref: g.Ref})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to dispatch qa workflow: %w", err)
	}

	select {
	case <-ctx.Done():
		return OutcomeFailed, fmt.Errorf("qa gate cancelled: %w", ctx.Err())
	case <-time.After(g.settle):
	}

	ticker := time.NewTicker(g.PollInterval)
	defer ticker.Stop()

	for {
		run, err := g.findRun(ctx, known)
		if err != nil {
			return OutcomeFailed, err
		}

		if run != nil && run.GetStatus() == "completed" {
			return g.conclude(run)
		}

		select {
		case <-ctx.Done():
			return OutcomeFailed, fmt.Errorf("qa gate timed out waiting for workflow run: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// findRun locates the workflow run created by our dispatch. Workflow
// dispatches return no run ID, so the newest dispatch-triggered run on our
// ref that did not exist before the dispatch is taken as ours. A run from
// the pre-dispatch snapshot is never accepted, however recent; until our
// run shows up in listings the gate keeps waiting.
func (g *GitHubGate) findRun(ctx context.Context, known map[int64]struct{}) (*github.WorkflowRun, error) {
	runs, err := g.listRuns(ctx)
	if err != nil {
		return nil, err
	}

	for _, run := range runs.WorkflowRuns {
		if _, preexisting := known[run.GetID()]; !preexisting {
			return run, nil
		}
	}

	return nil, nil
}

// listRunIDs returns the IDs of the runs currently visible in listings.
func (g *GitHubGate) listRunIDs(ctx context.Context) (map[int64]struct{}, error) {
	runs, err := g.listRuns(ctx)
	if err != nil {
		return nil, err
	}

	ids := make(map[int64]struct{}, len(runs.WorkflowRuns))
	for _, run := range runs.WorkflowRuns {
		ids[run.GetID()] = struct{}{}
	}
	return ids, nil
}

func (g *GitHubGate) listRuns(ctx context.Context) (*github.WorkflowRuns, error) {
	runs, _, err := g.Client.Actions.ListWorkflowRunsByFileName(
		ctx, g.Owner, g.Repo, g.Workflow,
		&github.ListWorkflowRunsOptions{
			Branch:      g.Ref,
			Event:       "workflow_dispatch",
			ListOptions: github.ListOptions{PerPage: 5},
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list qa workflow runs: %w", err)
	}
	return runs, nil
}

func (g *GitHubGate) conclude(run *github.WorkflowRun) (Outcome, error) {
	conclusion := run.GetConclusion()
	g.Logger.Info("qa workflow completed", "run_id", run.GetID(), "conclusion", conclusion)

	switch conclusion {
	case "success":
		return OutcomeSuccess, nil
	case "failure", "cancelled", "timed_out", "startup_failure":
		return OutcomeFailed, fmt.Errorf("%w: conclusion %s", ErrFailed, conclusion)
	default:
		return OutcomeUnstable, fmt.Errorf("%w: conclusion %s", ErrUnstable, conclusion)
	}
}
