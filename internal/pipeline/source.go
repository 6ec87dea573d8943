package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"convoy/pkg/cmdutil"
)

const DefaultCheckoutTimeout = 2 * time.Minute

// runFunc matches cmdutil.Run so tests can intercept process execution.
type runFunc func(ctx context.Context, opts cmdutil.ExecOptions, argv []string) (*cmdutil.Result, error)

// GitSource checks out a branch of a repository into a local work directory,
// cloning on first use and fetch-resetting afterwards.
type GitSource struct {
	Repo    string
	WorkDir string
	Timeout time.Duration
	Logger  *slog.Logger

	run runFunc
}

// NewGitSource creates a git-backed source.
func NewGitSource(repo, workDir string, logger *slog.Logger) *GitSource {
	return &GitSource{
		Repo:    repo,
		WorkDir: workDir,
		Timeout: DefaultCheckoutTimeout,
		Logger:  logger,
		run:     cmdutil.Run,
	}
}

// Checkout makes WorkDir match the tip of the branch and returns the
// resolved revision. Local changes are discarded; the work directory is
// owned by the pipeline.
func (s *GitSource) Checkout(ctx context.Context, branch string) (string, error) {
	if _, err := os.Stat(filepath.Join(s.WorkDir, ".git")); os.IsNotExist(err) {
		s.Logger.Info("cloning repository", "repo", s.Repo, "branch", branch, "dir", s.WorkDir)
		if err := s.git(ctx, "", "clone", "--branch", branch, "--single-branch", s.Repo, s.WorkDir); err != nil {
			return "", fmt.Errorf("checkout failed: %w", err)
		}
	} else {
		s.Logger.Info("updating repository", "branch", branch, "dir", s.WorkDir)
		for _, argv := range [][]string{
			{"fetch", "origin", branch},
			{"checkout", branch},
			{"reset", "--hard", "origin/" + branch},
		} {
			if err := s.git(ctx, s.WorkDir, argv...); err != nil {
				return "", fmt.Errorf("checkout failed: %w", err)
			}
		}
	}

	res, err := s.run(ctx, cmdutil.ExecOptions{Dir: s.WorkDir, Timeout: s.Timeout},
		[]string{"git", "rev-parse", "HEAD"})
	if err != nil {
		return "", fmt.Errorf("failed to resolve revision: %w", err)
	}

	revision := strings.TrimSpace(string(res.Output))
	if revision == "" {
		return "", fmt.Errorf("failed to resolve revision: empty rev-parse output")
	}

	return revision, nil
}

func (s *GitSource) git(ctx context.Context, dir string, args ...string) error {
	argv := append([]string{"git"}, args...)
	res, err := s.run(ctx, cmdutil.ExecOptions{Dir: dir, Timeout: s.Timeout}, argv)
	if err != nil {
		output := ""
		if res != nil {
			output = strings.TrimSpace(string(res.Output))
		}
		return fmt.Errorf("%s: %w (%s)", cmdutil.FormatCommand(argv), err, output)
	}
	return nil
}
