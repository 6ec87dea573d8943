// Package remote executes commands on deployment hosts over SSH.
//
// Commands are always built as argument lists and quoted with shellquote
// before they cross the wire; no command string is ever assembled by
// interpolation.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"convoy/pkg/cmdutil"
)

const (
	// sshUnreachableExit is the exit code ssh itself uses when the
	// connection fails, as opposed to the remote command failing.
	sshUnreachableExit = 255

	DefaultConnectTimeout = 10 * time.Second
)

var (
	// ErrUnreachable indicates the host could not be reached over SSH.
	ErrUnreachable = errors.New("remote host unreachable")

	// ErrCommandFailed indicates the remote command exited non-zero.
	ErrCommandFailed = errors.New("remote command failed")

	// ErrTimeout indicates the command exceeded its time bound.
	ErrTimeout = errors.New("remote command timed out")
)

// Target identifies a remote host and the identity used to reach it.
type Target struct {
	Host string
	User string
	// KeyPath is the SSH identity file. Empty means the default identity.
	KeyPath string
}

func (t Target) address() string {
	if t.User == "" {
		return t.Host
	}
	return t.User + "@" + t.Host
}

// Command is a single remote command as an argument list.
type Command []string

// Request is one logical unit of remote execution. All commands are chained
// so that a failure partway through fails the whole unit.
type Request struct {
	Commands []Command

	// Stdin is piped to the remote command when non-empty.
	Stdin string

	// Timeout bounds the whole unit. Zero means no bound.
	Timeout time.Duration
}

// Result is the outcome of a remote execution.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// OK reports whether the execution succeeded.
func (r *Result) OK() bool {
	return r.ExitCode == 0
}

// Executor runs commands on and copies files to a remote target.
// Calls are synchronous and time-bounded; the caller decides sequencing.
type Executor interface {
	Run(ctx context.Context, target Target, req Request) (*Result, error)
	Copy(ctx context.Context, target Target, localPath, remotePath string, timeout time.Duration) (*Result, error)
}

// runFunc matches cmdutil.Run and exists so tests can intercept the
// underlying process execution.
type runFunc func(ctx context.Context, opts cmdutil.ExecOptions, argv []string) (*cmdutil.Result, error)

// SSH is the Executor implementation backed by the ssh and scp binaries.
type SSH struct {
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	run runFunc
}

// NewSSH creates an SSH executor with default settings.
func NewSSH() *SSH {
	return &SSH{
		ConnectTimeout: DefaultConnectTimeout,
		run:            cmdutil.Run,
	}
}

// Run executes a request on the target. The commands are quoted per argument
// and joined with && into one remote invocation.
func (s *SSH) Run(ctx context.Context, target Target, req Request) (*Result, error) {
	if len(req.Commands) == 0 {
		return nil, fmt.Errorf("empty request")
	}

	script, err := joinCommands(req.Commands)
	if err != nil {
		return nil, err
	}

	argv := s.baseArgs("ssh", target.KeyPath)
	argv = append(argv, target.address(), "--", script)

	return s.execute(ctx, argv, req.Stdin, req.Timeout)
}

// Copy transfers a local file to a path on the target via scp. The timeout
// bounds the whole transfer, not just connection establishment; zero means
// no bound.
func (s *SSH) Copy(ctx context.Context, target Target, localPath, remotePath string, timeout time.Duration) (*Result, error) {
	argv := s.baseArgs("scp", target.KeyPath)
	argv = append(argv, localPath, target.address()+":"+remotePath)

	return s.execute(ctx, argv, "", timeout)
}

func (s *SSH) baseArgs(bin, keyPath string) []string {
	argv := []string{
		bin,
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(s.ConnectTimeout.Seconds())),
	}
	if keyPath != "" {
		argv = append(argv, "-i", keyPath)
	}
	return argv
}

func (s *SSH) execute(ctx context.Context, argv []string, stdin string, timeout time.Duration) (*Result, error) {
	res, err := s.run(ctx, cmdutil.ExecOptions{Timeout: timeout, Stdin: stdin}, argv)
	if res == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	result := &Result{
		ExitCode: res.ExitCode,
		Stdout:   string(res.Output),
		Stderr:   string(res.Output), // combined output
		Duration: res.Duration,
	}

	switch {
	case res.TimedOut:
		return result, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case res.ExitCode == sshUnreachableExit:
		return result, fmt.Errorf("%w: %s", ErrUnreachable, strings.TrimSpace(result.Stderr))
	case err != nil:
		return result, fmt.Errorf("%w: exit code %d", ErrCommandFailed, res.ExitCode)
	}

	return result, nil
}

// joinCommands quotes each command's arguments and chains the commands so
// the remote shell stops at the first failure.
func joinCommands(commands []Command) (string, error) {
	parts := make([]string, 0, len(commands))
	for i, cmd := range commands {
		if len(cmd) == 0 {
			return "", fmt.Errorf("empty command at position %d", i)
		}
		parts = append(parts, shellquote.Join(cmd...))
	}
	return strings.Join(parts, " && "), nil
}
