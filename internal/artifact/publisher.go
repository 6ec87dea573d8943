package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"convoy/pkg/cmdutil"
)

const (
	DefaultBuildTimeout = 15 * time.Minute
	DefaultPushTimeout  = 10 * time.Minute
)

var (
	// ErrBuildFailed indicates the image build step errored.
	ErrBuildFailed = errors.New("image build failed")

	// ErrPushFailed indicates registry authentication or upload errored.
	ErrPushFailed = errors.New("image push failed")
)

// runFunc matches cmdutil.Run so tests can intercept process execution.
type runFunc func(ctx context.Context, opts cmdutil.ExecOptions, argv []string) (*cmdutil.Result, error)

// Publisher builds, tags, and pushes container images to a registry.
type Publisher struct {
	Registry  string
	Namespace string
	Image     string
	Username  string
	Password  string

	BuildTimeout time.Duration
	PushTimeout  time.Duration

	Logger *slog.Logger

	run runFunc
}

// NewPublisher creates a publisher for the given registry coordinates.
func NewPublisher(registry, namespace, image, username, password string, logger *slog.Logger) *Publisher {
	return &Publisher{
		Registry:     registry,
		Namespace:    namespace,
		Image:        image,
		Username:     username,
		Password:     password,
		BuildTimeout: DefaultBuildTimeout,
		PushTimeout:  DefaultPushTimeout,
		Logger:       logger,
		run:          cmdutil.Run,
	}
}

// Publish builds the image from srcDir, tags it per the policy, authenticates
// to the registry, and pushes. The returned reference is immutable and must
// be pulled verbatim by every subsequent deployment in the run.
func (p *Publisher) Publish(ctx context.Context, srcDir string, policy TagPolicy, buildID, revision string) (Reference, error) {
	tag, err := policy.Tag(buildID, revision)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}

	ref := Reference{
		Registry:  p.Registry,
		Namespace: p.Namespace,
		Image:     p.Image,
		Tag:       tag,
	}

	p.Logger.Info("building image", "ref", ref.String(), "dir", srcDir)
	build := []string{"docker", "build", "--pull", "-t", ref.String(), "."}
	if res, err := p.run(ctx, cmdutil.ExecOptions{Dir: srcDir, Timeout: p.BuildTimeout}, build); err != nil {
		p.logFailure("build", build, res)
		return Reference{}, fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}

	// Credential goes over stdin, never the argument list.
	login := []string{"docker", "login", p.Registry, "--username", p.Username, "--password-stdin"}
	if res, err := p.run(ctx, cmdutil.ExecOptions{Timeout: p.PushTimeout, Stdin: p.Password}, login); err != nil {
		p.logFailure("login", login, res)
		return Reference{}, fmt.Errorf("%w: registry authentication: %v", ErrPushFailed, err)
	}

	push := []string{"docker", "push", ref.String()}
	if res, err := p.run(ctx, cmdutil.ExecOptions{Timeout: p.PushTimeout}, push); err != nil {
		p.logFailure("push", push, res)
		return Reference{}, fmt.Errorf("%w: %v", ErrPushFailed, err)
	}

	p.Logger.Info("image published", "ref", ref.String())
	return ref, nil
}

func (p *Publisher) logFailure(step string, argv []string, res *cmdutil.Result) {
	attrs := []any{"step", step, "command", cmdutil.FormatCommand(argv)}
	if res != nil {
		attrs = append(attrs,
			"exit_code", res.ExitCode,
			"output", string(cmdutil.Redact(res.Output, []string{p.Password})))
	}
	p.Logger.Error("publish step failed", attrs...)
}
