package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"convoy/pkg/cmdutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRun fails the nth execution (1-based) and records every argv.
type fakeRun struct {
	argv   [][]string
	opts   []cmdutil.ExecOptions
	failAt int
}

func (f *fakeRun) run(ctx context.Context, opts cmdutil.ExecOptions, argv []string) (*cmdutil.Result, error) {
	f.argv = append(f.argv, argv)
	f.opts = append(f.opts, opts)

	if f.failAt == len(f.argv) {
		return &cmdutil.Result{ExitCode: 1}, fmt.Errorf("command failed: exit status 1")
	}
	return &cmdutil.Result{ExitCode: 0}, nil
}

func newTestPublisher(fake *fakeRun) *Publisher {
	p := NewPublisher("registry.example.com", "habits", "api", "deployer", "s3cret", discardLogger())
	p.run = fake.run
	return p
}

func TestPublisher_Publish_Success(t *testing.T) {
	fake := &fakeRun{}
	p := newTestPublisher(fake)

	ref, err := p.Publish(context.Background(), "/src", TagPolicy{}, "42", "f3a91c0deadbeef")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	expected := "registry.example.com/habits/api:42-f3a91c0"
	if ref.String() != expected {
		t.Errorf("reference = %q, expected %q", ref.String(), expected)
	}

	if len(fake.argv) != 3 {
		t.Fatalf("expected build, login, push; got %d executions", len(fake.argv))
	}

	if fake.argv[0][1] != "build" || fake.opts[0].Dir != "/src" {
		t.Errorf("first execution should build in the source dir: %v in %q", fake.argv[0], fake.opts[0].Dir)
	}

	if fake.argv[1][1] != "login" {
		t.Errorf("second execution should log in: %v", fake.argv[1])
	}

	if fake.argv[2][1] != "push" || fake.argv[2][2] != expected {
		t.Errorf("third execution should push the exact reference: %v", fake.argv[2])
	}
}

func TestPublisher_Publish_CredentialViaStdin(t *testing.T) {
	fake := &fakeRun{}
	p := newTestPublisher(fake)

	if _, err := p.Publish(context.Background(), "/src", TagPolicy{Fixed: "latest"}, "", ""); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	login := strings.Join(fake.argv[1], " ")
	if strings.Contains(login, "s3cret") {
		t.Errorf("credential leaked into the login argv: %q", login)
	}
	if !strings.Contains(login, "--password-stdin") {
		t.Errorf("login should use --password-stdin: %q", login)
	}
	if fake.opts[1].Stdin != "s3cret" {
		t.Errorf("credential should travel via stdin, got %q", fake.opts[1].Stdin)
	}
}

func TestPublisher_Publish_BuildFailure(t *testing.T) {
	fake := &fakeRun{failAt: 1}
	p := newTestPublisher(fake)

	_, err := p.Publish(context.Background(), "/src", TagPolicy{}, "42", "f3a91c0")
	if !errors.Is(err, ErrBuildFailed) {
		t.Errorf("error = %v, expected ErrBuildFailed", err)
	}

	if len(fake.argv) != 1 {
		t.Errorf("no further commands should run after a failed build, got %d", len(fake.argv))
	}
}

func TestPublisher_Publish_LoginFailure(t *testing.T) {
	fake := &fakeRun{failAt: 2}
	p := newTestPublisher(fake)

	_, err := p.Publish(context.Background(), "/src", TagPolicy{}, "42", "f3a91c0")
	if !errors.Is(err, ErrPushFailed) {
		t.Errorf("error = %v, expected ErrPushFailed", err)
	}
}

func TestPublisher_Publish_PushFailure(t *testing.T) {
	fake := &fakeRun{failAt: 3}
	p := newTestPublisher(fake)

	_, err := p.Publish(context.Background(), "/src", TagPolicy{}, "42", "f3a91c0")
	if !errors.Is(err, ErrPushFailed) {
		t.Errorf("error = %v, expected ErrPushFailed", err)
	}
}

func TestPublisher_Publish_MissingBuildInfo(t *testing.T) {
	fake := &fakeRun{}
	p := newTestPublisher(fake)

	_, err := p.Publish(context.Background(), "/src", TagPolicy{}, "", "")
	if !errors.Is(err, ErrBuildFailed) {
		t.Errorf("error = %v, expected ErrBuildFailed", err)
	}

	if len(fake.argv) != 0 {
		t.Errorf("nothing should execute when the tag cannot be derived, got %d", len(fake.argv))
	}
}
