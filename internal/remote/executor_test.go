package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"convoy/pkg/cmdutil"
)

// fakeRun records argv and options and returns a canned result.
type fakeRun struct {
	argv [][]string
	opts []cmdutil.ExecOptions
	next *cmdutil.Result
	fail bool
}

func (f *fakeRun) run(ctx context.Context, opts cmdutil.ExecOptions, argv []string) (*cmdutil.Result, error) {
	f.argv = append(f.argv, argv)
	f.opts = append(f.opts, opts)

	result := f.next
	if result == nil {
		result = &cmdutil.Result{ExitCode: 0}
	}
	if f.fail {
		return result, fmt.Errorf("command failed: exit status %d", result.ExitCode)
	}
	return result, nil
}

func newTestSSH(fake *fakeRun) *SSH {
	s := NewSSH()
	s.run = fake.run
	return s
}

func TestSSH_Run_BuildsArgv(t *testing.T) {
	fake := &fakeRun{}
	s := newTestSSH(fake)

	target := Target{Host: "dev.example.com", User: "deploy", KeyPath: "/home/ci/.ssh/id_ed25519"}
	req := Request{
		Commands: []Command{
			{"mkdir", "-p", "/srv/habits"},
			{"chmod", "0755", "/srv/habits"},
		},
	}

	if _, err := s.Run(context.Background(), target, req); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(fake.argv) != 1 {
		t.Fatalf("expected 1 process execution, got %d", len(fake.argv))
	}

	argv := fake.argv[0]
	if argv[0] != "ssh" {
		t.Errorf("argv[0] = %q, expected ssh", argv[0])
	}

	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "-i /home/ci/.ssh/id_ed25519") {
		t.Errorf("identity file missing from argv: %v", argv)
	}
	if !strings.Contains(joined, "deploy@dev.example.com") {
		t.Errorf("target address missing from argv: %v", argv)
	}

	script := argv[len(argv)-1]
	if script != "mkdir -p /srv/habits && chmod 0755 /srv/habits" {
		t.Errorf("unexpected remote script: %q", script)
	}
}

func TestSSH_Run_QuotesArguments(t *testing.T) {
	fake := &fakeRun{}
	s := newTestSSH(fake)

	req := Request{
		Commands: []Command{{"echo", "two words; $(rm -rf /)"}},
	}

	if _, err := s.Run(context.Background(), Target{Host: "h", User: "u"}, req); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	script := fake.argv[0][len(fake.argv[0])-1]
	if !strings.Contains(script, "'two words; $(rm -rf /)'") {
		t.Errorf("argument was not quoted: %q", script)
	}
}

func TestSSH_Run_StdinAndTimeout(t *testing.T) {
	fake := &fakeRun{}
	s := newTestSSH(fake)

	req := Request{
		Commands: []Command{{"docker", "login", "--password-stdin"}},
		Stdin:    "registry-token",
		Timeout:  time.Minute,
	}

	if _, err := s.Run(context.Background(), Target{Host: "h", User: "u"}, req); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	opts := fake.opts[0]
	if opts.Stdin != "registry-token" {
		t.Errorf("Stdin = %q, expected credential to travel via stdin", opts.Stdin)
	}
	if opts.Timeout != time.Minute {
		t.Errorf("Timeout = %v, expected 1m", opts.Timeout)
	}

	script := fake.argv[0][len(fake.argv[0])-1]
	if strings.Contains(script, "registry-token") {
		t.Errorf("credential leaked into the command line: %q", script)
	}
}

func TestSSH_Run_EmptyRequest(t *testing.T) {
	s := newTestSSH(&fakeRun{})

	if _, err := s.Run(context.Background(), Target{Host: "h"}, Request{}); err == nil {
		t.Fatal("Run() expected error for empty request")
	}
}

func TestSSH_Run_ErrorMapping(t *testing.T) {
	testCases := []struct {
		name     string
		result   *cmdutil.Result
		expected error
	}{
		{
			name:     "remote command failed",
			result:   &cmdutil.Result{ExitCode: 1},
			expected: ErrCommandFailed,
		},
		{
			name:     "host unreachable",
			result:   &cmdutil.Result{ExitCode: 255},
			expected: ErrUnreachable,
		},
		{
			name:     "timed out",
			result:   &cmdutil.Result{ExitCode: -1, TimedOut: true},
			expected: ErrTimeout,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeRun{next: tc.result, fail: true}
			s := newTestSSH(fake)

			req := Request{Commands: []Command{{"true"}}, Timeout: time.Second}
			result, err := s.Run(context.Background(), Target{Host: "h", User: "u"}, req)

			if !errors.Is(err, tc.expected) {
				t.Errorf("error = %v, expected %v", err, tc.expected)
			}

			if result == nil {
				t.Fatal("expected a result alongside the error")
			}
			if result.ExitCode != tc.result.ExitCode {
				t.Errorf("ExitCode = %d, expected %d", result.ExitCode, tc.result.ExitCode)
			}
		})
	}
}

func TestSSH_Copy_BuildsArgv(t *testing.T) {
	fake := &fakeRun{}
	s := newTestSSH(fake)

	target := Target{Host: "prod.example.com", User: "deploy"}
	if _, err := s.Copy(context.Background(), target, "/etc/convoy/prod.env", "/srv/habits/.env.tmp", 30*time.Second); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}

	argv := fake.argv[0]
	if argv[0] != "scp" {
		t.Errorf("argv[0] = %q, expected scp", argv[0])
	}

	// The transfer is bounded like any other remote call.
	if fake.opts[0].Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, expected 30s", fake.opts[0].Timeout)
	}

	last := argv[len(argv)-1]
	if last != "deploy@prod.example.com:/srv/habits/.env.tmp" {
		t.Errorf("unexpected scp destination: %q", last)
	}

	if argv[len(argv)-2] != "/etc/convoy/prod.env" {
		t.Errorf("unexpected scp source: %q", argv[len(argv)-2])
	}
}

func TestResult_OK(t *testing.T) {
	if !(&Result{ExitCode: 0}).OK() {
		t.Error("exit 0 should be OK")
	}
	if (&Result{ExitCode: 2}).OK() {
		t.Error("non-zero exit should not be OK")
	}
}
