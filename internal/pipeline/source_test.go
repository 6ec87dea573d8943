package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"convoy/pkg/cmdutil"
)

type fakeGit struct {
	argv [][]string
	dirs []string
	err  error
}

func (f *fakeGit) run(ctx context.Context, opts cmdutil.ExecOptions, argv []string) (*cmdutil.Result, error) {
	f.argv = append(f.argv, argv)
	f.dirs = append(f.dirs, opts.Dir)

	if f.err != nil {
		return &cmdutil.Result{ExitCode: 128}, f.err
	}
	if argv[1] == "rev-parse" {
		return &cmdutil.Result{Output: []byte("f3a91c0deadbeef\n")}, nil
	}
	return &cmdutil.Result{}, nil
}

func newTestSource(t *testing.T, fake *fakeGit) *GitSource {
	t.Helper()
	s := NewGitSource("git@github.com:example/habits-api.git", t.TempDir(), discardLogger())
	s.run = fake.run
	return s
}

func (f *fakeGit) commands() []string {
	var lines []string
	for _, argv := range f.argv {
		lines = append(lines, strings.Join(argv, " "))
	}
	return lines
}

func TestGitSource_Checkout_FreshClone(t *testing.T) {
	fake := &fakeGit{}
	s := newTestSource(t, fake)

	revision, err := s.Checkout(context.Background(), "main")
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if revision != "f3a91c0deadbeef" {
		t.Errorf("revision = %q", revision)
	}

	commands := fake.commands()
	if len(commands) != 2 {
		t.Fatalf("expected clone then rev-parse, got %v", commands)
	}
	if !strings.HasPrefix(commands[0], "git clone --branch main --single-branch") {
		t.Errorf("first command = %q, expected a single-branch clone", commands[0])
	}
	if commands[1] != "git rev-parse HEAD" {
		t.Errorf("second command = %q", commands[1])
	}
}

func TestGitSource_Checkout_ExistingClone(t *testing.T) {
	fake := &fakeGit{}
	s := newTestSource(t, fake)

	if err := os.MkdirAll(filepath.Join(s.WorkDir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Checkout(context.Background(), "release"); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}

	expected := []string{
		"git fetch origin release",
		"git checkout release",
		"git reset --hard origin/release",
		"git rev-parse HEAD",
	}
	commands := fake.commands()
	if len(commands) != len(expected) {
		t.Fatalf("commands = %v, expected %v", commands, expected)
	}
	for i := range expected {
		if commands[i] != expected[i] {
			t.Errorf("commands[%d] = %q, expected %q", i, commands[i], expected[i])
		}
	}

	// Updates run inside the existing working tree.
	for i, dir := range fake.dirs {
		if dir != s.WorkDir {
			t.Errorf("command %d ran in %q, expected %q", i, dir, s.WorkDir)
		}
	}
}

func TestGitSource_Checkout_GitFailure(t *testing.T) {
	fake := &fakeGit{err: errors.New("could not read from remote repository")}
	s := newTestSource(t, fake)

	if _, err := s.Checkout(context.Background(), "main"); err == nil {
		t.Fatal("Checkout() expected error")
	}
}
