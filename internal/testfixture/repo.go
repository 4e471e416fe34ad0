// Package testfixture builds throwaway local Git repositories for exercising
// the resolver and Git cache without network access.
//
// Adapted from the teacher's pkg/testutil/tempdir.go (temp-directory
// fixture management via t.Cleanup); generalized here to also script real
// `git` invocations, since gitcache and resolver need actual commits,
// tags, and branches to resolve against rather than a plain scratch
// directory.
package testfixture

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Repo is a local Git repository usable as a Source URL (a plain
// filesystem path, which `git clone` accepts like any other URL).
type Repo struct {
	t    *testing.T
	Dir  string
	tags map[string]string
}

// NewRepo initializes an empty repository under a fresh temp directory.
func NewRepo(t *testing.T) *Repo {
	t.Helper()
	dir := t.TempDir()
	r := &Repo{t: t, Dir: dir, tags: map[string]string{}}
	r.run("init", "--initial-branch=main")
	r.run("config", "user.email", "test@example.com")
	r.run("config", "user.name", "Test")
	return r
}

func (r *Repo) run(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	require.NoError(r.t, err, "git %v: %s", args, string(out))
	return strings.TrimSpace(string(out))
}

// WriteFile writes content to a path relative to the repo root, creating
// parent directories as needed.
func (r *Repo) WriteFile(relPath, content string) {
	r.t.Helper()
	full := filepath.Join(r.Dir, relPath)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(r.t, os.WriteFile(full, []byte(content), 0o644))
}

// Commit stages every change and commits with message, returning the new
// commit SHA.
func (r *Repo) Commit(message string) string {
	r.t.Helper()
	r.run("add", "-A")
	r.run("commit", "-m", message, "--allow-empty")
	return r.run("rev-parse", "HEAD")
}

// Tag creates a tag at HEAD.
func (r *Repo) Tag(name string) {
	r.t.Helper()
	r.run("tag", name)
	r.tags[name] = r.run("rev-parse", "HEAD")
}

// Branch creates and checks out a new branch from the current HEAD.
func (r *Repo) Branch(name string) {
	r.t.Helper()
	r.run("checkout", "-b", name)
}

// Checkout switches to an existing ref.
func (r *Repo) Checkout(ref string) {
	r.t.Helper()
	r.run("checkout", ref)
}

// URL returns the filesystem path usable as a Source URL for this repo.
func (r *Repo) URL() string {
	return r.Dir
}

// TagSHA returns the commit SHA a previously created tag points to.
func (r *Repo) TagSHA(name string) string {
	return r.tags[name]
}
