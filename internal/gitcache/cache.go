// Package gitcache provides a content-addressed, lock-coordinated store of
// bare Git clones and on-demand worktrees pinned to specific commits.
//
// Grounded on spec.md §4.1 and the teacher's two cache-adjacent files:
// pkg/parser/import_cache.go (manifest-based on-disk cache keyed by
// owner/repo/path@ref, generalized here from a single-file cache to a full
// bare-clone + worktree lifecycle) and pkg/gitutil/gitutil.go (git is
// invoked as a subprocess here; no SHA validation or auth-error sniffing is
// done on its output beyond the exit status). Locking uses
// github.com/gofrs/flock, promoted from an indirect dependency of the
// teacher's go.mod to the direct implementation of spec.md's "OS-level
// whole-file exclusion" requirement.
package gitcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agpm-dev/agpm/internal/agpmerrors"
	"github.com/agpm-dev/agpm/internal/agpmlog"
	"github.com/agpm-dev/agpm/internal/version"
)

var log = agpmlog.New("gitcache")

// Policy controls backoff/timeout behavior for lock acquisition, per
// spec.md §4.1 ("exponential backoff, start 10ms, cap 500ms, default
// timeout 30s").
type Policy struct {
	StartBackoff time.Duration
	MaxBackoff   time.Duration
	Timeout      time.Duration
}

// DefaultPolicy matches the spec's defaults.
var DefaultPolicy = Policy{
	StartBackoff: 10 * time.Millisecond,
	MaxBackoff:   500 * time.Millisecond,
	Timeout:      30 * time.Second,
}

// Cache roots one (bare clone, worktree, lock) triad under a single
// directory, per spec.md §4.1's Layout.
type Cache struct {
	root   string
	policy Policy

	// worktreeLocks memoizes in-process gofrs/flock handles so concurrent
	// readers within one process don't re-contend the OS lock once a
	// worktree is warm (spec.md §5's shared-resource policy).
	worktreeLocks sync.Map // key: "<url>\x00<sha>" -> *flock.Flock
	bareLocks     sync.Map // key: url -> *flock.Flock

	tagCaches sync.Map // key: url -> *tagCache
}

type tagCache struct {
	once sync.Once
	tags []version.Candidate
	err  error
}

// New creates a Cache rooted at root, creating the directory layout if
// needed. root defaults to $AGPM_CACHE_DIR, falling back to
// os.UserCacheDir()/agpm.
func New(root string) (*Cache, error) {
	if root == "" {
		if env := os.Getenv("AGPM_CACHE_DIR"); env != "" {
			root = env
		} else {
			dir, err := os.UserCacheDir()
			if err != nil {
				return nil, fmt.Errorf("resolving default cache dir: %w", err)
			}
			root = filepath.Join(dir, "agpm")
		}
	}
	for _, sub := range []string{"bare", "worktrees", "locks"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir %s: %w", sub, err)
		}
	}
	return &Cache{root: root, policy: DefaultPolicy}, nil
}

// WithPolicy overrides the lock-acquisition policy (used by tests to keep
// timeouts short).
func (c *Cache) WithPolicy(p Policy) *Cache {
	c.policy = p
	return c
}

func urlHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

func (c *Cache) bareDir(url string) string {
	return filepath.Join(c.root, "bare", urlHash(url))
}

func (c *Cache) worktreeDir(url, sha string) string {
	short := sha
	if len(short) > 12 {
		short = short[:12]
	}
	return filepath.Join(c.root, "worktrees", urlHash(url), short)
}

// GetOrFetchSource ensures a bare clone of url exists locally, fetches ref
// if it isn't already present, and returns the resolved commit SHA.
func (c *Cache) GetOrFetchSource(ctx context.Context, url, ref string) (string, error) {
	unlock, err := c.lockBare(ctx, url)
	if err != nil {
		return "", err
	}
	defer unlock()

	bare := c.bareDir(url)
	if !isGitDir(bare) {
		log.Printf("cloning %s into %s", url, bare)
		if err := c.cloneBare(ctx, url, bare); err != nil {
			return "", agpmerrors.New(agpmerrors.SourceInaccessible, url, err)
		}
	} else {
		log.Printf("fetching %s (%s) into existing bare clone", url, ref)
		if err := c.fetchRef(ctx, bare, ref); err != nil {
			return "", agpmerrors.New(agpmerrors.SourceInaccessible, url, err)
		}
	}

	sha, err := c.revParse(ctx, bare, refOrHead(ref))
	if err != nil {
		return "", agpmerrors.New(agpmerrors.SourceInaccessible, url, err)
	}
	return sha, nil
}

func refOrHead(ref string) string {
	if ref == "" {
		return "HEAD"
	}
	return ref
}

// GetWorktree returns a filesystem path whose contents equal commit sha in
// repository url, creating the worktree on demand. Concurrent callers for
// the same (url, sha) share the result.
func (c *Cache) GetWorktree(ctx context.Context, url, sha string) (string, error) {
	wt := c.worktreeDir(url, sha)

	if isWorktreeIntact(wt) {
		return wt, nil
	}

	unlock, err := c.lockWorktree(ctx, url, sha)
	if err != nil {
		return "", err
	}
	defer unlock()

	// Re-check after acquiring the lock: another process may have already
	// created it while we waited.
	if isWorktreeIntact(wt) {
		return wt, nil
	}
	if _, statErr := os.Stat(wt); statErr == nil {
		log.Printf("removing corrupted worktree at %s", wt)
		if err := os.RemoveAll(wt); err != nil {
			return "", fmt.Errorf("removing corrupted worktree %s: %w", wt, err)
		}
	}

	bare := c.bareDir(url)
	if !isGitDir(bare) {
		return "", agpmerrors.New(agpmerrors.SourceInaccessible, url, fmt.Errorf("no bare clone for %s; call GetOrFetchSource first", url))
	}

	if err := os.MkdirAll(filepath.Dir(wt), 0o755); err != nil {
		return "", fmt.Errorf("creating worktree parent dir: %w", err)
	}

	log.Printf("creating worktree for %s@%s at %s", url, sha, wt)
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "--detach", wt, sha)
	cmd.Dir = bare
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", agpmerrors.New(agpmerrors.SourceInaccessible, url, fmt.Errorf("git worktree add failed: %w: %s", err, strings.TrimSpace(string(out))))
	}
	return wt, nil
}

// ListFiles lists every regular file in a worktree, relative to its root,
// for glob pattern expansion (spec.md §4.3).
func (c *Cache) ListFiles(worktree string) ([]string, error) {
	var files []string
	err := filepath.Walk(worktree, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(worktree, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing files in %s: %w", worktree, err)
	}
	return files, nil
}

// ListTags returns the cached tag list for url, fetching it from Git on
// first call and memoizing thereafter — spec.md's "per-instance OnceLock
// cache; first call hits Git, subsequent calls are O(1)".
func (c *Cache) ListTags(ctx context.Context, url string) ([]version.Candidate, error) {
	v, _ := c.tagCaches.LoadOrStore(url, &tagCache{})
	tc := v.(*tagCache)
	tc.once.Do(func() {
		tc.tags, tc.err = c.fetchTags(ctx, url)
	})
	return tc.tags, tc.err
}

func (c *Cache) fetchTags(ctx context.Context, url string) ([]version.Candidate, error) {
	if _, err := c.GetOrFetchSource(ctx, url, ""); err != nil {
		return nil, err
	}
	bare := c.bareDir(url)
	cmd := exec.CommandContext(ctx, "git", "show-ref", "--tags")
	cmd.Dir = bare
	out, err := cmd.Output()
	if err != nil {
		// No tags is not an error; show-ref exits non-zero when there are none.
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("listing tags for %s: %w", url, err)
	}

	var candidates []version.Candidate
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		sha, ref := fields[0], fields[1]
		tag := strings.TrimPrefix(ref, "refs/tags/")
		candidates = append(candidates, version.Candidate{Tag: tag, Commit: sha})
	}
	return candidates, nil
}

// GCPolicy configures worktree garbage collection.
type GCPolicy struct {
	MaxAge time.Duration
}

// GC removes worktrees whose directory modification time is older than
// policy.MaxAge.
func (c *Cache) GC(policy GCPolicy) error {
	root := filepath.Join(c.root, "worktrees")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading worktrees dir: %w", err)
	}
	cutoff := time.Now().Add(-policy.MaxAge)
	for _, hashDir := range entries {
		full := filepath.Join(root, hashDir.Name())
		shaDirs, err := os.ReadDir(full)
		if err != nil {
			continue
		}
		for _, shaDir := range shaDirs {
			path := filepath.Join(full, shaDir.Name())
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				log.Printf("gc: removing stale worktree %s", path)
				_ = os.RemoveAll(path)
			}
		}
	}
	return nil
}

func isGitDir(path string) bool {
	info, err := os.Stat(filepath.Join(path, "HEAD"))
	return err == nil && !info.IsDir()
}

func isWorktreeIntact(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && !info.IsDir()
}

func (c *Cache) cloneBare(ctx context.Context, url, bareDir string) error {
	if err := os.MkdirAll(filepath.Dir(bareDir), 0o755); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--bare", url, bareDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone --bare failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *Cache) fetchRef(ctx context.Context, bareDir, ref string) error {
	args := []string{"fetch", "--tags", "origin"}
	if ref != "" {
		args = append(args, fmt.Sprintf("+%s:%s", ref, ref))
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = bareDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git fetch failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *Cache) revParse(ctx context.Context, bareDir, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", ref)
	cmd.Dir = bareDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s failed: %w", ref, err)
	}
	return strings.TrimSpace(string(out)), nil
}
