package gitcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/agpm-dev/agpm/internal/agpmerrors"
)

// lockBare acquires the exclusive per-url lock guarding bare clone
// creation/update (spec.md §4.1's locking discipline). The returned func
// releases the lock and removes the lock file, ignoring a NotFound race.
func (c *Cache) lockBare(ctx context.Context, url string) (func(), error) {
	path := filepath.Join(c.root, "locks", urlHash(url)+".lock")
	return c.acquireFileLock(ctx, &c.bareLocks, url, path, fmt.Sprintf("bare:%s", url))
}

// lockWorktree acquires the exclusive per-(url, sha) lock guarding
// worktree creation.
func (c *Cache) lockWorktree(ctx context.Context, url, sha string) (func(), error) {
	path := filepath.Join(c.root, "locks", urlHash(url)+"-"+sha+".lock")
	return c.acquireFileLock(ctx, &c.worktreeLocks, url+"\x00"+sha, path, fmt.Sprintf("worktree:%s@%s", url, sha))
}

// acquireFileLock performs the blocking-executor-safe, exponential-backoff
// acquisition described in spec.md §4.1: start at policy.StartBackoff, cap
// at policy.MaxBackoff, fail after policy.Timeout. Each wait between
// attempts doubles the previous one and selects on the caller's context,
// so cancellation is observed promptly even mid-backoff.
//
// The *flock.Flock handle is memoized in memo keyed by key so repeated
// acquisitions from the same process (e.g. a warm worktree re-requested by
// a later resolution step) reuse the same in-process handle rather than
// opening the lock file again, per spec.md §5's shared-resource policy.
func (c *Cache) acquireFileLock(ctx context.Context, memo *sync.Map, key, path, name string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir for %s: %w", name, err)
	}

	v, _ := memo.LoadOrStore(key, flock.New(path))
	fl := v.(*flock.Flock)

	ctx, cancel := context.WithTimeout(ctx, c.policy.Timeout)
	defer cancel()

	backoff := c.policy.StartBackoff
	for {
		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
		}
		if locked {
			break
		}
		select {
		case <-ctx.Done():
			return nil, agpmerrors.New(agpmerrors.Timeout, name, fmt.Errorf("timed out acquiring lock %s: %w", path, ctx.Err()))
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.policy.MaxBackoff {
			backoff = c.policy.MaxBackoff
		}
	}

	release := func() {
		_ = fl.Unlock()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("failed to remove lock file %s: %v", path, err)
		}
	}
	return release, nil
}
