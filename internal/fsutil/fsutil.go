// Package fsutil provides the filesystem primitives the installer needs:
// directory creation, atomic file writes, and a parallel checksum walker.
// No command calls the checksum walker; only its test does.
//
// Grounded on original_source/src/utils/fs/{dirs,parallel,metadata}.rs (see
// SPEC_FULL.md §8): the Rust implementation this spec was distilled from
// keeps these concerns in a standalone fs module rather than folding them
// into the installer, a layering this package preserves. The parallel
// walker uses golang.org/x/sync/errgroup, the same bounded fan-out
// mechanism re-cinq-wave uses for its worker pool.
package fsutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

// WriteAtomic writes data to path via a sibling temp file, fsync, and
// rename, so a concurrent reader (or a crash mid-write) never observes a
// partial file — the same discipline internal/lockfile.Write uses for
// agpm.lock.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp := path + ".agpm-tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsyncing temp file for %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp file into %s: %w", path, err)
	}
	return nil
}

// CopyTree copies every regular file under src into dst, preserving
// relative paths. The installer and resolver do not call it; local path
// dependencies are read in place.
func CopyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return EnsureDir(target)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return WriteAtomic(target, data, info.Mode())
	})
}

// Checksum is one file's SHA-256 content hash, relative to the root it was
// walked from.
type Checksum struct {
	Path string
	Sum  string
}

// ParallelChecksum walks root and computes a SHA-256 checksum for every
// regular file concurrently, bounded by concurrency, for spec.md §4.6's
// staleness scan over a potentially large installed tree.
func ParallelChecksum(ctx context.Context, root string, concurrency int) ([]Checksum, error) {
	var paths []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	results := make([]Checksum, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			sum, err := checksumFile(p)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			results[i] = Checksum{Path: filepath.ToSlash(rel), Sum: sum}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
