// Package backup protects an installed file (a resource target or
// agpm.lock) against a failed in-place overwrite by keeping a `.backup`
// sibling and restoring it on demand.
//
// Ported from original_source/src/upgrade/backup.rs's BackupManager (see
// SPEC_FULL.md §8): the original guards a self-upgrading binary; this
// package repurposes the same create/restore/cleanup lifecycle and
// bounded-retry restore loop to guard any installer-written file, since
// spec.md §4.5's "auto-heal" install path can overwrite a file a user has
// since hand-edited and needs the same rollback safety net.
package backup

import (
	"fmt"
	"os"
	"time"

	"github.com/agpm-dev/agpm/internal/agpmlog"
)

var log = agpmlog.New("backup")

const (
	maxRestoreAttempts = 3
	restoreRetryDelay  = time.Second
)

// Manager backs up and restores exactly one file, at <path>.backup beside
// the original, matching the original's same-directory strategy for
// permission and filesystem consistency.
type Manager struct {
	path       string
	backupPath string
}

// New returns a Manager for path.
func New(path string) *Manager {
	return &Manager{path: path, backupPath: path + ".backup"}
}

// BackupPath returns the sibling backup file's path.
func (m *Manager) BackupPath() string {
	return m.backupPath
}

// Exists reports whether a backup is currently present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.backupPath)
	return err == nil
}

// Create copies the current file to its backup path, overwriting any
// previous backup. A missing source file is not an error: there is
// nothing to protect yet (e.g. a first-ever install).
func (m *Manager) Create() error {
	info, err := os.Stat(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", m.path, err)
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("reading %s for backup: %w", m.path, err)
	}
	if err := os.WriteFile(m.backupPath, data, info.Mode()); err != nil {
		return fmt.Errorf("writing backup %s: %w", m.backupPath, err)
	}
	log.Printf("created backup %s", m.backupPath)
	return nil
}

// Restore copies the backup back over the original, retrying up to
// maxRestoreAttempts times with a one-second delay between attempts — the
// original's accommodation for Windows file-locking on the binary it
// restores, kept here in case the target is briefly held open by the tool
// agpm just installed it for.
func (m *Manager) Restore() error {
	if !m.Exists() {
		return fmt.Errorf("no backup found at %s", m.backupPath)
	}
	log.Printf("restoring %s from backup", m.path)

	var lastErr error
	for attempt := 0; attempt < maxRestoreAttempts; attempt++ {
		if err := m.attemptRestore(); err != nil {
			lastErr = err
			if attempt < maxRestoreAttempts-1 {
				log.Printf("restore attempt %d failed: %v; retrying", attempt+1, err)
				time.Sleep(restoreRetryDelay)
				continue
			}
			return fmt.Errorf("failed to restore backup after %d attempts: %w", maxRestoreAttempts, lastErr)
		}
		return nil
	}
	return lastErr
}

func (m *Manager) attemptRestore() error {
	if _, err := os.Stat(m.path); err == nil {
		if err := os.Remove(m.path); err != nil {
			return fmt.Errorf("removing %s before restore: %w", m.path, err)
		}
	}
	data, err := os.ReadFile(m.backupPath)
	if err != nil {
		return fmt.Errorf("reading backup %s: %w", m.backupPath, err)
	}
	info, err := os.Stat(m.backupPath)
	if err != nil {
		return fmt.Errorf("stat backup %s: %w", m.backupPath, err)
	}
	if err := os.WriteFile(m.path, data, info.Mode()); err != nil {
		return fmt.Errorf("writing restored file %s: %w", m.path, err)
	}
	return nil
}

// Cleanup removes the backup file once an install has been confirmed
// successful. A missing backup is not an error.
func (m *Manager) Cleanup() error {
	if err := os.Remove(m.backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing backup %s: %w", m.backupPath, err)
	}
	return nil
}
