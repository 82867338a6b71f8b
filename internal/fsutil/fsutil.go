// ABOUTME: Crash-safe, symlink-safe file writes with restrictive permissions.
// ABOUTME: Foundation for everything the keystore persists.

package fsutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Permission modes for private keystore state.
const (
	ModeDirPrivate  os.FileMode = 0o700
	ModeFilePrivate os.FileMode = 0o600
)

// isSymlink reports whether path is a symbolic link (without following it).
func isSymlink(path string) (bool, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return fi.Mode()&os.ModeSymlink != 0, nil
}

// EnsurePrivateDir creates dir if absent and clamps its permissions to
// owner-only if group/other bits are set. A symlinked target is refused.
func EnsurePrivateDir(dir string) error {
	fi, err := os.Lstat(dir)
	switch {
	case err == nil:
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("refusing to use symlinked directory: %s", dir)
		}
		if !fi.IsDir() {
			return fmt.Errorf("expected directory at %s", dir)
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, ModeDirPrivate); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
		fi, err = os.Lstat(dir)
		if err != nil {
			return fmt.Errorf("stat %s: %w", dir, err)
		}
	default:
		return fmt.Errorf("stat %s: %w", dir, err)
	}

	// If group/other have any bits set, clamp to 0700.
	if fi.Mode().Perm()&0o077 != 0 {
		if err := os.Chmod(dir, ModeDirPrivate); err != nil {
			return fmt.Errorf("chmod %s: %w", dir, err)
		}
	}
	return nil
}

// tmpPathFor returns a randomly suffixed temp path next to the final name,
// so the eventual rename stays on one filesystem.
func tmpPathFor(parent, finalName string) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("random suffix: %w", err)
	}
	return filepath.Join(parent, fmt.Sprintf(".%s.tmp.%s", finalName, hex.EncodeToString(buf[:]))), nil
}

// WriteFileAtomic replaces the file at path with exactly data, visible to
// readers only after completion. The bytes land in a freshly created temp file
// in the same directory, are fsynced, and are then renamed over the
// destination; a crash at any point leaves either the old content or the new
// content at path, never a partial file. Writing to a symlink is refused.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	if err := EnsurePrivateDir(parent); err != nil {
		return err
	}

	if _, err := os.Lstat(path); err == nil {
		sym, err := isSymlink(path)
		if err != nil {
			return err
		}
		if sym {
			return fmt.Errorf("refusing to write to symlink: %s", path)
		}
	}

	tmp, err := tmpPathFor(parent, filepath.Base(path))
	if err != nil {
		return err
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("open temp %s: %w", tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}
