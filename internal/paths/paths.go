// ABOUTME: Resolves the skiff config and data directories.
// ABOUTME: Follows XDG conventions with SKIFF_HOME as an explicit override.

package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/skiffworks/skiff/internal/fsutil"
)

// Paths holds the resolved on-disk locations for one keystore.
// ConfigDir holds wallet material and config; DataDir holds the lock file,
// ledgers, and caches.
type Paths struct {
	ConfigDir string
	DataDir   string
}

// Resolve determines the directories for this process.
// Priority: SKIFF_HOME (both dirs underneath) > XDG_CONFIG_HOME/XDG_DATA_HOME >
// ~/.config/skiff and ~/.local/share/skiff.
func Resolve() (Paths, error) {
	if home := os.Getenv("SKIFF_HOME"); home != "" {
		return Paths{
			ConfigDir: filepath.Join(home, "config"),
			DataDir:   filepath.Join(home, "data"),
		}, nil
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve home dir: %w", err)
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		configDir = filepath.Join(userHome, ".config")
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(userHome, ".local", "share")
	}

	return Paths{
		ConfigDir: filepath.Join(configDir, "skiff"),
		DataDir:   filepath.Join(dataDir, "skiff"),
	}, nil
}

// EnsurePrivateDirs creates both directories with owner-only permissions.
func (p Paths) EnsurePrivateDirs() error {
	if err := fsutil.EnsurePrivateDir(p.ConfigDir); err != nil {
		return err
	}
	return fsutil.EnsurePrivateDir(p.DataDir)
}

// ConfigFile is the persisted keystore configuration.
func (p Paths) ConfigFile() string { return filepath.Join(p.ConfigDir, "config.toml") }

// MachineSecretFile holds the per-machine share-wrapping secret.
func (p Paths) MachineSecretFile() string { return filepath.Join(p.ConfigDir, "machine_secret.bin") }

// WalletsDir contains one subdirectory per wallet id.
func (p Paths) WalletsDir() string { return filepath.Join(p.ConfigDir, "wallets") }

// LockFile serializes writers across cooperating processes.
func (p Paths) LockFile() string { return filepath.Join(p.DataDir, "skiff.lock") }

// LedgerFile is the SQLite database holding the audit log and tx history.
func (p Paths) LedgerFile() string { return filepath.Join(p.DataDir, "ledger.db") }

// SanctionsCacheFile caches the fetched sanctions list.
func (p Paths) SanctionsCacheFile() string { return filepath.Join(p.DataDir, "sdn_cache.json") }
