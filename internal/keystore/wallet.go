// ABOUTME: On-disk wallet records and the wallet index.
// ABOUTME: One directory per wallet id; the index maps names and the active pair.

package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/skiffworks/skiff/internal/fsutil"
)

// Sentinel errors shared across keystore operations.
var (
	ErrNotFound           = errors.New("wallet not found")
	ErrAccountNotFound    = errors.New("account index not found")
	ErrWalletExists       = errors.New("wallet name already exists")
	ErrPassphraseRequired = errors.New("wallet requires a passphrase to unlock")
)

// WalletKind distinguishes locally generated from user-imported secrets.
type WalletKind string

const (
	WalletGenerated WalletKind = "generated"
	WalletImported  WalletKind = "imported"
)

// WalletRecord is the persisted metadata for one wallet. Addresses are cached
// per chain so read-only tools never need an unlock.
type WalletRecord struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      WalletKind `json:"kind"`
	Accounts  uint32     `json:"accounts"`
	CreatedAt time.Time  `json:"created_at"`

	// ShareGen counts completed share rotations. Share boxes are sealed
	// under generation-qualified subkeys, so shares from different
	// generations cannot be silently combined.
	ShareGen int `json:"share_gen,omitempty"`

	// Addresses maps chain name to the ordered, append-only address list;
	// position i is account index i.
	Addresses map[string][]string `json:"addresses"`
}

// WalletInfo is the public view of a wallet returned by tools.
type WalletInfo struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Kind             WalletKind          `json:"kind"`
	Accounts         uint32              `json:"accounts"`
	Addresses        map[string][]string `json:"addresses"`
	NeedsPassphrase  bool                `json:"needs_passphrase"`
}

// walletIndex is the persisted name->id map plus the active selection.
type walletIndex struct {
	Wallets      map[string]string `json:"wallets"` // name -> id
	ActiveWallet string            `json:"active_wallet,omitempty"`
	ActiveIndex  uint32            `json:"active_index"`
}

// Per-wallet file names.
const (
	walletFile        = "wallet.json"
	share1MachineFile = "share1.machine.json"
	share2PassFile    = "share2.pass.json"
	share2MachineFile = "share2.machine.json"
	importedFile      = "imported.secret.json"
	indexFile         = "index.json"
)

func (k *Keystore) walletsDir() string          { return k.paths.WalletsDir() }
func (k *Keystore) walletDir(id string) string  { return filepath.Join(k.walletsDir(), id) }
func (k *Keystore) indexPath() string           { return filepath.Join(k.walletsDir(), indexFile) }

func (k *Keystore) readIndex() (*walletIndex, error) {
	var idx walletIndex
	data, err := os.ReadFile(k.indexPath())
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &idx); err != nil {
			return nil, fmt.Errorf("parsing wallet index: %w", err)
		}
	case os.IsNotExist(err):
		// Empty keystore.
	default:
		return nil, fmt.Errorf("reading wallet index: %w", err)
	}
	if idx.Wallets == nil {
		idx.Wallets = map[string]string{}
	}
	return &idx, nil
}

func (k *Keystore) writeIndex(idx *walletIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding wallet index: %w", err)
	}
	return fsutil.WriteFileAtomic(k.indexPath(), data, fsutil.ModeFilePrivate)
}

func (k *Keystore) readRecord(id string) (*WalletRecord, error) {
	data, err := os.ReadFile(filepath.Join(k.walletDir(id), walletFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading wallet record: %w", err)
	}
	var rec WalletRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing wallet record: %w", err)
	}
	if rec.Addresses == nil {
		rec.Addresses = map[string][]string{}
	}
	return &rec, nil
}

func (k *Keystore) writeRecord(rec *WalletRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding wallet record: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(k.walletDir(rec.ID), walletFile), data, fsutil.ModeFilePrivate)
}

func (k *Keystore) readBox(id, name string) (CryptoBox, error) {
	var box CryptoBox
	data, err := os.ReadFile(filepath.Join(k.walletDir(id), name))
	if err != nil {
		return box, fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, &box); err != nil {
		return box, fmt.Errorf("parsing %s: %w", name, err)
	}
	return box, nil
}

func (k *Keystore) writeBox(id, name string, box CryptoBox) error {
	data, err := json.Marshal(box)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(k.walletDir(id), name), data, fsutil.ModeFilePrivate)
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func (k *Keystore) info(rec *WalletRecord) WalletInfo {
	return WalletInfo{
		ID:              rec.ID,
		Name:            rec.Name,
		Kind:            rec.Kind,
		Accounts:        rec.Accounts,
		Addresses:       rec.Addresses,
		NeedsPassphrase: k.needsPassphrase(rec),
	}
}

func (k *Keystore) needsPassphrase(rec *WalletRecord) bool {
	if rec.Kind == WalletImported {
		return true
	}
	dir := k.walletDir(rec.ID)
	return fileExists(filepath.Join(dir, share2PassFile)) && !fileExists(filepath.Join(dir, share2MachineFile))
}
