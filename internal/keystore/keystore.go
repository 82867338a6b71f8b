// ABOUTME: The keystore: wallet creation, import, accounts, shares, rotation.
// ABOUTME: All mutation happens under the write lock and lands via atomic writes.

package keystore

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/skiffworks/skiff/internal/config"
	"github.com/skiffworks/skiff/internal/fsutil"
	"github.com/skiffworks/skiff/internal/paths"
)

const entropyLen = 32

// AddressDeriver derives the address for one account index of one chain.
// Derivation must be a pure function of (secret, index): deriving index i
// twice always yields the same address.
type AddressDeriver interface {
	Name() string
	DeriveAddress(secret []byte, index uint32) (string, error)
}

// Keystore owns wallets, accounts, the active-wallet pointer, and the config.
// Reads need no lock; every mutating method requires the caller to hold the
// write lock and pass its handle in.
type Keystore struct {
	paths    paths.Paths
	cfg      *config.Config
	derivers []AddressDeriver
	logger   *slog.Logger
}

// New assembles a keystore over the given directories. The derivers decide
// which chains get an address per account.
func New(p paths.Paths, cfg *config.Config, derivers []AddressDeriver) *Keystore {
	return &Keystore{
		paths:    p,
		cfg:      cfg,
		derivers: derivers,
		logger:   slog.Default().With("component", "keystore"),
	}
}

// Config exposes the loaded configuration.
func (k *Keystore) Config() *config.Config { return k.cfg }

// AcquireWriteLock takes the cross-process write lock for this keystore.
func (k *Keystore) AcquireWriteLock() (*Lock, error) {
	if err := fsutil.EnsurePrivateDir(k.paths.DataDir); err != nil {
		return nil, err
	}
	return AcquireWriteLock(k.paths.LockFile())
}

// SaveConfig persists the config atomically.
func (k *Keystore) SaveConfig() error {
	return k.cfg.Save(k.paths.ConfigFile())
}

// ErrPassphraseSaltMissing means no salt has been established yet: no
// passphrase-protected wallet has ever been created or imported.
var ErrPassphraseSaltMissing = errors.New("passphrase salt not initialized")

// PassphraseSalt returns the per-keystore salt. It never mutates the config,
// so callers need no write lock; unlock paths use this and rely on wallet
// creation or import having established the salt first.
func (k *Keystore) PassphraseSalt() ([SaltLen]byte, error) {
	var salt [SaltLen]byte
	if k.cfg.PassphraseSaltB64 == "" {
		return salt, ErrPassphraseSaltMissing
	}
	raw, err := base64.StdEncoding.DecodeString(k.cfg.PassphraseSaltB64)
	if err != nil {
		return salt, fmt.Errorf("decoding passphrase salt: %w", err)
	}
	if len(raw) != SaltLen {
		return salt, fmt.Errorf("passphrase salt has wrong length %d", len(raw))
	}
	copy(salt[:], raw)
	return salt, nil
}

// EnsurePassphraseSalt returns the per-keystore salt, generating and
// persisting a fresh one on first use. Requires the write lock when the salt
// might not exist yet.
func (k *Keystore) EnsurePassphraseSalt() ([SaltLen]byte, error) {
	salt, err := k.PassphraseSalt()
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, ErrPassphraseSaltMissing) {
		return salt, err
	}

	salt, err = RandomSalt()
	if err != nil {
		return salt, err
	}
	k.cfg.PassphraseSaltB64 = base64.StdEncoding.EncodeToString(salt[:])
	if err := k.SaveConfig(); err != nil {
		return salt, err
	}
	return salt, nil
}

// machineSecret returns the 32-byte per-machine secret, creating it with
// owner-only permissions on first use.
func (k *Keystore) machineSecret() ([32]byte, error) {
	var secret [32]byte
	path := k.paths.MachineSecretFile()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != len(secret) {
			return secret, fmt.Errorf("machine secret has wrong length %d", len(data))
		}
		copy(secret[:], data)
		return secret, nil
	case os.IsNotExist(err):
		if _, err := rand.Read(secret[:]); err != nil {
			return secret, fmt.Errorf("generating machine secret: %w", err)
		}
		if err := fsutil.WriteFileAtomic(path, secret[:], fsutil.ModeFilePrivate); err != nil {
			return secret, err
		}
		return secret, nil
	default:
		return secret, fmt.Errorf("reading machine secret: %w", err)
	}
}

// sharePurpose qualifies a share's subkey purpose with the wallet's rotation
// generation. Generation 0 keeps the bare name wallets are created with.
func sharePurpose(base string, gen int) string {
	if gen == 0 {
		return base
	}
	return fmt.Sprintf("%s#%d", base, gen)
}

// deriveAddresses derives the address of account index on every configured
// chain.
func (k *Keystore) deriveAddresses(secret []byte, index uint32) (map[string]string, error) {
	out := make(map[string]string, len(k.derivers))
	for _, d := range k.derivers {
		addr, err := d.DeriveAddress(secret, index)
		if err != nil {
			return nil, fmt.Errorf("deriving %s address for account %d: %w", d.Name(), index, err)
		}
		out[d.Name()] = addr
	}
	return out, nil
}

// CreateGeneratedWallet generates a fresh root secret, splits it 3 ways with a
// 2-share quorum, and persists share 1 under the machine key and share 2 under
// the passphrase key. Share 3 is returned base64-encoded for offline backup
// and is never written to disk. Requires the write lock.
func (k *Keystore) CreateGeneratedWallet(lk *Lock, name string, passKey [32]byte) (WalletInfo, string, error) {
	info, share3, err := k.createGenerated(lk, name, &passKey)
	return info, share3, err
}

// CreateGeneratedWalletMachineOnly creates a wallet with both persisted shares
// bound to the machine secret: no passphrase is needed to derive accounts or
// sign. Users can opt into portable recovery later via RotateShares.
func (k *Keystore) CreateGeneratedWalletMachineOnly(lk *Lock, name string) (WalletInfo, error) {
	info, _, err := k.createGenerated(lk, name, nil)
	return info, err
}

func (k *Keystore) createGenerated(lk *Lock, name string, passKey *[32]byte) (WalletInfo, string, error) {
	if lk == nil {
		return WalletInfo{}, "", fmt.Errorf("write lock required")
	}
	if name == "" {
		return WalletInfo{}, "", fmt.Errorf("wallet name must not be empty")
	}

	idx, err := k.readIndex()
	if err != nil {
		return WalletInfo{}, "", err
	}
	if _, exists := idx.Wallets[name]; exists {
		return WalletInfo{}, "", ErrWalletExists
	}

	machine, err := k.machineSecret()
	if err != nil {
		return WalletInfo{}, "", err
	}

	entropy := make([]byte, entropyLen)
	if _, err := rand.Read(entropy); err != nil {
		return WalletInfo{}, "", fmt.Errorf("generating wallet entropy: %w", err)
	}
	defer zeroize(entropy)

	shares, err := ShamirSplit(entropy, 3, 2)
	if err != nil {
		return WalletInfo{}, "", fmt.Errorf("splitting wallet secret: %w", err)
	}
	defer func() {
		for _, s := range shares {
			zeroize(s)
		}
	}()

	id := uuid.New().String()

	s1Key, err := DeriveSubkey(machine, id, "share1")
	if err != nil {
		return WalletInfo{}, "", err
	}
	s1Box, err := Seal(s1Key, shares[0])
	if err != nil {
		return WalletInfo{}, "", fmt.Errorf("sealing share 1: %w", err)
	}

	var (
		s2Box  CryptoBox
		s2File string
	)
	if passKey != nil {
		s2Key, err := DeriveSubkey(*passKey, id, "share2")
		if err != nil {
			return WalletInfo{}, "", err
		}
		s2Box, err = Seal(s2Key, shares[1])
		if err != nil {
			return WalletInfo{}, "", fmt.Errorf("sealing share 2: %w", err)
		}
		s2File = share2PassFile
	} else {
		s2Key, err := DeriveSubkey(machine, id, "share2")
		if err != nil {
			return WalletInfo{}, "", err
		}
		s2Box, err = Seal(s2Key, shares[1])
		if err != nil {
			return WalletInfo{}, "", fmt.Errorf("sealing share 2: %w", err)
		}
		s2File = share2MachineFile
	}

	addrs, err := k.deriveAddresses(entropy, 0)
	if err != nil {
		return WalletInfo{}, "", err
	}

	rec := &WalletRecord{
		ID:        id,
		Name:      name,
		Kind:      WalletGenerated,
		Accounts:  1,
		CreatedAt: time.Now().UTC(),
		Addresses: map[string][]string{},
	}
	for chain, addr := range addrs {
		rec.Addresses[chain] = []string{addr}
	}

	if err := fsutil.EnsurePrivateDir(k.walletDir(id)); err != nil {
		return WalletInfo{}, "", err
	}
	if err := k.writeBox(id, share1MachineFile, s1Box); err != nil {
		return WalletInfo{}, "", err
	}
	if err := k.writeBox(id, s2File, s2Box); err != nil {
		return WalletInfo{}, "", err
	}
	if err := k.writeRecord(rec); err != nil {
		return WalletInfo{}, "", err
	}

	idx.Wallets[name] = id
	if idx.ActiveWallet == "" {
		idx.ActiveWallet = name
		idx.ActiveIndex = 0
	}
	if err := k.writeIndex(idx); err != nil {
		return WalletInfo{}, "", err
	}

	k.logger.Info("created wallet", "name", name, "id", id, "passphrase", passKey != nil)

	share3 := base64.StdEncoding.EncodeToString(shares[2])
	return k.info(rec), share3, nil
}

// ImportWallet stores a user-supplied secret, always passphrase-protected.
// The secret is sealed whole; there is no share split. Requires the write lock.
func (k *Keystore) ImportWallet(lk *Lock, name string, secret []byte, passKey [32]byte) (WalletInfo, error) {
	if lk == nil {
		return WalletInfo{}, fmt.Errorf("write lock required")
	}
	if name == "" {
		return WalletInfo{}, fmt.Errorf("wallet name must not be empty")
	}
	if len(secret) == 0 {
		return WalletInfo{}, fmt.Errorf("imported secret must not be empty")
	}

	idx, err := k.readIndex()
	if err != nil {
		return WalletInfo{}, err
	}
	if _, exists := idx.Wallets[name]; exists {
		return WalletInfo{}, ErrWalletExists
	}

	id := uuid.New().String()

	key, err := DeriveSubkey(passKey, id, "import")
	if err != nil {
		return WalletInfo{}, err
	}
	box, err := Seal(key, secret)
	if err != nil {
		return WalletInfo{}, fmt.Errorf("sealing imported secret: %w", err)
	}

	addrs, err := k.deriveAddresses(secret, 0)
	if err != nil {
		return WalletInfo{}, err
	}

	rec := &WalletRecord{
		ID:        id,
		Name:      name,
		Kind:      WalletImported,
		Accounts:  1,
		CreatedAt: time.Now().UTC(),
		Addresses: map[string][]string{},
	}
	for chain, addr := range addrs {
		rec.Addresses[chain] = []string{addr}
	}

	if err := fsutil.EnsurePrivateDir(k.walletDir(id)); err != nil {
		return WalletInfo{}, err
	}
	if err := k.writeBox(id, importedFile, box); err != nil {
		return WalletInfo{}, err
	}
	if err := k.writeRecord(rec); err != nil {
		return WalletInfo{}, err
	}

	idx.Wallets[name] = id
	if idx.ActiveWallet == "" {
		idx.ActiveWallet = name
		idx.ActiveIndex = 0
	}
	if err := k.writeIndex(idx); err != nil {
		return WalletInfo{}, err
	}

	k.logger.Info("imported wallet", "name", name, "id", id)
	return k.info(rec), nil
}

// reconstructSecret recovers a wallet's root secret. For generated wallets it
// opens share 1 under the machine key and share 2 under either the machine or
// the passphrase key, then recombines. A nil passKey against a
// passphrase-protected wallet returns ErrPassphraseRequired; a wrong key
// surfaces as ErrDecrypt. Callers must zeroize the returned slice.
func (k *Keystore) reconstructSecret(rec *WalletRecord, passKey *[32]byte) ([]byte, error) {
	if rec.Kind == WalletImported {
		if passKey == nil {
			return nil, ErrPassphraseRequired
		}
		box, err := k.readBox(rec.ID, importedFile)
		if err != nil {
			return nil, err
		}
		key, err := DeriveSubkey(*passKey, rec.ID, "import")
		if err != nil {
			return nil, err
		}
		return Open(key, box)
	}

	machine, err := k.machineSecret()
	if err != nil {
		return nil, err
	}

	s1Box, err := k.readBox(rec.ID, share1MachineFile)
	if err != nil {
		return nil, err
	}
	s1Key, err := DeriveSubkey(machine, rec.ID, sharePurpose("share1", rec.ShareGen))
	if err != nil {
		return nil, err
	}
	s1, err := Open(s1Key, s1Box)
	if err != nil {
		return nil, fmt.Errorf("opening share 1: %w", err)
	}
	defer zeroize(s1)

	var s2 []byte
	if fileExists(filepath.Join(k.walletDir(rec.ID), share2MachineFile)) {
		s2Box, err := k.readBox(rec.ID, share2MachineFile)
		if err != nil {
			return nil, err
		}
		s2Key, err := DeriveSubkey(machine, rec.ID, sharePurpose("share2", rec.ShareGen))
		if err != nil {
			return nil, err
		}
		s2, err = Open(s2Key, s2Box)
		if err != nil {
			return nil, fmt.Errorf("opening share 2: %w", err)
		}
	} else {
		if passKey == nil {
			return nil, ErrPassphraseRequired
		}
		s2Box, err := k.readBox(rec.ID, share2PassFile)
		if err != nil {
			return nil, err
		}
		s2Key, err := DeriveSubkey(*passKey, rec.ID, sharePurpose("share2", rec.ShareGen))
		if err != nil {
			return nil, err
		}
		s2, err = Open(s2Key, s2Box)
		if err != nil {
			return nil, err
		}
	}
	defer zeroize(s2)

	secret, err := ShamirCombine([][]byte{s1, s2}, 2)
	if err != nil {
		return nil, fmt.Errorf("recombining shares: %w", err)
	}
	return secret, nil
}

// AddAccount derives the next sequential account for a wallet using the
// caller's unlocked key. Fails with ErrDecrypt when the key does not unlock
// the wallet's protected material. Requires the write lock.
func (k *Keystore) AddAccount(lk *Lock, name string, passKey [32]byte) (WalletInfo, uint32, error) {
	return k.addAccount(lk, name, &passKey)
}

// AddAccountNoPassphrase is AddAccount for wallets whose second share is
// machine-bound; it fails with ErrPassphraseRequired when the wallet is
// actually passphrase-protected.
func (k *Keystore) AddAccountNoPassphrase(lk *Lock, name string) (WalletInfo, uint32, error) {
	return k.addAccount(lk, name, nil)
}

func (k *Keystore) addAccount(lk *Lock, name string, passKey *[32]byte) (WalletInfo, uint32, error) {
	if lk == nil {
		return WalletInfo{}, 0, fmt.Errorf("write lock required")
	}

	rec, err := k.recordByName(name)
	if err != nil {
		return WalletInfo{}, 0, err
	}

	secret, err := k.reconstructSecret(rec, passKey)
	if err != nil {
		return WalletInfo{}, 0, err
	}
	defer zeroize(secret)

	newIndex := rec.Accounts
	addrs, err := k.deriveAddresses(secret, newIndex)
	if err != nil {
		return WalletInfo{}, 0, err
	}

	for chain, addr := range addrs {
		rec.Addresses[chain] = append(rec.Addresses[chain], addr)
	}
	rec.Accounts++

	if err := k.writeRecord(rec); err != nil {
		return WalletInfo{}, 0, err
	}

	k.logger.Info("added account", "wallet", name, "index", newIndex)
	return k.info(rec), newIndex, nil
}

// GeneratedWalletNeedsPassphrase reports whether the wallet's second share is
// passphrase-protected.
func (k *Keystore) GeneratedWalletNeedsPassphrase(id string) bool {
	dir := k.walletDir(id)
	return fileExists(filepath.Join(dir, share2PassFile)) && !fileExists(filepath.Join(dir, share2MachineFile))
}

// UnlockSecret reconstructs the wallet's root secret for signing. The caller
// must zeroize the returned slice as soon as the signature is produced.
func (k *Keystore) UnlockSecret(name string, passKey *[32]byte) ([]byte, error) {
	rec, err := k.recordByName(name)
	if err != nil {
		return nil, err
	}
	return k.reconstructSecret(rec, passKey)
}

func (k *Keystore) recordByName(name string) (*WalletRecord, error) {
	idx, err := k.readIndex()
	if err != nil {
		return nil, err
	}
	id, ok := idx.Wallets[name]
	if !ok {
		return nil, ErrNotFound
	}
	return k.readRecord(id)
}

// GetWalletByName returns the public view of one wallet.
func (k *Keystore) GetWalletByName(name string) (WalletInfo, error) {
	rec, err := k.recordByName(name)
	if err != nil {
		return WalletInfo{}, err
	}
	return k.info(rec), nil
}

// ListWallets returns all wallets sorted by name.
func (k *Keystore) ListWallets() ([]WalletInfo, error) {
	idx, err := k.readIndex()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(idx.Wallets))
	for name := range idx.Wallets {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]WalletInfo, 0, len(names))
	for _, name := range names {
		rec, err := k.readRecord(idx.Wallets[name])
		if err != nil {
			return nil, err
		}
		out = append(out, k.info(rec))
	}
	return out, nil
}

// GetActiveWallet returns the active (wallet, account index) pair.
func (k *Keystore) GetActiveWallet() (WalletInfo, uint32, error) {
	idx, err := k.readIndex()
	if err != nil {
		return WalletInfo{}, 0, err
	}
	if idx.ActiveWallet == "" {
		return WalletInfo{}, 0, ErrNotFound
	}
	rec, err := k.recordByName(idx.ActiveWallet)
	if err != nil {
		return WalletInfo{}, 0, err
	}
	return k.info(rec), idx.ActiveIndex, nil
}

// SetActiveWallet selects the default (wallet, account index) pair. Fails if
// the wallet is unknown or the index does not exist yet. Requires the write
// lock.
func (k *Keystore) SetActiveWallet(lk *Lock, name string, index uint32) error {
	if lk == nil {
		return fmt.Errorf("write lock required")
	}

	idx, err := k.readIndex()
	if err != nil {
		return err
	}
	id, ok := idx.Wallets[name]
	if !ok {
		return ErrNotFound
	}
	rec, err := k.readRecord(id)
	if err != nil {
		return err
	}
	if index >= rec.Accounts {
		return ErrAccountNotFound
	}

	idx.ActiveWallet = name
	idx.ActiveIndex = index
	return k.writeIndex(idx)
}

// EnsureDefaultWallet creates a machine-only "default" wallet on first run so
// the agent can operate before the user has made any custody decisions.
// Requires the write lock.
func (k *Keystore) EnsureDefaultWallet(lk *Lock) (WalletInfo, error) {
	idx, err := k.readIndex()
	if err != nil {
		return WalletInfo{}, err
	}
	if len(idx.Wallets) > 0 {
		return k.GetWalletByName(idx.ActiveWallet)
	}
	return k.CreateGeneratedWalletMachineOnly(lk, "default")
}

// RotateShares re-splits a generated wallet's secret with fresh randomness and
// re-seals shares 1 and 2, returning a fresh share 3 for offline backup. Any
// previously exported share 3 stops working. Requires the write lock.
//
// The record's share generation is the commit point: the new boxes are sealed
// under next-generation subkeys and only become readable once the record
// update lands. A crash mid-rotation therefore surfaces as ErrDecrypt on the
// half-written shares, never as a silently wrong recombined secret, and the
// old share 3 still recovers the wallet.
func (k *Keystore) RotateShares(lk *Lock, name string, passKey *[32]byte) (string, error) {
	if lk == nil {
		return "", fmt.Errorf("write lock required")
	}

	rec, err := k.recordByName(name)
	if err != nil {
		return "", err
	}
	if rec.Kind != WalletGenerated {
		return "", fmt.Errorf("share rotation applies only to generated wallets")
	}

	secret, err := k.reconstructSecret(rec, passKey)
	if err != nil {
		return "", err
	}
	defer zeroize(secret)

	shares, err := ShamirSplit(secret, 3, 2)
	if err != nil {
		return "", fmt.Errorf("splitting wallet secret: %w", err)
	}
	defer func() {
		for _, s := range shares {
			zeroize(s)
		}
	}()

	machine, err := k.machineSecret()
	if err != nil {
		return "", err
	}

	newGen := rec.ShareGen + 1

	s1Key, err := DeriveSubkey(machine, rec.ID, sharePurpose("share1", newGen))
	if err != nil {
		return "", err
	}
	s1Box, err := Seal(s1Key, shares[0])
	if err != nil {
		return "", fmt.Errorf("sealing share 1: %w", err)
	}

	machineBound := fileExists(filepath.Join(k.walletDir(rec.ID), share2MachineFile))
	var s2Key [32]byte
	if machineBound {
		s2Key, err = DeriveSubkey(machine, rec.ID, sharePurpose("share2", newGen))
	} else {
		if passKey == nil {
			return "", ErrPassphraseRequired
		}
		s2Key, err = DeriveSubkey(*passKey, rec.ID, sharePurpose("share2", newGen))
	}
	if err != nil {
		return "", err
	}
	s2Box, err := Seal(s2Key, shares[1])
	if err != nil {
		return "", fmt.Errorf("sealing share 2: %w", err)
	}

	if err := k.writeBox(rec.ID, share1MachineFile, s1Box); err != nil {
		return "", err
	}
	s2File := share2PassFile
	if machineBound {
		s2File = share2MachineFile
	}
	if err := k.writeBox(rec.ID, s2File, s2Box); err != nil {
		return "", err
	}

	rec.ShareGen = newGen
	if err := k.writeRecord(rec); err != nil {
		return "", err
	}

	k.logger.Info("rotated shares", "wallet", name, "generation", newGen)
	return base64.StdEncoding.EncodeToString(shares[2]), nil
}
