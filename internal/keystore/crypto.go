// ABOUTME: Passphrase key derivation and tamper-evident share encryption.
// ABOUTME: Argon2id for the KDF, HKDF-SHA256 for subkeys, AES-256-GCM for boxes.

package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned when a ciphertext fails authentication: wrong key,
// wrong passphrase, or tampered data. It never silently yields garbage.
var ErrDecrypt = errors.New("decryption failed")

// Argon2id parameters, frozen so a dependency bump cannot silently change the
// derived keys and lock every wallet.
const (
	argonMemoryKiB = 19 * 1024
	argonPasses    = 2
	argonLanes     = 1
	argonKeyLen    = 32
)

// SaltLen is the byte length of the per-keystore passphrase salt.
const SaltLen = 16

// CryptoBox is a versioned AES-GCM envelope as persisted on disk.
type CryptoBox struct {
	V        int    `json:"v"`
	NonceB64 string `json:"nonce_b64"`
	CtB64    string `json:"ct_b64"`
}

// RandomSalt returns a fresh passphrase salt.
func RandomSalt() ([SaltLen]byte, error) {
	var s [SaltLen]byte
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("read random salt: %w", err)
	}
	return s, nil
}

// DerivePassphraseKey stretches a user passphrase into a 32-byte key.
// Deterministic for the same (passphrase, salt) pair; memory-hard.
func DerivePassphraseKey(passphrase string, salt [SaltLen]byte) [32]byte {
	var key [32]byte
	out := argon2.IDKey([]byte(passphrase), salt[:], argonPasses, argonMemoryKiB, argonLanes, argonKeyLen)
	copy(key[:], out)
	return key
}

// DeriveSubkey expands a master key into a wallet- and purpose-scoped subkey,
// so one unlocked key never decrypts material it was not meant for.
func DeriveSubkey(master [32]byte, walletID, purpose string) ([32]byte, error) {
	var out [32]byte
	info := fmt.Sprintf("skiff:%s:%s", walletID, purpose)
	r := hkdf.New(sha256.New, master[:], nil, []byte(info))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// Seal encrypts plaintext under key with AES-256-GCM and a random nonce.
func Seal(key [32]byte, plaintext []byte) (CryptoBox, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return CryptoBox{}, fmt.Errorf("aes init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return CryptoBox{}, fmt.Errorf("gcm init: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return CryptoBox{}, fmt.Errorf("read nonce: %w", err)
	}

	ct := gcm.Seal(nil, nonce, plaintext, nil)
	return CryptoBox{
		V:        1,
		NonceB64: base64.StdEncoding.EncodeToString(nonce),
		CtB64:    base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// Open decrypts a CryptoBox. Returns ErrDecrypt when the key is wrong or the
// box was tampered with.
func Open(key [32]byte, box CryptoBox) ([]byte, error) {
	if box.V != 1 {
		return nil, fmt.Errorf("unsupported crypto box version: %d", box.V)
	}

	nonce, err := base64.StdEncoding.DecodeString(box.NonceB64)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(box.CtB64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm init: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}

	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// zeroize overwrites sensitive bytes in place. Go gives no hard guarantee the
// GC has not copied them, but dropping the plaintext promptly still shrinks
// the exposure window.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
