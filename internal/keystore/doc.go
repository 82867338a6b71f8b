// Package keystore manages wallet secrets on disk.
//
// # Layout
//
// Each wallet lives under <config>/wallets/<id>/:
//
//   - wallet.json - metadata: name, kind, account count, cached addresses
//   - share1.machine.json - Shamir share 1 under the machine key
//   - share2.pass.json - Shamir share 2 under the passphrase key
//   - share2.machine.json - share 2 under the machine key (no-passphrase wallets)
//   - imported.secret.json - the whole secret (imported wallets only)
//
// A generated wallet's 32-byte root secret is split 3 ways with a 2-share
// threshold. Share 1 is bound to this machine, share 2 to the passphrase
// (or the machine, for no-passphrase wallets), and share 3 is returned to
// the user exactly once at creation and never persisted. Any two shares
// reconstruct the secret: passphrase + machine covers normal operation,
// share 3 + either other share covers recovery.
//
// # Protection
//
// Symmetric keys are 32-byte AES-256-GCM keys. The passphrase key comes
// from Argon2id over a per-keystore salt stored in the config; the machine
// key is 32 random bytes at <config>/machine_secret.bin. Both are expanded
// per wallet and purpose with HKDF-SHA256 so no two ciphertexts share a
// key. A failed AEAD open surfaces as ErrDecrypt: wrong passphrase and
// tampered material are indistinguishable by construction.
//
// # Concurrency
//
// The keystore directory is shared state between processes. Every mutation
// requires the advisory file lock from AcquireWriteLock; mutating methods
// take the *Lock as their first argument so the requirement is visible in
// the signature. Reads go without the lock and may trail a concurrent
// writer by one snapshot.
//
// Account index assignment only advances under the lock, which is what
// makes indices strictly sequential per wallet with no duplicates across
// processes.
package keystore
