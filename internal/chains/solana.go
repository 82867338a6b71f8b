// ABOUTME: Solana adapter: ed25519 address derivation and SOL transfers.
// ABOUTME: RPC via gagliardetto/solana-go; amounts are lamports.

package chains

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
)

// Solana talks to one Solana cluster.
type Solana struct {
	client      *rpc.Client
	swapBaseURL string
	http        *http.Client
	logger      *slog.Logger
}

// NewSolana builds an adapter over the given RPC endpoint. swapBaseURL is a
// Jupiter-compatible aggregator; empty disables the swap route.
func NewSolana(rpcURL, swapBaseURL string) *Solana {
	return &Solana{
		client:      rpc.New(rpcURL),
		swapBaseURL: strings.TrimRight(swapBaseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default().With("component", "chains.solana"),
	}
}

func (s *Solana) Name() string { return "solana" }

func (s *Solana) keypair(secret []byte, index uint32) (solana.PrivateKey, error) {
	km, err := DeriveKeyMaterial(secret, s.Name(), index)
	if err != nil {
		return nil, err
	}
	// The 32 derived bytes are the ed25519 seed; solana-go wants the full
	// 64-byte expanded key.
	return solana.PrivateKey(ed25519.NewKeyFromSeed(km[:])), nil
}

// DeriveAddress returns the base58 public key for (secret, index).
func (s *Solana) DeriveAddress(secret []byte, index uint32) (string, error) {
	key, err := s.keypair(secret, index)
	if err != nil {
		return "", err
	}
	defer zeroize(key)
	return key.PublicKey().String(), nil
}

// Balance returns the SOL balance in lamports.
func (s *Solana) Balance(ctx context.Context, address string) (*big.Int, error) {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid Solana address %q: %w", address, err)
	}
	out, err := s.client.GetBalance(ctx, pub, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("fetching Solana balance: %w", err)
	}
	return new(big.Int).SetUint64(out.Value), nil
}

// Send signs and broadcasts a SOL transfer of amount lamports and returns the
// transaction signature.
func (s *Solana) Send(ctx context.Context, secret []byte, index uint32, to string, amount *big.Int) (string, error) {
	toPub, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("invalid Solana recipient %q: %w", to, err)
	}
	if !amount.IsUint64() {
		return "", fmt.Errorf("amount %s overflows lamports", amount)
	}

	wallet, err := s.keypair(secret, index)
	if err != nil {
		return "", err
	}
	defer zeroize(wallet)
	from := wallet.PublicKey()

	recent, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("fetching recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(amount.Uint64(), from, toPub).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return "", fmt.Errorf("building transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if from.Equals(key) {
			return &wallet
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}

	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return "", fmt.Errorf("broadcasting transaction: %w", err)
	}

	s.logger.Info("sent Solana transaction", "from", from.String(), "to", to, "txid", sig.String())
	return sig.String(), nil
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
