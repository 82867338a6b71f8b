// ABOUTME: Token swaps on Solana through a Jupiter-compatible aggregator.
// ABOUTME: Quote, fetch the prebuilt transaction, re-sign locally, broadcast.

package chains

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Swapper is implemented by adapters whose network has a swap route. The
// amount is in the sell asset's base units.
type Swapper interface {
	Swap(ctx context.Context, secret []byte, index uint32, sellAsset, buyAsset string, amount *big.Int, slippageBps uint32) (string, error)
}

// solanaMints maps asset tickers to their canonical mainnet mint addresses.
var solanaMints = map[string]string{
	"sol":  "So11111111111111111111111111111111111111112",
	"usdc": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"usdt": "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// Swap routes a token swap through the configured aggregator. The aggregator
// builds the transaction; we verify nothing beyond the signature we add, so
// the endpoint must be trusted (and is pinned to https by config validation).
func (s *Solana) Swap(ctx context.Context, secret []byte, index uint32, sellAsset, buyAsset string, amount *big.Int, slippageBps uint32) (string, error) {
	if s.swapBaseURL == "" {
		return "", fmt.Errorf("no swap aggregator configured")
	}
	inMint, ok := solanaMints[sellAsset]
	if !ok {
		return "", fmt.Errorf("no Solana mint for asset %q", sellAsset)
	}
	outMint, ok := solanaMints[buyAsset]
	if !ok {
		return "", fmt.Errorf("no Solana mint for asset %q", buyAsset)
	}
	if !amount.IsUint64() {
		return "", fmt.Errorf("amount %s overflows base units", amount)
	}

	wallet, err := s.keypair(secret, index)
	if err != nil {
		return "", err
	}
	defer zeroize(wallet)
	owner := wallet.PublicKey()

	quote, err := s.fetchQuote(ctx, inMint, outMint, amount.Uint64(), slippageBps)
	if err != nil {
		return "", err
	}

	rawTx, err := s.fetchSwapTransaction(ctx, quote, owner)
	if err != nil {
		return "", err
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return "", fmt.Errorf("decoding swap transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if owner.Equals(key) {
			return &wallet
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("signing swap transaction: %w", err)
	}

	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return "", fmt.Errorf("broadcasting swap transaction: %w", err)
	}

	s.logger.Info("swapped on Solana",
		"owner", owner.String(),
		"sell", sellAsset,
		"buy", buyAsset,
		"txid", sig.String(),
	)
	return sig.String(), nil
}

func (s *Solana) fetchQuote(ctx context.Context, inMint, outMint string, amount uint64, slippageBps uint32) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		s.swapBaseURL, inMint, outMint, amount, slippageBps)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching swap quote: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching swap quote: http %d", resp.StatusCode)
	}

	var quote json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("decoding swap quote: %w", err)
	}
	return quote, nil
}

func (s *Solana) fetchSwapTransaction(ctx context.Context, quote json.RawMessage, owner solana.PublicKey) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"quoteResponse":    quote,
		"userPublicKey":    owner.String(),
		"wrapAndUnwrapSol": true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.swapBaseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching swap transaction: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching swap transaction: http %d", resp.StatusCode)
	}

	var out swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding swap transaction: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(out.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decoding swap transaction payload: %w", err)
	}
	return raw, nil
}
